// Package generate defines the boundary to the generative content step. The
// engine treats the step as opaque, slow, and fallible: it supplies context
// and a structure contract, and receives a draft plus proposed state changes.
package generate

import (
	"context"
	"errors"

	"github.com/vampirenirmal/serialist/internal/contract"
	"github.com/vampirenirmal/serialist/internal/narrative"
)

// ErrTransient marks upstream failures that are eligible for bounded retry:
// call failures, timeouts, malformed responses.
var ErrTransient = errors.New("transient generation failure")

// Request carries everything the content step needs for one episode attempt.
type Request struct {
	ProjectID       string
	ProjectTitle    string
	Premise         string
	EpisodeIndex    int
	Contract        *contract.StructureContract
	Slots           []contract.Slot
	State           *narrative.State
	RecentFacts     []narrative.FactsRecord
	UserInstruction string
}

// Result is what one attempt produced. The delta and facts are proposals; the
// validators decide whether they are accepted.
type Result struct {
	Draft     string                     `json:"draft"`
	Delta     *narrative.StateDelta      `json:"state_delta,omitempty"`
	Facts     *narrative.EpisodeFacts    `json:"facts,omitempty"`
	Alignment *narrative.AlignmentResult `json:"alignment,omitempty"`
}

// ProposalRequest asks the step to suggest the episode's reveal before any
// prose exists. The planner gates the answer.
type ProposalRequest struct {
	ProjectID    string
	EpisodeIndex int
	State        *narrative.State
	RecentFacts  []narrative.FactsRecord
	Avoid        []contract.RevealRecord
}

// Generator is the generative content step.
type Generator interface {
	// ProposeReveal suggests the reveal for an upcoming episode.
	ProposeReveal(ctx context.Context, req ProposalRequest) (*contract.Proposal, error)

	// GenerateEpisode produces the draft and proposed state changes for one
	// episode, slot-filling against the committed contract.
	GenerateEpisode(ctx context.Context, req Request) (*Result, error)
}
