package contract

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ErrInvalidProposal marks a malformed or policy-violating upstream reveal
// proposal. The planner throws instead of substituting a default: a synthetic
// contract would silently corrupt every downstream consistency check for the
// rest of the run.
var ErrInvalidProposal = errors.New("invalid reveal proposal")

// lookbackWindow is how many recent reveals the no-repeat policy examines.
const lookbackWindow = 3

// Proposal is the upstream suggestion for the episode's reveal, produced by
// the generative collaborator before prose is written.
type Proposal struct {
	Type    RevealType  `json:"type" validate:"required,oneof=FACT INFO RELATION IDENTITY"`
	Scope   RevealScope `json:"scope" validate:"required,oneof=PROTAGONIST ANTAGONIST WORLD"`
	Summary string      `json:"summary" validate:"required,min=4"`
}

// RunInfo describes the batch run a contract is planned within, used for
// cadence scheduling.
type RunInfo struct {
	StartEpisode int
	EndEpisode   int
}

// spikeEpisode designates the single high-intensity episode of a run: the
// midpoint of the range.
func (r RunInfo) spikeEpisode() int {
	if r.EndEpisode <= r.StartEpisode {
		return 0
	}
	return r.StartEpisode + (r.EndEpisode-r.StartEpisode)/2
}

// Planner builds structure contracts. It holds no per-episode state; reveal
// history comes in per call.
type Planner struct {
	validate *validator.Validate
	logger   *slog.Logger
}

func NewPlanner(logger *slog.Logger) *Planner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Planner{
		validate: validator.New(),
		logger:   logger.With("component", "planner"),
	}
}

// Plan commits to the structural beats of one episode.
//
// Episode 1 is the bootstrap: no reveal is required and no proposal is
// consulted. From episode 2 on a reveal is mandatory, and the upstream
// proposal must pass the structural gate, the no-repeat policy, and pressure
// binding; any failure returns an error wrapping ErrInvalidProposal.
func (p *Planner) Plan(episode int, run RunInfo, history []RevealRecord, proposal *Proposal) (*StructureContract, error) {
	if episode <= 1 {
		return &StructureContract{
			Episode:  episode,
			MustHave: MustHave{NewReveal: RevealPlan{Required: false}},
		}, nil
	}

	if proposal == nil {
		return nil, fmt.Errorf("episode %d: %w: no proposal supplied", episode, ErrInvalidProposal)
	}
	if err := p.validate.Struct(proposal); err != nil {
		return nil, fmt.Errorf("episode %d: %w: %v", episode, ErrInvalidProposal, err)
	}

	window := recentReveals(history, lookbackWindow)

	key := NoRepeatKey(proposal.Summary)
	for _, rec := range window {
		if rec.NoRepeatKey == key {
			return nil, fmt.Errorf("episode %d: %w: summary %q duplicates the reveal of episode %d",
				episode, ErrInvalidProposal, proposal.Summary, rec.Episode)
		}
	}

	if overused(window, proposal.Type, proposal.Scope) {
		return nil, fmt.Errorf("episode %d: %w: reveal type %s/%s was used throughout the last %d episodes; vary the reveal",
			episode, ErrInvalidProposal, proposal.Type, proposal.Scope, len(window))
	}

	cadence := CadenceNormal
	if episode == run.spikeEpisode() {
		cadence = CadenceSpike
	}

	plan := RevealPlan{
		Required:       true,
		Type:           proposal.Type,
		Scope:          proposal.Scope,
		Summary:        proposal.Summary,
		CadenceTag:     cadence,
		NoRepeatKey:    key,
		PressureVector: pressureVector(proposal.Type, proposal.Scope),
		PressureHint:   pressureHint(proposal, cadence),
	}

	p.logger.Debug("contract planned",
		"episode", episode,
		"type", plan.Type,
		"scope", plan.Scope,
		"cadence", plan.CadenceTag)

	return &StructureContract{
		Episode:  episode,
		MustHave: MustHave{NewReveal: plan},
		Optional: Optional{ConflictProgressed: true, CostPaid: cadence == CadenceSpike},
	}, nil
}

// recentReveals returns the last n records, oldest first.
func recentReveals(history []RevealRecord, n int) []RevealRecord {
	if len(history) <= n {
		return history
	}
	return history[len(history)-n:]
}

// overused reports whether every reveal in a full lookback window already used
// this type/scope pair. A partially filled window never blocks.
func overused(window []RevealRecord, t RevealType, s RevealScope) bool {
	if len(window) < lookbackWindow {
		return false
	}
	for _, rec := range window {
		if rec.Type != t || rec.Scope != s {
			return false
		}
	}
	return true
}

// NoRepeatKey derives a deduplication fingerprint from a reveal summary:
// lowercase significant tokens, sorted, joined. Near-duplicate phrasings of
// the same reveal collapse to the same key.
func NoRepeatKey(summary string) string {
	fields := strings.Fields(strings.ToLower(summary))
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, ".,;:!?\"'()")
		switch f {
		case "the", "a", "an", "is", "was", "are", "of", "to", "in", "that", "and":
			continue
		}
		if len(f) >= 3 {
			tokens = append(tokens, f)
		}
	}
	sort.Strings(tokens)
	return strings.Join(tokens, "|")
}

// pressureVector binds the reveal causally to an escalation of antagonist
// pressure, so the reveal cannot land as decoration.
func pressureVector(t RevealType, s RevealScope) string {
	switch s {
	case ScopeAntagonist:
		return "antagonist_initiative"
	case ScopeProtagonist:
		if t == RevealIdentity || t == RevealRelation {
			return "personal_stakes"
		}
		return "direct_threat"
	default:
		return "world_constraint"
	}
}

func pressureHint(p *Proposal, cadence CadenceTag) string {
	hint := fmt.Sprintf("the reveal (%s) must be forced into the open by the antagonist's move, not volunteered", strings.ToLower(string(p.Type)))
	if cadence == CadenceSpike {
		hint += "; this is the run's high-intensity episode, escalate hard"
	}
	return hint
}
