package store

import (
	"encoding/json"
	"sort"
	"time"
)

// EpisodeStatus is the closed enumeration forming the wire contract with
// every consumer of episode state.
type EpisodeStatus string

const (
	EpisodePending    EpisodeStatus = "PENDING"
	EpisodeGenerating EpisodeStatus = "GENERATING"
	EpisodeDraft      EpisodeStatus = "DRAFT"
	EpisodeCompleted  EpisodeStatus = "COMPLETED"
	EpisodeDegraded   EpisodeStatus = "DEGRADED"
	EpisodeFailed     EpisodeStatus = "FAILED"
)

// RunStatus is shared by batches and tasks.
type RunStatus string

const (
	RunIdle    RunStatus = "IDLE"
	RunRunning RunStatus = "RUNNING"
	RunPaused  RunStatus = "PAUSED"
	RunDone    RunStatus = "DONE"
	RunFailed  RunStatus = "FAILED"
)

// Project is the top-level unit of work. Each project owns one narrative
// state, one facts ledger, and at most one active batch.
type Project struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Premise   string    `json:"premise,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Episode is one generated installment.
type Episode struct {
	ProjectID string        `json:"project_id"`
	Index     int           `json:"index"`
	Status    EpisodeStatus `json:"status"`
	Content   string        `json:"content,omitempty"`
	Reason    string        `json:"reason,omitempty"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// EpisodeSet is a set of episode indexes that serializes as a sorted array.
type EpisodeSet map[int]struct{}

func (s EpisodeSet) Contains(i int) bool {
	_, ok := s[i]
	return ok
}

func (s EpisodeSet) Add(i int) { s[i] = struct{}{} }

func (s EpisodeSet) Sorted() []int {
	out := make([]int, 0, len(s))
	for i := range s {
		out = append(out, i)
	}
	sort.Ints(out)
	return out
}

func (s EpisodeSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Sorted())
}

func (s *EpisodeSet) UnmarshalJSON(data []byte) error {
	var items []int
	if err := json.Unmarshal(data, &items); err != nil {
		return err
	}
	*s = make(EpisodeSet, len(items))
	for _, i := range items {
		(*s)[i] = struct{}{}
	}
	return nil
}

// BatchState tracks one batch run over an episode range. Persisted after
// every transition; never memory-only.
type BatchState struct {
	ProjectID      string     `json:"project_id"`
	StartEpisode   int        `json:"start_episode"`
	EndEpisode     int        `json:"end_episode"`
	CurrentEpisode int        `json:"current_episode"`
	Completed      EpisodeSet `json:"completed"`
	Failed         EpisodeSet `json:"failed"`
	Status         RunStatus  `json:"status"`
	HardFailCount  int        `json:"hard_fail_count"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// RangeSize is the number of episodes in the batch range.
func (b *BatchState) RangeSize() int {
	return b.EndEpisode - b.StartEpisode + 1
}

// Progress is always reported from the completed set, never estimated from
// in-flight state.
func (b *BatchState) Progress() float64 {
	size := b.RangeSize()
	if size <= 0 {
		return 0
	}
	return float64(len(b.Completed)) / float64(size)
}

// GenerationTask is the top-level resumable-run marker that observer surfaces
// poll.
type GenerationTask struct {
	ProjectID      string    `json:"project_id"`
	Status         RunStatus `json:"status"`
	CurrentEpisode int       `json:"current_episode"`
	Step           string    `json:"step,omitempty"`
	UpdatedAt      time.Time `json:"updated_at"`
}
