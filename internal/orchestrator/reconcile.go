package orchestrator

import (
	"time"

	"github.com/vampirenirmal/serialist/internal/store"
)

// View is the read-only snapshot an observer holds of a project's generation
// run. Progress comes from the completed set only, never from in-flight state.
type View struct {
	ProjectID      string          `json:"project_id"`
	TaskStatus     store.RunStatus `json:"task_status"`
	BatchStatus    store.RunStatus `json:"batch_status"`
	Step           string          `json:"step,omitempty"`
	CurrentEpisode int             `json:"current_episode"`
	Completed      int             `json:"completed"`
	Failed         int             `json:"failed"`
	RangeSize      int             `json:"range_size"`
	Progress       float64         `json:"progress"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// Reconcile is the single cold-start resume decision, shared by every way an
// observer can attach: process start, reload, re-open, refocus. It folds the
// freshly read persisted state into a view and decides whether polling should
// run. last may be nil on first attach; a nil task means no run has ever
// started.
func Reconcile(last *View, task *store.GenerationTask, batch *store.BatchState) (View, bool) {
	if task == nil {
		view := View{TaskStatus: store.RunIdle}
		if last != nil {
			view.ProjectID = last.ProjectID
		}
		return view, false
	}

	view := View{
		ProjectID:      task.ProjectID,
		TaskStatus:     task.Status,
		Step:           task.Step,
		CurrentEpisode: task.CurrentEpisode,
		UpdatedAt:      task.UpdatedAt,
	}
	if batch != nil {
		view.BatchStatus = batch.Status
		view.Completed = len(batch.Completed)
		view.Failed = len(batch.Failed)
		view.RangeSize = batch.RangeSize()
		view.Progress = batch.Progress()
	}

	shouldPoll := task.Status == store.RunRunning || task.Status == store.RunPaused
	return view, shouldPoll
}

// Changed reports whether two views differ in anything an observer displays.
func (v View) Changed(other View) bool {
	return v.TaskStatus != other.TaskStatus ||
		v.BatchStatus != other.BatchStatus ||
		v.Step != other.Step ||
		v.CurrentEpisode != other.CurrentEpisode ||
		v.Completed != other.Completed ||
		v.Failed != other.Failed
}
