package orchestrator

import (
	"testing"

	"github.com/vampirenirmal/serialist/internal/store"
)

func TestReconcileNilTaskIsIdle(t *testing.T) {
	view, poll := Reconcile(nil, nil, nil)
	if view.TaskStatus != store.RunIdle {
		t.Errorf("task status = %s, want IDLE", view.TaskStatus)
	}
	if poll {
		t.Error("no run on record: polling must not start")
	}

	// A prior view keeps its project id when the task disappears.
	last := &View{ProjectID: "p1"}
	view, _ = Reconcile(last, nil, nil)
	if view.ProjectID != "p1" {
		t.Errorf("project id = %q, want p1", view.ProjectID)
	}
}

func TestReconcilePollDecision(t *testing.T) {
	cases := []struct {
		status store.RunStatus
		poll   bool
	}{
		{store.RunRunning, true},
		{store.RunPaused, true},
		{store.RunDone, false},
		{store.RunFailed, false},
		{store.RunIdle, false},
	}
	for _, tc := range cases {
		t.Run(string(tc.status), func(t *testing.T) {
			_, poll := Reconcile(nil, &store.GenerationTask{ProjectID: "p1", Status: tc.status}, nil)
			if poll != tc.poll {
				t.Errorf("shouldPoll = %v, want %v", poll, tc.poll)
			}
		})
	}
}

func TestReconcileProgressFromCompletedSetOnly(t *testing.T) {
	batch := &store.BatchState{
		ProjectID:      "p1",
		StartEpisode:   1,
		EndEpisode:     10,
		CurrentEpisode: 5,
		Completed:      store.EpisodeSet{1: {}, 2: {}, 3: {}, 4: {}},
		Failed:         store.EpisodeSet{},
		Status:         store.RunRunning,
	}
	task := &store.GenerationTask{
		ProjectID:      "p1",
		Status:         store.RunRunning,
		CurrentEpisode: 5,
		Step:           "generating",
	}

	view, poll := Reconcile(nil, task, batch)
	if !poll {
		t.Error("running batch must keep polling")
	}
	// The in-flight episode 5 contributes nothing to progress.
	if view.Progress != 0.4 {
		t.Errorf("progress = %v, want 0.4", view.Progress)
	}
	if view.Completed != 4 || view.RangeSize != 10 {
		t.Errorf("completed/range = %d/%d, want 4/10", view.Completed, view.RangeSize)
	}
	if view.CurrentEpisode != 5 || view.Step != "generating" {
		t.Errorf("current/step = %d/%q", view.CurrentEpisode, view.Step)
	}
}

func TestViewChanged(t *testing.T) {
	base := View{TaskStatus: store.RunRunning, CurrentEpisode: 3, Completed: 2}

	if base.Changed(base) {
		t.Error("identical views must not report a change")
	}

	moved := base
	moved.Completed = 3
	if !base.Changed(moved) {
		t.Error("completed-count change must be observable")
	}

	stamped := base
	stamped.Progress = 0.99
	if base.Changed(stamped) {
		t.Error("progress is derived; it alone must not trigger an update")
	}
}
