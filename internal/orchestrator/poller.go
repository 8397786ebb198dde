package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/vampirenirmal/serialist/internal/store"
)

// Poller reads persisted task/batch state on a fixed interval and hands views
// to read-only observers. Any number of observers may poll the same persisted
// state concurrently; none of them may mutate it.
type Poller struct {
	store    *store.Store
	interval time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	watches map[string]*Watch
}

func NewPoller(st *store.Store, interval time.Duration, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Poller{
		store:    st,
		interval: interval,
		logger:   logger.With("component", "poller"),
		watches:  make(map[string]*Watch),
	}
}

// Watch is the caller-owned handle for one polling loop. It is returned from
// Poller.Watch; there are no ambient process-wide timers.
type Watch struct {
	ProjectID string

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// Stop ends the polling loop. Stopping twice is a no-op.
func (w *Watch) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
}

// Done is closed once the loop has exited.
func (w *Watch) Done() <-chan struct{} { return w.done }

// Watch starts polling a project and invokes onUpdate whenever the observable
// view changes. Starting a watch that is already running returns the existing
// handle: polling start is idempotent. The first reconcile runs immediately;
// if it decides polling is unnecessary (DONE, FAILED, IDLE) the loop exits on
// its own.
func (p *Poller) Watch(ctx context.Context, projectID string, onUpdate func(View)) *Watch {
	p.mu.Lock()
	defer p.mu.Unlock()

	if w, ok := p.watches[projectID]; ok {
		return w
	}

	w := &Watch{
		ProjectID: projectID,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	p.watches[projectID] = w

	go p.run(ctx, w, onUpdate)
	return w
}

func (p *Poller) run(ctx context.Context, w *Watch, onUpdate func(View)) {
	defer func() {
		p.mu.Lock()
		delete(p.watches, w.ProjectID)
		p.mu.Unlock()
		close(w.done)
	}()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	var last *View
	for {
		view, shouldPoll := p.observe(ctx, w.ProjectID)
		if last == nil || last.Changed(view) {
			onUpdate(view)
		}
		last = &view

		if !shouldPoll {
			p.logger.Debug("polling stopped by reconcile",
				"project_id", w.ProjectID,
				"task_status", view.TaskStatus)
			return
		}

		select {
		case <-ticker.C:
		case <-w.stop:
			return
		case <-ctx.Done():
			return
		}
	}
}

// observe performs one read-and-reconcile cycle.
func (p *Poller) observe(ctx context.Context, projectID string) (View, bool) {
	task, err := p.store.GetTask(ctx, projectID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		p.logger.Warn("poll read failed", "project_id", projectID, "error", err)
		// Keep polling through transient read failures.
		return View{ProjectID: projectID, TaskStatus: store.RunIdle}, true
	}
	var batch *store.BatchState
	if task != nil {
		batch, err = p.store.GetBatch(ctx, projectID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			p.logger.Warn("poll read failed", "project_id", projectID, "error", err)
			return View{ProjectID: projectID, TaskStatus: store.RunIdle}, true
		}
	}

	view, shouldPoll := Reconcile(nil, task, batch)
	if view.ProjectID == "" {
		view.ProjectID = projectID
	}
	return view, shouldPoll
}
