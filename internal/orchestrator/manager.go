package orchestrator

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// RunSpec names one project batch to drive.
type RunSpec struct {
	ProjectID    string
	StartEpisode int
	EndEpisode   int
}

// Manager drives batches for independent projects concurrently. Episodes
// within a project stay strictly sequential; projects share no mutable state,
// so they may overlap freely.
type Manager struct {
	runner *Runner
}

func NewManager(runner *Runner) *Manager {
	return &Manager{runner: runner}
}

// RunAll starts one batch per spec and waits for all of them. The first
// terminal error cancels the wait; batches already in flight still settle
// their own persisted state through the runner.
func (m *Manager) RunAll(ctx context.Context, specs []RunSpec) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, spec := range specs {
		spec := spec
		g.Go(func() error {
			h, err := m.runner.Start(ctx, spec.ProjectID, spec.StartEpisode, spec.EndEpisode)
			if err != nil {
				return err
			}
			return h.Wait(ctx)
		})
	}
	return g.Wait()
}
