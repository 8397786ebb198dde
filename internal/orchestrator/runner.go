// Package orchestrator drives the episode-by-episode generation loop: it
// plans a structure contract, calls the generative step, gates the proposed
// state changes through the validators, merges accepted deltas, and records
// progress durably after every transition so any crash or interruption can be
// resumed without losing or duplicating work.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vampirenirmal/serialist/internal/contract"
	"github.com/vampirenirmal/serialist/internal/generate"
	"github.com/vampirenirmal/serialist/internal/narrative"
	"github.com/vampirenirmal/serialist/internal/store"
)

var (
	// ErrAlreadyRunning rejects a duplicate start against a project whose
	// batch is already being driven. Two drivers would double-generate the
	// same episode index.
	ErrAlreadyRunning = errors.New("a batch is already running for this project")

	// ErrNotResumable is returned when resume is called and the persisted
	// state is not RUNNING or PAUSED.
	ErrNotResumable = errors.New("batch is not in a resumable state")
)

// control values for the in-flight batch loop.
const (
	controlRun int32 = iota
	controlPause
	controlAbort
)

// Config bounds the runner's retry and breaker behavior.
type Config struct {
	// MaxAttempts is the attempt bound per episode, including the first.
	MaxAttempts int
	// HardFailLimit is how many consecutive hard-failed episodes trip the
	// batch circuit breaker.
	HardFailLimit int
	// RetryDelay seeds the backoff between attempts.
	RetryDelay time.Duration
	// AcceptDegraded allows an episode whose delta validated but whose
	// facts failed continuity on the final attempt to land as DEGRADED
	// instead of FAILED.
	AcceptDegraded bool
}

func DefaultConfig() Config {
	return Config{
		MaxAttempts:   3,
		HardFailLimit: 3,
		RetryDelay:    500 * time.Millisecond,
	}
}

// Runner owns the generation loop for any number of projects. Episodes within
// one project run strictly sequentially; projects are independent.
type Runner struct {
	store   *store.Store
	gen     generate.Generator
	planner *contract.Planner
	facts   *narrative.FactsValidator
	logger  *slog.Logger
	cfg     Config

	mu          sync.Mutex
	active      map[string]*Handle
	refinements map[string]context.CancelFunc
}

func NewRunner(st *store.Store, gen generate.Generator, logger *slog.Logger, cfg Config) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxAttempts <= 0 {
		cfg = DefaultConfig()
	}
	return &Runner{
		store:       st,
		gen:         gen,
		planner:     contract.NewPlanner(logger),
		facts:       narrative.NewFactsValidator(logger),
		logger:      logger.With("component", "runner"),
		cfg:         cfg,
		active:      make(map[string]*Handle),
		refinements: make(map[string]context.CancelFunc),
	}
}

// Handle is the caller-owned control surface for one running batch. There are
// no ambient process-wide run registries; whoever starts a batch holds its
// handle.
type Handle struct {
	ProjectID string

	control atomic.Int32
	done    chan struct{}

	mu  sync.Mutex
	err error
}

// Pause stops dispatching new episodes. The episode already in flight
// finishes or fails naturally.
func (h *Handle) Pause() { h.control.CompareAndSwap(controlRun, controlPause) }

// Abort is a hard stop: the batch is marked FAILED and no rollback of
// already-completed episodes happens. The in-flight attempt is not preempted.
func (h *Handle) Abort() { h.control.Store(controlAbort) }

// Done is closed when the batch loop has exited for any reason.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Err reports the terminal error of the loop, if any, once Done is closed.
func (h *Handle) Err() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.err
}

// Wait blocks until the loop exits or ctx is cancelled.
func (h *Handle) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return h.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Handle) finish(err error) {
	h.mu.Lock()
	h.err = err
	h.mu.Unlock()
	close(h.done)
}

// Start begins a batch over [startEpisode, endEpisode]. It rejects a start
// while the project's batch is already RUNNING, in memory or on disk: there
// is exactly one authoritative driver per project.
func (r *Runner) Start(ctx context.Context, projectID string, startEpisode, endEpisode int) (*Handle, error) {
	if endEpisode < startEpisode {
		return nil, fmt.Errorf("invalid range [%d,%d]", startEpisode, endEpisode)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.active[projectID]; ok {
		return nil, ErrAlreadyRunning
	}
	if task, err := r.store.GetTask(ctx, projectID); err == nil && task.Status == store.RunRunning {
		return nil, ErrAlreadyRunning
	}
	if prev, err := r.store.GetBatch(ctx, projectID); err == nil &&
		(prev.Status == store.RunRunning || prev.Status == store.RunPaused) {
		return nil, fmt.Errorf("%w: previous batch is %s; resume or abort it first", ErrAlreadyRunning, prev.Status)
	}

	batch := &store.BatchState{
		ProjectID:      projectID,
		StartEpisode:   startEpisode,
		EndEpisode:     endEpisode,
		CurrentEpisode: startEpisode,
		Completed:      make(store.EpisodeSet),
		Failed:         make(store.EpisodeSet),
		Status:         store.RunRunning,
	}
	for ep := startEpisode; ep <= endEpisode; ep++ {
		// Episodes completed by an earlier batch keep their prose; the new
		// batch inherits them instead of resetting them.
		existing, err := r.store.GetEpisode(ctx, projectID, ep)
		if err == nil && existing.Status == store.EpisodeCompleted {
			batch.Completed.Add(ep)
			continue
		}
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		if err := r.store.SaveEpisode(ctx, &store.Episode{
			ProjectID: projectID, Index: ep, Status: store.EpisodePending,
		}); err != nil {
			return nil, err
		}
	}
	if err := r.store.SaveBatch(ctx, batch); err != nil {
		return nil, err
	}
	if err := r.saveTask(ctx, projectID, store.RunRunning, startEpisode, "starting"); err != nil {
		return nil, err
	}

	return r.launch(projectID, batch), nil
}

// Resume continues a previously persisted batch from its CurrentEpisode.
// Already-COMPLETED episodes are never regenerated.
func (r *Runner) Resume(ctx context.Context, projectID string) (*Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.active[projectID]; ok {
		return nil, ErrAlreadyRunning
	}

	batch, err := r.store.GetBatch(ctx, projectID)
	if err != nil {
		return nil, err
	}
	// RUNNING here means the previous driver died mid-run; both states
	// resume.
	if batch.Status != store.RunPaused && batch.Status != store.RunRunning {
		return nil, fmt.Errorf("%w: status %s", ErrNotResumable, batch.Status)
	}

	batch, err = r.store.UpdateBatch(ctx, projectID, func(b *store.BatchState) {
		b.Status = store.RunRunning
	})
	if err != nil {
		return nil, err
	}
	if err := r.saveTask(ctx, projectID, store.RunRunning, batch.CurrentEpisode, "resuming"); err != nil {
		return nil, err
	}

	return r.launch(projectID, batch), nil
}

// launch must be called with r.mu held.
func (r *Runner) launch(projectID string, batch *store.BatchState) *Handle {
	h := &Handle{ProjectID: projectID, done: make(chan struct{})}
	r.active[projectID] = h

	go func() {
		// The loop owns its own lifetime; cancellation is cooperative
		// through the handle, at batch granularity.
		err := r.runBatch(context.Background(), h, batch)
		r.mu.Lock()
		delete(r.active, projectID)
		r.mu.Unlock()
		h.finish(err)
	}()
	return h
}

func (r *Runner) runBatch(ctx context.Context, h *Handle, batch *store.BatchState) error {
	projectID := batch.ProjectID
	logger := r.logger.With("project_id", projectID)
	breaker := NewBreaker(r.cfg.HardFailLimit, logger)
	// Carry the consecutive-failure count across pause/resume and crashes.
	breaker.consecutive = batch.HardFailCount

	for ep := batch.CurrentEpisode; ep <= batch.EndEpisode; ep++ {
		switch h.control.Load() {
		case controlAbort:
			logger.Warn("batch aborted", "episode", ep)
			if _, err := r.store.UpdateBatch(ctx, projectID, func(b *store.BatchState) {
				b.Status = store.RunFailed
			}); err != nil {
				return err
			}
			return r.saveTask(ctx, projectID, store.RunFailed, ep, "aborted")
		case controlPause:
			logger.Info("batch paused", "episode", ep)
			if _, err := r.store.UpdateBatch(ctx, projectID, func(b *store.BatchState) {
				b.Status = store.RunPaused
			}); err != nil {
				return err
			}
			return r.saveTask(ctx, projectID, store.RunPaused, ep, "paused")
		}

		// Re-read the persisted batch while recording the dispatch position:
		// a human edit may have completed this episode since the last write,
		// and that completion must win over regeneration.
		fresh, err := r.store.UpdateBatch(ctx, projectID, func(b *store.BatchState) {
			b.CurrentEpisode = ep
		})
		if err != nil {
			return err
		}
		batch = fresh
		if batch.Completed.Contains(ep) {
			continue
		}

		if err := r.saveTask(ctx, projectID, store.RunRunning, ep, "generating"); err != nil {
			return err
		}

		err = r.runEpisode(ctx, batch, ep)
		if err != nil {
			logger.Error("episode failed", "episode", ep, "error", err)
			if err := r.store.SaveEpisode(ctx, &store.Episode{
				ProjectID: projectID, Index: ep,
				Status: store.EpisodeFailed, Reason: err.Error(),
			}); err != nil {
				return err
			}
			tripped := breaker.RecordFailure()
			if _, err := r.store.UpdateBatch(ctx, projectID, func(b *store.BatchState) {
				b.Failed.Add(ep)
				b.HardFailCount = breaker.Consecutive()
				if tripped {
					b.Status = store.RunFailed
				}
			}); err != nil {
				return err
			}
			if tripped {
				if err := r.saveTask(ctx, projectID, store.RunFailed, ep, "circuit breaker tripped"); err != nil {
					return err
				}
				return fmt.Errorf("%w: %d consecutive episode failures", ErrCircuitOpen, breaker.Consecutive())
			}
			continue
		}

		breaker.RecordSuccess()
		if _, err := r.store.UpdateBatch(ctx, projectID, func(b *store.BatchState) {
			b.HardFailCount = 0
		}); err != nil {
			return err
		}
	}

	final, err := r.store.UpdateBatch(ctx, projectID, func(b *store.BatchState) {
		b.Status = store.RunDone
	})
	if err != nil {
		return err
	}
	logger.Info("batch done",
		"completed", len(final.Completed),
		"failed", len(final.Failed),
		"range_size", final.RangeSize())
	return r.saveTask(ctx, projectID, store.RunDone, final.EndEpisode, "done")
}

// runEpisode drives one episode through plan, generate, validate, merge,
// signal, complete. Attempts are bounded; validator rejections count as
// attempt failures, never as batch failures.
func (r *Runner) runEpisode(ctx context.Context, batch *store.BatchState, ep int) error {
	projectID := batch.ProjectID
	logger := r.logger.With("project_id", projectID, "episode", ep)

	if err := r.store.SaveEpisode(ctx, &store.Episode{
		ProjectID: projectID, Index: ep, Status: store.EpisodeGenerating,
	}); err != nil {
		return err
	}

	project, err := r.store.GetProject(ctx, projectID)
	if err != nil {
		return err
	}

	policy := RetryPolicy{
		MaxAttempts:  r.cfg.MaxAttempts,
		InitialDelay: r.cfg.RetryDelay,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
		ShouldRetry: func(err error) bool {
			return !errors.Is(err, context.Canceled)
		},
	}

	var degraded *acceptedAttempt
	attemptErr := policy.Do(ctx, logger, fmt.Sprintf("episode %d", ep), func(attempt int) error {
		err := r.attemptEpisode(ctx, project, batch, ep, attempt)
		if err != nil {
			var cont *continuityError
			if r.cfg.AcceptDegraded && attempt == policy.MaxAttempts && errors.As(err, &cont) {
				degraded = cont.attempt
			}
		}
		return err
	})

	if attemptErr == nil {
		return nil
	}

	if degraded != nil {
		logger.Warn("accepting episode under relaxed bar", "episode", ep)
		return r.acceptDegraded(ctx, projectID, ep, degraded)
	}
	return attemptErr
}

// acceptedAttempt carries the pieces of a generation attempt that survived
// delta validation, for the degraded-acceptance path.
type acceptedAttempt struct {
	result *generate.Result
	before *narrative.State
	plan   *contract.StructureContract
}

// continuityError distinguishes a facts-continuity rejection whose delta
// already validated.
type continuityError struct {
	reasons []string
	attempt *acceptedAttempt
}

func (e *continuityError) Error() string {
	return "facts rejected: " + strings.Join(e.reasons, "; ")
}

func (r *Runner) attemptEpisode(ctx context.Context, project *store.Project, batch *store.BatchState, ep, attempt int) error {
	projectID := project.ID
	logger := r.logger.With("project_id", projectID, "episode", ep, "attempt", attempt)

	state, err := r.store.GetState(ctx, projectID)
	if errors.Is(err, store.ErrNotFound) {
		state = narrative.NewState(nil)
	} else if err != nil {
		return err
	}
	factsHistory, err := r.store.FactsHistory(ctx, projectID)
	if err != nil {
		return err
	}
	revealHistory, err := r.store.RevealHistory(ctx, projectID)
	if err != nil {
		return err
	}

	var proposal *contract.Proposal
	if ep > 1 {
		proposal, err = r.gen.ProposeReveal(ctx, generate.ProposalRequest{
			ProjectID:    projectID,
			EpisodeIndex: ep,
			State:        state,
			RecentFacts:  recentFacts(factsHistory, 2),
			Avoid:        revealHistory,
		})
		if err != nil {
			return fmt.Errorf("proposing reveal: %w", err)
		}
	}

	run := contract.RunInfo{StartEpisode: batch.StartEpisode, EndEpisode: batch.EndEpisode}
	plan, err := r.planner.Plan(ep, run, revealHistory, proposal)
	if err != nil {
		// Fail loud: a synthetic contract would corrupt every later
		// consistency check. The attempt dies; the policy may retry with
		// a fresh proposal.
		return err
	}

	result, err := r.gen.GenerateEpisode(ctx, generate.Request{
		ProjectID:    projectID,
		ProjectTitle: project.Title,
		Premise:      project.Premise,
		EpisodeIndex: ep,
		Contract:     plan,
		Slots:        contract.BuildSlots(plan),
		State:        state,
		RecentFacts:  recentFacts(factsHistory, 2),
	})
	if err != nil {
		return err
	}

	deltaRes := narrative.ValidateDelta(result.Delta, state, ep)
	if !deltaRes.Valid {
		return fmt.Errorf("state delta rejected: %s", strings.Join(deltaRes.Errors, "; "))
	}
	factsRes := r.facts.Validate(result.Facts, ep, factsHistory)
	if !factsRes.Valid {
		return &continuityError{
			reasons: factsRes.Errors,
			attempt: &acceptedAttempt{result: result, before: state, plan: plan},
		}
	}

	next := narrative.Merge(state, result.Delta)
	if err := r.persistAccepted(ctx, projectID, ep, plan, result, next); err != nil {
		return err
	}

	signals := narrative.ComputeSignals(narrative.SignalInput{
		EpisodeIndex: ep,
		Delta:        result.Delta,
		Before:       state,
		After:        next,
		Facts:        result.Facts,
		Alignment:    result.Alignment,
		History:      factsHistory,
	})
	if err := r.store.SaveSignals(ctx, projectID, ep, signals); err != nil {
		return err
	}

	if err := r.store.CompleteEpisode(ctx, projectID, ep, result.Draft); err != nil {
		return err
	}

	logger.Info("episode accepted", "signals", signals)
	return nil
}

func (r *Runner) persistAccepted(ctx context.Context, projectID string, ep int, plan *contract.StructureContract, result *generate.Result, next *narrative.State) error {
	if err := r.store.SaveState(ctx, projectID, next); err != nil {
		return err
	}
	if result.Facts != nil {
		if err := r.store.AppendFacts(ctx, projectID, narrative.FactsRecord{
			EpisodeIndex: ep,
			Facts:        *result.Facts,
		}); err != nil {
			return err
		}
	}
	reveal := plan.MustHave.NewReveal
	if reveal.Required {
		if err := r.store.AppendReveal(ctx, projectID, contract.RevealRecord{
			Episode:     ep,
			Type:        reveal.Type,
			Scope:       reveal.Scope,
			NoRepeatKey: reveal.NoRepeatKey,
		}); err != nil {
			return err
		}
	}
	return nil
}

// acceptDegraded lands the final attempt as DEGRADED: the validated delta is
// merged and the facts appended, but the episode never joins the completed
// set and stays eligible for regeneration.
func (r *Runner) acceptDegraded(ctx context.Context, projectID string, ep int, a *acceptedAttempt) error {
	next := narrative.Merge(a.before, a.result.Delta)
	if err := r.persistAccepted(ctx, projectID, ep, a.plan, a.result, next); err != nil {
		return err
	}
	return r.store.SaveEpisode(ctx, &store.Episode{
		ProjectID: projectID,
		Index:     ep,
		Status:    store.EpisodeDegraded,
		Content:   a.result.Draft,
		Reason:    "accepted under relaxed continuity bar",
	})
}

// SaveHumanEdit persists a human edit and force-upgrades the episode to
// COMPLETED, folding it into the batch's completed set. Any queued background
// refinement for that index is cancelled: a human decision always overrides
// pending automated work.
func (r *Runner) SaveHumanEdit(ctx context.Context, projectID string, ep int, content string) error {
	if err := r.store.CompleteEpisode(ctx, projectID, ep, content); err != nil {
		return err
	}

	r.mu.Lock()
	key := refinementKey(projectID, ep)
	if cancel, ok := r.refinements[key]; ok {
		cancel()
		delete(r.refinements, key)
	}
	r.mu.Unlock()

	r.logger.Info("human edit saved", "project_id", projectID, "episode", ep)
	return nil
}

// QueueRefinement registers a pending background refinement for an episode
// and returns the context it should run under. SaveHumanEdit cancels it.
func (r *Runner) QueueRefinement(ctx context.Context, projectID string, ep int) context.Context {
	refCtx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	key := refinementKey(projectID, ep)
	if prev, ok := r.refinements[key]; ok {
		prev()
	}
	r.refinements[key] = cancel
	r.mu.Unlock()
	return refCtx
}

func refinementKey(projectID string, ep int) string {
	return fmt.Sprintf("%s/%d", projectID, ep)
}

func (r *Runner) saveTask(ctx context.Context, projectID string, status store.RunStatus, episode int, step string) error {
	return r.store.SaveTask(ctx, &store.GenerationTask{
		ProjectID:      projectID,
		Status:         status,
		CurrentEpisode: episode,
		Step:           step,
	})
}

func recentFacts(history []narrative.FactsRecord, n int) []narrative.FactsRecord {
	if len(history) <= n {
		return history
	}
	return history[len(history)-n:]
}
