package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when consecutive hard failures trip the batch
// circuit breaker. A tripped breaker aborts the whole batch rather than
// burning through the remaining range against a broken configuration.
var ErrCircuitOpen = errors.New("circuit breaker open")

// RetryPolicy bounds how one episode attempt is retried on failure.
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	Jitter       bool

	// ShouldRetry decides whether an error is worth another attempt.
	ShouldRetry func(error) bool
}

// DefaultRetryPolicy matches the engine's bounded-retry semantics: three
// attempts per episode, exponential backoff, no retry once the caller is gone.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts:  3,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     30 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
		ShouldRetry: func(err error) bool {
			return !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
		},
	}
}

// Do runs fn with the policy's bounds, sleeping between attempts. The last
// error is returned once attempts are exhausted.
func (p RetryPolicy) Do(ctx context.Context, logger *slog.Logger, op string, fn func(attempt int) error) error {
	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		err := fn(attempt)
		if err == nil {
			return nil
		}
		lastErr = err

		if attempt >= p.MaxAttempts || (p.ShouldRetry != nil && !p.ShouldRetry(err)) {
			break
		}

		delay := p.delay(attempt)
		logger.Warn("attempt failed, retrying",
			"op", op,
			"attempt", attempt,
			"delay", delay,
			"error", err)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("%s failed after %d attempts: %w", op, p.MaxAttempts, lastErr)
}

func (p RetryPolicy) delay(attempt int) time.Duration {
	delay := float64(p.InitialDelay)
	for i := 1; i < attempt; i++ {
		delay *= p.Multiplier
	}
	if p.Jitter {
		delay += 0.1 * delay * (2*rand.Float64() - 1)
	}
	if delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	return time.Duration(delay)
}

// Breaker counts consecutive hard-failed episodes and trips once the limit is
// reached. A single success closes it again.
type Breaker struct {
	limit  int
	logger *slog.Logger

	mu          sync.Mutex
	consecutive int
}

func NewBreaker(limit int, logger *slog.Logger) *Breaker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Breaker{limit: limit, logger: logger.With("component", "breaker")}
}

// RecordFailure registers one hard-failed episode and reports whether the
// breaker just tripped.
func (b *Breaker) RecordFailure() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutive++
	if b.consecutive >= b.limit {
		b.logger.Error("circuit breaker tripped",
			"consecutive_failures", b.consecutive,
			"limit", b.limit)
		return true
	}
	return false
}

// RecordSuccess closes the breaker.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.consecutive = 0
}

// Consecutive returns the current consecutive failure count.
func (b *Breaker) Consecutive() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.consecutive
}
