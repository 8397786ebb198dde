package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetryPolicyStopsAtMaxAttempts(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 3, InitialDelay: time.Millisecond, Multiplier: 2.0}

	calls := 0
	err := policy.Do(context.Background(), testLogger(), "flaky op", func(attempt int) error {
		calls++
		if attempt != calls {
			t.Errorf("attempt number %d passed on call %d", attempt, calls)
		}
		return errors.New("boom")
	})
	if err == nil {
		t.Fatal("expected a terminal error")
	}
	if calls != 3 {
		t.Errorf("expected 3 attempts, got %d", calls)
	}
}

func TestRetryPolicySucceedsMidway(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 5, InitialDelay: time.Millisecond, Multiplier: 2.0}

	calls := 0
	err := policy.Do(context.Background(), testLogger(), "flaky op", func(attempt int) error {
		calls++
		if attempt < 2 {
			return errors.New("boom")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 2 {
		t.Errorf("expected 2 attempts, got %d", calls)
	}
}

func TestRetryPolicyHonorsShouldRetry(t *testing.T) {
	fatal := errors.New("fatal")
	policy := RetryPolicy{
		MaxAttempts:  5,
		InitialDelay: time.Millisecond,
		Multiplier:   2.0,
		ShouldRetry:  func(err error) bool { return !errors.Is(err, fatal) },
	}

	calls := 0
	err := policy.Do(context.Background(), testLogger(), "op", func(attempt int) error {
		calls++
		return fatal
	})
	if !errors.Is(err, fatal) {
		t.Fatalf("expected the fatal error, got: %v", err)
	}
	if calls != 1 {
		t.Errorf("non-retryable error must not be retried, got %d attempts", calls)
	}
}

func TestRetryPolicyStopsOnCancelledContext(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 10, InitialDelay: time.Hour, Multiplier: 2.0}
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- policy.Do(ctx, testLogger(), "op", func(attempt int) error {
			calls++
			return errors.New("boom")
		})
	}()
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled, got: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Do did not return after cancellation")
	}
	if calls != 1 {
		t.Errorf("expected 1 attempt before the backoff sleep, got %d", calls)
	}
}

func TestBreakerTripsAtLimit(t *testing.T) {
	b := NewBreaker(3, testLogger())

	if b.RecordFailure() || b.RecordFailure() {
		t.Fatal("breaker tripped below its limit")
	}
	if !b.RecordFailure() {
		t.Fatal("breaker did not trip at the limit")
	}
	if got := b.Consecutive(); got != 3 {
		t.Errorf("consecutive = %d, want 3", got)
	}
}

func TestBreakerResetsOnSuccess(t *testing.T) {
	b := NewBreaker(2, testLogger())

	b.RecordFailure()
	b.RecordSuccess()
	if b.RecordFailure() {
		t.Error("a success must reset the consecutive count")
	}
	if !b.RecordFailure() {
		t.Error("breaker should trip after two fresh failures")
	}
}
