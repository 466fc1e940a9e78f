package scraper

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	policy := RetryPolicy{MaxRetries: 3, InitialDelay: time.Millisecond, BackoffFactor: 2}

	attempts := 0
	err := policy.Do(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success after retries, got %v", err)
	}
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
}

func TestRetryExhaustsAttempts(t *testing.T) {
	policy := RetryPolicy{MaxRetries: 3, InitialDelay: time.Millisecond, BackoffFactor: 2}

	boom := errors.New("boom")
	attempts := 0
	err := policy.Do(context.Background(), func() error {
		attempts++
		return boom
	})
	if attempts != 3 {
		t.Fatalf("expected 3 attempts, got %d", attempts)
	}
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped original error, got %v", err)
	}
}

func TestRetryStopsOnFirstSuccess(t *testing.T) {
	policy := RetryPolicy{MaxRetries: 5, InitialDelay: time.Second, BackoffFactor: 2}

	attempts := 0
	if err := policy.Do(context.Background(), func() error {
		attempts++
		return nil
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected 1 attempt, got %d", attempts)
	}
}

func TestRetryZeroConfigStillAttemptsOnce(t *testing.T) {
	var policy RetryPolicy

	attempts := 0
	if err := policy.Do(context.Background(), func() error {
		attempts++
		return nil
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected 1 attempt with a zero policy, got %d", attempts)
	}

	boom := errors.New("boom")
	err := policy.Do(context.Background(), func() error { return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped original error, got %v", err)
	}
}

func TestRetryCancelledBetweenAttempts(t *testing.T) {
	policy := RetryPolicy{MaxRetries: 3, InitialDelay: time.Minute, BackoffFactor: 2}

	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := policy.Do(ctx, func() error {
		attempts++
		return errors.New("transient")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if attempts != 1 {
		t.Fatalf("expected a single attempt before cancellation, got %d", attempts)
	}
}
