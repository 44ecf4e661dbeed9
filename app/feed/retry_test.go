package feed

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/feedloom/feedloom/app/database"
	"github.com/feedloom/feedloom/app/sources"
)

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	policy := RetryPolicy{MaxRetries: 3, BaseDelay: time.Millisecond}

	attempts := 0
	err := policy.Do(context.Background(), func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return sources.TransientError("zotero", errors.New("upstream hiccup"))
		}
		return nil
	})

	if err != nil {
		t.Errorf("Expected success after transient failures, got %v", err)
	}
	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}
}

func TestRetryPermanentErrorNotRetried(t *testing.T) {
	policy := RetryPolicy{MaxRetries: 3, BaseDelay: time.Millisecond}

	attempts := 0
	permanent := sources.PermanentError("zotero", errors.New("invalid api key"))
	err := policy.Do(context.Background(), func(ctx context.Context) error {
		attempts++
		return permanent
	})

	if !errors.Is(err, permanent) {
		t.Errorf("Expected permanent error to surface, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt for permanent error, got %d", attempts)
	}
}

func TestRetryExhaustionUsesExponentialBackoff(t *testing.T) {
	policy := RetryPolicy{MaxRetries: 3, BaseDelay: 10 * time.Millisecond}

	attempts := 0
	started := time.Now()
	err := policy.Do(context.Background(), func(ctx context.Context) error {
		attempts++
		return sources.TransientError("rss", errors.New("still down"))
	})
	elapsed := time.Since(started)

	if err == nil {
		t.Fatal("Expected error after exhausting retries")
	}
	if attempts != 4 {
		t.Errorf("Expected 4 attempts (initial plus 3 retries), got %d", attempts)
	}
	// Delays of base, 2x, 4x add up to 7x the base delay
	if elapsed < 70*time.Millisecond {
		t.Errorf("Expected at least 70ms of backoff, got %s", elapsed)
	}
}

func TestRetryValidationErrorNotRetried(t *testing.T) {
	policy := RetryPolicy{MaxRetries: 3, BaseDelay: time.Millisecond}

	attempts := 0
	err := policy.Do(context.Background(), func(ctx context.Context) error {
		attempts++
		return &ValidationError{Field: "title", Reason: "must not be empty"}
	})

	var validationErr *ValidationError
	if !errors.As(err, &validationErr) {
		t.Errorf("Expected validation error to surface, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt for validation error, got %d", attempts)
	}
}

func TestRetryStopsOnContextCancel(t *testing.T) {
	policy := RetryPolicy{MaxRetries: 3, BaseDelay: time.Hour}

	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0

	done := make(chan error, 1)
	go func() {
		done <- policy.Do(ctx, func(ctx context.Context) error {
			attempts++
			return sources.TransientError("rss", errors.New("slow upstream"))
		})
	}()

	cancel()

	select {
	case err := <-done:
		if err == nil {
			t.Error("Expected error after cancellation")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Retry did not stop after context cancellation")
	}
	if attempts != 1 {
		t.Errorf("Expected 1 attempt before cancellation, got %d", attempts)
	}
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil", nil, false},
		{"pool exhausted", database.ErrPoolExhausted, true},
		{"wrapped pool exhausted", errors.Join(errors.New("acquire"), database.ErrPoolExhausted), true},
		{"transient fetch", sources.TransientError("rss", errors.New("502")), true},
		{"permanent fetch", sources.PermanentError("rss", errors.New("401")), false},
		{"validation", &ValidationError{Field: "date", Reason: "must be set"}, false},
		{"deadline", context.DeadlineExceeded, true},
		{"plain", errors.New("boom"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRetryable(tt.err); got != tt.expected {
				t.Errorf("Expected IsRetryable(%v) = %v, got %v", tt.err, tt.expected, got)
			}
		})
	}
}
