package feed

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/feedloom/feedloom/app/database"
	"github.com/feedloom/feedloom/app/sources"
)

// RetryPolicy retries transient failures with exponential backoff: delays of
// BaseDelay, 2x, 4x between attempts. Permanent errors surface immediately.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
}

func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 3, BaseDelay: time.Second}
}

// Do runs op, retrying retryable errors up to MaxRetries times. After
// exhausting retries the last error is returned. Backoff delays honor context
// cancellation.
func (p RetryPolicy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	delay := p.BaseDelay
	var lastErr error

	for attempt := 0; ; attempt++ {
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if attempt >= p.MaxRetries || !IsRetryable(lastErr) {
			return lastErr
		}
		if ctx.Err() != nil {
			return lastErr
		}

		select {
		case <-ctx.Done():
			return lastErr
		case <-time.After(delay):
		}
		delay *= 2
	}
}

// IsRetryable reports whether an error is transient. Pool exhaustion, network
// failures, transient fetch errors and per-attempt deadline hits are retried;
// validation and authentication failures are not.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, database.ErrPoolExhausted) {
		return true
	}

	var fetchErr *sources.FetchError
	if errors.As(err, &fetchErr) {
		return fetchErr.Transient
	}

	var validationErr *ValidationError
	if errors.As(err, &validationErr) {
		return false
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	// A per-attempt timeout is transient as long as the caller is still live.
	return errors.Is(err, context.DeadlineExceeded)
}
