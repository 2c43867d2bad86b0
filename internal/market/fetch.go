package market

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"finsight/internal/domain"
)

// Default retry settings for the fetch layer. The provider enforces an
// hourly request quota, so the rate-limit delay is deliberately long.
const (
	defaultMaxAttempts    = 3
	defaultRateLimitDelay = time.Hour
)

// Backoff is the retry policy for provider fetches. Only rate-limit
// failures are retried; everything else fails fast. The sleep function
// is injectable so tests never wait for real time.
type Backoff struct {
	MaxAttempts    int
	RateLimitDelay time.Duration
	sleep          func(ctx context.Context, d time.Duration) error
}

// NewBackoff creates a retry policy. Non-positive arguments fall back to
// the defaults (3 attempts, 1h delay).
func NewBackoff(maxAttempts int, rateLimitDelay time.Duration) Backoff {
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	if rateLimitDelay <= 0 {
		rateLimitDelay = defaultRateLimitDelay
	}
	return Backoff{
		MaxAttempts:    maxAttempts,
		RateLimitDelay: rateLimitDelay,
		sleep:          sleepCtx,
	}
}

// sleepCtx waits for d or until ctx is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// fetchRetry runs fn under the backoff policy and normalizes the outcome
// into an optional result. A false return means no result after the
// policy was exhausted; callers treat absence as a normal outcome.
//
// Retry is asymmetric: ErrRateLimited waits RateLimitDelay and tries
// again; any other failure (including ErrEmptyResponse) is logged and
// abandoned immediately.
func fetchRetry[T any](ctx context.Context, b Backoff, logger *slog.Logger, op string, fn func(context.Context) (T, error)) (T, bool) {
	var zero T
	for attempt := 0; attempt < b.MaxAttempts; attempt++ {
		v, err := fn(ctx)
		if err == nil {
			return v, true
		}

		if !errors.Is(err, domain.ErrRateLimited) {
			logger.Error("fetch failed", "op", op, "error", err)
			return zero, false
		}

		logger.Warn("rate limited, backing off",
			"op", op, "delay", b.RateLimitDelay, "attempt", attempt+1)
		if attempt == b.MaxAttempts-1 {
			break
		}
		if err := b.sleep(ctx, b.RateLimitDelay); err != nil {
			return zero, false
		}
	}
	return zero, false
}
