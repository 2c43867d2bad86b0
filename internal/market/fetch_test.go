package market

import (
	"context"
	"fmt"
	"testing"
	"time"

	"finsight/internal/domain"
)

// fakeSleep records requested delays without waiting.
type fakeSleep struct {
	delays []time.Duration
}

func (f *fakeSleep) sleep(_ context.Context, d time.Duration) error {
	f.delays = append(f.delays, d)
	return nil
}

func TestFetchRetrySucceedsFirstAttempt(t *testing.T) {
	b := NewBackoff(3, time.Hour)
	v, ok := fetchRetry(context.Background(), b, testLogger(), "test", func(context.Context) (string, error) {
		return "data", nil
	})
	if !ok || v != "data" {
		t.Fatalf("got (%q, %v), want (data, true)", v, ok)
	}
}

func TestFetchRetryAbortsOnNonRateLimitError(t *testing.T) {
	calls := 0
	b := NewBackoff(3, time.Hour)
	fs := &fakeSleep{}
	b.sleep = fs.sleep

	_, ok := fetchRetry(context.Background(), b, testLogger(), "test", func(context.Context) (string, error) {
		calls++
		return "", fmt.Errorf("%w: boom", domain.ErrProvider)
	})
	if ok {
		t.Fatal("expected no result")
	}
	if calls != 1 {
		t.Fatalf("expected fail-fast after 1 call, got %d", calls)
	}
	if len(fs.delays) != 0 {
		t.Fatalf("expected no backoff sleeps, got %v", fs.delays)
	}
}

func TestFetchRetryEmptyResponseFailsFast(t *testing.T) {
	calls := 0
	b := NewBackoff(3, time.Hour)
	_, ok := fetchRetry(context.Background(), b, testLogger(), "test", func(context.Context) (string, error) {
		calls++
		return "", domain.ErrEmptyResponse
	})
	if ok || calls != 1 {
		t.Fatalf("empty response should abort immediately: ok=%v calls=%d", ok, calls)
	}
}

func TestFetchRetryRateLimitBacksOff(t *testing.T) {
	calls := 0
	b := NewBackoff(3, 30*time.Minute)
	fs := &fakeSleep{}
	b.sleep = fs.sleep

	_, ok := fetchRetry(context.Background(), b, testLogger(), "test", func(context.Context) (string, error) {
		calls++
		return "", domain.ErrRateLimited
	})
	if ok {
		t.Fatal("expected no result after exhausting retries")
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
	// No sleep after the final attempt.
	if len(fs.delays) != 2 {
		t.Fatalf("expected 2 sleeps, got %d", len(fs.delays))
	}
	for _, d := range fs.delays {
		if d != 30*time.Minute {
			t.Fatalf("unexpected delay %v", d)
		}
	}
}

func TestFetchRetryRecoversAfterRateLimit(t *testing.T) {
	calls := 0
	b := NewBackoff(3, time.Hour)
	b.sleep = (&fakeSleep{}).sleep

	v, ok := fetchRetry(context.Background(), b, testLogger(), "test", func(context.Context) (int, error) {
		calls++
		if calls < 2 {
			return 0, domain.ErrRateLimited
		}
		return 42, nil
	})
	if !ok || v != 42 {
		t.Fatalf("got (%d, %v), want (42, true)", v, ok)
	}
}

func TestFetchRetryCancelledDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	b := NewBackoff(3, time.Hour)
	b.sleep = func(ctx context.Context, _ time.Duration) error {
		cancel()
		return ctx.Err()
	}

	_, ok := fetchRetry(ctx, b, testLogger(), "test", func(context.Context) (string, error) {
		return "", domain.ErrRateLimited
	})
	if ok {
		t.Fatal("expected no result after cancellation")
	}
}

func TestClientHistoryInvalidPeriod(t *testing.T) {
	c := NewClient("TSLA", &stubProvider{}, NewBackoff(0, 0), testLogger())
	_, err := c.History(context.Background(), "1w", "1d")
	if err == nil {
		t.Fatal("expected invalid period error")
	}
}

func TestClientHistoryEmptyResultIsTypedEmpty(t *testing.T) {
	provider := &stubProvider{err: fmt.Errorf("%w: HTTP 500", domain.ErrProvider)}
	c := NewClient("TSLA", provider, NewBackoff(0, 0), testLogger())

	bars, err := c.History(context.Background(), "1mo", "1d")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if bars == nil {
		t.Fatal("expected non-nil empty slice")
	}
	if len(bars) != 0 {
		t.Fatalf("expected empty history, got %d bars", len(bars))
	}
}

func TestClientInfoAbsenceIsNormal(t *testing.T) {
	provider := &stubProvider{} // empty info -> ErrEmptyResponse inside the fetch
	c := NewClient("TSLA", provider, NewBackoff(0, 0), testLogger())

	if _, ok := c.Info(context.Background()); ok {
		t.Fatal("expected no result for empty provider data")
	}
	if provider.callCount() != 1 {
		t.Fatalf("empty response should not be retried, got %d calls", provider.callCount())
	}
}
