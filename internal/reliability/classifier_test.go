package reliability

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestIsRetryableHTTPStatus(t *testing.T) {
	cases := []struct {
		code int
		want bool
	}{
		{200, false},
		{400, false},
		{401, false},
		{429, true},
		{500, true},
		{503, true},
	}
	for _, tc := range cases {
		got := IsRetryableHTTPStatus(tc.code)
		if got != tc.want {
			t.Fatalf("IsRetryableHTTPStatus(%d) = %v, want %v", tc.code, got, tc.want)
		}
	}
}

func TestExponentialBackoffCap(t *testing.T) {
	base := 100 * time.Millisecond
	capDur := 700 * time.Millisecond
	if got := ExponentialBackoff(0, base, capDur); got != base {
		t.Fatalf("attempt 0 = %v, want %v", got, base)
	}
	if got := ExponentialBackoff(2, base, capDur); got != 400*time.Millisecond {
		t.Fatalf("attempt 2 = %v, want 400ms", got)
	}
	if got := ExponentialBackoff(10, base, capDur); got != capDur {
		t.Fatalf("attempt 10 = %v, want %v", got, capDur)
	}
}

type classified bool

func (c classified) Error() string   { return "classified" }
func (c classified) Retryable() bool { return bool(c) }

func TestIsRetryable(t *testing.T) {
	if IsRetryable(nil) {
		t.Fatalf("nil error should not retry")
	}
	if IsRetryable(fmt.Errorf("wrapped: %w", context.Canceled)) {
		t.Fatalf("cancellation should not retry")
	}
	if IsRetryable(fmt.Errorf("dial: %w", classified(false))) {
		t.Fatalf("self-classified permanent error should not retry")
	}
	if !IsRetryable(errors.New("connection reset")) {
		t.Fatalf("unclassified error should retry")
	}
}

func TestRetryStopsOnPermanentError(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), 5, time.Millisecond, time.Millisecond, func(context.Context) error {
		calls++
		if calls == 2 {
			return classified(false)
		}
		return errors.New("flaky")
	})
	if calls != 2 {
		t.Fatalf("calls = %d, want 2", calls)
	}
	var c classified
	if !errors.As(err, &c) {
		t.Fatalf("error = %v, want the permanent error", err)
	}
}

func TestRetrySucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), 3, time.Millisecond, time.Millisecond, func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("flaky")
		}
		return nil
	})
	if err != nil || calls != 3 {
		t.Fatalf("Retry() = %v after %d calls, want success after 3", err, calls)
	}
}

func TestRetryHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := Retry(ctx, 3, time.Hour, time.Hour, func(context.Context) error {
		return errors.New("flaky")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
}
