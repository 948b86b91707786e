// Package reliability classifies provider failures and paces retries.
package reliability

import (
	"context"
	"errors"
	"strings"
	"time"
)

// IsRetryableHTTPStatus reports whether a provider status code is worth
// another attempt.
func IsRetryableHTTPStatus(code int) bool {
	switch code {
	case 408, 425, 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

// IsRetryableRealtimeMessageType classifies error frames from streaming
// speech providers.
func IsRetryableRealtimeMessageType(messageType string) bool {
	switch strings.ToLower(strings.TrimSpace(messageType)) {
	case "rate_limited", "resource_exhausted", "queue_overflow", "input_timeout", "error":
		return true
	default:
		return false
	}
}

type retryable interface {
	Retryable() bool
}

// IsRetryable reports whether err is transient. Errors that classify
// themselves decide; unclassified errors are assumed transient.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	var r retryable
	if errors.As(err, &r) {
		return r.Retryable()
	}
	return true
}

// ExponentialBackoff computes a deterministic capped backoff duration.
func ExponentialBackoff(attempt int, base, cap time.Duration) time.Duration {
	if attempt <= 0 {
		return base
	}
	d := base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= cap {
			return cap
		}
	}
	return d
}

// Retry calls fn up to attempts times, sleeping with capped exponential
// backoff between calls. It stops early on success, on a non-retryable
// error, or when ctx is done.
func Retry(ctx context.Context, attempts int, base, cap time.Duration, fn func(context.Context) error) error {
	if attempts <= 0 {
		attempts = 1
	}
	var err error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			timer := time.NewTimer(ExponentialBackoff(attempt-1, base, cap))
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
		if err = fn(ctx); err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !IsRetryable(err) {
			return err
		}
	}
	return err
}
