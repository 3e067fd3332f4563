package errs

import (
	"context"
	"math/rand/v2"
	"time"
)

// RetryPolicy parameterizes the reliability wrapper. The core never
// auto-retries; callers opt in explicitly by invoking Retry.
type RetryPolicy struct {
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Factor      float64
	JitterRatio float64
	MaxAttempts int
}

// DefaultRetryPolicy matches the reliability wrapper in the error handling
// design: base 25ms, cap 1s, factor 2, +/-20% jitter, max 3 attempts.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		BaseDelay:   25 * time.Millisecond,
		MaxDelay:    1 * time.Second,
		Factor:      2,
		JitterRatio: 0.2,
		MaxAttempts: 3,
	}
}

// Retry invokes fn until it succeeds, its error is not Retryable, the
// policy's attempt budget is exhausted, or ctx is done.
func Retry(ctx context.Context, policy RetryPolicy, fn func(ctx context.Context) error) error {
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 1
	}
	delay := policy.BaseDelay

	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}

		e, ok := As(lastErr)
		if !ok || !e.Retryable || attempt == policy.MaxAttempts {
			return lastErr
		}

		sleep := jitter(delay, policy.JitterRatio)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleep):
		}

		delay = time.Duration(float64(delay) * policy.Factor)
		if delay > policy.MaxDelay {
			delay = policy.MaxDelay
		}
	}
	return lastErr
}

func jitter(d time.Duration, ratio float64) time.Duration {
	if ratio <= 0 {
		return d
	}
	spread := float64(d) * ratio
	offset := (rand.Float64()*2 - 1) * spread
	out := float64(d) + offset
	if out < 0 {
		out = 0
	}
	return time.Duration(out)
}
