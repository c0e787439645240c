package coordination

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

// permanentError marks a failure that must not be retried.  Unwrap keeps
// errors.Is/As working against the underlying error.
type permanentError struct{ err error }

func (e *permanentError) Error() string { return e.err.Error() }
func (e *permanentError) Unwrap() error { return e.err }

// Permanent wraps err so a RetryPolicy propagates it immediately instead of
// burning attempts.  Validation and conflict failures are permanent; only
// transient dependency failures are worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// RetryPolicy wraps a fallible operation with bounded exponential backoff.
// The delay for attempt n (0-indexed) is min(base*multiplier^n, max),
// randomized by delay*(0.5+U(0,1)) (full jitter) so synchronized clients
// do not produce retry storms.
//
// A policy composes with a CircuitBreaker by wrapping the breaker-guarded
// call, not the other way around, so repeated failures trip the breaker
// instead of only consuming retry budget.
type RetryPolicy struct {
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
	multiplier  float64
}

// NewRetryPolicy builds a policy with the conventional multiplier of 2.
func NewRetryPolicy(maxAttempts int, baseDelay, maxDelay time.Duration) *RetryPolicy {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &RetryPolicy{
		maxAttempts: maxAttempts,
		baseDelay:   baseDelay,
		maxDelay:    maxDelay,
		multiplier:  2,
	}
}

// Do runs op up to maxAttempts times.  Failures wrapped with Permanent and
// context errors propagate immediately; on exhausting attempts the last
// observed error is returned unchanged so callers keep its kind.
func (p *RetryPolicy) Do(ctx context.Context, op func(context.Context) error) error {
	var lastErr error
	for attempt := 0; attempt < p.maxAttempts; attempt++ {
		if attempt > 0 {
			if err := sleep(ctx, p.delay(attempt-1)); err != nil {
				return err
			}
		}
		err := op(ctx)
		if err == nil {
			return nil
		}
		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		lastErr = err
	}
	return lastErr
}

func (p *RetryPolicy) delay(n int) time.Duration {
	d := float64(p.baseDelay) * math.Pow(p.multiplier, float64(n))
	d = math.Min(d, float64(p.maxDelay))
	return time.Duration(d * (0.5 + rand.Float64()))
}
