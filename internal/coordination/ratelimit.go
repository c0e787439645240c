package coordination

import (
	"context"
	"fmt"
	"time"

	"github.com/cineres/movie-booking/internal/obs"
	"github.com/cineres/movie-booking/internal/store"
)

const rateLimitKeyPrefix = "ratelimit:"

// RateLimiter throttles per-identifier request rate with a sliding window
// log: individual request timestamps are stored per identifier and entries
// older than the trailing window are pruned on every check.  Prune, count
// and insert run as one atomic store sequence, so two concurrent checks can
// never both observe count=limit-1 and both be admitted.  A rejected probe
// is not inserted and does not count against the caller.
type RateLimiter struct {
	store  store.Store
	limit  int64
	window time.Duration

	now func() time.Time
}

// NewRateLimiter allows at most limit requests per identifier within the
// trailing window.
func NewRateLimiter(st store.Store, limit int64, window time.Duration) *RateLimiter {
	if limit < 1 {
		limit = 1
	}
	return &RateLimiter{store: st, limit: limit, window: window, now: time.Now}
}

// IsAllowed records the request for identifier and reports whether it is
// admitted under the limit.
func (rl *RateLimiter) IsAllowed(ctx context.Context, identifier string) (bool, error) {
	_, allowed, err := rl.store.WindowTake(ctx, rateLimitKeyPrefix+identifier, rl.now(), rl.window, rl.limit)
	if err != nil {
		return false, fmt.Errorf("rate limit %s: %w", identifier, err)
	}
	if allowed {
		obs.RateLimitDecisions.WithLabelValues("allowed").Inc()
	} else {
		obs.RateLimitDecisions.WithLabelValues("limited").Inc()
	}
	return allowed, nil
}

// Remaining reports how many requests identifier may still make inside the
// current window.
func (rl *RateLimiter) Remaining(ctx context.Context, identifier string) (int64, error) {
	count, err := rl.store.WindowCount(ctx, rateLimitKeyPrefix+identifier, rl.now(), rl.window)
	if err != nil {
		return 0, fmt.Errorf("rate limit %s: %w", identifier, err)
	}
	remaining := rl.limit - count
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// Limit returns the configured per-window limit.
func (rl *RateLimiter) Limit() int64 { return rl.limit }

// Window returns the sliding window length.
func (rl *RateLimiter) Window() time.Duration { return rl.window }
