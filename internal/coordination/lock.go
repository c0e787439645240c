// Package coordination implements the distributed coordination primitives
// shared by the booking workflows: a store-backed mutual-exclusion lock, an
// in-process circuit breaker, an exponential-backoff retry policy, an
// idempotency guard and a sliding-window rate limiter.
package coordination

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"github.com/cineres/movie-booking/internal/obs"
	"github.com/cineres/movie-booking/internal/store"
)

// ErrLockUnavailable is returned when a lock could not be acquired within
// the retry budget.  Callers surface it as "retry later"; it is never fatal
// to the process.
var ErrLockUnavailable = errors.New("coordination: lock unavailable")

const lockKeyPrefix = "lock:"

// LockHandle proves ownership of one successful acquisition.  The token is
// random per attempt, so a handle can never release or extend a lock the
// store has since reassigned to another holder.
type LockHandle struct {
	resource string
	token    string
	ttl      time.Duration
}

// Resource returns the name the lock was acquired for.
func (h *LockHandle) Resource() string { return h.resource }

// DistributedLock provides mutual exclusion per resource name on top of a
// shared store.  A lock is held by whoever wrote the key; ownership is
// proven only by possessing the owner token.
type DistributedLock struct {
	store      store.Store
	attempts   int
	retryDelay time.Duration
}

// NewDistributedLock builds a lock manager.  attempts is the total number
// of SetNX tries per Acquire call; retryDelay is the base wait between
// tries, to which up to 50ms of jitter is added to avoid thundering herds.
func NewDistributedLock(st store.Store, attempts int, retryDelay time.Duration) *DistributedLock {
	if attempts < 1 {
		attempts = 1
	}
	return &DistributedLock{store: st, attempts: attempts, retryDelay: retryDelay}
}

// Acquire tries to take the lock for resource with the given TTL.  The TTL
// must exceed the expected critical-section duration with margin.  When the
// budget is exhausted, or the store is unreachable for every attempt, it
// returns ErrLockUnavailable: a store failure is never treated as a
// successful acquisition.
func (l *DistributedLock) Acquire(ctx context.Context, resource string, ttl time.Duration) (*LockHandle, error) {
	key := lockKeyPrefix + resource
	token := uuid.NewString()

	var lastErr error
	for attempt := 0; attempt < l.attempts; attempt++ {
		if attempt > 0 {
			delay := l.retryDelay + time.Duration(rand.Int63n(int64(50*time.Millisecond)))
			if err := sleep(ctx, delay); err != nil {
				return nil, err
			}
		}
		ok, err := l.store.SetNX(ctx, key, token, ttl)
		if err != nil {
			// Fail closed: keep retrying within the budget, but never
			// report the lock as held.
			lastErr = err
			continue
		}
		if ok {
			obs.LockAcquires.WithLabelValues("acquired").Inc()
			return &LockHandle{resource: resource, token: token, ttl: ttl}, nil
		}
	}
	if lastErr != nil {
		obs.LockAcquires.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("%w: %s: %v", ErrLockUnavailable, resource, lastErr)
	}
	obs.LockAcquires.WithLabelValues("busy").Inc()
	return nil, fmt.Errorf("%w: %s", ErrLockUnavailable, resource)
}

// Release deletes the lock if and only if the handle still owns it.  It
// reports false when the lock already expired or belongs to another holder.
func (l *DistributedLock) Release(ctx context.Context, h *LockHandle) (bool, error) {
	if h == nil {
		return false, nil
	}
	return l.store.CompareAndDelete(ctx, lockKeyPrefix+h.resource, h.token)
}

// Extend resets the lock TTL to the handle's TTL plus extra, if the handle
// still owns it.  Workflows should prefer short critical sections over
// extension.
func (l *DistributedLock) Extend(ctx context.Context, h *LockHandle, extra time.Duration) (bool, error) {
	if h == nil {
		return false, nil
	}
	return l.store.CompareAndExtend(ctx, lockKeyPrefix+h.resource, h.token, h.ttl+extra)
}

// sleep waits for d or until the context is done.
func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
