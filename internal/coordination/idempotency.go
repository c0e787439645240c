package coordination

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cineres/movie-booking/internal/store"
)

const (
	idempotencyKeyPrefix = "idempotency:"

	// idempotencyLockTTL bounds the execution of one guarded operation.
	// The per-key lock only has to outlive the wrapped call, not the
	// retention window of the record itself.
	idempotencyLockTTL = 30 * time.Second
)

// IdempotencyGuard deduplicates side-effecting operations by a
// caller-supplied key.  The first call with a key executes the operation
// and persists its serialized result; every later call inside the
// retention window returns the stored result without re-running anything.
//
// Two callers racing on the same key are serialized by a short
// distributed lock on the key, and the record write itself is a
// set-if-absent, so at most one execution of the underlying operation can
// ever commit.  Records are immutable once written and expire after the
// retention TTL, after which the key is treated as brand new; callers
// must pick keys whose uniqueness lifetime matches that window.
type IdempotencyGuard struct {
	store store.Store
	lock  *DistributedLock
	ttl   time.Duration
}

// NewIdempotencyGuard builds a guard whose records are retained for ttl
// (typically 24h).
func NewIdempotencyGuard(st store.Store, lock *DistributedLock, ttl time.Duration) *IdempotencyGuard {
	return &IdempotencyGuard{store: st, lock: lock, ttl: ttl}
}

// CheckAndExecute returns the stored result for key when one exists
// (isNew=false), otherwise runs op, persists its result and returns it
// with isNew=true.  When op fails nothing is recorded and the same key may
// be retried.
func (g *IdempotencyGuard) CheckAndExecute(ctx context.Context, key string, op func(context.Context) ([]byte, error)) (isNew bool, result []byte, err error) {
	storeKey := idempotencyKeyPrefix + key

	if cached, err := g.store.Get(ctx, storeKey); err == nil {
		return false, []byte(cached), nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return false, nil, fmt.Errorf("idempotency lookup %s: %w", key, err)
	}

	// Serialize concurrent first-time callers so only one runs op.
	handle, err := g.lock.Acquire(ctx, idempotencyKeyPrefix+key, idempotencyLockTTL)
	if err != nil {
		return false, nil, fmt.Errorf("idempotency key %s: %w", key, err)
	}
	defer func() {
		if _, relErr := g.lock.Release(context.WithoutCancel(ctx), handle); relErr != nil {
			// The lock TTL bounds the damage of a failed release.
		}
	}()

	// A racing caller may have committed while we waited for the lock.
	if cached, err := g.store.Get(ctx, storeKey); err == nil {
		return false, []byte(cached), nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return false, nil, fmt.Errorf("idempotency lookup %s: %w", key, err)
	}

	result, err = op(ctx)
	if err != nil {
		return false, nil, err
	}

	// Set-if-absent is the commit point; a false here means someone else
	// committed despite the lock (only possible after a lock expiry), in
	// which case their result is the canonical one.
	stored, err := g.store.SetNX(ctx, storeKey, string(result), g.ttl)
	if err != nil {
		return false, nil, fmt.Errorf("idempotency store %s: %w", key, err)
	}
	if !stored {
		cached, err := g.store.Get(ctx, storeKey)
		if err != nil {
			return false, nil, fmt.Errorf("idempotency reread %s: %w", key, err)
		}
		return false, []byte(cached), nil
	}
	return true, result, nil
}
