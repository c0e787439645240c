// Package store defines the key-value store boundary used by the
// coordination layer.  The coordination primitives (locks, idempotency
// records, seat markers, rate-limit windows) never read-then-write a shared
// key directly; every mutation goes through one of the atomic operations
// declared here.  Implementations must be linearizable for single-key
// operations.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get when the key does not exist or has expired.
var ErrNotFound = errors.New("store: key not found")

// Store is the set of primitives the coordination layer consumes.
//
// SetNX, Get and Del map directly onto the underlying store's commands.
// CompareAndDelete and CompareAndExtend are scripted check-and-act
// sequences: the comparison of the stored value against the supplied one
// and the mutation happen as a single atomic step, so a caller can never
// delete or extend a key it no longer owns.  WindowTake and WindowCount
// implement the sliding-window-log primitive on a sorted set; WindowTake
// prunes entries older than now-window, counts the remainder and inserts
// the new entry only when the count is below limit, all in one atomic
// sequence.
type Store interface {
	// SetNX stores value under key with the given TTL only if the key is
	// absent.  It reports whether the value was stored.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	// Get returns the value stored under key, or ErrNotFound.
	Get(ctx context.Context, key string) (string, error)

	// Del removes the given keys in a single batch operation.  Missing
	// keys are ignored.
	Del(ctx context.Context, keys ...string) error

	// CompareAndDelete deletes key only if its current value equals value.
	// It reports whether the key was deleted.
	CompareAndDelete(ctx context.Context, key, value string) (bool, error)

	// CompareAndExtend resets the TTL of key only if its current value
	// equals value.  It reports whether the TTL was reset.
	CompareAndExtend(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	// WindowTake records one event in the sliding window identified by key
	// if doing so keeps the window at or below limit.  It returns the
	// number of events in the window after the call and whether the event
	// was admitted.  A rejected event is not recorded.
	WindowTake(ctx context.Context, key string, now time.Time, window time.Duration, limit int64) (int64, bool, error)

	// WindowCount returns the number of events currently inside the
	// sliding window identified by key, pruning expired entries.
	WindowCount(ctx context.Context, key string, now time.Time, window time.Duration) (int64, error)
}
