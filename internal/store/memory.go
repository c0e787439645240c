package store

import (
	"context"
	"sync"
	"time"
)

// Memory is an in-process Store used by tests and local development runs
// where no Redis is available.  All operations execute under a single
// mutex, which gives the same linearizable single-key semantics the
// coordination layer expects from Redis.
type Memory struct {
	// Now is the clock used for TTL and window arithmetic.  Tests can
	// replace it to advance time deterministically.
	Now func() time.Time

	mu      sync.Mutex
	entries map[string]memoryEntry
	windows map[string][]windowEvent
}

type memoryEntry struct {
	value     string
	expiresAt time.Time // zero means no expiry
}

type windowEvent struct {
	at time.Time
}

// NewMemory returns an empty in-memory store using the real clock.
func NewMemory() *Memory {
	return &Memory{
		Now:     time.Now,
		entries: make(map[string]memoryEntry),
		windows: make(map[string][]windowEvent),
	}
}

func (m *Memory) expired(e memoryEntry, now time.Time) bool {
	return !e.expiresAt.IsZero() && !e.expiresAt.After(now)
}

func (m *Memory) SetNX(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.Now()
	if e, ok := m.entries[key]; ok && !m.expired(e, now) {
		return false, nil
	}
	e := memoryEntry{value: value}
	if ttl > 0 {
		e.expiresAt = now.Add(ttl)
	}
	m.entries[key] = e
	return true, nil
}

func (m *Memory) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok || m.expired(e, m.Now()) {
		return "", ErrNotFound
	}
	return e.value, nil
}

func (m *Memory) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.entries, k)
	}
	return nil
}

func (m *Memory) CompareAndDelete(_ context.Context, key, value string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok || m.expired(e, m.Now()) || e.value != value {
		return false, nil
	}
	delete(m.entries, key)
	return true, nil
}

func (m *Memory) CompareAndExtend(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.Now()
	e, ok := m.entries[key]
	if !ok || m.expired(e, now) || e.value != value {
		return false, nil
	}
	e.expiresAt = now.Add(ttl)
	m.entries[key] = e
	return true, nil
}

func (m *Memory) WindowTake(_ context.Context, key string, now time.Time, window time.Duration, limit int64) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.prune(key, now, window)
	if int64(len(kept)) >= limit {
		m.windows[key] = kept
		return int64(len(kept)), false, nil
	}
	kept = append(kept, windowEvent{at: now})
	m.windows[key] = kept
	return int64(len(kept)), true, nil
}

func (m *Memory) WindowCount(_ context.Context, key string, now time.Time, window time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.prune(key, now, window)
	m.windows[key] = kept
	return int64(len(kept)), nil
}

// prune must be called with the mutex held.
func (m *Memory) prune(key string, now time.Time, window time.Duration) []windowEvent {
	cutoff := now.Add(-window)
	var kept []windowEvent
	for _, ev := range m.windows[key] {
		if ev.at.After(cutoff) {
			kept = append(kept, ev)
		}
	}
	return kept
}
