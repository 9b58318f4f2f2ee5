package storage

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process implementation of KeyStore.
// Its contents do not survive a restart and are not shared between instances.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]time.Time // key -> expiresAt
	now     func() time.Time
}

// MemoryOption configures a MemoryStore
type MemoryOption func(*MemoryStore)

// WithClock replaces the wall clock used for expiry decisions
func WithClock(now func() time.Time) MemoryOption {
	return func(m *MemoryStore) {
		if now != nil {
			m.now = now
		}
	}
}

// NewMemoryStore creates a new in-memory key store
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	store := &MemoryStore{
		entries: make(map[string]time.Time),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

// Contains reports whether key has a live entry
func (m *MemoryStore) Contains(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.containsLocked(key, m.now()), nil
}

// Insert records key with a fresh expiry
func (m *MemoryStore) Insert(_ context.Context, key string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = m.now().Add(ttl)
	return nil
}

// Reserve records key unless a live entry already exists
func (m *MemoryStore) Reserve(_ context.Context, key string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if m.containsLocked(key, now) {
		return false, nil
	}
	m.entries[key] = now.Add(ttl)
	return true, nil
}

// PurgeExpired removes expired entries
func (m *MemoryStore) PurgeExpired(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	removed := 0
	for key, expiresAt := range m.entries {
		if !now.Before(expiresAt) {
			delete(m.entries, key)
			removed++
		}
	}
	return removed, nil
}

// Size returns the number of stored entries, including expired ones
// that have not been purged yet.
func (m *MemoryStore) Size(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries), nil
}

// Ping always succeeds
func (m *MemoryStore) Ping(_ context.Context) error {
	return nil
}

// Close drops all entries
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[string]time.Time)
	return nil
}

// containsLocked performs the lazy-expiry lookup. Caller must hold mu.
func (m *MemoryStore) containsLocked(key string, now time.Time) bool {
	expiresAt, ok := m.entries[key]
	if !ok {
		return false
	}
	if !now.Before(expiresAt) {
		delete(m.entries, key)
		return false
	}
	return true
}
