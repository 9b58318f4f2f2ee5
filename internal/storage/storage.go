// Package storage provides expiring-key stores used to remember which
// one-time credentials have already been consumed.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrUnknownBackend is returned by Open for an unsupported storage type.
var ErrUnknownBackend = errors.New("unknown storage backend")

// Entry is a recorded key and the instant after which it is considered absent.
type Entry struct {
	Key       string
	ExpiresAt time.Time
}

// Expired reports whether the entry is absent at now.
func (e Entry) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// KeyStore defines the interface for remembering keys for a bounded time
type KeyStore interface {
	// Contains reports whether a non-expired entry exists for key.
	// Expired entries found on the way are removed.
	Contains(ctx context.Context, key string) (bool, error)

	// Insert records key until now+ttl, replacing any previous expiry
	Insert(ctx context.Context, key string, ttl time.Duration) error

	// Reserve records key only if no live entry exists.
	// It returns true when the key was recorded by this call.
	Reserve(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// PurgeExpired removes every expired entry and returns how many went
	PurgeExpired(ctx context.Context) (int, error)

	// Size returns the number of stored entries
	Size(ctx context.Context) (int, error)

	// Ping checks the backend is reachable
	Ping(ctx context.Context) error

	// Close releases any resources
	Close() error
}
