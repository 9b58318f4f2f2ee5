// Package guard decides whether a one-time credential is being replayed.
//
// A Guard admits the first request carrying a given key and rejects every
// later request with the same key until the key's validity window ends.
// The window is enforced by the backing storage.KeyStore, so a memory store
// protects a single process while a Redis or Postgres store protects every
// instance that shares it.
package guard

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/hfi/leadguard/internal/audit"
	"github.com/hfi/leadguard/internal/metrics"
	"github.com/hfi/leadguard/internal/storage"
)

// Decision is the outcome of a replay check
type Decision int

const (
	// Admit means the key was unseen and has now been recorded
	Admit Decision = iota
	// Reject means the key was already recorded and is still live
	Reject
)

// String returns the lowercase decision name used in metrics and logs
func (d Decision) String() string {
	switch d {
	case Admit:
		return "admit"
	case Reject:
		return "reject"
	default:
		return fmt.Sprintf("decision(%d)", int(d))
	}
}

var (
	// ErrEmptyKey is returned when CheckAndRecord is called without a key
	ErrEmptyKey = errors.New("guard: empty replay key")
	// ErrInvalidTTL is returned for a non-positive validity window
	ErrInvalidTTL = errors.New("guard: ttl must be positive")
)

// keyHashLen is the number of hex characters kept from the credential digest
const keyHashLen = 32

// Guard records consumed keys in a KeyStore
type Guard struct {
	store      storage.KeyStore
	ttls       map[string]time.Duration
	defaultTTL time.Duration
	auditor    audit.Auditor
	logger     zerolog.Logger
}

// Option configures a Guard
type Option func(*Guard)

// WithTTLs sets per-kind validity windows
func WithTTLs(ttls map[string]time.Duration) Option {
	return func(g *Guard) {
		for kind, ttl := range ttls {
			g.ttls[kind] = ttl
		}
	}
}

// WithDefaultTTL sets the window for kinds without their own entry
func WithDefaultTTL(ttl time.Duration) Option {
	return func(g *Guard) {
		if ttl > 0 {
			g.defaultTTL = ttl
		}
	}
}

// WithAuditor sets the audit sink for decisions
func WithAuditor(a audit.Auditor) Option {
	return func(g *Guard) {
		if a != nil {
			g.auditor = a
		}
	}
}

// WithLogger sets the operational logger
func WithLogger(logger zerolog.Logger) Option {
	return func(g *Guard) {
		g.logger = logger
	}
}

// DefaultTTL is the window used when none is configured
const DefaultTTL = 10 * time.Minute

// New creates a guard over store
func New(store storage.KeyStore, opts ...Option) *Guard {
	g := &Guard{
		store:      store,
		ttls:       make(map[string]time.Duration),
		defaultTTL: DefaultTTL,
		auditor:    audit.NewNopLogger(),
		logger:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Key derives the store key for a credential of the given kind.
// Only a digest of the credential is kept.
func Key(kind, credential string) string {
	sum := sha256.Sum256([]byte(credential))
	return kind + ":" + hex.EncodeToString(sum[:])[:keyHashLen]
}

// TTLFor returns the validity window configured for kind
func (g *Guard) TTLFor(kind string) time.Duration {
	if ttl, ok := g.ttls[kind]; ok && ttl > 0 {
		return ttl
	}
	return g.defaultTTL
}

// Check derives the key for credential and runs CheckAndRecord with the
// window configured for kind.
func (g *Guard) Check(ctx context.Context, kind, credential string) (Decision, error) {
	if credential == "" {
		return Reject, ErrEmptyKey
	}
	return g.CheckAndRecord(ctx, Key(kind, credential), g.TTLFor(kind))
}

// CheckAndRecord rejects key if it is live in the store, otherwise records
// it for ttl and admits it. The lookup and the insert happen as one store
// operation, so two concurrent calls with the same key never both admit.
func (g *Guard) CheckAndRecord(ctx context.Context, key string, ttl time.Duration) (Decision, error) {
	if key == "" {
		return Reject, ErrEmptyKey
	}
	if ttl <= 0 {
		return Reject, ErrInvalidTTL
	}

	requestID := RequestIDFrom(ctx)
	kind := kindOf(key)

	recorded, err := g.store.Reserve(ctx, key, ttl)
	if err != nil {
		metrics.StoreErrorsTotal.WithLabelValues("reserve").Inc()
		g.auditor.LogStoreError(requestID, "reserve", err.Error())
		g.logger.Error().Err(err).Str("request_id", requestID).Str("kind", kind).Msg("replay key store unavailable")
		return Reject, fmt.Errorf("guard: reserve key: %w", err)
	}

	decision := Reject
	if recorded {
		decision = Admit
	}

	metrics.RecordDecision(kind, decision.String())
	g.auditor.LogDecision(requestID, kind, key, recorded)
	g.logger.Debug().
		Str("request_id", requestID).
		Str("kind", kind).
		Dur("ttl", ttl).
		Stringer("decision", decision).
		Msg("replay check")

	return decision, nil
}

// Ping reports whether the backing store is reachable
func (g *Guard) Ping(ctx context.Context) error {
	return g.store.Ping(ctx)
}

// kindOf extracts the kind prefix produced by Key
func kindOf(key string) string {
	if i := strings.IndexByte(key, ':'); i > 0 {
		return key[:i]
	}
	return "raw"
}
