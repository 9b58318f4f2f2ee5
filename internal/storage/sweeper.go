package storage

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/hfi/leadguard/internal/metrics"
)

// DefaultSweepInterval is used when a non-positive interval is given
const DefaultSweepInterval = time.Minute

// Sweeper periodically purges expired keys from a KeyStore.
// It does nothing until Run is called and stops when Run's context ends.
type Sweeper struct {
	store    KeyStore
	interval time.Duration
	logger   zerolog.Logger
	onPurge  func(removed int)
}

// SweeperOption configures a Sweeper
type SweeperOption func(*Sweeper)

// WithSweepLogger sets the logger used for sweep results
func WithSweepLogger(logger zerolog.Logger) SweeperOption {
	return func(s *Sweeper) {
		s.logger = logger
	}
}

// WithPurgeHook registers a callback invoked after each sweep that removed keys
func WithPurgeHook(fn func(removed int)) SweeperOption {
	return func(s *Sweeper) {
		s.onPurge = fn
	}
}

// NewSweeper creates a sweeper for store
func NewSweeper(store KeyStore, interval time.Duration, opts ...SweeperOption) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	s := &Sweeper{
		store:    store,
		interval: interval,
		logger:   zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run sweeps on every tick until ctx is cancelled
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Debug().Dur("interval", s.interval).Msg("key sweeper started")

	for {
		select {
		case <-ticker.C:
			s.Sweep(ctx)
		case <-ctx.Done():
			s.logger.Debug().Msg("key sweeper stopped")
			return nil
		}
	}
}

// Sweep runs a single purge and refreshes the store size gauge
func (s *Sweeper) Sweep(ctx context.Context) int {
	removed, err := s.store.PurgeExpired(ctx)
	if err != nil {
		metrics.StoreErrorsTotal.WithLabelValues("purge").Inc()
		s.logger.Warn().Err(err).Msg("failed to purge expired keys")
		return 0
	}

	if removed > 0 {
		metrics.KeysPurgedTotal.Add(float64(removed))
		s.logger.Debug().Int("removed", removed).Msg("purged expired keys")
		if s.onPurge != nil {
			s.onPurge(removed)
		}
	}

	if size, err := s.store.Size(ctx); err == nil {
		metrics.KeyStoreSize.Set(float64(size))
	}
	return removed
}
