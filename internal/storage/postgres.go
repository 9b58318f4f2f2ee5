package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
)

const (
	createReplayKeysTable = `CREATE TABLE IF NOT EXISTS replay_keys (
		key TEXT PRIMARY KEY,
		expires_at TIMESTAMPTZ NOT NULL
	)`

	createReplayKeysIndex = `CREATE INDEX IF NOT EXISTS replay_keys_expires_at_idx ON replay_keys (expires_at)`

	selectExpiry = `SELECT expires_at FROM replay_keys WHERE key = $1`

	deleteIfExpired = `DELETE FROM replay_keys WHERE key = $1 AND expires_at <= $2`

	upsertKey = `INSERT INTO replay_keys (key, expires_at) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET expires_at = EXCLUDED.expires_at`

	// An existing row is only taken over once it has expired; a live row
	// makes the statement return nothing.
	reserveKey = `INSERT INTO replay_keys (key, expires_at) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET expires_at = EXCLUDED.expires_at
		WHERE replay_keys.expires_at <= $3
		RETURNING key`

	purgeExpired = `DELETE FROM replay_keys WHERE expires_at <= $1`

	countKeys = `SELECT count(*) FROM replay_keys`
)

// PostgresStore is a KeyStore backed by a replay_keys table.
// Like RedisStore it can be shared by several service instances.
type PostgresStore struct {
	db  *sql.DB
	now func() time.Time
}

// OpenPostgresStore connects with the pgx driver and ensures the schema exists
func OpenPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open DB: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping DB: %w", err)
	}

	store := NewPostgresStore(db)
	if err := store.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// NewPostgresStore wraps an existing connection pool
func NewPostgresStore(db *sql.DB, opts ...PostgresOption) *PostgresStore {
	store := &PostgresStore{db: db, now: time.Now}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

// PostgresOption configures a PostgresStore
type PostgresOption func(*PostgresStore)

// WithPostgresClock replaces the clock used to compute expiry timestamps
func WithPostgresClock(now func() time.Time) PostgresOption {
	return func(p *PostgresStore) {
		if now != nil {
			p.now = now
		}
	}
}

// Migrate creates the replay_keys table and its expiry index
func (p *PostgresStore) Migrate(ctx context.Context) error {
	for _, q := range []string{createReplayKeysTable, createReplayKeysIndex} {
		if _, err := p.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("failed to migrate replay_keys: %w", err)
		}
	}
	return nil
}

// Contains reports whether key has a live row, deleting it if expired
func (p *PostgresStore) Contains(ctx context.Context, key string) (bool, error) {
	var expiresAt time.Time
	err := p.db.QueryRowContext(ctx, selectExpiry, key).Scan(&expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("postgres select: %w", err)
	}

	now := p.now()
	if now.Before(expiresAt) {
		return true, nil
	}

	if _, err := p.db.ExecContext(ctx, deleteIfExpired, key, now); err != nil {
		return false, fmt.Errorf("postgres delete: %w", err)
	}
	return false, nil
}

// Insert upserts key with a new expiry
func (p *PostgresStore) Insert(ctx context.Context, key string, ttl time.Duration) error {
	if _, err := p.db.ExecContext(ctx, upsertKey, key, p.now().Add(ttl)); err != nil {
		return fmt.Errorf("postgres upsert: %w", err)
	}
	return nil
}

// Reserve inserts key in a single statement, succeeding only when the key
// is absent or expired.
func (p *PostgresStore) Reserve(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	now := p.now()

	var got string
	err := p.db.QueryRowContext(ctx, reserveKey, key, now.Add(ttl), now).Scan(&got)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("postgres reserve: %w", err)
	}
	return true, nil
}

// PurgeExpired deletes expired rows
func (p *PostgresStore) PurgeExpired(ctx context.Context) (int, error) {
	res, err := p.db.ExecContext(ctx, purgeExpired, p.now())
	if err != nil {
		return 0, fmt.Errorf("postgres purge: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("postgres purge: %w", err)
	}
	return int(n), nil
}

// Size returns the row count, including expired rows not yet purged
func (p *PostgresStore) Size(ctx context.Context) (int, error) {
	var n int
	if err := p.db.QueryRowContext(ctx, countKeys).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres count: %w", err)
	}
	return n, nil
}

// Ping checks the database connection
func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// Close closes the connection pool
func (p *PostgresStore) Close() error {
	return p.db.Close()
}
