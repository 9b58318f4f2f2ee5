package storage

import (
	"context"
	"fmt"

	"github.com/hfi/leadguard/internal/config"
)

// Open builds the key store selected by cfg.Type
func Open(ctx context.Context, cfg *config.StorageConfig) (KeyStore, error) {
	switch cfg.Type {
	case "", "memory":
		return NewMemoryStore(), nil
	case "redis":
		store, err := NewRedisStore(ctx, cfg.Redis.Address, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.Prefix)
		if err != nil {
			return nil, err
		}
		return store, nil
	case "postgres":
		store, err := OpenPostgresStore(ctx, cfg.Postgres.DSN)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Type)
	}
}
