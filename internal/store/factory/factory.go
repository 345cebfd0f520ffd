// Package factory opens the ledger backend selected by configuration.
package factory

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"caisse/backend/internal/config"
	"caisse/backend/internal/store"
	"caisse/backend/internal/store/memory"
	pgstore "caisse/backend/internal/store/postgres"
	redisstore "caisse/backend/internal/store/redis"
	"caisse/backend/internal/store/sqlite"
)

const (
	BackendAuto     = "auto"
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// Resolve maps "auto" to postgres when DATABASE_URL is set and to sqlite
// otherwise. The in-memory ledger is only used when asked for by name.
func Resolve(cfg config.Config) string {
	switch cfg.Backend {
	case "", BackendAuto:
		if cfg.DatabaseURL != "" {
			return BackendPostgres
		}
		return BackendSQLite
	}
	return cfg.Backend
}

// Open returns the configured ledger. A backend that is configured but
// unreachable is an error; there is no fallback to another backend.
func Open(ctx context.Context, cfg config.Config, logger *zap.Logger) (store.Ledger, string, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	backend := Resolve(cfg)

	switch backend {
	case BackendMemory:
		logger.Warn("using in-memory ledger; data is lost on restart")
		return memory.New(), backend, nil
	case BackendSQLite:
		s, err := sqlite.New(ctx, cfg.SQLitePath, logger)
		if err != nil {
			return nil, backend, fmt.Errorf("sqlite ledger: %w", err)
		}
		return s, backend, nil
	case BackendPostgres:
		if cfg.DatabaseURL == "" {
			return nil, backend, errors.New("postgres ledger requires DATABASE_URL")
		}
		s, err := pgstore.New(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return nil, backend, fmt.Errorf("postgres ledger: %w", err)
		}
		return s, backend, nil
	case BackendRedis:
		if cfg.RedisAddr == "" {
			return nil, backend, errors.New("redis ledger requires REDIS_ADDR")
		}
		s, err := redisstore.New(ctx, redisstore.Options{
			Addr:      cfg.RedisAddr,
			Password:  cfg.RedisPassword,
			DB:        cfg.RedisDB,
			KeyPrefix: cfg.RedisKeyPrefix,
		}, logger)
		if err != nil {
			return nil, backend, fmt.Errorf("redis ledger: %w", err)
		}
		return s, backend, nil
	}
	return nil, backend, fmt.Errorf("unknown LEDGER_BACKEND %q", cfg.Backend)
}
