// Package app wires the ledger, service and auth layers from configuration.
// Both binaries build on it.
package app

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"caisse/backend/internal/cache"
	"caisse/backend/internal/config"
	"caisse/backend/internal/httpapi"
	"caisse/backend/internal/ledger"
	"caisse/backend/internal/service"
	"caisse/backend/internal/store"
	"caisse/backend/internal/store/factory"
)

type App struct {
	Ledger     store.Ledger
	Backend    string
	Engine     *ledger.Engine
	Query      *ledger.Query
	Reconciler *ledger.Reconciler
	Service    *service.Service
	Auth       *httpapi.AuthManager

	closers []func() error
}

func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	policy, err := ledger.ParseNegativePolicy(cfg.NegativePolicy)
	if err != nil {
		return nil, err
	}

	repo, backend, err := factory.Open(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("ledger backend ready", zap.String("backend", backend))

	a := &App{
		Ledger:  repo,
		Backend: backend,
		closers: []func() error{repo.Close},
	}

	revenueCache := cache.RevenueCache(cache.NoopRevenueCache{})
	cacheTTL := time.Duration(cfg.RevenueCacheTTLSeconds) * time.Second
	if cfg.RedisAddr != "" && backend != factory.BackendRedis && cacheTTL > 0 {
		redisCache := cache.NewRedisRevenueCache(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := redisCache.Ping(ctx); err != nil {
			logger.Warn("redis unavailable, revenue cache disabled", zap.Error(err))
			_ = redisCache.Close()
		} else {
			revenueCache = redisCache
			a.closers = append(a.closers, redisCache.Close)
			logger.Info("revenue cache: redis", zap.Duration("ttl", cacheTTL))
		}
	}

	a.Engine = ledger.NewEngine(repo, logger, ledger.Options{
		NegativePolicy: policy,
		MaxAttempts:    cfg.MaxAttempts,
	})
	a.Query = ledger.NewQuery(repo, cfg.RecentInvoiceLimit)
	a.Reconciler = ledger.NewReconciler(repo, logger)
	a.Service = service.New(a.Engine, a.Query, a.Reconciler, revenueCache, logger, service.Options{
		DefaultVendorName: cfg.DefaultVendorName,
		CacheTTL:          cacheTTL,
	})
	a.Auth = httpapi.NewAuthManager(cfg.AuthSecret, time.Duration(cfg.AdminTokenTTLMinutes)*time.Minute, cfg.IngestSecret)
	return a, nil
}

// Close releases every backend in reverse order of opening.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
