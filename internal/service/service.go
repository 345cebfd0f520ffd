package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"caisse/backend/internal/cache"
	"caisse/backend/internal/canonical"
	"caisse/backend/internal/domain"
	"caisse/backend/internal/ledger"
)

var ErrForbidden = errors.New("admin role required")

const ReasonNoOp = "no_op"

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

type Options struct {
	DefaultVendorName string
	CacheTTL          time.Duration
	Now               func() time.Time
}

type Service struct {
	engine            *ledger.Engine
	query             *ledger.Query
	reconciler        *ledger.Reconciler
	revenueCache      cache.RevenueCache
	cacheTTL          time.Duration
	defaultVendorName string
	logger            *zap.Logger
	now               func() time.Time
}

func New(engine *ledger.Engine, query *ledger.Query, reconciler *ledger.Reconciler, revenueCache cache.RevenueCache, logger *zap.Logger, opts Options) *Service {
	if revenueCache == nil {
		revenueCache = cache.NoopRevenueCache{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.DefaultVendorName == "" {
		opts.DefaultVendorName = canonical.DefaultVendorName
	}

	return &Service{
		engine:            engine,
		query:             query,
		reconciler:        reconciler,
		revenueCache:      revenueCache,
		cacheTTL:          opts.CacheTTL,
		defaultVendorName: opts.DefaultVendorName,
		logger:            logger.With(zap.String("component", "service")),
		now:               opts.Now,
	}
}

type IngestResult struct {
	Enqueued int
	Created  bool
	Reason   string
	Invoice  domain.Invoice
}

// Ingest canonicalises a raw payload and upserts it. A payload without a
// positive amount is reported as a no-op, not an error.
func (s *Service) Ingest(ctx context.Context, raw map[string]any) (IngestResult, error) {
	inv, err := canonical.Canonicalize(raw, canonical.Options{
		Now:               s.now,
		DefaultVendorName: s.defaultVendorName,
	})
	if err != nil {
		return IngestResult{}, err
	}

	result, err := s.engine.Upsert(ctx, inv)
	if errors.Is(err, ledger.ErrNoOp) {
		s.logger.Info("invoice ignored without amount",
			zap.String("invoice", inv.InvoiceNumber),
			zap.String("vendor", inv.VendorID))
		return IngestResult{Reason: ReasonNoOp, Invoice: inv}, nil
	}
	if err != nil {
		return IngestResult{}, err
	}

	s.invalidateRevenue(ctx)
	return IngestResult{Enqueued: 1, Created: result.Created, Invoice: result.Invoice}, nil
}

func (s *Service) VendorRevenue(ctx context.Context, vendorID string) (domain.VendorTotal, error) {
	return s.query.VendorTotal(ctx, vendorID)
}

// RevenueSnapshot serves the default-sized snapshot from the revenue cache
// when one is configured. Other limits always read the store.
func (s *Service) RevenueSnapshot(ctx context.Context, limit int) (domain.RevenueSnapshot, error) {
	cacheable := s.cacheTTL > 0 && (limit < 1 || limit == s.query.RecentLimit())
	if cacheable {
		cached, hit, err := s.revenueCache.Get(ctx, cache.RevenueSnapshotKey)
		if err != nil {
			s.logger.Warn("revenue cache read failed", zap.Error(err))
		} else if hit && cached != nil {
			return *cached, nil
		}
	}

	snapshot, err := s.query.Snapshot(ctx, limit)
	if err != nil {
		return domain.RevenueSnapshot{}, err
	}

	if cacheable {
		if err := s.revenueCache.Set(ctx, cache.RevenueSnapshotKey, &snapshot, s.cacheTTL); err != nil {
			s.logger.Warn("revenue cache write failed", zap.Error(err))
		}
	}
	return snapshot, nil
}

func (s *Service) InvoiceNumbers(ctx context.Context, limit int) ([]string, error) {
	return s.query.InvoiceNumbers(ctx, limit)
}

func (s *Service) Reconcile(ctx context.Context, dryRun bool) (domain.ReconcileReport, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok || actor.Role != domain.RoleAdmin {
		return domain.ReconcileReport{}, ErrForbidden
	}

	report, err := s.reconciler.Run(ctx, dryRun)
	if err != nil {
		return domain.ReconcileReport{}, err
	}
	if report.Applied {
		s.invalidateRevenue(ctx)
	}
	s.logger.Info("reconcile requested",
		zap.String("actor", actor.Subject),
		zap.Bool("dry_run", dryRun),
		zap.Bool("applied", report.Applied))
	return report, nil
}

func (s *Service) invalidateRevenue(ctx context.Context) {
	if err := s.revenueCache.Delete(ctx, cache.RevenueSnapshotKey); err != nil {
		s.logger.Warn("revenue cache invalidation failed", zap.Error(err))
	}
}
