package cache

import (
	"context"
	"time"

	"caisse/backend/internal/domain"
)

const RevenueSnapshotKey = "ledger:revenue:snapshot"

// RevenueCache holds revenue snapshots between ledger writes. Callers
// invalidate it after every successful upsert or reconcile.
type RevenueCache interface {
	Get(ctx context.Context, key string) (*domain.RevenueSnapshot, bool, error)
	Set(ctx context.Context, key string, value *domain.RevenueSnapshot, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

type NoopRevenueCache struct{}

func (NoopRevenueCache) Get(_ context.Context, _ string) (*domain.RevenueSnapshot, bool, error) {
	return nil, false, nil
}

func (NoopRevenueCache) Set(_ context.Context, _ string, _ *domain.RevenueSnapshot, _ time.Duration) error {
	return nil
}

func (NoopRevenueCache) Delete(_ context.Context, _ string) error {
	return nil
}
