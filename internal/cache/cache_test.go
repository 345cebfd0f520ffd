package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"caisse/backend/internal/domain"
)

func TestNoopRevenueCacheNeverHits(t *testing.T) {
	var c RevenueCache = NoopRevenueCache{}
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, RevenueSnapshotKey, &domain.RevenueSnapshot{}, time.Minute))
	_, hit, err := c.Get(ctx, RevenueSnapshotKey)
	require.NoError(t, err)
	assert.False(t, hit)
	assert.NoError(t, c.Delete(ctx, RevenueSnapshotKey))
}

func TestRedisRevenueCacheRoundTrip(t *testing.T) {
	addr := os.Getenv("LEDGER_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("set LEDGER_TEST_REDIS_ADDR to run redis cache test")
	}

	c := NewRedisRevenueCache(addr, "", 0)
	t.Cleanup(func() { _ = c.Close() })
	ctx := context.Background()
	key := "ledger-test:revenue:" + time.Now().Format("150405.000000000")
	require.NoError(t, c.Ping(ctx))

	snapshot := &domain.RevenueSnapshot{
		Totals:      map[string]domain.Money{"alice": 12550},
		Recent:      []domain.Invoice{{InvoiceNumber: "F-1", VendorID: "alice", TotalAmount: 12550}},
		GeneratedAt: time.Now().UTC(),
	}
	require.NoError(t, c.Set(ctx, key, snapshot, time.Minute))

	got, hit, err := c.Get(ctx, key)
	require.NoError(t, err)
	require.True(t, hit)
	assert.Equal(t, domain.Money(12550), got.Totals["alice"])
	assert.Equal(t, "F-1", got.Recent[0].InvoiceNumber)

	require.NoError(t, c.Delete(ctx, key))
	_, hit, err = c.Get(ctx, key)
	require.NoError(t, err)
	assert.False(t, hit)
}
