package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"caisse/backend/internal/domain"
	"caisse/backend/internal/store/memory"
)

func TestQueryVendorTotal(t *testing.T) {
	s := memory.New()
	engine := NewEngine(s, nil, Options{})
	ctx := context.Background()

	_, err := engine.Upsert(ctx, invoice("F-1", "emilie-dupont", 4250))
	require.NoError(t, err)

	query := NewQuery(s, 0)
	total, err := query.VendorTotal(ctx, "emilie-dupont")
	require.NoError(t, err)
	assert.Equal(t, domain.Money(4250), total.Total)

	total, err = query.VendorTotal(ctx, "Émilie Dupont")
	require.NoError(t, err)
	assert.Equal(t, domain.Money(4250), total.Total)

	total, err = query.VendorTotal(ctx, "nobody")
	require.NoError(t, err)
	assert.Equal(t, domain.Money(0), total.Total)
}

func TestQuerySnapshotOrdersRecentAndLimits(t *testing.T) {
	s := memory.New()
	clock := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	engine := NewEngine(s, nil, Options{Now: func() time.Time {
		clock = clock.Add(time.Minute)
		return clock
	}})
	ctx := context.Background()

	for _, inv := range []domain.Invoice{
		invoice("F-1", "alice", 100),
		invoice("F-2", "bob", 200),
		invoice("F-3", "alice", 300),
	} {
		_, err := engine.Upsert(ctx, inv)
		require.NoError(t, err)
	}

	query := NewQuery(s, 2)
	snapshot, err := query.Snapshot(ctx, 0)
	require.NoError(t, err)

	assert.Equal(t, map[string]domain.Money{"alice": 400, "bob": 200}, snapshot.Totals)
	require.Len(t, snapshot.Recent, 2)
	assert.Equal(t, "F-3", snapshot.Recent[0].InvoiceNumber)
	assert.Equal(t, "F-2", snapshot.Recent[1].InvoiceNumber)

	snapshot, err = query.Snapshot(ctx, 10)
	require.NoError(t, err)
	assert.Len(t, snapshot.Recent, 3)
}

func TestQuerySnapshotEmptyLedger(t *testing.T) {
	snapshot, err := NewQuery(memory.New(), 500).Snapshot(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, snapshot.Totals)
	assert.NotNil(t, snapshot.Recent)
}

func TestNewQueryClampsLimit(t *testing.T) {
	assert.Equal(t, DefaultRecentLimit, NewQuery(memory.New(), 0).RecentLimit())
	assert.Equal(t, MaxRecentLimit, NewQuery(memory.New(), 1000).RecentLimit())
}
