package ledger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"caisse/backend/internal/domain"
	"caisse/backend/internal/store"
	"caisse/backend/internal/store/memory"
)

func TestReconcileCleanLedger(t *testing.T) {
	s := memory.New()
	engine := NewEngine(s, nil, Options{})
	ctx := context.Background()

	_, err := engine.Upsert(ctx, invoice("F-1", "alice", 1000))
	require.NoError(t, err)
	_, err = engine.Upsert(ctx, invoice("F-2", "bob", 2500))
	require.NoError(t, err)

	report, err := NewReconciler(s, nil).Run(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 2, report.InvoiceCount)
	assert.Equal(t, domain.Money(3500), report.InvoiceSum)
	assert.Equal(t, domain.Money(3500), report.StoredSum)
	assert.Empty(t, report.Drifts)
	assert.Zero(t, report.IndexRepairs)
	assert.False(t, report.Applied)
}

func TestReconcileRepairsDrift(t *testing.T) {
	s := memory.New()
	engine := NewEngine(s, nil, Options{})
	ctx := context.Background()

	_, err := engine.Upsert(ctx, invoice("F-1", "alice", 1000))
	require.NoError(t, err)
	seedDriftedTotal(t, s, "alice", 700)
	seedDriftedTotal(t, s, "ghost", 50)

	dry, err := NewReconciler(s, nil).Run(ctx, true)
	require.NoError(t, err)
	require.Len(t, dry.Drifts, 2)
	assert.Equal(t, domain.VendorDrift{VendorID: "alice", Stored: 700, Computed: 1000, Delta: 300}, dry.Drifts[0])
	assert.Equal(t, domain.VendorDrift{VendorID: "ghost", Stored: 50, Computed: 0, Delta: -50}, dry.Drifts[1])
	assert.False(t, dry.Applied)
	assert.Equal(t, domain.Money(700), vendorTotal(t, s, "alice"))

	report, err := NewReconciler(s, nil).Run(ctx, false)
	require.NoError(t, err)
	assert.True(t, report.Applied)
	assert.Equal(t, domain.Money(1000), vendorTotal(t, s, "alice"))

	totals, err := s.ListVendorTotals(ctx)
	require.NoError(t, err)
	require.Len(t, totals, 1)
	assert.Equal(t, "alice", totals[0].VendorID)
}

func TestReconcileRepairsIndex(t *testing.T) {
	s := memory.New()
	ctx := context.Background()

	err := s.Update(ctx, func(tx store.Tx) error {
		if err := tx.PutInvoice(ctx, invoice("F-9", "alice", 1200)); err != nil {
			return err
		}
		return tx.PutVendorTotal(ctx, domain.VendorTotal{VendorID: "alice", Total: 1200})
	})
	require.NoError(t, err)

	report, err := NewReconciler(s, nil).Run(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, 1, report.IndexRepairs)
	assert.Empty(t, report.Drifts)

	// A later correction must now see the repaired index entry.
	result, err := NewEngine(s, nil, Options{}).Upsert(ctx, invoice("F-9", "alice", 1500))
	require.NoError(t, err)
	assert.Equal(t, domain.Money(300), result.Delta)
	assert.Equal(t, domain.Money(1500), vendorTotal(t, s, "alice"))
}

func TestReconcileRemovesZeroRowsAndReportsApplied(t *testing.T) {
	s := memory.New()
	ctx := context.Background()
	seedDriftedTotal(t, s, "ghost", 0)

	dry, err := NewReconciler(s, nil).Run(ctx, true)
	require.NoError(t, err)
	assert.Empty(t, dry.Drifts)
	assert.False(t, dry.Applied)

	report, err := NewReconciler(s, nil).Run(ctx, false)
	require.NoError(t, err)
	assert.Empty(t, report.Drifts)
	assert.True(t, report.Applied)

	totals, err := s.ListVendorTotals(ctx)
	require.NoError(t, err)
	assert.Empty(t, totals)

	again, err := NewReconciler(s, nil).Run(ctx, false)
	require.NoError(t, err)
	assert.False(t, again.Applied)
}
