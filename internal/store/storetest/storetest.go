// Package storetest holds the behaviour every store.Ledger backend must
// share. Backend packages call Run from their own tests.
package storetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"caisse/backend/internal/domain"
	"caisse/backend/internal/store"
)

// Factory returns an empty ledger. The suite closes it.
type Factory func(t *testing.T) store.Ledger

var errRollback = errors.New("rollback")

func Run(t *testing.T, newLedger Factory) {
	t.Run("EmptyReads", func(t *testing.T) { testEmptyReads(t, newLedger(t)) })
	t.Run("UpdateCommits", func(t *testing.T) { testUpdateCommits(t, newLedger(t)) })
	t.Run("UpdateRollsBack", func(t *testing.T) { testUpdateRollsBack(t, newLedger(t)) })
	t.Run("ReadYourWrites", func(t *testing.T) { testReadYourWrites(t, newLedger(t)) })
	t.Run("DeleteVendorTotal", func(t *testing.T) { testDeleteVendorTotal(t, newLedger(t)) })
	t.Run("RecentOrdering", func(t *testing.T) { testRecentOrdering(t, newLedger(t)) })
	t.Run("RecentTiesByNumber", func(t *testing.T) { testRecentTiesByNumber(t, newLedger(t)) })
	t.Run("InvalidRecord", func(t *testing.T) { testInvalidRecord(t, newLedger(t)) })
	t.Run("ConcurrentIncrements", func(t *testing.T) { testConcurrentIncrements(t, newLedger(t)) })
}

func closeLedger(t *testing.T, s store.Ledger) {
	t.Cleanup(func() { _ = s.Close() })
}

func sampleInvoice(number, vendor string, cents int64, at time.Time) domain.Invoice {
	return domain.Invoice{
		InvoiceNumber: number,
		Date:          at.Format("2006-01-02"),
		CustomerName:  "Client",
		TotalAmount:   domain.Money(cents),
		PaymentMethod: "carte",
		VendorName:    vendor,
		VendorID:      vendor,
		LineItems: []domain.LineItem{
			{Name: "Article", Quantity: 2, UnitPrice: domain.Money(cents / 2), Discount: 0},
		},
		UpdatedAt: at,
	}
}

func testEmptyReads(t *testing.T, s store.Ledger) {
	closeLedger(t, s)
	ctx := context.Background()

	_, err := s.GetInvoice(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)

	total, err := s.GetVendorTotal(ctx, "nobody")
	require.NoError(t, err)
	assert.Equal(t, domain.Money(0), total.Total)

	totals, err := s.ListVendorTotals(ctx)
	require.NoError(t, err)
	assert.Empty(t, totals)

	recent, err := s.ListRecentInvoices(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, recent)

	err = s.Update(ctx, func(tx store.Tx) error {
		_, err := tx.GetIndexEntry(ctx, "missing")
		return err
	})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testUpdateCommits(t *testing.T, s store.Ledger) {
	closeLedger(t, s)
	ctx := context.Background()
	at := time.Date(2026, 4, 2, 10, 30, 0, 0, time.UTC)
	inv := sampleInvoice("F-100", "alice", 4250, at)

	err := s.Update(ctx, func(tx store.Tx) error {
		if err := tx.PutInvoice(ctx, inv); err != nil {
			return err
		}
		if err := tx.PutIndexEntry(ctx, domain.LedgerIndexEntry{InvoiceNumber: "F-100", VendorID: "alice", TotalAmount: 4250, UpdatedAt: at}); err != nil {
			return err
		}
		return tx.PutVendorTotal(ctx, domain.VendorTotal{VendorID: "alice", Total: 4250, UpdatedAt: at})
	})
	require.NoError(t, err)

	stored, err := s.GetInvoice(ctx, "F-100")
	require.NoError(t, err)
	assert.Equal(t, inv.TotalAmount, stored.TotalAmount)
	assert.Equal(t, inv.VendorID, stored.VendorID)
	assert.Equal(t, inv.CustomerName, stored.CustomerName)
	assert.Equal(t, inv.LineItems, stored.LineItems)
	assert.True(t, inv.UpdatedAt.Equal(stored.UpdatedAt))

	total, err := s.GetVendorTotal(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, domain.Money(4250), total.Total)

	err = s.Update(ctx, func(tx store.Tx) error {
		entry, err := tx.GetIndexEntry(ctx, "F-100")
		if err != nil {
			return err
		}
		assert.Equal(t, "alice", entry.VendorID)
		assert.Equal(t, domain.Money(4250), entry.TotalAmount)
		return nil
	})
	require.NoError(t, err)

	numbers, err := s.ListInvoiceNumbers(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"F-100"}, numbers)
}

func testUpdateRollsBack(t *testing.T, s store.Ledger) {
	closeLedger(t, s)
	ctx := context.Background()
	at := time.Now().UTC()

	err := s.Update(ctx, func(tx store.Tx) error {
		if err := tx.PutInvoice(ctx, sampleInvoice("F-1", "alice", 100, at)); err != nil {
			return err
		}
		if err := tx.PutVendorTotal(ctx, domain.VendorTotal{VendorID: "alice", Total: 100, UpdatedAt: at}); err != nil {
			return err
		}
		return errRollback
	})
	require.ErrorIs(t, err, errRollback)

	_, err = s.GetInvoice(ctx, "F-1")
	assert.ErrorIs(t, err, store.ErrNotFound)
	total, err := s.GetVendorTotal(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, domain.Money(0), total.Total)
}

func testReadYourWrites(t *testing.T, s store.Ledger) {
	closeLedger(t, s)
	ctx := context.Background()
	at := time.Now().UTC()

	err := s.Update(ctx, func(tx store.Tx) error {
		if err := tx.PutInvoice(ctx, sampleInvoice("F-1", "alice", 300, at)); err != nil {
			return err
		}
		if err := tx.PutIndexEntry(ctx, domain.LedgerIndexEntry{InvoiceNumber: "F-1", VendorID: "alice", TotalAmount: 300, UpdatedAt: at}); err != nil {
			return err
		}
		if err := tx.PutVendorTotal(ctx, domain.VendorTotal{VendorID: "alice", Total: 300, UpdatedAt: at}); err != nil {
			return err
		}

		entry, err := tx.GetIndexEntry(ctx, "F-1")
		require.NoError(t, err)
		assert.Equal(t, domain.Money(300), entry.TotalAmount)

		total, err := tx.GetVendorTotal(ctx, "alice")
		require.NoError(t, err)
		assert.Equal(t, domain.Money(300), total.Total)

		invoices, err := tx.ListInvoices(ctx)
		require.NoError(t, err)
		assert.Len(t, invoices, 1)

		totals, err := tx.ListVendorTotals(ctx)
		require.NoError(t, err)
		assert.Len(t, totals, 1)
		return nil
	})
	require.NoError(t, err)
}

func testDeleteVendorTotal(t *testing.T, s store.Ledger) {
	closeLedger(t, s)
	ctx := context.Background()
	at := time.Now().UTC()

	require.NoError(t, s.Update(ctx, func(tx store.Tx) error {
		if err := tx.PutVendorTotal(ctx, domain.VendorTotal{VendorID: "alice", Total: 10, UpdatedAt: at}); err != nil {
			return err
		}
		return tx.PutVendorTotal(ctx, domain.VendorTotal{VendorID: "bob", Total: 20, UpdatedAt: at})
	}))

	require.NoError(t, s.Update(ctx, func(tx store.Tx) error {
		if err := tx.DeleteVendorTotal(ctx, "alice"); err != nil {
			return err
		}
		total, err := tx.GetVendorTotal(ctx, "alice")
		if err != nil {
			return err
		}
		assert.Equal(t, domain.Money(0), total.Total)
		return nil
	}))

	totals, err := s.ListVendorTotals(ctx)
	require.NoError(t, err)
	require.Len(t, totals, 1)
	assert.Equal(t, "bob", totals[0].VendorID)
	assert.Equal(t, domain.Money(20), totals[0].Total)
}

func testRecentTiesByNumber(t *testing.T, s store.Ledger) {
	closeLedger(t, s)
	ctx := context.Background()
	at := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)

	require.NoError(t, s.Update(ctx, func(tx store.Tx) error {
		return tx.PutInvoice(ctx, sampleInvoice("T-newest", "alice", 100, at.Add(time.Minute)))
	}))
	for _, number := range []string{"T-c", "T-a", "T-d", "T-b"} {
		inv := sampleInvoice(number, "alice", 100, at)
		require.NoError(t, s.Update(ctx, func(tx store.Tx) error { return tx.PutInvoice(ctx, inv) }))
	}

	recent, err := s.ListRecentInvoices(ctx, 3)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.Equal(t, "T-newest", recent[0].InvoiceNumber)
	assert.Equal(t, "T-a", recent[1].InvoiceNumber)
	assert.Equal(t, "T-b", recent[2].InvoiceNumber)
}

func testRecentOrdering(t *testing.T, s store.Ledger) {
	closeLedger(t, s)
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		inv := sampleInvoice(fmt.Sprintf("F-%d", i), "alice", int64(100+i), base.Add(time.Duration(i)*time.Minute))
		require.NoError(t, s.Update(ctx, func(tx store.Tx) error { return tx.PutInvoice(ctx, inv) }))
	}

	recent, err := s.ListRecentInvoices(ctx, 3)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.Equal(t, "F-4", recent[0].InvoiceNumber)
	assert.Equal(t, "F-3", recent[1].InvoiceNumber)
	assert.Equal(t, "F-2", recent[2].InvoiceNumber)

	numbers, err := s.ListInvoiceNumbers(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"F-0", "F-1"}, numbers)
}

func testInvalidRecord(t *testing.T, s store.Ledger) {
	closeLedger(t, s)
	ctx := context.Background()

	err := s.Update(ctx, func(tx store.Tx) error {
		return tx.PutInvoice(ctx, domain.Invoice{VendorID: "alice", TotalAmount: 100})
	})
	assert.ErrorIs(t, err, store.ErrInvalidRecord)
}

// testConcurrentIncrements runs read-modify-write units against one vendor
// total, retrying on ErrConflict the way the upsert engine does. No
// increment may be lost.
func testConcurrentIncrements(t *testing.T, s store.Ledger) {
	closeLedger(t, s)
	ctx := context.Background()
	const workers, perWorker = 4, 10

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				err := retry(ctx, func() error {
					return s.Update(ctx, func(tx store.Tx) error {
						current, err := tx.GetVendorTotal(ctx, "shared")
						if err != nil {
							return err
						}
						current.Total++
						current.UpdatedAt = time.Now().UTC()
						return tx.PutVendorTotal(ctx, current)
					})
				})
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	total, err := s.GetVendorTotal(ctx, "shared")
	require.NoError(t, err)
	assert.Equal(t, domain.Money(workers*perWorker), total.Total)
}

func retry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 1; attempt <= 50; attempt++ {
		if err = fn(); !errors.Is(err, store.ErrConflict) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * time.Millisecond):
		}
	}
	return err
}
