package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"caisse/backend/internal/domain"
	"caisse/backend/internal/store"
	"caisse/backend/internal/store/memory"
)

func invoice(number, vendor string, cents int64) domain.Invoice {
	return domain.Invoice{
		InvoiceNumber: number,
		VendorID:      vendor,
		VendorName:    vendor,
		TotalAmount:   domain.Money(cents),
	}
}

func vendorTotal(t *testing.T, s store.Ledger, vendor string) domain.Money {
	t.Helper()
	total, err := s.GetVendorTotal(context.Background(), vendor)
	require.NoError(t, err)
	return total.Total
}

func TestUpsertIsIdempotent(t *testing.T) {
	s := memory.New()
	engine := NewEngine(s, nil, Options{})
	ctx := context.Background()

	first, err := engine.Upsert(ctx, invoice("F-1", "alice", 10000))
	require.NoError(t, err)
	assert.True(t, first.Created)
	assert.Equal(t, domain.Money(10000), first.Delta)

	second, err := engine.Upsert(ctx, invoice("F-1", "alice", 10000))
	require.NoError(t, err)
	assert.False(t, second.Created)
	assert.Equal(t, domain.Money(0), second.Delta)

	assert.Equal(t, domain.Money(10000), vendorTotal(t, s, "alice"))
}

func TestUpsertAppliesCorrectionDelta(t *testing.T) {
	s := memory.New()
	engine := NewEngine(s, nil, Options{})
	ctx := context.Background()

	_, err := engine.Upsert(ctx, invoice("F-1", "alice", 10000))
	require.NoError(t, err)
	result, err := engine.Upsert(ctx, invoice("F-1", "alice", 15000))
	require.NoError(t, err)

	assert.Equal(t, domain.Money(5000), result.Delta)
	assert.Equal(t, domain.Money(10000), result.PreviousAmount)
	assert.Equal(t, domain.Money(15000), vendorTotal(t, s, "alice"))

	result, err = engine.Upsert(ctx, invoice("F-1", "alice", 4000))
	require.NoError(t, err)
	assert.Equal(t, domain.Money(-11000), result.Delta)
	assert.Equal(t, domain.Money(4000), vendorTotal(t, s, "alice"))
}

func TestUpsertReassignsVendor(t *testing.T) {
	s := memory.New()
	engine := NewEngine(s, nil, Options{})
	ctx := context.Background()

	_, err := engine.Upsert(ctx, invoice("F-1", "alice", 8000))
	require.NoError(t, err)
	_, err = engine.Upsert(ctx, invoice("F-2", "alice", 2000))
	require.NoError(t, err)

	result, err := engine.Upsert(ctx, invoice("F-1", "bob", 8000))
	require.NoError(t, err)
	assert.True(t, result.Reassigned())
	assert.Equal(t, "alice", result.PreviousVendorID)

	assert.Equal(t, domain.Money(2000), vendorTotal(t, s, "alice"))
	assert.Equal(t, domain.Money(8000), vendorTotal(t, s, "bob"))

	stored, err := s.GetInvoice(ctx, "F-1")
	require.NoError(t, err)
	assert.Equal(t, "bob", stored.VendorID)
}

func TestUpsertNoOpWritesNothing(t *testing.T) {
	s := memory.New()
	engine := NewEngine(s, nil, Options{})
	ctx := context.Background()

	for _, cents := range []int64{0, -500} {
		_, err := engine.Upsert(ctx, invoice("F-0", "alice", cents))
		require.ErrorIs(t, err, ErrNoOp)
	}

	_, err := s.GetInvoice(ctx, "F-0")
	assert.ErrorIs(t, err, store.ErrNotFound)
	totals, err := s.ListVendorTotals(ctx)
	require.NoError(t, err)
	assert.Empty(t, totals)
}

func TestUpsertRejectsMissingIdentity(t *testing.T) {
	engine := NewEngine(memory.New(), nil, Options{})

	_, err := engine.Upsert(context.Background(), invoice(" ", "alice", 100))
	assert.ErrorIs(t, err, ErrInvalidInvoice)
	_, err = engine.Upsert(context.Background(), invoice("F-1", "", 100))
	assert.ErrorIs(t, err, ErrInvalidInvoice)
}

func seedDriftedTotal(t *testing.T, s store.Ledger, vendor string, cents int64) {
	t.Helper()
	err := s.Update(context.Background(), func(tx store.Tx) error {
		return tx.PutVendorTotal(context.Background(), domain.VendorTotal{VendorID: vendor, Total: domain.Money(cents)})
	})
	require.NoError(t, err)
}

func TestNegativePolicyClampFloorsAtZero(t *testing.T) {
	s := memory.New()
	engine := NewEngine(s, nil, Options{NegativePolicy: NegativeClamp})
	ctx := context.Background()

	_, err := engine.Upsert(ctx, invoice("F-1", "alice", 10000))
	require.NoError(t, err)
	seedDriftedTotal(t, s, "alice", 3000)

	result, err := engine.Upsert(ctx, invoice("F-1", "alice", 2000))
	require.NoError(t, err)
	assert.True(t, result.Clamped)
	assert.Equal(t, domain.Money(0), vendorTotal(t, s, "alice"))
}

func TestNegativePolicyRejectLeavesStoreUntouched(t *testing.T) {
	s := memory.New()
	engine := NewEngine(s, nil, Options{NegativePolicy: NegativeReject})
	ctx := context.Background()

	_, err := engine.Upsert(ctx, invoice("F-1", "alice", 10000))
	require.NoError(t, err)
	seedDriftedTotal(t, s, "alice", 3000)

	_, err = engine.Upsert(ctx, invoice("F-1", "alice", 2000))
	require.ErrorIs(t, err, ErrNegativeTotal)

	assert.Equal(t, domain.Money(3000), vendorTotal(t, s, "alice"))
	stored, err := s.GetInvoice(ctx, "F-1")
	require.NoError(t, err)
	assert.Equal(t, domain.Money(10000), stored.TotalAmount)
}

func TestParseNegativePolicy(t *testing.T) {
	policy, err := ParseNegativePolicy("")
	require.NoError(t, err)
	assert.Equal(t, NegativeClamp, policy)

	policy, err = ParseNegativePolicy(" Reject ")
	require.NoError(t, err)
	assert.Equal(t, NegativeReject, policy)

	_, err = ParseNegativePolicy("ignore")
	assert.Error(t, err)
}

// conflictingStore fails the first N Update calls with ErrConflict.
type conflictingStore struct {
	store.Ledger
	remaining atomic.Int32
	calls     atomic.Int32
}

func (c *conflictingStore) Update(ctx context.Context, fn func(tx store.Tx) error) error {
	c.calls.Add(1)
	if c.remaining.Add(-1) >= 0 {
		return store.ErrConflict
	}
	return c.Ledger.Update(ctx, fn)
}

func TestUpsertRetriesOnConflict(t *testing.T) {
	s := &conflictingStore{Ledger: memory.New()}
	s.remaining.Store(2)
	engine := NewEngine(s, nil, Options{RetryBackoff: time.Millisecond})

	_, err := engine.Upsert(context.Background(), invoice("F-1", "alice", 500))
	require.NoError(t, err)
	assert.Equal(t, int32(3), s.calls.Load())
	assert.Equal(t, domain.Money(500), vendorTotal(t, s, "alice"))
}

func TestUpsertGivesUpAfterMaxAttempts(t *testing.T) {
	s := &conflictingStore{Ledger: memory.New()}
	s.remaining.Store(10)
	engine := NewEngine(s, nil, Options{MaxAttempts: 3, RetryBackoff: time.Millisecond})

	_, err := engine.Upsert(context.Background(), invoice("F-1", "alice", 500))
	require.True(t, errors.Is(err, store.ErrConflict))
	assert.Equal(t, int32(3), s.calls.Load())
}

func TestConcurrentUpsertsConserveTotals(t *testing.T) {
	s := memory.New()
	engine := NewEngine(s, nil, Options{})
	ctx := context.Background()
	vendors := []string{"alice", "bob", "carol"}

	var wg sync.WaitGroup
	for worker := 0; worker < 8; worker++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for i := 0; i < 25; i++ {
				number := fmt.Sprintf("F-%d", i%10)
				vendor := vendors[(worker+i)%len(vendors)]
				_, err := engine.Upsert(ctx, invoice(number, vendor, int64(100*(worker+1)+i)))
				assert.NoError(t, err)
			}
		}(worker)
	}
	wg.Wait()

	var invoiceSum domain.Money
	for i := 0; i < 10; i++ {
		inv, err := s.GetInvoice(ctx, fmt.Sprintf("F-%d", i))
		require.NoError(t, err)
		invoiceSum += inv.TotalAmount
	}

	totals, err := s.ListVendorTotals(ctx)
	require.NoError(t, err)
	var totalSum domain.Money
	for _, total := range totals {
		assert.GreaterOrEqual(t, int64(total.Total), int64(0))
		totalSum += total.Total
	}
	assert.Equal(t, invoiceSum, totalSum)
	assert.Zero(t, engine.locks.size())
}

func TestUpsertRefusesVendorTotalOverflow(t *testing.T) {
	s := memory.New()
	engine := NewEngine(s, nil, Options{})
	ctx := context.Background()
	seedDriftedTotal(t, s, "alice", math.MaxInt64-10)

	_, err := engine.Upsert(ctx, invoice("F-1", "alice", 100))
	require.ErrorIs(t, err, domain.ErrAmountOutOfRange)

	assert.Equal(t, domain.Money(math.MaxInt64-10), vendorTotal(t, s, "alice"))
	_, err = s.GetInvoice(ctx, "F-1")
	assert.ErrorIs(t, err, store.ErrNotFound)
}
