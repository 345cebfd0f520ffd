package ledger

import (
	"context"
	"time"

	"caisse/backend/internal/canonical"
	"caisse/backend/internal/domain"
	"caisse/backend/internal/store"
)

const (
	DefaultRecentLimit = 20
	MaxRecentLimit     = 100
)

// Query reads totals straight from the store. Reads are not isolated from
// concurrent upserts.
type Query struct {
	store       store.Ledger
	recentLimit int
	now         func() time.Time
}

func NewQuery(ledgerStore store.Ledger, recentLimit int) *Query {
	if recentLimit < 1 {
		recentLimit = DefaultRecentLimit
	}
	if recentLimit > MaxRecentLimit {
		recentLimit = MaxRecentLimit
	}
	return &Query{store: ledgerStore, recentLimit: recentLimit, now: time.Now}
}

func (q *Query) RecentLimit() int {
	return q.recentLimit
}

// VendorTotal returns the running total for one vendor. Unknown vendors
// have a zero total. Display names are folded to vendor ids first.
func (q *Query) VendorTotal(ctx context.Context, vendorID string) (domain.VendorTotal, error) {
	id := vendorID
	if !canonical.IsVendorID(id) {
		id = canonical.VendorID(id)
	}
	if id == "" {
		return domain.VendorTotal{VendorID: vendorID}, nil
	}
	return q.store.GetVendorTotal(ctx, id)
}

// Snapshot returns every vendor total plus the most recently written
// invoices. limit < 1 uses the configured default.
func (q *Query) Snapshot(ctx context.Context, limit int) (domain.RevenueSnapshot, error) {
	if limit < 1 {
		limit = q.recentLimit
	}
	if limit > MaxRecentLimit {
		limit = MaxRecentLimit
	}

	totals, err := q.store.ListVendorTotals(ctx)
	if err != nil {
		return domain.RevenueSnapshot{}, err
	}
	recent, err := q.store.ListRecentInvoices(ctx, limit)
	if err != nil {
		return domain.RevenueSnapshot{}, err
	}

	snapshot := domain.RevenueSnapshot{
		Totals:      make(map[string]domain.Money, len(totals)),
		Recent:      recent,
		GeneratedAt: q.now().UTC(),
	}
	for _, total := range totals {
		snapshot.Totals[total.VendorID] = total.Total
	}
	if snapshot.Recent == nil {
		snapshot.Recent = []domain.Invoice{}
	}
	return snapshot, nil
}

func (q *Query) InvoiceNumbers(ctx context.Context, limit int) ([]string, error) {
	return q.store.ListInvoiceNumbers(ctx, limit)
}
