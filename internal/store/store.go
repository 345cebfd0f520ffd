package store

import (
	"context"
	"errors"

	"caisse/backend/internal/domain"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrInvalidRecord = errors.New("invalid ledger record")

	// ErrConflict reports that a concurrent writer touched data read inside
	// an Update unit. The unit had no effect and may be retried.
	ErrConflict = errors.New("concurrent ledger modification")
)

// Tx is the view of the ledger inside one Update unit. Writes become
// visible to other callers only when the unit commits, and all of them
// commit together.
type Tx interface {
	GetIndexEntry(ctx context.Context, invoiceNumber string) (*domain.LedgerIndexEntry, error)
	GetVendorTotal(ctx context.Context, vendorID string) (domain.VendorTotal, error)
	ListInvoices(ctx context.Context) ([]domain.Invoice, error)
	ListVendorTotals(ctx context.Context) ([]domain.VendorTotal, error)
	PutInvoice(ctx context.Context, inv domain.Invoice) error
	PutIndexEntry(ctx context.Context, entry domain.LedgerIndexEntry) error
	PutVendorTotal(ctx context.Context, total domain.VendorTotal) error
	DeleteVendorTotal(ctx context.Context, vendorID string) error
}

// Ledger owns invoices, index entries and vendor totals.
type Ledger interface {
	// Update runs fn as one atomic unit. If fn returns an error nothing is
	// written. Implementations return ErrConflict when a concurrent unit
	// invalidated what fn read.
	Update(ctx context.Context, fn func(tx Tx) error) error

	GetInvoice(ctx context.Context, invoiceNumber string) (*domain.Invoice, error)
	GetVendorTotal(ctx context.Context, vendorID string) (domain.VendorTotal, error)
	ListVendorTotals(ctx context.Context) ([]domain.VendorTotal, error)
	ListRecentInvoices(ctx context.Context, limit int) ([]domain.Invoice, error)
	ListInvoiceNumbers(ctx context.Context, limit int) ([]string, error)
	Close() error
}
