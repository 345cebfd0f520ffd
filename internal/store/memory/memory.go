package memory

import (
	"context"
	"slices"
	"sort"
	"strings"
	"sync"

	"caisse/backend/internal/domain"
	"caisse/backend/internal/store"
)

// Store keeps the ledger in process memory. State lives as long as the
// process, so it backs tests and throwaway dev runs only.
type Store struct {
	mu       sync.RWMutex
	invoices map[string]domain.Invoice
	index    map[string]domain.LedgerIndexEntry
	vendors  map[string]domain.VendorTotal
}

func New() *Store {
	return &Store{
		invoices: make(map[string]domain.Invoice),
		index:    make(map[string]domain.LedgerIndexEntry),
		vendors:  make(map[string]domain.VendorTotal),
	}
}

func (s *Store) Close() error {
	return nil
}

// Update holds the write lock for the whole unit, so units never conflict.
func (s *Store) Update(ctx context.Context, fn func(tx store.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{
		store:          s,
		invoices:       make(map[string]domain.Invoice),
		index:          make(map[string]domain.LedgerIndexEntry),
		vendors:        make(map[string]domain.VendorTotal),
		deletedVendors: make(map[string]struct{}),
	}
	if err := fn(tx); err != nil {
		return err
	}

	for number, inv := range tx.invoices {
		s.invoices[number] = inv
	}
	for number, entry := range tx.index {
		s.index[number] = entry
	}
	for vendorID := range tx.deletedVendors {
		delete(s.vendors, vendorID)
	}
	for vendorID, total := range tx.vendors {
		s.vendors[vendorID] = total
	}
	return nil
}

func (s *Store) GetInvoice(_ context.Context, invoiceNumber string) (*domain.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inv, ok := s.invoices[invoiceNumber]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := cloneInvoice(inv)
	return &copied, nil
}

func (s *Store) GetVendorTotal(_ context.Context, vendorID string) (domain.VendorTotal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total, ok := s.vendors[vendorID]
	if !ok {
		return domain.VendorTotal{VendorID: vendorID}, nil
	}
	return total, nil
}

func (s *Store) ListVendorTotals(_ context.Context) ([]domain.VendorTotal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return sortedTotals(s.vendors), nil
}

func (s *Store) ListRecentInvoices(_ context.Context, limit int) ([]domain.Invoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.Invoice, 0, len(s.invoices))
	for _, inv := range s.invoices {
		result = append(result, cloneInvoice(inv))
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].UpdatedAt.Equal(result[j].UpdatedAt) {
			return result[i].InvoiceNumber < result[j].InvoiceNumber
		}
		return result[i].UpdatedAt.After(result[j].UpdatedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (s *Store) ListInvoiceNumbers(_ context.Context, limit int) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	numbers := make([]string, 0, len(s.invoices))
	for number := range s.invoices {
		numbers = append(numbers, number)
	}
	slices.Sort(numbers)
	if limit > 0 && len(numbers) > limit {
		numbers = numbers[:limit]
	}
	return numbers, nil
}

// memTx stages writes; reads see staged values first. The parent lock is
// held by Update for the lifetime of the tx.
type memTx struct {
	store          *Store
	invoices       map[string]domain.Invoice
	index          map[string]domain.LedgerIndexEntry
	vendors        map[string]domain.VendorTotal
	deletedVendors map[string]struct{}
}

func (t *memTx) GetIndexEntry(_ context.Context, invoiceNumber string) (*domain.LedgerIndexEntry, error) {
	if entry, ok := t.index[invoiceNumber]; ok {
		return &entry, nil
	}
	entry, ok := t.store.index[invoiceNumber]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &entry, nil
}

func (t *memTx) GetVendorTotal(_ context.Context, vendorID string) (domain.VendorTotal, error) {
	if total, ok := t.vendors[vendorID]; ok {
		return total, nil
	}
	if _, deleted := t.deletedVendors[vendorID]; deleted {
		return domain.VendorTotal{VendorID: vendorID}, nil
	}
	total, ok := t.store.vendors[vendorID]
	if !ok {
		return domain.VendorTotal{VendorID: vendorID}, nil
	}
	return total, nil
}

func (t *memTx) ListInvoices(_ context.Context) ([]domain.Invoice, error) {
	merged := make(map[string]domain.Invoice, len(t.store.invoices)+len(t.invoices))
	for number, inv := range t.store.invoices {
		merged[number] = inv
	}
	for number, inv := range t.invoices {
		merged[number] = inv
	}

	result := make([]domain.Invoice, 0, len(merged))
	for _, inv := range merged {
		result = append(result, cloneInvoice(inv))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].InvoiceNumber < result[j].InvoiceNumber })
	return result, nil
}

func (t *memTx) ListVendorTotals(_ context.Context) ([]domain.VendorTotal, error) {
	merged := make(map[string]domain.VendorTotal, len(t.store.vendors)+len(t.vendors))
	for vendorID, total := range t.store.vendors {
		if _, deleted := t.deletedVendors[vendorID]; !deleted {
			merged[vendorID] = total
		}
	}
	for vendorID, total := range t.vendors {
		merged[vendorID] = total
	}
	return sortedTotals(merged), nil
}

func (t *memTx) PutInvoice(_ context.Context, inv domain.Invoice) error {
	if strings.TrimSpace(inv.InvoiceNumber) == "" {
		return store.ErrInvalidRecord
	}
	t.invoices[inv.InvoiceNumber] = cloneInvoice(inv)
	return nil
}

func (t *memTx) PutIndexEntry(_ context.Context, entry domain.LedgerIndexEntry) error {
	t.index[entry.InvoiceNumber] = entry
	return nil
}

func (t *memTx) PutVendorTotal(_ context.Context, total domain.VendorTotal) error {
	delete(t.deletedVendors, total.VendorID)
	t.vendors[total.VendorID] = total
	return nil
}

func (t *memTx) DeleteVendorTotal(_ context.Context, vendorID string) error {
	delete(t.vendors, vendorID)
	t.deletedVendors[vendorID] = struct{}{}
	return nil
}

func cloneInvoice(inv domain.Invoice) domain.Invoice {
	inv.LineItems = slices.Clone(inv.LineItems)
	return inv
}

func sortedTotals(vendors map[string]domain.VendorTotal) []domain.VendorTotal {
	result := make([]domain.VendorTotal, 0, len(vendors))
	for _, total := range vendors {
		result = append(result, total)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].VendorID < result[j].VendorID })
	return result
}
