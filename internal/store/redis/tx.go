package redis

import (
	"context"
	"encoding/json"
	"sort"
	"strings"

	redis "github.com/redis/go-redis/v9"

	"caisse/backend/internal/domain"
	"caisse/backend/internal/store"
)

// tx stages writes until EXEC. Reads see staged values first and WATCH
// whatever they fetch from Redis.
type tx struct {
	s              *Store
	rtx            *redis.Tx
	invoices       map[string]domain.Invoice
	index          map[string]domain.LedgerIndexEntry
	vendors        map[string]domain.VendorTotal
	deletedVendors map[string]struct{}
}

func (t *tx) watch(ctx context.Context, keys ...string) error {
	return t.rtx.Watch(ctx, keys...).Err()
}

func (t *tx) GetIndexEntry(ctx context.Context, invoiceNumber string) (*domain.LedgerIndexEntry, error) {
	if entry, ok := t.index[invoiceNumber]; ok {
		return &entry, nil
	}
	key := t.s.indexKey(invoiceNumber)
	if err := t.watch(ctx, key); err != nil {
		return nil, err
	}
	var entry domain.LedgerIndexEntry
	found, err := getJSON(ctx, t.rtx, key, &entry)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, store.ErrNotFound
	}
	return &entry, nil
}

func (t *tx) GetVendorTotal(ctx context.Context, vendorID string) (domain.VendorTotal, error) {
	if total, ok := t.vendors[vendorID]; ok {
		return total, nil
	}
	if _, deleted := t.deletedVendors[vendorID]; deleted {
		return domain.VendorTotal{VendorID: vendorID}, nil
	}
	key := t.s.vendorKey(vendorID)
	if err := t.watch(ctx, key); err != nil {
		return domain.VendorTotal{}, err
	}
	total := domain.VendorTotal{VendorID: vendorID}
	if _, err := getJSON(ctx, t.rtx, key, &total); err != nil {
		return domain.VendorTotal{}, err
	}
	return total, nil
}

func (t *tx) ListInvoices(ctx context.Context) ([]domain.Invoice, error) {
	if err := t.watch(ctx, t.s.invoicesKey()); err != nil {
		return nil, err
	}
	numbers, err := t.rtx.ZRange(ctx, t.s.invoicesKey(), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	if len(numbers) > 0 {
		keys := make([]string, len(numbers))
		for i, number := range numbers {
			keys[i] = t.s.invoiceKey(number)
		}
		if err := t.watch(ctx, keys...); err != nil {
			return nil, err
		}
	}
	stored, err := t.s.invoicesByNumber(ctx, t.rtx, numbers)
	if err != nil {
		return nil, err
	}

	merged := make(map[string]domain.Invoice, len(stored)+len(t.invoices))
	for _, inv := range stored {
		merged[inv.InvoiceNumber] = inv
	}
	for number, inv := range t.invoices {
		merged[number] = inv
	}
	result := make([]domain.Invoice, 0, len(merged))
	for _, inv := range merged {
		result = append(result, inv)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].InvoiceNumber < result[j].InvoiceNumber })
	return result, nil
}

func (t *tx) ListVendorTotals(ctx context.Context) ([]domain.VendorTotal, error) {
	if err := t.watch(ctx, t.s.vendorsKey()); err != nil {
		return nil, err
	}
	ids, err := t.rtx.SMembers(ctx, t.s.vendorsKey()).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) > 0 {
		keys := make([]string, len(ids))
		for i, id := range ids {
			keys[i] = t.s.vendorKey(id)
		}
		if err := t.watch(ctx, keys...); err != nil {
			return nil, err
		}
	}
	stored, err := t.s.vendorTotals(ctx, t.rtx, ids)
	if err != nil {
		return nil, err
	}

	merged := make(map[string]domain.VendorTotal, len(stored)+len(t.vendors))
	for _, total := range stored {
		if _, deleted := t.deletedVendors[total.VendorID]; !deleted {
			merged[total.VendorID] = total
		}
	}
	for id, total := range t.vendors {
		merged[id] = total
	}
	result := make([]domain.VendorTotal, 0, len(merged))
	for _, total := range merged {
		result = append(result, total)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].VendorID < result[j].VendorID })
	return result, nil
}

func (t *tx) PutInvoice(_ context.Context, inv domain.Invoice) error {
	if strings.TrimSpace(inv.InvoiceNumber) == "" {
		return store.ErrInvalidRecord
	}
	t.invoices[inv.InvoiceNumber] = inv
	return nil
}

func (t *tx) PutIndexEntry(_ context.Context, entry domain.LedgerIndexEntry) error {
	t.index[entry.InvoiceNumber] = entry
	return nil
}

func (t *tx) PutVendorTotal(_ context.Context, total domain.VendorTotal) error {
	delete(t.deletedVendors, total.VendorID)
	t.vendors[total.VendorID] = total
	return nil
}

func (t *tx) DeleteVendorTotal(_ context.Context, vendorID string) error {
	delete(t.vendors, vendorID)
	t.deletedVendors[vendorID] = struct{}{}
	return nil
}

func (t *tx) empty() bool {
	return len(t.invoices) == 0 && len(t.index) == 0 && len(t.vendors) == 0 && len(t.deletedVendors) == 0
}

func (t *tx) flush(ctx context.Context, pipe redis.Pipeliner) error {
	for number, inv := range t.invoices {
		payload, err := json.Marshal(inv)
		if err != nil {
			return err
		}
		pipe.Set(ctx, t.s.invoiceKey(number), payload, 0)
		pipe.ZAdd(ctx, t.s.invoicesKey(), redis.Z{Score: float64(inv.UpdatedAt.UnixMicro()), Member: number})
	}
	for number, entry := range t.index {
		payload, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		pipe.Set(ctx, t.s.indexKey(number), payload, 0)
	}
	for id := range t.deletedVendors {
		pipe.Del(ctx, t.s.vendorKey(id))
		pipe.SRem(ctx, t.s.vendorsKey(), id)
	}
	for id, total := range t.vendors {
		payload, err := json.Marshal(total)
		if err != nil {
			return err
		}
		pipe.Set(ctx, t.s.vendorKey(id), payload, 0)
		pipe.SAdd(ctx, t.s.vendorsKey(), id)
	}
	return nil
}
