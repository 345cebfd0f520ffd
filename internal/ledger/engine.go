// Package ledger maintains per-vendor revenue totals from invoice upserts.
//
// Every upsert runs as one store.Ledger Update unit: it reads the invoice's
// index entry (the vendor and amount applied last time), overwrites the
// invoice and its index entry, and moves the difference onto vendor totals.
// Re-posting an unchanged invoice therefore leaves totals untouched, and at
// quiescence the sum of vendor totals equals the sum of invoice amounts.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"caisse/backend/internal/domain"
	"caisse/backend/internal/store"
)

var (
	ErrNoOp           = errors.New("invoice has no positive amount")
	ErrInvalidInvoice = errors.New("invoice number and vendor id are required")
	ErrNegativeTotal  = errors.New("vendor total would become negative")
)

// NegativePolicy decides what happens when a correction would push a vendor
// total below zero. That only happens when stored totals already drifted
// from the invoices, so both policies log it.
type NegativePolicy string

const (
	NegativeClamp  NegativePolicy = "clamp"
	NegativeReject NegativePolicy = "reject"
)

func ParseNegativePolicy(raw string) (NegativePolicy, error) {
	switch NegativePolicy(strings.ToLower(strings.TrimSpace(raw))) {
	case "", NegativeClamp:
		return NegativeClamp, nil
	case NegativeReject:
		return NegativeReject, nil
	}
	return "", fmt.Errorf("unknown negative total policy %q", raw)
}

type Options struct {
	NegativePolicy NegativePolicy
	MaxAttempts    int
	RetryBackoff   time.Duration
	Now            func() time.Time
}

type Engine struct {
	store       store.Ledger
	logger      *zap.Logger
	locks       *keyLock
	policy      NegativePolicy
	maxAttempts int
	backoff     time.Duration
	now         func() time.Time
}

func NewEngine(ledgerStore store.Ledger, logger *zap.Logger, opts Options) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.NegativePolicy == "" {
		opts.NegativePolicy = NegativeClamp
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 5
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = 10 * time.Millisecond
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Engine{
		store:       ledgerStore,
		logger:      logger.With(zap.String("component", "ledger")),
		locks:       newKeyLock(),
		policy:      opts.NegativePolicy,
		maxAttempts: opts.MaxAttempts,
		backoff:     opts.RetryBackoff,
		now:         opts.Now,
	}
}

type UpsertResult struct {
	Created          bool
	Invoice          domain.Invoice
	PreviousVendorID string
	PreviousAmount   domain.Money
	// Delta is the change applied to the invoice's current vendor.
	Delta   domain.Money
	Clamped bool
}

func (r UpsertResult) Reassigned() bool {
	return !r.Created && r.PreviousVendorID != r.Invoice.VendorID
}

// Upsert records inv and corrects vendor totals against what was applied
// for the same invoice number before. Units that lose a race against a
// concurrent writer are retried up to MaxAttempts times.
func (e *Engine) Upsert(ctx context.Context, inv domain.Invoice) (UpsertResult, error) {
	if inv.TotalAmount <= 0 {
		return UpsertResult{Invoice: inv}, ErrNoOp
	}
	if strings.TrimSpace(inv.InvoiceNumber) == "" || inv.VendorID == "" {
		return UpsertResult{Invoice: inv}, ErrInvalidInvoice
	}

	unlock := e.locks.Lock(inv.InvoiceNumber)
	defer unlock()

	for attempt := 1; ; attempt++ {
		result, err := e.apply(ctx, inv)
		if err == nil {
			e.logger.Info("invoice upserted",
				zap.String("invoice", result.Invoice.InvoiceNumber),
				zap.String("vendor", result.Invoice.VendorID),
				zap.String("amount", result.Invoice.TotalAmount.String()),
				zap.String("delta", result.Delta.String()),
				zap.Bool("created", result.Created),
				zap.Bool("reassigned", result.Reassigned()),
				zap.Int("attempt", attempt))
			return result, nil
		}
		if !errors.Is(err, store.ErrConflict) || attempt >= e.maxAttempts {
			return UpsertResult{}, err
		}

		e.logger.Debug("ledger conflict, retrying",
			zap.String("invoice", inv.InvoiceNumber),
			zap.Int("attempt", attempt))
		select {
		case <-ctx.Done():
			return UpsertResult{}, ctx.Err()
		case <-time.After(e.backoff * time.Duration(attempt)):
		}
	}
}

func (e *Engine) apply(ctx context.Context, inv domain.Invoice) (UpsertResult, error) {
	now := e.now().UTC()
	inv.UpdatedAt = now

	var result UpsertResult
	err := e.store.Update(ctx, func(tx store.Tx) error {
		result = UpsertResult{Invoice: inv}

		prev, err := tx.GetIndexEntry(ctx, inv.InvoiceNumber)
		switch {
		case errors.Is(err, store.ErrNotFound):
			result.Created = true
		case err != nil:
			return fmt.Errorf("read index entry: %w", err)
		default:
			result.PreviousVendorID = prev.VendorID
			result.PreviousAmount = prev.TotalAmount
		}

		if err := tx.PutInvoice(ctx, inv); err != nil {
			return fmt.Errorf("write invoice: %w", err)
		}
		if err := tx.PutIndexEntry(ctx, domain.LedgerIndexEntry{
			InvoiceNumber: inv.InvoiceNumber,
			VendorID:      inv.VendorID,
			TotalAmount:   inv.TotalAmount,
			UpdatedAt:     now,
		}); err != nil {
			return fmt.Errorf("write index entry: %w", err)
		}

		if result.Reassigned() {
			clamped, err := e.adjust(ctx, tx, result.PreviousVendorID, -result.PreviousAmount, now)
			if err != nil {
				return err
			}
			result.Clamped = clamped
			result.Delta = inv.TotalAmount
			if _, err := e.adjust(ctx, tx, inv.VendorID, inv.TotalAmount, now); err != nil {
				return err
			}
			return nil
		}

		result.Delta = inv.TotalAmount - result.PreviousAmount
		if result.Delta == 0 {
			return nil
		}
		clamped, err := e.adjust(ctx, tx, inv.VendorID, result.Delta, now)
		if err != nil {
			return err
		}
		result.Clamped = clamped
		return nil
	})
	if err != nil {
		return UpsertResult{}, err
	}
	return result, nil
}

// adjust adds delta to a vendor total, applying the negative policy.
func (e *Engine) adjust(ctx context.Context, tx store.Tx, vendorID string, delta domain.Money, now time.Time) (bool, error) {
	current, err := tx.GetVendorTotal(ctx, vendorID)
	if err != nil {
		return false, fmt.Errorf("read vendor total: %w", err)
	}

	next, err := current.Total.Add(delta)
	if err != nil {
		return false, fmt.Errorf("vendor %s: %w", vendorID, err)
	}
	clamped := false
	if next < 0 {
		if e.policy == NegativeReject {
			e.logger.Warn("vendor total would go negative, rejecting",
				zap.String("vendor", vendorID),
				zap.String("current", current.Total.String()),
				zap.String("delta", delta.String()))
			return false, fmt.Errorf("%w: vendor %s at %s, delta %s", ErrNegativeTotal, vendorID, current.Total, delta)
		}
		e.logger.Warn("vendor total floored at zero",
			zap.String("vendor", vendorID),
			zap.String("current", current.Total.String()),
			zap.String("delta", delta.String()),
			zap.String("attempted", next.String()))
		next = 0
		clamped = true
	}

	if err := tx.PutVendorTotal(ctx, domain.VendorTotal{VendorID: vendorID, Total: next, UpdatedAt: now}); err != nil {
		return false, fmt.Errorf("write vendor total: %w", err)
	}
	return clamped, nil
}
