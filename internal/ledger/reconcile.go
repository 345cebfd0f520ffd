package ledger

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"caisse/backend/internal/domain"
	"caisse/backend/internal/store"
)

// Reconciler recomputes vendor totals and index entries from the invoices
// themselves. It is the repair path for totals that drifted, for example
// after a manual edit of the backing store.
type Reconciler struct {
	store  store.Ledger
	logger *zap.Logger
	now    func() time.Time
}

func NewReconciler(ledgerStore store.Ledger, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{
		store:  ledgerStore,
		logger: logger.With(zap.String("component", "reconcile")),
		now:    time.Now,
	}
}

// Run compares stored totals with the sums of invoices in one Update unit.
// Unless dryRun is set, drifted totals and index entries are rewritten and
// totals of vendors without invoices are removed.
func (r *Reconciler) Run(ctx context.Context, dryRun bool) (domain.ReconcileReport, error) {
	now := r.now().UTC()

	var report domain.ReconcileReport
	err := r.store.Update(ctx, func(tx store.Tx) error {
		report = domain.ReconcileReport{DryRun: dryRun, At: now, Drifts: []domain.VendorDrift{}}

		invoices, err := tx.ListInvoices(ctx)
		if err != nil {
			return fmt.Errorf("list invoices: %w", err)
		}
		stored, err := tx.ListVendorTotals(ctx)
		if err != nil {
			return fmt.Errorf("list vendor totals: %w", err)
		}

		computed := make(map[string]domain.Money)
		for _, inv := range invoices {
			if computed[inv.VendorID], err = computed[inv.VendorID].Add(inv.TotalAmount); err != nil {
				return fmt.Errorf("sum vendor %s: %w", inv.VendorID, err)
			}
			if report.InvoiceSum, err = report.InvoiceSum.Add(inv.TotalAmount); err != nil {
				return fmt.Errorf("sum invoices: %w", err)
			}

			entry, err := tx.GetIndexEntry(ctx, inv.InvoiceNumber)
			if err != nil && !errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("read index entry: %w", err)
			}
			if entry != nil && entry.VendorID == inv.VendorID && entry.TotalAmount == inv.TotalAmount {
				continue
			}
			report.IndexRepairs++
			if dryRun {
				continue
			}
			if err := tx.PutIndexEntry(ctx, domain.LedgerIndexEntry{
				InvoiceNumber: inv.InvoiceNumber,
				VendorID:      inv.VendorID,
				TotalAmount:   inv.TotalAmount,
				UpdatedAt:     now,
			}); err != nil {
				return fmt.Errorf("write index entry: %w", err)
			}
		}
		report.InvoiceCount = len(invoices)

		storedByVendor := make(map[string]domain.Money, len(stored))
		for _, total := range stored {
			storedByVendor[total.VendorID] = total.Total
			if report.StoredSum, err = report.StoredSum.Add(total.Total); err != nil {
				return fmt.Errorf("sum vendor totals: %w", err)
			}
		}

		vendors := make(map[string]struct{}, len(computed)+len(storedByVendor))
		for id := range computed {
			vendors[id] = struct{}{}
		}
		for id := range storedByVendor {
			vendors[id] = struct{}{}
		}

		writes := report.IndexRepairs
		for id := range vendors {
			want, have := computed[id], storedByVendor[id]
			_, hasRow := storedByVendor[id]
			if want != have {
				report.Drifts = append(report.Drifts, domain.VendorDrift{VendorID: id, Stored: have, Computed: want, Delta: want - have})
			}
			if dryRun {
				continue
			}
			switch {
			case want == 0 && hasRow:
				if err := tx.DeleteVendorTotal(ctx, id); err != nil {
					return fmt.Errorf("delete vendor total: %w", err)
				}
				writes++
			case want != have:
				if err := tx.PutVendorTotal(ctx, domain.VendorTotal{VendorID: id, Total: want, UpdatedAt: now}); err != nil {
					return fmt.Errorf("write vendor total: %w", err)
				}
				writes++
			}
		}
		sort.Slice(report.Drifts, func(i, j int) bool { return report.Drifts[i].VendorID < report.Drifts[j].VendorID })

		report.Applied = !dryRun && writes > 0
		return nil
	})
	if err != nil {
		return domain.ReconcileReport{}, err
	}

	r.logger.Info("reconcile finished",
		zap.Bool("dry_run", dryRun),
		zap.Int("invoices", report.InvoiceCount),
		zap.Int("drifts", len(report.Drifts)),
		zap.Int("index_repairs", report.IndexRepairs),
		zap.String("invoice_sum", report.InvoiceSum.String()),
		zap.String("stored_sum", report.StoredSum.String()))
	return report, nil
}
