// Package sqlstore implements store.Ledger on database/sql. The postgres
// and sqlite packages supply a Dialect and own the connection settings.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"caisse/backend/internal/domain"
	"caisse/backend/internal/store"
)

type Dialect struct {
	Name string
	// Numbered switches ? placeholders to $1, $2, ...
	Numbered bool
	// LockSuffix is appended to reads that feed a write in the same unit.
	LockSuffix string
	TxOptions  *sql.TxOptions
	// IsConflict reports driver errors meaning a concurrent unit won.
	IsConflict func(error) bool
	Migrations []Migration
}

type Store struct {
	db      *sql.DB
	dialect Dialect
}

func New(db *sql.DB, dialect Dialect) *Store {
	if dialect.IsConflict == nil {
		dialect.IsConflict = func(error) bool { return false }
	}
	return &Store{db: db, dialect: dialect}
}

func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Update(ctx context.Context, fn func(tx store.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, s.dialect.TxOptions)
	if err != nil {
		return s.classify(err)
	}
	defer func() { _ = sqlTx.Rollback() }()

	if err := fn(&tx{tx: sqlTx, s: s}); err != nil {
		return s.classify(err)
	}
	if err := sqlTx.Commit(); err != nil {
		return s.classify(err)
	}
	return nil
}

func (s *Store) classify(err error) error {
	if err == nil || errors.Is(err, store.ErrConflict) {
		return err
	}
	if s.dialect.IsConflict(err) {
		return fmt.Errorf("%w: %v", store.ErrConflict, err)
	}
	return err
}

func (s *Store) q(query string) string {
	if !s.dialect.Numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

const invoiceColumns = `invoice_number, invoice_date, customer_name, total_cents, payment_method, vendor_name, vendor_id, line_items, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanInvoice(row rowScanner) (domain.Invoice, error) {
	var inv domain.Invoice
	var total int64
	var lines string
	if err := row.Scan(&inv.InvoiceNumber, &inv.Date, &inv.CustomerName, &total, &inv.PaymentMethod,
		&inv.VendorName, &inv.VendorID, &lines, &inv.UpdatedAt); err != nil {
		return domain.Invoice{}, err
	}
	inv.TotalAmount = domain.Money(total)
	inv.UpdatedAt = inv.UpdatedAt.UTC()
	if lines != "" {
		if err := json.Unmarshal([]byte(lines), &inv.LineItems); err != nil {
			return domain.Invoice{}, fmt.Errorf("decode line items of %s: %w", inv.InvoiceNumber, err)
		}
	}
	return inv, nil
}

func scanInvoices(rows *sql.Rows) ([]domain.Invoice, error) {
	defer rows.Close()

	invoices := make([]domain.Invoice, 0, 32)
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		invoices = append(invoices, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return invoices, nil
}

func scanVendorTotals(rows *sql.Rows) ([]domain.VendorTotal, error) {
	defer rows.Close()

	totals := make([]domain.VendorTotal, 0, 16)
	for rows.Next() {
		var total domain.VendorTotal
		var cents int64
		if err := rows.Scan(&total.VendorID, &cents, &total.UpdatedAt); err != nil {
			return nil, err
		}
		total.Total = domain.Money(cents)
		total.UpdatedAt = total.UpdatedAt.UTC()
		totals = append(totals, total)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return totals, nil
}

func (s *Store) GetInvoice(ctx context.Context, invoiceNumber string) (*domain.Invoice, error) {
	inv, err := scanInvoice(s.db.QueryRowContext(ctx, s.q(`
		SELECT `+invoiceColumns+`
		FROM invoices
		WHERE invoice_number = ?
	`), invoiceNumber))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	return &inv, nil
}

func (s *Store) GetVendorTotal(ctx context.Context, vendorID string) (domain.VendorTotal, error) {
	return getVendorTotal(ctx, s.db, s.q(`
		SELECT total_cents, updated_at
		FROM vendor_totals
		WHERE vendor_id = ?
	`), vendorID)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getVendorTotal(ctx context.Context, db queryer, query string, vendorID string) (domain.VendorTotal, error) {
	total := domain.VendorTotal{VendorID: vendorID}
	var cents int64
	err := db.QueryRowContext(ctx, query, vendorID).Scan(&cents, &total.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return total, nil
		}
		return domain.VendorTotal{}, err
	}
	total.Total = domain.Money(cents)
	total.UpdatedAt = total.UpdatedAt.UTC()
	return total, nil
}

func (s *Store) ListVendorTotals(ctx context.Context) ([]domain.VendorTotal, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT vendor_id, total_cents, updated_at
		FROM vendor_totals
		ORDER BY vendor_id
	`)
	if err != nil {
		return nil, err
	}
	return scanVendorTotals(rows)
}

func (s *Store) ListRecentInvoices(ctx context.Context, limit int) ([]domain.Invoice, error) {
	if limit < 1 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, s.q(`
		SELECT `+invoiceColumns+`
		FROM invoices
		ORDER BY updated_at DESC, invoice_number ASC
		LIMIT ?
	`), limit)
	if err != nil {
		return nil, err
	}
	return scanInvoices(rows)
}

func (s *Store) ListInvoiceNumbers(ctx context.Context, limit int) ([]string, error) {
	query := `SELECT invoice_number FROM invoices ORDER BY invoice_number`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, s.q(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	numbers := make([]string, 0, 64)
	for rows.Next() {
		var number string
		if err := rows.Scan(&number); err != nil {
			return nil, err
		}
		numbers = append(numbers, number)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return numbers, nil
}

type tx struct {
	tx *sql.Tx
	s  *Store
}

func (t *tx) GetIndexEntry(ctx context.Context, invoiceNumber string) (*domain.LedgerIndexEntry, error) {
	entry := domain.LedgerIndexEntry{InvoiceNumber: invoiceNumber}
	var cents int64
	err := t.tx.QueryRowContext(ctx, t.s.q(`
		SELECT vendor_id, total_cents, updated_at
		FROM ledger_index
		WHERE invoice_number = ?`+t.s.dialect.LockSuffix), invoiceNumber).Scan(&entry.VendorID, &cents, &entry.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}
	entry.TotalAmount = domain.Money(cents)
	entry.UpdatedAt = entry.UpdatedAt.UTC()
	return &entry, nil
}

func (t *tx) GetVendorTotal(ctx context.Context, vendorID string) (domain.VendorTotal, error) {
	return getVendorTotal(ctx, t.tx, t.s.q(`
		SELECT total_cents, updated_at
		FROM vendor_totals
		WHERE vendor_id = ?`+t.s.dialect.LockSuffix), vendorID)
}

func (t *tx) ListInvoices(ctx context.Context) ([]domain.Invoice, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT `+invoiceColumns+`
		FROM invoices
		ORDER BY invoice_number
	`)
	if err != nil {
		return nil, err
	}
	return scanInvoices(rows)
}

func (t *tx) ListVendorTotals(ctx context.Context) ([]domain.VendorTotal, error) {
	rows, err := t.tx.QueryContext(ctx, `
		SELECT vendor_id, total_cents, updated_at
		FROM vendor_totals
		ORDER BY vendor_id`+t.s.dialect.LockSuffix)
	if err != nil {
		return nil, err
	}
	return scanVendorTotals(rows)
}

func (t *tx) PutInvoice(ctx context.Context, inv domain.Invoice) error {
	if strings.TrimSpace(inv.InvoiceNumber) == "" {
		return store.ErrInvalidRecord
	}
	lines, err := json.Marshal(nonNilLines(inv.LineItems))
	if err != nil {
		return err
	}

	_, err = t.tx.ExecContext(ctx, t.s.q(`
		INSERT INTO invoices (`+invoiceColumns+`)
		VALUES (?,?,?,?,?,?,?,?,?)
		ON CONFLICT (invoice_number)
		DO UPDATE SET
			invoice_date = excluded.invoice_date,
			customer_name = excluded.customer_name,
			total_cents = excluded.total_cents,
			payment_method = excluded.payment_method,
			vendor_name = excluded.vendor_name,
			vendor_id = excluded.vendor_id,
			line_items = excluded.line_items,
			updated_at = excluded.updated_at
	`), inv.InvoiceNumber, inv.Date, inv.CustomerName, int64(inv.TotalAmount), inv.PaymentMethod,
		inv.VendorName, inv.VendorID, string(lines), inv.UpdatedAt.UTC())
	return err
}

func (t *tx) PutIndexEntry(ctx context.Context, entry domain.LedgerIndexEntry) error {
	_, err := t.tx.ExecContext(ctx, t.s.q(`
		INSERT INTO ledger_index (invoice_number, vendor_id, total_cents, updated_at)
		VALUES (?,?,?,?)
		ON CONFLICT (invoice_number)
		DO UPDATE SET vendor_id = excluded.vendor_id, total_cents = excluded.total_cents, updated_at = excluded.updated_at
	`), entry.InvoiceNumber, entry.VendorID, int64(entry.TotalAmount), entry.UpdatedAt.UTC())
	return err
}

func (t *tx) PutVendorTotal(ctx context.Context, total domain.VendorTotal) error {
	updatedAt := total.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}
	_, err := t.tx.ExecContext(ctx, t.s.q(`
		INSERT INTO vendor_totals (vendor_id, total_cents, updated_at)
		VALUES (?,?,?)
		ON CONFLICT (vendor_id)
		DO UPDATE SET total_cents = excluded.total_cents, updated_at = excluded.updated_at
	`), total.VendorID, int64(total.Total), updatedAt.UTC())
	return err
}

func (t *tx) DeleteVendorTotal(ctx context.Context, vendorID string) error {
	_, err := t.tx.ExecContext(ctx, t.s.q(`DELETE FROM vendor_totals WHERE vendor_id = ?`), vendorID)
	return err
}

func nonNilLines(lines []domain.LineItem) []domain.LineItem {
	if lines == nil {
		return []domain.LineItem{}
	}
	return lines
}
