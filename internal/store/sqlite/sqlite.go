package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"caisse/backend/internal/store/sqlstore"
)

type Store struct {
	*sqlstore.Store
}

var dialect = sqlstore.Dialect{
	Name:       "sqlite",
	IsConflict: isBusy,
	Migrations: []sqlstore.Migration{
		{
			Version: 1,
			Name:    "ledger",
			Statements: []string{
				`CREATE TABLE IF NOT EXISTS invoices (
					invoice_number TEXT PRIMARY KEY,
					invoice_date TEXT NOT NULL DEFAULT '',
					customer_name TEXT NOT NULL DEFAULT '',
					total_cents INTEGER NOT NULL CHECK (total_cents >= 0),
					payment_method TEXT NOT NULL DEFAULT '',
					vendor_name TEXT NOT NULL DEFAULT '',
					vendor_id TEXT NOT NULL,
					line_items TEXT NOT NULL DEFAULT '[]',
					updated_at DATETIME NOT NULL
				)`,
				`CREATE INDEX IF NOT EXISTS idx_invoices_updated_at ON invoices (updated_at DESC)`,
				`CREATE TABLE IF NOT EXISTS ledger_index (
					invoice_number TEXT PRIMARY KEY,
					vendor_id TEXT NOT NULL,
					total_cents INTEGER NOT NULL,
					updated_at DATETIME NOT NULL
				)`,
				`CREATE TABLE IF NOT EXISTS vendor_totals (
					vendor_id TEXT PRIMARY KEY,
					total_cents INTEGER NOT NULL CHECK (total_cents >= 0),
					updated_at DATETIME NOT NULL
				)`,
			},
		},
	},
}

// New opens (creating if needed) the ledger database at path. Write units
// start with BEGIN IMMEDIATE so concurrent writers queue on the busy
// timeout instead of failing at commit.
func New(ctx context.Context, path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on&_txlock=immediate", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(time.Hour)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{Store: sqlstore.New(db, dialect)}
	if err := s.Migrate(ctx, logger); err != nil {
		_ = db.Close()
		return nil, err
	}

	logger.Info("sqlite ledger ready", zap.String("path", path))
	return s, nil
}

func isBusy(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}
	return false
}
