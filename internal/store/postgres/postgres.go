package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"

	"caisse/backend/internal/store/sqlstore"
)

type Store struct {
	*sqlstore.Store
}

var dialect = sqlstore.Dialect{
	Name:       "postgres",
	Numbered:   true,
	LockSuffix: "\n\t\tFOR UPDATE",
	TxOptions:  &sql.TxOptions{Isolation: sql.LevelSerializable},
	IsConflict: isRetryable,
	Migrations: []sqlstore.Migration{
		{
			Version: 1,
			Name:    "ledger",
			Statements: []string{
				`CREATE TABLE IF NOT EXISTS invoices (
					invoice_number TEXT PRIMARY KEY,
					invoice_date TEXT NOT NULL DEFAULT '',
					customer_name TEXT NOT NULL DEFAULT '',
					total_cents BIGINT NOT NULL CHECK (total_cents >= 0),
					payment_method TEXT NOT NULL DEFAULT '',
					vendor_name TEXT NOT NULL DEFAULT '',
					vendor_id TEXT NOT NULL,
					line_items TEXT NOT NULL DEFAULT '[]',
					updated_at TIMESTAMPTZ NOT NULL
				)`,
				`CREATE INDEX IF NOT EXISTS idx_invoices_updated_at ON invoices (updated_at DESC)`,
				`CREATE TABLE IF NOT EXISTS ledger_index (
					invoice_number TEXT PRIMARY KEY,
					vendor_id TEXT NOT NULL,
					total_cents BIGINT NOT NULL,
					updated_at TIMESTAMPTZ NOT NULL
				)`,
				`CREATE TABLE IF NOT EXISTS vendor_totals (
					vendor_id TEXT PRIMARY KEY,
					total_cents BIGINT NOT NULL CHECK (total_cents >= 0),
					updated_at TIMESTAMPTZ NOT NULL
				)`,
			},
		},
	},
}

func New(ctx context.Context, databaseURL string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Store{Store: sqlstore.New(db, dialect)}
	if err := s.Migrate(ctx, logger); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// isRetryable matches serialization failures and deadlocks. A unique
// violation means two units inserted the same new invoice or vendor row;
// retrying sees the winner's row.
func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01", "23505":
			return true
		}
	}
	return false
}
