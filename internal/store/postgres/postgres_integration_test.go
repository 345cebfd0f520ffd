package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"

	"caisse/backend/internal/store"
	"caisse/backend/internal/store/storetest"
)

func TestPostgresLedger(t *testing.T) {
	databaseURL := os.Getenv("LEDGER_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set LEDGER_TEST_DATABASE_URL to run postgres integration test")
	}

	storetest.Run(t, func(t *testing.T) store.Ledger {
		ctx := context.Background()
		s, err := New(ctx, databaseURL, nil)
		if err != nil {
			t.Fatalf("new store: %v", err)
		}
		for _, table := range []string{"invoices", "ledger_index", "vendor_totals"} {
			if _, err := s.DB().ExecContext(ctx, `TRUNCATE `+table); err != nil {
				t.Fatalf("truncate %s: %v", table, err)
			}
		}
		return s
	})
}

func TestIsRetryable(t *testing.T) {
	cases := map[string]bool{
		"40001": true,
		"40P01": true,
		"23505": true,
		"23514": false,
	}
	for code, want := range cases {
		if got := isRetryable(&pgconn.PgError{Code: code}); got != want {
			t.Fatalf("isRetryable(%s) = %v, want %v", code, got, want)
		}
	}
	if isRetryable(context.Canceled) {
		t.Fatalf("expected non-pg error to be non-retryable")
	}
}
