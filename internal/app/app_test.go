package app

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"caisse/backend/internal/config"
	"caisse/backend/internal/domain"
	"caisse/backend/internal/service"
)

func testConfig(t *testing.T) config.Config {
	return config.Config{
		Backend:            "auto",
		SQLitePath:         filepath.Join(t.TempDir(), "ledger.db"),
		NegativePolicy:     "clamp",
		RecentInvoiceLimit: 20,
		MaxAttempts:        5,
		AuthSecret:         "0123456789abcdef0123456789abcdef",
		IngestSecret:       "ingest-secret",
	}
}

func TestNewWiresSQLiteByDefault(t *testing.T) {
	a, err := New(context.Background(), testConfig(t), nil)
	require.NoError(t, err)
	defer a.Close()

	assert.Equal(t, "sqlite", a.Backend)
	assert.True(t, a.Auth.ValidateIngestSecret("ingest-secret"))

	ctx := context.Background()
	_, err = a.Service.Ingest(ctx, map[string]any{"numero_facture": "F-1", "montant_ttc": "19,90", "vendeur": "Alice"})
	require.NoError(t, err)

	total, err := a.Service.VendorRevenue(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, domain.Money(1990), total.Total)

	report, err := a.Service.Reconcile(service.WithActor(ctx, domain.Actor{Subject: "test", Role: "admin"}), true)
	require.NoError(t, err)
	assert.Empty(t, report.Drifts)
}

func TestNewRejectsUnknownPolicy(t *testing.T) {
	cfg := testConfig(t)
	cfg.NegativePolicy = "ignore"

	_, err := New(context.Background(), cfg, nil)
	assert.Error(t, err)
}

func TestCloseIsIdempotent(t *testing.T) {
	cfg := testConfig(t)
	cfg.Backend = "memory"

	a, err := New(context.Background(), cfg, nil)
	require.NoError(t, err)
	assert.NoError(t, a.Close())
	assert.NoError(t, a.Close())
}
