package factory

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"caisse/backend/internal/config"
	"caisse/backend/internal/store/memory"
	"caisse/backend/internal/store/sqlite"
)

func TestResolve(t *testing.T) {
	assert.Equal(t, BackendSQLite, Resolve(config.Config{Backend: "auto"}))
	assert.Equal(t, BackendPostgres, Resolve(config.Config{Backend: "auto", DatabaseURL: "postgres://x"}))
	assert.Equal(t, BackendSQLite, Resolve(config.Config{}))
	assert.Equal(t, BackendMemory, Resolve(config.Config{Backend: "memory", DatabaseURL: "postgres://x"}))
}

func TestOpenMemory(t *testing.T) {
	ledger, backend, err := Open(context.Background(), config.Config{Backend: "memory"}, nil)
	require.NoError(t, err)
	defer ledger.Close()

	assert.Equal(t, BackendMemory, backend)
	assert.IsType(t, &memory.Store{}, ledger)
}

func TestOpenDefaultsToSQLite(t *testing.T) {
	cfg := config.Config{Backend: "auto", SQLitePath: filepath.Join(t.TempDir(), "ledger.db")}

	ledger, backend, err := Open(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer ledger.Close()

	assert.Equal(t, BackendSQLite, backend)
	assert.IsType(t, &sqlite.Store{}, ledger)
}

func TestOpenRejectsIncompleteConfig(t *testing.T) {
	ctx := context.Background()

	_, _, err := Open(ctx, config.Config{Backend: "postgres"}, nil)
	assert.ErrorContains(t, err, "DATABASE_URL")

	_, _, err = Open(ctx, config.Config{Backend: "redis"}, nil)
	assert.ErrorContains(t, err, "REDIS_ADDR")

	_, _, err = Open(ctx, config.Config{Backend: "mongo"}, nil)
	assert.ErrorContains(t, err, "unknown LEDGER_BACKEND")
}
