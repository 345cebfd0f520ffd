package memory

import (
	"testing"

	"caisse/backend/internal/store"
	"caisse/backend/internal/store/storetest"
)

func TestMemoryLedger(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Ledger { return New() })
}
