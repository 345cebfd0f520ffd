package redis

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"caisse/backend/internal/domain"
)

func TestSortRecentBreaksTiesByNumber(t *testing.T) {
	at := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	invoices := []domain.Invoice{
		{InvoiceNumber: "F-c", UpdatedAt: at},
		{InvoiceNumber: "F-a", UpdatedAt: at},
		{InvoiceNumber: "F-new", UpdatedAt: at.Add(time.Second)},
		{InvoiceNumber: "F-b", UpdatedAt: at},
	}

	sortRecent(invoices)

	got := make([]string, len(invoices))
	for i, inv := range invoices {
		got[i] = inv.InvoiceNumber
	}
	assert.Equal(t, []string{"F-new", "F-a", "F-b", "F-c"}, got)
}

func TestMergeNumbersKeepsOrderAndDropsDuplicates(t *testing.T) {
	got := mergeNumbers([]string{"F-9", "F-c"}, []string{"F-a", "F-c"})
	assert.Equal(t, []string{"F-9", "F-c", "F-a"}, got)
}
