package report

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"caisse/backend/internal/domain"
)

func sampleSnapshot() domain.RevenueSnapshot {
	return domain.RevenueSnapshot{
		Totals: map[string]domain.Money{"bob": 2000, "alice": 12550},
		Recent: []domain.Invoice{
			{InvoiceNumber: "F-2", VendorID: "bob", VendorName: "Bob", CustomerName: "Durand, SARL", TotalAmount: 2000},
			{InvoiceNumber: "F-1", VendorID: "alice", VendorName: "Alice", TotalAmount: 12550},
		},
		GeneratedAt: time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, sampleSnapshot()))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Equal(t, []string{
		"section,key,value",
		"summary,generated_at,2026-06-01T12:00:00Z",
		"summary,vendors,2",
		"summary,total,145.50",
		"vendor,alice,125.50",
		"vendor,bob,20.00",
		"recent,F-2,20.00",
		"recent,F-1,125.50",
	}, lines)
}

func TestWriteXLSX(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteXLSX(&buf, sampleSnapshot()))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	totals, err := f.GetRows("Totals")
	require.NoError(t, err)
	require.Len(t, totals, 4)
	assert.Equal(t, []string{"Vendor", "Total"}, totals[0])
	assert.Equal(t, "alice", totals[1][0])
	assert.Equal(t, "125.5", totals[1][1])
	assert.Equal(t, "TOTAL", totals[3][0])

	recent, err := f.GetRows("Recent")
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.Equal(t, "F-2", recent[1][0])
	assert.Equal(t, "Durand, SARL", recent[1][2])
}
