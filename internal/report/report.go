// Package report renders revenue snapshots for export.
package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"caisse/backend/internal/domain"
)

func sortedVendors(totals map[string]domain.Money) []string {
	vendors := make([]string, 0, len(totals))
	for vendorID := range totals {
		vendors = append(vendors, vendorID)
	}
	sort.Strings(vendors)
	return vendors
}

// grandTotal sums in decimal; the sum of many totals can exceed int64 cents.
func grandTotal(totals map[string]domain.Money) decimal.Decimal {
	sum := decimal.Zero
	for _, total := range totals {
		sum = sum.Add(total.Decimal())
	}
	return sum
}

// WriteCSV writes a section,key,value listing: summary rows, one row per
// vendor total and one per recent invoice.
func WriteCSV(w io.Writer, snapshot domain.RevenueSnapshot) error {
	out := csv.NewWriter(w)
	rows := [][]string{
		{"section", "key", "value"},
		{"summary", "generated_at", snapshot.GeneratedAt.UTC().Format(time.RFC3339)},
		{"summary", "vendors", strconv.Itoa(len(snapshot.Totals))},
		{"summary", "total", grandTotal(snapshot.Totals).StringFixed(2)},
	}
	for _, vendorID := range sortedVendors(snapshot.Totals) {
		rows = append(rows, []string{"vendor", vendorID, snapshot.Totals[vendorID].String()})
	}
	for _, inv := range snapshot.Recent {
		rows = append(rows, []string{"recent", inv.InvoiceNumber, inv.TotalAmount.String()})
	}

	if err := out.WriteAll(rows); err != nil {
		return fmt.Errorf("write csv: %w", err)
	}
	return nil
}

// WriteXLSX writes a workbook with a Totals sheet and a Recent sheet.
func WriteXLSX(w io.Writer, snapshot domain.RevenueSnapshot) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	if err := f.SetSheetName("Sheet1", "Totals"); err != nil {
		return err
	}
	if err := f.SetSheetRow("Totals", "A1", &[]any{"Vendor", "Total"}); err != nil {
		return err
	}
	row := 2
	for _, vendorID := range sortedVendors(snapshot.Totals) {
		cell, _ := excelize.CoordinatesToCellName(1, row)
		if err := f.SetSheetRow("Totals", cell, &[]any{vendorID, snapshot.Totals[vendorID].Decimal().InexactFloat64()}); err != nil {
			return err
		}
		row++
	}
	cell, _ := excelize.CoordinatesToCellName(1, row)
	if err := f.SetSheetRow("Totals", cell, &[]any{"TOTAL", grandTotal(snapshot.Totals).InexactFloat64()}); err != nil {
		return err
	}

	if _, err := f.NewSheet("Recent"); err != nil {
		return err
	}
	header := []any{"Invoice", "Date", "Customer", "Vendor", "Vendor ID", "Payment", "Total", "Updated"}
	if err := f.SetSheetRow("Recent", "A1", &header); err != nil {
		return err
	}
	for i, inv := range snapshot.Recent {
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		values := []any{
			inv.InvoiceNumber,
			inv.Date,
			inv.CustomerName,
			inv.VendorName,
			inv.VendorID,
			inv.PaymentMethod,
			inv.TotalAmount.Decimal().InexactFloat64(),
			inv.UpdatedAt.UTC().Format(time.RFC3339),
		}
		if err := f.SetSheetRow("Recent", cell, &values); err != nil {
			return err
		}
	}

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("write xlsx: %w", err)
	}
	return nil
}
