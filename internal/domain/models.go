package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Money is an amount in cents. It renders in JSON as a decimal number with
// two fraction digits so callers never see the integer representation.
type Money int64

// MaxMoney bounds a single amount: 10^13 in major units.
const MaxMoney Money = 1_000_000_000_000_000

// maxMoneyText caps the length of a serialized amount before it is parsed.
const maxMoneyText = 64

var ErrAmountOutOfRange = errors.New("amount out of range")

var maxMoneyCents = decimal.NewFromInt(int64(MaxMoney))

// MoneyFromDecimal rounds d to cents. Amounts above MaxMoney in magnitude,
// or with an exponent too large to rescale cheaply, are rejected.
func MoneyFromDecimal(d decimal.Decimal) (Money, error) {
	if d.IsZero() {
		return 0, nil
	}
	if exp := d.Exponent(); exp > 15 || exp < -1100 {
		return 0, ErrAmountOutOfRange
	}
	cents := d.Round(2).Shift(2)
	if cents.Abs().GreaterThan(maxMoneyCents) {
		return 0, ErrAmountOutOfRange
	}
	return Money(cents.IntPart()), nil
}

// Add returns m+o and fails instead of wrapping around.
func (m Money) Add(o Money) (Money, error) {
	sum := m + o
	if (o > 0 && sum < m) || (o < 0 && sum > m) {
		return 0, fmt.Errorf("%w: %s + %s overflows", ErrAmountOutOfRange, m, o)
	}
	return sum, nil
}

func (m Money) Decimal() decimal.Decimal {
	return decimal.New(int64(m), -2)
}

func (m Money) String() string {
	return m.Decimal().StringFixed(2)
}

func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *Money) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(strings.TrimSpace(string(data)), `"`)
	if raw == "" || raw == "null" {
		*m = 0
		return nil
	}
	if len(raw) > maxMoneyText {
		return fmt.Errorf("invalid money value: %w", ErrAmountOutOfRange)
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return fmt.Errorf("invalid money value %q: %w", raw, err)
	}
	money, err := MoneyFromDecimal(d)
	if err != nil {
		return fmt.Errorf("invalid money value %q: %w", raw, err)
	}
	*m = money
	return nil
}

type LineItem struct {
	Name      string  `json:"name"`
	Quantity  float64 `json:"quantity"`
	UnitPrice Money   `json:"unitPrice"`
	Discount  float64 `json:"discount"`
}

type Invoice struct {
	InvoiceNumber string     `json:"invoiceNumber"`
	Date          string     `json:"date"`
	CustomerName  string     `json:"customerName"`
	TotalAmount   Money      `json:"totalAmount"`
	PaymentMethod string     `json:"paymentMethod"`
	VendorName    string     `json:"vendorName"`
	VendorID      string     `json:"vendorId"`
	LineItems     []LineItem `json:"lineItems"`
	UpdatedAt     time.Time  `json:"updatedAt"`
}

// LedgerIndexEntry is the (vendor, amount) pair last applied to vendor
// totals for one invoice.
type LedgerIndexEntry struct {
	InvoiceNumber string    `json:"invoiceNumber"`
	VendorID      string    `json:"vendorId"`
	TotalAmount   Money     `json:"totalAmount"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

type VendorTotal struct {
	VendorID  string    `json:"vendorId"`
	Total     Money     `json:"total"`
	UpdatedAt time.Time `json:"updatedAt"`
}

type RevenueSnapshot struct {
	Totals      map[string]Money `json:"totals"`
	Recent      []Invoice        `json:"recent"`
	GeneratedAt time.Time        `json:"generatedAt"`
}

type VendorDrift struct {
	VendorID string `json:"vendorId"`
	Stored   Money  `json:"stored"`
	Computed Money  `json:"computed"`
	Delta    Money  `json:"delta"`
}

type ReconcileReport struct {
	DryRun       bool          `json:"dryRun"`
	Applied      bool          `json:"applied"`
	InvoiceCount int           `json:"invoiceCount"`
	InvoiceSum   Money         `json:"invoiceSum"`
	StoredSum    Money         `json:"storedSum"`
	Drifts       []VendorDrift `json:"drifts"`
	IndexRepairs int           `json:"indexRepairs"`
	At           time.Time     `json:"at"`
}

const RoleAdmin = "admin"

type Actor struct {
	Subject string
	Role    string
}
