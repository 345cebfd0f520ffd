// Package canonical maps the many payload shapes sent by tills and scripts
// onto one domain.Invoice. It performs no I/O.
package canonical

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"caisse/backend/internal/amount"
	"caisse/backend/internal/domain"
	"caisse/backend/internal/xid"
)

const DefaultVendorName = "Vendeur inconnu"

type Options struct {
	Now               func() time.Time
	DefaultVendorName string
	NewNumber         func(time.Time) string
}

func (o Options) withDefaults() Options {
	if o.Now == nil {
		o.Now = time.Now
	}
	if strings.TrimSpace(o.DefaultVendorName) == "" {
		o.DefaultVendorName = DefaultVendorName
	}
	if o.NewNumber == nil {
		o.NewNumber = xid.Auto
	}
	return o
}

// Canonicalize resolves field synonyms and derives the vendor id and total.
// A zero TotalAmount in the result means the payload carried no usable
// amount. An amount, quantity or price beyond amount.MaxAmount fails with an
// error wrapping domain.ErrAmountOutOfRange.
func Canonicalize(raw map[string]any, opts Options) (domain.Invoice, error) {
	opts = opts.withDefaults()
	now := opts.Now().UTC()
	payload := unwrapEnvelope(raw)

	inv := domain.Invoice{
		InvoiceNumber: stringField(payload, invoiceNumberKeys),
		Date:          stringField(payload, dateKeys),
		CustomerName:  stringField(payload, customerKeys),
		PaymentMethod: stringField(payload, paymentKeys),
		VendorName:    stringField(payload, vendorNameKeys),
	}
	if inv.InvoiceNumber == "" {
		inv.InvoiceNumber = opts.NewNumber(now)
	}
	if inv.Date == "" {
		inv.Date = now.Format("2006-01-02")
	}
	if inv.VendorName == "" {
		inv.VendorName = opts.DefaultVendorName
	}

	inv.VendorID = VendorID(stringField(payload, vendorIDKeys))
	if inv.VendorID == "" {
		inv.VendorID = VendorID(inv.VendorName)
	}
	if inv.VendorID == "" {
		inv.VendorID = VendorID(opts.DefaultVendorName)
	}

	lines, err := parseLines(payload)
	if err != nil {
		return domain.Invoice{}, err
	}
	inv.LineItems = make([]domain.LineItem, 0, len(lines))
	amountLines := make([]amount.Line, 0, len(lines))
	for _, line := range lines {
		inv.LineItems = append(inv.LineItems, line.item)
		amountLines = append(amountLines, line.amounts)
	}

	explicit := decimal.Zero
	if v, ok := first(payload, totalKeys); ok {
		if explicit, _, err = amountField("total", v); err != nil {
			return domain.Invoice{}, err
		}
	}
	total, err := amount.Total(explicit, amountLines)
	if err != nil {
		return domain.Invoice{}, fmt.Errorf("total: %w", err)
	}
	if inv.TotalAmount, err = amount.ToMoney(total); err != nil {
		return domain.Invoice{}, fmt.Errorf("total: %w", err)
	}
	return inv, nil
}

// amountField parses a numeric field. Values that are not numbers are
// reported as absent; numbers out of range are an error.
func amountField(name string, v any) (decimal.Decimal, bool, error) {
	d, err := amount.Parse(v)
	switch {
	case errors.Is(err, amount.ErrOutOfRange):
		return decimal.Zero, false, fmt.Errorf("%s: %w", name, err)
	case err != nil:
		return decimal.Zero, false, nil
	}
	return d, true, nil
}

// VendorID folds a display name into an identifier over [a-z0-9_-]:
// diacritics are stripped, whitespace runs become a single '-', and every
// other character outside the set is dropped.
func VendorID(name string) string {
	stripMarks := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)))
	folded, _, err := transform.String(stripMarks, name)
	if err != nil {
		folded = name
	}
	folded = strings.ToLower(folded)

	var b strings.Builder
	pendingDash := false
	for _, r := range folded {
		switch {
		case unicode.IsSpace(r):
			pendingDash = b.Len() > 0
		case r == '-':
			pendingDash = false
			b.WriteRune(r)
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_':
			if pendingDash {
				b.WriteByte('-')
				pendingDash = false
			}
			b.WriteRune(r)
		}
	}
	return strings.Trim(b.String(), "-")
}

// IsVendorID reports whether s is already a folded vendor identifier.
func IsVendorID(s string) bool {
	return s != "" && VendorID(s) == s
}

type parsedLine struct {
	item    domain.LineItem
	amounts amount.Line
}

func parseLines(payload map[string]any) ([]parsedLine, error) {
	v, ok := first(payload, lineItemsKeys)
	if !ok {
		return nil, nil
	}
	rawLines, ok := v.([]any)
	if !ok {
		return nil, nil
	}

	result := make([]parsedLine, 0, len(rawLines))
	for i, rawLine := range rawLines {
		fields, ok := rawLine.(map[string]any)
		if !ok {
			continue
		}

		var err error
		line := amount.Line{Quantity: decimal.NewFromInt(1)}
		if qty, ok := first(fields, lineQuantityKeys); ok {
			parsed, isNumber, err := amountField(fmt.Sprintf("line %d quantity", i+1), qty)
			if err != nil {
				return nil, err
			}
			if isNumber {
				line.Quantity = parsed
			}
		}
		if price, ok := first(fields, lineTTCKeys); ok {
			if line.UnitTTC, line.HasTTC, err = amountField(fmt.Sprintf("line %d price", i+1), price); err != nil {
				return nil, err
			}
		}
		if price, ok := first(fields, lineHTKeys); ok {
			if line.UnitHT, line.HasHT, err = amountField(fmt.Sprintf("line %d price", i+1), price); err != nil {
				return nil, err
			}
		}
		discount := 0.0
		if d, ok := first(fields, lineDiscountKeys); ok {
			discount = amount.ClampFraction(d)
		}
		line.Discount = decimal.NewFromFloat(discount)

		unitPrice, err := amount.ToMoney(line.TaxInclusiveUnit())
		if err != nil {
			return nil, fmt.Errorf("line %d price: %w", i+1, err)
		}
		result = append(result, parsedLine{
			item: domain.LineItem{
				Name:      stringField(fields, lineNameKeys),
				Quantity:  line.Quantity.InexactFloat64(),
				UnitPrice: unitPrice,
				Discount:  discount,
			},
			amounts: line,
		})
	}
	return result, nil
}

func unwrapEnvelope(raw map[string]any) map[string]any {
	for _, key := range envelopeKeys {
		inner, ok := raw[key].(map[string]any)
		if !ok {
			continue
		}
		merged := make(map[string]any, len(raw)+len(inner))
		for k, v := range raw {
			if k != key {
				merged[k] = v
			}
		}
		for k, v := range inner {
			merged[k] = v
		}
		return merged
	}
	return raw
}

// first returns the value of the first alias present with a usable value.
// Blank strings count as absent.
func first(fields map[string]any, keys []string) (any, bool) {
	for _, key := range keys {
		v, ok := fields[key]
		if !ok || v == nil {
			continue
		}
		if s, isString := v.(string); isString && strings.TrimSpace(s) == "" {
			continue
		}
		return v, true
	}
	return nil, false
}

func stringField(fields map[string]any, keys []string) string {
	v, ok := first(fields, keys)
	if !ok {
		return ""
	}
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case json.Number:
		return val.String()
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	case bool:
		return strconv.FormatBool(val)
	}
	return ""
}
