// Package amount turns loosely typed monetary input into exact decimals.
//
// Callers send amounts as JSON numbers, plain strings, or locale-formatted
// strings such as "1 234,56" (French thousands separator and decimal comma).
// Everything is parsed with shopspring/decimal so rounding happens exactly
// once, at two places, just before an amount reaches the ledger.
package amount

import (
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"

	"caisse/backend/internal/domain"
)

// TaxInclusionFactor converts a pre-tax unit price to a tax-inclusive one
// (flat 20% VAT).
var TaxInclusionFactor = decimal.RequireFromString("1.2")

var hundred = decimal.NewFromInt(100)

// MaxAmount is the largest magnitude accepted for any parsed amount,
// quantity or line product, in major units.
var MaxAmount = decimal.New(1, 13)

const (
	// maxInputLen caps the text handed to the decimal parser.
	maxInputLen = 64
	// maxExponent caps scientific-notation exponents in either direction.
	maxExponent = 15
	// maxScale is the finest precision kept from float inputs.
	maxScale = 18
)

var (
	ErrNotNumber  = errors.New("not a number")
	ErrOutOfRange = domain.ErrAmountOutOfRange
)

// Normalize parses value as a decimal and returns fallback when that is not
// possible, including when the value is out of range.
func Normalize(value any, fallback decimal.Decimal) decimal.Decimal {
	d, err := Parse(value)
	if err != nil {
		return fallback
	}
	return d
}

// Parse returns the number held by value. It fails with ErrNotNumber when
// value carries no finite number and with ErrOutOfRange when the number
// exceeds MaxAmount in magnitude.
func Parse(value any) (decimal.Decimal, error) {
	var (
		d   decimal.Decimal
		err error
	)
	switch v := value.(type) {
	case decimal.Decimal:
		d = v
	case json.Number:
		d, err = parseString(v.String())
	case string:
		d, err = parseString(v)
	case float64:
		d, err = fromFloat(v)
	case float32:
		d, err = fromFloat(float64(v))
	case int:
		d = decimal.NewFromInt(int64(v))
	case int32:
		d = decimal.NewFromInt(int64(v))
	case int64:
		d = decimal.NewFromInt(v)
	case uint:
		d = decimal.NewFromUint64(uint64(v))
	case uint32:
		d = decimal.NewFromUint64(uint64(v))
	case uint64:
		d = decimal.NewFromUint64(v)
	default:
		return decimal.Zero, ErrNotNumber
	}
	if err != nil {
		return decimal.Zero, err
	}
	return bounded(d)
}

// bounded checks the exponent before any comparison, since comparing or
// rounding rescales to a common exponent.
func bounded(d decimal.Decimal) (decimal.Decimal, error) {
	if d.IsZero() {
		return decimal.Zero, nil
	}
	exp := d.Exponent()
	if exp > maxExponent || exp < -1100 {
		return decimal.Zero, ErrOutOfRange
	}
	if exp < -maxScale {
		d = d.Round(maxScale)
	}
	if d.Abs().GreaterThan(MaxAmount) {
		return decimal.Zero, ErrOutOfRange
	}
	return d, nil
}

// ClampFraction interprets value as a discount fraction. Values above 1 are
// read as percentages; the result always lies in [0, 1].
func ClampFraction(value any) float64 {
	d, err := Parse(value)
	if err != nil || !d.IsPositive() {
		return 0
	}
	if d.GreaterThan(decimal.NewFromInt(1)) {
		d = d.Div(hundred)
	}
	if d.GreaterThan(decimal.NewFromInt(1)) {
		return 1
	}
	return d.InexactFloat64()
}

// ToMoney rounds d to cents.
func ToMoney(d decimal.Decimal) (domain.Money, error) {
	return domain.MoneyFromDecimal(d)
}

func fromFloat(v float64) (decimal.Decimal, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return decimal.Zero, ErrNotNumber
	}
	if math.Abs(v) > 1e13 {
		return decimal.Zero, ErrOutOfRange
	}
	return decimal.NewFromFloat(v), nil
}

func parseString(raw string) (decimal.Decimal, error) {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case unicode.IsSpace(r):
			return -1
		case r == '\'' || r == '’' || r == '€' || r == '$' || r == '£':
			return -1
		}
		return r
	}, raw)
	if cleaned == "" {
		return decimal.Zero, ErrNotNumber
	}
	if len(cleaned) > maxInputLen {
		return decimal.Zero, ErrOutOfRange
	}
	if i := strings.IndexAny(cleaned, "eE"); i >= 0 {
		exp, err := strconv.Atoi(cleaned[i+1:])
		if err != nil {
			return decimal.Zero, ErrNotNumber
		}
		if exp > maxExponent || exp < -maxExponent {
			return decimal.Zero, ErrOutOfRange
		}
	}

	cleaned = normalizeSeparators(cleaned)
	d, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero, ErrNotNumber
	}
	return d, nil
}

// normalizeSeparators rewrites s so that '.' is the only decimal separator
// and no grouping separators remain. When both ',' and '.' appear, the one
// that comes last is the decimal separator. A lone separator is a decimal
// separator; a repeated one groups thousands.
func normalizeSeparators(s string) string {
	lastComma := strings.LastIndex(s, ",")
	lastDot := strings.LastIndex(s, ".")

	switch {
	case lastComma >= 0 && lastDot >= 0:
		if lastComma > lastDot {
			s = strings.ReplaceAll(s, ".", "")
			return strings.Replace(s, ",", ".", 1)
		}
		return strings.ReplaceAll(s, ",", "")
	case lastComma >= 0:
		if strings.Count(s, ",") > 1 {
			return strings.ReplaceAll(s, ",", "")
		}
		return strings.Replace(s, ",", ".", 1)
	case lastDot >= 0 && strings.Count(s, ".") > 1:
		return strings.ReplaceAll(s, ".", "")
	}
	return s
}
