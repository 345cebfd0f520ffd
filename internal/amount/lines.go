package amount

import "github.com/shopspring/decimal"

// Line is one invoice line reduced to the numbers that matter for totals.
// A line may carry a tax-inclusive unit price, a pre-tax one, or both.
type Line struct {
	Quantity decimal.Decimal
	UnitTTC  decimal.Decimal
	UnitHT   decimal.Decimal
	HasTTC   bool
	HasHT    bool
	Discount decimal.Decimal
}

// TaxInclusiveUnit returns the unit price including tax, deriving it from
// the pre-tax price when needed.
func (l Line) TaxInclusiveUnit() decimal.Decimal {
	if l.HasTTC {
		return l.UnitTTC
	}
	if l.HasHT {
		return l.UnitHT.Mul(TaxInclusionFactor).Round(2)
	}
	return decimal.Zero
}

// Total picks the invoice amount: an explicit positive total wins, then the
// sum of tax-inclusive lines net of discount, then pre-tax lines grossed up
// by TaxInclusionFactor. The result is rounded to cents; zero means no
// usable amount was found. A total above MaxAmount fails with ErrOutOfRange.
func Total(explicit decimal.Decimal, lines []Line) (decimal.Decimal, error) {
	if explicit.IsPositive() {
		d, err := bounded(explicit)
		if err != nil {
			return decimal.Zero, err
		}
		return d.Round(2), nil
	}

	ttc := decimal.Zero
	for _, line := range lines {
		if !line.HasTTC {
			continue
		}
		keep := decimal.NewFromInt(1).Sub(line.Discount)
		ttc = ttc.Add(line.Quantity.Mul(line.UnitTTC).Mul(keep))
	}
	if ttc = ttc.Round(2); ttc.IsPositive() {
		return bounded(ttc)
	}

	ht := decimal.Zero
	for _, line := range lines {
		if line.HasTTC || !line.HasHT {
			continue
		}
		ht = ht.Add(line.Quantity.Mul(line.UnitHT).Mul(TaxInclusionFactor))
	}
	if ht = ht.Round(2); ht.IsPositive() {
		return bounded(ht)
	}
	return decimal.Zero, nil
}
