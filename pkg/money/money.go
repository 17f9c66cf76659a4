// Package money normalizes every monetary value to two decimal places with
// round-half-up semantics before it is compared or persisted, so totals never
// drift through floating-point arithmetic.
package money

import "github.com/shopspring/decimal"

// Normalize rounds the amount to two decimal places, half away from zero.
func Normalize(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// FromFloat converts a float amount into a normalized decimal.
func FromFloat(f float64) decimal.Decimal {
	return Normalize(decimal.NewFromFloat(f))
}

// Zero is the normalized zero amount.
func Zero() decimal.Decimal {
	return decimal.Zero
}

// Sum normalizes and adds the given amounts.
func Sum(amounts ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, a := range amounts {
		total = total.Add(a)
	}
	return Normalize(total)
}

// LineTotal multiplies quantity by unit price and normalizes the result.
func LineTotal(qty int64, unitPrice decimal.Decimal) decimal.Decimal {
	return Normalize(unitPrice.Mul(decimal.NewFromInt(qty)))
}

// Equal compares two amounts after normalization.
func Equal(a, b decimal.Decimal) bool {
	return Normalize(a).Equal(Normalize(b))
}
