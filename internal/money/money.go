// Package money centralizes the decimal arithmetic conventions shared by
// the accounting packages. All collateral amounts and token quantities are
// shopspring decimals; float64 never touches money.
package money

import "github.com/shopspring/decimal"

// DefaultEpsilon is the tolerance for cash-identity comparisons: 1e-6, one
// unit of USDC's smallest denomination.
var DefaultEpsilon = decimal.New(1, -6)

// UnitPrice returns notional/qty, the implied per-token price of a fill.
// Zero quantity yields zero rather than a division error; callers treat
// such rows as priceless.
func UnitPrice(notional, qty decimal.Decimal) decimal.Decimal {
	if qty.IsZero() {
		return decimal.Zero
	}
	return notional.Div(qty)
}

// WithinEpsilon reports whether a and b differ by at most eps.
func WithinEpsilon(a, b, eps decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(eps)
}

// Min returns the smaller of a and b.
func Min(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}
