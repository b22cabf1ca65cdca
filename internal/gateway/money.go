package gateway

import "github.com/shopspring/decimal"

var (
	vatRate      = decimal.RequireFromString("0.15")
	vatInclusive = decimal.RequireFromString("1.15")
)

// FormatAmount renders an amount with exactly two fraction digits ("500.00").
func FormatAmount(d decimal.Decimal) string {
	return d.StringFixed(2)
}

// ParseAmount parses a provider amount string. Empty input yields zero.
func ParseAmount(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

// VATFromInclusive extracts the 15% VAT contained in a tax-inclusive total:
// round(amount * 0.15 / 1.15, 2). Two-decimal amounts never land on a rounding midpoint.
func VATFromInclusive(amount decimal.Decimal) decimal.Decimal {
	return amount.Mul(vatRate).Div(vatInclusive).Round(2)
}

// SumItems returns the sum of item totals.
func SumItems(items []LineItem) decimal.Decimal {
	sum := decimal.Zero
	for _, it := range items {
		sum = sum.Add(it.Total)
	}
	return sum
}
