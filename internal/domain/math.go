package domain

import (
	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

// SafeParse parses a string into a decimal, returning zero for invalid or empty input.
func SafeParse(value string) decimal.Decimal {
	if value == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// SafeParsePtr parses an optional numeric string. Empty or invalid input yields nil.
func SafeParsePtr(value string) *decimal.Decimal {
	if value == "" {
		return nil
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		return nil
	}
	return &d
}

// Ratio returns a / b, or zero when b is zero.
func Ratio(a, b decimal.Decimal) decimal.Decimal {
	if b.IsZero() {
		return decimal.Zero
	}
	return a.Div(b)
}

// FormatUSD renders a dollar amount with cents, e.g. "$1,234.56".
func FormatUSD(d decimal.Decimal) string {
	cur := money.GetCurrency(money.USD)
	cents := d.Shift(int32(cur.Fraction)).Round(0)
	return cur.Formatter().Format(cents.IntPart())
}
