package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Holding is the ledger record of how much of one asset the user owns.
// Quantity is always strictly positive for a holding stored in a ledger.
type Holding struct {
	AssetID      string          `json:"id"`
	Symbol       string          `json:"symbol"`
	Name         string          `json:"name"`
	Quantity     decimal.Decimal `json:"amount"`
	LastPriceUSD decimal.Decimal `json:"priceUsd"`
	LastUpdated  time.Time       `json:"lastUpdated"`
}

// Value returns Quantity x LastPriceUSD.
func (h Holding) Value() decimal.Decimal {
	return h.Quantity.Mul(h.LastPriceUSD)
}

// ParseAmount parses user input into a positive quantity.
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, fmt.Errorf("%w: empty", ErrInvalidAmount)
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q is not a number", ErrInvalidAmount, s)
	}
	return CheckAmount(d)
}

// CheckAmount returns d unchanged if it is strictly positive.
func CheckAmount(d decimal.Decimal) (decimal.Decimal, error) {
	if !d.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: %s must be greater than zero", ErrInvalidAmount, d)
	}
	return d, nil
}
