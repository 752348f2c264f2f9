package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// AssetValue is one row of a valuation snapshot.
type AssetValue struct {
	Holding         Holding         `json:"holding"`
	CurrentPriceUSD decimal.Decimal `json:"currentPriceUsd"`
	ValueUSD        decimal.Decimal `json:"valueUsd"`
	Share           decimal.Decimal `json:"share"`           // ValueUSD / TotalValueUSD
	Stale           bool            `json:"stale,omitempty"` // live fetch failed, last known price used
}

// ValuationSnapshot is a point-in-time view of the portfolio value. It is never persisted.
type ValuationSnapshot struct {
	PerAsset        []AssetValue    `json:"perAsset"`
	TotalValueUSD   decimal.Decimal `json:"totalValueUsd"`
	AsOf            time.Time       `json:"asOf"`
	LastFullRefresh time.Time       `json:"lastFullRefresh"`
	Live            bool            `json:"live"`
	Warnings        []string        `json:"warnings,omitempty"`
}

// ValuationRecord is the cached aggregate kept in the store between process restarts.
type ValuationRecord struct {
	TotalValueUSD   decimal.Decimal `json:"totalValueUsd"`
	LastFullRefresh time.Time       `json:"lastFullRefresh"`
}
