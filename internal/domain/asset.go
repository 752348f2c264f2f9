package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Asset is a market record from the price source, normalized to typed fields.
type Asset struct {
	ID               string           `json:"id"`
	Rank             int              `json:"rank"`
	Symbol           string           `json:"symbol"`
	Name             string           `json:"name"`
	Supply           decimal.Decimal  `json:"supply"`
	MaxSupply        *decimal.Decimal `json:"maxSupply,omitempty"`
	MarketCapUSD     decimal.Decimal  `json:"marketCapUsd"`
	VolumeUSD24h     decimal.Decimal  `json:"volumeUsd24Hr"`
	PriceUSD         decimal.Decimal  `json:"priceUsd"`
	ChangePercent24h decimal.Decimal  `json:"changePercent24Hr"`
	VWAP24h          decimal.Decimal  `json:"vwap24Hr"`
	Explorer         string           `json:"explorer,omitempty"`
}

// HistoryPoint is a single sample of an asset price series.
type HistoryPoint struct {
	Time     time.Time       `json:"time"`
	PriceUSD decimal.Decimal `json:"priceUsd"`
}

// Market is one exchange pair trading an asset.
type Market struct {
	ExchangeID    string          `json:"exchangeId"`
	BaseID        string          `json:"baseId"`
	QuoteID       string          `json:"quoteId"`
	BaseSymbol    string          `json:"baseSymbol"`
	QuoteSymbol   string          `json:"quoteSymbol"`
	PriceUSD      decimal.Decimal `json:"priceUsd"`
	VolumeUSD24h  decimal.Decimal `json:"volumeUsd24Hr"`
	VolumePercent decimal.Decimal `json:"volumePercent"`
}
