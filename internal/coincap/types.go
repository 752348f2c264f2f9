package coincap

import (
	"strconv"
	"time"

	"github.com/samber/lo"

	"github.com/mtlprog/tracker/internal/domain"
)

// envelope is the CoinCap response wrapper: {"data": ..., "timestamp": ...}.
type envelope[T any] struct {
	Data      T     `json:"data"`
	Timestamp int64 `json:"timestamp"`
}

// CoinCap encodes every number as a JSON string; nullable fields come back as null.
type assetDTO struct {
	ID                string  `json:"id"`
	Rank              string  `json:"rank"`
	Symbol            string  `json:"symbol"`
	Name              string  `json:"name"`
	Supply            *string `json:"supply"`
	MaxSupply         *string `json:"maxSupply"`
	MarketCapUsd      *string `json:"marketCapUsd"`
	VolumeUsd24Hr     *string `json:"volumeUsd24Hr"`
	PriceUsd          *string `json:"priceUsd"`
	ChangePercent24Hr *string `json:"changePercent24Hr"`
	Vwap24Hr          *string `json:"vwap24Hr"`
	Explorer          *string `json:"explorer"`
}

type historyDTO struct {
	PriceUsd string `json:"priceUsd"`
	Time     int64  `json:"time"`
}

type marketDTO struct {
	ExchangeID    string  `json:"exchangeId"`
	BaseID        string  `json:"baseId"`
	QuoteID       string  `json:"quoteId"`
	BaseSymbol    string  `json:"baseSymbol"`
	QuoteSymbol   string  `json:"quoteSymbol"`
	VolumeUsd24Hr *string `json:"volumeUsd24Hr"`
	PriceUsd      *string `json:"priceUsd"`
	VolumePercent *string `json:"volumePercent"`
}

func (a assetDTO) toDomain() domain.Asset {
	rank, _ := strconv.Atoi(a.Rank)
	return domain.Asset{
		ID:               a.ID,
		Rank:             rank,
		Symbol:           a.Symbol,
		Name:             a.Name,
		Supply:           domain.SafeParse(lo.FromPtr(a.Supply)),
		MaxSupply:        domain.SafeParsePtr(lo.FromPtr(a.MaxSupply)),
		MarketCapUSD:     domain.SafeParse(lo.FromPtr(a.MarketCapUsd)),
		VolumeUSD24h:     domain.SafeParse(lo.FromPtr(a.VolumeUsd24Hr)),
		PriceUSD:         domain.SafeParse(lo.FromPtr(a.PriceUsd)),
		ChangePercent24h: domain.SafeParse(lo.FromPtr(a.ChangePercent24Hr)),
		VWAP24h:          domain.SafeParse(lo.FromPtr(a.Vwap24Hr)),
		Explorer:         lo.FromPtr(a.Explorer),
	}
}

func (h historyDTO) toDomain() domain.HistoryPoint {
	return domain.HistoryPoint{
		Time:     time.UnixMilli(h.Time).UTC(),
		PriceUSD: domain.SafeParse(h.PriceUsd),
	}
}

func (m marketDTO) toDomain() domain.Market {
	return domain.Market{
		ExchangeID:    m.ExchangeID,
		BaseID:        m.BaseID,
		QuoteID:       m.QuoteID,
		BaseSymbol:    m.BaseSymbol,
		QuoteSymbol:   m.QuoteSymbol,
		PriceUSD:      domain.SafeParse(lo.FromPtr(m.PriceUsd)),
		VolumeUSD24h:  domain.SafeParse(lo.FromPtr(m.VolumeUsd24Hr)),
		VolumePercent: domain.SafeParse(lo.FromPtr(m.VolumePercent)),
	}
}
