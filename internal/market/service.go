// Package market serves the read-only browsing side of the tracker: paged asset
// listings, price history by timeframe, exchange markets and derived stats.
package market

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/mtlprog/tracker/internal/domain"
)

// PageSize is the number of assets per listing page.
const PageSize = 20

// Source defines the price source calls used for browsing.
type Source interface {
	GetAsset(ctx context.Context, id string) (domain.Asset, error)
	ListAssets(ctx context.Context, search string, limit, offset int) ([]domain.Asset, error)
	GetHistory(ctx context.Context, id, interval string, start, end time.Time) ([]domain.HistoryPoint, error)
	GetMarkets(ctx context.Context, id string) ([]domain.Market, error)
}

// Timeframe maps a chart range to the sampling interval and how far back it reaches.
type Timeframe struct {
	Key      string
	Interval string
	Span     time.Duration
}

// DefaultTimeframe is used for unknown keys.
const DefaultTimeframe = "d1"

var timeframes = map[string]Timeframe{
	"h1": {Key: "h1", Interval: "m5", Span: time.Hour},
	"d1": {Key: "d1", Interval: "h1", Span: 24 * time.Hour},
	"w1": {Key: "w1", Interval: "h6", Span: 7 * 24 * time.Hour},
	"m1": {Key: "m1", Interval: "d1", Span: 30 * 24 * time.Hour},
}

// LookupTimeframe resolves key, falling back to DefaultTimeframe.
func LookupTimeframe(key string) Timeframe {
	if tf, ok := timeframes[key]; ok {
		return tf
	}
	return timeframes[DefaultTimeframe]
}

// AssetStats summarizes an asset for display.
type AssetStats struct {
	PriceUSD         decimal.Decimal  `json:"priceUsd"`
	MarketCapUSD     decimal.Decimal  `json:"marketCapUsd"`
	VolumeUSD24h     decimal.Decimal  `json:"volumeUsd24Hr"`
	ChangePercent24h decimal.Decimal  `json:"changePercent24Hr"`
	Supply           decimal.Decimal  `json:"supply"`
	MaxSupply        *decimal.Decimal `json:"maxSupply,omitempty"`
	// Circulating is supply / max supply; nil when max supply is unknown or zero.
	Circulating *decimal.Decimal `json:"circulating,omitempty"`
}

// Service wraps a Source with paging, sorting and a short-lived asset cache.
type Service struct {
	source Source
	cache  *assetCache
}

// NewService creates a market Service.
func NewService(source Source) *Service {
	return &Service{source: source, cache: newAssetCache()}
}

// Page returns one page of assets. Pages are 1-based; anything below 1 is treated as 1.
func (s *Service) Page(ctx context.Context, search string, page int) ([]domain.Asset, error) {
	page = max(page, 1)
	assets, err := s.source.ListAssets(ctx, search, PageSize, (page-1)*PageSize)
	if err != nil {
		return nil, fmt.Errorf("listing assets: %w", err)
	}
	for _, a := range assets {
		s.cache.set(a)
	}
	return assets, nil
}

// Asset returns a single asset, served from cache when recently seen.
func (s *Service) Asset(ctx context.Context, id string) (domain.Asset, error) {
	if a, ok := s.cache.get(id); ok {
		return a, nil
	}
	a, err := s.source.GetAsset(ctx, id)
	if err != nil {
		return domain.Asset{}, err
	}
	s.cache.set(a)
	return a, nil
}

// History returns the price series of id for timeframe, ending at now.
func (s *Service) History(ctx context.Context, id, timeframe string, now time.Time) ([]domain.HistoryPoint, error) {
	tf := LookupTimeframe(timeframe)
	points, err := s.source.GetHistory(ctx, id, tf.Interval, now.Add(-tf.Span), now)
	if err != nil {
		if errors.Is(err, domain.ErrAssetNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("fetching %s history for %s: %w", tf.Key, id, err)
	}
	if len(points) == 0 {
		return nil, fmt.Errorf("%w: %s (%s)", domain.ErrNoHistory, id, tf.Key)
	}
	return points, nil
}

// Markets returns the exchange pairs trading id.
func (s *Service) Markets(ctx context.Context, id string) ([]domain.Market, error) {
	markets, err := s.source.GetMarkets(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("fetching markets for %s: %w", id, err)
	}
	return markets, nil
}

// Stats derives display stats from an asset.
func Stats(a domain.Asset) AssetStats {
	st := AssetStats{
		PriceUSD:         a.PriceUSD,
		MarketCapUSD:     a.MarketCapUSD,
		VolumeUSD24h:     a.VolumeUSD24h,
		ChangePercent24h: a.ChangePercent24h,
		Supply:           a.Supply,
		MaxSupply:        a.MaxSupply,
	}
	if a.MaxSupply != nil && !a.MaxSupply.IsZero() {
		st.Circulating = lo.ToPtr(a.Supply.Div(*a.MaxSupply))
	}
	return st
}
