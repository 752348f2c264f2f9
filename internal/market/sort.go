package market

import (
	"fmt"
	"slices"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/mtlprog/tracker/internal/domain"
)

// SortKey names a sortable asset column.
type SortKey string

const (
	SortRank      SortKey = "rank"
	SortName      SortKey = "name"
	SortSymbol    SortKey = "symbol"
	SortPrice     SortKey = "priceUsd"
	SortChange    SortKey = "changePercent24Hr"
	SortMarketCap SortKey = "marketCapUsd"
	SortVolume    SortKey = "volumeUsd24Hr"
	SortSupply    SortKey = "supply"
)

// Direction is ascending or descending.
type Direction string

const (
	Asc  Direction = "asc"
	Desc Direction = "desc"
)

// Sort is the active listing order.
type Sort struct {
	Key       SortKey   `json:"key"`
	Direction Direction `json:"direction"`
}

var numericKeys = map[SortKey]func(domain.Asset) decimal.Decimal{
	SortPrice:     func(a domain.Asset) decimal.Decimal { return a.PriceUSD },
	SortChange:    func(a domain.Asset) decimal.Decimal { return a.ChangePercent24h },
	SortMarketCap: func(a domain.Asset) decimal.Decimal { return a.MarketCapUSD },
	SortVolume:    func(a domain.Asset) decimal.Decimal { return a.VolumeUSD24h },
	SortSupply:    func(a domain.Asset) decimal.Decimal { return a.Supply },
}

var stringKeys = map[SortKey]func(domain.Asset) string{
	SortName:   func(a domain.Asset) string { return a.Name },
	SortSymbol: func(a domain.Asset) string { return a.Symbol },
}

// ParseSortKey validates a column name.
func ParseSortKey(s string) (SortKey, error) {
	k := SortKey(s)
	if k == SortRank {
		return k, nil
	}
	if _, ok := numericKeys[k]; ok {
		return k, nil
	}
	if _, ok := stringKeys[k]; ok {
		return k, nil
	}
	return "", fmt.Errorf("unknown sort key %q", s)
}

// NextSort returns the order after clicking key: the same key flips asc to desc,
// anything else starts ascending.
func NextSort(current Sort, key SortKey) Sort {
	if current.Key == key && current.Direction == Asc {
		return Sort{Key: key, Direction: Desc}
	}
	return Sort{Key: key, Direction: Asc}
}

// SortAssets returns a copy of assets ordered by key. Ties keep their input order.
func SortAssets(assets []domain.Asset, key SortKey, dir Direction) []domain.Asset {
	out := slices.Clone(assets)

	cmp := func(a, b domain.Asset) int { return a.Rank - b.Rank }
	if f, ok := numericKeys[key]; ok {
		cmp = func(a, b domain.Asset) int { return f(a).Cmp(f(b)) }
	} else if f, ok := stringKeys[key]; ok {
		cmp = func(a, b domain.Asset) int { return strings.Compare(f(a), f(b)) }
	}

	if dir == Desc {
		slices.SortStableFunc(out, func(a, b domain.Asset) int { return cmp(b, a) })
	} else {
		slices.SortStableFunc(out, cmp)
	}
	return out
}
