package valuation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/mtlprog/tracker/internal/domain"
	"github.com/mtlprog/tracker/internal/store"
)

// PriceSource defines the subset of the market API used for valuation.
type PriceSource interface {
	GetAsset(ctx context.Context, id string) (domain.Asset, error)
}

// Ledger defines the wallet operations the engine reads and writes.
type Ledger interface {
	Holdings() []domain.Holding
	UpdatePrice(ctx context.Context, assetID string, priceUSD decimal.Decimal) error
}

// Policy controls whether a refresh may reuse last known prices.
type Policy struct {
	// StaleAfter is how long a full refresh stays valid.
	StaleAfter time.Duration
	// ForceFresh bypasses the staleness check.
	ForceFresh bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithMaxConcurrency bounds the number of simultaneous price requests. Zero means unbounded.
func WithMaxConcurrency(n int) Option {
	return func(e *Engine) { e.maxConcurrency = n }
}

// Engine computes valuation snapshots and decides when to contact the price source.
type Engine struct {
	prices         PriceSource
	store          store.Store // optional; caches the last aggregate across restarts
	maxConcurrency int

	mu              sync.Mutex
	lastFullRefresh time.Time
}

// NewEngine creates a valuation Engine. The store may be nil.
func NewEngine(prices PriceSource, st store.Store, opts ...Option) *Engine {
	if prices == nil {
		panic("valuation.NewEngine: prices is nil")
	}
	e := &Engine{prices: prices, store: st}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Restore reads the cached aggregate so that a restart inside the staleness window
// does not hit the price source. A missing or malformed record is ignored.
func (e *Engine) Restore(ctx context.Context) (domain.ValuationRecord, bool) {
	if e.store == nil {
		return domain.ValuationRecord{}, false
	}

	raw, ok, err := e.store.Get(ctx, store.ValuationKey)
	if err != nil {
		slog.Warn("valuation: cached record unreadable", "error", err)
		return domain.ValuationRecord{}, false
	}
	if !ok {
		return domain.ValuationRecord{}, false
	}

	var rec domain.ValuationRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		slog.Warn("valuation: cached record malformed", "error", err)
		return domain.ValuationRecord{}, false
	}

	e.mu.Lock()
	if rec.LastFullRefresh.After(e.lastFullRefresh) {
		e.lastFullRefresh = rec.LastFullRefresh
	}
	e.mu.Unlock()
	return rec, true
}

// LastFullRefresh returns the time of the last refresh that contacted the price source.
func (e *Engine) LastFullRefresh() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastFullRefresh
}

// Refresh produces a valuation snapshot of ledger at now.
//
// Inside the staleness window (and without ForceFresh) only last known prices are used.
// Otherwise every holding is priced concurrently; an asset whose fetch fails keeps its
// last known price and is reported as a warning. Fresh prices are written back to the ledger.
// The only error returned is the context's, in which case nothing is recorded.
func (e *Engine) Refresh(ctx context.Context, ledger Ledger, now time.Time, policy Policy) (domain.ValuationSnapshot, error) {
	holdings := ledger.Holdings()
	last := e.LastFullRefresh()

	if len(holdings) == 0 {
		return domain.ValuationSnapshot{
			PerAsset:        []domain.AssetValue{},
			TotalValueUSD:   decimal.Zero,
			AsOf:            now,
			LastFullRefresh: last,
		}, nil
	}

	if !policy.ForceFresh && !last.IsZero() && now.Sub(last) < policy.StaleAfter {
		rows := lo.Map(holdings, func(h domain.Holding, _ int) domain.AssetValue {
			return domain.AssetValue{Holding: h, CurrentPriceUSD: h.LastPriceUSD}
		})
		snap := aggregate(rows)
		snap.AsOf = now
		snap.LastFullRefresh = last
		return snap, nil
	}

	rows, warnings := e.fetchAll(ctx, holdings)
	if err := ctx.Err(); err != nil {
		return domain.ValuationSnapshot{}, err
	}

	for _, row := range rows {
		if row.Stale {
			continue
		}
		if err := ledger.UpdatePrice(ctx, row.Holding.AssetID, row.CurrentPriceUSD); err != nil {
			slog.Warn("valuation: price write-back failed", "asset", row.Holding.AssetID, "error", err)
		}
	}
	rows = settle(rows, ledger.Holdings())

	e.mu.Lock()
	e.lastFullRefresh = now
	e.mu.Unlock()

	snap := aggregate(rows)
	snap.AsOf = now
	snap.LastFullRefresh = now
	snap.Live = true
	snap.Warnings = warnings

	e.saveRecord(ctx, domain.ValuationRecord{TotalValueUSD: snap.TotalValueUSD, LastFullRefresh: now})

	slog.Info("valuation: live refresh",
		"assets", len(rows),
		"failed", len(warnings),
		"total", snap.TotalValueUSD.StringFixed(2),
	)
	return snap, nil
}

// fetchAll prices every holding concurrently and waits for all outcomes.
func (e *Engine) fetchAll(ctx context.Context, holdings []domain.Holding) ([]domain.AssetValue, []string) {
	type outcome struct {
		price decimal.Decimal
		err   error
	}
	outcomes := make([]outcome, len(holdings))

	var g errgroup.Group
	if e.maxConcurrency > 0 {
		g.SetLimit(e.maxConcurrency)
	}
	for i, h := range holdings {
		g.Go(func() error {
			asset, err := e.prices.GetAsset(ctx, h.AssetID)
			outcomes[i] = outcome{price: asset.PriceUSD, err: err}
			return nil
		})
	}
	_ = g.Wait()

	var warnings []string
	rows := make([]domain.AssetValue, len(holdings))
	for i, h := range holdings {
		o := outcomes[i]
		if o.err != nil {
			err := fmt.Errorf("%w for %s, using last known price: %w", domain.ErrPriceFetchFailed, h.AssetID, o.err)
			slog.Warn("valuation: price fetch failed", "asset", h.AssetID, "error", o.err)
			warnings = append(warnings, err.Error())
			rows[i] = domain.AssetValue{Holding: h, CurrentPriceUSD: h.LastPriceUSD, Stale: true}
			continue
		}
		rows[i] = domain.AssetValue{Holding: h, CurrentPriceUSD: o.price}
	}
	return rows, warnings
}

// settle rebuilds the fetched rows from the ledger as it is after write-back.
// Assets removed while prices were in flight are dropped; holdings added meanwhile
// were never priced and wait for the next refresh.
func settle(rows []domain.AssetValue, current []domain.Holding) []domain.AssetValue {
	held := lo.KeyBy(current, func(h domain.Holding) string { return h.AssetID })
	return lo.FilterMap(rows, func(row domain.AssetValue, _ int) (domain.AssetValue, bool) {
		h, ok := held[row.Holding.AssetID]
		if !ok {
			return row, false
		}
		row.Holding = h
		if row.Stale {
			row.CurrentPriceUSD = h.LastPriceUSD
		}
		return row, true
	})
}

func (e *Engine) saveRecord(ctx context.Context, rec domain.ValuationRecord) {
	if e.store == nil {
		return
	}
	data, err := json.Marshal(rec)
	if err != nil {
		slog.Warn("valuation: encoding cached record", "error", err)
		return
	}
	if err := e.store.Set(ctx, store.ValuationKey, string(data)); err != nil {
		slog.Warn("valuation: caching aggregate failed", "error", err)
	}
}

// aggregate computes values, total and shares, sorted by value desc then asset id asc.
func aggregate(rows []domain.AssetValue) domain.ValuationSnapshot {
	for i := range rows {
		rows[i].ValueUSD = rows[i].Holding.Quantity.Mul(rows[i].CurrentPriceUSD)
	}

	total := lo.Reduce(rows, func(acc decimal.Decimal, r domain.AssetValue, _ int) decimal.Decimal {
		return acc.Add(r.ValueUSD)
	}, decimal.Zero)

	for i := range rows {
		rows[i].Share = domain.Ratio(rows[i].ValueUSD, total)
	}

	sort.SliceStable(rows, func(i, j int) bool {
		if c := rows[i].ValueUSD.Cmp(rows[j].ValueUSD); c != 0 {
			return c > 0
		}
		return rows[i].Holding.AssetID < rows[j].Holding.AssetID
	})

	return domain.ValuationSnapshot{PerAsset: rows, TotalValueUSD: total}
}
