// Package wallet holds the simulated portfolio: an in-memory map of holdings
// that is hydrated once from the store and written back in full after every mutation.
package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/mtlprog/tracker/internal/domain"
	"github.com/mtlprog/tracker/internal/store"
)

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock overrides the time source used for LastUpdated.
func WithClock(clock func() time.Time) Option {
	return func(l *Ledger) { l.clock = clock }
}

// Ledger is the sole writer of portfolio state.
// All methods are safe for concurrent use; the last completed write wins in the store.
type Ledger struct {
	mu       sync.Mutex
	store    store.Store
	clock    func() time.Time
	holdings map[string]domain.Holding
	hydrated bool
}

// NewLedger creates an empty ledger backed by s. Call Hydrate before use.
func NewLedger(s store.Store, opts ...Option) *Ledger {
	if s == nil {
		panic("wallet.NewLedger: store is nil")
	}
	l := &Ledger{
		store:    s,
		clock:    time.Now,
		holdings: make(map[string]domain.Holding),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Hydrate loads the ledger from the store. A missing, unreadable or malformed value
// leaves the ledger empty and is only logged. Invalid entries are dropped individually.
// Only the first call has an effect.
func (l *Ledger) Hydrate(ctx context.Context) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.hydrated {
		return
	}
	l.hydrated = true

	raw, ok, err := l.store.Get(ctx, store.WalletKey)
	if err != nil {
		slog.Warn("wallet: starting empty", "error", fmt.Errorf("%w: %w", domain.ErrStoreRead, err))
		return
	}
	if !ok || raw == "" {
		return
	}

	holdings, err := decodeLedger(raw)
	if err != nil {
		slog.Warn("wallet: stored ledger is malformed, starting empty", "error", err)
		return
	}
	l.holdings = holdings
	slog.Info("wallet: hydrated", "holdings", len(holdings))
}

// AddHolding adds quantity of asset. Repeated adds accumulate; symbol, name and price
// are refreshed from asset.
func (l *Ledger) AddHolding(ctx context.Context, asset domain.Asset, quantity decimal.Decimal) error {
	if asset.ID == "" {
		return errors.New("asset id is required")
	}
	if _, err := domain.CheckAmount(quantity); err != nil {
		return err
	}
	if asset.PriceUSD.IsNegative() {
		return fmt.Errorf("%w: %s", domain.ErrInvalidPrice, asset.PriceUSD)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	h, held := l.holdings[asset.ID]
	if !held {
		h = domain.Holding{AssetID: asset.ID, Quantity: decimal.Zero}
	}
	h.Quantity = h.Quantity.Add(quantity)
	h.Symbol = lo.CoalesceOrEmpty(asset.Symbol, h.Symbol)
	h.Name = lo.CoalesceOrEmpty(asset.Name, h.Name)
	h.LastPriceUSD = asset.PriceUSD
	h.LastUpdated = l.clock()
	l.holdings[asset.ID] = h

	slog.Debug("wallet: added", "asset", asset.ID, "quantity", quantity, "total", h.Quantity)
	return l.persistLocked(ctx)
}

// RemoveHolding subtracts quantity from a held asset, deleting it when nothing remains.
// Removing an asset that is not held does nothing.
func (l *Ledger) RemoveHolding(ctx context.Context, assetID string, quantity decimal.Decimal) error {
	if _, err := domain.CheckAmount(quantity); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	h, held := l.holdings[assetID]
	if !held {
		return nil
	}

	if quantity.GreaterThanOrEqual(h.Quantity) {
		delete(l.holdings, assetID)
		slog.Debug("wallet: removed completely", "asset", assetID)
	} else {
		h.Quantity = h.Quantity.Sub(quantity)
		h.LastUpdated = l.clock()
		l.holdings[assetID] = h
		slog.Debug("wallet: reduced", "asset", assetID, "quantity", quantity, "total", h.Quantity)
	}
	return l.persistLocked(ctx)
}

// UpdatePrice records a new unit price for a held asset. Unknown assets are ignored.
func (l *Ledger) UpdatePrice(ctx context.Context, assetID string, priceUSD decimal.Decimal) error {
	if priceUSD.IsNegative() {
		return fmt.Errorf("%w: %s", domain.ErrInvalidPrice, priceUSD)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	h, held := l.holdings[assetID]
	if !held {
		return nil
	}
	h.LastPriceUSD = priceUSD
	h.LastUpdated = l.clock()
	l.holdings[assetID] = h
	return l.persistLocked(ctx)
}

// TotalValue sums quantity x last known price. It never touches the network.
func (l *Ledger) TotalValue() decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()

	return lo.Reduce(lo.Values(l.holdings), func(acc decimal.Decimal, h domain.Holding, _ int) decimal.Decimal {
		return acc.Add(h.Value())
	}, decimal.Zero)
}

// Holdings returns a copy of all holdings ordered by asset id.
func (l *Ledger) Holdings() []domain.Holding {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := lo.Values(l.holdings)
	sort.Slice(out, func(i, j int) bool { return out[i].AssetID < out[j].AssetID })
	return out
}

// Holding returns the holding for assetID, if held.
func (l *Ledger) Holding(assetID string) (domain.Holding, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	h, ok := l.holdings[assetID]
	return h, ok
}

// Len returns the number of held assets.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.holdings)
}

// persistLocked overwrites the stored ledger. The in-memory state is kept on failure.
func (l *Ledger) persistLocked(ctx context.Context) error {
	data, err := json.Marshal(l.holdings)
	if err != nil {
		return fmt.Errorf("%w: encoding ledger: %w", domain.ErrStoreWrite, err)
	}
	if err := l.store.Set(ctx, store.WalletKey, string(data)); err != nil {
		return fmt.Errorf("%w: %w", domain.ErrStoreWrite, err)
	}
	return nil
}

// decodeLedger parses the stored JSON object. Entries that fail to decode or carry a
// non-positive quantity or negative price are dropped with a warning.
func decodeLedger(raw string) (map[string]domain.Holding, error) {
	var entries map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &entries); err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrStoreRead, err)
	}

	holdings := make(map[string]domain.Holding, len(entries))
	for key, entry := range entries {
		var h domain.Holding
		if err := json.Unmarshal(entry, &h); err != nil {
			slog.Warn("wallet: dropping undecodable holding", "key", key, "error", err)
			continue
		}
		h.AssetID = key
		if key == "" {
			slog.Warn("wallet: dropping holding without asset id")
			continue
		}
		if !h.Quantity.IsPositive() {
			slog.Warn("wallet: dropping holding with non-positive quantity", "asset", key, "quantity", h.Quantity)
			continue
		}
		if h.LastPriceUSD.IsNegative() {
			slog.Warn("wallet: dropping holding with negative price", "asset", key, "price", h.LastPriceUSD)
			continue
		}
		holdings[key] = h
	}
	return holdings, nil
}
