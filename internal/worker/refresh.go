package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/mtlprog/tracker/internal/domain"
	"github.com/mtlprog/tracker/internal/valuation"
)

// Refresher defines the valuation call made on every tick.
type Refresher interface {
	Refresh(ctx context.Context, ledger valuation.Ledger, now time.Time, policy valuation.Policy) (domain.ValuationSnapshot, error)
}

// AfterRefreshHook is called after each successful refresh.
type AfterRefreshHook interface {
	Export(ctx context.Context, snap domain.ValuationSnapshot) error
}

// RefreshWorker periodically revalues the wallet.
type RefreshWorker struct {
	engine   Refresher
	ledger   valuation.Ledger
	policy   valuation.Policy
	interval time.Duration
	hook     AfterRefreshHook // optional
}

// NewRefreshWorker creates a new RefreshWorker with an optional post-refresh hook.
func NewRefreshWorker(engine Refresher, ledger valuation.Ledger, policy valuation.Policy, interval time.Duration, hook AfterRefreshHook) *RefreshWorker {
	return &RefreshWorker{
		engine:   engine,
		ledger:   ledger,
		policy:   policy,
		interval: interval,
		hook:     hook,
	}
}

// runHook calls the post-refresh hook if one is configured. Cached snapshots are skipped.
func (w *RefreshWorker) runHook(ctx context.Context, snap domain.ValuationSnapshot) {
	if w.hook == nil || !snap.Live {
		return
	}
	if err := w.hook.Export(ctx, snap); err != nil {
		slog.Error("RefreshWorker: export hook failed", "error", err)
	} else {
		slog.Info("RefreshWorker: export hook completed")
	}
}

func (w *RefreshWorker) tick(ctx context.Context) {
	snap, err := w.engine.Refresh(ctx, w.ledger, time.Now(), w.policy)
	if err != nil {
		if ctx.Err() == nil {
			slog.Error("RefreshWorker: refresh failed", "error", err)
		}
		return
	}
	slog.Info("RefreshWorker: refresh completed",
		"live", snap.Live,
		"assets", len(snap.PerAsset),
		"total", domain.FormatUSD(snap.TotalValueUSD),
	)
	w.runHook(ctx, snap)
}

// Run starts the refresh loop. It blocks until the context is cancelled.
func (w *RefreshWorker) Run(ctx context.Context) {
	slog.Info("RefreshWorker: starting", "interval", w.interval)

	// Refresh immediately on startup
	w.tick(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("RefreshWorker: shutting down")
			return
		case <-ticker.C:
			w.tick(ctx)
		}
	}
}
