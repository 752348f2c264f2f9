package export

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"

	"github.com/mtlprog/tracker/internal/domain"
)

// Row is one held asset in an exported report.
type Row struct {
	AssetID  string
	Symbol   string
	Name     string
	Quantity decimal.Decimal
	PriceUSD decimal.Decimal
	ValueUSD decimal.Decimal
	Share    decimal.Decimal
	Stale    bool
}

// Report is a valuation snapshot flattened for spreadsheets.
type Report struct {
	Rows          []Row
	TotalValueUSD decimal.Decimal
	AsOf          time.Time
	StaleCount    int
}

// SheetWriter writes a report to a spreadsheet destination.
type SheetWriter interface {
	Write(ctx context.Context, report Report) error
}

// Service converts snapshots to reports and delegates writing to one or more SheetWriters.
type Service struct {
	writers []SheetWriter
}

// NewService creates a new export Service. Nil writers are skipped.
func NewService(writers ...SheetWriter) *Service {
	return &Service{
		writers: lo.Filter(writers, func(w SheetWriter, _ int) bool { return w != nil }),
	}
}

// Enabled reports whether any destination is configured.
func (s *Service) Enabled() bool {
	return len(s.writers) > 0
}

// Export writes the snapshot to every destination, attempting all of them.
// Implements worker.AfterRefreshHook.
func (s *Service) Export(ctx context.Context, snap domain.ValuationSnapshot) error {
	report := BuildReport(snap)

	var errs []error
	for _, w := range s.writers {
		if err := w.Write(ctx, report); err != nil {
			errs = append(errs, fmt.Errorf("%T: %w", w, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("exporting valuation: %w", err)
	}

	slog.Info("export: valuation written", "rows", len(report.Rows), "destinations", len(s.writers))
	return nil
}

// BuildReport flattens a snapshot, keeping its row order.
func BuildReport(snap domain.ValuationSnapshot) Report {
	rows := lo.Map(snap.PerAsset, func(av domain.AssetValue, _ int) Row {
		return Row{
			AssetID:  av.Holding.AssetID,
			Symbol:   av.Holding.Symbol,
			Name:     av.Holding.Name,
			Quantity: av.Holding.Quantity,
			PriceUSD: av.CurrentPriceUSD,
			ValueUSD: av.ValueUSD,
			Share:    av.Share,
			Stale:    av.Stale,
		}
	})

	return Report{
		Rows:          rows,
		TotalValueUSD: snap.TotalValueUSD,
		AsOf:          snap.AsOf,
		StaleCount:    lo.CountBy(rows, func(r Row) bool { return r.Stale }),
	}
}

// walletTable builds the wallet sheet data.
// Columns: Asset | Symbol | Quantity | Price USD | Value USD | Share | Stale
func walletTable(report Report) [][]any {
	data := make([][]any, 0, len(report.Rows)+2)
	data = append(data, []any{"Asset", "Symbol", "Quantity", "Price USD", "Value USD", "Share", "Stale"})

	for _, r := range report.Rows {
		data = append(data, []any{
			r.AssetID,
			r.Symbol,
			toFloat(r.Quantity),
			toFloat(r.PriceUSD),
			toFloat(r.ValueUSD),
			toFloat(r.Share),
			r.Stale,
		})
	}

	var totalShare any
	if len(report.Rows) > 0 {
		totalShare = float64(1)
	}
	data = append(data, []any{"TOTAL", "", nil, nil, toFloat(report.TotalValueUSD), totalShare, nil})
	return data
}

var historyHeader = []any{"Date", "Total Value USD", "Assets", "Stale"}

// historyRow builds one line of the value history sheet.
func historyRow(report Report) []any {
	return []any{
		report.AsOf.UTC().Format(time.DateTime),
		toFloat(report.TotalValueUSD),
		len(report.Rows),
		report.StaleCount,
	}
}

func toFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}
