package export

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/mtlprog/tracker/internal/domain"
)

var asOf = time.Date(2025, 3, 1, 12, 30, 0, 0, time.UTC)

func sampleSnapshot() domain.ValuationSnapshot {
	return domain.ValuationSnapshot{
		PerAsset: []domain.AssetValue{
			{
				Holding:         domain.Holding{AssetID: "bitcoin", Symbol: "BTC", Name: "Bitcoin", Quantity: decimal.NewFromInt(1)},
				CurrentPriceUSD: decimal.NewFromInt(30000),
				ValueUSD:        decimal.NewFromInt(30000),
				Share:           decimal.RequireFromString("0.75"),
			},
			{
				Holding:         domain.Holding{AssetID: "ethereum", Symbol: "ETH", Name: "Ethereum", Quantity: decimal.NewFromInt(5)},
				CurrentPriceUSD: decimal.NewFromInt(2000),
				ValueUSD:        decimal.NewFromInt(10000),
				Share:           decimal.RequireFromString("0.25"),
				Stale:           true,
			},
		},
		TotalValueUSD: decimal.NewFromInt(40000),
		AsOf:          asOf,
		Live:          true,
	}
}

type mockWriter struct {
	reports []Report
	err     error
}

func (m *mockWriter) Write(_ context.Context, r Report) error {
	m.reports = append(m.reports, r)
	return m.err
}

func TestBuildReport(t *testing.T) {
	r := BuildReport(sampleSnapshot())

	if len(r.Rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(r.Rows))
	}
	if r.Rows[0].AssetID != "bitcoin" || r.Rows[1].AssetID != "ethereum" {
		t.Errorf("row order = %s,%s", r.Rows[0].AssetID, r.Rows[1].AssetID)
	}
	if !r.Rows[1].PriceUSD.Equal(decimal.NewFromInt(2000)) || !r.Rows[1].Stale {
		t.Errorf("ethereum row = %+v", r.Rows[1])
	}
	if r.StaleCount != 1 {
		t.Errorf("StaleCount = %d, want 1", r.StaleCount)
	}
	if !r.TotalValueUSD.Equal(decimal.NewFromInt(40000)) || !r.AsOf.Equal(asOf) {
		t.Errorf("total=%s asOf=%v", r.TotalValueUSD, r.AsOf)
	}
}

func TestWalletTable(t *testing.T) {
	data := walletTable(BuildReport(sampleSnapshot()))

	// header + 2 assets + total
	if len(data) != 4 {
		t.Fatalf("rows = %d, want 4", len(data))
	}
	if data[0][0] != "Asset" || len(data[0]) != 7 {
		t.Errorf("header = %v", data[0])
	}
	if data[1][0] != "bitcoin" || data[1][4] != 30000.0 || data[1][5] != 0.75 {
		t.Errorf("bitcoin row = %v", data[1])
	}
	if data[2][6] != true {
		t.Errorf("ethereum stale = %v, want true", data[2][6])
	}
	if data[3][0] != "TOTAL" || data[3][4] != 40000.0 || data[3][5] != 1.0 {
		t.Errorf("total row = %v", data[3])
	}
}

func TestWalletTableEmpty(t *testing.T) {
	data := walletTable(Report{TotalValueUSD: decimal.Zero})
	if len(data) != 2 {
		t.Fatalf("rows = %d, want header + total", len(data))
	}
	if data[1][4] != 0.0 || data[1][5] != nil {
		t.Errorf("empty total row = %v", data[1])
	}
}

func TestHistoryRow(t *testing.T) {
	row := historyRow(BuildReport(sampleSnapshot()))
	want := []any{"2025-03-01 12:30:00", 40000.0, 2, 1}
	for i := range want {
		if row[i] != want[i] {
			t.Errorf("historyRow[%d] = %v, want %v", i, row[i], want[i])
		}
	}
}

func TestServiceExport(t *testing.T) {
	a, b := &mockWriter{}, &mockWriter{}
	svc := NewService(a, nil, b)

	if !svc.Enabled() {
		t.Fatal("service with writers should be enabled")
	}
	if err := svc.Export(context.Background(), sampleSnapshot()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(a.reports) != 1 || len(b.reports) != 1 {
		t.Errorf("writes = %d,%d, want 1,1", len(a.reports), len(b.reports))
	}
}

func TestServiceExportContinuesAfterFailure(t *testing.T) {
	failing := &mockWriter{err: errors.New("quota exceeded")}
	ok := &mockWriter{}
	svc := NewService(failing, ok)

	err := svc.Export(context.Background(), sampleSnapshot())
	if err == nil {
		t.Fatal("expected error")
	}
	if len(ok.reports) != 1 {
		t.Error("second writer should still run")
	}
}

func TestServiceDisabled(t *testing.T) {
	if NewService().Enabled() {
		t.Error("service without writers should be disabled")
	}
}

func TestXLSXWriter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wallet.xlsx")
	w := NewXLSXWriter(path)
	ctx := context.Background()

	if err := w.Write(ctx, BuildReport(sampleSnapshot())); err != nil {
		t.Fatalf("first write: %v", err)
	}

	smaller := sampleSnapshot()
	smaller.PerAsset = smaller.PerAsset[:1]
	smaller.TotalValueUSD = decimal.NewFromInt(30000)
	smaller.AsOf = asOf.Add(5 * time.Minute)
	if err := w.Write(ctx, BuildReport(smaller)); err != nil {
		t.Fatalf("second write: %v", err)
	}

	f, err := excelize.OpenFile(path)
	if err != nil {
		t.Fatalf("opening workbook: %v", err)
	}
	defer f.Close()

	if idx, _ := f.GetSheetIndex("Sheet1"); idx != -1 {
		t.Error("default sheet should be removed")
	}

	wallet, err := f.GetRows(xlsxWalletSheet)
	if err != nil {
		t.Fatalf("reading wallet: %v", err)
	}
	if len(wallet) != 3 {
		t.Fatalf("wallet rows = %d, want 3 (header, bitcoin, total)", len(wallet))
	}
	if wallet[1][0] != "bitcoin" || wallet[2][0] != "TOTAL" {
		t.Errorf("wallet = %v", wallet)
	}

	history, err := f.GetRows(xlsxHistorySheet)
	if err != nil {
		t.Fatalf("reading history: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("history rows = %d, want header + 2", len(history))
	}
	if history[0][0] != "Date" || history[1][0] != "2025-03-01 12:30:00" || history[2][0] != "2025-03-01 12:35:00" {
		t.Errorf("history = %v", history)
	}
}
