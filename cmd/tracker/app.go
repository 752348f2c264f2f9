package main

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"

	"github.com/mtlprog/tracker/internal/coincap"
	"github.com/mtlprog/tracker/internal/config"
	"github.com/mtlprog/tracker/internal/database"
	"github.com/mtlprog/tracker/internal/export"
	"github.com/mtlprog/tracker/internal/market"
	"github.com/mtlprog/tracker/internal/store"
	"github.com/mtlprog/tracker/internal/valuation"
	"github.com/mtlprog/tracker/internal/wallet"
)

// services is everything a command needs, built from config.
type services struct {
	cfg    config.Config
	store  store.Store
	client *coincap.Client
	ledger *wallet.Ledger
	engine *valuation.Engine
	market *market.Service
	close  func()
}

func setup(ctx context.Context, cfg config.Config) (*services, error) {
	st, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	client := coincap.NewClient(cfg.CoinCapURL, cfg.CoinCapAPIKey, cfg.CoinCapRetryMax, cfg.CoinCapRetryBaseDelay)

	ledger := wallet.NewLedger(st)
	ledger.Hydrate(ctx)

	engine := valuation.NewEngine(client, st, valuation.WithMaxConcurrency(cfg.RefreshConcurrency))
	if rec, ok := engine.Restore(ctx); ok {
		slog.Info("Restored cached valuation", "total", rec.TotalValueUSD.StringFixed(2), "last_full_refresh", rec.LastFullRefresh)
	}

	return &services{
		cfg:    cfg,
		store:  st,
		client: client,
		ledger: ledger,
		engine: engine,
		market: market.NewService(client),
		close:  closeStore,
	}, nil
}

func (s *services) policy(force bool) valuation.Policy {
	return valuation.Policy{StaleAfter: s.cfg.StaleAfter, ForceFresh: force}
}

// exporter builds the export service from config. xlsxPath overrides EXPORT_XLSX_PATH.
func (s *services) exporter(ctx context.Context, xlsxPath string) (*export.Service, error) {
	var writers []export.SheetWriter

	if xlsxPath == "" {
		xlsxPath = s.cfg.ExportXLSXPath
	}
	if xlsxPath != "" {
		writers = append(writers, export.NewXLSXWriter(xlsxPath))
	}

	if s.cfg.SheetsSpreadsheetID != "" && s.cfg.GoogleCredentialsJSON != "" {
		sw, err := export.NewSheetsWriter(ctx, s.cfg.SheetsSpreadsheetID, s.cfg.GoogleCredentialsJSON)
		if err != nil {
			return nil, fmt.Errorf("creating sheets writer: %w", err)
		}
		writers = append(writers, sw)
	}

	return export.NewService(writers...), nil
}

func openStore(ctx context.Context, cfg config.Config) (store.Store, func(), error) {
	switch cfg.StoreDriver {
	case config.DriverMemory:
		slog.Warn("Using in-memory store, wallet will not survive restarts")
		return store.NewMemoryStore(), func() {}, nil

	case config.DriverPostgres:
		if cfg.DatabaseURL == "" {
			return nil, nil, fmt.Errorf("DATABASE_URL is required for the %s store", cfg.StoreDriver)
		}
		pool, err := database.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("connecting to database: %w", err)
		}
		migrationsSub, err := fs.Sub(migrationsFS, "migrations")
		if err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("creating migrations sub-fs: %w", err)
		}
		if err := database.RunMigrations(ctx, pool, migrationsSub); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("running migrations: %w", err)
		}
		return store.NewPgStore(pool), pool.Close, nil

	default:
		sq, err := store.OpenSQLite(ctx, cfg.StorePath)
		if err != nil {
			return nil, nil, err
		}
		return sq, func() {
			if err := sq.Close(); err != nil {
				slog.Warn("closing sqlite store", "error", err)
			}
		}, nil
	}
}
