package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"text/tabwriter"
	"time"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"

	"github.com/mtlprog/tracker/internal/api"
	"github.com/mtlprog/tracker/internal/config"
	"github.com/mtlprog/tracker/internal/domain"
	"github.com/mtlprog/tracker/internal/market"
	"github.com/mtlprog/tracker/internal/stream"
	"github.com/mtlprog/tracker/internal/worker"
)

func newApp(cfg config.Config) *cli.App {
	// withServices builds the service graph for a command and tears it down afterwards.
	withServices := func(run func(c *cli.Context, s *services) error) cli.ActionFunc {
		return func(c *cli.Context) error {
			s, err := setup(c.Context, cfg)
			if err != nil {
				return err
			}
			defer s.close()
			return run(c, s)
		}
	}

	return &cli.App{
		Name:  "tracker",
		Usage: "simulated crypto wallet valued with CoinCap prices",
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "run the HTTP API with the background refresh worker",
				Action: withServices(serve),
			},
			{
				Name:  "wallet",
				Usage: "inspect and change holdings",
				Subcommands: []*cli.Command{
					{
						Name:  "show",
						Usage: "print holdings and total value",
						Flags: []cli.Flag{
							&cli.BoolFlag{Name: "refresh", Usage: "revalue with live prices when stale"},
							&cli.BoolFlag{Name: "force", Usage: "revalue with live prices even when fresh"},
						},
						Action: withServices(walletShow),
					},
					{
						Name:      "add",
						Usage:     "add an amount of an asset",
						ArgsUsage: "<asset-id> <amount>",
						Action:    withServices(walletAdd),
					},
					{
						Name:      "remove",
						Usage:     "remove an amount of an asset",
						ArgsUsage: "<asset-id> <amount>",
						Action:    withServices(walletRemove),
					},
				},
			},
			{
				Name:  "assets",
				Usage: "list market assets",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "search", Usage: "filter by name or symbol"},
					&cli.IntFlag{Name: "page", Value: 1},
					&cli.StringFlag{Name: "sort", Usage: "rank, name, symbol, priceUsd, changePercent24Hr, marketCapUsd, volumeUsd24Hr or supply"},
					&cli.BoolFlag{Name: "desc", Usage: "sort descending"},
				},
				Action: withServices(listAssets),
			},
			{
				Name:      "asset",
				Usage:     "show one asset with price history and markets",
				ArgsUsage: "<asset-id>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "timeframe", Value: market.DefaultTimeframe, Usage: "h1, d1, w1 or m1"},
				},
				Action: withServices(showAsset),
			},
			{
				Name:  "export",
				Usage: "revalue the wallet and write it to the configured spreadsheets",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "xlsx", Usage: "workbook path, overrides EXPORT_XLSX_PATH"},
				},
				Action: withServices(exportWallet),
			},
		},
	}
}

func serve(c *cli.Context, s *services) error {
	ctx, stop := context.WithCancel(c.Context)
	defer stop()

	exporter, err := s.exporter(ctx, "")
	if err != nil {
		return err
	}
	var hook worker.AfterRefreshHook
	if exporter.Enabled() {
		hook = exporter
	}

	slog.Info("Wallet loaded", "holdings", s.ledger.Len())
	background := runBackground(ctx, s, hook)

	if s.cfg.AdminAPIKey == "" {
		slog.Warn("ADMIN_API_KEY not set, wallet endpoints are unprotected")
	}

	handler := api.NewHandler(s.ledger, s.engine, s.market, s.policy(false))
	srv := api.NewServer(s.cfg.HTTPPort, handler, s.cfg.AdminAPIKey)

	go func() {
		slog.Info("HTTP server listening", "port", s.cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server error", "error", err)
			stop()
		}
	}()

	// Wait for shutdown signal
	<-ctx.Done()
	slog.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	// The store is closed once serve returns, so the last writes must land first.
	if err := background.Wait(); err != nil {
		slog.Error("background shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
	return nil
}

// runBackground starts the refresh worker and, when enabled, the price stream.
// Wait on the returned group returns after both have stopped.
func runBackground(ctx context.Context, s *services, hook worker.AfterRefreshHook, streamOpts ...stream.Option) *errgroup.Group {
	var g errgroup.Group

	refreshWorker := worker.NewRefreshWorker(s.engine, s.ledger, s.policy(false), s.cfg.RefreshInterval, hook)
	g.Go(func() error {
		refreshWorker.Run(ctx)
		return nil
	})

	if s.cfg.StreamEnabled {
		priceStream := stream.New(s.cfg.CoinCapWSURL, s.ledger, s.cfg.StreamFlushInterval, streamOpts...)
		g.Go(func() error { return priceStream.Run(ctx) })
	}

	return &g
}

func walletShow(c *cli.Context, s *services) error {
	out := c.App.Writer

	if !c.Bool("refresh") && !c.Bool("force") {
		if s.ledger.Len() == 0 {
			fmt.Fprintln(out, "Wallet is empty.")
			return nil
		}
		holdings := s.ledger.Holdings()
		tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "ASSET\tSYMBOL\tAMOUNT\tLAST PRICE\tVALUE")
		for _, h := range holdings {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", h.AssetID, h.Symbol, h.Quantity, domain.FormatUSD(h.LastPriceUSD), domain.FormatUSD(h.Value()))
		}
		fmt.Fprintf(tw, "TOTAL\t\t\t\t%s\n", domain.FormatUSD(s.ledger.TotalValue()))
		return tw.Flush()
	}

	snap, err := s.engine.Refresh(c.Context, s.ledger, time.Now(), s.policy(c.Bool("force")))
	if err != nil {
		return err
	}
	return printSnapshot(out, snap)
}

func printSnapshot(out io.Writer, snap domain.ValuationSnapshot) error {
	if len(snap.PerAsset) == 0 {
		fmt.Fprintln(out, "Wallet is empty.")
		return nil
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ASSET\tSYMBOL\tAMOUNT\tPRICE\tVALUE\tSHARE")
	for _, row := range snap.PerAsset {
		price := domain.FormatUSD(row.CurrentPriceUSD)
		if row.Stale {
			price += " (stale)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s%%\n",
			row.Holding.AssetID, row.Holding.Symbol, row.Holding.Quantity,
			price, domain.FormatUSD(row.ValueUSD), row.Share.Shift(2).StringFixed(2))
	}
	fmt.Fprintf(tw, "TOTAL\t\t\t\t%s\t\n", domain.FormatUSD(snap.TotalValueUSD))
	if err := tw.Flush(); err != nil {
		return err
	}

	source := "cached prices"
	if snap.Live {
		source = "live prices"
	}
	fmt.Fprintf(out, "\nValued with %s, last full refresh %s\n", source, formatTime(snap.LastFullRefresh))
	for _, w := range snap.Warnings {
		fmt.Fprintf(out, "warning: %s\n", w)
	}
	return nil
}

func walletAdd(c *cli.Context, s *services) error {
	id, amount, err := idAndAmount(c)
	if err != nil {
		return err
	}
	asset, err := s.market.Asset(c.Context, id)
	if err != nil {
		return err
	}
	if err := s.ledger.AddHolding(c.Context, asset, amount); err != nil {
		return err
	}
	h, _ := s.ledger.Holding(id)
	fmt.Fprintf(c.App.Writer, "Added %s %s, now holding %s (%s)\n", amount, asset.Symbol, h.Quantity, domain.FormatUSD(h.Value()))
	return nil
}

func walletRemove(c *cli.Context, s *services) error {
	id, amount, err := idAndAmount(c)
	if err != nil {
		return err
	}
	if _, held := s.ledger.Holding(id); !held {
		fmt.Fprintf(c.App.Writer, "%s is not held\n", id)
		return nil
	}
	if err := s.ledger.RemoveHolding(c.Context, id, amount); err != nil {
		return err
	}
	if h, held := s.ledger.Holding(id); held {
		fmt.Fprintf(c.App.Writer, "Removed %s, now holding %s\n", amount, h.Quantity)
	} else {
		fmt.Fprintf(c.App.Writer, "Removed %s completely\n", id)
	}
	return nil
}

func idAndAmount(c *cli.Context) (string, decimal.Decimal, error) {
	if c.NArg() != 2 {
		return "", decimal.Decimal{}, cli.Exit("expected <asset-id> <amount>", 2)
	}
	amount, err := domain.ParseAmount(c.Args().Get(1))
	if err != nil {
		return "", decimal.Decimal{}, err
	}
	return c.Args().Get(0), amount, nil
}

func listAssets(c *cli.Context, s *services) error {
	assets, err := s.market.Page(c.Context, c.String("search"), c.Int("page"))
	if err != nil {
		return err
	}
	if key := c.String("sort"); key != "" {
		sortKey, err := market.ParseSortKey(key)
		if err != nil {
			return err
		}
		dir := market.Asc
		if c.Bool("desc") {
			dir = market.Desc
		}
		assets = market.SortAssets(assets, sortKey, dir)
	}

	tw := tabwriter.NewWriter(c.App.Writer, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "RANK\tID\tSYMBOL\tPRICE\tCHANGE 24H\tMARKET CAP")
	for _, a := range assets {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s%%\t%s\n",
			a.Rank, a.ID, a.Symbol, domain.FormatUSD(a.PriceUSD), a.ChangePercent24h.StringFixed(2), domain.FormatUSD(a.MarketCapUSD))
	}
	return tw.Flush()
}

func showAsset(c *cli.Context, s *services) error {
	if c.NArg() != 1 {
		return cli.Exit("expected <asset-id>", 2)
	}
	id := c.Args().First()
	out := c.App.Writer

	asset, err := s.market.Asset(c.Context, id)
	if err != nil {
		return err
	}
	stats := market.Stats(asset)

	fmt.Fprintf(out, "%s (%s) rank %d\n", asset.Name, asset.Symbol, asset.Rank)
	fmt.Fprintf(out, "  price       %s (%s%% 24h)\n", domain.FormatUSD(stats.PriceUSD), stats.ChangePercent24h.StringFixed(2))
	fmt.Fprintf(out, "  market cap  %s\n", domain.FormatUSD(stats.MarketCapUSD))
	fmt.Fprintf(out, "  volume 24h  %s\n", domain.FormatUSD(stats.VolumeUSD24h))
	fmt.Fprintf(out, "  supply      %s\n", stats.Supply.StringFixed(0))
	if stats.Circulating != nil {
		fmt.Fprintf(out, "  circulating %s%% of %s\n", stats.Circulating.Shift(2).StringFixed(2), stats.MaxSupply.StringFixed(0))
	}

	tf := market.LookupTimeframe(c.String("timeframe"))
	points, err := s.market.History(c.Context, id, tf.Key, time.Now())
	switch {
	case errors.Is(err, domain.ErrNoHistory):
		fmt.Fprintf(out, "\nNo %s history available\n", tf.Key)
	case err != nil:
		return err
	default:
		prices := lo.Map(points, func(p domain.HistoryPoint, _ int) decimal.Decimal { return p.PriceUSD })
		low := lo.MinBy(prices, func(a, b decimal.Decimal) bool { return a.LessThan(b) })
		high := lo.MaxBy(prices, func(a, b decimal.Decimal) bool { return a.GreaterThan(b) })
		first, last := points[0], points[len(points)-1]
		fmt.Fprintf(out, "\nHistory %s (%d points, %s interval)\n", tf.Key, len(points), tf.Interval)
		fmt.Fprintf(out, "  open %s  close %s  low %s  high %s\n",
			domain.FormatUSD(first.PriceUSD), domain.FormatUSD(last.PriceUSD), domain.FormatUSD(low), domain.FormatUSD(high))
	}

	markets, err := s.market.Markets(c.Context, id)
	if err != nil {
		slog.Warn("markets unavailable", "asset", id, "error", err)
		return nil
	}
	if len(markets) == 0 {
		return nil
	}
	fmt.Fprintln(out, "\nTop markets")
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	for _, m := range lo.Slice(markets, 0, 10) {
		fmt.Fprintf(tw, "  %s\t%s/%s\t%s\t%s\n",
			m.ExchangeID, m.BaseSymbol, m.QuoteSymbol, domain.FormatUSD(m.PriceUSD), domain.FormatUSD(m.VolumeUSD24h))
	}
	return tw.Flush()
}

func exportWallet(c *cli.Context, s *services) error {
	exporter, err := s.exporter(c.Context, c.String("xlsx"))
	if err != nil {
		return err
	}
	if !exporter.Enabled() {
		return cli.Exit("no export destination: pass --xlsx or set EXPORT_XLSX_PATH / SHEETS_SPREADSHEET_ID", 2)
	}

	snap, err := s.engine.Refresh(c.Context, s.ledger, time.Now(), s.policy(false))
	if err != nil {
		return err
	}
	if err := exporter.Export(c.Context, snap); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "Exported %d holdings, total %s\n", len(snap.PerAsset), domain.FormatUSD(snap.TotalValueUSD))
	return nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.Local().Format(time.DateTime)
}
