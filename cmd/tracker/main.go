package main

import (
	"context"
	"embed"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mtlprog/tracker/internal/config"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	config.LoadDotEnv()
	cfg := config.Load()
	slog.SetDefault(cfg.NewLogger(os.Stderr))

	if err := newApp(cfg).RunContext(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}
