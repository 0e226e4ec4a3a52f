package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"imagebot/internal/cli"
	"imagebot/internal/db"
	"imagebot/internal/infra"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger := infra.NewLogger(cfg.AppEnv, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps := &cli.Deps{
		Config: cfg,
		Logger: logger,
		OpenSQL: func(ctx context.Context) (infra.SQLExecutor, func(), error) {
			pool, err := infra.NewDBPool(ctx, cfg)
			if err != nil {
				return nil, nil, err
			}
			return infra.NewSQLRunner(pool, logger), pool.Close, nil
		},
		Migrate: func(ctx context.Context) ([]string, error) {
			conn, err := db.Open(cfg.DatabaseURL)
			if err != nil {
				return nil, err
			}
			defer conn.Close()
			return db.Migrate(ctx, conn)
		},
	}

	if err := cli.BuildCLI(deps).ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
