// Command progctl runs program uploads from the command line against the
// configured store, without going through the HTTP API.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	_ "time/tzdata"

	"github.com/JonMunkholm/ProgramUpload/internal/config"
	"github.com/JonMunkholm/ProgramUpload/internal/core"
	"github.com/JonMunkholm/ProgramUpload/internal/logging"
	"github.com/JonMunkholm/ProgramUpload/internal/store"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
)

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd(openService, openPool).ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load configuration: %w", err)
	}
	return cfg, logging.Setup(os.Stderr, cfg.Logging.Level, cfg.Logging.Format), nil
}

// openService builds a Service over the configured store. The returned
// func releases the store.
func openService(ctx context.Context) (*core.Service, func(), error) {
	cfg, logger, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}

	opts := core.Options{
		MaxConcurrent:   1,
		MaxWait:         cfg.Upload.MaxWaitTime,
		UploadTimeout:   cfg.Upload.Timeout,
		DefaultTimezone: cfg.Upload.DefaultTimezone,
	}
	if cfg.Database.Backend == config.BackendMemory {
		return core.NewService(store.NewMemory(), logger, opts), func() {}, nil
	}

	pool, err := store.Connect(ctx, cfg.Database, logger)
	if err != nil {
		return nil, nil, err
	}
	return core.NewService(store.NewPostgres(pool), logger, opts), pool.Close, nil
}

func openPool(ctx context.Context) (*pgxpool.Pool, error) {
	cfg, logger, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if cfg.Database.Backend != config.BackendPostgres {
		return nil, fmt.Errorf("migrations need the %s backend, configured %q", config.BackendPostgres, cfg.Database.Backend)
	}
	return store.Connect(ctx, cfg.Database, logger)
}
