package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	_ "time/tzdata" // IANA zones for uploads on hosts without zoneinfo

	"github.com/JonMunkholm/ProgramUpload/internal/config"
	"github.com/JonMunkholm/ProgramUpload/internal/core"
	"github.com/JonMunkholm/ProgramUpload/internal/logging"
	"github.com/JonMunkholm/ProgramUpload/internal/store"
	"github.com/JonMunkholm/ProgramUpload/internal/web"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("no .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := logging.Setup(os.Stdout, cfg.Logging.Level, cfg.Logging.Format)
	logger.Info("configuration loaded",
		"store", cfg.Database.Backend,
		"port", cfg.Server.Port,
		"upload_max_concurrent", cfg.Upload.MaxConcurrent,
		"default_timezone", cfg.Upload.DefaultTimezone,
	)

	if err := run(cfg, logger); err != nil {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	var (
		st     store.Store
		pinger web.Pinger
	)
	switch cfg.Database.Backend {
	case config.BackendMemory:
		logger.Warn("using in-memory store, uploads are lost on restart")
		st = store.NewMemory()
	default:
		pool, err := store.Connect(ctx, cfg.Database, logger)
		if err != nil {
			return err
		}
		defer pool.Close()
		logger.Info("connected to database", "max_conns", cfg.Database.MaxConns)

		if cfg.Database.MigrateOnStart {
			if err := store.Migrate(pool); err != nil {
				return err
			}
			version, _, _ := store.MigrationVersion(pool)
			logger.Info("schema migrated", "version", version)
		}
		reg.MustRegister(store.NewPoolCollector(pool))

		pg := store.NewPostgres(pool)
		st, pinger = pg, pg
	}

	service := core.NewService(st, logger, core.Options{
		MaxConcurrent:   cfg.Upload.MaxConcurrent,
		MaxWait:         cfg.Upload.MaxWaitTime,
		UploadTimeout:   cfg.Upload.Timeout,
		DefaultTimezone: cfg.Upload.DefaultTimezone,
		Registerer:      reg,
	})

	server := web.NewServer(service, cfg, web.Deps{
		Metrics: promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
		Store:   pinger,
	})

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down", "active_uploads", service.Limiter().ActiveCount())
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown incomplete", "error", err)
	}
	logger.Info("server stopped")
	return nil
}
