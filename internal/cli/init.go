// Package cli provides common initialization shared by cmd/divvy and
// cmd/divvy-worker.
package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"divvy/internal/config"
	"divvy/internal/fx"
	"divvy/internal/ledger"
	"divvy/internal/storage"
)

// SetupLogger initializes structured logging with default settings.
// Returns the configured logger and sets it as the default logger.
func SetupLogger() *slog.Logger {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)
	return logger
}

// LoadEnvFile loads the .env file for local development.
// Errors are ignored silently as this is optional in production.
func LoadEnvFile() {
	_ = godotenv.Load()
}

// LoadAndValidateConfig loads configuration and validates it.
// Returns the config or exits the process on validation failure.
func LoadAndValidateConfig(logger *slog.Logger) *config.Config {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}
	return cfg
}

// InitStore builds the configured Store. The returned cleanup closes
// whatever the backend holds open; it is safe to call once at shutdown.
// Exits the process on failure.
func InitStore(logger *slog.Logger, cfg *config.Config) (ledger.Store, func()) {
	switch cfg.StorageBackend {
	case "sqlite":
		store, err := storage.NewSQLite(cfg.SQLiteDBPath)
		if err != nil {
			logger.Error("Failed to initialize SQLite store", "error", err, "path", cfg.SQLiteDBPath)
			os.Exit(1)
		}
		logger.Info("Using SQLite store", "path", cfg.SQLiteDBPath)
		return store, func() { store.Close() }
	default:
		logger.Info("Using in-memory store")
		return storage.NewMemory(), func() {}
	}
}

// InitResolver wires the rate resolution chain from configuration. An
// empty EODHD token leaves the live layers disabled; cache and static
// table still serve.
func InitResolver(logger *slog.Logger, cfg *config.Config) *fx.Resolver {
	var source fx.Source
	if cfg.EODHDToken != "" {
		source = fx.NewClient(cfg.EODHDBaseURL, cfg.EODHDToken, cfg.RateTimeout)
	} else {
		logger.Warn("No EODHD token configured, serving cached and static rates only")
	}
	cache := fx.NewRateCache(cfg.RateCacheSize, cfg.RateCacheTTL)
	return fx.NewResolver(source, fx.DefaultStaticTable(), cache, cfg.RateTimeout)
}

// GracefulShutdown cancels the returned context on SIGINT or SIGTERM.
// cleanup runs first with a context bounded by timeout, so a server can
// drain in-flight requests before the rest of the process sees the
// cancellation. done closes once cleanup has finished.
func GracefulShutdown(logger *slog.Logger, timeout time.Duration, cleanup func(context.Context)) (context.Context, <-chan struct{}) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		logger.Info("Shutdown signal received", "signal", sig.String())

		if cleanup != nil {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), timeout)
			cleanup(shutdownCtx)
			shutdownCancel()
		}

		cancel()
		close(done)
	}()

	return ctx, done
}

// WaitForShutdown blocks until the shutdown context is cancelled and its
// cleanup has run.
func WaitForShutdown(ctx context.Context, done <-chan struct{}) {
	<-ctx.Done()
	<-done
}
