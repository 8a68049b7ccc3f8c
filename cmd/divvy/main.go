package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"divvy/internal/amqp"
	"divvy/internal/cli"
	apphttp "divvy/internal/http"
	"divvy/internal/ledger"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger()

	cfg := cli.LoadAndValidateConfig(logger)

	store, closeStore := cli.InitStore(logger, cfg)
	defer closeStore()

	resolver := cli.InitResolver(logger, cfg)

	// The retry queue is optional. Without it parked drafts are picked
	// up by the worker's periodic sweep instead of being pushed.
	var queue ledger.RetryQueue
	if cfg.AMQPURL != "" {
		client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Warn("AMQP unavailable, drafts will rely on the periodic sweep", "error", err)
		} else {
			defer client.Close()
			queue = client
			logger.Info("AMQP retry queue connected", "exchange", cfg.AMQPExchange, "queue", cfg.AMQPQueue)
		}
	}

	svc := ledger.NewService(store, resolver, queue)

	srv := apphttp.NewServer(":"+cfg.Port, svc)

	// Configure server timeouts and limits
	srv.ReadTimeout = 10 * time.Second
	srv.WriteTimeout = 10 * time.Second
	srv.IdleTimeout = 60 * time.Second
	srv.MaxHeaderBytes = 1 << 16 // 64KB

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(shutdownCtx context.Context) {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", "error", err)
		}
	})

	logger.Info("Starting divvy server", "port", cfg.Port, "backend", cfg.StorageBackend)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("Server error", "error", err, "port", cfg.Port)
		os.Exit(1)
	}

	cli.WaitForShutdown(ctx, done)
	logger.Info("Server stopped gracefully")
}
