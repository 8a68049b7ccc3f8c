package main

import (
	"context"
	"errors"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"divvy/internal/amqp"
	"divvy/internal/cli"
	"divvy/internal/export"
	exportgoogle "divvy/internal/export/google"
	"divvy/internal/ledger"
	"divvy/internal/worker"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger()
	logger.Info("Starting divvy-worker")

	cfg := cli.LoadAndValidateConfig(logger)

	store, closeStore := cli.InitStore(logger, cfg)
	defer closeStore()

	resolver := cli.InitResolver(logger, cfg)

	// Retries run here; parking a draft again must not publish another
	// queue message, so the service gets no queue.
	svc := ledger.NewService(store, resolver, nil)

	var exporter export.ExpenseExporter
	if cfg.GoogleSpreadsheetID != "" {
		client, err := exportgoogle.NewFromEnv(context.Background())
		if err != nil {
			logger.Error("Failed to initialize Google Sheets exporter", "error", err)
			os.Exit(1)
		}
		exporter = client
		logger.Info("Google Sheets export enabled", "spreadsheet_id", cfg.GoogleSpreadsheetID)
	} else {
		logger.Info("Google Sheets export disabled - no GOOGLE_SPREADSHEET_ID provided")
	}

	w := worker.NewWorker(svc, store, exporter, cfg.SweepBatchSize)

	// No cleanup func: the deferred closes run once the group drains.
	ctx, _ := cli.GracefulShutdown(logger, 10*time.Second, nil)

	// On startup, catch anything missed while the worker was down.
	if err := w.StartupCheck(ctx); err != nil {
		logger.Error("Startup sweep failed", "error", err)
		// Don't exit - continue with normal operation
	}

	g, ctx := errgroup.WithContext(ctx)

	if cfg.AMQPURL != "" {
		client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Error("Failed to initialize AMQP client", "error", err)
			os.Exit(1)
		}
		defer client.Close()

		g.Go(func() error {
			return client.ConsumeDraftQueued(ctx, w.HandleDraftQueued)
		})
	} else {
		logger.Info("AMQP disabled - running periodic sweeps only")
	}

	g.Go(func() error {
		return w.Run(ctx, cfg.SweepInterval)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Worker failed", "error", err)
		os.Exit(1)
	}
	logger.Info("Worker stopped gracefully")
}
