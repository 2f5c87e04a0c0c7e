package main

import (
	"context"
	"errors"
	"os"
	"time"

	gsheet "google.golang.org/api/sheets/v4"

	"chitieu/internal/backend"
	"chitieu/internal/cache"
	"chitieu/internal/cli"
	"chitieu/internal/export"
	"chitieu/internal/export/sheets"
	"chitieu/internal/googleapi"
	applog "chitieu/internal/log"
	"chitieu/internal/metrics"
)

func main() {
	// Load .env file for local development (ignore errors in production/docker)
	cli.LoadEnvFile()

	cfg, err := cli.LoadAndValidateConfig()
	if err != nil {
		applog.New(applog.DefaultConfig()).Error("Configuration validation failed", "error", err)
		os.Exit(1)
	}
	logger := cli.SetupLogger(cfg, applog.ComponentExporter)
	if err := cfg.ValidateExporter(); err != nil {
		logger.Error("Exporter configuration validation failed", "error", err)
		os.Exit(1)
	}

	logger.Info("Starting chitieu-exporter")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		logger.Error("Invalid backend configuration", "error", err)
		os.Exit(1)
	}
	result, err := backend.NewFactory(logger.WithComponent(applog.ComponentBackend).Logger).CreateBackend(ctx, backendCfg)
	if err != nil {
		logger.Error("Failed to initialize backend", "error", err)
		os.Exit(1)
	}
	defer result.Close()
	if result.Relay == nil {
		logger.Warn("No AMQP relay: only entries recorded by this process will be exported")
	}

	creds := googleapi.Credentials{
		JSON: cfg.GoogleServiceAccountJSON,
		File: cfg.GoogleServiceAccountFile,
	}
	opts, err := creds.ClientOptions(ctx, gsheet.SpreadsheetsScope)
	if err != nil {
		logger.Error("Failed to load Google credentials", "error", err)
		os.Exit(1)
	}
	writer, err := sheets.New(ctx, cfg.GoogleSpreadsheetID, cfg.GoogleSheetName, opts...)
	if err != nil {
		logger.Error("Failed to initialize Google Sheets client", "error", err)
		os.Exit(1)
	}
	if err := writer.EnsureHeader(ctx); err != nil {
		logger.Warn("Could not check the sheet header", "error", err)
	}
	logger.Info("Google Sheets client initialized",
		"spreadsheet_id", cfg.GoogleSpreadsheetID,
		"sheet", cfg.GoogleSheetName)

	exporter := export.New(result.Gateway, writer, export.Config{
		BatchSize:     cfg.ExportBatchSize,
		FlushInterval: cfg.ExportInterval,
	}, logger.WithComponent(applog.ComponentExporter).Logger)

	caches := cache.NewManager(logger.WithComponent(applog.ComponentCache).Logger)
	caches.Register(exporter.Names())
	caches.StartCleanup(10 * time.Minute)
	defer caches.Stop()

	go func() {
		if err := result.RunRelay(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Change relay failed", "error", err)
			cancel()
		}
	}()
	if cfg.MetricsAddr != "" {
		go func() {
			if err := metrics.Serve(ctx, cfg.MetricsAddr, logger.WithComponent(applog.ComponentMetrics).Logger); err != nil {
				logger.Error("Metrics server failed", "error", err)
			}
		}()
	}

	if err := exporter.Start(ctx); err != nil {
		logger.Error("Failed to start exporter", "error", err)
		os.Exit(1)
	}

	shutdown, done := cli.GracefulShutdown(logger.Logger, 30*time.Second, func(shutdownCtx context.Context) {
		logger.Info("Shutting down exporter...")
		if err := exporter.Stop(shutdownCtx); err != nil {
			logger.Warn("Exporter stop failed", "error", err)
		}
		cancel()
	})

	select {
	case <-shutdown.Done():
	case <-ctx.Done():
		logger.Info("Context cancelled")
	case <-exporter.Done():
		logger.Warn("Exporter stopped on its own")
	}
	cancel()
	<-done
}
