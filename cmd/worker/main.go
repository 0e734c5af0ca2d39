package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"time"

	"github.com/dunamismax/imagebench/internal/backend"
	"github.com/dunamismax/imagebench/internal/config"
	"github.com/dunamismax/imagebench/internal/logging"
	"github.com/dunamismax/imagebench/internal/storage"
	"github.com/dunamismax/imagebench/internal/store"
	"github.com/dunamismax/imagebench/internal/telemetry"
	"github.com/dunamismax/imagebench/internal/webhook"
	"github.com/dunamismax/imagebench/internal/worker"
	"go.uber.org/zap"
)

func main() {
	cfg := config.Load()
	logger, err := logging.New(logging.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		File:   cfg.Log.File,
	}, "worker")
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(context.Background(), cfg, logger); err != nil {
		logger.Error("worker exited", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	shutdownTracing, err := telemetry.SetupTracing(ctx, telemetry.TraceConfig{
		ServiceName:  "imagebench-worker",
		Exporter:     cfg.Trace.Exporter,
		OTLPEndpoint: cfg.Trace.OTLPEndpoint,
		OTLPInsecure: cfg.Trace.OTLPInsecure,
	}, logger)
	if err != nil {
		return err
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	if err := backend.Startup(); err != nil {
		return err
	}
	defer backend.Shutdown()

	assets, err := storage.Open(ctx, cfg.Storage)
	if err != nil {
		return err
	}
	registry, err := backend.NewRegistry(assets, cfg.API.DefaultBackend, backend.WithMaxPixels(cfg.API.MaxPixels))
	if err != nil {
		return err
	}

	runs, closeRuns, err := store.Open(ctx, cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer func() { _ = closeRuns() }()

	srv, err := worker.NewServer(
		logger,
		cfg.Queue,
		cfg.Worker,
		registry,
		runs,
		webhook.NewClient(webhook.Config{
			SigningSecret:  cfg.Webhook.SigningSecret,
			Timeout:        cfg.Webhook.Timeout,
			MaxAttempts:    cfg.Webhook.MaxAttempts,
			InitialBackoff: cfg.Webhook.InitialBackoff,
			MaxBackoff:     cfg.Webhook.MaxBackoff,
		}),
	)
	if err != nil {
		return err
	}

	metricsServer := &http.Server{
		Addr:              cfg.Worker.MetricsAddr,
		Handler:           srv.MetricsHandler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
	}()

	logger.Info("starting worker",
		zap.Int("concurrency", cfg.Worker.Concurrency),
		zap.Int("max_active_runs", cfg.Worker.MaxActiveRuns),
		zap.String("queue", cfg.Queue.Name),
		zap.String("redis", cfg.Queue.RedisAddr),
		zap.Strings("backends", registry.Names()),
		zap.String("metrics_addr", cfg.Worker.MetricsAddr),
	)
	// Run blocks until SIGTERM or SIGINT.
	return srv.Run()
}
