package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dunamismax/imagebench/internal/api"
	"github.com/dunamismax/imagebench/internal/backend"
	"github.com/dunamismax/imagebench/internal/config"
	"github.com/dunamismax/imagebench/internal/logging"
	"github.com/dunamismax/imagebench/internal/queue"
	"github.com/dunamismax/imagebench/internal/ratelimit"
	"github.com/dunamismax/imagebench/internal/storage"
	"github.com/dunamismax/imagebench/internal/store"
	"github.com/dunamismax/imagebench/internal/telemetry"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	cfg := config.Load()
	logger, err := logging.New(logging.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		File:   cfg.Log.File,
	}, "api")
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("api exited", zap.Error(err))
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	shutdownTracing, err := telemetry.SetupTracing(ctx, telemetry.TraceConfig{
		ServiceName:  "imagebench-api",
		Exporter:     cfg.Trace.Exporter,
		OTLPEndpoint: cfg.Trace.OTLPEndpoint,
		OTLPInsecure: cfg.Trace.OTLPInsecure,
	}, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Warn("trace shutdown failed", zap.Error(err))
		}
	}()

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
	defer func() {
		if err := closeRuns(); err != nil {
			logger.Warn("run store close failed", zap.Error(err))
		}
	}()
	if cfg.Database.DSN == "" {
		logger.Warn("POSTGRES_DSN is empty, benchmark runs stay in this process")
	}

	queueClient := queue.NewClient(cfg.Queue.RedisClientOpt(), cfg.Queue.Name)
	defer func() {
		if err := queueClient.Close(); err != nil {
			logger.Warn("queue client close failed", zap.Error(err))
		}
	}()

	var limiter api.RateLimiter
	costs, err := ratelimit.ParseCosts(cfg.RateLimit.Costs)
	if err != nil {
		return err
	}
	if cfg.RateLimit.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Queue.RedisAddr,
			Password: cfg.Queue.RedisPassword,
			DB:       cfg.Queue.RedisDB,
		})
		defer rdb.Close()

		bucket, err := ratelimit.NewRedisTokenBucket(rdb, ratelimit.Config{
			Capacity: cfg.RateLimit.Capacity,
			Window:   cfg.RateLimit.Window,
		})
		if err != nil {
			return err
		}
		limiter = bucket
	}

	app, err := api.NewServer(api.Options{
		Logger:         logger.Named("http"),
		Backends:       registry,
		Assets:         assets,
		Runs:           runs,
		Queue:          queueClient,
		RateLimiter:    limiter,
		RateLimitCosts: costs,
		MaxUploadBytes: cfg.API.MaxUploadBytes,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              cfg.API.Addr,
		Handler:           app.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening",
			zap.String("addr", cfg.API.Addr),
			zap.String("storage", cfg.Storage.Driver),
			zap.String("default_backend", registry.Default()),
			zap.Strings("backends", registry.Names()),
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	logger.Info("shutting down")
	return httpServer.Shutdown(shutdownCtx)
}
