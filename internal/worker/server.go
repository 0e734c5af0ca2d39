package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"net/http"
	"slices"
	"time"

	"github.com/dunamismax/imagebench/internal/backend"
	"github.com/dunamismax/imagebench/internal/config"
	"github.com/dunamismax/imagebench/internal/domain"
	"github.com/dunamismax/imagebench/internal/queue"
	"github.com/dunamismax/imagebench/internal/store"
	"github.com/dunamismax/imagebench/internal/webhook"
	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type Server struct {
	logger        *zap.Logger
	server        *asynq.Server
	sem           chan struct{}
	backends      *backend.Registry
	runs          store.RunStore
	webhookClient webhookSender
	metrics       *metrics
	tracer        trace.Tracer
	now           func() time.Time
}

type webhookSender interface {
	Deliver(ctx context.Context, d webhook.Delivery) error
}

func NewServer(
	logger *zap.Logger,
	queueCfg config.QueueConfig,
	workerCfg config.WorkerConfig,
	backends *backend.Registry,
	runs store.RunStore,
	webhookClient *webhook.Client,
) (*Server, error) {
	if backends == nil {
		return nil, errors.New("backend registry is required")
	}
	if runs == nil {
		return nil, errors.New("run store is required")
	}

	var sender webhookSender
	if webhookClient != nil {
		sender = webhookClient
	}
	s := newServer(logger, workerCfg.MaxActiveRuns, backends, runs, sender)
	s.server = asynq.NewServer(
		queueCfg.RedisClientOpt(),
		asynq.Config{
			Concurrency: workerCfg.Concurrency,
			Queues: map[string]int{
				queueCfg.Name: 1,
			},
			Logger:   s.logger.Named("asynq").Sugar(),
			LogLevel: asynq.InfoLevel,
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				retried, _ := asynq.GetRetryCount(ctx)
				maxRetry, _ := asynq.GetMaxRetry(ctx)
				s.logger.Warn("task failed",
					zap.String("type", task.Type()),
					zap.Int("retry", retried),
					zap.Int("max_retry", maxRetry),
					zap.Error(err),
				)
			}),
		},
	)
	return s, nil
}

func newServer(logger *zap.Logger, maxActiveRuns int, backends *backend.Registry, runs store.RunStore, webhookClient webhookSender) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		logger:        logger,
		sem:           make(chan struct{}, max(1, maxActiveRuns)),
		backends:      backends,
		runs:          runs,
		webhookClient: webhookClient,
		metrics:       newMetrics(),
		tracer:        otel.Tracer("imagebench/worker"),
		now:           time.Now,
	}
}

func (s *Server) Run() error {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TypeRunBenchmark, s.handleRunBenchmark)
	return s.server.Run(mux)
}

func (s *Server) Shutdown() {
	if s.server != nil {
		s.server.Shutdown()
	}
}

func (s *Server) MetricsHandler() http.Handler {
	return s.metrics.Handler()
}

func (s *Server) handleRunBenchmark(ctx context.Context, task *asynq.Task) error {
	startedAt := s.now()

	payload, err := queue.ParseRunBenchmarkPayload(task)
	if err != nil {
		return fmt.Errorf("parse payload: %v: %w", err, asynq.SkipRetry)
	}
	logger := s.logger.With(zap.String("run_id", payload.RunID))

	ctx, span := s.tracer.Start(ctx, "worker.run_benchmark", trace.WithSpanKind(trace.SpanKindConsumer))
	span.SetAttributes(attribute.String("run.id", payload.RunID))
	defer span.End()

	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	s.metrics.activeRuns.Inc()
	defer func() {
		<-s.sem
		s.metrics.activeRuns.Dec()
	}()

	run, ok, err := s.runs.Get(ctx, payload.RunID)
	if err != nil {
		return fmt.Errorf("load run: %w", err)
	}
	if !ok {
		return fmt.Errorf("run %s: %w: %w", payload.RunID, store.ErrRunNotFound, asynq.SkipRetry)
	}
	if run.Status == domain.RunStatusSucceeded || run.Status == domain.RunStatusFailed {
		logger.Info("run already finished", zap.String("status", run.Status))
		return nil
	}

	op, err := run.Operation.Operation()
	if err != nil {
		s.finish(ctx, logger, run, domain.RunStatusFailed, startedAt, err)
		return fmt.Errorf("run %s: %v: %w", run.ID, err, asynq.SkipRetry)
	}
	span.SetAttributes(
		attribute.String("run.operation", op.Kind()),
		attribute.Int("run.iterations", run.Iterations),
	)

	if run, err = s.runs.UpdateStatus(ctx, run.ID, domain.RunStatusRunning); err != nil {
		return fmt.Errorf("mark run running: %w", err)
	}
	logger.Info("benchmark started",
		zap.String("file_name", run.FileName),
		zap.String("operation", op.Kind()),
		zap.Int("iterations", run.Iterations),
	)

	names := run.Backends
	if len(names) == 0 {
		names = s.backends.Names()
	}

	for _, name := range names {
		// A retried task keeps the results recorded by earlier attempts.
		if slices.ContainsFunc(run.Results, func(r domain.BackendResult) bool { return r.Backend == name }) {
			continue
		}

		result := s.measure(ctx, name, run.FileName, op, run.Iterations)
		if err := ctx.Err(); err != nil {
			span.RecordError(err)
			return err
		}
		if run, err = s.runs.AppendResult(ctx, run.ID, result); err != nil {
			return fmt.Errorf("record %s result: %w", name, err)
		}
	}
	var failed []string
	for _, r := range run.Results {
		if r.Error != "" {
			failed = append(failed, r.Backend)
		}
	}

	if len(failed) > 0 {
		err := fmt.Errorf("backends failed: %v", failed)
		span.RecordError(err)
		span.SetStatus(codes.Error, "benchmark failed")
		s.finish(ctx, logger, run, domain.RunStatusFailed, startedAt, err)
		return nil
	}

	span.SetStatus(codes.Ok, "benchmarked")
	s.finish(ctx, logger, run, domain.RunStatusSucceeded, startedAt, nil)
	return nil
}

// measure applies op iterations times on one backend. The first error stops
// the backend and is recorded on the result.
func (s *Server) measure(ctx context.Context, name, fileName string, op domain.Operation, iterations int) domain.BackendResult {
	result := domain.BackendResult{Backend: name}

	b, err := s.backends.Get(name)
	if err != nil {
		result.Error = err.Error()
		return result
	}

	var total time.Duration
	for i := 0; i < max(1, iterations); i++ {
		if ctx.Err() != nil {
			break
		}

		start := s.now()
		out, err := b.Apply(ctx, fileName, op)
		elapsed := s.now().Sub(start)
		if err != nil {
			s.metrics.iterationErrors.WithLabelValues(name, op.Kind()).Inc()
			result.Error = err.Error()
			break
		}
		s.metrics.iterationDuration.WithLabelValues(name, op.Kind()).Observe(elapsed.Seconds())
		s.metrics.outputBytesTotal.WithLabelValues(name, op.Kind()).Add(float64(len(out)))

		ms := float64(elapsed) / float64(time.Millisecond)
		if result.Iterations == 0 || ms < result.MinMS {
			result.MinMS = ms
		}
		if ms > result.MaxMS {
			result.MaxMS = ms
		}
		total += elapsed
		result.Iterations++
		result.OutputBytes = len(out)
		if cfg, _, err := image.DecodeConfig(bytes.NewReader(out)); err == nil {
			result.Width, result.Height = cfg.Width, cfg.Height
		}
	}

	result.TotalMS = float64(total) / float64(time.Millisecond)
	if result.Iterations > 0 {
		result.MeanMS = result.TotalMS / float64(result.Iterations)
	}
	return result
}

func (s *Server) finish(ctx context.Context, logger *zap.Logger, run domain.BenchmarkRun, status string, startedAt time.Time, cause error) {
	updated, err := s.runs.UpdateStatus(ctx, run.ID, status)
	if err != nil {
		logger.Error("run status update failed", zap.String("status", status), zap.Error(err))
	} else {
		run = updated
	}

	s.metrics.runsTotal.WithLabelValues(run.Operation.Kind, status).Inc()
	s.metrics.runDuration.WithLabelValues(run.Operation.Kind, status).Observe(s.now().Sub(startedAt).Seconds())

	event := webhook.EventBenchmarkCompleted
	if status == domain.RunStatusFailed {
		event = webhook.EventBenchmarkFailed
		logger.Warn("benchmark failed", zap.Error(cause))
	} else {
		logger.Info("benchmark finished", zap.Int("results", len(run.Results)))
	}
	s.dispatchWebhook(ctx, logger, run, event)
}

// dispatchWebhook does not fail the task. The client already retries and a
// task retry would not resend for a finished run.
func (s *Server) dispatchWebhook(ctx context.Context, logger *zap.Logger, run domain.BenchmarkRun, event string) {
	if run.WebhookURL == "" || s.webhookClient == nil {
		return
	}
	delivery := webhook.Delivery{
		ID:       run.ID + ":" + event,
		Event:    event,
		Endpoint: run.WebhookURL,
		Data:     run,
	}
	if err := s.webhookClient.Deliver(ctx, delivery); err != nil {
		logger.Warn("webhook delivery failed", zap.String("event", event), zap.Error(err))
	}
}
