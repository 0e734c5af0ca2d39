package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/dunamismax/imagebench/internal/domain"
	"github.com/dunamismax/imagebench/internal/id"
	"github.com/dunamismax/imagebench/internal/queue"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

const defaultIterations = 10

func (s *Server) handleListBackends(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"default":  s.backends.Default(),
		"backends": s.backends.Names(),
	})
}

func (s *Server) handleCreateBenchmark(w http.ResponseWriter, r *http.Request) {
	if s.queueClient == nil {
		writeError(w, http.StatusServiceUnavailable, "benchmark queue is not configured")
		return
	}

	var req domain.BenchmarkRequest
	if err := decodeJSON(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if req.Iterations == 0 {
		req.Iterations = defaultIterations
	}
	if err := req.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	for _, name := range req.Backends {
		if _, err := s.backends.Get(name); err != nil {
			s.fail(w, r, err)
			return
		}
	}
	if _, err := s.assets.Stat(r.Context(), domain.BucketOriginals, req.FileName); err != nil {
		s.fail(w, r, err)
		return
	}

	now := s.now().UTC()
	run := domain.BenchmarkRun{
		ID:         id.New(),
		Status:     domain.RunStatusCreated,
		FileName:   req.FileName,
		Operation:  req.Operation,
		Iterations: req.Iterations,
		Backends:   req.Backends,
		WebhookURL: req.WebhookURL,
		Results:    []domain.BackendResult{},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	err := s.runs.Create(r.Context(), run)
	if err != nil {
		s.fail(w, r, fmt.Errorf("create run: %w", err))
		return
	}

	// Mark queued before enqueueing so a fast worker never sees its status overwritten.
	if run, err = s.runs.UpdateStatus(r.Context(), run.ID, domain.RunStatusQueued); err != nil {
		s.fail(w, r, fmt.Errorf("queue run: %w", err))
		return
	}

	info, err := s.queueClient.EnqueueBenchmark(r.Context(), queue.RunBenchmarkPayload{
		RunID:       run.ID,
		RequestedAt: now,
	})
	if err != nil {
		s.logger.Error("enqueue failed", zap.String("run_id", run.ID), zap.Error(err))
		if _, uerr := s.runs.UpdateStatus(r.Context(), run.ID, domain.RunStatusFailed); uerr != nil {
			s.logger.Warn("mark run failed", zap.String("run_id", run.ID), zap.Error(uerr))
		}
		writeError(w, http.StatusInternalServerError, "failed to enqueue benchmark")
		return
	}
	s.metrics.benchmarksQueued.WithLabelValues(run.Operation.Kind).Inc()

	writeJSON(w, http.StatusAccepted, map[string]any{
		"run":         run,
		"queue":       info.Queue,
		"task_id":     info.ID,
		"enqueued_at": info.NextProcessAt.UTC().Format(time.RFC3339),
		"status_url":  "/api/benchmarks/" + run.ID,
	})
}

func (s *Server) handleGetBenchmark(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "id")
	run, ok, err := s.runs.Get(r.Context(), runID)
	if err != nil {
		s.fail(w, r, fmt.Errorf("load run: %w", err))
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "benchmark run not found")
		return
	}
	writeJSON(w, http.StatusOK, run)
}
