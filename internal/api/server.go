package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dunamismax/imagebench/internal/backend"
	"github.com/dunamismax/imagebench/internal/domain"
	"github.com/dunamismax/imagebench/internal/queue"
	"github.com/dunamismax/imagebench/internal/ratelimit"
	"github.com/dunamismax/imagebench/internal/storage"
	"github.com/dunamismax/imagebench/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hibiken/asynq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// HeaderBackend selects a backend variant when the backend query parameter is absent.
const HeaderBackend = "X-Image-Backend"

const defaultMaxUploadBytes = 32 << 20

type Server struct {
	logger                 *zap.Logger
	backends               *backend.Registry
	assets                 storage.Store
	runs                   store.RunStore
	queueClient            queueEnqueuer
	rateLimiter            RateLimiter
	rateLimitSubjectHeader string
	rateLimitCosts         ratelimit.Costs
	maxUploadBytes         int64
	metrics                *metrics
	tracer                 trace.Tracer
	router                 chi.Router
	now                    func() time.Time
}

type queueEnqueuer interface {
	EnqueueBenchmark(ctx context.Context, payload queue.RunBenchmarkPayload) (*asynq.TaskInfo, error)
}

type Options struct {
	Logger   *zap.Logger
	Backends *backend.Registry
	Assets   storage.Store
	Runs     store.RunStore
	// Queue may be nil, in which case benchmark submission answers 503.
	Queue                  queueEnqueuer
	RateLimiter            RateLimiter
	RateLimitSubjectHeader string
	// RateLimitCosts prices each request class; the zero value selects
	// ratelimit.DefaultCosts.
	RateLimitCosts ratelimit.Costs
	MaxUploadBytes int64
}

func NewServer(opts Options) (*Server, error) {
	if opts.Backends == nil {
		return nil, errors.New("backend registry is required")
	}
	if opts.Assets == nil {
		return nil, errors.New("asset store is required")
	}
	if opts.Runs == nil {
		opts.Runs = store.NewMemoryRunStore()
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = defaultMaxUploadBytes
	}
	if opts.RateLimitCosts == (ratelimit.Costs{}) {
		opts.RateLimitCosts = ratelimit.DefaultCosts()
	}
	if strings.TrimSpace(opts.RateLimitSubjectHeader) == "" {
		opts.RateLimitSubjectHeader = defaultRateLimitSubjectHeader
	}

	s := &Server{
		logger:                 opts.Logger,
		backends:               opts.Backends,
		assets:                 opts.Assets,
		runs:                   opts.Runs,
		queueClient:            opts.Queue,
		rateLimiter:            opts.RateLimiter,
		rateLimitSubjectHeader: opts.RateLimitSubjectHeader,
		rateLimitCosts:         opts.RateLimitCosts,
		maxUploadBytes:         opts.MaxUploadBytes,
		metrics:                newMetrics(),
		tracer:                 otel.Tracer("imagebench/api"),
		now:                    time.Now,
	}
	s.routes()
	return s, nil
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		middleware.RealIP,
		s.withAccessLog,
		middleware.Recoverer,
		s.metrics.withHTTPMetrics,
		s.withTracing,
		s.withRateLimit,
	)

	r.Get("/healthz", s.handleHealthz)
	r.Handle("/metrics", s.metrics.metricsHandler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/backends", s.handleListBackends)
		r.Post("/benchmarks", s.handleCreateBenchmark)
		r.Get("/benchmarks/{id}", s.handleGetBenchmark)

		r.Route("/image", func(r chi.Router) {
			r.Post("/upload", s.handleUpload)
			r.Get("/test", s.handleDiagnostics)
			r.Get("/grayscale/{fileName}", s.handleGrayscale)
			r.Get("/resize/{fileName}", s.handleResize)
			r.Get("/crop/{fileName}", s.handleCrop)
			r.Post("/multiModifications", s.handleComposite)
			r.Post("/MultiModificationsImage", s.handleComposite)
			r.Get("/{fileName}", s.handleGetImage)
			r.Delete("/{fileName}", s.handleDeleteImage)
		})
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "route not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})

	s.router = r
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) withAccessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		fields := []zap.Field{
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("route", routeLabel(r)),
			zap.Int("status", status),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start)),
			zap.String("remote", r.RemoteAddr),
		}
		if status >= http.StatusInternalServerError {
			s.logger.Error("request", fields...)
			return
		}
		s.logger.Info("request", fields...)
	})
}

// statusFor maps domain failures onto HTTP status codes.
func statusFor(err error) int {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.Is(err, domain.ErrAssetNotFound), errors.Is(err, store.ErrRunNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrGeometryOutOfBounds),
		errors.Is(err, domain.ErrDecodeFailure),
		errors.Is(err, domain.ErrInvalidAssetName),
		errors.Is(err, domain.ErrEmptyUpload),
		errors.Is(err, domain.ErrImageTooLarge),
		errors.Is(err, backend.ErrUnknownBackend),
		errors.Is(err, errBadParameter):
		return http.StatusBadRequest
	case errors.As(err, &tooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, domain.ErrCapabilityUnimplemented):
		return http.StatusNotImplemented
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	switch {
	case status == http.StatusInternalServerError:
		s.logger.Error("request failed",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		msg = "internal server error"
	case errors.Is(err, domain.ErrEmptyUpload):
		msg = "No file uploaded."
	}
	writeError(w, status, msg)
}

func decodeJSON(r *http.Request, into any) error {
	const maxBodyBytes = 1 << 20
	limited := io.LimitReader(r.Body, maxBodyBytes)
	decoder := json.NewDecoder(limited)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(into); err != nil {
		return fmt.Errorf("%w: invalid JSON body: %v", errBadParameter, err)
	}
	if err := decoder.Decode(&struct{}{}); err != io.EOF {
		return fmt.Errorf("%w: invalid JSON body: multiple JSON values are not allowed", errBadParameter)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
