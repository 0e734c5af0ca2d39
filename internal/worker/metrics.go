package worker

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type metrics struct {
	registry          *prometheus.Registry
	runsTotal         *prometheus.CounterVec
	runDuration       *prometheus.HistogramVec
	activeRuns        prometheus.Gauge
	iterationDuration *prometheus.HistogramVec
	iterationErrors   *prometheus.CounterVec
	outputBytesTotal  *prometheus.CounterVec
}

func newMetrics() *metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &metrics{
		registry: registry,
		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "imagebench_worker_runs_total",
			Help: "Total benchmark runs by operation and final status.",
		}, []string{"operation", "status"}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "imagebench_worker_run_duration_seconds",
			Help:    "Wall time of each benchmark run across all backends.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"operation", "status"}),
		activeRuns: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "imagebench_worker_active_runs",
			Help: "Benchmark runs currently holding a worker slot.",
		}),
		iterationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "imagebench_backend_iteration_duration_seconds",
			Help:    "Duration of a single transform iteration per backend.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
		}, []string{"backend", "operation"}),
		iterationErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "imagebench_backend_iteration_errors_total",
			Help: "Transform iterations that returned an error.",
		}, []string{"backend", "operation"}),
		outputBytesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "imagebench_backend_output_bytes_total",
			Help: "Encoded bytes produced by benchmark iterations.",
		}, []string{"backend", "operation"}),
	}

	registry.MustRegister(
		m.runsTotal,
		m.runDuration,
		m.activeRuns,
		m.iterationDuration,
		m.iterationErrors,
		m.outputBytesTotal,
	)
	return m
}

func (m *metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
