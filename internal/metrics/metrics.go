// Package metrics exposes Prometheus metrics for the t2i server.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "t2i"

// Outcome labels for generations and hub listings.
const (
	OutcomeSuccess   = "success"
	OutcomeFailure   = "failure"
	OutcomeCancelled = "cancelled"
)

// LatencyBuckets suits image generation, which takes seconds to minutes.
func LatencyBuckets() []float64 {
	return []float64{0.05, 0.1, 0.5, 1, 2.5, 5, 10, 20, 30, 60, 120}
}

// Metrics holds every collector the server updates.
type Metrics struct {
	registry *prometheus.Registry

	// Request metrics
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	// Generation metrics
	GenerationsTotal   *prometheus.CounterVec
	GenerationDuration *prometheus.HistogramVec
	ActiveGenerations  prometheus.Gauge

	HubListRequests *prometheus.CounterVec

	HistoryPruned    prometheus.Counter
	HistoryPruneRuns *prometheus.CounterVec

	// Resource metrics
	MemoryUsedPercent prometheus.Gauge
	CPUUsagePercent   prometheus.Gauge
	DiskUsedPercent   prometheus.Gauge
}

// New creates metrics on a private registry, so tests and multiple servers
// in one process do not collide.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		RequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"path", "status"}),
		RequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   LatencyBuckets(),
		}, []string{"path"}),
		RequestsInFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "http_requests_in_flight",
			Help:      "Number of requests currently being processed",
		}),
		GenerationsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generations_total",
			Help:      "Image generations by model and outcome",
		}, []string{"model", "outcome"}),
		GenerationDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "generation_duration_seconds",
			Help:      "Image generation duration in seconds",
			Buckets:   LatencyBuckets(),
		}, []string{"model"}),
		ActiveGenerations: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_generations",
			Help:      "Number of generations in flight",
		}),
		HubListRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "hub_list_requests_total",
			Help:      "Model listing requests sent to the hub",
		}, []string{"outcome"}),
		HistoryPruned: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "history_pruned_entries_total",
			Help:      "Generation history rows removed by retention",
		}),
		HistoryPruneRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "history_prune_runs_total",
			Help:      "Retention runs by outcome",
		}, []string{"outcome"}),
		MemoryUsedPercent: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "host_memory_used_percent",
			Help:      "Host memory usage percentage",
		}),
		CPUUsagePercent: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "host_cpu_usage_percent",
			Help:      "Host CPU usage percentage",
		}),
		DiskUsedPercent: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "host_disk_used_percent",
			Help:      "Disk usage percentage of the data directory",
		}),
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveGeneration records one finished generation.
func (m *Metrics) ObserveGeneration(model, outcome string, d time.Duration) {
	m.GenerationsTotal.WithLabelValues(model, outcome).Inc()
	m.GenerationDuration.WithLabelValues(model).Observe(d.Seconds())
}

// ObserveHubList records one hub listing call.
func (m *Metrics) ObserveHubList(err error) {
	outcome := OutcomeSuccess
	if err != nil {
		outcome = OutcomeFailure
	}
	m.HubListRequests.WithLabelValues(outcome).Inc()
}

// ObservePrune records one retention run.
func (m *Metrics) ObservePrune(removed int64, ok bool) {
	if !ok {
		m.HistoryPruneRuns.WithLabelValues(OutcomeFailure).Inc()
		return
	}
	m.HistoryPruneRuns.WithLabelValues(OutcomeSuccess).Inc()
	m.HistoryPruned.Add(float64(removed))
}

// SetHostStats updates the resource gauges.
func (m *Metrics) SetHostStats(memPercent, cpuPercent, diskPercent float64) {
	m.MemoryUsedPercent.Set(memPercent)
	m.CPUUsagePercent.Set(cpuPercent)
	m.DiskUsedPercent.Set(diskPercent)
}

// Middleware counts requests per route pattern. Unmatched paths are
// collapsed to "other" to keep label cardinality bounded.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		m.RequestsInFlight.Inc()
		defer m.RequestsInFlight.Dec()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrapped, r)

		path := r.Pattern
		if path == "" {
			path = "other"
		}
		m.RequestsTotal.WithLabelValues(path, strconv.Itoa(wrapped.statusCode)).Inc()
		m.RequestDuration.WithLabelValues(path).Observe(time.Since(start).Seconds())
	})
}

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
