package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shamba-labs/shamba-core/internal/core/domain"
)

// Metrics collects HTTP and reconciliation counters exported on /metrics.
// It owns its prometheus registry so multiple servers can coexist in tests.
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	syncBatches     *prometheus.CounterVec
	syncOperations  *prometheus.CounterVec
	syncConflicts   *prometheus.CounterVec
}

// NewMetrics creates a new Metrics collector
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		requestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests by method, route pattern and status code.",
		}, []string{"method", "route", "status"}),
		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency by method and route pattern.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		syncBatches: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sync_batches_total",
			Help: "Reconciled sync batches by final status.",
		}, []string{"status"}),
		syncOperations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sync_operations_total",
			Help: "Batch operations by outcome.",
		}, []string{"outcome"}),
		syncConflicts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "sync_conflicts_total",
			Help: "Detected conflicts by resolution policy.",
		}, []string{"policy"}),
	}
}

// Handler returns the handler serving the metrics endpoint
func (m *Metrics) Handler() http.Handler {
	// The gzip middleware owns response compression
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		DisableCompression: true,
	})
}

// Instrument wraps a handler with request counting and latency observation.
// The route label is the mux pattern that matched, not the raw path, so
// record IDs do not blow up label cardinality.
func (m *Metrics) Instrument(mux *http.ServeMux, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		_, route := mux.Handler(r)
		if route == "" {
			route = "unrouted"
		}
		m.requestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rw.statusCode)).Inc()
		m.requestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

// ObserveSyncLog records reconciliation counters from a completed batch log.
// Conflicts carry a winner only when last_writer_wins auto-resolved them;
// winnerless conflicts were held for manual resolution.
func (m *Metrics) ObserveSyncLog(log *domain.SyncLog) {
	if log == nil {
		return
	}
	m.syncBatches.WithLabelValues(string(log.Status)).Inc()
	for _, res := range log.Details {
		m.syncOperations.WithLabelValues(string(res.Outcome)).Inc()
		if res.Outcome != domain.OutcomeConflict {
			continue
		}
		if res.Winner != "" {
			m.syncConflicts.WithLabelValues(string(domain.PolicyLastWriterWins)).Inc()
		} else {
			m.syncConflicts.WithLabelValues(string(domain.PolicyManual)).Inc()
		}
	}
}
