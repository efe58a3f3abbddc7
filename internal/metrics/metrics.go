// Package metrics provides Prometheus instrumentation for the ledger engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// MatchesTotal counts match records written, partitioned by tracker.
	MatchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rgl_matches_total",
		Help: "Total number of lot matches recorded",
	}, []string{"tracker"})

	// ImportsTotal counts ledger import batches by outcome.
	ImportsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rgl_imports_total",
		Help: "Total number of ledger import batches",
	}, []string{"outcome"})

	// ImportedRows counts ledger rows accepted, partitioned by kind.
	ImportedRows = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rgl_imported_rows_total",
		Help: "Total ledger rows accepted",
	}, []string{"kind"})

	// TransfersTotal counts wallet transfer requests by outcome.
	TransfersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rgl_transfers_total",
		Help: "Total number of wallet transfer requests",
	}, []string{"outcome"})

	// LotSplits counts acquisition lots split by transfers and allocation.
	LotSplits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "rgl_lot_splits_total",
		Help: "Acquisition lots split",
	})

	// ValuationsTotal counts mark-to-market and impairment events.
	ValuationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rgl_valuations_total",
		Help: "Total valuation events applied",
	}, []string{"kind"})

	// MatchLatency tracks how long a full matching run takes.
	MatchLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "rgl_match_run_seconds",
		Help:    "Duration of a full matching run in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "rgl_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and path.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "rgl_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Use the raw path for the label; the API surface is small enough
		// that cardinality is not a concern.
		path := r.URL.Path
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
