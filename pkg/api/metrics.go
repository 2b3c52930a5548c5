package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	statusSuccess = "success"
	statusError   = "error"
)

// Metrics holds all Prometheus metrics for the inspection API.
type Metrics struct {
	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsInFlight *prometheus.GaugeVec

	// treeOperationsTotal/treeOperationDuration cover the read operations
	// this API exposes (find, range, search, stats); pkg/rtree's own Add/Remove/
	// Update/Rebuild/split counters, if ever exposed over HTTP, would
	// extend this same vector rather than add a second one.
	treeOperationsTotal   *prometheus.CounterVec
	treeOperationDuration *prometheus.HistogramVec

	treeDepth       prometheus.Gauge
	treeLeafCount   prometheus.Gauge
	treeEntryCount  prometheus.Gauge
	treeValueCount  prometheus.Gauge

	authRequestsTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		httpRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rtbtree_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "endpoint", "status_code"},
		),
		httpRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rtbtree_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "endpoint"},
		),
		httpRequestsInFlight: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "rtbtree_http_requests_in_flight",
				Help: "Number of HTTP requests currently being processed",
			},
			[]string{"method", "endpoint"},
		),
		treeOperationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rtbtree_tree_operations_total",
				Help: "Total number of tree operations served by the inspection API",
			},
			[]string{"operation", "status"},
		),
		treeOperationDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "rtbtree_tree_operation_duration_seconds",
				Help:    "Tree operation duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		treeDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "rtbtree_depth",
			Help: "Current tree depth",
		}),
		treeLeafCount: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "rtbtree_leaf_count",
			Help: "Current number of leaves",
		}),
		treeEntryCount: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "rtbtree_live_entry_count",
			Help: "Current number of live entries",
		}),
		treeValueCount: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "rtbtree_live_value_count",
			Help: "Current number of live values",
		}),
		authRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "rtbtree_auth_requests_total",
				Help: "Total number of authentication requests",
			},
			[]string{"status"},
		),
	}
}

// RecordHTTPRequest records an HTTP request.
func (m *Metrics) RecordHTTPRequest(method, endpoint string, statusCode int, duration time.Duration) {
	statusCodeStr := strconv.Itoa(statusCode)
	m.httpRequestsTotal.WithLabelValues(method, endpoint, statusCodeStr).Inc()
	m.httpRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// RecordTreeOperation records a tree operation the API performed on the
// caller's behalf (find, range, search, stats).
func (m *Metrics) RecordTreeOperation(operation string, success bool, duration time.Duration) {
	status := statusSuccess
	if !success {
		status = statusError
	}
	m.treeOperationsTotal.WithLabelValues(operation, status).Inc()
	m.treeOperationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// UpdateTreeStats refreshes the depth/leaf/entry/value gauges from a
// freshly computed pkg/rtree.Stats snapshot.
func (m *Metrics) UpdateTreeStats(depth, leafCount, entryCount, valueCount int) {
	m.treeDepth.Set(float64(depth))
	m.treeLeafCount.Set(float64(leafCount))
	m.treeEntryCount.Set(float64(entryCount))
	m.treeValueCount.Set(float64(valueCount))
}

// RecordAuthRequest records an authentication request.
func (m *Metrics) RecordAuthRequest(success bool) {
	status := statusSuccess
	if !success {
		status = statusError
	}
	m.authRequestsTotal.WithLabelValues(status).Inc()
}

// InstrumentHandler instruments an HTTP handler with request metrics.
func (m *Metrics) InstrumentHandler(method, endpoint string, handler http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		gauge := m.httpRequestsInFlight.WithLabelValues(method, endpoint)
		gauge.Inc()
		defer gauge.Dec()

		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		handler(rw, r)

		m.RecordHTTPRequest(method, endpoint, rw.statusCode, time.Since(start))
	}
}

// InstrumentAuthMiddleware instruments the authentication middleware.
func (m *Metrics) InstrumentAuthMiddleware(next func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			apiKey := r.Header.Get("X-API-Key")
			hasAPIKey := apiKey != ""

			next(h).ServeHTTP(w, r)

			if rw, ok := w.(*responseWriter); ok {
				success := rw.statusCode != http.StatusUnauthorized
				if hasAPIKey {
					m.RecordAuthRequest(success)
				}
			}
		})
	}
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
