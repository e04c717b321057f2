package observability

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP metrics
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "linkwire_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "linkwire_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// Session lifecycle metrics
	sessionStartsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "linkwire_session_starts_total",
			Help: "Total number of StartSession calls by resulting state",
		},
		[]string{"state"},
	)

	sessionEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "linkwire_session_events_total",
			Help: "Total number of adapter lifecycle events",
		},
		[]string{"kind"},
	)

	handshakeArtifactsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "linkwire_handshake_artifacts_total",
			Help: "Total number of handshake artifacts issued",
		},
		[]string{"kind"},
	)

	activeSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "linkwire_active_sessions",
			Help: "Number of live sessions in the registry",
		},
	)

	// Credential store metrics
	storeErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "linkwire_store_errors_total",
			Help: "Total number of credential store failures",
		},
		[]string{"op"},
	)

	initOnce sync.Once
)

// InitMetrics initializes Prometheus metrics
func InitMetrics() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			httpRequestsTotal,
			httpRequestDuration,
			sessionStartsTotal,
			sessionEventsTotal,
			handshakeArtifactsTotal,
			activeSessions,
			storeErrorsTotal,
		)
	})
}

// MetricsHandler returns an HTTP handler for Prometheus metrics
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// RecordHTTPRequest records HTTP request metrics
func RecordHTTPRequest(method, path, status string, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, status).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordSessionStart records a StartSession call and its resulting state
func RecordSessionStart(state string) {
	sessionStartsTotal.WithLabelValues(state).Inc()
}

// RecordSessionEvent records one adapter lifecycle event
func RecordSessionEvent(kind string) {
	sessionEventsTotal.WithLabelValues(kind).Inc()
}

// RecordHandshakeArtifact records an issued visual or pairing code
func RecordHandshakeArtifact(kind string) {
	handshakeArtifactsTotal.WithLabelValues(kind).Inc()
}

// SetActiveSessions sets the live session gauge
func SetActiveSessions(count int) {
	activeSessions.Set(float64(count))
}

// RecordStoreError records a credential store failure
func RecordStoreError(op string) {
	storeErrorsTotal.WithLabelValues(op).Inc()
}
