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
	// HTTP metrics
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	httpRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		},
	)

	// Engine metrics
	eventsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_events_received_total",
			Help: "Total number of change events received by the dispatcher",
		},
		[]string{"kind"},
	)

	eventsInvalid = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "engine_events_invalid_total",
			Help: "Total number of malformed or unknown events dropped",
		},
	)

	eventsCoalesced = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "engine_events_coalesced_total",
			Help: "Total number of events absorbed into a pending recomputation",
		},
	)

	recomputationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_recomputations_total",
			Help: "Total number of indicator bucket recomputations",
		},
		[]string{"family", "outcome"},
	)

	recomputeDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "engine_recompute_duration_seconds",
			Help:    "Indicator bucket recomputation duration in seconds",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"family"},
	)

	deadLetters = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "engine_dead_letters_total",
			Help: "Total number of recomputation jobs surfaced to the dead-letter sink",
		},
	)

	alertsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_alerts_created_total",
			Help: "Total number of alerts created",
		},
		[]string{"kind", "severity"},
	)

	alertsDeduplicated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "engine_alerts_deduplicated_total",
			Help: "Total number of alert creations suppressed by fingerprint dedup",
		},
	)

	alertsResolved = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "engine_alerts_resolved_total",
			Help: "Total number of alerts resolved",
		},
	)

	alertsEscalated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "engine_alerts_escalated_total",
			Help: "Total number of alert severity escalations",
		},
		[]string{"to_severity"},
	)

	alertTicksSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "engine_alert_ticks_skipped_total",
			Help: "Total number of alert ticks skipped because the previous one overran",
		},
	)

	factQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "engine_fact_query_duration_seconds",
			Help:    "Fact store query duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"query"},
	)
)

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware creates HTTP metrics middleware
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		httpRequestsInFlight.Inc()
		defer httpRequestsInFlight.Dec()

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start).Seconds()
		path := normalizePath(r.URL.Path)

		httpRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.statusCode)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// normalizePath normalizes URL paths for metrics to avoid cardinality explosion
func normalizePath(path string) string {
	if len(path) > 100 {
		return "/api/..."
	}
	return path
}

// --- Engine metric helpers ---

// RecordEventReceived records a change event received by the dispatcher
func RecordEventReceived(kind string) {
	eventsReceived.WithLabelValues(kind).Inc()
}

// RecordEventInvalid records a dropped malformed event
func RecordEventInvalid() {
	eventsInvalid.Inc()
}

// RecordEventCoalesced records an event absorbed into a pending job
func RecordEventCoalesced() {
	eventsCoalesced.Inc()
}

// RecordRecomputation records a finished bucket recomputation
func RecordRecomputation(family, outcome string, duration time.Duration) {
	recomputationsTotal.WithLabelValues(family, outcome).Inc()
	recomputeDuration.WithLabelValues(family).Observe(duration.Seconds())
}

// RecordDeadLetter records a job surfaced to the dead-letter sink
func RecordDeadLetter() {
	deadLetters.Inc()
}

// RecordAlertCreated records an alert creation
func RecordAlertCreated(kind, severity string) {
	alertsCreated.WithLabelValues(kind, severity).Inc()
}

// RecordAlertDeduplicated records a suppressed duplicate alert
func RecordAlertDeduplicated() {
	alertsDeduplicated.Inc()
}

// RecordAlertResolved records an alert resolution
func RecordAlertResolved() {
	alertsResolved.Inc()
}

// RecordAlertEscalated records a severity escalation
func RecordAlertEscalated(toSeverity string) {
	alertsEscalated.WithLabelValues(toSeverity).Inc()
}

// RecordAlertTickSkipped records a skipped alert tick
func RecordAlertTickSkipped() {
	alertTicksSkipped.Inc()
}

// RecordFactQuery records a fact store query duration
func RecordFactQuery(query string, duration time.Duration) {
	factQueryDuration.WithLabelValues(query).Observe(duration.Seconds())
}
