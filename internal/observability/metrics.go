package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Histogram bucket definitions.
var (
	httpDurationBuckets       = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	transitionDurationBuckets = []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}
)

// Metrics holds all Prometheus metric instruments for the service.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Review metrics
	ItemsCreatedTotal   *prometheus.CounterVec
	TransitionsTotal    *prometheus.CounterVec
	TransitionDuration  *prometheus.HistogramVec
	ConflictsTotal      prometheus.Counter
	RestartsTotal       *prometheus.CounterVec
	ItemsApprovedTotal  *prometheus.CounterVec
	ItemsRejectedTotal  *prometheus.CounterVec

	// Notification metrics
	NotificationsTotal        *prometheus.CounterVec
	NotifierBreakerState      prometheus.Gauge

	// Directory metrics
	DirectoryCacheHitsTotal   prometheus.Counter
	DirectoryCacheMissesTotal prometheus.Counter

	// Maintenance metrics
	OrphanScansTotal    prometheus.Counter
	ReassignmentsTotal  prometheus.Counter

	// System metrics
	WorkflowsLoaded prometheus.Gauge
}

// InitMetrics creates and registers all Prometheus metric instruments.
func InitMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		// HTTP
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stagegate_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path_pattern", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "stagegate_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: httpDurationBuckets,
		}, []string{"method", "path_pattern"}),

		// Review
		ItemsCreatedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stagegate_items_created_total",
			Help: "Total number of items created.",
		}, []string{"kind"}),
		TransitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stagegate_transitions_total",
			Help: "Total number of review transitions.",
		}, []string{"action", "outcome"}),
		TransitionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "stagegate_transition_duration_seconds",
			Help:    "Review transition duration in seconds.",
			Buckets: transitionDurationBuckets,
		}, []string{"action"}),
		ConflictsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stagegate_version_conflicts_total",
			Help: "Total number of transitions refused by the version guard.",
		}),
		RestartsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stagegate_restarts_total",
			Help: "Total number of rejected items restarted.",
		}, []string{"workflow_id"}),
		ItemsApprovedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stagegate_items_approved_total",
			Help: "Total number of items reaching terminal approval.",
		}, []string{"workflow_id"}),
		ItemsRejectedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stagegate_items_rejected_total",
			Help: "Total number of items rejected.",
		}, []string{"workflow_id"}),

		// Notifications
		NotificationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stagegate_notifications_total",
			Help: "Total number of notification dispatches.",
		}, []string{"event", "status"}),
		NotifierBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "stagegate_notifier_breaker_state",
			Help: "Webhook notifier circuit breaker state (0=closed, 1=half-open, 2=open).",
		}),

		// Directory
		DirectoryCacheHitsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stagegate_directory_cache_hits_total",
			Help: "Total role membership cache hits.",
		}),
		DirectoryCacheMissesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stagegate_directory_cache_misses_total",
			Help: "Total role membership cache misses.",
		}),

		// Maintenance
		OrphanScansTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stagegate_orphan_scans_total",
			Help: "Total orphaned assignment scans.",
		}),
		ReassignmentsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stagegate_reassignments_total",
			Help: "Total step assignments rewritten by maintenance.",
		}),

		// System
		WorkflowsLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "stagegate_workflows_loaded",
			Help: "Number of loaded workflow definitions.",
		}),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.ItemsCreatedTotal,
		m.TransitionsTotal,
		m.TransitionDuration,
		m.ConflictsTotal,
		m.RestartsTotal,
		m.ItemsApprovedTotal,
		m.ItemsRejectedTotal,
		m.NotificationsTotal,
		m.NotifierBreakerState,
		m.DirectoryCacheHitsTotal,
		m.DirectoryCacheMissesTotal,
		m.OrphanScansTotal,
		m.ReassignmentsTotal,
		m.WorkflowsLoaded,
	)

	return m
}

// --- Recording helpers ---

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(method, pathPattern string, status int, duration time.Duration) {
	m.HTTPRequestsTotal.WithLabelValues(method, pathPattern, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, pathPattern).Observe(duration.Seconds())
}

// RecordItemCreated records an item creation.
func (m *Metrics) RecordItemCreated(kind string) {
	m.ItemsCreatedTotal.WithLabelValues(kind).Inc()
}

// RecordTransition records a review transition attempt and its duration.
func (m *Metrics) RecordTransition(action, outcome string, duration time.Duration) {
	m.TransitionsTotal.WithLabelValues(action, outcome).Inc()
	m.TransitionDuration.WithLabelValues(action).Observe(duration.Seconds())
}

// RecordConflict records a transition refused by the version guard.
func (m *Metrics) RecordConflict() {
	m.ConflictsTotal.Inc()
}

// RecordRestart records a rejected item restarted into review.
func (m *Metrics) RecordRestart(workflowID string) {
	m.RestartsTotal.WithLabelValues(workflowID).Inc()
}

// RecordTerminal records an item reaching a terminal status.
func (m *Metrics) RecordTerminal(workflowID, status string) {
	switch status {
	case "approved":
		m.ItemsApprovedTotal.WithLabelValues(workflowID).Inc()
	case "rejected":
		m.ItemsRejectedTotal.WithLabelValues(workflowID).Inc()
	}
}

// RecordNotification records a notification dispatch outcome.
func (m *Metrics) RecordNotification(event, status string) {
	m.NotificationsTotal.WithLabelValues(event, status).Inc()
}

// SetNotifierBreakerState sets the webhook breaker state gauge.
// State: 0=closed, 1=half-open, 2=open.
func (m *Metrics) SetNotifierBreakerState(state float64) {
	m.NotifierBreakerState.Set(state)
}

// RecordDirectoryCacheHit records a role membership cache hit.
func (m *Metrics) RecordDirectoryCacheHit() {
	m.DirectoryCacheHitsTotal.Inc()
}

// RecordDirectoryCacheMiss records a role membership cache miss.
func (m *Metrics) RecordDirectoryCacheMiss() {
	m.DirectoryCacheMissesTotal.Inc()
}

// RecordOrphanScan records an orphaned assignment scan.
func (m *Metrics) RecordOrphanScan() {
	m.OrphanScansTotal.Inc()
}

// RecordReassignments adds rewritten step assignments to the total.
func (m *Metrics) RecordReassignments(count int) {
	m.ReassignmentsTotal.Add(float64(count))
}

// SetWorkflowsLoaded sets the number of loaded workflow definitions.
func (m *Metrics) SetWorkflowsLoaded(count float64) {
	m.WorkflowsLoaded.Set(count)
}

// --- HTTP Middleware ---

// MetricsMiddleware returns HTTP middleware that records request metrics using
// chi's route pattern (not the actual URL path) to avoid label cardinality
// explosion.
func (m *Metrics) MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &metricsResponseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		m.RecordHTTPRequest(r.Method, routePattern(r), sw.status, time.Since(start))
	})
}

// Handler returns the Prometheus HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// routePattern extracts chi's route pattern from the request context.
// Falls back to the raw URL path if no pattern is found.
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return r.URL.Path
	}
	pattern := strings.Join(rctx.RoutePatterns, "")
	// chi route patterns have trailing /*, remove it.
	pattern = strings.TrimSuffix(pattern, "/*")
	if pattern == "" {
		return r.URL.Path
	}
	return pattern
}

// metricsResponseWriter wraps http.ResponseWriter to capture the status code.
type metricsResponseWriter struct {
	http.ResponseWriter
	status  int
	written bool
}

func (w *metricsResponseWriter) WriteHeader(code int) {
	if !w.written {
		w.status = code
		w.written = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *metricsResponseWriter) Write(b []byte) (int, error) {
	if !w.written {
		w.written = true
	}
	return w.ResponseWriter.Write(b)
}
