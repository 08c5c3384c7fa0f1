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
	httpDurationBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	saveDurationBuckets = []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 15}
	bodySizeBuckets     = []float64{100, 1024, 10240, 102400, 1048576}
)

// Metrics holds all Prometheus metric instruments for the designer service.
// Recording helpers are safe to call on a nil *Metrics.
type Metrics struct {
	// HTTP metrics
	HTTPRequestsTotal     *prometheus.CounterVec
	HTTPRequestDuration   *prometheus.HistogramVec
	HTTPRequestSizeBytes  *prometheus.HistogramVec
	HTTPResponseSizeBytes *prometheus.HistogramVec

	// Session metrics
	SessionsOpenedTotal *prometheus.CounterVec
	SessionsClosedTotal *prometheus.CounterVec
	ActiveSessions      *prometheus.GaugeVec

	// Designer interaction metrics
	PanelTogglesTotal  *prometheus.CounterVec
	EventsAppliedTotal *prometheus.CounterVec
	KeySelectionsTotal *prometheus.CounterVec
	SubmitsTotal       *prometheus.CounterVec
	SubmitDuration     *prometheus.HistogramVec
	IdempotentReplays  prometheus.Counter

	// System metrics
	DefinitionsLoaded prometheus.Gauge
}

// InitMetrics creates and registers all Prometheus metric instruments.
func InitMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		// HTTP
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "designer_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path_pattern", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "designer_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: httpDurationBuckets,
		}, []string{"method", "path_pattern"}),
		HTTPRequestSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "designer_http_request_size_bytes",
			Help:    "HTTP request body size in bytes.",
			Buckets: bodySizeBuckets,
		}, []string{"method", "path_pattern"}),
		HTTPResponseSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "designer_http_response_size_bytes",
			Help:    "HTTP response body size in bytes.",
			Buckets: bodySizeBuckets,
		}, []string{"method", "path_pattern"}),

		// Sessions
		SessionsOpenedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "designer_sessions_opened_total",
			Help: "Total number of designer sessions opened.",
		}, []string{"kind", "mode"}),
		SessionsClosedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "designer_sessions_closed_total",
			Help: "Total number of designer sessions closed.",
		}, []string{"kind", "reason"}),
		ActiveSessions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "designer_active_sessions",
			Help: "Number of open designer sessions.",
		}, []string{"kind"}),

		// Interactions
		PanelTogglesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "designer_panel_toggles_total",
			Help: "Total number of panel expand and collapse actions.",
		}, []string{"kind", "action"}),
		EventsAppliedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "designer_events_applied_total",
			Help: "Total number of designer edit events.",
		}, []string{"kind", "type", "outcome"}),
		KeySelectionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "designer_key_selections_total",
			Help: "Total number of key-field selections.",
		}, []string{"kind", "target", "outcome"}),
		SubmitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "designer_submits_total",
			Help: "Total number of designer submits by outcome.",
		}, []string{"kind", "outcome"}),
		SubmitDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "designer_submit_duration_seconds",
			Help:    "Time spent in the domain store per submit.",
			Buckets: saveDurationBuckets,
		}, []string{"kind"}),
		IdempotentReplays: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "designer_idempotent_replays_total",
			Help: "Total submits answered from the idempotency store.",
		}),

		// System
		DefinitionsLoaded: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "designer_definitions_loaded",
			Help: "Number of loaded designer definitions.",
		}),
	}

	reg.MustRegister(
		// HTTP
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestSizeBytes,
		m.HTTPResponseSizeBytes,
		// Sessions
		m.SessionsOpenedTotal,
		m.SessionsClosedTotal,
		m.ActiveSessions,
		// Interactions
		m.PanelTogglesTotal,
		m.EventsAppliedTotal,
		m.KeySelectionsTotal,
		m.SubmitsTotal,
		m.SubmitDuration,
		m.IdempotentReplays,
		// System
		m.DefinitionsLoaded,
	)

	return m
}

// --- Recording helpers ---

// RecordHTTPRequest records HTTP request metrics.
func (m *Metrics) RecordHTTPRequest(method, pathPattern string, status int, duration time.Duration, reqSize, respSize int) {
	if m == nil {
		return
	}
	statusStr := strconv.Itoa(status)
	m.HTTPRequestsTotal.WithLabelValues(method, pathPattern, statusStr).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, pathPattern).Observe(duration.Seconds())
	m.HTTPRequestSizeBytes.WithLabelValues(method, pathPattern).Observe(float64(reqSize))
	m.HTTPResponseSizeBytes.WithLabelValues(method, pathPattern).Observe(float64(respSize))
}

// RecordSessionOpened records a new session. Mode is "create" or "edit".
func (m *Metrics) RecordSessionOpened(kind, mode string) {
	if m == nil {
		return
	}
	m.SessionsOpenedTotal.WithLabelValues(kind, mode).Inc()
	m.ActiveSessions.WithLabelValues(kind).Inc()
}

// RecordSessionClosed records a session leaving memory. Reason is "closed"
// or "idle".
func (m *Metrics) RecordSessionClosed(kind, reason string) {
	if m == nil {
		return
	}
	m.SessionsClosedTotal.WithLabelValues(kind, reason).Inc()
	m.ActiveSessions.WithLabelValues(kind).Dec()
}

// RecordPanelToggle records a panel expand or collapse.
func (m *Metrics) RecordPanelToggle(kind string, collapsed bool) {
	if m == nil {
		return
	}
	action := "expand"
	if collapsed {
		action = "collapse"
	}
	m.PanelTogglesTotal.WithLabelValues(kind, action).Inc()
}

// RecordEvent records an applied or rejected edit event.
func (m *Metrics) RecordEvent(kind, eventType, outcome string) {
	if m == nil {
		return
	}
	m.EventsAppliedTotal.WithLabelValues(kind, eventType, outcome).Inc()
}

// RecordKeySelection records a key-field selection attempt.
func (m *Metrics) RecordKeySelection(kind, target, outcome string) {
	if m == nil {
		return
	}
	m.KeySelectionsTotal.WithLabelValues(kind, target, outcome).Inc()
}

// RecordSubmit records the outcome of a submit and the time spent saving.
func (m *Metrics) RecordSubmit(kind, outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.SubmitsTotal.WithLabelValues(kind, outcome).Inc()
	m.SubmitDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordIdempotentReplay records a submit answered from the idempotency
// store.
func (m *Metrics) RecordIdempotentReplay() {
	if m == nil {
		return
	}
	m.IdempotentReplays.Inc()
}

// SetDefinitionsLoaded sets the number of loaded designer definitions.
func (m *Metrics) SetDefinitionsLoaded(count float64) {
	if m == nil {
		return
	}
	m.DefinitionsLoaded.Set(count)
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

		duration := time.Since(start)
		pathPattern := routePattern(r)
		reqSize := 0
		if r.ContentLength > 0 {
			reqSize = int(r.ContentLength)
		}

		m.RecordHTTPRequest(r.Method, pathPattern, sw.status, duration, reqSize, sw.bytes)
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

// metricsResponseWriter wraps http.ResponseWriter to capture status and bytes.
type metricsResponseWriter struct {
	http.ResponseWriter
	status  int
	bytes   int
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
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}
