package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus counters and gauges for the scheduler. A nil
// *Metrics is valid and records nothing, so components can take it optionally.
type Metrics struct {
	registry            *prometheus.Registry
	requestsTotal       *prometheus.CounterVec
	errorsTotal         prometheus.Counter
	compilesTotal       *prometheus.CounterVec
	sessionsStarted     prometheus.Counter
	sessionsFailed      prometheus.Counter
	activeSessions      prometheus.Gauge
	uploadsTotal        *prometheus.CounterVec
	uploadRetriesTotal  prometheus.Counter
	uploadFailuresTotal prometheus.Counter
}

// New creates and registers Prometheus metrics for the scheduler.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vsched_requests_total",
			Help: "Control-surface HTTP requests by route pattern",
		}, []string{"method", "route"}),
		errorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vsched_errors_total",
			Help: "Total number of HTTP responses with error status (4xx or 5xx)",
		}),
		compilesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vsched_manifest_compiles_total",
			Help: "Manifest compilations by result",
		}, []string{"result"}),
		sessionsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vsched_sessions_started_total",
			Help: "Engine processes confirmed alive",
		}),
		sessionsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vsched_sessions_failed_total",
			Help: "Engine processes that exited unexpectedly or failed to spawn",
		}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "vsched_active_sessions",
			Help: "Number of sessions currently running",
		}),
		uploadsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "vsched_uploads_total",
			Help: "Artifacts uploaded to object storage by kind",
		}, []string{"kind"}),
		uploadRetriesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vsched_upload_retries_total",
			Help: "Upload attempts that were retried",
		}),
		uploadFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "vsched_upload_failures_total",
			Help: "Artifacts that failed permanently after exhausting retries",
		}),
	}

	registry.MustRegister(
		m.requestsTotal,
		m.errorsTotal,
		m.compilesTotal,
		m.sessionsStarted,
		m.sessionsFailed,
		m.activeSessions,
		m.uploadsTotal,
		m.uploadRetriesTotal,
		m.uploadFailuresTotal,
	)
	return m
}

// IncRequests counts one request to route (a chi pattern such as
// "/sessions/{date}/start", so dates don't explode the label set).
func (m *Metrics) IncRequests(method, route string) {
	if m != nil {
		m.requestsTotal.WithLabelValues(method, route).Inc()
	}
}

// IncErrors increments the errors counter.
func (m *Metrics) IncErrors() {
	if m != nil {
		m.errorsTotal.Inc()
	}
}

// ObserveCompile records a compile attempt; result is "ok" or "error".
func (m *Metrics) ObserveCompile(ok bool) {
	if m == nil {
		return
	}
	result := "ok"
	if !ok {
		result = "error"
	}
	m.compilesTotal.WithLabelValues(result).Inc()
}

// IncSessionsStarted increments the started sessions counter.
func (m *Metrics) IncSessionsStarted() {
	if m != nil {
		m.sessionsStarted.Inc()
	}
}

// IncSessionsFailed increments the failed sessions counter.
func (m *Metrics) IncSessionsFailed() {
	if m != nil {
		m.sessionsFailed.Inc()
	}
}

// SetActiveSessions sets the active sessions gauge.
func (m *Metrics) SetActiveSessions(n int) {
	if m != nil {
		m.activeSessions.Set(float64(n))
	}
}

// IncUploads counts a successful upload of the given kind ("segment", "playlist").
func (m *Metrics) IncUploads(kind string) {
	if m != nil {
		m.uploadsTotal.WithLabelValues(kind).Inc()
	}
}

// IncUploadRetries counts one retried upload attempt.
func (m *Metrics) IncUploadRetries() {
	if m != nil {
		m.uploadRetriesTotal.Inc()
	}
}

// IncUploadFailures counts an artifact given up on.
func (m *Metrics) IncUploadFailures() {
	if m != nil {
		m.uploadFailuresTotal.Inc()
	}
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values (e.g. active sessions).
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
