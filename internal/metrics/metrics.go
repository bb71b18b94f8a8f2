package metrics

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metric collectors for copilot-stats.
type Metrics struct {
	registry *prometheus.Registry

	// Admin HTTP metrics.
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Interception metrics.
	InterceptedTotal     *prometheus.CounterVec
	CallsTotal           *prometheus.CounterVec
	PremiumRequestsTotal *prometheus.CounterVec
	UpstreamDuration     prometheus.Histogram
	UpstreamErrorsTotal  *prometheus.CounterVec

	// Diagnostic logger metrics.
	DiagnosticsTotal        *prometheus.CounterVec
	DiagnosticsDroppedTotal prometheus.Counter
	AuditBufferSize         prometheus.Gauge
	AuditFlushesTotal       *prometheus.CounterVec
	AuditFlushDuration      prometheus.Histogram
	AuditLinesTotal         prometheus.Counter

	// Replay metrics.
	ReplayLinesTotal *prometheus.CounterVec

	// Server lifecycle.
	ServerStartTime prometheus.Gauge
}

// New creates and registers all Prometheus metrics on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,

		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "copilot_stats_http_requests_total",
			Help: "Total number of admin API requests.",
		}, []string{"method", "path_pattern", "status_code"}),

		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "copilot_stats_http_request_duration_seconds",
			Help:    "Admin API request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path_pattern"}),

		InterceptedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "copilot_stats_intercepted_total",
			Help: "Total number of outbound calls seen by the interceptor.",
		}, []string{"scope"}),

		CallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "copilot_stats_calls_total",
			Help: "Total number of metered Copilot calls.",
		}, []string{"model", "initiator", "kind"}),

		PremiumRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "copilot_stats_premium_requests_total",
			Help: "Premium requests consumed by metered calls.",
		}, []string{"model", "initiator"}),

		UpstreamDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "copilot_stats_upstream_duration_seconds",
			Help:    "Duration of forwarded in-scope calls in seconds.",
			Buckets: prometheus.DefBuckets,
		}),

		UpstreamErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "copilot_stats_upstream_errors_total",
			Help: "Total number of forwarded calls that failed, by error type.",
		}, []string{"error_type"}),

		DiagnosticsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "copilot_stats_diagnostics_total",
			Help: "Total number of diagnostics by kind.",
		}, []string{"kind"}),

		DiagnosticsDroppedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "copilot_stats_diagnostics_dropped_total",
			Help: "Diagnostics dropped before the host sink was ready.",
		}),

		AuditBufferSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "copilot_stats_audit_buffer_size",
			Help: "Current number of buffered audit lines.",
		}),

		AuditFlushesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "copilot_stats_audit_flushes_total",
			Help: "Total number of audit log flushes.",
		}, []string{"status"}),

		AuditFlushDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "copilot_stats_audit_flush_duration_seconds",
			Help:    "Duration of audit log flushes in seconds.",
			Buckets: prometheus.DefBuckets,
		}),

		AuditLinesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "copilot_stats_audit_lines_total",
			Help: "Total number of audit lines appended.",
		}),

		ReplayLinesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "copilot_stats_replay_lines_total",
			Help: "Audit lines read back by replay, by outcome.",
		}, []string{"status"}),

		ServerStartTime: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "copilot_stats_start_time_seconds",
			Help: "Unix timestamp when the process started metering.",
		}),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.InterceptedTotal,
		m.CallsTotal,
		m.PremiumRequestsTotal,
		m.UpstreamDuration,
		m.UpstreamErrorsTotal,
		m.DiagnosticsTotal,
		m.DiagnosticsDroppedTotal,
		m.AuditBufferSize,
		m.AuditFlushesTotal,
		m.AuditFlushDuration,
		m.AuditLinesTotal,
		m.ReplayLinesTotal,
		m.ServerStartTime,
	)

	m.ServerStartTime.Set(float64(time.Now().Unix()))

	// Register Go runtime and process collectors.
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	return m
}

// Registry returns the private Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// PrometheusHandler serves the registry in the Prometheus exposition format.
func (m *Metrics) PrometheusHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		ErrorHandling: promhttp.ContinueOnError,
	})
}

// RegisterLedgerCollector exposes a ledger's rows as gauges.
func (m *Metrics) RegisterLedgerCollector(src SnapshotFunc) {
	m.registry.MustRegister(NewLedgerCollector(src))
}

// ObserveHTTPRequest records one admin API request.
func (m *Metrics) ObserveHTTPRequest(method, pathPattern string, statusCode int, seconds float64) {
	m.HTTPRequestsTotal.WithLabelValues(method, pathPattern, fmt.Sprintf("%d", statusCode)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, pathPattern).Observe(seconds)
}

// IncIntercepted counts an outbound call by scope ("in_scope" or "out_of_scope").
func (m *Metrics) IncIntercepted(scope string) {
	m.InterceptedTotal.WithLabelValues(scope).Inc()
}

// IncCall counts a metered call and the premium requests it consumed.
func (m *Metrics) IncCall(model, initiator, kind string, cost float64) {
	lv := labelValues(model, initiator, kind)
	m.CallsTotal.WithLabelValues(lv...).Inc()
	if cost > 0 {
		m.PremiumRequestsTotal.WithLabelValues(lv[0], lv[1]).Add(cost)
	}
}

// ObserveUpstreamDuration records the duration of a forwarded call.
func (m *Metrics) ObserveUpstreamDuration(seconds float64) {
	m.UpstreamDuration.Observe(seconds)
}

// IncUpstreamError increments the upstream error counter.
func (m *Metrics) IncUpstreamError(errorType string) {
	m.UpstreamErrorsTotal.WithLabelValues(errorType).Inc()
}

// IncDiagnostic counts a diagnostic of the given kind.
func (m *Metrics) IncDiagnostic(kind string) {
	m.DiagnosticsTotal.WithLabelValues(kind).Inc()
}

// IncDiagnosticsDropped counts diagnostics dropped before the host was ready.
func (m *Metrics) IncDiagnosticsDropped(n int) {
	m.DiagnosticsDroppedTotal.Add(float64(n))
}

// SetAuditBufferSize sets the audit buffer gauge.
func (m *Metrics) SetAuditBufferSize(n int) {
	m.AuditBufferSize.Set(float64(n))
}

// ObserveAuditFlush records an audit flush.
func (m *Metrics) ObserveAuditFlush(status string, lines int, seconds float64) {
	m.AuditFlushesTotal.WithLabelValues(status).Inc()
	m.AuditFlushDuration.Observe(seconds)
	if status == "ok" {
		m.AuditLinesTotal.Add(float64(lines))
	}
}

// IncReplayLine counts an audit line read back by replay.
func (m *Metrics) IncReplayLine(status string) {
	m.ReplayLinesTotal.WithLabelValues(status).Inc()
}
