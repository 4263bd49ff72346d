package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	globalMetrics *Metrics
	globalMu      sync.RWMutex
)

// Metrics holds all Prometheus metrics for Flint
type Metrics struct {
	// HTTP
	HTTPRequestsTotal          *prometheus.CounterVec
	HTTPRequestDurationSeconds *prometheus.HistogramVec
	HTTPErrorsTotal            *prometheus.CounterVec

	// Playback
	SessionsStartedTotal   prometheus.Counter
	LeadsCapturedTotal     prometheus.Counter
	LeadsCompletedTotal    prometheus.Counter
	AILogicCallsTotal      *prometheus.CounterVec
	AILogicDurationSeconds prometheus.Histogram

	// Billing
	SubscriptionChangesTotal *prometheus.CounterVec

	// Best-effort side channels
	NotificationsTotal *prometheus.CounterVec
	EventsTotal        *prometheus.CounterVec

	// System
	UptimeSeconds prometheus.Gauge
	Goroutines    prometheus.Gauge

	registry *prometheus.Registry
}

// New creates a new Metrics instance with all metrics registered
func New() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flint_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPRequestDurationSeconds: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "flint_http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
			},
			[]string{"method", "path"},
		),
		HTTPErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flint_http_errors_total",
				Help: "Total number of HTTP error responses",
			},
			[]string{"error_type"},
		),

		SessionsStartedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "flint_sessions_started_total",
				Help: "Total number of campaign playback sessions started",
			},
		),
		LeadsCapturedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "flint_leads_captured_total",
				Help: "Total number of leads created by a capture section",
			},
		),
		LeadsCompletedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "flint_leads_completed_total",
				Help: "Total number of leads that finished a campaign",
			},
		),
		AILogicCallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flint_ai_logic_calls_total",
				Help: "Total number of AI logic section runs by outcome",
			},
			[]string{"outcome"},
		),
		AILogicDurationSeconds: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "flint_ai_logic_duration_seconds",
				Help:    "AI logic section run duration in seconds",
				Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
			},
		),

		SubscriptionChangesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flint_subscription_changes_total",
				Help: "Total number of successful subscription changes by action",
			},
			[]string{"action"},
		),

		NotificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flint_notifications_total",
				Help: "Total number of owner notification attempts by outcome",
			},
			[]string{"outcome"},
		),
		EventsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flint_events_total",
				Help: "Total number of lifecycle events emitted by type",
			},
			[]string{"type"},
		),

		UptimeSeconds: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "flint_uptime_seconds",
				Help: "Server uptime in seconds",
			},
		),
		Goroutines: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "flint_goroutines",
				Help: "Number of active goroutines",
			},
		),

		registry: reg,
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDurationSeconds,
		m.HTTPErrorsTotal,
		m.SessionsStartedTotal,
		m.LeadsCapturedTotal,
		m.LeadsCompletedTotal,
		m.AILogicCallsTotal,
		m.AILogicDurationSeconds,
		m.SubscriptionChangesTotal,
		m.NotificationsTotal,
		m.EventsTotal,
		m.UptimeSeconds,
		m.Goroutines,
	)

	return m
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// SetGlobal sets the global metrics instance
func SetGlobal(m *Metrics) {
	globalMu.Lock()
	defer globalMu.Unlock()
	globalMetrics = m
}

// Global returns the global metrics instance
func Global() *Metrics {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalMetrics
}

func IncSessionsStarted() {
	if m := Global(); m != nil {
		m.SessionsStartedTotal.Inc()
	}
}

func IncLeadsCaptured() {
	if m := Global(); m != nil {
		m.LeadsCapturedTotal.Inc()
	}
}

func IncLeadsCompleted() {
	if m := Global(); m != nil {
		m.LeadsCompletedTotal.Inc()
	}
}

// ObserveAILogic records one logic section run. Outcome is success, failed
// or skipped.
func ObserveAILogic(outcome string, seconds float64) {
	if m := Global(); m != nil {
		m.AILogicCallsTotal.WithLabelValues(outcome).Inc()
		m.AILogicDurationSeconds.Observe(seconds)
	}
}

func IncSubscriptionChanges(action string) {
	if m := Global(); m != nil {
		m.SubscriptionChangesTotal.WithLabelValues(action).Inc()
	}
}

func IncNotifications(outcome string) {
	if m := Global(); m != nil {
		m.NotificationsTotal.WithLabelValues(outcome).Inc()
	}
}

func IncEvents(eventType string) {
	if m := Global(); m != nil {
		m.EventsTotal.WithLabelValues(eventType).Inc()
	}
}
