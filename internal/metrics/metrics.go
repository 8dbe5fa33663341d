package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service collectors on a private registry. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	remindersScheduled prometheus.Counter
	reminderFailures   prometheus.Counter
	resyncDuration     prometheus.Histogram
	resyncsDisabled    prometheus.Counter

	intakeActions   *prometheus.CounterVec
	snoozesResolved prometheus.Counter

	interactionLookups *prometheus.CounterVec

	notificationsDelivered *prometheus.CounterVec
	pendingTriggers        prometheus.Gauge
	activeConnections      prometheus.Gauge

	httpRequests *prometheus.CounterVec
}

var (
	defaultMetrics *Metrics
	once           sync.Once
)

func Default() *Metrics {
	once.Do(func() {
		defaultMetrics = New()
	})
	return defaultMetrics
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		remindersScheduled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pillpal", Name: "reminders_scheduled_total",
			Help: "Reminder triggers created by resyncs and snoozes.",
		}),
		reminderFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pillpal", Name: "reminder_failures_total",
			Help: "Reminder triggers that could not be scheduled.",
		}),
		resyncDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "pillpal", Name: "resync_duration_seconds",
			Help:    "Duration of full reminder resyncs.",
			Buckets: prometheus.DefBuckets,
		}),
		resyncsDisabled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pillpal", Name: "resyncs_disabled_total",
			Help: "Resyncs that found local reminders disabled.",
		}),
		intakeActions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pillpal", Name: "intake_actions_total",
			Help: "Intake log writes by resulting status.",
		}, []string{"status"}),
		snoozesResolved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pillpal", Name: "snoozes_resolved_total",
			Help: "Snoozed doses reset to none by reconciliation.",
		}),
		interactionLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pillpal", Name: "interaction_lookups_total",
			Help: "Interaction lookups by kind and answer source.",
		}, []string{"kind", "source"}),
		notificationsDelivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pillpal", Name: "notifications_delivered_total",
			Help: "Reminder deliveries by channel and outcome.",
		}, []string{"channel", "outcome"}),
		pendingTriggers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pillpal", Name: "pending_triggers",
			Help: "Armed reminder triggers.",
		}),
		activeConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pillpal", Name: "websocket_connections",
			Help: "Open websocket reminder streams.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pillpal", Name: "http_requests_total",
			Help: "HTTP requests by route and status class.",
		}, []string{"method", "route", "code"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.remindersScheduled,
		m.reminderFailures,
		m.resyncDuration,
		m.resyncsDisabled,
		m.intakeActions,
		m.snoozesResolved,
		m.interactionLookups,
		m.notificationsDelivered,
		m.pendingTriggers,
		m.activeConnections,
		m.httpRequests,
	)
	return m
}

// Registry exposes the private registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus text format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) RecordResync(scheduled, failed int, d time.Duration) {
	if m == nil {
		return
	}
	m.remindersScheduled.Add(float64(scheduled))
	m.reminderFailures.Add(float64(failed))
	m.resyncDuration.Observe(d.Seconds())
}

func (m *Metrics) RecordResyncDisabled() {
	if m == nil {
		return
	}
	m.resyncsDisabled.Inc()
}

func (m *Metrics) RecordReminderScheduled() {
	if m == nil {
		return
	}
	m.remindersScheduled.Inc()
}

func (m *Metrics) RecordIntake(status string) {
	if m == nil {
		return
	}
	m.intakeActions.WithLabelValues(status).Inc()
}

func (m *Metrics) RecordSnoozeResolved() {
	if m == nil {
		return
	}
	m.snoozesResolved.Inc()
}

// RecordInteractionLookup counts one lookup; source is cache, model or
// fallback
func (m *Metrics) RecordInteractionLookup(kind, source string) {
	if m == nil {
		return
	}
	m.interactionLookups.WithLabelValues(kind, source).Inc()
}

func (m *Metrics) RecordDelivery(channel string, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.notificationsDelivered.WithLabelValues(channel, outcome).Inc()
}

func (m *Metrics) SetPendingTriggers(n int) {
	if m == nil {
		return
	}
	m.pendingTriggers.Set(float64(n))
}

func (m *Metrics) IncrementActiveConnections() {
	if m == nil {
		return
	}
	m.activeConnections.Inc()
}

func (m *Metrics) DecrementActiveConnections() {
	if m == nil {
		return
	}
	m.activeConnections.Dec()
}

func (m *Metrics) RecordHTTPRequest(method, route string, code int) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, statusClass(code)).Inc()
}

func statusClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
