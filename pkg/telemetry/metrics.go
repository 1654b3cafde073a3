package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for runs, actions, capability calls
// and ingress decisions. A disabled instance is a no-op.
type Metrics struct {
	config MetricsConfig

	// Run metrics
	runsStarted  *prometheus.CounterVec
	runsFinished *prometheus.CounterVec
	runDuration  *prometheus.HistogramVec
	activeRuns   prometheus.Gauge

	// Action metrics
	actionsExecuted *prometheus.CounterVec
	actionDuration  *prometheus.HistogramVec

	// Capability metrics
	capabilityCalls    *prometheus.CounterVec
	capabilityDuration *prometheus.HistogramVec
	capabilityErrors   *prometheus.CounterVec

	// Ingress metrics
	ingressDecisions *prometheus.CounterVec
	indexEntries     prometheus.Gauge
	recommendations  *prometheus.CounterVec

	errorsByCode *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a metrics collector on its own registry.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		runsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_started_total",
				Help:      "Total number of orchestration runs started",
			},
			[]string{"goal"},
		),
		runsFinished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_finished_total",
				Help:      "Total number of orchestration runs finished by terminal status",
			},
			[]string{"goal", "status"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of orchestration runs in seconds",
				Buckets:   buckets,
			},
			[]string{"goal", "status"},
		),
		activeRuns: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_runs",
				Help:      "Current number of active runs",
			},
		),

		actionsExecuted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "actions_executed_total",
				Help:      "Total number of actions executed",
			},
			[]string{"action", "outcome"},
		),
		actionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "action_duration_seconds",
				Help:      "Duration of action execution in seconds",
				Buckets:   buckets,
			},
			[]string{"action"},
		),

		capabilityCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "capability_calls_total",
				Help:      "Total number of capability calls",
			},
			[]string{"group", "operation"},
		),
		capabilityDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "capability_call_duration_seconds",
				Help:      "Duration of capability calls in seconds",
				Buckets:   buckets,
			},
			[]string{"group", "operation"},
		),
		capabilityErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "capability_errors_total",
				Help:      "Total number of failed capability calls",
			},
			[]string{"group", "operation", "code"},
		),

		ingressDecisions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ingress_decisions_total",
				Help:      "Anomaly events by ingress decision",
			},
			[]string{"decision"},
		),
		indexEntries: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "dedup_index_entries",
				Help:      "Current number of (equipment, severity) entries in the dedup index",
			},
		),
		recommendations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "recommendation_transitions_total",
				Help:      "Recommendation status transitions",
			},
			[]string{"status"},
		),

		errorsByCode: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_code_total",
				Help:      "Total number of errors by error code",
			},
			[]string{"code"},
		),
	}

	registry.MustRegister(
		m.runsStarted,
		m.runsFinished,
		m.runDuration,
		m.activeRuns,
		m.actionsExecuted,
		m.actionDuration,
		m.capabilityCalls,
		m.capabilityDuration,
		m.capabilityErrors,
		m.ingressDecisions,
		m.indexEntries,
		m.recommendations,
		m.errorsByCode,
	)

	return m, nil
}

// Run Metrics

// RecordRunStarted counts a started run.
func (m *Metrics) RecordRunStarted(goal string) {
	if m.runsStarted == nil {
		return
	}
	m.runsStarted.WithLabelValues(goal).Inc()
	m.activeRuns.Inc()
}

// RecordRunFinished records a run reaching a terminal status.
func (m *Metrics) RecordRunFinished(goal, status string, duration time.Duration) {
	if m.runsFinished == nil {
		return
	}
	m.runsFinished.WithLabelValues(goal, status).Inc()
	m.runDuration.WithLabelValues(goal, status).Observe(duration.Seconds())
	m.activeRuns.Dec()
}

// Action Metrics

// RecordAction records one executed action.
func (m *Metrics) RecordAction(action, outcome string, duration time.Duration) {
	if m.actionsExecuted == nil {
		return
	}
	m.actionsExecuted.WithLabelValues(action, outcome).Inc()
	m.actionDuration.WithLabelValues(action).Observe(duration.Seconds())
}

// Capability Metrics

// RecordCapabilityCall records a capability call with its duration.
func (m *Metrics) RecordCapabilityCall(group, operation string, duration time.Duration) {
	if m.capabilityCalls == nil {
		return
	}
	m.capabilityCalls.WithLabelValues(group, operation).Inc()
	m.capabilityDuration.WithLabelValues(group, operation).Observe(duration.Seconds())
}

// RecordCapabilityError records a failed capability call.
func (m *Metrics) RecordCapabilityError(group, operation, code string) {
	if m.capabilityErrors == nil {
		return
	}
	m.capabilityErrors.WithLabelValues(group, operation, code).Inc()
}

// Ingress Metrics

// RecordIngressDecision counts an ingress decision (start, duplicate,
// supersede, redelivery, rejected).
func (m *Metrics) RecordIngressDecision(decision string) {
	if m.ingressDecisions == nil {
		return
	}
	m.ingressDecisions.WithLabelValues(decision).Inc()
}

// SetIndexEntries sets the dedup index size.
func (m *Metrics) SetIndexEntries(n int) {
	if m.indexEntries == nil {
		return
	}
	m.indexEntries.Set(float64(n))
}

// RecordRecommendation counts a recommendation entering status.
func (m *Metrics) RecordRecommendation(status string) {
	if m.recommendations == nil {
		return
	}
	m.recommendations.WithLabelValues(status).Inc()
}

// RecordError records an error by code.
func (m *Metrics) RecordError(code string) {
	if m.errorsByCode == nil || code == "" {
		return
	}
	m.errorsByCode.WithLabelValues(code).Inc()
}

// Registry exposes the underlying registry, nil when disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Timer provides a convenient way to time operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}
