package telemetry

import (
	"net/http"

	trusttls "github.com/polisai/trustboot/internal/tls"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var bootstrapStates = []trusttls.State{
	trusttls.StateNotStarted,
	trusttls.StateLoading,
	trusttls.StateMerged,
	trusttls.StateContextBuilt,
	trusttls.StateInstalled,
	trusttls.StateDegraded,
}

var auditOutcomes = []trusttls.AuditOutcome{
	trusttls.AuditRootPresent,
	trusttls.AuditRootAbsent,
	trusttls.AuditUnavailable,
}

// BootstrapMetrics holds the Prometheus metrics of the trust bootstrap
type BootstrapMetrics struct {
	state       *prometheus.GaugeVec
	transitions *prometheus.CounterVec
	anchors     prometheus.Gauge
	audit       *prometheus.GaugeVec
	runs        *prometheus.CounterVec
	duration    prometheus.Histogram
	storeErrors *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewBootstrapMetrics creates the metrics on a dedicated registry
func NewBootstrapMetrics() *BootstrapMetrics {
	registry := prometheus.NewRegistry()

	m := &BootstrapMetrics{
		state: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "trustboot_state",
				Help: "Current bootstrap state (1 for the active state, 0 otherwise)",
			},
			[]string{"state"},
		),

		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trustboot_state_transitions_total",
				Help: "Total number of bootstrap state transitions",
			},
			[]string{"from", "to"},
		),

		anchors: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "trustboot_trust_anchors",
				Help: "Number of trust anchors in the installed context",
			},
		),

		audit: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "trustboot_audit_outcome",
				Help: "Outcome of the last platform trust audit (1 for the observed outcome)",
			},
			[]string{"outcome"},
		),

		runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trustboot_runs_total",
				Help: "Total number of bootstrap runs by final state",
			},
			[]string{"state"},
		),

		duration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "trustboot_run_duration_seconds",
				Help:    "Bootstrap run duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),

		storeErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trustboot_errors_total",
				Help: "Total number of bootstrap errors by type",
			},
			[]string{"error_type"},
		),

		registry: registry,
	}

	registry.MustRegister(
		m.state,
		m.transitions,
		m.anchors,
		m.audit,
		m.runs,
		m.duration,
		m.storeErrors,
	)

	m.setState(trusttls.StateNotStarted)
	return m
}

// ObserveTransition records a lifecycle transition. It matches
// trusttls.StateCallback so it can be passed to OnStateChange.
func (m *BootstrapMetrics) ObserveTransition(from, to trusttls.State) {
	m.transitions.WithLabelValues(from.String(), to.String()).Inc()
	m.setState(to)
}

// ObserveReport records the outcome of a finished run.
func (m *BootstrapMetrics) ObserveReport(report trusttls.Report) {
	m.setState(report.State)
	m.anchors.Set(float64(report.Anchors))
	m.runs.WithLabelValues(report.State.String()).Inc()
	m.duration.Observe(report.Duration.Seconds())

	for _, outcome := range auditOutcomes {
		value := 0.0
		if outcome == report.Audit.Outcome {
			value = 1
		}
		m.audit.WithLabelValues(string(outcome)).Set(value)
	}

	for _, err := range report.Errors {
		errorType := string(trusttls.ErrorTypeOf(err))
		if errorType == "" {
			errorType = "unknown"
		}
		m.storeErrors.WithLabelValues(errorType).Inc()
	}
}

func (m *BootstrapMetrics) setState(current trusttls.State) {
	for _, state := range bootstrapStates {
		value := 0.0
		if state == current {
			value = 1
		}
		m.state.WithLabelValues(state.String()).Set(value)
	}
}

// Registry returns the registry holding the bootstrap metrics
func (m *BootstrapMetrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler serving the bootstrap metrics
func (m *BootstrapMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
