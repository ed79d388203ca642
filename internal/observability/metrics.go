package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects gatekeeper metrics:
//   - validation decisions per root command
//   - denial reasons for audit dashboards
//   - execution outcomes and latencies
//   - policy document reloads
type Metrics struct {
	// ValidationCounter counts validation decisions.
	// Labels: root_command, decision (allowed|denied)
	ValidationCounter *prometheus.CounterVec

	// DenialCounter counts denials by reason class.
	// Labels: root_command, reason (no_policy|no_validator|policy_denied)
	DenialCounter *prometheus.CounterVec

	// ExecutionCounter counts spawned command outcomes.
	// Labels: root_command, status (success|failed|timeout|error)
	ExecutionCounter *prometheus.CounterVec

	// ExecutionDuration measures child process runtime in seconds.
	// Labels: root_command
	// Buckets: 0.01s, 0.05s, 0.1s, 0.5s, 1s, 5s, 10s, 30s, 60s
	ExecutionDuration *prometheus.HistogramVec

	// PolicyReloads counts policy document reloads.
	// Labels: result (success|failure)
	PolicyReloads *prometheus.CounterVec
}

// NewMetrics registers all gatekeeper metrics with the default registry.
// Call once at application startup.
func NewMetrics() *Metrics {
	return NewMetricsWith(prometheus.DefaultRegisterer)
}

// NewMetricsWith registers the metrics with a specific registerer, which
// keeps tests independent of the process-wide default registry.
func NewMetricsWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ValidationCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeeper_validations_total",
				Help: "Total validation decisions by root command and decision",
			},
			[]string{"root_command", "decision"},
		),
		DenialCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeeper_denials_total",
				Help: "Total denials by root command and reason class",
			},
			[]string{"root_command", "reason"},
		),
		ExecutionCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeeper_executions_total",
				Help: "Total executed commands by root command and status",
			},
			[]string{"root_command", "status"},
		),
		ExecutionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "gatekeeper_execution_duration_seconds",
				Help:    "Child process runtime in seconds",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"root_command"},
		),
		PolicyReloads: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "gatekeeper_policy_reloads_total",
				Help: "Total policy document reloads by result",
			},
			[]string{"result"},
		),
	}
}
