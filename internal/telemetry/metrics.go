// Package telemetry wires the orchestration engine into Prometheus
// counters/histograms and OpenTelemetry spans. Grounded on the teacher's
// internal/observability/metrics.go (promauto-registered CounterVec/
// HistogramVec families) and tracing.go (a Tracer wrapper over the
// OTel SDK), scaled down to this engine's surface: phase transitions,
// review rounds, and tool-use turns rather than channels/webhooks/HTTP.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects the counters and histograms one orchestration run
// produces. A nil *Metrics is valid everywhere it's accepted — every
// method on it is a no-op guard, so instrumentation is opt-in.
type Metrics struct {
	// PhaseTransitions counts each Step's outgoing phase.
	// Labels: phase
	PhaseTransitions *prometheus.CounterVec

	// RunOutcomes counts completed runs by terminal phase and, for
	// failures, the FailureReason.
	// Labels: phase, reason
	RunOutcomes *prometheus.CounterVec

	// ReviewRounds counts review-boundary outcomes; agentfsm records
	// plan_review and final_review rounds (action_review rounds are not
	// recorded).
	// Labels: boundary (plan_review|final_review), outcome
	ReviewRounds *prometheus.CounterVec

	// ToolTurns observes how many turns a Native Tool Use loop took
	// before ending.
	ToolTurns prometheus.Histogram

	// ToolCallDuration measures one tool dispatch's wall time.
	// Labels: tool, status (success|error)
	ToolCallDuration *prometheus.HistogramVec

	// HiLDecisions counts HiL Policy decisions by boundary and action.
	// Labels: boundary, action
	HiLDecisions *prometheus.CounterVec
}

// NewMetrics registers a fresh Metrics family against reg. Passing nil
// registers against prometheus.DefaultRegisterer, mirroring
// promauto.With(nil).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		PhaseTransitions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentcore",
			Name:      "phase_transitions_total",
			Help:      "Count of agent state machine phase transitions.",
		}, []string{"phase"}),
		RunOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentcore",
			Name:      "run_outcomes_total",
			Help:      "Count of completed runs by terminal phase and failure reason.",
		}, []string{"phase", "reason"}),
		ReviewRounds: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentcore",
			Name:      "review_rounds_total",
			Help:      "Count of Quorum Consensus review rounds by boundary and outcome.",
		}, []string{"boundary", "outcome"}),
		ToolTurns: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "agentcore",
			Name:      "tool_turns",
			Help:      "Number of turns a Native Tool Use loop took before ending.",
			Buckets:   []float64{1, 2, 3, 5, 8, 10, 15, 20},
		}),
		ToolCallDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "agentcore",
			Name:      "tool_call_duration_seconds",
			Help:      "Wall time of one tool dispatch.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
		}, []string{"tool", "status"}),
		HiLDecisions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "agentcore",
			Name:      "hil_decisions_total",
			Help:      "Count of HiL Policy decisions by boundary and action.",
		}, []string{"boundary", "action"}),
	}
}

// Phase records one phase transition.
func (m *Metrics) Phase(phase string) {
	if m == nil {
		return
	}
	m.PhaseTransitions.WithLabelValues(phase).Inc()
}

// RunOutcome records a terminal phase, with reason empty for non-failures.
func (m *Metrics) RunOutcome(phase, reason string) {
	if m == nil {
		return
	}
	m.RunOutcomes.WithLabelValues(phase, reason).Inc()
}

// ReviewRound records one boundary's outcome.
func (m *Metrics) ReviewRound(boundary, outcome string) {
	if m == nil {
		return
	}
	m.ReviewRounds.WithLabelValues(boundary, outcome).Inc()
}

// ToolRunTurns records a finished Native Tool Use loop's turn count.
func (m *Metrics) ToolRunTurns(turns int) {
	if m == nil {
		return
	}
	m.ToolTurns.Observe(float64(turns))
}

// ToolCall records one tool dispatch's outcome and duration.
func (m *Metrics) ToolCall(tool, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.ToolCallDuration.WithLabelValues(tool, status).Observe(d.Seconds())
}

// HiLDecision records one HiL Policy decision.
func (m *Metrics) HiLDecision(boundary, action string) {
	if m == nil {
		return
	}
	m.HiLDecisions.WithLabelValues(boundary, action).Inc()
}
