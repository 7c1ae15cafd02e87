package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"mercator-hq/gatekeeper/pkg/tuning"
)

// Metrics contains Prometheus metrics for the engine.
type Metrics struct {
	// Decisions
	decisions        *prometheus.CounterVec
	ruleMatches      *prometheus.CounterVec
	evaluateDuration *prometheus.HistogramVec

	// Failures
	detectorFailures *prometheus.CounterVec
	corruptRecovered *prometheus.CounterVec
	writeConflicts   *prometheus.CounterVec
	droppedUpdates   *prometheus.CounterVec

	// Tuning
	transitions    *prometheus.CounterVec
	phaseGauge     *prometheus.GaugeVec
	thresholdGauge *prometheus.GaugeVec
	activeRules    *prometheus.GaugeVec
	passDuration   *prometheus.HistogramVec
}

// NewMetrics registers the engine collectors with reg. A nil reg uses the
// default registerer.
func NewMetrics(reg prometheus.Registerer, namespace string) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if namespace == "" {
		namespace = "gatekeeper"
	}
	factory := promauto.With(reg)

	return &Metrics{
		decisions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "decisions_total",
				Help:      "Total number of decisions returned",
			},
			[]string{"pattern", "action", "phase"},
		),

		ruleMatches: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "exception_rule_matches_total",
				Help:      "Total number of evaluations short-circuited by an exception rule",
			},
			[]string{"pattern"},
		),

		evaluateDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "evaluate_duration_seconds",
				Help:      "Duration of Evaluate calls",
				Buckets:   []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25},
			},
			[]string{"pattern"},
		),

		detectorFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "detector_failures_total",
				Help:      "Total number of detector errors and panics treated as no match",
			},
			[]string{"pattern"},
		),

		corruptRecovered: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "corrupt_state_recoveries_total",
				Help:      "Total number of corrupt pattern states discarded and reinitialized",
			},
			[]string{"pattern"},
		),

		writeConflicts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "write_conflicts_total",
				Help:      "Total number of optimistic write conflicts that triggered a retry",
			},
			[]string{"pattern"},
		),

		droppedUpdates: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dropped_updates_total",
				Help:      "Total number of state updates dropped after exhausting retries",
			},
			[]string{"pattern"},
		),

		transitions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "phase_transitions_total",
				Help:      "Total number of phase transitions",
			},
			[]string{"pattern", "from", "to"},
		),

		phaseGauge: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "pattern_phase",
				Help:      "Current phase of a pattern (0=OBSERVE, 1=WARN, 2=ENFORCE)",
			},
			[]string{"pattern"},
		),

		thresholdGauge: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "pattern_threshold",
				Help:      "Current detection threshold of a pattern",
			},
			[]string{"pattern"},
		),

		activeRules: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_exception_rules",
				Help:      "Number of active exception rules per pattern",
			},
			[]string{"pattern"},
		),

		passDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "maintenance_pass_duration_seconds",
				Help:      "Duration of tuning and learner passes",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"pass"},
		),
	}
}

// RecordDecision records a returned decision.
func (m *Metrics) RecordDecision(pattern string, d tuning.Decision, seconds float64) {
	m.decisions.WithLabelValues(pattern, string(d.Action), string(d.Phase)).Inc()
	m.evaluateDuration.WithLabelValues(pattern).Observe(seconds)
	if d.MatchedRuleID != "" {
		m.ruleMatches.WithLabelValues(pattern).Inc()
	}
}

// RecordDetectorFailure records a detector error or panic.
func (m *Metrics) RecordDetectorFailure(pattern string) {
	m.detectorFailures.WithLabelValues(pattern).Inc()
}

// RecordCorruptRecovery records a discarded corrupt state.
func (m *Metrics) RecordCorruptRecovery(pattern string) {
	m.corruptRecovered.WithLabelValues(pattern).Inc()
}

// RecordWriteConflicts records conflicts observed by a read-modify-write.
func (m *Metrics) RecordWriteConflicts(pattern string, n int) {
	if n > 0 {
		m.writeConflicts.WithLabelValues(pattern).Add(float64(n))
	}
}

// RecordDroppedUpdate records an update abandoned after retries.
func (m *Metrics) RecordDroppedUpdate(pattern string) {
	m.droppedUpdates.WithLabelValues(pattern).Inc()
}

// RecordTransition records a phase transition.
func (m *Metrics) RecordTransition(pattern string, from, to tuning.Phase) {
	m.transitions.WithLabelValues(pattern, string(from), string(to)).Inc()
}

// UpdatePatternState refreshes the per-pattern gauges.
func (m *Metrics) UpdatePatternState(s *tuning.PatternState) {
	m.phaseGauge.WithLabelValues(s.Pattern).Set(phaseValue(s.Phase))
	m.thresholdGauge.WithLabelValues(s.Pattern).Set(s.Threshold)
}

// UpdateActiveRules sets the active rule gauge of a pattern.
func (m *Metrics) UpdateActiveRules(pattern string, n int) {
	m.activeRules.WithLabelValues(pattern).Set(float64(n))
}

// RecordPassDuration records the duration of a maintenance pass.
func (m *Metrics) RecordPassDuration(pass string, seconds float64) {
	m.passDuration.WithLabelValues(pass).Observe(seconds)
}

func phaseValue(p tuning.Phase) float64 {
	switch p {
	case tuning.PhaseWarn:
		return 1
	case tuning.PhaseEnforce:
		return 2
	default:
		return 0
	}
}
