package phase

import (
	"fmt"
	"strconv"

	"mercator-hq/gatekeeper/pkg/tuning"
)

// Config holds the transition gates.
type Config struct {
	// MinObservations is the number of OBSERVE detections required before
	// WARN is considered.
	// Default: 20
	MinObservations int64

	// ConfidenceFloor is the minimum compliances/detections ratio for
	// OBSERVE to WARN.
	// Default: 0.30
	ConfidenceFloor float64

	// ROIFloor is the minimum ROI for WARN to ENFORCE.
	// Default: 3.0
	ROIFloor float64

	// FPCeiling is the maximum false-positive rate for WARN to ENFORCE.
	// Default: 0.10
	FPCeiling float64

	// MinWarnDetections is the number of detections that must be observed
	// in WARN before ENFORCE is considered.
	// Default: 5
	MinWarnDetections int

	// FPBacktrackCeiling is the false-positive rate above which ENFORCE
	// falls back to WARN.
	// Default: 0.15
	FPBacktrackCeiling float64

	// BacktrackWindow is the number of trailing ENFORCE detections the
	// backtrack rule looks at. A full window is required.
	// Default: 10
	BacktrackWindow int
}

// DefaultConfig returns the default transition gates.
func DefaultConfig() Config {
	return Config{
		MinObservations:    20,
		ConfidenceFloor:    0.30,
		ROIFloor:           3.0,
		FPCeiling:          0.10,
		MinWarnDetections:  5,
		FPBacktrackCeiling: 0.15,
		BacktrackWindow:    10,
	}
}

// Validate checks the gates for consistency.
func (c Config) Validate() error {
	if c.MinObservations < 1 {
		return fmt.Errorf("min_observations must be at least 1")
	}
	if c.ConfidenceFloor < 0 || c.ConfidenceFloor > 1 {
		return fmt.Errorf("confidence_floor must be within [0, 1]")
	}
	if c.FPCeiling < 0 || c.FPCeiling > 1 || c.FPBacktrackCeiling < 0 || c.FPBacktrackCeiling > 1 {
		return fmt.Errorf("fp ceilings must be within [0, 1]")
	}
	if c.FPBacktrackCeiling < c.FPCeiling {
		return fmt.Errorf("fp_backtrack_ceiling %.2f must not be below fp_ceiling %.2f", c.FPBacktrackCeiling, c.FPCeiling)
	}
	if c.ROIFloor < 0 {
		return fmt.Errorf("roi_floor must not be negative")
	}
	if c.MinWarnDetections < 1 || c.BacktrackWindow < 1 {
		return fmt.Errorf("min_warn_detections and backtrack_window must be at least 1")
	}
	return nil
}

// Signals are the windowed measurements a transition is judged on.
type Signals struct {
	// Window aggregates the current-phase trailing window.
	Window tuning.WindowStats

	// ROI is the return on investment over Window.
	ROI float64

	// Backtrack aggregates the last BacktrackWindow ENFORCE detections.
	Backtrack tuning.WindowStats
}

// Transition describes a phase change.
type Transition struct {
	From   tuning.Phase
	To     tuning.Phase
	Reason string
}

// Allowed reports whether from→to is a legal edge.
func Allowed(from, to tuning.Phase) bool {
	switch {
	case from == tuning.PhaseObserve && to == tuning.PhaseWarn:
		return true
	case from == tuning.PhaseWarn && to == tuning.PhaseEnforce:
		return true
	case from == tuning.PhaseEnforce && to == tuning.PhaseWarn:
		return true
	}
	return false
}

// Machine applies the transition rules and the per-phase decision policy.
type Machine struct {
	cfg Config
}

// NewMachine creates a machine with the given gates.
func NewMachine(cfg Config) *Machine {
	return &Machine{cfg: cfg}
}

// Config returns the machine's gates.
func (m *Machine) Config() Config {
	return m.cfg
}

// Next returns the single transition s qualifies for, if any.
func (m *Machine) Next(s *tuning.PatternState, sig Signals) (Transition, bool) {
	switch s.Phase {
	case tuning.PhaseObserve:
		if s.Detections < m.cfg.MinObservations {
			return Transition{}, false
		}
		confidence := float64(s.Compliances) / float64(s.Detections)
		if confidence < m.cfg.ConfidenceFloor {
			return Transition{}, false
		}
		return Transition{
			From:   tuning.PhaseObserve,
			To:     tuning.PhaseWarn,
			Reason: fmt.Sprintf("confidence %.2f >= %.2f over %d detections", confidence, m.cfg.ConfidenceFloor, s.Detections),
		}, true

	case tuning.PhaseWarn:
		if sig.Window.Detections < m.cfg.MinWarnDetections {
			return Transition{}, false
		}
		fp := sig.Window.FPRate()
		if sig.ROI < m.cfg.ROIFloor || fp > m.cfg.FPCeiling {
			return Transition{}, false
		}
		return Transition{
			From:   tuning.PhaseWarn,
			To:     tuning.PhaseEnforce,
			Reason: fmt.Sprintf("roi %.2f >= %.2f and fp %.2f <= %.2f", sig.ROI, m.cfg.ROIFloor, fp, m.cfg.FPCeiling),
		}, true

	case tuning.PhaseEnforce:
		if sig.Backtrack.Detections < m.cfg.BacktrackWindow {
			return Transition{}, false
		}
		fp := sig.Backtrack.FPRate()
		if fp <= m.cfg.FPBacktrackCeiling {
			return Transition{}, false
		}
		return Transition{
			From:   tuning.PhaseEnforce,
			To:     tuning.PhaseWarn,
			Reason: fmt.Sprintf("fp %.2f > %.2f over last %d enforced detections", fp, m.cfg.FPBacktrackCeiling, sig.Backtrack.Detections),
		}, true
	}
	return Transition{}, false
}

// Apply moves s along t at step and records the change in its history.
func (m *Machine) Apply(s *tuning.PatternState, t Transition, step int64, historyLimit int) error {
	if s.Phase != t.From || !Allowed(t.From, t.To) {
		return fmt.Errorf("illegal transition %s -> %s from phase %s", t.From, t.To, s.Phase)
	}
	if s.LastTransitionAt == step && step != 0 {
		return fmt.Errorf("pattern %q already transitioned at step %d", s.Pattern, step)
	}

	s.Phase = t.To
	s.LastTransitionAt = step
	s.AppendAdjustment(tuning.Adjustment{
		Step:     step,
		Field:    tuning.FieldPhase,
		OldValue: string(t.From),
		NewValue: string(t.To),
		Reason:   t.Reason,
	}, historyLimit)
	return nil
}

// Verdict is the phase policy's response to a matched detection.
type Verdict struct {
	Action     tuning.Action
	Overridden bool
	Reason     string
}

// Decide maps a matched detection to an action for phase p.
func (m *Machine) Decide(p tuning.Phase, c tuning.Context, threshold float64) Verdict {
	th := strconv.FormatFloat(threshold, 'f', -1, 64)
	switch p {
	case tuning.PhaseWarn:
		return Verdict{
			Action:     tuning.ActionWarn,
			Overridden: c.OverrideSignal,
			Reason:     "pattern detected at threshold " + th,
		}
	case tuning.PhaseEnforce:
		if c.OverrideSignal {
			return Verdict{
				Action:     tuning.ActionAllow,
				Overridden: true,
				Reason:     "block overridden by caller",
			}
		}
		return Verdict{
			Action: tuning.ActionBlock,
			Reason: "pattern enforced at threshold " + th,
		}
	default:
		return Verdict{
			Action: tuning.ActionAllow,
			Reason: "pattern observed at threshold " + th,
		}
	}
}
