package tuning

import (
	"fmt"
	"math"
)

// Outcome is the record of a single matched detection, kept in the trailing
// window used for false-positive rate and ROI.
type Outcome struct {
	Step       int64 `json:"step"`
	Phase      Phase `json:"phase"`
	Overridden bool  `json:"overridden,omitempty"`
	Complied   bool  `json:"complied,omitempty"`
}

// Adjustment records a single change made by the auto-tuner.
type Adjustment struct {
	Step     int64  `json:"step"`
	Field    string `json:"field"`
	OldValue string `json:"old_value"`
	NewValue string `json:"new_value"`
	Reason   string `json:"reason"`
}

const (
	// FieldThreshold marks a threshold adjustment.
	FieldThreshold = "threshold"

	// FieldPhase marks a phase transition.
	FieldPhase = "phase"
)

// PatternState is the mutable, persisted state of one pattern.
type PatternState struct {
	Pattern           string       `json:"pattern"`
	Phase             Phase        `json:"phase"`
	Threshold         float64      `json:"threshold"`
	Detections        int64        `json:"detections"`
	Compliances       int64        `json:"compliances"`
	Overrides         int64        `json:"overrides"`
	Blocked           int64        `json:"blocked"`
	LastTunedAt       int64        `json:"last_tuned_at"`
	LastTransitionAt  int64        `json:"last_transition_at"`
	AdjustmentHistory []Adjustment `json:"adjustment_history"`
	Recent            []Outcome    `json:"recent"`

	// Version is bumped by every successful save. A zero version means the
	// state has never been persisted.
	Version int64 `json:"version"`
}

// NewPatternState returns a fresh OBSERVE state at the given threshold.
func NewPatternState(pattern string, threshold float64) *PatternState {
	return &PatternState{
		Pattern:           pattern,
		Phase:             PhaseObserve,
		Threshold:         threshold,
		AdjustmentHistory: []Adjustment{},
		Recent:            []Outcome{},
	}
}

// Clone returns a deep copy of s.
func (s *PatternState) Clone() *PatternState {
	c := *s
	c.AdjustmentHistory = append([]Adjustment{}, s.AdjustmentHistory...)
	c.Recent = append([]Outcome{}, s.Recent...)
	return &c
}

// Validate checks the invariants that every persisted state must satisfy.
func (s *PatternState) Validate() error {
	if err := ValidatePatternName(s.Pattern); err != nil {
		return err
	}
	if !s.Phase.Valid() {
		return fmt.Errorf("unknown phase %q", s.Phase)
	}
	if math.IsNaN(s.Threshold) || math.IsInf(s.Threshold, 0) || s.Threshold <= 0 {
		return fmt.Errorf("threshold %v is not finite and positive", s.Threshold)
	}
	if s.Detections < 0 || s.Compliances < 0 || s.Overrides < 0 || s.Blocked < 0 {
		return fmt.Errorf("negative counter")
	}
	if s.Version < 0 {
		return fmt.Errorf("negative version %d", s.Version)
	}
	return nil
}

// RecordOutcome appends o to the trailing window, keeping at most limit
// entries.
func (s *PatternState) RecordOutcome(o Outcome, limit int) {
	s.Recent = append(s.Recent, o)
	if limit > 0 && len(s.Recent) > limit {
		s.Recent = append([]Outcome{}, s.Recent[len(s.Recent)-limit:]...)
	}
}

// AppendAdjustment appends a to the history, keeping at most limit entries.
func (s *PatternState) AppendAdjustment(a Adjustment, limit int) {
	s.AdjustmentHistory = append(s.AdjustmentHistory, a)
	if limit > 0 && len(s.AdjustmentHistory) > limit {
		s.AdjustmentHistory = append([]Adjustment{}, s.AdjustmentHistory[len(s.AdjustmentHistory)-limit:]...)
	}
}

// PhaseWindow returns the trailing outcomes recorded in the current phase
// since the last transition, at most limit of them.
func (s *PatternState) PhaseWindow(limit int) []Outcome {
	var window []Outcome
	for _, o := range s.Recent {
		if o.Phase == s.Phase && o.Step > s.LastTransitionAt {
			window = append(window, o)
		}
	}
	if limit > 0 && len(window) > limit {
		window = window[len(window)-limit:]
	}
	return window
}

// WindowStats aggregates a slice of outcomes.
type WindowStats struct {
	Detections  int `json:"detections"`
	Overrides   int `json:"overrides"`
	Compliances int `json:"compliances"`
}

// Summarize aggregates outcomes into WindowStats.
func Summarize(outcomes []Outcome) WindowStats {
	st := WindowStats{Detections: len(outcomes)}
	for _, o := range outcomes {
		if o.Overridden {
			st.Overrides++
		}
		if o.Complied {
			st.Compliances++
		}
	}
	return st
}

// FPRate is the share of detections the user overrode. Zero detections
// yield zero.
func (w WindowStats) FPRate() float64 {
	if w.Detections == 0 {
		return 0
	}
	return float64(w.Overrides) / float64(w.Detections)
}

// ROI weighs compliances against overrides. Zero overrides count as one so
// the ratio stays finite.
func (w WindowStats) ROI(complianceBenefit, overrideCost float64) float64 {
	overrides := w.Overrides
	if overrides < 1 {
		overrides = 1
	}
	if overrideCost <= 0 {
		overrideCost = 1
	}
	return (complianceBenefit * float64(w.Compliances)) / (overrideCost * float64(overrides))
}
