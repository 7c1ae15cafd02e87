package tuning

import (
	"encoding/json"
	"errors"
	"math"
	"reflect"
	"testing"
)

func TestNewPatternState(t *testing.T) {
	s := NewPatternState("p", 3)
	if s.Phase != PhaseObserve {
		t.Errorf("Expected OBSERVE, got %s", s.Phase)
	}
	if s.Threshold != 3 {
		t.Errorf("Expected threshold 3, got %v", s.Threshold)
	}
	if s.Version != 0 {
		t.Errorf("Expected version 0, got %d", s.Version)
	}
	if err := s.Validate(); err != nil {
		t.Errorf("Fresh state should validate: %v", err)
	}
}

func TestPatternState_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(s *PatternState)
	}{
		{"empty pattern", func(s *PatternState) { s.Pattern = "" }},
		{"unknown phase", func(s *PatternState) { s.Phase = "PAUSED" }},
		{"zero threshold", func(s *PatternState) { s.Threshold = 0 }},
		{"negative threshold", func(s *PatternState) { s.Threshold = -1 }},
		{"nan threshold", func(s *PatternState) { s.Threshold = math.NaN() }},
		{"inf threshold", func(s *PatternState) { s.Threshold = math.Inf(1) }},
		{"negative detections", func(s *PatternState) { s.Detections = -1 }},
		{"negative version", func(s *PatternState) { s.Version = -1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewPatternState("p", 3)
			tt.mutate(s)
			if err := s.Validate(); err == nil {
				t.Error("Expected validation error")
			}
		})
	}
}

func TestPatternState_CloneIsDeep(t *testing.T) {
	s := NewPatternState("p", 3)
	s.RecordOutcome(Outcome{Step: 1, Phase: PhaseObserve}, 10)
	s.AppendAdjustment(Adjustment{Step: 1, Field: FieldThreshold}, 10)

	c := s.Clone()
	c.Recent[0].Complied = true
	c.AdjustmentHistory[0].Reason = "changed"

	if s.Recent[0].Complied {
		t.Error("Clone shares Recent with original")
	}
	if s.AdjustmentHistory[0].Reason != "" {
		t.Error("Clone shares AdjustmentHistory with original")
	}
}

func TestPatternState_BoundedWindows(t *testing.T) {
	s := NewPatternState("p", 3)
	for i := int64(1); i <= 120; i++ {
		s.RecordOutcome(Outcome{Step: i, Phase: PhaseObserve}, 50)
		s.AppendAdjustment(Adjustment{Step: i}, 50)
	}

	if len(s.Recent) != 50 {
		t.Errorf("Expected 50 outcomes, got %d", len(s.Recent))
	}
	if s.Recent[0].Step != 71 {
		t.Errorf("Expected oldest kept outcome at step 71, got %d", s.Recent[0].Step)
	}
	if len(s.AdjustmentHistory) != 50 {
		t.Errorf("Expected 50 adjustments, got %d", len(s.AdjustmentHistory))
	}
	if s.AdjustmentHistory[49].Step != 120 {
		t.Errorf("Expected newest adjustment at step 120, got %d", s.AdjustmentHistory[49].Step)
	}
}

func TestPatternState_PhaseWindow(t *testing.T) {
	s := NewPatternState("p", 3)
	for i := int64(1); i <= 5; i++ {
		s.RecordOutcome(Outcome{Step: i, Phase: PhaseObserve, Complied: true}, 50)
	}
	s.Phase = PhaseWarn
	s.LastTransitionAt = 5
	for i := int64(6); i <= 8; i++ {
		s.RecordOutcome(Outcome{Step: i, Phase: PhaseWarn, Overridden: i == 8}, 50)
	}

	window := s.PhaseWindow(50)
	if len(window) != 3 {
		t.Fatalf("Expected 3 WARN outcomes, got %d", len(window))
	}
	st := Summarize(window)
	if st.Compliances != 0 || st.Overrides != 1 {
		t.Errorf("Earlier phase leaked into window: %+v", st)
	}

	if got := len(s.PhaseWindow(2)); got != 2 {
		t.Errorf("Expected window capped at 2, got %d", got)
	}
}

func TestPatternState_PhaseWindowIgnoresEarlierStint(t *testing.T) {
	s := NewPatternState("p", 3)
	s.Phase = PhaseEnforce
	s.RecordOutcome(Outcome{Step: 10, Phase: PhaseEnforce, Overridden: true}, 50)
	s.RecordOutcome(Outcome{Step: 20, Phase: PhaseWarn}, 50)

	// Back in ENFORCE after a backtrack at step 30.
	s.LastTransitionAt = 30
	s.RecordOutcome(Outcome{Step: 31, Phase: PhaseEnforce}, 50)

	window := s.PhaseWindow(50)
	if len(window) != 1 || window[0].Step != 31 {
		t.Errorf("Expected only the step 31 outcome, got %+v", window)
	}
}

func TestWindowStats(t *testing.T) {
	tests := []struct {
		name    string
		stats   WindowStats
		wantFP  float64
		wantROI float64
	}{
		{"empty", WindowStats{}, 0, 0},
		{"no overrides", WindowStats{Detections: 20, Compliances: 8}, 0, 8},
		{"one override", WindowStats{Detections: 10, Overrides: 1, Compliances: 4}, 0.1, 4},
		{"two overrides", WindowStats{Detections: 10, Overrides: 2, Compliances: 4}, 0.2, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.stats.FPRate(); math.Abs(got-tt.wantFP) > 1e-9 {
				t.Errorf("FPRate() = %v, want %v", got, tt.wantFP)
			}
			if got := tt.stats.ROI(1, 1); math.Abs(got-tt.wantROI) > 1e-9 {
				t.Errorf("ROI() = %v, want %v", got, tt.wantROI)
			}
		})
	}
}

func TestPatternState_JSONRoundTrip(t *testing.T) {
	s := NewPatternState("retry-loop", 4)
	s.Phase = PhaseWarn
	s.Detections = 25
	s.Compliances = 9
	s.Overrides = 1
	s.LastTransitionAt = 50
	s.RecordOutcome(Outcome{Step: 51, Phase: PhaseWarn, Overridden: true}, 50)
	s.AppendAdjustment(Adjustment{Step: 50, Field: FieldPhase, OldValue: "OBSERVE", NewValue: "WARN", Reason: "confidence reached"}, 50)
	s.Version = 7

	data, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	var got PatternState
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if !reflect.DeepEqual(s, &got) {
		t.Errorf("Round trip mismatch:\nwant %+v\ngot  %+v", s, &got)
	}
}

func TestValidatePatternName(t *testing.T) {
	valid := []string{"p", "retry-loop", "tools/bash:rm"}
	for _, name := range valid {
		if err := ValidatePatternName(name); err != nil {
			t.Errorf("ValidatePatternName(%q) = %v", name, err)
		}
	}
	invalid := []string{"", "bad\nname", string(make([]byte, 201))}
	for _, name := range invalid {
		if err := ValidatePatternName(name); !errors.Is(err, ErrInvalidPattern) {
			t.Errorf("ValidatePatternName(%q) = %v, want ErrInvalidPattern", name, err)
		}
	}
}
