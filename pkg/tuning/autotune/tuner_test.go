package autotune

import (
	"context"
	"math"
	"testing"

	"mercator-hq/gatekeeper/pkg/tuning"
	"mercator-hq/gatekeeper/pkg/tuning/phase"
	"mercator-hq/gatekeeper/pkg/tuning/storage"
)

func newTestTuner(t *testing.T, backend storage.Backend) *Tuner {
	t.Helper()
	if backend == nil {
		backend = storage.NewMemoryBackend()
	}
	return NewTuner(DefaultConfig(), phase.NewMachine(phase.DefaultConfig()), backend, nil)
}

// feed records n outcomes in the current phase starting after step from.
func feed(s *tuning.PatternState, from int64, n, overrides, compliances int) int64 {
	step := from
	for i := 0; i < n; i++ {
		step++
		s.Detections++
		o := tuning.Outcome{Step: step, Phase: s.Phase}
		if i < overrides {
			o.Overridden = true
			s.Overrides++
		} else if i < overrides+compliances {
			o.Complied = true
			s.Compliances++
		}
		s.RecordOutcome(o, 50)
	}
	return step
}

func TestTuner_Due(t *testing.T) {
	tuner := newTestTuner(t, nil)
	for step, want := range map[int64]bool{0: false, 1: false, 49: false, 50: true, 100: true, 101: false} {
		if got := tuner.Due(step); got != want {
			t.Errorf("Due(%d) = %v, want %v", step, got, want)
		}
	}
}

func TestTuner_Measure(t *testing.T) {
	tuner := newTestTuner(t, nil)
	s := tuning.NewPatternState("p", 3)
	s.Phase = tuning.PhaseWarn
	s.LastTransitionAt = 50
	feed(s, 50, 10, 1, 4)

	m := tuner.Measure(s)
	if m.Window.Detections != 10 {
		t.Errorf("Expected 10 windowed detections, got %d", m.Window.Detections)
	}
	if math.Abs(m.FPRate-0.1) > 1e-9 {
		t.Errorf("Expected fp 0.1, got %v", m.FPRate)
	}
	if math.Abs(m.ROI-4) > 1e-9 {
		t.Errorf("Expected roi 4, got %v", m.ROI)
	}
}

func TestTuner_ObserveToWarn(t *testing.T) {
	tuner := newTestTuner(t, nil)
	s := tuning.NewPatternState("p", 3)
	feed(s, 0, 20, 0, 8)

	change, changed := tuner.Tune(s, 50)
	if !changed {
		t.Fatal("Expected the state to change")
	}
	if change.Transition == nil || change.Transition.To != tuning.PhaseWarn {
		t.Fatalf("Expected OBSERVE -> WARN, got %+v", change.Transition)
	}
	if s.Phase != tuning.PhaseWarn || s.LastTransitionAt != 50 || s.LastTunedAt != 50 {
		t.Errorf("Unexpected state: %+v", s)
	}
}

func TestTuner_AtMostOneTransitionPerPass(t *testing.T) {
	tuner := newTestTuner(t, nil)
	s := tuning.NewPatternState("p", 3)
	// Also good enough for WARN -> ENFORCE if it were evaluated again.
	feed(s, 0, 40, 0, 30)

	tuner.Tune(s, 50)
	if s.Phase != tuning.PhaseWarn {
		t.Fatalf("Expected WARN after one pass, got %s", s.Phase)
	}

	// A repeated pass in the same step is a no-op.
	if _, changed := tuner.Tune(s, 50); changed {
		t.Error("Second pass in the same step must not change state")
	}
	if s.Phase != tuning.PhaseWarn {
		t.Errorf("Phase moved twice in one step: %s", s.Phase)
	}
}

func TestTuner_ThresholdAdjustments(t *testing.T) {
	tests := []struct {
		name        string
		phase       tuning.Phase
		threshold   float64
		n           int
		overrides   int
		compliances int
		want        float64
	}{
		{"loosen on high fp", tuning.PhaseWarn, 3, 10, 2, 0, 4},
		{"loosen capped at max", tuning.PhaseWarn, 10, 10, 2, 0, 10},
		{"tighten on low fp high roi", tuning.PhaseWarn, 3, 10, 0, 6, 2},
		{"tighten floored at min", tuning.PhaseWarn, 1, 10, 0, 6, 1},
		{"fp at ceiling holds", tuning.PhaseWarn, 3, 10, 1, 4, 3},
		{"low fp but modest roi holds", tuning.PhaseWarn, 3, 10, 0, 5, 3},
		{"no data holds", tuning.PhaseWarn, 3, 0, 0, 0, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tuner := newTestTuner(t, nil)
			s := tuning.NewPatternState("p", tt.threshold)
			s.Phase = tt.phase
			s.LastTransitionAt = 1
			feed(s, 1, tt.n, tt.overrides, tt.compliances)

			change, _ := tuner.Tune(s, 100)
			if s.Threshold != tt.want {
				t.Errorf("Threshold = %v, want %v", s.Threshold, tt.want)
			}

			var recorded bool
			for _, adj := range change.Adjustments {
				if adj.Field == tuning.FieldThreshold {
					recorded = true
				}
			}
			if recorded != (tt.threshold != tt.want) {
				t.Errorf("Adjustment recorded = %v, expected only when the threshold changed", recorded)
			}
		})
	}
}

func TestTuner_HistoryBounded(t *testing.T) {
	cfg := DefaultConfig()
	cfg.HistoryLimit = 5
	tuner := NewTuner(cfg, phase.NewMachine(phase.DefaultConfig()), storage.NewMemoryBackend(), nil)

	s := tuning.NewPatternState("p", 5)
	s.Phase = tuning.PhaseWarn
	step := int64(1)
	for pass := 0; pass < 20; pass++ {
		s.LastTransitionAt = step
		step = feed(s, step, 10, 2, 0)
		step++
		tuner.Tune(s, step)
		// Reset the threshold so every pass has something to loosen.
		s.Threshold = 5
	}

	if len(s.AdjustmentHistory) != 5 {
		t.Errorf("Expected history capped at 5, got %d", len(s.AdjustmentHistory))
	}
}

func TestTuner_Pass(t *testing.T) {
	backend := storage.NewMemoryBackend()
	ctx := context.Background()

	ready := tuning.NewPatternState("ready", 3)
	feed(ready, 0, 20, 0, 8)
	quiet := tuning.NewPatternState("quiet", 3)
	feed(quiet, 0, 5, 0, 0)
	backend.Save(ctx, ready)
	backend.Save(ctx, quiet)

	tuner := newTestTuner(t, backend)
	res, err := tuner.Pass(ctx, 50)
	if err != nil {
		t.Fatalf("Pass failed: %v", err)
	}
	if res.Patterns != 2 || res.Failures != 0 {
		t.Errorf("Unexpected result: %+v", res)
	}

	got, _ := backend.Load(ctx, "ready")
	if got.Phase != tuning.PhaseWarn || got.LastTunedAt != 50 {
		t.Errorf("Expected ready to be in WARN tuned at 50, got %s at %d", got.Phase, got.LastTunedAt)
	}
	got, _ = backend.Load(ctx, "quiet")
	if got.Phase != tuning.PhaseObserve || got.LastTunedAt != 50 {
		t.Errorf("Expected quiet to stay in OBSERVE tuned at 50, got %s at %d", got.Phase, got.LastTunedAt)
	}

	var transitions int
	for _, c := range res.Changes {
		if c.Transition != nil {
			transitions++
			if c.State == nil || c.State.Version != 2 {
				t.Errorf("Expected the persisted state on the change, got %+v", c.State)
			}
		}
	}
	if transitions != 1 {
		t.Errorf("Expected exactly 1 transition, got %d", transitions)
	}
}

func TestTuner_PassSkipsCorruptPatterns(t *testing.T) {
	dir := t.TempDir()
	backend, err := storage.NewFileBackend(dir)
	if err != nil {
		t.Fatalf("NewFileBackend failed: %v", err)
	}
	ctx := context.Background()
	backend.Save(ctx, tuning.NewPatternState("good", 3))
	backend.Save(ctx, tuning.NewPatternState("bad", 3))
	writeGarbage(t, dir, "bad")

	res, err := newTestTuner(t, backend).Pass(ctx, 50)
	if err != nil {
		t.Fatalf("Pass failed: %v", err)
	}
	if res.Failures != 1 || len(res.Changes) != 1 {
		t.Errorf("Expected one failure and one change, got %+v", res)
	}
}
