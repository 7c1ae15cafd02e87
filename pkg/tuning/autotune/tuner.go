package autotune

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"mercator-hq/gatekeeper/pkg/tuning"
	"mercator-hq/gatekeeper/pkg/tuning/phase"
	"mercator-hq/gatekeeper/pkg/tuning/storage"
)

// Config controls the tuning pass.
type Config struct {
	// Interval is the number of global steps between passes.
	// Default: 50
	Interval int64

	// MetricsWindow caps the trailing outcomes fp and roi are computed over.
	// Default: 50
	MetricsWindow int

	// HistoryLimit caps adjustment_history.
	// Default: 50
	HistoryLimit int

	// FPFloor is the false-positive rate below which a high-ROI pattern's
	// threshold is tightened.
	// Default: 0.03
	FPFloor float64

	// ROIHigh is the ROI above which a low-fp pattern is tightened.
	// Default: 5.0
	ROIHigh float64

	// ComplianceBenefit and OverrideCost weigh the ROI ratio.
	// Default: 1.0 each
	ComplianceBenefit float64
	OverrideCost      float64

	// Band returns the threshold band of a pattern.
	Band func(pattern string) tuning.Band

	// Retry bounds read-modify-write retries.
	Retry storage.RetryPolicy
}

// DefaultConfig returns the default tuning configuration.
func DefaultConfig() Config {
	return Config{
		Interval:          50,
		MetricsWindow:     50,
		HistoryLimit:      50,
		FPFloor:           0.03,
		ROIHigh:           5.0,
		ComplianceBenefit: 1.0,
		OverrideCost:      1.0,
		Band: func(string) tuning.Band {
			return tuning.Band{Initial: 3, Min: 1, Max: 10}
		},
		Retry: storage.DefaultRetryPolicy(),
	}
}

// Measurement is the windowed view of one pattern.
type Measurement struct {
	Window    tuning.WindowStats `json:"window"`
	FPRate    float64            `json:"fp_rate"`
	ROI       float64            `json:"roi"`
	Backtrack tuning.WindowStats `json:"backtrack"`
}

// Change is what a pass did to one pattern.
type Change struct {
	Pattern     string
	Transition  *phase.Transition
	Adjustments []tuning.Adjustment
	State       *tuning.PatternState
}

// Result summarizes a pass.
type Result struct {
	Step     int64
	Patterns int
	Changes  []Change
	Failures int
}

// Tuner runs tuning passes over every persisted pattern.
type Tuner struct {
	cfg     Config
	machine *phase.Machine
	backend storage.Backend
	logger  *slog.Logger
}

// NewTuner creates a tuner.
func NewTuner(cfg Config, machine *phase.Machine, backend storage.Backend, logger *slog.Logger) *Tuner {
	if logger == nil {
		logger = slog.Default().With("component", "autotune")
	}
	if cfg.Band == nil {
		cfg.Band = DefaultConfig().Band
	}
	return &Tuner{
		cfg:     cfg,
		machine: machine,
		backend: backend,
		logger:  logger,
	}
}

// Due reports whether a pass should run at step.
func (t *Tuner) Due(step int64) bool {
	return t.cfg.Interval > 0 && step > 0 && step%t.cfg.Interval == 0
}

// Measure computes the windowed metrics of s.
func (t *Tuner) Measure(s *tuning.PatternState) Measurement {
	window := tuning.Summarize(s.PhaseWindow(t.cfg.MetricsWindow))
	m := Measurement{
		Window: window,
		FPRate: window.FPRate(),
		ROI:    window.ROI(t.cfg.ComplianceBenefit, t.cfg.OverrideCost),
	}
	if s.Phase == tuning.PhaseEnforce {
		m.Backtrack = tuning.Summarize(s.PhaseWindow(t.machine.Config().BacktrackWindow))
	}
	return m
}

// Tune applies at most one transition and at most one threshold adjustment
// to s at step. It reports whether s changed.
func (t *Tuner) Tune(s *tuning.PatternState, step int64) (Change, bool) {
	change := Change{Pattern: s.Pattern}
	if s.LastTunedAt == step && step != 0 {
		return change, false
	}

	m := t.Measure(s)

	if s.LastTransitionAt != step {
		if tr, ok := t.machine.Next(s, phase.Signals{Window: m.Window, ROI: m.ROI, Backtrack: m.Backtrack}); ok {
			if err := t.machine.Apply(s, tr, step, t.cfg.HistoryLimit); err != nil {
				t.logger.Warn("Refused phase transition", "pattern", s.Pattern, "error", err)
			} else {
				change.Transition = &tr
				change.Adjustments = append(change.Adjustments, s.AdjustmentHistory[len(s.AdjustmentHistory)-1])
			}
		}
	}

	band := t.cfg.Band(s.Pattern)
	fpCeiling := t.machine.Config().FPCeiling
	old := s.Threshold
	var reason string
	switch {
	case m.FPRate > fpCeiling:
		s.Threshold = band.Clamp(old + 1)
		reason = fmt.Sprintf("fp %.2f > %.2f, loosening", m.FPRate, fpCeiling)
	case m.FPRate < t.cfg.FPFloor && m.ROI > t.cfg.ROIHigh:
		s.Threshold = band.Clamp(old - 1)
		reason = fmt.Sprintf("fp %.2f < %.2f and roi %.2f > %.2f, tightening", m.FPRate, t.cfg.FPFloor, m.ROI, t.cfg.ROIHigh)
	}
	if s.Threshold != old {
		adj := tuning.Adjustment{
			Step:     step,
			Field:    tuning.FieldThreshold,
			OldValue: formatThreshold(old),
			NewValue: formatThreshold(s.Threshold),
			Reason:   reason,
		}
		s.AppendAdjustment(adj, t.cfg.HistoryLimit)
		change.Adjustments = append(change.Adjustments, adj)
	}

	s.LastTunedAt = step
	return change, true
}

// Pass tunes every persisted pattern. Failures on individual patterns are
// logged and counted; they never abort the pass.
func (t *Tuner) Pass(ctx context.Context, step int64) (Result, error) {
	res := Result{Step: step}

	patterns, err := t.backend.ListPatterns(ctx)
	if err != nil {
		return res, fmt.Errorf("failed to list patterns: %w", err)
	}
	res.Patterns = len(patterns)

	for _, name := range patterns {
		state, err := t.backend.Load(ctx, name)
		if err != nil {
			if !errors.Is(err, tuning.ErrNotFound) {
				res.Failures++
				t.logger.Warn("Skipping pattern in tuning pass", "pattern", name, "error", err)
			}
			continue
		}

		var change Change
		saved, _, err := storage.Mutate(ctx, t.backend, t.cfg.Retry, state, func(s *tuning.PatternState) bool {
			var changed bool
			change, changed = t.Tune(s, step)
			return changed
		})
		if err != nil {
			res.Failures++
			t.logger.Warn("Dropped tuning update", "pattern", name, "step", step, "error", err)
			continue
		}
		change.State = saved

		if change.Transition != nil {
			t.logger.Info("Phase transition",
				"pattern", name,
				"from", change.Transition.From,
				"to", change.Transition.To,
				"reason", change.Transition.Reason,
				"step", step,
			)
		}
		for _, adj := range change.Adjustments {
			if adj.Field == tuning.FieldThreshold {
				t.logger.Info("Threshold adjusted",
					"pattern", name,
					"old", adj.OldValue,
					"new", adj.NewValue,
					"reason", adj.Reason,
					"step", step,
				)
			}
		}
		res.Changes = append(res.Changes, change)
	}

	return res, nil
}

func formatThreshold(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
