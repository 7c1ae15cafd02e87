package engine

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"
	"time"

	"mercator-hq/gatekeeper/pkg/tuning"
)

// reportAdjustments is how many trailing adjustments each pattern report
// carries.
const reportAdjustments = 5

// PatternReport summarizes one pattern.
type PatternReport struct {
	Pattern          string              `json:"pattern"`
	Phase            tuning.Phase        `json:"phase"`
	Threshold        float64             `json:"threshold"`
	FPRate           float64             `json:"fp_rate"`
	ROI              float64             `json:"roi"`
	Window           tuning.WindowStats  `json:"window"`
	Detections       int64               `json:"detections"`
	Compliances      int64               `json:"compliances"`
	Overrides        int64               `json:"overrides"`
	Blocked          int64               `json:"blocked"`
	ActiveRules      int                 `json:"active_rules"`
	RetiredRules     int                 `json:"retired_rules"`
	LastTunedAt      int64               `json:"last_tuned_at"`
	LastTransitionAt int64               `json:"last_transition_at"`
	Adjustments      []tuning.Adjustment `json:"recent_adjustments"`
	Error            string              `json:"error,omitempty"`
}

// Report is a read-only snapshot of every persisted pattern.
type Report struct {
	Step        int64           `json:"step"`
	GeneratedAt time.Time       `json:"generated_at"`
	Patterns    []PatternReport `json:"patterns"`
}

// Report builds a snapshot of every persisted pattern. Patterns whose state
// cannot be read are listed with an error instead of failing the report.
func (e *Engine) Report(ctx context.Context) (*Report, error) {
	step, err := e.backend.CurrentStep(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read step counter: %w", err)
	}
	names, err := e.backend.ListPatterns(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list patterns: %w", err)
	}

	r := &Report{
		Step:        step,
		GeneratedAt: e.now().UTC(),
		Patterns:    make([]PatternReport, 0, len(names)),
	}
	for _, name := range names {
		r.Patterns = append(r.Patterns, e.patternReport(ctx, name))
	}
	return r, nil
}

func (e *Engine) patternReport(ctx context.Context, name string) PatternReport {
	pr := PatternReport{Pattern: name}

	s, err := e.backend.Load(ctx, name)
	if err != nil {
		if errors.Is(err, tuning.ErrCorruptState) {
			pr.Error = "corrupt state"
		} else {
			pr.Error = err.Error()
		}
		return pr
	}

	m := e.tuner.Measure(s)
	pr.Phase = s.Phase
	pr.Threshold = s.Threshold
	pr.FPRate = m.FPRate
	pr.ROI = m.ROI
	pr.Window = m.Window
	pr.Detections = s.Detections
	pr.Compliances = s.Compliances
	pr.Overrides = s.Overrides
	pr.Blocked = s.Blocked
	pr.LastTunedAt = s.LastTunedAt
	pr.LastTransitionAt = s.LastTransitionAt

	history := s.AdjustmentHistory
	if len(history) > reportAdjustments {
		history = history[len(history)-reportAdjustments:]
	}
	pr.Adjustments = append([]tuning.Adjustment(nil), history...)

	rules, err := e.backend.ListRules(ctx, name)
	if err != nil {
		pr.Error = fmt.Sprintf("failed to list rules: %v", err)
		return pr
	}
	for _, rule := range rules {
		if rule.Retired {
			pr.RetiredRules++
		} else {
			pr.ActiveRules++
		}
	}
	return pr
}

// WriteText renders r as aligned text.
func (r *Report) WriteText(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "Gatekeeper report at step %d\n\n", r.Step)

	if len(r.Patterns) == 0 {
		fmt.Fprintln(tw, "No patterns recorded yet.")
		return tw.Flush()
	}

	fmt.Fprintln(tw, "PATTERN\tPHASE\tTHRESHOLD\tFP RATE\tROI\tDETECTIONS\tACTIVE RULES")
	for _, p := range r.Patterns {
		if p.Error != "" {
			fmt.Fprintf(tw, "%s\t-\t-\t-\t-\t-\t-\t(%s)\n", p.Pattern, p.Error)
			continue
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%.2f\t%.2f\t%d\t%d\n",
			p.Pattern, p.Phase, strconv.FormatFloat(p.Threshold, 'f', -1, 64),
			p.FPRate, p.ROI, p.Detections, p.ActiveRules)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	for _, p := range r.Patterns {
		if len(p.Adjustments) == 0 {
			continue
		}
		fmt.Fprintf(w, "\n%s adjustments:\n", p.Pattern)
		for _, a := range p.Adjustments {
			fmt.Fprintf(w, "  step %d: %s %s -> %s (%s)\n", a.Step, a.Field, a.OldValue, a.NewValue, a.Reason)
		}
	}
	return nil
}

// String renders r as text.
func (r *Report) String() string {
	var buf bytes.Buffer
	_ = r.WriteText(&buf)
	return buf.String()
}
