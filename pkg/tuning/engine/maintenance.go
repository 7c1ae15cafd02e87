package engine

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"mercator-hq/gatekeeper/pkg/tuning/autotune"
	"mercator-hq/gatekeeper/pkg/tuning/learner"
)

// maintain runs whichever periodic passes fall due at step. Failures are
// logged and never reach the caller of Evaluate.
func (e *Engine) maintain(ctx context.Context, step int64) {
	if step <= 0 {
		return
	}
	if e.tuner.Due(step) {
		if _, err := e.Tune(ctx, step); err != nil {
			e.logger.ErrorContext(ctx, "Tuning pass failed", "step", step, "error", err)
		}
	}
	if e.learner.Due(step) {
		if _, err := e.Learn(ctx, step); err != nil {
			e.logger.ErrorContext(ctx, "Learner pass failed", "step", step, "error", err)
		}
	}
	if e.cfg.ReportInterval > 0 && step%e.cfg.ReportInterval == 0 {
		_ = e.LogReport(ctx)
	}
}

// Tune runs a tuning pass at step.
func (e *Engine) Tune(ctx context.Context, step int64) (autotune.Result, error) {
	ctx, span := e.tracer.Start(ctx, "gatekeeper.tune", trace.WithAttributes(attribute.Int64("gatekeeper.step", step)))
	defer span.End()

	start := time.Now()
	res, err := e.tuner.Pass(ctx, step)
	if e.metrics != nil {
		e.metrics.RecordPassDuration("tuning", time.Since(start).Seconds())
	}
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return res, err
	}

	for _, ch := range res.Changes {
		if e.metrics == nil {
			continue
		}
		if ch.Transition != nil {
			e.metrics.RecordTransition(ch.Pattern, ch.Transition.From, ch.Transition.To)
		}
		if ch.State != nil {
			e.metrics.UpdatePatternState(ch.State)
		}
	}
	span.SetAttributes(
		attribute.Int("gatekeeper.patterns", res.Patterns),
		attribute.Int("gatekeeper.changes", len(res.Changes)),
		attribute.Int("gatekeeper.failures", res.Failures),
	)
	e.logger.DebugContext(ctx, "Tuning pass complete", "step", step, "patterns", res.Patterns, "changes", len(res.Changes), "failures", res.Failures)
	return res, nil
}

// Learn runs a meta-learner pass at step.
func (e *Engine) Learn(ctx context.Context, step int64) (learner.Result, error) {
	ctx, span := e.tracer.Start(ctx, "gatekeeper.learn", trace.WithAttributes(attribute.Int64("gatekeeper.step", step)))
	defer span.End()

	start := time.Now()
	res, err := e.learner.Pass(ctx, step)
	if e.metrics != nil {
		e.metrics.RecordPassDuration("learner", time.Since(start).Seconds())
	}
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return res, err
	}

	if e.metrics != nil {
		for pattern, n := range res.ActiveRules {
			e.metrics.UpdateActiveRules(pattern, n)
		}
	}
	span.SetAttributes(
		attribute.Int("gatekeeper.rules_created", len(res.Created)),
		attribute.Int("gatekeeper.rules_retired", len(res.Retired)),
	)
	e.logger.DebugContext(ctx, "Learner pass complete",
		"step", step,
		"created", len(res.Created),
		"refreshed", len(res.Refreshed),
		"retired", len(res.Retired),
		"failures", res.Failures,
	)
	return res, nil
}

// Maintain runs both passes at the current step regardless of the
// configured intervals.
func (e *Engine) Maintain(ctx context.Context) (autotune.Result, learner.Result, error) {
	step, err := e.backend.CurrentStep(ctx)
	if err != nil {
		return autotune.Result{}, learner.Result{}, fmt.Errorf("failed to read step counter: %w", err)
	}

	tuned, err := e.Tune(ctx, step)
	if err != nil {
		return tuned, learner.Result{}, err
	}
	learned, err := e.Learn(ctx, step)
	return tuned, learned, err
}

// LogReport writes one "Pattern report" log entry per persisted pattern.
func (e *Engine) LogReport(ctx context.Context) error {
	r, err := e.Report(ctx)
	if err != nil {
		e.logger.WarnContext(ctx, "Failed to build report", "error", err)
		return err
	}
	for _, p := range r.Patterns {
		e.logger.InfoContext(ctx, "Pattern report",
			"step", r.Step,
			"pattern", p.Pattern,
			"phase", p.Phase,
			"threshold", p.Threshold,
			"fp_rate", p.FPRate,
			"roi", p.ROI,
			"active_rules", p.ActiveRules,
		)
	}
	return nil
}
