package engine

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"mercator-hq/gatekeeper/pkg/tuning"
	"mercator-hq/gatekeeper/pkg/tuning/detector"
	"mercator-hq/gatekeeper/pkg/tuning/storage"
)

// Evaluate decides what to do about pattern name given c. It never fails:
// every internal error resolves to a valid Decision, ALLOW when nothing
// better is known.
func (e *Engine) Evaluate(ctx context.Context, name string, c tuning.Context) (d tuning.Decision) {
	start := time.Now()
	ctx, span := e.tracer.Start(ctx, "gatekeeper.evaluate",
		trace.WithAttributes(attribute.String("gatekeeper.pattern", name)),
	)

	defer func() {
		if r := recover(); r != nil {
			e.logger.ErrorContext(ctx, "Evaluate panicked, failing open", "pattern", name, "panic", r)
			span.SetStatus(codes.Error, "panic")
			d = tuning.Decision{Action: tuning.ActionAllow, Reason: "internal error, failing open", Phase: d.Phase, Step: d.Step}
		}
		span.SetAttributes(
			attribute.String("gatekeeper.action", string(d.Action)),
			attribute.String("gatekeeper.phase", string(d.Phase)),
			attribute.Int64("gatekeeper.step", d.Step),
		)
		if d.MatchedRuleID != "" {
			span.SetAttributes(attribute.String("gatekeeper.rule_id", d.MatchedRuleID))
		}
		span.End()
		if e.metrics != nil {
			e.metrics.RecordDecision(name, d, time.Since(start).Seconds())
		}
	}()

	p, ok := e.pattern(name)
	if !ok {
		e.logger.WarnContext(ctx, "Evaluate called for unknown pattern", "pattern", name)
		return tuning.Decision{Action: tuning.ActionAllow, Reason: "unknown pattern"}
	}

	step, err := e.backend.NextStep(ctx)
	if err != nil {
		e.logger.ErrorContext(ctx, "Failed to advance step counter", "pattern", name, "error", err)
		step = 0
	}

	d = e.decide(ctx, p, c, step)
	e.maintain(ctx, step)
	return d
}

// decide runs the evaluate pipeline for one step and persists its effects.
func (e *Engine) decide(ctx context.Context, p Pattern, c tuning.Context, step int64) tuning.Decision {
	state := e.loadState(ctx, p.Name)

	tokens := tuning.Tokenize(e.excerpt(c.FreeText))
	if rule := e.matchRule(ctx, p.Name, tokens); rule != nil {
		e.touchRule(ctx, rule, step)
		return tuning.Decision{
			Action:        tuning.ActionAllow,
			Reason:        "exception rule matched",
			MatchedRuleID: rule.ID,
			Phase:         state.Phase,
			Step:          step,
		}
	}

	match, err := detector.Invoke(ctx, p.Detector, detector.Input{Context: c, Threshold: state.Threshold})
	if err != nil {
		e.logger.WarnContext(ctx, "Detector failed, treating as no match", "pattern", p.Name, "step", step, "error", err)
		if e.metrics != nil {
			e.metrics.RecordDetectorFailure(p.Name)
		}
	}
	if !match.Matched {
		return tuning.Decision{
			Action: tuning.ActionAllow,
			Reason: "no match",
			Phase:  state.Phase,
			Step:   step,
		}
	}

	// The verdict follows the state the write is applied to, which differs
	// from state when a conflicting writer changed the phase.
	verdict := e.machine.Decide(state.Phase, c, state.Threshold)
	decided := state.Phase

	saved, attempts, err := storage.Mutate(ctx, e.backend, e.cfg.Retry, state, func(s *tuning.PatternState) bool {
		verdict = e.machine.Decide(s.Phase, c, s.Threshold)
		decided = s.Phase

		s.Detections++
		if c.ComplianceSignal {
			s.Compliances++
		}
		if verdict.Overridden {
			s.Overrides++
		}
		if verdict.Action == tuning.ActionBlock {
			s.Blocked++
		}
		s.RecordOutcome(tuning.Outcome{
			Step:       step,
			Phase:      decided,
			Overridden: verdict.Overridden,
			Complied:   c.ComplianceSignal,
		}, e.cfg.Tuning.MetricsWindow)
		return true
	})
	if e.metrics != nil {
		e.metrics.RecordWriteConflicts(p.Name, attempts-1)
	}
	if err != nil {
		e.logger.WarnContext(ctx, "Dropped state update", "pattern", p.Name, "step", step, "attempts", attempts, "error", err)
		if e.metrics != nil {
			e.metrics.RecordDroppedUpdate(p.Name)
		}
	} else if e.metrics != nil {
		e.metrics.UpdatePatternState(saved)
	}

	if verdict.Overridden {
		e.recordOverride(ctx, p.Name, c, step)
	}

	d := tuning.Decision{
		Action: verdict.Action,
		Reason: verdict.Reason,
		Phase:  decided,
		Step:   step,
	}
	if verdict.Action == tuning.ActionWarn || verdict.Action == tuning.ActionBlock {
		d.Remediation = p.Remediation
	}
	return d
}

// loadState returns the stored state of name, a fresh one when none exists,
// or a reinitialized one when the stored record is corrupt.
func (e *Engine) loadState(ctx context.Context, name string) *tuning.PatternState {
	band := e.band(name)

	s, err := e.backend.Load(ctx, name)
	switch {
	case err == nil:
		return s
	case errors.Is(err, tuning.ErrNotFound):
		return tuning.NewPatternState(name, band.Initial)
	case errors.Is(err, tuning.ErrCorruptState):
		return e.recoverCorrupt(ctx, name, band, err)
	default:
		e.logger.ErrorContext(ctx, "Failed to load pattern state, using defaults", "pattern", name, "error", err)
		return tuning.NewPatternState(name, band.Initial)
	}
}

// recoverCorrupt discards a corrupt record and persists a safe replacement
// in OBSERVE at the minimum threshold.
func (e *Engine) recoverCorrupt(ctx context.Context, name string, band tuning.Band, cause error) *tuning.PatternState {
	e.logger.ErrorContext(ctx, "Discarding corrupt pattern state", "pattern", name, "error", cause)
	if e.metrics != nil {
		e.metrics.RecordCorruptRecovery(name)
	}

	fresh := tuning.NewPatternState(name, band.Min)
	if err := e.backend.Delete(ctx, name); err != nil && !errors.Is(err, tuning.ErrNotFound) {
		e.logger.ErrorContext(ctx, "Failed to delete corrupt pattern state", "pattern", name, "error", err)
		return fresh
	}

	saved, _, err := storage.Mutate(ctx, e.backend, e.cfg.Retry, fresh, func(*tuning.PatternState) bool { return true })
	if err != nil {
		e.logger.WarnContext(ctx, "Failed to persist reinitialized pattern state", "pattern", name, "error", err)
		return fresh
	}
	return saved
}

// matchRule returns the first active exception rule, in creation order,
// whose predicate is contained in tokens.
func (e *Engine) matchRule(ctx context.Context, name string, tokens tuning.TokenSet) *tuning.ExceptionRule {
	if len(tokens) == 0 {
		return nil
	}
	rules, err := e.backend.ListRules(ctx, name)
	if err != nil {
		e.logger.WarnContext(ctx, "Failed to list exception rules, skipping", "pattern", name, "error", err)
		return nil
	}
	for _, r := range rules {
		if r.Matches(tokens) {
			return r
		}
	}
	return nil
}

// touchRule records that rule matched at step so it does not go stale.
func (e *Engine) touchRule(ctx context.Context, rule *tuning.ExceptionRule, step int64) {
	if step <= rule.LastMatchedAt {
		return
	}
	err := storage.MutateRule(ctx, e.backend, e.cfg.Retry, rule.Pattern, rule.ID, func(r *tuning.ExceptionRule) bool {
		if step <= r.LastMatchedAt {
			return false
		}
		r.LastMatchedAt = step
		return true
	})
	if err != nil {
		e.logger.DebugContext(ctx, "Failed to record exception rule match", "pattern", rule.Pattern, "rule_id", rule.ID, "error", err)
	}
}

// recordOverride appends an override to the ledger. Only a fingerprint and a
// redacted excerpt of the context are kept.
func (e *Engine) recordOverride(ctx context.Context, name string, c tuning.Context, step int64) {
	ev := &tuning.OverrideEvent{
		Pattern:            name,
		Step:               step,
		ContextFingerprint: fingerprint(c),
		ContextExcerpt:     e.excerpt(c.FreeText),
		Reason:             e.excerpt(c.OverrideReason),
		Timestamp:          e.now().UTC(),
	}
	if err := e.backend.AppendOverride(ctx, ev); err != nil {
		e.logger.WarnContext(ctx, "Failed to append override event", "pattern", name, "step", step, "error", err)
	}
}

func (e *Engine) excerpt(text string) string {
	return tuning.Excerpt(text, e.cfg.ExcerptLength, e.redact)
}

// fingerprint hashes the parts of c that identify the situation.
func fingerprint(c tuning.Context) string {
	raw, err := json.Marshal(struct {
		Window   []json.RawMessage `json:"recent_window"`
		FreeText string            `json:"free_text"`
	}{c.RecentWindow, c.FreeText})
	if err != nil {
		return tuning.Fingerprint(c.FreeText)
	}
	return tuning.Fingerprint(string(raw))
}
