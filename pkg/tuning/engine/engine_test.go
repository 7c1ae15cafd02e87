package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"mercator-hq/gatekeeper/pkg/tuning"
	"mercator-hq/gatekeeper/pkg/tuning/detector"
	"mercator-hq/gatekeeper/pkg/tuning/storage"
)

// hit matches windowDetector, miss does not.
var (
	hit  = tuning.Context{RecentWindow: []json.RawMessage{json.RawMessage(`{"tool":"retry"}`)}}
	miss = tuning.Context{}
)

// windowDetector matches whenever the context carries a recent window.
var windowDetector = detector.Func(func(ctx context.Context, in detector.Input) (detector.Match, error) {
	return detector.Match{Matched: len(in.Window()) > 0, Score: float64(len(in.Window()))}, nil
})

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Retry = storage.RetryPolicy{MaxAttempts: 5, MinBackoff: 0, MaxBackoff: time.Millisecond}
	cfg.Tuning.Retry = cfg.Retry
	cfg.Learner.Retry = cfg.Retry
	return cfg
}

type harness struct {
	engine  *Engine
	backend storage.Backend
	metrics *Metrics
	logs    *bytes.Buffer
}

func newHarness(t *testing.T, backend storage.Backend) *harness {
	t.Helper()
	logs := &bytes.Buffer{}
	logger := slog.New(slog.NewTextHandler(logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	metrics := NewMetrics(prometheus.NewRegistry(), "test")

	e, err := New(testConfig(), backend, WithLogger(logger), WithMetrics(metrics))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if err := e.Register(Pattern{Name: "p", Detector: windowDetector, Remediation: "stop retrying"}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	return &harness{engine: e, backend: backend, metrics: metrics, logs: logs}
}

func (h *harness) eval(t *testing.T, c tuning.Context) tuning.Decision {
	t.Helper()
	return h.engine.Evaluate(context.Background(), "p", c)
}

// advanceTo issues non-matching calls until the step counter reaches step.
func (h *harness) advanceTo(t *testing.T, step int64) {
	t.Helper()
	for {
		cur, err := h.backend.CurrentStep(context.Background())
		if err != nil {
			t.Fatalf("CurrentStep failed: %v", err)
		}
		if cur >= step {
			if cur > step {
				t.Fatalf("Step counter at %d, past %d", cur, step)
			}
			return
		}
		h.eval(t, miss)
	}
}

func (h *harness) state(t *testing.T) *tuning.PatternState {
	t.Helper()
	s, err := h.backend.Load(context.Background(), "p")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	return s
}

func with(c tuning.Context, override, comply bool) tuning.Context {
	c.OverrideSignal = override
	c.ComplianceSignal = comply
	return c
}

func TestEvaluate_FirstMatchObserves(t *testing.T) {
	h := newHarness(t, storage.NewMemoryBackend())

	d := h.eval(t, hit)
	if d.Action != tuning.ActionAllow || d.Phase != tuning.PhaseObserve {
		t.Errorf("Expected ALLOW in OBSERVE, got %+v", d)
	}
	if d.Step != 1 {
		t.Errorf("Expected step 1, got %d", d.Step)
	}
	if d.Remediation != "" {
		t.Errorf("OBSERVE must not carry remediation, got %q", d.Remediation)
	}

	s := h.state(t)
	if s.Detections != 1 || s.Phase != tuning.PhaseObserve || s.Threshold != 3 {
		t.Errorf("Unexpected state after first match: %+v", s)
	}
}

func TestEvaluate_Lifecycle(t *testing.T) {
	h := newHarness(t, storage.NewMemoryBackend())

	// 20 detections, 8 compliant.
	for i := 0; i < 20; i++ {
		h.eval(t, with(hit, false, i < 8))
	}
	h.advanceTo(t, 49)
	if s := h.state(t); s.Phase != tuning.PhaseObserve {
		t.Fatalf("Transitioned before the tuning pass: %s", s.Phase)
	}
	h.advanceTo(t, 50)
	s := h.state(t)
	if s.Phase != tuning.PhaseWarn || s.LastTransitionAt != 50 {
		t.Fatalf("Expected WARN at step 50, got %s at %d", s.Phase, s.LastTransitionAt)
	}

	// In WARN: 10 detections, 1 override, 4 compliances. fp 0.10, roi 4.0.
	for i := 0; i < 10; i++ {
		d := h.eval(t, with(hit, i == 0, i >= 6))
		if d.Action != tuning.ActionWarn || d.Remediation != "stop retrying" {
			t.Fatalf("Expected WARN with remediation, got %+v", d)
		}
	}
	h.advanceTo(t, 100)
	s = h.state(t)
	if s.Phase != tuning.PhaseEnforce || s.LastTransitionAt != 100 {
		t.Fatalf("Expected ENFORCE at step 100, got %s at %d", s.Phase, s.LastTransitionAt)
	}

	// In ENFORCE: 10 detections, 2 overrides. fp 0.20 over the backtrack window.
	var blocked, allowed int
	for i := 0; i < 10; i++ {
		d := h.eval(t, with(hit, i%5 == 0, false))
		switch d.Action {
		case tuning.ActionBlock:
			blocked++
		case tuning.ActionAllow:
			allowed++
		}
	}
	if blocked != 8 || allowed != 2 {
		t.Errorf("Expected 8 blocks and 2 overridden allows, got %d and %d", blocked, allowed)
	}
	h.advanceTo(t, 150)
	s = h.state(t)
	if s.Phase != tuning.PhaseWarn || s.LastTransitionAt != 150 {
		t.Fatalf("Expected backtrack to WARN at step 150, got %s at %d", s.Phase, s.LastTransitionAt)
	}
	if s.Blocked != 8 || s.Overrides != 3 || s.Detections != 40 {
		t.Errorf("Unexpected counters: detections=%d overrides=%d blocked=%d", s.Detections, s.Overrides, s.Blocked)
	}

	var phases []string
	for _, a := range s.AdjustmentHistory {
		if a.Field == tuning.FieldPhase {
			phases = append(phases, a.OldValue+"->"+a.NewValue)
		}
	}
	want := []string{"OBSERVE->WARN", "WARN->ENFORCE", "ENFORCE->WARN"}
	if !reflect.DeepEqual(phases, want) {
		t.Errorf("Phase history = %v, want %v", phases, want)
	}

	events, err := h.backend.ListOverrides(context.Background(), "p", 0)
	if err != nil {
		t.Fatalf("ListOverrides failed: %v", err)
	}
	if len(events) != 3 {
		t.Errorf("Expected 3 override events, got %d", len(events))
	}

	if got := testutil.ToFloat64(h.metrics.transitions.WithLabelValues("p", "ENFORCE", "WARN")); got != 1 {
		t.Errorf("Expected one backtrack transition metric, got %v", got)
	}
	if got := testutil.ToFloat64(h.metrics.phaseGauge.WithLabelValues("p")); got != 1 {
		t.Errorf("Expected phase gauge 1 (WARN), got %v", got)
	}
}

func TestEvaluate_ExceptionRuleShortCircuits(t *testing.T) {
	backend := storage.NewMemoryBackend()
	ctx := context.Background()
	warn := tuning.NewPatternState("p", 3)
	warn.Phase = tuning.PhaseWarn
	if err := backend.Save(ctx, warn); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	h := newHarness(t, backend)

	for i := 0; i < 10; i++ {
		c := with(hit, true, false)
		c.FreeText = fmt.Sprintf("manual deploy hotfix approved oncall ticket %d", 100+i)
		h.eval(t, c)
	}
	h.advanceTo(t, 100)

	rules, err := backend.ListRules(ctx, "p")
	if err != nil {
		t.Fatalf("ListRules failed: %v", err)
	}
	if len(rules) != 1 {
		t.Fatalf("Expected one synthesized rule, got %d", len(rules))
	}

	before := h.state(t).Detections
	c := hit
	c.FreeText = "Oncall approved the manual hotfix deploy, ticket 999"
	d := h.eval(t, c)
	if d.Action != tuning.ActionAllow || d.MatchedRuleID != rules[0].ID {
		t.Fatalf("Expected ALLOW via rule %s, got %+v", rules[0].ID, d)
	}
	if after := h.state(t).Detections; after != before {
		t.Errorf("Rule match changed detections: %d -> %d", before, after)
	}

	rules, _ = backend.ListRules(ctx, "p")
	if rules[0].LastMatchedAt != d.Step {
		t.Errorf("Expected LastMatchedAt %d, got %d", d.Step, rules[0].LastMatchedAt)
	}
	if got := testutil.ToFloat64(h.metrics.ruleMatches.WithLabelValues("p")); got != 1 {
		t.Errorf("Expected one rule match metric, got %v", got)
	}

	// Unrelated text still reaches the detector.
	c.FreeText = "routine change"
	if d := h.eval(t, c); d.MatchedRuleID != "" {
		t.Errorf("Unrelated context matched rule %s", d.MatchedRuleID)
	}
}

func TestEvaluate_CorruptStateRecovers(t *testing.T) {
	dir := t.TempDir()
	backend, err := storage.NewFileBackend(dir)
	if err != nil {
		t.Fatalf("NewFileBackend failed: %v", err)
	}
	ctx := context.Background()
	enforce := tuning.NewPatternState("p", 7)
	enforce.Phase = tuning.PhaseEnforce
	if err := backend.Save(ctx, enforce); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "states", "p.json"), []byte(`{"pattern":"p","phase":"ENF`), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	h := newHarness(t, backend)
	d := h.eval(t, hit)
	if d.Action != tuning.ActionAllow || d.Phase != tuning.PhaseObserve {
		t.Errorf("Expected ALLOW in OBSERVE after recovery, got %+v", d)
	}

	s := h.state(t)
	if s.Phase != tuning.PhaseObserve || s.Threshold != 1 || s.Detections != 1 {
		t.Errorf("Expected reinitialized state at minimum threshold, got %+v", s)
	}
	if !strings.Contains(h.logs.String(), "Discarding corrupt pattern state") {
		t.Errorf("Expected anomaly in log, got %q", h.logs.String())
	}
	if got := testutil.ToFloat64(h.metrics.corruptRecovered.WithLabelValues("p")); got != 1 {
		t.Errorf("Expected one corrupt recovery, got %v", got)
	}
}

func TestEvaluate_NoMatchIsIdempotent(t *testing.T) {
	h := newHarness(t, storage.NewMemoryBackend())

	for i := 0; i < 5; i++ {
		if d := h.eval(t, miss); d.Action != tuning.ActionAllow || d.Reason != "no match" {
			t.Fatalf("Expected ALLOW no match, got %+v", d)
		}
	}
	if _, err := h.backend.Load(context.Background(), "p"); !errors.Is(err, tuning.ErrNotFound) {
		t.Fatalf("No-match calls must not create state, got %v", err)
	}

	h.eval(t, with(hit, false, true))
	before := h.state(t)
	for i := 0; i < 20; i++ {
		h.eval(t, with(miss, true, true))
	}
	after := h.state(t)
	if !reflect.DeepEqual(before, after) {
		t.Errorf("No-match calls changed state:\nbefore %+v\nafter  %+v", before, after)
	}
}

func TestEvaluate_DetectorFailures(t *testing.T) {
	tests := []struct {
		name string
		det  detector.Detector
	}{
		{"error", detector.Func(func(context.Context, detector.Input) (detector.Match, error) {
			return detector.Match{Matched: true}, errors.New("boom")
		})},
		{"panic", detector.Func(func(context.Context, detector.Input) (detector.Match, error) {
			panic("detector bug")
		})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := storage.NewMemoryBackend()
			metrics := NewMetrics(prometheus.NewRegistry(), "test")
			e, err := New(testConfig(), backend, WithMetrics(metrics), WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
			if err != nil {
				t.Fatalf("New failed: %v", err)
			}
			e.Register(Pattern{Name: "p", Detector: tt.det})

			d := e.Evaluate(context.Background(), "p", hit)
			if d.Action != tuning.ActionAllow || d.Reason != "no match" {
				t.Errorf("Expected failure to read as no match, got %+v", d)
			}
			if got := testutil.ToFloat64(metrics.detectorFailures.WithLabelValues("p")); got != 1 {
				t.Errorf("Expected one detector failure, got %v", got)
			}
			if _, err := backend.Load(context.Background(), "p"); !errors.Is(err, tuning.ErrNotFound) {
				t.Errorf("Detector failure must not create state")
			}
		})
	}
}

func TestEvaluate_UnknownPattern(t *testing.T) {
	h := newHarness(t, storage.NewMemoryBackend())
	d := h.engine.Evaluate(context.Background(), "nope", hit)
	if d.Action != tuning.ActionAllow || d.Reason != "unknown pattern" {
		t.Errorf("Expected ALLOW for unknown pattern, got %+v", d)
	}
	if step, _ := h.backend.CurrentStep(context.Background()); step != 0 {
		t.Errorf("Unknown pattern must not advance the step, got %d", step)
	}
}

// conflictBackend loses every write race.
type conflictBackend struct {
	storage.Backend
	saves int
}

func (c *conflictBackend) Save(ctx context.Context, s *tuning.PatternState) error {
	c.saves++
	return fmt.Errorf("save: %w", tuning.ErrConflict)
}

func TestEvaluate_DropsUpdateAfterRetries(t *testing.T) {
	inner := storage.NewMemoryBackend()
	enforce := tuning.NewPatternState("p", 3)
	enforce.Phase = tuning.PhaseEnforce
	if err := inner.Save(context.Background(), enforce); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	backend := &conflictBackend{Backend: inner}
	h := newHarness(t, backend)

	d := h.eval(t, hit)
	if d.Action != tuning.ActionBlock || d.Phase != tuning.PhaseEnforce {
		t.Errorf("Expected BLOCK from the in-memory copy, got %+v", d)
	}
	if backend.saves != 5 {
		t.Errorf("Expected 5 save attempts, got %d", backend.saves)
	}
	if got := testutil.ToFloat64(h.metrics.droppedUpdates.WithLabelValues("p")); got != 1 {
		t.Errorf("Expected one dropped update, got %v", got)
	}
	if got := testutil.ToFloat64(h.metrics.writeConflicts.WithLabelValues("p")); got != 4 {
		t.Errorf("Expected 4 retried conflicts, got %v", got)
	}
	if s, _ := inner.Load(context.Background(), "p"); s.Detections != 0 {
		t.Errorf("Dropped update reached storage: %+v", s)
	}
}

// panicBackend panics on Load.
type panicBackend struct {
	storage.Backend
}

func (panicBackend) Load(context.Context, string) (*tuning.PatternState, error) {
	panic("disk on fire")
}

// stepFailBackend cannot advance the step counter.
type stepFailBackend struct {
	storage.Backend
}

func (stepFailBackend) NextStep(context.Context) (int64, error) {
	return 0, errors.New("read-only filesystem")
}

func TestEvaluate_FailsOpen(t *testing.T) {
	t.Run("panic", func(t *testing.T) {
		h := newHarness(t, panicBackend{storage.NewMemoryBackend()})
		d := h.eval(t, hit)
		if d.Action != tuning.ActionAllow {
			t.Errorf("Expected ALLOW after internal panic, got %+v", d)
		}
		if !strings.Contains(h.logs.String(), "Evaluate panicked") {
			t.Errorf("Expected panic to be logged")
		}
	})

	t.Run("step counter", func(t *testing.T) {
		h := newHarness(t, stepFailBackend{storage.NewMemoryBackend()})
		d := h.eval(t, hit)
		if d.Action != tuning.ActionAllow || d.Step != 0 {
			t.Errorf("Expected ALLOW at step 0, got %+v", d)
		}
		if h.state(t).Detections != 1 {
			t.Errorf("Expected the detection to persist without a step")
		}
	})
}

func TestEvaluate_OverrideEventIsRedacted(t *testing.T) {
	backend := storage.NewMemoryBackend()
	ctx := context.Background()
	warn := tuning.NewPatternState("p", 3)
	warn.Phase = tuning.PhaseWarn
	backend.Save(ctx, warn)

	redact := func(s string) string { return strings.ReplaceAll(s, "alice@example.com", "[EMAIL]") }
	e, err := New(testConfig(), backend,
		WithRedactor(redact),
		WithClock(func() time.Time { return time.Date(2026, 5, 1, 12, 0, 0, 0, time.FixedZone("X", 3600)) }),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	e.Register(Pattern{Name: "p", Detector: windowDetector})

	c := with(hit, true, false)
	c.FreeText = "approved by alice@example.com"
	c.OverrideReason = "alice@example.com said so"
	if d := e.Evaluate(ctx, "p", c); d.Action != tuning.ActionWarn {
		t.Fatalf("Expected WARN, got %+v", d)
	}

	events, _ := backend.ListOverrides(ctx, "p", 0)
	if len(events) != 1 {
		t.Fatalf("Expected one event, got %d", len(events))
	}
	ev := events[0]
	if ev.ContextExcerpt != "approved by [EMAIL]" || ev.Reason != "[EMAIL] said so" {
		t.Errorf("Expected redacted event, got %+v", ev)
	}
	if ev.ContextFingerprint == "" || ev.Step != 1 || ev.Timestamp.Location() != time.UTC {
		t.Errorf("Unexpected event metadata: %+v", ev)
	}
}

func TestEvaluate_ConcurrentProcesses(t *testing.T) {
	dir := t.TempDir()
	metrics := NewMetrics(prometheus.NewRegistry(), "test")
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))

	const workers, calls = 6, 10
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		backend, err := storage.NewFileBackend(dir)
		if err != nil {
			t.Fatalf("NewFileBackend failed: %v", err)
		}
		e, err := New(testConfig(), backend, WithMetrics(metrics), WithLogger(quiet))
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		e.Register(Pattern{Name: "p", Detector: windowDetector})

		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < calls; i++ {
				e.Evaluate(context.Background(), "p", hit)
			}
		}()
	}
	wg.Wait()

	backend, _ := storage.NewFileBackend(dir)
	s, err := backend.Load(context.Background(), "p")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	dropped := testutil.ToFloat64(metrics.droppedUpdates.WithLabelValues("p"))
	if got := float64(s.Detections) + dropped; got != workers*calls {
		t.Errorf("detections %d + dropped %v != %d", s.Detections, dropped, workers*calls)
	}
	if step, _ := backend.CurrentStep(context.Background()); step != workers*calls {
		t.Errorf("Expected step %d, got %d", workers*calls, step)
	}
}

func TestEngine_RegisterValidation(t *testing.T) {
	e, err := New(testConfig(), storage.NewMemoryBackend())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	tests := []struct {
		name    string
		pattern Pattern
		wantErr bool
	}{
		{"valid", Pattern{Name: "a", Detector: windowDetector}, false},
		{"duplicate", Pattern{Name: "a", Detector: windowDetector}, true},
		{"empty name", Pattern{Detector: windowDetector}, true},
		{"no detector", Pattern{Name: "b"}, true},
		{"bad band", Pattern{Name: "c", Detector: windowDetector, Threshold: &tuning.Band{Initial: 20, Min: 1, Max: 10}}, true},
		{"own band", Pattern{Name: "d", Detector: windowDetector, Threshold: &tuning.Band{Initial: 2, Min: 2, Max: 4}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := e.Register(tt.pattern)
			if (err != nil) != tt.wantErr {
				t.Errorf("Register() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}

	if got := e.Patterns(); !reflect.DeepEqual(got, []string{"a", "d"}) {
		t.Errorf("Patterns() = %v", got)
	}
	if b := e.band("d"); b.Min != 2 || b.Max != 4 {
		t.Errorf("Expected per-pattern band, got %+v", b)
	}
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	if _, err := New(testConfig(), nil); err == nil {
		t.Error("Expected error for nil backend")
	}

	mutations := map[string]func(*Config){
		"zero interval":          func(c *Config) { c.Tuning.Interval = 0 },
		"window below backtrack": func(c *Config) { c.Tuning.MetricsWindow = 5 },
		"floor above ceiling":    func(c *Config) { c.Tuning.FPFloor = 0.5 },
		"tiny cluster":           func(c *Config) { c.Learner.MinClusterSize = 1 },
		"no attempts":            func(c *Config) { c.Retry.MaxAttempts = 0 },
		"inverted backoff":       func(c *Config) { c.Retry.MinBackoff = time.Second },
		"bad band":               func(c *Config) { c.Threshold.Min = 0 },
	}
	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			cfg := testConfig()
			mutate(&cfg)
			if _, err := New(cfg, storage.NewMemoryBackend()); err == nil {
				t.Error("Expected validation error")
			}
		})
	}
}

func TestEvaluate_CorruptStepCounterKeepsTuning(t *testing.T) {
	dir := t.TempDir()
	backend, err := storage.NewFileBackend(dir)
	if err != nil {
		t.Fatalf("NewFileBackend failed: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "step"), []byte("garbage"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	h := newHarness(t, backend)

	for i := 0; i < 20; i++ {
		if d := h.eval(t, with(hit, false, true)); d.Step != int64(i+1) {
			t.Fatalf("Expected step %d, got %d", i+1, d.Step)
		}
	}
	h.advanceTo(t, 50)

	s := h.state(t)
	if s.Phase != tuning.PhaseWarn || s.LastTunedAt != 50 || s.LastTransitionAt != 50 {
		t.Errorf("Expected the tuning pass at step 50 to reach WARN, got %s tuned=%d transition=%d",
			s.Phase, s.LastTunedAt, s.LastTransitionAt)
	}
}

func TestEvaluate_CorruptRuleSetIsRelearned(t *testing.T) {
	dir := t.TempDir()
	backend, err := storage.NewFileBackend(dir)
	if err != nil {
		t.Fatalf("NewFileBackend failed: %v", err)
	}
	ctx := context.Background()
	warn := tuning.NewPatternState("p", 3)
	warn.Phase = tuning.PhaseWarn
	if err := backend.Save(ctx, warn); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "rules", "p.json"), []byte("{not json"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	h := newHarness(t, backend)

	for i := 0; i < 10; i++ {
		c := with(hit, true, false)
		c.FreeText = fmt.Sprintf("manual deploy hotfix approved oncall ticket %d", 100+i)
		h.eval(t, c)
	}
	h.advanceTo(t, 100)

	rules, err := backend.ListRules(ctx, "p")
	if err != nil {
		t.Fatalf("ListRules failed: %v", err)
	}
	if len(rules) != 1 {
		t.Fatalf("Expected one synthesized rule after discarding the corrupt set, got %d", len(rules))
	}
	if strings.Contains(h.logs.String(), "Failed to list exception rules") {
		t.Errorf("Rule lookups kept failing: %q", h.logs.String())
	}
}

// racingBackend lets another writer move the stored state to ENFORCE just
// before the first save, which then loses the version race.
type racingBackend struct {
	storage.Backend
	raced bool
}

func (r *racingBackend) Save(ctx context.Context, s *tuning.PatternState) error {
	if r.raced {
		return r.Backend.Save(ctx, s)
	}
	r.raced = true
	cur, err := r.Backend.Load(ctx, s.Pattern)
	if err != nil {
		return err
	}
	cur.Phase = tuning.PhaseEnforce
	if err := r.Backend.Save(ctx, cur); err != nil {
		return err
	}
	return fmt.Errorf("save: %w", tuning.ErrConflict)
}

func TestEvaluate_VerdictFollowsReloadedPhase(t *testing.T) {
	inner := storage.NewMemoryBackend()
	warn := tuning.NewPatternState("p", 3)
	warn.Phase = tuning.PhaseWarn
	if err := inner.Save(context.Background(), warn); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	h := newHarness(t, &racingBackend{Backend: inner})

	d := h.eval(t, hit)
	if d.Action != tuning.ActionBlock || d.Phase != tuning.PhaseEnforce {
		t.Errorf("Expected BLOCK in ENFORCE from the reloaded state, got %+v", d)
	}

	s, err := inner.Load(context.Background(), "p")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if s.Blocked != 1 || s.Detections != 1 {
		t.Errorf("Unexpected counters: detections=%d blocked=%d", s.Detections, s.Blocked)
	}
	if len(s.Recent) != 1 || s.Recent[0].Phase != tuning.PhaseEnforce {
		t.Errorf("Expected the outcome recorded in ENFORCE, got %+v", s.Recent)
	}
}
