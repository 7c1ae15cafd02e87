package engine

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"mercator-hq/gatekeeper/pkg/tuning"
	"mercator-hq/gatekeeper/pkg/tuning/autotune"
	"mercator-hq/gatekeeper/pkg/tuning/detector"
	"mercator-hq/gatekeeper/pkg/tuning/learner"
	"mercator-hq/gatekeeper/pkg/tuning/phase"
	"mercator-hq/gatekeeper/pkg/tuning/storage"
)

// Pattern is a recurring behavior the engine enforces. Patterns are
// immutable once registered.
type Pattern struct {
	// Name is the stable identifier used as the storage key.
	Name string

	// Detector recognizes the pattern.
	Detector detector.Detector

	// Remediation is shown to the caller with WARN and BLOCK decisions.
	Remediation string

	// Threshold overrides the engine's default band when set.
	Threshold *tuning.Band
}

// Engine evaluates patterns and runs the periodic maintenance passes.
type Engine struct {
	cfg     Config
	backend storage.Backend
	machine *phase.Machine
	tuner   *autotune.Tuner
	learner *learner.Learner

	mu       sync.RWMutex
	patterns map[string]Pattern

	metrics *Metrics
	tracer  trace.Tracer
	logger  *slog.Logger
	redact  func(string) string
	now     func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the side-channel logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithMetrics enables Prometheus metrics.
func WithMetrics(m *Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithTracer sets the tracer used for evaluation and maintenance spans.
func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) { e.tracer = t }
}

// WithRedactor sets the function applied to free text before it is stored
// on override events.
func WithRedactor(redact func(string) string) Option {
	return func(e *Engine) { e.redact = redact }
}

// WithClock overrides the wall clock used for override timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates an engine on backend.
func New(cfg Config, backend storage.Backend, opts ...Option) (*Engine, error) {
	if backend == nil {
		return nil, fmt.Errorf("storage backend is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid engine config: %w", err)
	}

	e := &Engine{
		cfg:      cfg,
		backend:  backend,
		machine:  phase.NewMachine(cfg.Phase),
		patterns: make(map[string]Pattern),
		tracer:   noop.NewTracerProvider().Tracer("gatekeeper"),
		logger:   slog.Default().With("component", "engine"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}

	tuneCfg := cfg.Tuning
	tuneCfg.Band = e.band
	e.tuner = autotune.NewTuner(tuneCfg, e.machine, backend, e.logger.With("pass", "tuning"))
	e.learner = learner.New(cfg.Learner, backend, e.logger.With("pass", "learner"))

	return e, nil
}

// Register adds a pattern. Registering the same name twice is an error.
func (e *Engine) Register(p Pattern) error {
	if err := tuning.ValidatePatternName(p.Name); err != nil {
		return err
	}
	if p.Detector == nil {
		return fmt.Errorf("pattern %q has no detector", p.Name)
	}
	if p.Threshold != nil {
		if err := p.Threshold.Validate(); err != nil {
			return fmt.Errorf("pattern %q: %w", p.Name, err)
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, exists := e.patterns[p.Name]; exists {
		return fmt.Errorf("pattern %q already registered", p.Name)
	}
	e.patterns[p.Name] = p
	return nil
}

// Patterns returns the registered pattern names, sorted.
func (e *Engine) Patterns() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()

	names := make([]string, 0, len(e.patterns))
	for name := range e.patterns {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Backend returns the engine's storage backend.
func (e *Engine) Backend() storage.Backend {
	return e.backend
}

// Tuner returns the engine's auto-tuner.
func (e *Engine) Tuner() *autotune.Tuner {
	return e.tuner
}

func (e *Engine) pattern(name string) (Pattern, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	p, ok := e.patterns[name]
	return p, ok
}

// band returns the threshold band of a pattern.
func (e *Engine) band(name string) tuning.Band {
	if p, ok := e.pattern(name); ok && p.Threshold != nil {
		return *p.Threshold
	}
	return e.cfg.Threshold
}
