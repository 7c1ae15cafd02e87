package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"mercator-hq/gatekeeper/pkg/tuning"
)

// MemoryBackend implements Backend using in-memory storage.
// All data is lost when the process exits. It is intended for tests and
// for embedding the engine in a long-running host process.
//
// MemoryBackend is thread-safe and supports concurrent access using sync.RWMutex.
type MemoryBackend struct {
	mu        sync.RWMutex
	states    map[string]*tuning.PatternState
	rules     map[string][]*tuning.ExceptionRule
	overrides []*tuning.OverrideEvent
	step      int64
	closed    bool
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		states: make(map[string]*tuning.PatternState),
		rules:  make(map[string][]*tuning.ExceptionRule),
	}
}

// Name implements Backend.
func (m *MemoryBackend) Name() string { return "memory" }

// Load implements Backend.
func (m *MemoryBackend) Load(ctx context.Context, pattern string) (*tuning.PatternState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if err := m.checkOpen(); err != nil {
		return nil, err
	}
	s, ok := m.states[pattern]
	if !ok {
		return nil, tuning.ErrNotFound
	}
	return s.Clone(), nil
}

// Save implements Backend.
func (m *MemoryBackend) Save(ctx context.Context, state *tuning.PatternState) error {
	if err := tuning.ValidatePatternName(state.Pattern); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkOpen(); err != nil {
		return err
	}
	var stored int64
	if cur, ok := m.states[state.Pattern]; ok {
		stored = cur.Version
	}
	if stored != state.Version {
		return fmt.Errorf("save %q: stored version %d, have %d: %w", state.Pattern, stored, state.Version, tuning.ErrConflict)
	}

	state.Version++
	m.states[state.Pattern] = state.Clone()
	return nil
}

// Delete implements Backend.
func (m *MemoryBackend) Delete(ctx context.Context, pattern string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.states, pattern)
	return nil
}

// ListPatterns implements Backend.
func (m *MemoryBackend) ListPatterns(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.states))
	for name := range m.states {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// NextStep implements Backend.
func (m *MemoryBackend) NextStep(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkOpen(); err != nil {
		return 0, err
	}
	m.step++
	return m.step, nil
}

// CurrentStep implements Backend.
func (m *MemoryBackend) CurrentStep(ctx context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if err := m.checkOpen(); err != nil {
		return 0, err
	}
	return m.step, nil
}

// AppendOverride implements Backend.
func (m *MemoryBackend) AppendOverride(ctx context.Context, event *tuning.OverrideEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkOpen(); err != nil {
		return err
	}
	ev := *event
	m.overrides = append(m.overrides, &ev)
	return nil
}

// ListOverrides implements Backend.
func (m *MemoryBackend) ListOverrides(ctx context.Context, pattern string, limit int) ([]*tuning.OverrideEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*tuning.OverrideEvent
	for _, ev := range m.overrides {
		if ev.Pattern == pattern {
			c := *ev
			out = append(out, &c)
		}
	}
	return tail(out, limit), nil
}

// ListRules implements Backend.
func (m *MemoryBackend) ListRules(ctx context.Context, pattern string) ([]*tuning.ExceptionRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*tuning.ExceptionRule, 0, len(m.rules[pattern]))
	for _, r := range m.rules[pattern] {
		out = append(out, r.Clone())
	}
	return out, nil
}

// UpsertRule implements Backend.
func (m *MemoryBackend) UpsertRule(ctx context.Context, rule *tuning.ExceptionRule) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkOpen(); err != nil {
		return err
	}
	rules, err := upsertRule(m.rules[rule.Pattern], rule)
	if err != nil {
		return err
	}
	m.rules[rule.Pattern] = rules
	return nil
}

// Close implements Backend.
func (m *MemoryBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

func (m *MemoryBackend) checkOpen() error {
	if m.closed {
		return fmt.Errorf("memory backend is closed")
	}
	return nil
}

// upsertRule applies the version check of UpsertRule to an in-memory rule
// list, returning the new list. rule.Version is bumped on success.
func upsertRule(rules []*tuning.ExceptionRule, rule *tuning.ExceptionRule) ([]*tuning.ExceptionRule, error) {
	if rule.ID == "" {
		return nil, fmt.Errorf("rule has no id")
	}
	out := make([]*tuning.ExceptionRule, len(rules))
	copy(out, rules)

	for i, r := range out {
		if r.ID != rule.ID {
			continue
		}
		if r.Version != rule.Version {
			return nil, fmt.Errorf("rule %s: stored version %d, have %d: %w", rule.ID, r.Version, rule.Version, tuning.ErrConflict)
		}
		rule.Version++
		out[i] = rule.Clone()
		return out, nil
	}

	if rule.Version != 0 {
		return nil, fmt.Errorf("rule %s: stored version 0, have %d: %w", rule.ID, rule.Version, tuning.ErrConflict)
	}
	rule.Version++
	return append(out, rule.Clone()), nil
}

// tail returns the last limit elements of events.
func tail(events []*tuning.OverrideEvent, limit int) []*tuning.OverrideEvent {
	if limit > 0 && len(events) > limit {
		return events[len(events)-limit:]
	}
	return events
}
