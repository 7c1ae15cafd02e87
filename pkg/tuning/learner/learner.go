package learner

import (
	"context"
	"fmt"
	"log/slog"
	"slices"

	"github.com/google/uuid"

	"mercator-hq/gatekeeper/pkg/tuning"
	"mercator-hq/gatekeeper/pkg/tuning/storage"
)

// Config controls the meta-learner.
type Config struct {
	// Interval is the number of global steps between passes.
	// Default: 100
	Interval int64

	// Window caps the override events considered per pattern.
	// Default: 500
	Window int

	// MinClusterSize is the support a cluster needs to become a rule.
	// Default: 10
	MinClusterSize int

	// SimilarityThreshold is the Jaccard similarity to a cluster seed an
	// event needs to join the cluster.
	// Default: 0.70
	SimilarityThreshold float64

	// ConfidenceFloor is the mean pairwise similarity a cluster needs to
	// become a rule.
	// Default: 0.70
	ConfidenceFloor float64

	// StalenessWindow is the number of steps without a match after which a
	// rule is retired.
	// Default: 500
	StalenessWindow int64

	// Retry bounds read-modify-write retries on rules.
	Retry storage.RetryPolicy
}

// DefaultConfig returns the default learner configuration.
func DefaultConfig() Config {
	return Config{
		Interval:            100,
		Window:              500,
		MinClusterSize:      10,
		SimilarityThreshold: 0.70,
		ConfidenceFloor:     0.70,
		StalenessWindow:     500,
		Retry:               storage.DefaultRetryPolicy(),
	}
}

// Result summarizes a learner pass.
type Result struct {
	Step        int64
	Patterns    int
	Created     []*tuning.ExceptionRule
	Refreshed   []*tuning.ExceptionRule
	Retired     []*tuning.ExceptionRule
	Suppressed  int
	ActiveRules map[string]int
	Failures    int
}

// Learner turns recurring overrides into exception rules.
type Learner struct {
	cfg     Config
	backend storage.Backend
	logger  *slog.Logger
	newID   func() string
}

// New creates a learner.
func New(cfg Config, backend storage.Backend, logger *slog.Logger) *Learner {
	if logger == nil {
		logger = slog.Default().With("component", "learner")
	}
	return &Learner{
		cfg:     cfg,
		backend: backend,
		logger:  logger,
		newID:   uuid.NewString,
	}
}

// Due reports whether a pass should run at step.
func (l *Learner) Due(step int64) bool {
	return l.cfg.Interval > 0 && step > 0 && step%l.cfg.Interval == 0
}

// Pass retires stale rules and synthesizes or refreshes rules from the
// override ledger of every persisted pattern.
func (l *Learner) Pass(ctx context.Context, step int64) (Result, error) {
	res := Result{Step: step, ActiveRules: make(map[string]int)}

	patterns, err := l.backend.ListPatterns(ctx)
	if err != nil {
		return res, fmt.Errorf("failed to list patterns: %w", err)
	}
	res.Patterns = len(patterns)

	for _, name := range patterns {
		if err := l.learnPattern(ctx, name, step, &res); err != nil {
			res.Failures++
			l.logger.Warn("Learner pass failed for pattern", "pattern", name, "step", step, "error", err)
		}
	}
	return res, nil
}

func (l *Learner) learnPattern(ctx context.Context, pattern string, step int64, res *Result) error {
	rules, err := l.backend.ListRules(ctx, pattern)
	if err != nil {
		return fmt.Errorf("list rules: %w", err)
	}

	for _, r := range rules {
		if r.Retired || step-r.LastActivity() < l.cfg.StalenessWindow {
			continue
		}
		var retired *tuning.ExceptionRule
		err := storage.MutateRule(ctx, l.backend, l.cfg.Retry, pattern, r.ID, func(cur *tuning.ExceptionRule) bool {
			if cur.Retired || step-cur.LastActivity() < l.cfg.StalenessWindow {
				return false
			}
			cur.Retired = true
			cur.RetiredAt = step
			retired = cur
			return true
		})
		if err != nil {
			return fmt.Errorf("retire rule %s: %w", r.ID, err)
		}
		if retired != nil {
			r.Retired, r.RetiredAt, r.Version = true, step, retired.Version
			res.Retired = append(res.Retired, retired)
			l.logger.Info("Retired stale exception rule",
				"pattern", pattern,
				"rule_id", r.ID,
				"last_activity", r.LastActivity(),
				"step", step,
			)
		}
	}

	events, err := l.backend.ListOverrides(ctx, pattern, l.cfg.Window)
	if err != nil {
		return fmt.Errorf("list overrides: %w", err)
	}

	for _, c := range ClusterEvents(events, l.cfg.SimilarityThreshold) {
		if c.Support() < l.cfg.MinClusterSize || c.Confidence < l.cfg.ConfidenceFloor || len(c.Shared) == 0 {
			continue
		}
		predicate := c.Shared.Sorted()

		active, retired := findByPredicate(rules, predicate)
		switch {
		case active != nil:
			if active.SupportCount == c.Support() && active.Confidence == c.Confidence {
				continue
			}
			var refreshed *tuning.ExceptionRule
			err := storage.MutateRule(ctx, l.backend, l.cfg.Retry, pattern, active.ID, func(cur *tuning.ExceptionRule) bool {
				cur.SupportCount = c.Support()
				cur.Confidence = c.Confidence
				refreshed = cur
				return true
			})
			if err != nil {
				return fmt.Errorf("refresh rule %s: %w", active.ID, err)
			}
			res.Refreshed = append(res.Refreshed, refreshed)

		case retired != nil && c.Newest() <= retired.RetiredAt:
			// No evidence newer than the retirement.
			res.Suppressed++

		default:
			rule := &tuning.ExceptionRule{
				ID:               l.newID(),
				Pattern:          pattern,
				PredicateSummary: predicate,
				SupportCount:     c.Support(),
				Confidence:       c.Confidence,
				CreatedAt:        step,
			}
			if err := l.backend.UpsertRule(ctx, rule); err != nil {
				return fmt.Errorf("create rule: %w", err)
			}
			rules = append(rules, rule)
			res.Created = append(res.Created, rule)
			l.logger.Info("Synthesized exception rule",
				"pattern", pattern,
				"rule_id", rule.ID,
				"predicate", predicate,
				"support", rule.SupportCount,
				"confidence", rule.Confidence,
				"step", step,
			)
		}
	}

	for _, r := range rules {
		if !r.Retired {
			res.ActiveRules[pattern]++
		}
	}
	return nil
}

// findByPredicate returns the active rule and the most recently retired rule
// whose predicate equals predicate.
func findByPredicate(rules []*tuning.ExceptionRule, predicate []string) (active, retired *tuning.ExceptionRule) {
	for _, r := range rules {
		if !slices.Equal(r.PredicateSummary, predicate) {
			continue
		}
		if !r.Retired {
			if active == nil {
				active = r
			}
			continue
		}
		if retired == nil || r.RetiredAt > retired.RetiredAt {
			retired = r
		}
	}
	return active, retired
}
