package engine

import (
	"fmt"

	"mercator-hq/gatekeeper/pkg/tuning"
	"mercator-hq/gatekeeper/pkg/tuning/autotune"
	"mercator-hq/gatekeeper/pkg/tuning/learner"
	"mercator-hq/gatekeeper/pkg/tuning/phase"
	"mercator-hq/gatekeeper/pkg/tuning/storage"
)

// Config gathers every engine option.
type Config struct {
	Phase   phase.Config
	Tuning  autotune.Config
	Learner learner.Config

	// Threshold is the default band for patterns without their own.
	Threshold tuning.Band

	// ReportInterval logs the report every N steps. Zero disables it.
	// Default: 500
	ReportInterval int64

	// ExcerptLength caps the redacted free text kept on override events
	// and used for exception rule matching.
	// Default: 280
	ExcerptLength int

	// Retry bounds every read-modify-write cycle.
	Retry storage.RetryPolicy
}

// DefaultConfig returns the default engine configuration.
func DefaultConfig() Config {
	retry := storage.DefaultRetryPolicy()

	tune := autotune.DefaultConfig()
	tune.Retry = retry

	learn := learner.DefaultConfig()
	learn.Retry = retry

	return Config{
		Phase:          phase.DefaultConfig(),
		Tuning:         tune,
		Learner:        learn,
		Threshold:      tuning.Band{Initial: 3, Min: 1, Max: 10},
		ReportInterval: 500,
		ExcerptLength:  280,
		Retry:          retry,
	}
}

// Validate checks the configuration for consistency.
func (c Config) Validate() error {
	if err := c.Phase.Validate(); err != nil {
		return fmt.Errorf("phase: %w", err)
	}
	if err := c.Threshold.Validate(); err != nil {
		return fmt.Errorf("threshold: %w", err)
	}
	if c.Tuning.Interval < 1 || c.Learner.Interval < 1 {
		return fmt.Errorf("tuning_interval and learner_interval must be at least 1")
	}
	if c.Tuning.MetricsWindow < c.Phase.BacktrackWindow {
		return fmt.Errorf("metrics_window %d must cover backtrack_window %d", c.Tuning.MetricsWindow, c.Phase.BacktrackWindow)
	}
	if c.Tuning.HistoryLimit < 1 {
		return fmt.Errorf("history_limit must be at least 1")
	}
	if c.Tuning.FPFloor < 0 || c.Tuning.FPFloor > c.Phase.FPCeiling {
		return fmt.Errorf("fp_floor must be within [0, fp_ceiling]")
	}
	if c.Tuning.ComplianceBenefit <= 0 || c.Tuning.OverrideCost <= 0 {
		return fmt.Errorf("roi weights must be positive")
	}
	if c.Learner.MinClusterSize < 2 {
		return fmt.Errorf("min_cluster_size must be at least 2")
	}
	if c.Learner.SimilarityThreshold <= 0 || c.Learner.SimilarityThreshold > 1 ||
		c.Learner.ConfidenceFloor <= 0 || c.Learner.ConfidenceFloor > 1 {
		return fmt.Errorf("similarity_threshold and rule_confidence_floor must be within (0, 1]")
	}
	if c.Learner.StalenessWindow < 1 || c.Learner.Window < 1 {
		return fmt.Errorf("staleness_window and learner_window must be at least 1")
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry max_attempts must be at least 1")
	}
	if c.Retry.MinBackoff < 0 || c.Retry.MaxBackoff < c.Retry.MinBackoff {
		return fmt.Errorf("retry backoff range is invalid")
	}
	return nil
}
