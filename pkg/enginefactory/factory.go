package enginefactory

import (
	"fmt"
	"log/slog"

	"mercator-hq/gatekeeper/pkg/config"
	"mercator-hq/gatekeeper/pkg/tuning"
	"mercator-hq/gatekeeper/pkg/tuning/detector"
	"mercator-hq/gatekeeper/pkg/tuning/engine"
	"mercator-hq/gatekeeper/pkg/tuning/storage"
)

// NewBackend opens the state store selected by the storage section.
//
// Supported backends:
//   - "file": JSON documents and a JSONL override ledger under storage.file.dir
//   - "sqlite": a database file, driver "sqlite" (modernc) or "sqlite3" (mattn)
//   - "memory": process-local maps, for tests and embedding
func NewBackend(cfg config.StorageConfig) (storage.Backend, error) {
	slog.Debug("opening state store",
		"backend", cfg.Backend,
		"dir", cfg.File.Dir,
		"sqlite_path", cfg.SQLite.Path,
	)

	backend, err := storage.Open(storage.Config{
		Backend:      cfg.Backend,
		Dir:          cfg.File.Dir,
		SQLitePath:   cfg.SQLite.Path,
		SQLiteDriver: cfg.SQLite.Driver,
		BusyTimeout:  cfg.SQLite.BusyTimeout,
		WALMode:      cfg.SQLite.WALMode,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open %q state store: %w", cfg.Backend, err)
	}

	slog.Debug("state store opened", "backend", backend.Name())
	return backend, nil
}

// EngineConfig converts the engine section into an engine.Config. The single
// retry policy is shared by evaluation, the tuner and the learner.
func EngineConfig(c config.EngineConfig) engine.Config {
	cfg := engine.DefaultConfig()

	retry := storage.RetryPolicy{
		MaxAttempts: c.Retry.MaxAttempts,
		MinBackoff:  c.Retry.MinBackoff,
		MaxBackoff:  c.Retry.MaxBackoff,
	}

	cfg.Phase.MinObservations = c.MinObservations
	cfg.Phase.ConfidenceFloor = c.ConfidenceFloor
	cfg.Phase.ROIFloor = c.ROIFloor
	cfg.Phase.FPCeiling = c.FPCeiling
	cfg.Phase.MinWarnDetections = c.MinWarnDetections
	cfg.Phase.FPBacktrackCeiling = c.FPBacktrackCeiling
	cfg.Phase.BacktrackWindow = c.BacktrackWindow

	cfg.Tuning.Interval = c.TuningInterval
	cfg.Tuning.MetricsWindow = c.MetricsWindow
	cfg.Tuning.HistoryLimit = c.HistoryLimit
	cfg.Tuning.FPFloor = c.FPFloor
	cfg.Tuning.ROIHigh = c.ROIHigh
	cfg.Tuning.ComplianceBenefit = c.ComplianceBenefit
	cfg.Tuning.OverrideCost = c.OverrideCost
	cfg.Tuning.Retry = retry

	cfg.Learner.Interval = c.LearnerInterval
	cfg.Learner.Window = c.LearnerWindow
	cfg.Learner.MinClusterSize = c.MinClusterSize
	cfg.Learner.SimilarityThreshold = c.SimilarityThreshold
	cfg.Learner.ConfidenceFloor = c.RuleConfidenceFloor
	cfg.Learner.StalenessWindow = c.StalenessWindow
	cfg.Learner.Retry = retry

	cfg.Threshold = band(c.Threshold)
	cfg.ReportInterval = c.ReportInterval
	cfg.ExcerptLength = c.ExcerptLength
	cfg.Retry = retry

	return cfg
}

// Patterns builds the configured patterns, each backed by a window detector.
func Patterns(configs []config.PatternConfig) ([]engine.Pattern, error) {
	patterns := make([]engine.Pattern, 0, len(configs))
	for i, pc := range configs {
		d, err := detector.FromSpec(detector.Spec{
			Kind:     pc.Detector.Kind,
			Path:     pc.Detector.Path,
			Equals:   pc.Detector.Equals,
			Contains: pc.Detector.Contains,
		})
		if err != nil {
			return nil, fmt.Errorf("patterns[%d] %q: %w", i, pc.Name, err)
		}

		p := engine.Pattern{
			Name:        pc.Name,
			Detector:    d,
			Remediation: pc.Remediation,
		}
		if pc.Threshold != nil {
			b := band(*pc.Threshold)
			p.Threshold = &b
		}
		patterns = append(patterns, p)
	}
	return patterns, nil
}

// NewEngine builds an engine over backend and registers every configured
// pattern.
func NewEngine(cfg *config.Config, backend storage.Backend, opts ...engine.Option) (*engine.Engine, error) {
	patterns, err := Patterns(cfg.Patterns)
	if err != nil {
		return nil, err
	}

	eng, err := engine.New(EngineConfig(cfg.Engine), backend, opts...)
	if err != nil {
		return nil, err
	}

	for _, p := range patterns {
		if err := eng.Register(p); err != nil {
			return nil, fmt.Errorf("failed to register pattern: %w", err)
		}
	}

	slog.Debug("engine built", "patterns", len(patterns), "backend", backend.Name())
	return eng, nil
}

func band(t config.ThresholdConfig) tuning.Band {
	return tuning.Band{Initial: t.Initial, Min: t.Min, Max: t.Max}
}
