package config

import (
	"fmt"
	"math"
	"net"
	"regexp"
	"strings"

	"github.com/robfig/cron/v3"
)

// FieldError represents a validation error for a specific configuration field.
type FieldError struct {
	// Field is the dotted path to the configuration field (e.g., "engine.fp_ceiling").
	Field string

	// Message is a human-readable error message.
	Message string
}

// Error returns the error message for this field error.
func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError represents one or more validation errors in a configuration.
// It implements the error interface and provides access to all field errors.
type ValidationError struct {
	// Errors contains all validation errors found in the configuration.
	Errors []FieldError
}

// Error returns a formatted string containing all validation errors.
func (e ValidationError) Error() string {
	if len(e.Errors) == 0 {
		return "configuration validation failed"
	}
	if len(e.Errors) == 1 {
		return fmt.Sprintf("configuration validation failed: %s", e.Errors[0].Error())
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("configuration validation failed with %d errors:\n", len(e.Errors)))
	for _, err := range e.Errors {
		sb.WriteString(fmt.Sprintf("  - %s\n", err.Error()))
	}
	return sb.String()
}

// Validate validates the entire configuration and returns a ValidationError
// if any validation rules fail. It returns nil if the configuration is valid.
// All validation errors are collected and returned together.
func Validate(cfg *Config) error {
	var errs []FieldError

	errs = append(errs, validateEngine(&cfg.Engine)...)
	errs = append(errs, validatePatterns(cfg.Patterns)...)
	errs = append(errs, validateStorage(&cfg.Storage)...)
	errs = append(errs, validateTelemetry(&cfg.Telemetry)...)
	errs = append(errs, validateDaemon(&cfg.Daemon)...)

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}

	return nil
}

// validateEngine validates engine configuration.
func validateEngine(cfg *EngineConfig) []FieldError {
	var errs []FieldError

	positiveInt := func(field string, v int64) {
		if v < 1 {
			errs = append(errs, FieldError{Field: "engine." + field, Message: "must be at least 1"})
		}
	}
	positiveInt("min_observations", cfg.MinObservations)
	positiveInt("min_warn_detections", int64(cfg.MinWarnDetections))
	positiveInt("backtrack_window", int64(cfg.BacktrackWindow))
	positiveInt("tuning_interval", cfg.TuningInterval)
	positiveInt("metrics_window", int64(cfg.MetricsWindow))
	positiveInt("history_limit", int64(cfg.HistoryLimit))
	positiveInt("learner_interval", cfg.LearnerInterval)
	positiveInt("learner_window", int64(cfg.LearnerWindow))
	positiveInt("staleness_window", cfg.StalenessWindow)
	positiveInt("excerpt_length", int64(cfg.ExcerptLength))

	ratio := func(field string, v float64, allowZero bool) {
		if math.IsNaN(v) || v > 1 || v < 0 || (!allowZero && v == 0) {
			errs = append(errs, FieldError{Field: "engine." + field, Message: "must be between 0.0 and 1.0"})
		}
	}
	ratio("confidence_floor", cfg.ConfidenceFloor, false)
	ratio("fp_ceiling", cfg.FPCeiling, false)
	ratio("fp_floor", cfg.FPFloor, true)
	ratio("fp_backtrack_ceiling", cfg.FPBacktrackCeiling, false)
	ratio("similarity_threshold", cfg.SimilarityThreshold, false)
	ratio("rule_confidence_floor", cfg.RuleConfidenceFloor, false)

	positive := func(field string, v float64) {
		if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
			errs = append(errs, FieldError{Field: "engine." + field, Message: "must be positive"})
		}
	}
	positive("roi_floor", cfg.ROIFloor)
	positive("roi_high", cfg.ROIHigh)
	positive("compliance_benefit", cfg.ComplianceBenefit)
	positive("override_cost", cfg.OverrideCost)

	if cfg.FPFloor > cfg.FPCeiling {
		errs = append(errs, FieldError{
			Field:   "engine.fp_floor",
			Message: fmt.Sprintf("fp floor %.2f exceeds fp ceiling %.2f", cfg.FPFloor, cfg.FPCeiling),
		})
	}
	if cfg.MetricsWindow < cfg.BacktrackWindow {
		errs = append(errs, FieldError{
			Field:   "engine.metrics_window",
			Message: fmt.Sprintf("metrics window %d must cover backtrack window %d", cfg.MetricsWindow, cfg.BacktrackWindow),
		})
	}
	if cfg.MinClusterSize < 2 {
		errs = append(errs, FieldError{
			Field:   "engine.min_cluster_size",
			Message: "min cluster size must be at least 2",
		})
	}
	if cfg.ReportInterval < 0 {
		errs = append(errs, FieldError{
			Field:   "engine.report_interval",
			Message: "report interval must be non-negative",
		})
	}

	errs = append(errs, validateThreshold("engine.threshold", &cfg.Threshold)...)

	if cfg.Retry.MaxAttempts < 1 {
		errs = append(errs, FieldError{
			Field:   "engine.retry.max_attempts",
			Message: "max attempts must be at least 1",
		})
	}
	if cfg.Retry.MinBackoff < 0 {
		errs = append(errs, FieldError{
			Field:   "engine.retry.min_backoff",
			Message: "min backoff must be non-negative",
		})
	}
	if cfg.Retry.MaxBackoff < cfg.Retry.MinBackoff {
		errs = append(errs, FieldError{
			Field:   "engine.retry.max_backoff",
			Message: fmt.Sprintf("max backoff %v is below min backoff %v", cfg.Retry.MaxBackoff, cfg.Retry.MinBackoff),
		})
	}

	return errs
}

// validateThreshold validates a threshold band.
func validateThreshold(field string, t *ThresholdConfig) []FieldError {
	var errs []FieldError

	for name, v := range map[string]float64{"initial": t.Initial, "min": t.Min, "max": t.Max} {
		if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
			errs = append(errs, FieldError{
				Field:   field + "." + name,
				Message: "threshold must be finite and positive",
			})
		}
	}
	if t.Min > t.Max {
		errs = append(errs, FieldError{
			Field:   field + ".min",
			Message: fmt.Sprintf("min %.2f exceeds max %.2f", t.Min, t.Max),
		})
	} else if t.Initial < t.Min || t.Initial > t.Max {
		errs = append(errs, FieldError{
			Field:   field + ".initial",
			Message: fmt.Sprintf("initial %.2f outside [%.2f, %.2f]", t.Initial, t.Min, t.Max),
		})
	}

	return errs
}

// validatePatterns validates pattern configuration.
func validatePatterns(patterns []PatternConfig) []FieldError {
	var errs []FieldError
	seen := make(map[string]bool, len(patterns))

	for i, p := range patterns {
		prefix := fmt.Sprintf("patterns[%d]", i)

		if p.Name == "" {
			errs = append(errs, FieldError{Field: prefix + ".name", Message: "pattern name is required"})
		} else if seen[p.Name] {
			errs = append(errs, FieldError{Field: prefix + ".name", Message: fmt.Sprintf("duplicate pattern %q", p.Name)})
		}
		seen[p.Name] = true

		if p.Detector.Kind != "window" {
			errs = append(errs, FieldError{
				Field:   prefix + ".detector.kind",
				Message: fmt.Sprintf("invalid detector kind %q (must be window)", p.Detector.Kind),
			})
		}
		if p.Detector.Equals == "" && p.Detector.Contains == "" {
			errs = append(errs, FieldError{
				Field:   prefix + ".detector",
				Message: "detector needs equals or contains",
			})
		}

		if p.Threshold != nil {
			errs = append(errs, validateThreshold(prefix+".threshold", p.Threshold)...)
		}
	}

	return errs
}

// validateStorage validates storage configuration.
func validateStorage(cfg *StorageConfig) []FieldError {
	var errs []FieldError

	switch cfg.Backend {
	case "file":
		if cfg.File.Dir == "" {
			errs = append(errs, FieldError{Field: "storage.file.dir", Message: "directory is required for file backend"})
		}
	case "sqlite":
		if cfg.SQLite.Path == "" {
			errs = append(errs, FieldError{Field: "storage.sqlite.path", Message: "path is required for sqlite backend"})
		}
		if cfg.SQLite.Driver != "sqlite" && cfg.SQLite.Driver != "sqlite3" {
			errs = append(errs, FieldError{
				Field:   "storage.sqlite.driver",
				Message: fmt.Sprintf("invalid driver %q (must be sqlite or sqlite3)", cfg.SQLite.Driver),
			})
		}
		if cfg.SQLite.BusyTimeout < 0 {
			errs = append(errs, FieldError{Field: "storage.sqlite.busy_timeout", Message: "busy timeout must be non-negative"})
		}
	case "memory":
	default:
		errs = append(errs, FieldError{
			Field:   "storage.backend",
			Message: fmt.Sprintf("invalid backend %q (must be file, sqlite, or memory)", cfg.Backend),
		})
	}

	return errs
}

// validateTelemetry validates telemetry configuration.
func validateTelemetry(cfg *TelemetryConfig) []FieldError {
	var errs []FieldError

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[cfg.Logging.Level] {
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.level",
			Message: fmt.Sprintf("invalid log level %q (must be debug, info, warn, or error)", cfg.Logging.Level),
		})
	}

	validFormats := map[string]bool{"json": true, "text": true, "console": true}
	if !validFormats[cfg.Logging.Format] {
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.format",
			Message: fmt.Sprintf("invalid log format %q (must be json, text, or console)", cfg.Logging.Format),
		})
	}

	for i, p := range cfg.Logging.RedactPatterns {
		if _, err := regexp.Compile(p.Pattern); err != nil {
			errs = append(errs, FieldError{
				Field:   fmt.Sprintf("telemetry.logging.redact_patterns[%d].pattern", i),
				Message: fmt.Sprintf("invalid regex: %v", err),
			})
		}
	}

	if cfg.Logging.File.Path != "" && cfg.Logging.File.MaxSizeMB < 1 {
		errs = append(errs, FieldError{
			Field:   "telemetry.logging.file.max_size_mb",
			Message: "max size must be at least 1",
		})
	}

	if cfg.Metrics.Enabled {
		if _, _, err := net.SplitHostPort(cfg.Metrics.ListenAddress); err != nil {
			errs = append(errs, FieldError{
				Field:   "telemetry.metrics.listen_address",
				Message: fmt.Sprintf("invalid listen address: %v", err),
			})
		}
		if !strings.HasPrefix(cfg.Metrics.Path, "/") {
			errs = append(errs, FieldError{
				Field:   "telemetry.metrics.path",
				Message: "metrics path must start with /",
			})
		}
	}

	if cfg.Tracing.Enabled {
		validSamplers := map[string]bool{"always": true, "never": true, "ratio": true}
		if !validSamplers[cfg.Tracing.Sampler] {
			errs = append(errs, FieldError{
				Field:   "telemetry.tracing.sampler",
				Message: fmt.Sprintf("invalid sampler %q (must be always, never, or ratio)", cfg.Tracing.Sampler),
			})
		}
		if cfg.Tracing.SampleRatio < 0 || cfg.Tracing.SampleRatio > 1 {
			errs = append(errs, FieldError{
				Field:   "telemetry.tracing.sample_ratio",
				Message: "sample ratio must be between 0.0 and 1.0",
			})
		}
		if cfg.Tracing.Endpoint == "" {
			errs = append(errs, FieldError{
				Field:   "telemetry.tracing.endpoint",
				Message: "endpoint is required when tracing is enabled",
			})
		}
	}

	return errs
}

// validateDaemon validates daemon configuration.
func validateDaemon(cfg *DaemonConfig) []FieldError {
	var errs []FieldError

	for field, spec := range map[string]string{
		"daemon.report_schedule":      cfg.ReportSchedule,
		"daemon.maintenance_schedule": cfg.MaintenanceSchedule,
	} {
		if spec == "" {
			continue
		}
		if _, err := cron.ParseStandard(spec); err != nil {
			errs = append(errs, FieldError{
				Field:   field,
				Message: fmt.Sprintf("invalid cron expression: %v", err),
			})
		}
	}

	if cfg.DebounceInterval < 0 {
		errs = append(errs, FieldError{Field: "daemon.debounce_interval", Message: "debounce interval must be non-negative"})
	}
	if cfg.ShutdownTimeout < 0 {
		errs = append(errs, FieldError{Field: "daemon.shutdown_timeout", Message: "shutdown timeout must be non-negative"})
	}

	return errs
}
