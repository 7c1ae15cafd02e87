package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// LoadConfig loads configuration from a YAML file at the specified path.
// It applies default values, validates the configuration, and returns any errors.
// The configuration is not modified by environment variables; use LoadConfigWithEnvOverrides
// for that functionality.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read configuration file %q: %w", path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse configuration file %q: %w", path, err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// Parse decodes YAML on top of the defaults. Unknown fields are rejected so
// that typos in tuning options do not silently fall back to defaults.
// The result is not validated.
func Parse(data []byte) (*Config, error) {
	cfg := Default()

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}

	ApplyDefaults(cfg)
	return cfg, nil
}

// LoadConfigWithEnvOverrides loads configuration from a YAML file and applies
// environment variable overrides. Environment variables follow the naming
// convention GATEKEEPER_SECTION_FIELD (e.g., GATEKEEPER_STORAGE_BACKEND).
// Environment variables always take precedence over file-based configuration.
//
// The loading sequence is:
// 1. Load YAML from file
// 2. Apply default values
// 3. Apply environment variable overrides
// 4. Validate final configuration
func LoadConfigWithEnvOverrides(path string) (*Config, error) {
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed after environment overrides: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables use the format GATEKEEPER_SECTION_FIELD.
func applyEnvOverrides(cfg *Config) {
	// Engine overrides
	envInt64("GATEKEEPER_ENGINE_MIN_OBSERVATIONS", &cfg.Engine.MinObservations)
	envFloat("GATEKEEPER_ENGINE_CONFIDENCE_FLOOR", &cfg.Engine.ConfidenceFloor)
	envFloat("GATEKEEPER_ENGINE_ROI_FLOOR", &cfg.Engine.ROIFloor)
	envFloat("GATEKEEPER_ENGINE_FP_CEILING", &cfg.Engine.FPCeiling)
	envFloat("GATEKEEPER_ENGINE_FP_FLOOR", &cfg.Engine.FPFloor)
	envFloat("GATEKEEPER_ENGINE_ROI_HIGH", &cfg.Engine.ROIHigh)
	envFloat("GATEKEEPER_ENGINE_FP_BACKTRACK_CEILING", &cfg.Engine.FPBacktrackCeiling)
	envInt("GATEKEEPER_ENGINE_BACKTRACK_WINDOW", &cfg.Engine.BacktrackWindow)
	envInt64("GATEKEEPER_ENGINE_TUNING_INTERVAL", &cfg.Engine.TuningInterval)
	envInt64("GATEKEEPER_ENGINE_LEARNER_INTERVAL", &cfg.Engine.LearnerInterval)
	envInt("GATEKEEPER_ENGINE_MIN_CLUSTER_SIZE", &cfg.Engine.MinClusterSize)
	envFloat("GATEKEEPER_ENGINE_RULE_CONFIDENCE_FLOOR", &cfg.Engine.RuleConfidenceFloor)
	envInt64("GATEKEEPER_ENGINE_STALENESS_WINDOW", &cfg.Engine.StalenessWindow)
	envInt64("GATEKEEPER_ENGINE_REPORT_INTERVAL", &cfg.Engine.ReportInterval)
	envInt("GATEKEEPER_ENGINE_RETRY_MAX_ATTEMPTS", &cfg.Engine.Retry.MaxAttempts)
	envDuration("GATEKEEPER_ENGINE_RETRY_MIN_BACKOFF", &cfg.Engine.Retry.MinBackoff)
	envDuration("GATEKEEPER_ENGINE_RETRY_MAX_BACKOFF", &cfg.Engine.Retry.MaxBackoff)

	// Storage overrides
	envString("GATEKEEPER_STORAGE_BACKEND", &cfg.Storage.Backend)
	envString("GATEKEEPER_STORAGE_FILE_DIR", &cfg.Storage.File.Dir)
	envString("GATEKEEPER_STORAGE_SQLITE_PATH", &cfg.Storage.SQLite.Path)
	envString("GATEKEEPER_STORAGE_SQLITE_DRIVER", &cfg.Storage.SQLite.Driver)
	envDuration("GATEKEEPER_STORAGE_SQLITE_BUSY_TIMEOUT", &cfg.Storage.SQLite.BusyTimeout)
	envBool("GATEKEEPER_STORAGE_SQLITE_WAL_MODE", &cfg.Storage.SQLite.WALMode)

	// Telemetry overrides
	envString("GATEKEEPER_TELEMETRY_LOGGING_LEVEL", &cfg.Telemetry.Logging.Level)
	envString("GATEKEEPER_TELEMETRY_LOGGING_FORMAT", &cfg.Telemetry.Logging.Format)
	envBool("GATEKEEPER_TELEMETRY_LOGGING_REDACT_PII", &cfg.Telemetry.Logging.RedactPII)
	envString("GATEKEEPER_TELEMETRY_LOGGING_FILE_PATH", &cfg.Telemetry.Logging.File.Path)
	envBool("GATEKEEPER_TELEMETRY_METRICS_ENABLED", &cfg.Telemetry.Metrics.Enabled)
	envString("GATEKEEPER_TELEMETRY_METRICS_LISTEN_ADDRESS", &cfg.Telemetry.Metrics.ListenAddress)
	envString("GATEKEEPER_TELEMETRY_METRICS_PATH", &cfg.Telemetry.Metrics.Path)
	envBool("GATEKEEPER_TELEMETRY_TRACING_ENABLED", &cfg.Telemetry.Tracing.Enabled)
	envString("GATEKEEPER_TELEMETRY_TRACING_ENDPOINT", &cfg.Telemetry.Tracing.Endpoint)
	envFloat("GATEKEEPER_TELEMETRY_TRACING_SAMPLE_RATIO", &cfg.Telemetry.Tracing.SampleRatio)

	// Daemon overrides
	envString("GATEKEEPER_DAEMON_REPORT_SCHEDULE", &cfg.Daemon.ReportSchedule)
	envString("GATEKEEPER_DAEMON_MAINTENANCE_SCHEDULE", &cfg.Daemon.MaintenanceSchedule)
	envBool("GATEKEEPER_DAEMON_WATCH_CONFIG", &cfg.Daemon.WatchConfig)
}

func envString(key string, dst *string) {
	if val := os.Getenv(key); val != "" {
		*dst = val
	}
}

func envBool(key string, dst *bool) {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			*dst = b
		}
	}
}

func envInt(key string, dst *int) {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			*dst = i
		}
	}
}

func envInt64(key string, dst *int64) {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.ParseInt(val, 10, 64); err == nil {
			*dst = i
		}
	}
}

func envFloat(key string, dst *float64) {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			*dst = f
		}
	}
}

func envDuration(key string, dst *time.Duration) {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			*dst = d
		}
	}
}
