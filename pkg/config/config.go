package config

import "time"

// Config is the root configuration structure for Gatekeeper.
// It contains the engine tuning options, the configured patterns, storage
// backend selection, telemetry and daemon settings.
type Config struct {
	// Engine contains the phase, tuning, learner and retry options of the
	// decision engine.
	Engine EngineConfig `yaml:"engine"`

	// Patterns lists the patterns evaluated by the CLI and daemon, each with
	// a generic window detector.
	Patterns []PatternConfig `yaml:"patterns"`

	// Storage selects and configures the state store backend.
	Storage StorageConfig `yaml:"storage"`

	// Telemetry contains configuration for observability including logging,
	// metrics, and distributed tracing.
	Telemetry TelemetryConfig `yaml:"telemetry"`

	// Daemon contains configuration for the long-running serve command.
	Daemon DaemonConfig `yaml:"daemon"`
}

// EngineConfig contains every decision engine option.
type EngineConfig struct {
	// MinObservations is the number of detections required before a pattern
	// may leave OBSERVE.
	// Default: 20
	MinObservations int64 `yaml:"min_observations"`

	// ConfidenceFloor is the minimum compliances/detections ratio required
	// to move from OBSERVE to WARN.
	// Default: 0.30
	ConfidenceFloor float64 `yaml:"confidence_floor"`

	// ROIFloor is the minimum windowed ROI required to move from WARN to
	// ENFORCE.
	// Default: 3.0
	ROIFloor float64 `yaml:"roi_floor"`

	// FPCeiling is the maximum windowed false-positive rate allowed to move
	// from WARN to ENFORCE. Above it the threshold is loosened.
	// Default: 0.10
	FPCeiling float64 `yaml:"fp_ceiling"`

	// FPFloor is the false-positive rate below which the threshold may be
	// tightened. Zero disables tightening.
	// Default: 0.03
	FPFloor float64 `yaml:"fp_floor"`

	// ROIHigh is the ROI above which the threshold may be tightened.
	// Default: 5.0
	ROIHigh float64 `yaml:"roi_high"`

	// MinWarnDetections is the number of WARN-phase detections required
	// before a pattern may enter ENFORCE.
	// Default: 5
	MinWarnDetections int `yaml:"min_warn_detections"`

	// FPBacktrackCeiling is the false-positive rate over the last
	// BacktrackWindow enforced detections above which ENFORCE falls back
	// to WARN.
	// Default: 0.15
	FPBacktrackCeiling float64 `yaml:"fp_backtrack_ceiling"`

	// BacktrackWindow is the number of ENFORCE detections the backtrack
	// rule looks at.
	// Default: 10
	BacktrackWindow int `yaml:"backtrack_window"`

	// TuningInterval runs the auto-tuner every N global steps.
	// Default: 50
	TuningInterval int64 `yaml:"tuning_interval"`

	// MetricsWindow caps the trailing outcomes used for fp rate and ROI.
	// Default: 50
	MetricsWindow int `yaml:"metrics_window"`

	// HistoryLimit bounds the adjustment history of each pattern.
	// Default: 50
	HistoryLimit int `yaml:"history_limit"`

	// ComplianceBenefit and OverrideCost weight the ROI formula.
	// Default: 1.0 each
	ComplianceBenefit float64 `yaml:"compliance_benefit"`
	OverrideCost      float64 `yaml:"override_cost"`

	// LearnerInterval runs the override meta-learner every N global steps.
	// Default: 100
	LearnerInterval int64 `yaml:"learner_interval"`

	// LearnerWindow caps the override events clustered per pattern.
	// Default: 500
	LearnerWindow int `yaml:"learner_window"`

	// MinClusterSize is the support required to synthesize a rule.
	// Default: 10
	MinClusterSize int `yaml:"min_cluster_size"`

	// SimilarityThreshold is the Jaccard similarity an event needs with a
	// cluster seed to join it.
	// Default: 0.70
	SimilarityThreshold float64 `yaml:"similarity_threshold"`

	// RuleConfidenceFloor is the mean pairwise similarity a cluster needs
	// to become a rule.
	// Default: 0.70
	RuleConfidenceFloor float64 `yaml:"rule_confidence_floor"`

	// StalenessWindow retires rules that have not matched for N steps.
	// Default: 500
	StalenessWindow int64 `yaml:"staleness_window"`

	// ReportInterval logs the report every N steps. Zero disables it.
	// Default: 500
	ReportInterval int64 `yaml:"report_interval"`

	// ExcerptLength caps the redacted free text stored on override events.
	// Default: 280
	ExcerptLength int `yaml:"excerpt_length"`

	// Threshold is the default detection threshold band.
	Threshold ThresholdConfig `yaml:"threshold"`

	// Retry bounds the optimistic read-modify-write loop.
	Retry RetryConfig `yaml:"retry"`
}

// ThresholdConfig bounds a detection threshold.
type ThresholdConfig struct {
	// Initial is the threshold of a newly created pattern state.
	// Default: 3
	Initial float64 `yaml:"initial"`

	// Min is the floor for tightening and the reset value after corruption.
	// Default: 1
	Min float64 `yaml:"min"`

	// Max is the ceiling for loosening.
	// Default: 10
	Max float64 `yaml:"max"`
}

// RetryConfig contains write conflict retry settings.
type RetryConfig struct {
	// MaxAttempts is the total number of read-modify-write attempts.
	// Default: 5
	MaxAttempts int `yaml:"max_attempts"`

	// MinBackoff and MaxBackoff bound the jittered pause between attempts.
	// Default: 10ms and 50ms
	MinBackoff time.Duration `yaml:"min_backoff"`
	MaxBackoff time.Duration `yaml:"max_backoff"`
}

// PatternConfig configures one pattern evaluated by the CLI.
type PatternConfig struct {
	// Name is the stable pattern identifier.
	Name string `yaml:"name"`

	// Detector configures the generic window detector.
	Detector DetectorConfig `yaml:"detector"`

	// Remediation is returned with WARN and BLOCK decisions.
	Remediation string `yaml:"remediation"`

	// Threshold overrides the engine threshold band for this pattern.
	Threshold *ThresholdConfig `yaml:"threshold"`
}

// DetectorConfig configures a generic window detector.
type DetectorConfig struct {
	// Kind selects the detector implementation.
	// Options: "window"
	// Default: "window"
	Kind string `yaml:"kind"`

	// Path is a gjson path into each recent_window entry. Empty tests the
	// whole entry.
	Path string `yaml:"path"`

	// Equals requires the selected value to equal this string.
	Equals string `yaml:"equals"`

	// Contains requires the selected value to contain this substring.
	Contains string `yaml:"contains"`
}

// StorageConfig contains state store configuration.
type StorageConfig struct {
	// Backend is the storage backend type.
	// Options: "file", "sqlite", "memory"
	// Default: "file"
	Backend string `yaml:"backend"`

	// File contains file backend configuration.
	File FileStorageConfig `yaml:"file"`

	// SQLite contains SQLite backend configuration.
	SQLite SQLiteStorageConfig `yaml:"sqlite"`
}

// FileStorageConfig contains file backend configuration.
type FileStorageConfig struct {
	// Dir is the root directory for state documents, rule sets, locks and
	// the override ledger.
	// Default: ".gatekeeper"
	Dir string `yaml:"dir"`
}

// SQLiteStorageConfig contains SQLite backend configuration.
type SQLiteStorageConfig struct {
	// Path is the database file path.
	// Default: ".gatekeeper/state.db"
	Path string `yaml:"path"`

	// Driver selects the database/sql driver.
	// Options: "sqlite" (pure Go), "sqlite3" (cgo)
	// Default: "sqlite"
	Driver string `yaml:"driver"`

	// BusyTimeout is how long SQLite waits on a locked database.
	// Default: 5s
	BusyTimeout time.Duration `yaml:"busy_timeout"`

	// WALMode enables write-ahead logging.
	// Default: true
	WALMode bool `yaml:"wal_mode"`
}

// TelemetryConfig contains observability configuration.
type TelemetryConfig struct {
	// Logging contains logging configuration.
	Logging LoggingConfig `yaml:"logging"`

	// Metrics contains metrics collection configuration.
	Metrics MetricsConfig `yaml:"metrics"`

	// Tracing contains distributed tracing configuration.
	Tracing TracingConfig `yaml:"tracing"`
}

// LoggingConfig contains logging configuration.
type LoggingConfig struct {
	// Level is the minimum log level to emit.
	// Options: "debug", "info", "warn", "error"
	// Default: "info"
	Level string `yaml:"level"`

	// Format controls the log output format.
	// Options: "json", "text", "console"
	// Default: "text"
	Format string `yaml:"format"`

	// AddSource includes file and line number in log entries.
	// Default: false
	AddSource bool `yaml:"add_source"`

	// RedactPII enables PII redaction in logs and override excerpts.
	// Default: true
	RedactPII bool `yaml:"redact_pii"`

	// RedactPatterns contains custom PII redaction patterns.
	RedactPatterns []RedactPattern `yaml:"redact_patterns"`

	// File optionally tees logs into a rotated file.
	File LogFileConfig `yaml:"file"`
}

// RedactPattern defines a custom PII redaction pattern.
type RedactPattern struct {
	// Name is a descriptive name for the pattern.
	Name string `yaml:"name"`

	// Pattern is the regular expression to match.
	Pattern string `yaml:"pattern"`

	// Replacement is the string to replace matches with.
	Replacement string `yaml:"replacement"`
}

// LogFileConfig contains rotated log file configuration.
type LogFileConfig struct {
	// Path enables file output when set.
	Path string `yaml:"path"`

	// MaxSizeMB is the size at which the file is rotated.
	// Default: 100
	MaxSizeMB int `yaml:"max_size_mb"`

	// MaxBackups is the number of rotated files kept.
	// Default: 3
	MaxBackups int `yaml:"max_backups"`

	// MaxAgeDays is the retention of rotated files.
	// Default: 28
	MaxAgeDays int `yaml:"max_age_days"`

	// Compress gzips rotated files.
	// Default: false
	Compress bool `yaml:"compress"`
}

// MetricsConfig contains metrics collection configuration.
type MetricsConfig struct {
	// Enabled controls whether metrics collection is active.
	// Default: true
	Enabled bool `yaml:"enabled"`

	// ListenAddress is where the daemon serves metrics and health.
	// Default: "127.0.0.1:9464"
	ListenAddress string `yaml:"listen_address"`

	// Path is the HTTP path for the Prometheus metrics endpoint.
	// Default: "/metrics"
	Path string `yaml:"path"`

	// Namespace is the metric name prefix.
	// Default: "gatekeeper"
	Namespace string `yaml:"namespace"`
}

// TracingConfig contains distributed tracing configuration.
type TracingConfig struct {
	// Enabled controls whether distributed tracing is active.
	// Default: false
	Enabled bool `yaml:"enabled"`

	// Sampler determines the sampling strategy.
	// Options: "always", "never", "ratio"
	// Default: "ratio"
	Sampler string `yaml:"sampler"`

	// SampleRatio is the fraction of traces to sample (0.0 to 1.0).
	// Only used when Sampler is "ratio".
	// Default: 1.0
	SampleRatio float64 `yaml:"sample_ratio"`

	// Endpoint is the OTLP gRPC collector endpoint.
	// Example: "localhost:4317"
	Endpoint string `yaml:"endpoint"`

	// Insecure disables TLS for the OTLP connection.
	// Default: true
	Insecure bool `yaml:"insecure"`

	// Timeout is the timeout for OTLP exports.
	// Default: 10s
	Timeout time.Duration `yaml:"timeout"`

	// ServiceName is the service name in traces.
	// Default: "gatekeeper"
	ServiceName string `yaml:"service_name"`
}

// DaemonConfig contains configuration for the serve command.
type DaemonConfig struct {
	// ReportSchedule is a cron expression for logging the report.
	// Empty disables scheduled reports.
	// Default: "*/15 * * * *"
	ReportSchedule string `yaml:"report_schedule"`

	// MaintenanceSchedule is a cron expression for forced tuning and
	// learner passes. Empty disables them.
	// Default: ""
	MaintenanceSchedule string `yaml:"maintenance_schedule"`

	// WatchConfig reloads the configuration file when it changes.
	// Default: false
	WatchConfig bool `yaml:"watch_config"`

	// DebounceInterval is the quiet period before a reload.
	// Default: 100ms
	DebounceInterval time.Duration `yaml:"debounce_interval"`

	// ShutdownTimeout is the maximum duration to wait for graceful shutdown.
	// Default: 10s
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}
