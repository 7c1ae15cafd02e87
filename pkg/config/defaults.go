package config

import "time"

// Default values for configuration fields.
const (
	// Engine defaults
	DefaultMinObservations     = int64(20)
	DefaultConfidenceFloor     = 0.30
	DefaultROIFloor            = 3.0
	DefaultFPCeiling           = 0.10
	DefaultFPFloor             = 0.03
	DefaultROIHigh             = 5.0
	DefaultMinWarnDetections   = 5
	DefaultFPBacktrackCeiling  = 0.15
	DefaultBacktrackWindow     = 10
	DefaultTuningInterval      = int64(50)
	DefaultMetricsWindow       = 50
	DefaultHistoryLimit        = 50
	DefaultComplianceBenefit   = 1.0
	DefaultOverrideCost        = 1.0
	DefaultLearnerInterval     = int64(100)
	DefaultLearnerWindow       = 500
	DefaultMinClusterSize      = 10
	DefaultSimilarityThreshold = 0.70
	DefaultRuleConfidenceFloor = 0.70
	DefaultStalenessWindow     = int64(500)
	DefaultReportInterval      = int64(500)
	DefaultExcerptLength       = 280
	DefaultThresholdInitial    = 3.0
	DefaultThresholdMin        = 1.0
	DefaultThresholdMax        = 10.0
	DefaultRetryMaxAttempts    = 5
	DefaultRetryMinBackoff     = 10 * time.Millisecond
	DefaultRetryMaxBackoff     = 50 * time.Millisecond

	// Detector defaults
	DefaultDetectorKind = "window"

	// Storage defaults
	DefaultStorageBackend    = "file"
	DefaultStorageDir        = ".gatekeeper"
	DefaultSQLitePath        = ".gatekeeper/state.db"
	DefaultSQLiteDriver      = "sqlite"
	DefaultSQLiteBusyTimeout = 5 * time.Second
	DefaultSQLiteWALMode     = true

	// Telemetry defaults
	DefaultLoggingLevel       = "info"
	DefaultLoggingFormat      = "text"
	DefaultLoggingRedactPII   = true
	DefaultLogFileMaxSizeMB   = 100
	DefaultLogFileMaxBackups  = 3
	DefaultLogFileMaxAgeDays  = 28
	DefaultMetricsEnabled     = true
	DefaultMetricsAddress     = "127.0.0.1:9464"
	DefaultPrometheusPath     = "/metrics"
	DefaultMetricsNamespace   = "gatekeeper"
	DefaultTracingEnabled     = false
	DefaultTracingSampler     = "ratio"
	DefaultTracingSampleRatio = 1.0
	DefaultTracingInsecure    = true
	DefaultTracingTimeout     = 10 * time.Second
	DefaultServiceName        = "gatekeeper"

	// Daemon defaults
	DefaultReportSchedule   = "*/15 * * * *"
	DefaultDebounceInterval = 100 * time.Millisecond
	DefaultShutdownTimeout  = 10 * time.Second
)

// Default returns a configuration with every default applied, including
// the settings whose zero value is meaningful (booleans and fp_floor).
// LoadConfig decodes YAML on top of it so that explicit zeros survive.
func Default() *Config {
	cfg := &Config{
		Engine: EngineConfig{
			FPFloor: DefaultFPFloor,
		},
		Storage: StorageConfig{
			SQLite: SQLiteStorageConfig{WALMode: DefaultSQLiteWALMode},
		},
		Telemetry: TelemetryConfig{
			Logging: LoggingConfig{RedactPII: DefaultLoggingRedactPII},
			Metrics: MetricsConfig{Enabled: DefaultMetricsEnabled},
			Tracing: TracingConfig{
				Enabled:  DefaultTracingEnabled,
				Insecure: DefaultTracingInsecure,
			},
		},
		Daemon: DaemonConfig{
			ReportSchedule: DefaultReportSchedule,
		},
	}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults applies default values to a Config struct.
// It sets defaults for any fields that have zero values where zero is not
// a usable setting. This function is idempotent and safe to call multiple
// times.
func ApplyDefaults(cfg *Config) {
	applyEngineDefaults(&cfg.Engine)

	// Pattern defaults
	for i := range cfg.Patterns {
		if cfg.Patterns[i].Detector.Kind == "" {
			cfg.Patterns[i].Detector.Kind = DefaultDetectorKind
		}
	}

	// Storage defaults
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = DefaultStorageBackend
	}
	if cfg.Storage.File.Dir == "" {
		cfg.Storage.File.Dir = DefaultStorageDir
	}
	if cfg.Storage.SQLite.Path == "" {
		cfg.Storage.SQLite.Path = DefaultSQLitePath
	}
	if cfg.Storage.SQLite.Driver == "" {
		cfg.Storage.SQLite.Driver = DefaultSQLiteDriver
	}
	if cfg.Storage.SQLite.BusyTimeout == 0 {
		cfg.Storage.SQLite.BusyTimeout = DefaultSQLiteBusyTimeout
	}

	applyTelemetryDefaults(&cfg.Telemetry)

	// Daemon defaults
	if cfg.Daemon.DebounceInterval == 0 {
		cfg.Daemon.DebounceInterval = DefaultDebounceInterval
	}
	if cfg.Daemon.ShutdownTimeout == 0 {
		cfg.Daemon.ShutdownTimeout = DefaultShutdownTimeout
	}
}

// applyEngineDefaults applies defaults to the engine section.
func applyEngineDefaults(e *EngineConfig) {
	if e.MinObservations == 0 {
		e.MinObservations = DefaultMinObservations
	}
	if e.ConfidenceFloor == 0 {
		e.ConfidenceFloor = DefaultConfidenceFloor
	}
	if e.ROIFloor == 0 {
		e.ROIFloor = DefaultROIFloor
	}
	if e.FPCeiling == 0 {
		e.FPCeiling = DefaultFPCeiling
	}
	if e.ROIHigh == 0 {
		e.ROIHigh = DefaultROIHigh
	}
	if e.MinWarnDetections == 0 {
		e.MinWarnDetections = DefaultMinWarnDetections
	}
	if e.FPBacktrackCeiling == 0 {
		e.FPBacktrackCeiling = DefaultFPBacktrackCeiling
	}
	if e.BacktrackWindow == 0 {
		e.BacktrackWindow = DefaultBacktrackWindow
	}
	if e.TuningInterval == 0 {
		e.TuningInterval = DefaultTuningInterval
	}
	if e.MetricsWindow == 0 {
		e.MetricsWindow = DefaultMetricsWindow
	}
	if e.HistoryLimit == 0 {
		e.HistoryLimit = DefaultHistoryLimit
	}
	if e.ComplianceBenefit == 0 {
		e.ComplianceBenefit = DefaultComplianceBenefit
	}
	if e.OverrideCost == 0 {
		e.OverrideCost = DefaultOverrideCost
	}
	if e.LearnerInterval == 0 {
		e.LearnerInterval = DefaultLearnerInterval
	}
	if e.LearnerWindow == 0 {
		e.LearnerWindow = DefaultLearnerWindow
	}
	if e.MinClusterSize == 0 {
		e.MinClusterSize = DefaultMinClusterSize
	}
	if e.SimilarityThreshold == 0 {
		e.SimilarityThreshold = DefaultSimilarityThreshold
	}
	if e.RuleConfidenceFloor == 0 {
		e.RuleConfidenceFloor = DefaultRuleConfidenceFloor
	}
	if e.StalenessWindow == 0 {
		e.StalenessWindow = DefaultStalenessWindow
	}
	if e.ReportInterval == 0 {
		e.ReportInterval = DefaultReportInterval
	}
	if e.ExcerptLength == 0 {
		e.ExcerptLength = DefaultExcerptLength
	}

	if e.Threshold.Initial == 0 {
		e.Threshold.Initial = DefaultThresholdInitial
	}
	if e.Threshold.Min == 0 {
		e.Threshold.Min = DefaultThresholdMin
	}
	if e.Threshold.Max == 0 {
		e.Threshold.Max = DefaultThresholdMax
	}

	if e.Retry.MaxAttempts == 0 {
		e.Retry.MaxAttempts = DefaultRetryMaxAttempts
	}
	if e.Retry.MinBackoff == 0 {
		e.Retry.MinBackoff = DefaultRetryMinBackoff
	}
	if e.Retry.MaxBackoff == 0 {
		e.Retry.MaxBackoff = DefaultRetryMaxBackoff
	}
}

// applyTelemetryDefaults applies defaults to the telemetry section.
func applyTelemetryDefaults(t *TelemetryConfig) {
	if t.Logging.Level == "" {
		t.Logging.Level = DefaultLoggingLevel
	}
	if t.Logging.Format == "" {
		t.Logging.Format = DefaultLoggingFormat
	}
	if t.Logging.File.MaxSizeMB == 0 {
		t.Logging.File.MaxSizeMB = DefaultLogFileMaxSizeMB
	}
	if t.Logging.File.MaxBackups == 0 {
		t.Logging.File.MaxBackups = DefaultLogFileMaxBackups
	}
	if t.Logging.File.MaxAgeDays == 0 {
		t.Logging.File.MaxAgeDays = DefaultLogFileMaxAgeDays
	}

	if t.Metrics.ListenAddress == "" {
		t.Metrics.ListenAddress = DefaultMetricsAddress
	}
	if t.Metrics.Path == "" {
		t.Metrics.Path = DefaultPrometheusPath
	}
	if t.Metrics.Namespace == "" {
		t.Metrics.Namespace = DefaultMetricsNamespace
	}

	if t.Tracing.Sampler == "" {
		t.Tracing.Sampler = DefaultTracingSampler
	}
	if t.Tracing.SampleRatio == 0 {
		t.Tracing.SampleRatio = DefaultTracingSampleRatio
	}
	if t.Tracing.Timeout == 0 {
		t.Tracing.Timeout = DefaultTracingTimeout
	}
	if t.Tracing.ServiceName == "" {
		t.Tracing.ServiceName = DefaultServiceName
	}
}
