package config

import "time"

// ConfigBuilder provides a fluent API for building Config instances in tests.
// It starts with default values and allows selective overrides.
type ConfigBuilder struct {
	cfg Config
}

// NewTestConfig creates a new ConfigBuilder with a valid default
// configuration using the memory backend.
func NewTestConfig() *ConfigBuilder {
	cfg := *Default()
	cfg.Storage.Backend = "memory"
	return &ConfigBuilder{cfg: cfg}
}

// Build returns the built Config instance.
func (b *ConfigBuilder) Build() *Config {
	return &b.cfg
}

// WithPattern appends a window pattern.
func (b *ConfigBuilder) WithPattern(name, path, equals string) *ConfigBuilder {
	b.cfg.Patterns = append(b.cfg.Patterns, PatternConfig{
		Name:     name,
		Detector: DetectorConfig{Kind: "window", Path: path, Equals: equals},
	})
	return b
}

// WithStorage sets the storage backend.
func (b *ConfigBuilder) WithStorage(backend string) *ConfigBuilder {
	b.cfg.Storage.Backend = backend
	return b
}

// WithRetry sets the retry bounds.
func (b *ConfigBuilder) WithRetry(attempts int, min, max time.Duration) *ConfigBuilder {
	b.cfg.Engine.Retry = RetryConfig{MaxAttempts: attempts, MinBackoff: min, MaxBackoff: max}
	return b
}

// WithLogLevel sets the logging level.
func (b *ConfigBuilder) WithLogLevel(level string) *ConfigBuilder {
	b.cfg.Telemetry.Logging.Level = level
	return b
}

// WithTracing enables tracing towards endpoint.
func (b *ConfigBuilder) WithTracing(endpoint string) *ConfigBuilder {
	b.cfg.Telemetry.Tracing.Enabled = true
	b.cfg.Telemetry.Tracing.Endpoint = endpoint
	return b
}

// MinimalConfig returns a minimal valid configuration for testing.
func MinimalConfig() *Config {
	return NewTestConfig().Build()
}
