// Package config provides configuration management for Gatekeeper.
//
// This package handles loading, validating, and managing configuration from
// YAML files with environment variable overrides.
//
// # Configuration Loading
//
// Configuration can be loaded in two ways:
//
//  1. From a YAML file only:
//     cfg, err := config.LoadConfig("gatekeeper.yaml")
//
//  2. From a YAML file with environment variable overrides:
//     cfg, err := config.LoadConfigWithEnvOverrides("gatekeeper.yaml")
//
// YAML is decoded on top of Default(), so omitted fields keep their defaults
// and explicit zeros (fp_floor: 0, wal_mode: false) are honored. Unknown
// fields are rejected.
//
// # Environment Variable Overrides
//
// Environment variables follow the naming convention GATEKEEPER_SECTION_FIELD.
// For example:
//
//   - GATEKEEPER_ENGINE_TUNING_INTERVAL overrides engine.tuning_interval
//   - GATEKEEPER_STORAGE_BACKEND overrides storage.backend
//   - GATEKEEPER_TELEMETRY_LOGGING_LEVEL overrides telemetry.logging.level
//
// # Hot Reload
//
// Watcher reloads the file through ReloadConfig whenever it changes, so the
// serve command can pick up new tuning options without restarting.
//
// # Example Configuration
//
//	engine:
//	  tuning_interval: 50
//	  learner_interval: 100
//	  threshold: {initial: 3, min: 1, max: 10}
//	  retry: {max_attempts: 5, min_backoff: 10ms, max_backoff: 50ms}
//
//	patterns:
//	  - name: repeated-retry
//	    detector: {kind: window, path: tool, equals: retry}
//	    remediation: "Stop retrying and inspect the failure."
//
//	storage:
//	  backend: file
//	  file: {dir: .gatekeeper}
//
//	telemetry:
//	  logging: {level: info, format: console}
package config
