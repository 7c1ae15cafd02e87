// Package metrics provides the Prometheus registry of a gatekeeper process.
//
// # Overview
//
// A Collector owns a dedicated registry with:
//
//   - Go runtime and process collectors
//   - gatekeeper_build_info with version and commit labels
//   - Engine metrics (decisions, detector failures, write conflicts, phase
//     transitions, thresholds, active rules, pass durations) registered once
//     and shared by every engine the process builds
//   - Daemon metrics: config reloads and scheduled job runs
//
// # Usage
//
//	collector := metrics.NewCollector(&cfg.Telemetry.Metrics, nil, metrics.BuildInfo{
//		Version:   Version,
//		GitCommit: GitCommit,
//	})
//
//	mgr, err := enginefactory.NewManager(cfg, logger, engine.WithMetrics(collector.Engine()))
//
//	mux.Handle(cfg.Telemetry.Metrics.Path, collector.Handler(logger))
//
// When telemetry.metrics.enabled is false, Engine returns nil and the
// Record methods do nothing.
package metrics
