// Package telemetry groups gatekeeper's observability packages.
//
// # Components
//
//   - logging: structured logging with PII redaction and rotated files
//   - metrics: the Prometheus collector and /metrics handler
//   - tracing: OpenTelemetry spans around evaluation and maintenance
//   - health: liveness, readiness and version endpoints
//
// # Usage
//
//	logger, err := logging.New(logging.ConfigFrom(cfg.Telemetry.Logging))
//	tracer, err := tracing.New(&cfg.Telemetry.Tracing)
//	collector := metrics.NewCollector(&cfg.Telemetry.Metrics, nil, metrics.BuildInfo{Version: version})
//
//	eng, err := engine.New(engineCfg, backend,
//	    engine.WithLogger(logger.Logger),
//	    engine.WithTracer(tracer.Tracer()),
//	    engine.WithMetrics(collector.Engine()),
//	)
//
// # PII Protection
//
// With redaction enabled, log attributes and override excerpts are
// scrubbed before they are written:
//
//   - API keys: sk-abc123 → sk-***
//   - Emails: user@example.com → u***@example.com
//   - SSN: 123-45-6789 → ***-**-****
//   - IP addresses: 192.168.1.1 → 192.*.*.*
//
// Custom redaction patterns can be configured.
package telemetry
