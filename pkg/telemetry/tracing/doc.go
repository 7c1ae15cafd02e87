// Package tracing provides OpenTelemetry tracing for the gatekeeper engine.
//
// # Overview
//
// The engine opens a span for every Evaluate call and for each tuning and
// meta-learner pass. This package builds the tracer it is given: a noop
// tracer when tracing is disabled, otherwise an SDK tracer provider that
// batches spans to an OTLP gRPC collector.
//
// # Sampling Strategies
//
// Three sampling strategies are supported, each wrapped in ParentBased:
//   - always: Sample all traces (development/debugging)
//   - never: Sample no traces
//   - ratio: Sample a fraction of traces by trace ID
//
// # Usage
//
//	tracer, err := tracing.New(&cfg.Telemetry.Tracing, tracing.WithServiceVersion(version))
//	if err != nil {
//	    return err
//	}
//	defer tracer.Shutdown(context.Background())
//
//	eng, err := engine.New(engineCfg, backend, engine.WithTracer(tracer.Tracer()))
//
// Short-lived commands such as "gatekeeper evaluate" call ForceFlush before
// exiting so their single span is not lost.
package tracing
