// Package enginefactory builds decision engines from configuration.
//
// NewBackend opens the configured state store, EngineConfig maps the engine
// YAML section onto engine.Config, and Patterns turns pattern entries into
// window detectors. NewEngine combines them for one-shot commands, while
// Manager keeps a backend open and swaps engines on config reload for the
// daemon:
//
//	mgr, err := enginefactory.NewManager(cfg, logger,
//	    engine.WithLogger(logger),
//	    engine.WithMetrics(metrics),
//	)
//	if err != nil {
//	    return err
//	}
//	defer mgr.Close()
//
//	decision := mgr.Engine().Evaluate(ctx, "retry-loop", c)
package enginefactory
