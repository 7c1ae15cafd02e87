// Package engine is the decision engine.
//
// Engine.Evaluate is the only entry point callers need. Each call advances
// the global step counter, consults the pattern's exception rules, runs its
// detector, maps a match to ALLOW, WARN or BLOCK according to the pattern's
// phase, and persists the resulting counters with an optimistic
// read-modify-write. When the step lands on a tuning or learner interval the
// corresponding maintenance pass runs before Evaluate returns.
//
// Evaluate never returns an error. Storage failures, corrupt records,
// detector errors and panics all resolve to a valid Decision and surface
// only through logs, metrics and the report.
//
// Basic usage:
//
//	backend, _ := storage.NewFileBackend(".gatekeeper")
//	eng, _ := engine.New(engine.DefaultConfig(), backend)
//	eng.Register(engine.Pattern{Name: "repeated-retry", Detector: det})
//
//	d := eng.Evaluate(ctx, "repeated-retry", tuning.Context{RecentWindow: window})
//	if d.Action == tuning.ActionBlock {
//		// stop the workflow
//	}
package engine
