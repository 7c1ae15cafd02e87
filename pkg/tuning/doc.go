// Package tuning defines the shared domain model of the gatekeeper engine.
//
// # Overview
//
// Gatekeeper decides, for every recurring behavioral pattern an automation
// framework cares about, whether a given occurrence should be allowed, warned
// about, or blocked. Each pattern moves through three enforcement phases:
//
//   - OBSERVE: detections are counted, nothing is surfaced
//   - WARN: the caller receives a warning with remediation text
//   - ENFORCE: the occurrence is blocked unless the caller overrides it
//
// The types in this package are persisted by the storage subpackage and
// evolved by the phase, autotune and learner subpackages. The engine
// subpackage ties them together behind a single Evaluate call.
//
// # Steps
//
// Time is measured in global steps: a monotonically increasing counter bumped
// once per Evaluate call across all patterns. All timestamps on PatternState
// and ExceptionRule (LastTunedAt, CreatedAt, ...) are step numbers. Wall clock
// time only appears on OverrideEvent for auditing.
package tuning
