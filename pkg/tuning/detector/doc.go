// Package detector defines the contract between the engine and the external
// detectors that recognize behavioral patterns.
//
// A Detector receives the caller's Context and the pattern's current
// threshold and reports whether the pattern occurred. The engine calls
// detectors through Invoke, which turns errors and panics into NoMatch so a
// faulty detector can never block a caller.
//
// WindowDetector is a generic, configuration-driven detector that inspects
// the caller's recent actions with gjson paths. It backs the patterns
// declared in the gatekeeper configuration file.
package detector
