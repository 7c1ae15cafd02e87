// Package phase implements the OBSERVE / WARN / ENFORCE state machine.
//
// The only legal edges are OBSERVE→WARN, WARN→ENFORCE and the ENFORCE→WARN
// backtrack. Transitions are judged by Next on windowed Signals computed by
// the auto-tuner, and applied by Apply, which refuses a second transition in
// the same step. Decide maps a matched detection to an action for the
// pattern's current phase.
package phase
