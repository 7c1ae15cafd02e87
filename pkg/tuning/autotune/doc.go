// Package autotune implements the periodic tuning pass.
//
// Every Interval global steps the Tuner visits each persisted pattern,
// computes its false-positive rate and ROI over the trailing window of
// outcomes recorded in the current phase, applies at most one phase
// transition, and moves the detection threshold by one unit:
//
//   - fp above the phase machine's fp ceiling loosens (+1, capped at max)
//   - fp below FPFloor with ROI above ROIHigh tightens (-1, floored at min)
//
// Every change is appended to the pattern's bounded adjustment history.
package autotune
