package detector

import (
	"context"
	"encoding/json"
	"fmt"
	"runtime/debug"

	"mercator-hq/gatekeeper/pkg/tuning"
)

// Input is what a detector sees for a single evaluation.
type Input struct {
	// Context is the caller-supplied situation.
	Context tuning.Context

	// Threshold is the pattern's current detection threshold. Detectors
	// interpret it in their own units, typically a count of occurrences.
	Threshold float64
}

// Window returns the caller's trailing actions.
func (in Input) Window() []json.RawMessage {
	return in.Context.RecentWindow
}

// Match is the result of a detection.
type Match struct {
	// Matched reports whether the pattern was observed.
	Matched bool

	// Score is an optional detector-specific strength of the match.
	Score float64

	// Detail is an optional human-readable explanation.
	Detail string
}

// NoMatch is the zero Match.
var NoMatch = Match{}

// Detector decides whether a pattern occurred. Implementations live outside
// the engine; they must be side-effect free with respect to engine state.
type Detector interface {
	Detect(ctx context.Context, in Input) (Match, error)
}

// Func adapts an ordinary function to the Detector interface.
type Func func(ctx context.Context, in Input) (Match, error)

// Detect calls f.
func (f Func) Detect(ctx context.Context, in Input) (Match, error) {
	return f(ctx, in)
}

// PanicError wraps a value recovered from a panicking detector.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("detector panicked: %v", e.Value)
}

// Invoke calls d and converts both errors and panics into NoMatch. The
// returned error describes the failure for logging and metrics; callers must
// not propagate it.
func Invoke(ctx context.Context, d Detector, in Input) (m Match, err error) {
	if d == nil {
		return NoMatch, fmt.Errorf("no detector configured")
	}

	defer func() {
		if r := recover(); r != nil {
			m = NoMatch
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()

	m, err = d.Detect(ctx, in)
	if err != nil {
		return NoMatch, err
	}
	return m, nil
}
