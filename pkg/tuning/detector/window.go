package detector

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/tidwall/gjson"
)

// WindowDetector matches when the trailing run of recent_window entries
// whose Path value satisfies the condition is at least Threshold long.
//
// Entries are raw JSON values; Path uses gjson syntax, e.g. "tool" or
// "args.command". An empty Path matches against the whole entry.
type WindowDetector struct {
	// Path selects the value to test in each entry.
	Path string

	// Equals requires the selected value to equal this string.
	Equals string

	// Contains requires the selected value to contain this substring.
	Contains string
}

// Validate checks that at least one condition is configured.
func (w *WindowDetector) Validate() error {
	if w.Equals == "" && w.Contains == "" {
		return fmt.Errorf("window detector needs equals or contains")
	}
	return nil
}

// Detect implements Detector.
func (w *WindowDetector) Detect(ctx context.Context, in Input) (Match, error) {
	if err := w.Validate(); err != nil {
		return NoMatch, err
	}

	window := in.Window()
	run := 0
	for i := len(window) - 1; i >= 0; i-- {
		if !w.entryMatches(window[i]) {
			break
		}
		run++
	}

	need := int(math.Ceil(in.Threshold))
	if need < 1 {
		need = 1
	}
	if run < need {
		return Match{Score: float64(run)}, nil
	}
	return Match{
		Matched: true,
		Score:   float64(run),
		Detail:  fmt.Sprintf("%d consecutive matching actions (threshold %d)", run, need),
	}, nil
}

func (w *WindowDetector) entryMatches(entry []byte) bool {
	var value string
	if w.Path == "" {
		value = gjson.ParseBytes(entry).String()
	} else {
		res := gjson.GetBytes(entry, w.Path)
		if !res.Exists() {
			return false
		}
		value = res.String()
	}

	if w.Equals != "" && value != w.Equals {
		return false
	}
	if w.Contains != "" && !strings.Contains(value, w.Contains) {
		return false
	}
	return true
}

// Spec describes a detector in configuration.
type Spec struct {
	Kind     string
	Path     string
	Equals   string
	Contains string
}

// FromSpec builds a detector from configuration.
func FromSpec(spec Spec) (Detector, error) {
	switch spec.Kind {
	case "", "window":
		d := &WindowDetector{Path: spec.Path, Equals: spec.Equals, Contains: spec.Contains}
		if err := d.Validate(); err != nil {
			return nil, err
		}
		return d, nil
	default:
		return nil, fmt.Errorf("unknown detector kind %q", spec.Kind)
	}
}
