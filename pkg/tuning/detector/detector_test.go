package detector

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"mercator-hq/gatekeeper/pkg/tuning"
)

func TestInvoke_PassesThroughMatch(t *testing.T) {
	d := Func(func(ctx context.Context, in Input) (Match, error) {
		return Match{Matched: in.Threshold > 1, Score: in.Threshold}, nil
	})

	m, err := Invoke(context.Background(), d, Input{Threshold: 3})
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	if !m.Matched || m.Score != 3 {
		t.Errorf("Unexpected match: %+v", m)
	}
}

func TestInvoke_ErrorIsNoMatch(t *testing.T) {
	boom := errors.New("boom")
	d := Func(func(context.Context, Input) (Match, error) {
		return Match{Matched: true}, boom
	})

	m, err := Invoke(context.Background(), d, Input{})
	if m.Matched {
		t.Error("A failing detector must yield NoMatch")
	}
	if !errors.Is(err, boom) {
		t.Errorf("Expected the detector error, got %v", err)
	}
}

func TestInvoke_PanicIsNoMatch(t *testing.T) {
	d := Func(func(context.Context, Input) (Match, error) {
		panic("index out of range")
	})

	m, err := Invoke(context.Background(), d, Input{})
	if m.Matched {
		t.Error("A panicking detector must yield NoMatch")
	}
	var pe *PanicError
	if !errors.As(err, &pe) {
		t.Fatalf("Expected PanicError, got %v", err)
	}
	if pe.Value != "index out of range" || len(pe.Stack) == 0 {
		t.Errorf("Unexpected panic error: %+v", pe)
	}
}

func TestInvoke_NilDetector(t *testing.T) {
	m, err := Invoke(context.Background(), nil, Input{})
	if m.Matched || err == nil {
		t.Errorf("Expected NoMatch and an error, got %+v, %v", m, err)
	}
}

func window(entries ...string) tuning.Context {
	ctx := tuning.Context{}
	for _, e := range entries {
		ctx.RecentWindow = append(ctx.RecentWindow, json.RawMessage(e))
	}
	return ctx
}

func TestWindowDetector(t *testing.T) {
	retry := &WindowDetector{Path: "tool", Equals: "bash"}
	rmrf := &WindowDetector{Path: "args.command", Contains: "rm -rf"}
	raw := &WindowDetector{Contains: "deploy"}

	tests := []struct {
		name      string
		detector  *WindowDetector
		ctx       tuning.Context
		threshold float64
		want      bool
		wantScore float64
	}{
		{
			name:      "trailing run meets threshold",
			detector:  retry,
			ctx:       window(`{"tool":"edit"}`, `{"tool":"bash"}`, `{"tool":"bash"}`, `{"tool":"bash"}`),
			threshold: 3,
			want:      true,
			wantScore: 3,
		},
		{
			name:      "run broken by other action",
			detector:  retry,
			ctx:       window(`{"tool":"bash"}`, `{"tool":"bash"}`, `{"tool":"edit"}`, `{"tool":"bash"}`),
			threshold: 2,
			want:      false,
			wantScore: 1,
		},
		{
			name:      "fractional threshold rounds up",
			detector:  retry,
			ctx:       window(`{"tool":"bash"}`, `{"tool":"bash"}`),
			threshold: 2.5,
			want:      false,
			wantScore: 2,
		},
		{
			name:      "nested path contains",
			detector:  rmrf,
			ctx:       window(`{"tool":"bash","args":{"command":"sudo rm -rf /tmp/x"}}`),
			threshold: 1,
			want:      true,
			wantScore: 1,
		},
		{
			name:      "missing path never matches",
			detector:  rmrf,
			ctx:       window(`{"tool":"bash"}`),
			threshold: 1,
			want:      false,
		},
		{
			name:      "whole entry string",
			detector:  raw,
			ctx:       window(`"deploy to prod"`),
			threshold: 1,
			want:      true,
			wantScore: 1,
		},
		{
			name:      "empty window",
			detector:  retry,
			ctx:       tuning.Context{},
			threshold: 1,
			want:      false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := tt.detector.Detect(context.Background(), Input{Context: tt.ctx, Threshold: tt.threshold})
			if err != nil {
				t.Fatalf("Detect failed: %v", err)
			}
			if m.Matched != tt.want {
				t.Errorf("Matched = %v, want %v", m.Matched, tt.want)
			}
			if m.Score != tt.wantScore {
				t.Errorf("Score = %v, want %v", m.Score, tt.wantScore)
			}
		})
	}
}

func TestFromSpec(t *testing.T) {
	if _, err := FromSpec(Spec{Kind: "window", Path: "tool", Equals: "bash"}); err != nil {
		t.Errorf("FromSpec(window) failed: %v", err)
	}
	if _, err := FromSpec(Spec{Kind: "window", Path: "tool"}); err == nil {
		t.Error("Expected error for window detector without a condition")
	}
	if _, err := FromSpec(Spec{Kind: "regex"}); err == nil {
		t.Error("Expected error for unknown kind")
	}
}
