package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeContexts(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "contexts.jsonl")
	if err := os.WriteFile(path, []byte(strings.Join(lines, "\n")+"\n"), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestReplay(t *testing.T) {
	useTestConfig(t)

	replayFlags.pattern = "retry-loop"
	replayFlags.file = writeContexts(t,
		deployContext(5, ""),
		"",
		deployContext(1, ""),
		deployContext(4, `,"free_text":"retry after timeout"`),
	)
	replayFlags.progress = false
	replayFlags.format = "json"
	out := capture(t, replayCmd, "")

	if err := runReplay(replayCmd, nil); err != nil {
		t.Fatalf("runReplay() error = %v", err)
	}

	var tally map[string]int
	if err := json.Unmarshal(out.Bytes(), &tally); err != nil {
		t.Fatalf("output is not a tally: %v\n%s", err, out)
	}
	if tally["ALLOW"] != 3 || len(tally) != 1 {
		t.Errorf("tally = %v, want 3 ALLOW", tally)
	}

	stateFlags.pattern = "retry-loop"
	stateFlags.format = "json"
	out = capture(t, stateShowCmd, "")
	if err := runStateShow(stateShowCmd, nil); err != nil {
		t.Fatalf("runStateShow() error = %v", err)
	}
	// The single-deploy context is below threshold.
	if !strings.Contains(out.String(), `"detections": 2`) {
		t.Errorf("unexpected state after replay:\n%s", out)
	}
}

func TestReplay_Stdin(t *testing.T) {
	useTestConfig(t)

	replayFlags.pattern = "retry-loop"
	replayFlags.file = "-"
	replayFlags.progress = false
	replayFlags.format = "text"
	out := capture(t, replayCmd, deployContext(3, "")+"\n"+deployContext(3, "")+"\n")

	if err := runReplay(replayCmd, nil); err != nil {
		t.Fatalf("runReplay() error = %v", err)
	}
	if !strings.Contains(out.String(), "ACTION") || !strings.Contains(out.String(), "ALLOW   2") {
		t.Errorf("unexpected output:\n%s", out)
	}
}

func TestReadContexts_BadLine(t *testing.T) {
	path := writeContexts(t, deployContext(1, ""), `{"recent_window": nope}`)

	_, err := readContexts(nil, path)
	if err == nil || !strings.Contains(err.Error(), "line 2") {
		t.Errorf("readContexts() error = %v, want line 2 error", err)
	}
}
