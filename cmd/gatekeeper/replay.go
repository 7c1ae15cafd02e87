package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"slices"

	"github.com/spf13/cobra"

	"mercator-hq/gatekeeper/pkg/cli"
	"mercator-hq/gatekeeper/pkg/tuning"
)

// maxContextLine bounds one JSONL context line.
const maxContextLine = 4 << 20

var replayFlags struct {
	pattern  string
	file     string
	progress bool
	format   string
}

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Evaluate a recorded stream of contexts",
	Long: `Evaluate every context of a JSONL file against a pattern, in order, as if
the calls had arrived one by one. State, overrides and maintenance passes
are applied exactly as for live calls, so a replay can bootstrap a store
from recorded traffic.

Each line is one context document, as accepted by "gatekeeper evaluate".
Blank lines are skipped.

Examples:
  gatekeeper replay --pattern retry-loop --file contexts.jsonl
  gatekeeper replay --pattern retry-loop --file - --progress < contexts.jsonl`,
	RunE: runReplay,
}

func init() {
	rootCmd.AddCommand(replayCmd)

	replayCmd.Flags().StringVarP(&replayFlags.pattern, "pattern", "p", "", "pattern name (required)")
	replayCmd.Flags().StringVarP(&replayFlags.file, "file", "f", "", "JSONL contexts file, - for stdin (required)")
	replayCmd.Flags().BoolVar(&replayFlags.progress, "progress", false, "show progress on stderr")
	replayCmd.Flags().StringVar(&replayFlags.format, "format", "text", "summary format: text, json, csv")
	_ = replayCmd.MarkFlagRequired("pattern")
	_ = replayCmd.MarkFlagRequired("file")
}

func runReplay(cmd *cobra.Command, args []string) error {
	if replayFlags.pattern == "" {
		return cli.NewConfigError("pattern", "--pattern is required")
	}
	if replayFlags.file == "" {
		return cli.NewConfigError("file", "--file is required")
	}
	if _, err := cli.ParseOutputFormat(replayFlags.format); err != nil {
		return err
	}

	contexts, err := readContexts(cmd, replayFlags.file)
	if err != nil {
		return cli.NewCommandError("replay", err)
	}

	ctx, s, err := newEngineSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	eng := s.Engine()
	if !slices.Contains(eng.Patterns(), replayFlags.pattern) {
		return cli.NewConfigError("pattern", fmt.Sprintf("pattern %q is not configured", replayFlags.pattern))
	}

	var progress cli.ProgressReporter
	if replayFlags.progress {
		progress = cli.NewProgressReporter(os.Stderr, "contexts")
		progress.Start(int64(len(contexts)))
	}

	tally := actionTally{}
	for i, c := range contexts {
		if err := ctx.Err(); err != nil {
			if progress != nil {
				progress.Error(err)
			}
			return cli.NewCommandError("replay", err)
		}
		d := eng.Evaluate(ctx, replayFlags.pattern, c)
		tally[d.Action]++
		if progress != nil {
			progress.Update(int64(i + 1))
		}
	}
	if progress != nil {
		progress.Finish()
	}

	if replayFlags.format == string(cli.FormatJSON) {
		return render(cmd, replayFlags.format, map[tuning.Action]int(tally))
	}
	return render(cmd, replayFlags.format, tally)
}

// readContexts decodes one Context per non-blank line of path.
func readContexts(cmd *cobra.Command, path string) ([]tuning.Context, error) {
	var r io.Reader = stdin(cmd)
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open contexts file: %w", err)
		}
		defer f.Close()
		r = f
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxContextLine)

	var contexts []tuning.Context
	line := 0
	for scanner.Scan() {
		line++
		raw := bytes.TrimSpace(scanner.Bytes())
		if len(raw) == 0 {
			continue
		}
		var c tuning.Context
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, fmt.Errorf("line %d: failed to decode context: %w", line, err)
		}
		contexts = append(contexts, c)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read contexts: %w", err)
	}
	return contexts, nil
}
