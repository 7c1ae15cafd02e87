package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"slices"

	"github.com/spf13/cobra"

	"mercator-hq/gatekeeper/pkg/cli"
	"mercator-hq/gatekeeper/pkg/tuning"
)

var evaluateFlags struct {
	pattern     string
	contextFile string
	format      string
}

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Evaluate one context against a pattern",
	Long: `Evaluate one call context against a configured pattern and print the decision.

The context is a JSON document read from stdin, or from --context:

  {
    "recent_window": [{"tool": "deploy"}, {"tool": "deploy"}],
    "override_signal": false,
    "compliance_signal": false,
    "free_text": "retrying deploy after timeout"
  }

Every call advances the step counter and updates the pattern's state.

Examples:
  # Evaluate from stdin
  echo '{"recent_window":[{"tool":"deploy"}]}' | gatekeeper evaluate --pattern retry-loop

  # Evaluate a file and print JSON
  gatekeeper evaluate --pattern retry-loop --context ctx.json --format json`,
	RunE: runEvaluate,
}

func init() {
	rootCmd.AddCommand(evaluateCmd)

	evaluateCmd.Flags().StringVarP(&evaluateFlags.pattern, "pattern", "p", "", "pattern name (required)")
	evaluateCmd.Flags().StringVar(&evaluateFlags.contextFile, "context", "", "context JSON file (default: stdin)")
	evaluateCmd.Flags().StringVar(&evaluateFlags.format, "format", "text", "output format: text, json")
	_ = evaluateCmd.MarkFlagRequired("pattern")
}

func runEvaluate(cmd *cobra.Command, args []string) error {
	if evaluateFlags.pattern == "" {
		return cli.NewConfigError("pattern", "--pattern is required")
	}
	if _, err := cli.ParseOutputFormat(evaluateFlags.format); err != nil {
		return err
	}

	c, err := readContext(cmd, evaluateFlags.contextFile)
	if err != nil {
		return cli.NewCommandError("evaluate", err)
	}

	ctx, s, err := newEngineSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	eng := s.Engine()
	if !slices.Contains(eng.Patterns(), evaluateFlags.pattern) {
		return cli.NewConfigError("pattern", fmt.Sprintf("pattern %q is not configured", evaluateFlags.pattern))
	}

	d := eng.Evaluate(ctx, evaluateFlags.pattern, c)
	if evaluateFlags.format == "json" {
		return render(cmd, evaluateFlags.format, d)
	}
	return render(cmd, evaluateFlags.format, decisionView(d))
}

// readContext decodes a Context from path, or from stdin when path is
// empty. Empty input is an empty Context.
func readContext(cmd *cobra.Command, path string) (tuning.Context, error) {
	var r io.Reader = stdin(cmd)
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return tuning.Context{}, fmt.Errorf("failed to open context file: %w", err)
		}
		defer f.Close()
		r = f
	}

	var c tuning.Context
	if err := json.NewDecoder(r).Decode(&c); err != nil && err != io.EOF {
		return tuning.Context{}, fmt.Errorf("failed to decode context: %w", err)
	}
	return c, nil
}
