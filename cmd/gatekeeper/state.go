package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"mercator-hq/gatekeeper/pkg/cli"
	"mercator-hq/gatekeeper/pkg/tuning"
)

var stateFlags struct {
	pattern string
	format  string
}

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Inspect persisted pattern state",
}

var stateShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the persisted state of a pattern",
	Long: `Show the persisted state of a pattern: phase, threshold, counters, the
rolling outcome window size and the adjustment history.

Examples:
  gatekeeper state show --pattern retry-loop
  gatekeeper state show --pattern retry-loop --format json`,
	RunE: runStateShow,
}

func init() {
	rootCmd.AddCommand(stateCmd)
	stateCmd.AddCommand(stateShowCmd)

	stateShowCmd.Flags().StringVarP(&stateFlags.pattern, "pattern", "p", "", "pattern name (required)")
	stateShowCmd.Flags().StringVar(&stateFlags.format, "format", "text", "output format: text, json, csv")
	_ = stateShowCmd.MarkFlagRequired("pattern")
}

func runStateShow(cmd *cobra.Command, args []string) error {
	if stateFlags.pattern == "" {
		return cli.NewConfigError("pattern", "--pattern is required")
	}
	if _, err := cli.ParseOutputFormat(stateFlags.format); err != nil {
		return err
	}

	ctx, s, err := newEngineSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	state, err := s.manager.Backend().Load(ctx, stateFlags.pattern)
	switch {
	case errors.Is(err, tuning.ErrNotFound):
		return cli.NewCommandError("state", fmt.Errorf("no state recorded for pattern %q", stateFlags.pattern))
	case err != nil:
		return cli.NewCommandError("state", fmt.Errorf("failed to load state: %w", err))
	}

	if stateFlags.format == string(cli.FormatJSON) {
		return render(cmd, stateFlags.format, state)
	}
	return render(cmd, stateFlags.format, stateView{state})
}
