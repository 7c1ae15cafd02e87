package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"mercator-hq/gatekeeper/pkg/cli"
)

var overridesFlags struct {
	pattern string
	limit   int
	format  string
}

var overridesCmd = &cobra.Command{
	Use:   "overrides",
	Short: "Inspect the override ledger",
}

var overridesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recorded overrides of a pattern",
	Long: `List the most recent override events of a pattern, oldest first.
Excerpts are stored redacted.

Examples:
  gatekeeper overrides list --pattern retry-loop
  gatekeeper overrides list --pattern retry-loop --limit 0 --format csv`,
	RunE: runOverridesList,
}

func init() {
	rootCmd.AddCommand(overridesCmd)
	overridesCmd.AddCommand(overridesListCmd)

	overridesListCmd.Flags().StringVarP(&overridesFlags.pattern, "pattern", "p", "", "pattern name (required)")
	overridesListCmd.Flags().IntVar(&overridesFlags.limit, "limit", 50, "max events (0 for all)")
	overridesListCmd.Flags().StringVar(&overridesFlags.format, "format", "text", "output format: text, json, csv")
	_ = overridesListCmd.MarkFlagRequired("pattern")
}

func runOverridesList(cmd *cobra.Command, args []string) error {
	if overridesFlags.pattern == "" {
		return cli.NewConfigError("pattern", "--pattern is required")
	}
	if overridesFlags.limit < 0 {
		return cli.NewConfigError("limit", "--limit must be non-negative")
	}
	if _, err := cli.ParseOutputFormat(overridesFlags.format); err != nil {
		return err
	}

	ctx, s, err := newEngineSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	events, err := s.manager.Backend().ListOverrides(ctx, overridesFlags.pattern, overridesFlags.limit)
	if err != nil {
		return cli.NewCommandError("overrides", fmt.Errorf("failed to list overrides: %w", err))
	}
	return render(cmd, overridesFlags.format, overrideList(events))
}
