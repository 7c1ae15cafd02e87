package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"mercator-hq/gatekeeper/pkg/cli"
)

var rulesFlags struct {
	pattern string
	all     bool
	format  string
}

var rulesCmd = &cobra.Command{
	Use:   "rules",
	Short: "Inspect learned exception rules",
	Long: `Inspect the exception rules the meta-learner created from recurring overrides.

Subcommands:
  list  - List rules for one or every pattern`,
}

var rulesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List exception rules",
	Long: `List exception rules. Retired rules are hidden unless --all is given.

Examples:
  # Active rules of every pattern
  gatekeeper rules list

  # Every rule of one pattern as CSV
  gatekeeper rules list --pattern retry-loop --all --format csv`,
	RunE: runRulesList,
}

func init() {
	rootCmd.AddCommand(rulesCmd)
	rulesCmd.AddCommand(rulesListCmd)

	rulesListCmd.Flags().StringVarP(&rulesFlags.pattern, "pattern", "p", "", "pattern name (default: every pattern)")
	rulesListCmd.Flags().BoolVar(&rulesFlags.all, "all", false, "include retired rules")
	rulesListCmd.Flags().StringVar(&rulesFlags.format, "format", "text", "output format: text, json, csv")
}

func runRulesList(cmd *cobra.Command, args []string) error {
	if _, err := cli.ParseOutputFormat(rulesFlags.format); err != nil {
		return err
	}

	ctx, s, err := newEngineSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	backend := s.manager.Backend()
	patterns := []string{rulesFlags.pattern}
	if rulesFlags.pattern == "" {
		patterns, err = backend.ListPatterns(ctx)
		if err != nil {
			return cli.NewCommandError("rules", fmt.Errorf("failed to list patterns: %w", err))
		}
	}

	list := ruleList{}
	for _, p := range patterns {
		rules, err := backend.ListRules(ctx, p)
		if err != nil {
			return cli.NewCommandError("rules", fmt.Errorf("failed to list rules for %q: %w", p, err))
		}
		for _, r := range rules {
			if r.Retired && !rulesFlags.all {
				continue
			}
			list = append(list, r)
		}
	}

	return render(cmd, rulesFlags.format, list)
}
