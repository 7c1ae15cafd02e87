package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"mercator-hq/gatekeeper/pkg/cli"
)

var reportFlags struct {
	format string
}

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Show the per-pattern report",
	Long: `Show phase, threshold, false-positive rate, ROI, rule counts and the latest
adjustments for every pattern with recorded state.

Examples:
  gatekeeper report
  gatekeeper report --format json`,
	RunE: runReport,
}

func init() {
	rootCmd.AddCommand(reportCmd)

	reportCmd.Flags().StringVar(&reportFlags.format, "format", "text", "output format: text, json")
}

func runReport(cmd *cobra.Command, args []string) error {
	if reportFlags.format == string(cli.FormatCSV) {
		return cli.NewConfigError("format", "report supports text and json")
	}

	ctx, s, err := newEngineSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	r, err := s.Engine().Report(ctx)
	if err != nil {
		return cli.NewCommandError("report", fmt.Errorf("failed to build report: %w", err))
	}
	return render(cmd, reportFlags.format, r)
}
