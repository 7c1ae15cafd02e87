package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"mercator-hq/gatekeeper/pkg/cli"
	"mercator-hq/gatekeeper/pkg/tuning"
)

var tuneCmd = &cobra.Command{
	Use:   "tune",
	Short: "Run a tuning pass now",
	Long: `Run an auto-tuning pass over every pattern at the current step, regardless
of engine.tuning_interval. Threshold adjustments and phase transitions are
printed and recorded in each pattern's adjustment history.`,
	RunE: runTune,
}

var learnCmd = &cobra.Command{
	Use:   "learn",
	Short: "Run a meta-learner pass now",
	Long: `Run a meta-learner pass over every pattern at the current step, regardless
of engine.learner_interval. Recurring overrides become exception rules and
stale rules are retired.`,
	RunE: runLearn,
}

func init() {
	rootCmd.AddCommand(tuneCmd, learnCmd)
}

func runTune(cmd *cobra.Command, args []string) error {
	ctx, s, err := newEngineSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	step, err := s.manager.Backend().CurrentStep(ctx)
	if err != nil {
		return cli.NewCommandError("tune", fmt.Errorf("failed to read step counter: %w", err))
	}

	res, err := s.Engine().Tune(ctx, step)
	if err != nil {
		return cli.NewCommandError("tune", err)
	}

	out := stdout(cmd)
	fmt.Fprintf(out, "Tuned %d patterns at step %d (%d changed, %d failed)\n", res.Patterns, res.Step, len(res.Changes), res.Failures)
	for _, ch := range res.Changes {
		if ch.Transition != nil {
			fmt.Fprintf(out, "  %s: %s -> %s (%s)\n", ch.Pattern, ch.Transition.From, ch.Transition.To, ch.Transition.Reason)
		}
		for _, a := range ch.Adjustments {
			if a.Field == tuning.FieldPhase {
				continue
			}
			fmt.Fprintf(out, "  %s: %s %s -> %s (%s)\n", ch.Pattern, a.Field, a.OldValue, a.NewValue, a.Reason)
		}
	}
	if res.Failures > 0 {
		return cli.NewCommandError("tune", fmt.Errorf("%d patterns failed to tune", res.Failures))
	}
	return nil
}

func runLearn(cmd *cobra.Command, args []string) error {
	ctx, s, err := newEngineSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	step, err := s.manager.Backend().CurrentStep(ctx)
	if err != nil {
		return cli.NewCommandError("learn", fmt.Errorf("failed to read step counter: %w", err))
	}

	res, err := s.Engine().Learn(ctx, step)
	if err != nil {
		return cli.NewCommandError("learn", err)
	}

	out := stdout(cmd)
	fmt.Fprintf(out, "Learned over %d patterns at step %d: %d created, %d refreshed, %d retired, %d suppressed\n",
		res.Patterns, res.Step, len(res.Created), len(res.Refreshed), len(res.Retired), res.Suppressed)
	for _, r := range res.Created {
		fmt.Fprintf(out, "  + %s %s [%s] support=%d\n", r.Pattern, r.ID, strings.Join(r.PredicateSummary, " "), r.SupportCount)
	}
	for _, r := range res.Retired {
		fmt.Fprintf(out, "  - %s %s [%s]\n", r.Pattern, r.ID, strings.Join(r.PredicateSummary, " "))
	}
	if res.Failures > 0 {
		return cli.NewCommandError("learn", fmt.Errorf("%d patterns failed to learn", res.Failures))
	}
	return nil
}
