package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"mercator-hq/gatekeeper/pkg/cli"
	"mercator-hq/gatekeeper/pkg/config"
)

// defaultConfigFile is read when present; without it the built-in defaults
// apply.
const defaultConfigFile = "gatekeeper.yaml"

var (
	// Global flags
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "gatekeeper",
	Short: "Gatekeeper - self-tuning policy enforcement for agent actions",
	Long: `Gatekeeper decides whether an agent action should be allowed, warned about
or blocked, and tunes itself from how users respond.

Each pattern moves through three phases:
  - OBSERVE: detections are counted, nothing is shown
  - WARN:    detections return a warning with remediation
  - ENFORCE: detections block unless an exception rule matches

Thresholds are adjusted from false-positive rate and ROI, and recurring
overrides are learned into exception rules.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return cli.ExitCode(err)
	}
	return cli.ExitOK
}

func init() {
	// Global persistent flags (available to all subcommands)
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", defaultConfigFile, "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}

// loadConfig reads the config file with environment overrides and installs
// it as the process-wide configuration. A missing default file falls back
// to the built-in defaults; a missing explicit file is an error.
func loadConfig() (*config.Config, error) {
	path := cfgFile
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) && !rootCmd.PersistentFlags().Changed("config") {
		cfg := config.Default()
		config.SetConfig(cfg)
		return cfg, nil
	}

	cfg, err := config.LoadConfigWithEnvOverrides(path)
	if err != nil {
		return nil, cli.NewConfigError("", fmt.Sprintf("failed to load config: %v", err))
	}
	config.SetConfig(cfg)
	return cfg, nil
}

// configPath returns the file the configuration was read from, or "" when
// the defaults are in use.
func configPath() string {
	if _, err := os.Stat(cfgFile); err != nil {
		return ""
	}
	return cfgFile
}
