package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"mercator-hq/gatekeeper/pkg/cli"
	"mercator-hq/gatekeeper/pkg/config"
	"mercator-hq/gatekeeper/pkg/daemon"
)

var serveFlags struct {
	listenAddress string
	logLevel      string
	watch         bool
	dryRun        bool
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the metrics and health daemon",
	Long: `Run gatekeeper as a long-lived process.

The daemon serves Prometheus metrics, /healthz, /readyz and /version on
telemetry.metrics.listen_address, logs the pattern report and runs
maintenance passes on the daemon schedules, and reloads the config file
when it changes (daemon.watch_config or --watch).

Examples:
  # Start with the default config file
  gatekeeper serve

  # Override the listen address and watch the config
  gatekeeper serve --config /etc/gatekeeper/gatekeeper.yaml --listen 0.0.0.0:9464 --watch

  # Validate the config without starting
  gatekeeper serve --dry-run`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVarP(&serveFlags.listenAddress, "listen", "l", "", "override listen address")
	serveCmd.Flags().StringVar(&serveFlags.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	serveCmd.Flags().BoolVar(&serveFlags.watch, "watch", false, "reload the config file when it changes")
	serveCmd.Flags().BoolVar(&serveFlags.dryRun, "dry-run", false, "validate config without starting the daemon")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, s, err := newSession(cmd)
	if err != nil {
		return err
	}
	defer s.Close()

	cfg := s.cfg
	if serveFlags.listenAddress != "" {
		cfg.Telemetry.Metrics.ListenAddress = serveFlags.listenAddress
	}
	if serveFlags.logLevel != "" {
		if err := s.logger.SetLevel(serveFlags.logLevel); err != nil {
			return cli.NewConfigError("log-level", err.Error())
		}
		cfg.Telemetry.Logging.Level = serveFlags.logLevel
	}
	if serveFlags.watch {
		cfg.Daemon.WatchConfig = true
	}
	if err := config.Validate(cfg); err != nil {
		return err
	}

	if serveFlags.dryRun {
		fmt.Fprintf(stdout(cmd), "✓ Configuration valid (%d patterns, %s store)\n", len(cfg.Patterns), cfg.Storage.Backend)
		return nil
	}

	opts := daemon.Options{
		ConfigPath: configPath(),
		Logger:     s.logger,
		Version:    Version,
		GitCommit:  GitCommit,
		BuildDate:  BuildDate,
	}
	if s.tracer.Enabled() {
		opts.Tracer = s.tracer.Tracer()
	}

	d, err := daemon.New(cfg, opts)
	if err != nil {
		return cli.NewCommandError("serve", err)
	}

	ctx, stop := cli.SetupSignalHandler(ctx)
	defer stop()

	s.logger.InfoContext(ctx, "Starting gatekeeper daemon",
		"version", Version,
		"config", opts.ConfigPath,
		"listen_address", cfg.Telemetry.Metrics.ListenAddress,
		"patterns", len(cfg.Patterns),
	)
	if err := d.Run(ctx); err != nil {
		return cli.NewCommandError("serve", err)
	}
	return nil
}
