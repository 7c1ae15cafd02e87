// Package daemon implements the long-running serve mode.
//
// A Daemon owns an engine manager, a Prometheus collector and a health
// checker. Run serves /metrics, /healthz, /readyz and /version on
// telemetry.metrics.listen_address, runs the report and maintenance jobs
// on their cron schedules, and reloads the configuration file when
// daemon.watch_config is set:
//
//	d, err := daemon.New(cfg, daemon.Options{ConfigPath: path, Logger: logger})
//	if err != nil {
//	    return err
//	}
//	return d.Run(ctx)
//
// A reload that fails to build keeps the running engine.
package daemon
