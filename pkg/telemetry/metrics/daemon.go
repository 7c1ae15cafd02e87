package metrics

import (
	"time"

	"mercator-hq/gatekeeper/pkg/config"

	"github.com/prometheus/client_golang/prometheus"
)

// DaemonMetrics tracks the serve command's own activity.
//
// Metrics:
//   - gatekeeper_daemon_config_reloads_total: Config reloads by result
//   - gatekeeper_daemon_jobs_total: Scheduled job runs by job and result
//   - gatekeeper_daemon_job_duration_seconds: Scheduled job duration
//   - gatekeeper_daemon_last_job_success_timestamp_seconds: Last successful run per job
type DaemonMetrics struct {
	configReloads  *prometheus.CounterVec
	jobsTotal      *prometheus.CounterVec
	jobDuration    *prometheus.HistogramVec
	lastJobSuccess *prometheus.GaugeVec
}

// NewDaemonMetrics creates and registers daemon metrics with the provided registry.
func NewDaemonMetrics(cfg *config.MetricsConfig, registry *prometheus.Registry) *DaemonMetrics {
	dm := &DaemonMetrics{
		configReloads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: "daemon",
				Name:      "config_reloads_total",
				Help:      "Total number of configuration reloads",
			},
			[]string{"result"},
		),

		jobsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: cfg.Namespace,
				Subsystem: "daemon",
				Name:      "jobs_total",
				Help:      "Total number of scheduled job runs",
			},
			[]string{"job", "result"},
		),

		jobDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: cfg.Namespace,
				Subsystem: "daemon",
				Name:      "job_duration_seconds",
				Help:      "Duration of scheduled job runs in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8), // 1ms to ~16s
			},
			[]string{"job"},
		),

		lastJobSuccess: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: cfg.Namespace,
				Subsystem: "daemon",
				Name:      "last_job_success_timestamp_seconds",
				Help:      "Unix time of the last successful run of each job",
			},
			[]string{"job"},
		),
	}

	registry.MustRegister(
		dm.configReloads,
		dm.jobsTotal,
		dm.jobDuration,
		dm.lastJobSuccess,
	)

	return dm
}

// RecordReload records a configuration reload attempt.
func (dm *DaemonMetrics) RecordReload(err error) {
	dm.configReloads.WithLabelValues(result(err)).Inc()
}

// RecordJob records one run of a scheduled job.
//
// Parameters:
//   - job: Job name ("report", "maintenance")
//   - duration: Time taken by the run
//   - err: The run's error, nil on success
func (dm *DaemonMetrics) RecordJob(job string, duration time.Duration, err error) {
	dm.jobsTotal.WithLabelValues(job, result(err)).Inc()
	dm.jobDuration.WithLabelValues(job).Observe(duration.Seconds())
	if err == nil {
		dm.lastJobSuccess.WithLabelValues(job).SetToCurrentTime()
	}
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
