package metrics

import (
	"runtime"
	"time"

	"mercator-hq/gatekeeper/pkg/config"
	"mercator-hq/gatekeeper/pkg/tuning/engine"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Collector owns the Prometheus registry of a gatekeeper process. It
// registers the runtime collectors, a build info gauge, the daemon metrics,
// and the engine metrics that every engine built by the process shares.
type Collector struct {
	config   *config.MetricsConfig
	registry *prometheus.Registry

	engineMetrics *engine.Metrics
	daemonMetrics *DaemonMetrics
}

// BuildInfo identifies the running binary.
type BuildInfo struct {
	Version   string
	GitCommit string
}

// NewCollector creates a collector with a fresh registry. If registry is
// nil, a new one is created; the default Prometheus registry is never used
// so tests can build collectors side by side.
//
// Example:
//
//	collector := metrics.NewCollector(&cfg.Telemetry.Metrics, nil, metrics.BuildInfo{Version: Version})
//	eng, err := engine.New(engineCfg, backend, engine.WithMetrics(collector.Engine()))
func NewCollector(cfg *config.MetricsConfig, registry *prometheus.Registry, build BuildInfo) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	// Set defaults if not specified
	if cfg.Namespace == "" {
		cfg.Namespace = config.DefaultMetricsNamespace
	}

	c := &Collector{
		config:   cfg,
		registry: registry,
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	buildInfo := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: cfg.Namespace,
			Name:      "build_info",
			Help:      "Build information of the running binary",
		},
		[]string{"version", "commit", "goversion"},
	)
	registry.MustRegister(buildInfo)
	buildInfo.WithLabelValues(build.Version, build.GitCommit, runtime.Version()).Set(1)

	c.engineMetrics = engine.NewMetrics(registry, cfg.Namespace)
	c.daemonMetrics = NewDaemonMetrics(cfg, registry)

	return c
}

// Engine returns the engine metrics, or nil when metrics are disabled so
// engine.WithMetrics leaves the engine uninstrumented.
func (c *Collector) Engine() *engine.Metrics {
	if !c.config.Enabled {
		return nil
	}
	return c.engineMetrics
}

// RecordReload records a configuration reload attempt.
func (c *Collector) RecordReload(err error) {
	if !c.config.Enabled {
		return
	}

	c.daemonMetrics.RecordReload(err)
}

// RecordJob records one run of a scheduled job.
func (c *Collector) RecordJob(job string, duration time.Duration, err error) {
	if !c.config.Enabled {
		return
	}

	c.daemonMetrics.RecordJob(job, duration, err)
}

// Registry returns the Prometheus registry used by this collector.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}
