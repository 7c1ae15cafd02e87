package metrics

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler returns an HTTP handler for the Prometheus metrics endpoint.
//
// It should be mounted at telemetry.metrics.path (typically "/metrics").
// Collection errors are logged through logger and the remaining metrics are
// still served.
//
// Example:
//
//	collector := metrics.NewCollector(&cfg.Telemetry.Metrics, nil, metrics.BuildInfo{})
//	mux.Handle(cfg.Telemetry.Metrics.Path, collector.Handler(logger))
func (c *Collector) Handler(logger *slog.Logger) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}

	return promhttp.HandlerFor(
		c.registry,
		promhttp.HandlerOpts{
			// Enable OpenMetrics encoding (preferred over Prometheus text format)
			EnableOpenMetrics: true,

			Timeout:             10 * time.Second,
			MaxRequestsInFlight: 4,

			ErrorHandling: promhttp.ContinueOnError,
			ErrorLog:      slog.NewLogLogger(logger.Handler(), slog.LevelError),
		},
	)
}
