package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/trace"

	"mercator-hq/gatekeeper/pkg/config"
	"mercator-hq/gatekeeper/pkg/enginefactory"
	"mercator-hq/gatekeeper/pkg/telemetry/health"
	"mercator-hq/gatekeeper/pkg/telemetry/logging"
	"mercator-hq/gatekeeper/pkg/telemetry/metrics"
	"mercator-hq/gatekeeper/pkg/tuning/engine"
)

// Job names.
const (
	JobReport      = "report"
	JobMaintenance = "maintenance"
)

// Options configures a Daemon.
type Options struct {
	// ConfigPath is the file watched for changes. Empty disables watching.
	ConfigPath string

	// Logger is the process logger. Reloads adjust its level.
	Logger *logging.Logger

	// Tracer instruments the engine. Nil leaves it untraced.
	Tracer trace.Tracer

	// Registry receives the metrics. Nil creates a fresh registry.
	Registry *prometheus.Registry

	// Build information for /version and gatekeeper_build_info.
	Version   string
	GitCommit string
	BuildDate string
}

// Daemon is the long-running gatekeeper process. It serves /metrics and
// the health endpoints, runs the report and maintenance jobs on their cron
// schedules, and rebuilds the engine when the config file changes.
type Daemon struct {
	opts      Options
	logger    *logging.Logger
	log       *slog.Logger
	collector *metrics.Collector
	manager   *enginefactory.Manager
	checker   *health.Checker
	handler   http.Handler

	mu        sync.Mutex
	runCtx    context.Context
	scheduler *Scheduler
	schedules config.DaemonConfig
	addr      net.Addr
}

// New builds a daemon from cfg. The state store is opened immediately; call
// Run to start serving.
func New(cfg *config.Config, opts Options) (*Daemon, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}

	logger := opts.Logger
	if logger == nil {
		var err error
		logger, err = logging.New(logging.ConfigFrom(cfg.Telemetry.Logging))
		if err != nil {
			return nil, fmt.Errorf("failed to create logger: %w", err)
		}
	}
	log := logger.With("component", "daemon")

	collector := metrics.NewCollector(&cfg.Telemetry.Metrics, opts.Registry, metrics.BuildInfo{
		Version:   opts.Version,
		GitCommit: opts.GitCommit,
	})

	engineOpts := []engine.Option{
		engine.WithLogger(logger.Logger),
		engine.WithMetrics(collector.Engine()),
		engine.WithRedactor(logger.RedactFunc()),
	}
	if opts.Tracer != nil {
		engineOpts = append(engineOpts, engine.WithTracer(opts.Tracer))
	}

	manager, err := enginefactory.NewManager(cfg, logger.Logger, engineOpts...)
	if err != nil {
		return nil, err
	}

	d := &Daemon{
		opts:      opts,
		logger:    logger,
		log:       log,
		collector: collector,
		manager:   manager,
		checker:   health.New(2 * time.Second),
	}

	d.checker.RegisterCheck("store", health.StoreCheck(manager.Backend))
	d.checker.RegisterCheck("patterns", health.PatternsCheck(func() []string {
		return manager.Engine().Patterns()
	}))
	d.checker.RegisterCheck("scheduler", health.RunningCheck("scheduler", d.schedulerRunning))

	mux := http.NewServeMux()
	if cfg.Telemetry.Metrics.Enabled {
		mux.Handle(cfg.Telemetry.Metrics.Path, collector.Handler(log))
	}
	health.Register(mux, d.checker, opts.Version, opts.GitCommit, opts.BuildDate)
	d.handler = mux

	return d, nil
}

// Handler returns the HTTP handler serving metrics and health endpoints.
func (d *Daemon) Handler() http.Handler {
	return d.handler
}

// Manager returns the engine manager.
func (d *Daemon) Manager() *enginefactory.Manager {
	return d.manager
}

// Addr returns the address the HTTP server listens on, once Run has
// started it.
func (d *Daemon) Addr() net.Addr {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.addr
}

// Run serves until ctx is cancelled or the HTTP server fails, then shuts
// everything down within daemon.shutdown_timeout and closes the state
// store.
func (d *Daemon) Run(ctx context.Context) error {
	cfg := d.manager.Config()

	ln, err := net.Listen("tcp", cfg.Telemetry.Metrics.ListenAddress)
	if err != nil {
		d.manager.Close()
		return fmt.Errorf("failed to listen on %s: %w", cfg.Telemetry.Metrics.ListenAddress, err)
	}

	d.mu.Lock()
	d.addr = ln.Addr()
	d.runCtx = ctx
	d.mu.Unlock()

	if err := d.startScheduler(cfg.Daemon); err != nil {
		ln.Close()
		d.manager.Close()
		return err
	}

	var watcher *config.Watcher
	if cfg.Daemon.WatchConfig && d.opts.ConfigPath != "" {
		watcher, err = config.NewWatcher(d.opts.ConfigPath, cfg.Daemon.DebounceInterval, d.logger.With("component", "config-watcher"))
		if err != nil {
			d.log.Warn("Config watching disabled", "error", err)
		} else {
			watcher.OnError(func(err error) { d.collector.RecordReload(err) })
			go func() {
				if err := watcher.Watch(ctx, d.Reload); err != nil {
					d.log.Error("Config watcher exited", "error", err)
				}
			}()
		}
	}

	server := &http.Server{
		Handler:           d.handler,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errChan := make(chan error, 1)
	go func() {
		d.log.Info("Daemon listening",
			"address", ln.Addr().String(),
			"metrics", cfg.Telemetry.Metrics.Enabled,
			"patterns", len(d.manager.Engine().Patterns()),
		)
		if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- fmt.Errorf("server error: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		d.log.Info("Context cancelled, initiating shutdown")
	case runErr = <-errChan:
		d.log.Error("HTTP server failed, initiating shutdown", "error", runErr)
	}

	timeout := d.manager.Config().Daemon.ShutdownTimeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		d.log.Error("Error during server shutdown", "error", err)
		runErr = errors.Join(runErr, fmt.Errorf("server shutdown error: %w", err))
	}
	if watcher != nil {
		if err := watcher.Stop(); err != nil {
			d.log.Warn("Error stopping config watcher", "error", err)
		}
	}
	d.stopScheduler()
	d.mu.Lock()
	d.runCtx = nil
	d.mu.Unlock()
	if err := d.manager.Close(); err != nil {
		runErr = errors.Join(runErr, err)
	}

	d.log.Info("Daemon stopped")
	return runErr
}

// Reload applies a new configuration: the engine is rebuilt, the log level
// adjusted and the jobs rescheduled when their schedules changed. An
// invalid configuration leaves everything as it was.
func (d *Daemon) Reload(cfg *config.Config) {
	err := d.manager.Reload(cfg)
	d.collector.RecordReload(err)
	if err != nil {
		return
	}

	if err := d.logger.SetLevel(cfg.Telemetry.Logging.Level); err != nil {
		d.log.Warn("Keeping previous log level", "error", err)
	}

	d.mu.Lock()
	changed := d.schedules.ReportSchedule != cfg.Daemon.ReportSchedule ||
		d.schedules.MaintenanceSchedule != cfg.Daemon.MaintenanceSchedule
	running := d.runCtx != nil
	d.mu.Unlock()

	if changed && running {
		d.stopScheduler()
		if err := d.startScheduler(cfg.Daemon); err != nil {
			d.log.Error("Failed to reschedule jobs", "error", err)
		}
	}
}

// RunJob runs the named job once, outside its schedule.
func (d *Daemon) RunJob(ctx context.Context, name string) error {
	for _, job := range d.jobs(config.DaemonConfig{}) {
		if job.Name == name {
			start := time.Now()
			err := job.Run(ctx)
			d.collector.RecordJob(name, time.Since(start), err)
			return err
		}
	}
	return fmt.Errorf("unknown job %q", name)
}

func (d *Daemon) jobs(schedules config.DaemonConfig) []Job {
	return []Job{
		{
			Name:     JobReport,
			Schedule: schedules.ReportSchedule,
			Run: func(ctx context.Context) error {
				return d.manager.Engine().LogReport(ctx)
			},
		},
		{
			Name:     JobMaintenance,
			Schedule: schedules.MaintenanceSchedule,
			Run: func(ctx context.Context) error {
				tuned, learned, err := d.manager.Engine().Maintain(ctx)
				if err != nil {
					return err
				}
				d.log.InfoContext(ctx, "Maintenance pass complete",
					"tuned_patterns", tuned.Patterns,
					"rules_created", len(learned.Created),
					"rules_retired", len(learned.Retired),
				)
				return nil
			},
		},
	}
}

func (d *Daemon) startScheduler(schedules config.DaemonConfig) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	s := NewScheduler(d.logger.Logger, d.collector.RecordJob)
	if err := s.Start(d.runCtx, d.jobs(schedules)...); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	d.scheduler = s
	d.schedules = schedules
	return nil
}

func (d *Daemon) stopScheduler() {
	d.mu.Lock()
	s := d.scheduler
	d.mu.Unlock()

	if s != nil {
		s.Stop()
	}
}

func (d *Daemon) schedulerRunning() bool {
	d.mu.Lock()
	s := d.scheduler
	d.mu.Unlock()

	return s != nil && s.IsRunning()
}
