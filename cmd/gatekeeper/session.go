package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"mercator-hq/gatekeeper/pkg/cli"
	"mercator-hq/gatekeeper/pkg/config"
	"mercator-hq/gatekeeper/pkg/enginefactory"
	"mercator-hq/gatekeeper/pkg/telemetry/logging"
	"mercator-hq/gatekeeper/pkg/telemetry/tracing"
	"mercator-hq/gatekeeper/pkg/tuning/engine"
)

// flushTimeout bounds how long a one-shot command waits for span export.
const flushTimeout = 5 * time.Second

// session holds what a single command invocation needs: the loaded
// config, the logger, the tracer and, for engine commands, the engine
// manager. Close releases all of them.
type session struct {
	cfg     *config.Config
	logger  *logging.Logger
	tracer  *tracing.Tracer
	manager *enginefactory.Manager
}

// newSession loads the configuration and builds the logger and tracer.
// The returned context carries the process and command names for log
// correlation.
func newSession(cmd *cobra.Command) (context.Context, *session, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}

	logCfg := logging.ConfigFrom(cfg.Telemetry.Logging)
	if verbose {
		logCfg.Level = "debug"
	}
	logger, err := logging.New(logCfg)
	if err != nil {
		return nil, nil, cli.NewConfigError("telemetry.logging", err.Error())
	}

	tracer, err := tracing.New(&cfg.Telemetry.Tracing, tracing.WithServiceVersion(Version))
	if err != nil {
		_ = logger.Shutdown()
		return nil, nil, cli.NewConfigError("telemetry.tracing", err.Error())
	}

	ctx := context.Background()
	name := "gatekeeper"
	if cmd != nil {
		if c := cmd.Context(); c != nil {
			ctx = c
		}
		name = cmd.CommandPath()
	}
	if host, err := os.Hostname(); err == nil {
		ctx = logging.WithProcess(ctx, fmt.Sprintf("%s/%d", host, os.Getpid()))
	}
	ctx = logging.WithCommand(ctx, name)

	return ctx, &session{cfg: cfg, logger: logger, tracer: tracer}, nil
}

// newEngineSession is newSession plus an engine over the configured state
// store.
func newEngineSession(cmd *cobra.Command) (context.Context, *session, error) {
	ctx, s, err := newSession(cmd)
	if err != nil {
		return nil, nil, err
	}

	opts := []engine.Option{
		engine.WithLogger(s.logger.Logger),
		engine.WithRedactor(s.logger.RedactFunc()),
	}
	if s.tracer.Enabled() {
		opts = append(opts, engine.WithTracer(s.tracer.Tracer()))
	}

	s.manager, err = enginefactory.NewManager(s.cfg, s.logger.Logger, opts...)
	if err != nil {
		s.Close()
		return nil, nil, cli.NewCommandError(commandName(cmd), err)
	}
	return ctx, s, nil
}

// Engine returns the session's engine.
func (s *session) Engine() *engine.Engine {
	return s.manager.Engine()
}

// Close closes the state store, exports pending spans and closes the log
// file.
func (s *session) Close() error {
	var errs []error
	if s.manager != nil {
		errs = append(errs, s.manager.Close())
	}

	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	if err := s.tracer.ForceFlush(ctx); err != nil {
		s.logger.Warn("Failed to flush spans", "error", err)
	}
	errs = append(errs, s.tracer.Shutdown(ctx))
	errs = append(errs, s.logger.Shutdown())
	return errors.Join(errs...)
}

func commandName(cmd *cobra.Command) string {
	if cmd == nil {
		return "gatekeeper"
	}
	return cmd.Name()
}

func stdout(cmd *cobra.Command) io.Writer {
	if cmd == nil {
		return os.Stdout
	}
	return cmd.OutOrStdout()
}

func stdin(cmd *cobra.Command) io.Reader {
	if cmd == nil {
		return os.Stdin
	}
	return cmd.InOrStdin()
}

// render writes data in the requested --format.
func render(cmd *cobra.Command, format string, data any) error {
	f, err := cli.ParseOutputFormat(format)
	if err != nil {
		return err
	}
	formatter := cli.NewFormatter(f)
	return formatter.FormatTo(stdout(cmd), data)
}
