package enginefactory

import (
	"fmt"
	"log/slog"
	"sync"

	"mercator-hq/gatekeeper/pkg/config"
	"mercator-hq/gatekeeper/pkg/tuning/engine"
	"mercator-hq/gatekeeper/pkg/tuning/storage"
)

// Manager owns the state store and the engine built over it, and swaps the
// engine when the configuration is reloaded.
//
// Manager is thread-safe and can be used concurrently.
type Manager struct {
	mu      sync.RWMutex
	cfg     *config.Config
	backend storage.Backend
	engine  *engine.Engine
	opts    []engine.Option
	logger  *slog.Logger
	closed  bool
}

// NewManager opens the configured backend and builds the first engine. The
// options (logger, metrics, tracer, redactor) are applied to every engine
// the manager builds, so collectors are registered once.
func NewManager(cfg *config.Config, logger *slog.Logger, opts ...engine.Option) (*Manager, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	backend, err := NewBackend(cfg.Storage)
	if err != nil {
		return nil, err
	}
	if fb, ok := backend.(*storage.FileBackend); ok {
		fb.SetLogger(logger)
	}

	eng, err := NewEngine(cfg, backend, opts...)
	if err != nil {
		backend.Close()
		return nil, err
	}

	m := &Manager{
		cfg:     cfg,
		backend: backend,
		engine:  eng,
		opts:    opts,
		logger:  logger.With("component", "manager"),
	}

	m.logger.Info("engine ready",
		"backend", backend.Name(),
		"patterns", len(eng.Patterns()),
	)
	return m, nil
}

// Engine returns the current engine.
func (m *Manager) Engine() *engine.Engine {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.engine
}

// Backend returns the state store.
func (m *Manager) Backend() storage.Backend {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.backend
}

// Config returns the configuration the current engine was built from.
func (m *Manager) Config() *config.Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// Reload rebuilds the engine from cfg over the existing backend. If the new
// configuration cannot produce an engine, the current one stays in place.
// Storage changes take effect on restart only.
func (m *Manager) Reload(cfg *config.Config) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return fmt.Errorf("manager is closed")
	}

	eng, err := NewEngine(cfg, m.backend, m.opts...)
	if err != nil {
		m.logger.Error("reload rejected, keeping current engine", "error", err)
		return fmt.Errorf("failed to rebuild engine: %w", err)
	}

	if cfg.Storage != m.cfg.Storage {
		m.logger.Warn("storage settings changed, restart to apply",
			"backend", m.backend.Name(),
			"requested", cfg.Storage.Backend,
		)
	}

	m.engine = eng
	m.cfg = cfg

	m.logger.Info("engine reloaded", "patterns", len(eng.Patterns()))
	return nil
}

// Close closes the state store. The engine must not be used afterwards.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true

	if err := m.backend.Close(); err != nil {
		return fmt.Errorf("failed to close state store: %w", err)
	}
	m.logger.Info("engine manager closed")
	return nil
}
