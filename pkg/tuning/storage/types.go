package storage

import (
	"context"
	"fmt"
	"time"

	"mercator-hq/gatekeeper/pkg/tuning"
)

// Backend defines the interface for pattern state persistence.
// Implementations must be safe for concurrent use by multiple goroutines
// and, for durable backends, by multiple processes sharing the same store.
type Backend interface {
	// Name returns the backend identifier used in logs and errors.
	Name() string

	// Load retrieves the state for a pattern.
	// Returns tuning.ErrNotFound if no state exists and an error wrapping
	// tuning.ErrCorruptState if the stored record cannot be decoded.
	Load(ctx context.Context, pattern string) (*tuning.PatternState, error)

	// Save persists state if the stored version still equals state.Version.
	// A zero version requires that no record exists. On success the stored
	// version and state.Version are both incremented. Returns an error
	// wrapping tuning.ErrConflict when another writer got there first.
	Save(ctx context.Context, state *tuning.PatternState) error

	// Delete removes the state for a pattern. No-op if it doesn't exist.
	Delete(ctx context.Context, pattern string) error

	// ListPatterns returns the names of all patterns with persisted state,
	// sorted lexically.
	ListPatterns(ctx context.Context) ([]string, error)

	// NextStep atomically increments and returns the global step counter.
	NextStep(ctx context.Context) (int64, error)

	// CurrentStep returns the global step counter without incrementing it.
	CurrentStep(ctx context.Context) (int64, error)

	// AppendOverride appends an event to the override ledger.
	AppendOverride(ctx context.Context, event *tuning.OverrideEvent) error

	// ListOverrides returns at most limit of the most recent events for a
	// pattern, oldest first. A non-positive limit returns all of them.
	ListOverrides(ctx context.Context, pattern string, limit int) ([]*tuning.OverrideEvent, error)

	// ListRules returns every rule of a pattern, retired ones included,
	// in creation order.
	ListRules(ctx context.Context, pattern string) ([]*tuning.ExceptionRule, error)

	// UpsertRule inserts or supersedes a rule under the same version
	// semantics as Save.
	UpsertRule(ctx context.Context, rule *tuning.ExceptionRule) error

	// Close releases any resources held by the backend.
	Close() error
}

// Config selects and configures a backend.
type Config struct {
	// Backend is one of "file", "sqlite" or "memory".
	Backend string

	// Dir is the root directory of the file backend.
	Dir string

	// SQLitePath is the database file of the sqlite backend.
	SQLitePath string

	// SQLiteDriver is "sqlite" (modernc, pure Go) or "sqlite3" (mattn, cgo).
	SQLiteDriver string

	// BusyTimeout is how long sqlite waits on a locked database.
	BusyTimeout time.Duration

	// WALMode enables write-ahead logging for sqlite.
	WALMode bool
}

// Open creates the backend described by cfg.
func Open(cfg Config) (Backend, error) {
	switch cfg.Backend {
	case "", "file":
		return NewFileBackend(cfg.Dir)
	case "sqlite":
		return NewSQLiteBackend(SQLiteConfig{
			Path:        cfg.SQLitePath,
			Driver:      cfg.SQLiteDriver,
			BusyTimeout: cfg.BusyTimeout,
			WALMode:     cfg.WALMode,
		})
	case "memory":
		return NewMemoryBackend(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}
