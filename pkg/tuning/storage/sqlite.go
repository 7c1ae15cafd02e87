package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3" // cgo SQLite driver ("sqlite3")
	_ "modernc.org/sqlite"          // pure Go SQLite driver ("sqlite")

	"mercator-hq/gatekeeper/pkg/tuning"
)

// SQLiteBackend implements Backend on a single SQLite database.
//
// Pattern states and rules carry a version column; every write is a
// conditional UPDATE (or a conflict-checked INSERT) so that stale writers
// observe zero affected rows and report tuning.ErrConflict. The step
// counter is incremented inside an immediate transaction.
type SQLiteBackend struct {
	db        *sql.DB
	dbPath    string
	driver    string
	mu        sync.RWMutex
	closeOnce sync.Once

	loadStmt      *sql.Stmt
	insertStmt    *sql.Stmt
	updateStmt    *sql.Stmt
	deleteStmt    *sql.Stmt
	appendStmt    *sql.Stmt
	overridesStmt *sql.Stmt
	rulesStmt     *sql.Stmt
}

// SQLiteConfig configures the SQLite backend.
type SQLiteConfig struct {
	// Path is the path to the SQLite database file.
	Path string

	// Driver is "sqlite" (modernc.org/sqlite) or "sqlite3"
	// (github.com/mattn/go-sqlite3).
	// Default: "sqlite"
	Driver string

	// BusyTimeout is how long to wait for locks before failing.
	// Default: 5 seconds
	BusyTimeout time.Duration

	// WALMode enables write-ahead logging.
	WALMode bool
}

// NewSQLiteBackend opens (and if needed creates) the database at cfg.Path.
func NewSQLiteBackend(cfg SQLiteConfig) (*SQLiteBackend, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("db path cannot be empty")
	}
	if cfg.Driver == "" {
		cfg.Driver = "sqlite"
	}
	if cfg.BusyTimeout == 0 {
		cfg.BusyTimeout = 5 * time.Second
	}

	dsn, err := sqliteDSN(cfg)
	if err != nil {
		return nil, err
	}

	db, err := sql.Open(cfg.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite only supports a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	backend := &SQLiteBackend{
		db:     db,
		dbPath: cfg.Path,
		driver: cfg.Driver,
	}

	if err := backend.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	if err := backend.prepareStatements(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to prepare statements: %w", err)
	}

	return backend, nil
}

// sqliteDSN builds a driver-specific connection string.
func sqliteDSN(cfg SQLiteConfig) (string, error) {
	ms := int(cfg.BusyTimeout.Milliseconds())
	switch cfg.Driver {
	case "sqlite":
		dsn := fmt.Sprintf("%s?_pragma=busy_timeout(%d)&_pragma=synchronous(NORMAL)&_txlock=immediate", cfg.Path, ms)
		if cfg.WALMode {
			dsn += "&_pragma=journal_mode(WAL)"
		}
		return dsn, nil
	case "sqlite3":
		dsn := fmt.Sprintf("%s?_busy_timeout=%d&_synchronous=NORMAL&_txlock=immediate", cfg.Path, ms)
		if cfg.WALMode {
			dsn += "&_journal_mode=WAL"
		}
		return dsn, nil
	default:
		return "", fmt.Errorf("unsupported sqlite driver %q", cfg.Driver)
	}
}

// initSchema creates the database schema if it doesn't exist.
func (s *SQLiteBackend) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS pattern_states (
		pattern TEXT PRIMARY KEY,
		phase TEXT NOT NULL,
		threshold REAL NOT NULL,
		state_json TEXT NOT NULL,
		version INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS override_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		pattern TEXT NOT NULL,
		step INTEGER NOT NULL,
		event_json TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_override_events_pattern ON override_events(pattern, id);

	CREATE TABLE IF NOT EXISTS exception_rules (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		pattern TEXT NOT NULL,
		retired INTEGER NOT NULL DEFAULT 0,
		rule_json TEXT NOT NULL,
		version INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_exception_rules_pattern ON exception_rules(pattern, seq);

	CREATE TABLE IF NOT EXISTS counters (
		name TEXT PRIMARY KEY,
		value INTEGER NOT NULL
	);

	INSERT OR IGNORE INTO counters (name, value) VALUES ('step', 0);
	`

	_, err := s.db.Exec(schema)
	return err
}

// prepareStatements prepares SQL statements for reuse.
func (s *SQLiteBackend) prepareStatements() error {
	var err error

	s.loadStmt, err = s.db.Prepare(`SELECT state_json, version FROM pattern_states WHERE pattern = ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare load statement: %w", err)
	}

	s.insertStmt, err = s.db.Prepare(`
		INSERT INTO pattern_states (pattern, phase, threshold, state_json, version, updated_at)
		VALUES (?, ?, ?, ?, 1, ?)
		ON CONFLICT (pattern) DO NOTHING
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert statement: %w", err)
	}

	s.updateStmt, err = s.db.Prepare(`
		UPDATE pattern_states
		SET phase = ?, threshold = ?, state_json = ?, version = version + 1, updated_at = ?
		WHERE pattern = ? AND version = ?
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare update statement: %w", err)
	}

	s.deleteStmt, err = s.db.Prepare(`DELETE FROM pattern_states WHERE pattern = ?`)
	if err != nil {
		return fmt.Errorf("failed to prepare delete statement: %w", err)
	}

	s.appendStmt, err = s.db.Prepare(`INSERT INTO override_events (pattern, step, event_json) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("failed to prepare append statement: %w", err)
	}

	s.overridesStmt, err = s.db.Prepare(`
		SELECT event_json FROM (
			SELECT id, event_json FROM override_events
			WHERE pattern = ?
			ORDER BY id DESC
			LIMIT ?
		) ORDER BY id ASC
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare overrides statement: %w", err)
	}

	s.rulesStmt, err = s.db.Prepare(`SELECT rule_json, version FROM exception_rules WHERE pattern = ? ORDER BY seq ASC`)
	if err != nil {
		return fmt.Errorf("failed to prepare rules statement: %w", err)
	}

	return nil
}

// Name implements Backend.
func (s *SQLiteBackend) Name() string { return "sqlite" }

// Load implements Backend.
func (s *SQLiteBackend) Load(ctx context.Context, pattern string) (*tuning.PatternState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var (
		data    string
		version int64
	)
	err := s.loadStmt.QueryRowContext(ctx, pattern).Scan(&data, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, tuning.ErrNotFound
	}
	if err != nil {
		return nil, tuning.NewStorageError("sqlite", "load", err)
	}

	state, err := decodeState(pattern, []byte(data))
	if err != nil {
		return nil, err
	}
	state.Version = version
	return state, nil
}

// Save implements Backend.
func (s *SQLiteBackend) Save(ctx context.Context, state *tuning.PatternState) error {
	if err := tuning.ValidatePatternName(state.Pattern); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := state.Clone()
	next.Version++
	data, err := json.Marshal(next)
	if err != nil {
		return tuning.NewStorageError("sqlite", "save", err)
	}
	now := time.Now().Unix()

	var res sql.Result
	if state.Version == 0 {
		res, err = s.insertStmt.ExecContext(ctx, state.Pattern, string(state.Phase), state.Threshold, string(data), now)
	} else {
		res, err = s.updateStmt.ExecContext(ctx, string(state.Phase), state.Threshold, string(data), now, state.Pattern, state.Version)
	}
	if err != nil {
		return tuning.NewStorageError("sqlite", "save", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return tuning.NewStorageError("sqlite", "save", err)
	}
	if n != 1 {
		return fmt.Errorf("save %q at version %d: %w", state.Pattern, state.Version, tuning.ErrConflict)
	}

	state.Version = next.Version
	return nil
}

// Delete implements Backend.
func (s *SQLiteBackend) Delete(ctx context.Context, pattern string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.deleteStmt.ExecContext(ctx, pattern); err != nil {
		return tuning.NewStorageError("sqlite", "delete", err)
	}
	return nil
}

// ListPatterns implements Backend.
func (s *SQLiteBackend) ListPatterns(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `SELECT pattern FROM pattern_states ORDER BY pattern ASC`)
	if err != nil {
		return nil, tuning.NewStorageError("sqlite", "list patterns", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, tuning.NewStorageError("sqlite", "list patterns", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, tuning.NewStorageError("sqlite", "list patterns", err)
	}
	return names, nil
}

// NextStep implements Backend.
func (s *SQLiteBackend) NextStep(ctx context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, tuning.NewStorageError("sqlite", "next step", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `UPDATE counters SET value = value + 1 WHERE name = 'step'`); err != nil {
		return 0, tuning.NewStorageError("sqlite", "next step", err)
	}
	var step int64
	if err := tx.QueryRowContext(ctx, `SELECT value FROM counters WHERE name = 'step'`).Scan(&step); err != nil {
		return 0, tuning.NewStorageError("sqlite", "next step", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, tuning.NewStorageError("sqlite", "next step", err)
	}
	return step, nil
}

// CurrentStep implements Backend.
func (s *SQLiteBackend) CurrentStep(ctx context.Context) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var step int64
	if err := s.db.QueryRowContext(ctx, `SELECT value FROM counters WHERE name = 'step'`).Scan(&step); err != nil {
		return 0, tuning.NewStorageError("sqlite", "current step", err)
	}
	return step, nil
}

// AppendOverride implements Backend.
func (s *SQLiteBackend) AppendOverride(ctx context.Context, event *tuning.OverrideEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return tuning.NewStorageError("sqlite", "append override", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.appendStmt.ExecContext(ctx, event.Pattern, event.Step, string(data)); err != nil {
		return tuning.NewStorageError("sqlite", "append override", err)
	}
	return nil
}

// ListOverrides implements Backend. Rows that fail to decode are skipped.
func (s *SQLiteBackend) ListOverrides(ctx context.Context, pattern string, limit int) ([]*tuning.OverrideEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = -1 // no limit
	}
	rows, err := s.overridesStmt.QueryContext(ctx, pattern, limit)
	if err != nil {
		return nil, tuning.NewStorageError("sqlite", "list overrides", err)
	}
	defer rows.Close()

	var events []*tuning.OverrideEvent
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, tuning.NewStorageError("sqlite", "list overrides", err)
		}
		var ev tuning.OverrideEvent
		if err := json.Unmarshal([]byte(data), &ev); err != nil {
			continue
		}
		events = append(events, &ev)
	}
	if err := rows.Err(); err != nil {
		return nil, tuning.NewStorageError("sqlite", "list overrides", err)
	}
	return events, nil
}

// ListRules implements Backend.
func (s *SQLiteBackend) ListRules(ctx context.Context, pattern string) ([]*tuning.ExceptionRule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.rulesStmt.QueryContext(ctx, pattern)
	if err != nil {
		return nil, tuning.NewStorageError("sqlite", "list rules", err)
	}
	defer rows.Close()

	rules := []*tuning.ExceptionRule{}
	for rows.Next() {
		var (
			data    string
			version int64
		)
		if err := rows.Scan(&data, &version); err != nil {
			return nil, tuning.NewStorageError("sqlite", "list rules", err)
		}
		var r tuning.ExceptionRule
		if err := json.Unmarshal([]byte(data), &r); err != nil {
			return nil, fmt.Errorf("rules %q: %w: %v", pattern, tuning.ErrCorruptState, err)
		}
		r.Version = version
		rules = append(rules, &r)
	}
	if err := rows.Err(); err != nil {
		return nil, tuning.NewStorageError("sqlite", "list rules", err)
	}
	return rules, nil
}

// UpsertRule implements Backend.
func (s *SQLiteBackend) UpsertRule(ctx context.Context, rule *tuning.ExceptionRule) error {
	if rule.ID == "" {
		return fmt.Errorf("rule has no id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := rule.Clone()
	next.Version++
	data, err := json.Marshal(next)
	if err != nil {
		return tuning.NewStorageError("sqlite", "upsert rule", err)
	}

	var res sql.Result
	if rule.Version == 0 {
		res, err = s.db.ExecContext(ctx, `
			INSERT INTO exception_rules (id, pattern, retired, rule_json, version)
			VALUES (?, ?, ?, ?, 1)
			ON CONFLICT (id) DO NOTHING
		`, rule.ID, rule.Pattern, rule.Retired, string(data))
	} else {
		res, err = s.db.ExecContext(ctx, `
			UPDATE exception_rules
			SET retired = ?, rule_json = ?, version = version + 1
			WHERE id = ? AND version = ?
		`, rule.Retired, string(data), rule.ID, rule.Version)
	}
	if err != nil {
		return tuning.NewStorageError("sqlite", "upsert rule", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return tuning.NewStorageError("sqlite", "upsert rule", err)
	}
	if n != 1 {
		return fmt.Errorf("rule %s at version %d: %w", rule.ID, rule.Version, tuning.ErrConflict)
	}

	rule.Version = next.Version
	return nil
}

// Close closes the database and its prepared statements.
func (s *SQLiteBackend) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		for _, stmt := range []*sql.Stmt{
			s.loadStmt, s.insertStmt, s.updateStmt, s.deleteStmt,
			s.appendStmt, s.overridesStmt, s.rulesStmt,
		} {
			if stmt != nil {
				stmt.Close()
			}
		}
		err = s.db.Close()
	})
	return err
}
