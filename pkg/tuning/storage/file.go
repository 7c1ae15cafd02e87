package storage

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strconv"
	"strings"
	"time"

	"mercator-hq/gatekeeper/pkg/tuning"
)

const (
	statesDir     = "states"
	rulesDir      = "rules"
	locksDir      = "locks"
	overridesFile = "overrides.jsonl"
	stepFile      = "step"

	// maxLedgerLine bounds a single override ledger line.
	maxLedgerLine = 1024 * 1024

	// ledgerBlockSize is the read size when scanning the ledger backwards.
	ledgerBlockSize = 64 * 1024
)

// FileBackend stores each pattern state and each pattern's rule set as a
// JSON document, the override ledger as newline-delimited JSON, and the
// global step counter as a small text file.
//
// Every read-modify-write holds an advisory flock on a per-key lock file and
// replaces the document with a write-to-temp-then-rename, so readers never
// observe a partially written document and concurrent processes serialize
// on the same key.
//
// A corrupt step counter or rule set is discarded and rebuilt under its
// lock; corrupt rule documents are kept aside as <name>.corrupt-<unixnano>.
type FileBackend struct {
	dir    string
	logger *slog.Logger
}

// NewFileBackend creates a file backend rooted at dir, creating the
// directory layout if needed.
func NewFileBackend(dir string) (*FileBackend, error) {
	if dir == "" {
		return nil, fmt.Errorf("file backend directory is required")
	}
	for _, sub := range []string{statesDir, rulesDir, locksDir} {
		if err := os.MkdirAll(filepath.Join(dir, sub), 0o755); err != nil {
			return nil, tuning.NewStorageError("file", "init", err)
		}
	}
	return &FileBackend{
		dir:    dir,
		logger: slog.Default().With("component", "file-store", "dir", dir),
	}, nil
}

// SetLogger replaces the logger used to report recovered records.
func (f *FileBackend) SetLogger(logger *slog.Logger) {
	if logger != nil {
		f.logger = logger.With("component", "file-store", "dir", f.dir)
	}
}

// Name implements Backend.
func (f *FileBackend) Name() string { return "file" }

// Dir returns the root directory.
func (f *FileBackend) Dir() string { return f.dir }

func (f *FileBackend) statePath(pattern string) string {
	return filepath.Join(f.dir, statesDir, url.PathEscape(pattern)+".json")
}

func (f *FileBackend) rulesPath(pattern string) string {
	return filepath.Join(f.dir, rulesDir, url.PathEscape(pattern)+".json")
}

func (f *FileBackend) lockPath(kind, key string) string {
	return filepath.Join(f.dir, locksDir, kind+"-"+url.PathEscape(key)+".lock")
}

// Load implements Backend.
func (f *FileBackend) Load(ctx context.Context, pattern string) (*tuning.PatternState, error) {
	if err := tuning.ValidatePatternName(pattern); err != nil {
		return nil, err
	}
	return f.readState(pattern)
}

func (f *FileBackend) readState(pattern string) (*tuning.PatternState, error) {
	data, err := os.ReadFile(f.statePath(pattern))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, tuning.ErrNotFound
	}
	if err != nil {
		return nil, tuning.NewStorageError("file", "load", err)
	}
	return decodeState(pattern, data)
}

// decodeState parses and validates a stored state document.
func decodeState(pattern string, data []byte) (*tuning.PatternState, error) {
	var s tuning.PatternState
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("state %q: %w: %v", pattern, tuning.ErrCorruptState, err)
	}
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("state %q: %w: %v", pattern, tuning.ErrCorruptState, err)
	}
	if s.Pattern != pattern {
		return nil, fmt.Errorf("state %q: %w: document names pattern %q", pattern, tuning.ErrCorruptState, s.Pattern)
	}
	if s.Recent == nil {
		s.Recent = []tuning.Outcome{}
	}
	if s.AdjustmentHistory == nil {
		s.AdjustmentHistory = []tuning.Adjustment{}
	}
	return &s, nil
}

// Save implements Backend.
func (f *FileBackend) Save(ctx context.Context, state *tuning.PatternState) error {
	if err := tuning.ValidatePatternName(state.Pattern); err != nil {
		return err
	}

	return withFileLock(f.lockPath("state", state.Pattern), func() error {
		var stored int64
		cur, err := f.readState(state.Pattern)
		switch {
		case errors.Is(err, tuning.ErrNotFound):
		case err != nil:
			return err
		default:
			stored = cur.Version
		}
		if stored != state.Version {
			return fmt.Errorf("save %q: stored version %d, have %d: %w", state.Pattern, stored, state.Version, tuning.ErrConflict)
		}

		next := state.Clone()
		next.Version++
		data, err := json.MarshalIndent(next, "", "  ")
		if err != nil {
			return tuning.NewStorageError("file", "save", err)
		}
		if err := atomicWrite(f.statePath(state.Pattern), data); err != nil {
			return tuning.NewStorageError("file", "save", err)
		}
		state.Version = next.Version
		return nil
	})
}

// Delete implements Backend.
func (f *FileBackend) Delete(ctx context.Context, pattern string) error {
	if err := tuning.ValidatePatternName(pattern); err != nil {
		return err
	}
	return withFileLock(f.lockPath("state", pattern), func() error {
		if err := os.Remove(f.statePath(pattern)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return tuning.NewStorageError("file", "delete", err)
		}
		return nil
	})
}

// ListPatterns implements Backend.
func (f *FileBackend) ListPatterns(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(f.dir, statesDir))
	if err != nil {
		return nil, tuning.NewStorageError("file", "list patterns", err)
	}

	var names []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		pattern, err := url.PathUnescape(strings.TrimSuffix(name, ".json"))
		if err != nil {
			continue
		}
		names = append(names, pattern)
	}
	sort.Strings(names)
	return names, nil
}

// NextStep implements Backend. A corrupt counter is rebuilt from the
// highest step recorded in the store before it is incremented.
func (f *FileBackend) NextStep(ctx context.Context) (int64, error) {
	var step int64
	err := withFileLock(f.lockPath("counter", stepFile), func() error {
		cur, err := f.readStep()
		if errors.Is(err, tuning.ErrCorruptState) {
			cur, err = f.rebuildStep(err)
		}
		if err != nil {
			return err
		}
		step = cur + 1
		return f.writeStep(step)
	})
	return step, err
}

// CurrentStep implements Backend.
func (f *FileBackend) CurrentStep(ctx context.Context) (int64, error) {
	step, err := f.readStep()
	if !errors.Is(err, tuning.ErrCorruptState) {
		return step, err
	}
	err = withFileLock(f.lockPath("counter", stepFile), func() error {
		cur, err := f.readStep()
		if errors.Is(err, tuning.ErrCorruptState) {
			if cur, err = f.rebuildStep(err); err == nil {
				err = f.writeStep(cur)
			}
		}
		step = cur
		return err
	})
	return step, err
}

func (f *FileBackend) writeStep(step int64) error {
	if err := atomicWrite(filepath.Join(f.dir, stepFile), []byte(strconv.FormatInt(step, 10)+"\n")); err != nil {
		return tuning.NewStorageError("file", "write step", err)
	}
	return nil
}

// rebuildStep recovers the counter from the highest step found in pattern
// states, rules and the override ledger. Must hold the counter lock.
func (f *FileBackend) rebuildStep(cause error) (int64, error) {
	step, err := f.highestRecordedStep()
	if err != nil {
		return 0, tuning.NewStorageError("file", "rebuild step", err)
	}
	f.logger.Warn("Rebuilt corrupt step counter", "step", step, "error", cause)
	return step, nil
}

func (f *FileBackend) highestRecordedStep() (int64, error) {
	var high int64
	seen := func(step int64) {
		if step > high {
			high = step
		}
	}

	err := eachDocument(filepath.Join(f.dir, statesDir), func(data []byte) {
		var s tuning.PatternState
		if json.Unmarshal(data, &s) != nil {
			return
		}
		seen(s.LastTunedAt)
		seen(s.LastTransitionAt)
		for _, o := range s.Recent {
			seen(o.Step)
		}
		for _, a := range s.AdjustmentHistory {
			seen(a.Step)
		}
	})
	if err != nil {
		return 0, err
	}

	err = eachDocument(filepath.Join(f.dir, rulesDir), func(data []byte) {
		var rules []*tuning.ExceptionRule
		if json.Unmarshal(data, &rules) != nil {
			return
		}
		for _, r := range rules {
			if r == nil {
				continue
			}
			seen(r.CreatedAt)
			seen(r.LastMatchedAt)
			seen(r.RetiredAt)
		}
	})
	if err != nil {
		return 0, err
	}

	file, err := os.Open(filepath.Join(f.dir, overridesFile))
	if errors.Is(err, fs.ErrNotExist) {
		return high, nil
	}
	if err != nil {
		return 0, err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), maxLedgerLine)
	for scanner.Scan() {
		var ev struct {
			Step int64 `json:"step"`
		}
		if json.Unmarshal(scanner.Bytes(), &ev) == nil {
			seen(ev.Step)
		}
	}
	return high, scanner.Err()
}

// eachDocument calls fn with the content of every *.json file in dir.
func eachDocument(dir string, fn func(data []byte)) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return err
		}
		fn(data)
	}
	return nil
}

func (f *FileBackend) readStep() (int64, error) {
	data, err := os.ReadFile(filepath.Join(f.dir, stepFile))
	if errors.Is(err, fs.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, tuning.NewStorageError("file", "read step", err)
	}
	step, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil || step < 0 {
		return 0, fmt.Errorf("step counter: %w: %q", tuning.ErrCorruptState, data)
	}
	return step, nil
}

// AppendOverride implements Backend.
func (f *FileBackend) AppendOverride(ctx context.Context, event *tuning.OverrideEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return tuning.NewStorageError("file", "append override", err)
	}
	data = append(data, '\n')

	return withFileLock(f.lockPath("ledger", overridesFile), func() error {
		file, err := os.OpenFile(filepath.Join(f.dir, overridesFile), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return tuning.NewStorageError("file", "append override", err)
		}
		if _, err := file.Write(data); err != nil {
			_ = file.Close()
			return tuning.NewStorageError("file", "append override", err)
		}
		if err := file.Sync(); err != nil {
			_ = file.Close()
			return tuning.NewStorageError("file", "append override", err)
		}
		return file.Close()
	})
}

// ListOverrides implements Backend. Lines that fail to decode, including a
// partially written trailing line, are skipped. With a positive limit the
// ledger is read backwards from its end and reading stops once limit
// events of the pattern have been found.
func (f *FileBackend) ListOverrides(ctx context.Context, pattern string, limit int) ([]*tuning.OverrideEvent, error) {
	file, err := os.Open(filepath.Join(f.dir, overridesFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, tuning.NewStorageError("file", "list overrides", err)
	}
	defer file.Close()

	var events []*tuning.OverrideEvent
	collect := func(line []byte) bool {
		var ev tuning.OverrideEvent
		if err := json.Unmarshal(line, &ev); err != nil || ev.Pattern != pattern {
			return true // partial, corrupt or another pattern's line
		}
		events = append(events, &ev)
		return limit <= 0 || len(events) < limit
	}

	if limit <= 0 {
		scanner := bufio.NewScanner(file)
		scanner.Buffer(make([]byte, 64*1024), maxLedgerLine)
		for scanner.Scan() {
			if line := scanner.Bytes(); len(line) > 0 {
				collect(line)
			}
		}
		if err := scanner.Err(); err != nil {
			return nil, tuning.NewStorageError("file", "list overrides", err)
		}
		return events, nil
	}

	if err := scanLinesReverse(file, collect); err != nil {
		return nil, tuning.NewStorageError("file", "list overrides", err)
	}
	slices.Reverse(events)
	return events, nil
}

// scanLinesReverse calls fn with each non-empty line of file, last line
// first, until fn returns false. The slice passed to fn is only valid for
// the duration of the call.
func scanLinesReverse(file *os.File, fn func(line []byte) bool) error {
	info, err := file.Stat()
	if err != nil {
		return err
	}

	offset := info.Size()
	buf := make([]byte, ledgerBlockSize)
	var carry []byte
	for offset > 0 {
		n := int64(len(buf))
		if offset < n {
			n = offset
		}
		offset -= n
		if _, err := file.ReadAt(buf[:n], offset); err != nil && !errors.Is(err, io.EOF) {
			return err
		}

		chunk := append(buf[:n:n], carry...)
		for {
			i := bytes.LastIndexByte(chunk, '\n')
			if i < 0 {
				break
			}
			if line := chunk[i+1:]; len(line) > 0 && !fn(line) {
				return nil
			}
			chunk = chunk[:i]
		}
		if len(chunk) > maxLedgerLine {
			return fmt.Errorf("ledger line exceeds %d bytes", maxLedgerLine)
		}
		carry = append(carry[:0:0], chunk...)
	}
	if len(carry) > 0 {
		fn(carry)
	}
	return nil
}

// ListRules implements Backend. A corrupt rule set is set aside and the
// pattern starts over with no rules.
func (f *FileBackend) ListRules(ctx context.Context, pattern string) ([]*tuning.ExceptionRule, error) {
	if err := tuning.ValidatePatternName(pattern); err != nil {
		return nil, err
	}
	rules, err := f.readRules(pattern)
	if !errors.Is(err, tuning.ErrCorruptState) {
		return rules, err
	}

	err = withFileLock(f.lockPath("rules", pattern), func() error {
		rules, err = f.readRulesOrDiscard(pattern)
		return err
	})
	return rules, err
}

func (f *FileBackend) readRules(pattern string) ([]*tuning.ExceptionRule, error) {
	data, err := os.ReadFile(f.rulesPath(pattern))
	if errors.Is(err, fs.ErrNotExist) {
		return []*tuning.ExceptionRule{}, nil
	}
	if err != nil {
		return nil, tuning.NewStorageError("file", "list rules", err)
	}
	var rules []*tuning.ExceptionRule
	if err := json.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("rules %q: %w: %v", pattern, tuning.ErrCorruptState, err)
	}
	for _, r := range rules {
		if r == nil || r.ID == "" || r.Pattern != pattern {
			return nil, fmt.Errorf("rules %q: %w: malformed rule entry", pattern, tuning.ErrCorruptState)
		}
	}
	if rules == nil {
		rules = []*tuning.ExceptionRule{}
	}
	return rules, nil
}

// readRulesOrDiscard reads the rule set of pattern and, when it is corrupt,
// renames the document aside and returns an empty set. Must hold the rules
// lock of pattern.
func (f *FileBackend) readRulesOrDiscard(pattern string) ([]*tuning.ExceptionRule, error) {
	rules, err := f.readRules(pattern)
	if !errors.Is(err, tuning.ErrCorruptState) {
		return rules, err
	}

	path := f.rulesPath(pattern)
	aside := path + ".corrupt-" + strconv.FormatInt(time.Now().UnixNano(), 10)
	if rerr := os.Rename(path, aside); rerr != nil && !errors.Is(rerr, fs.ErrNotExist) {
		return nil, tuning.NewStorageError("file", "discard rules", rerr)
	}
	f.logger.Warn("Discarded corrupt rule set", "pattern", pattern, "moved_to", aside, "error", err)
	return []*tuning.ExceptionRule{}, nil
}

// UpsertRule implements Backend.
func (f *FileBackend) UpsertRule(ctx context.Context, rule *tuning.ExceptionRule) error {
	if err := tuning.ValidatePatternName(rule.Pattern); err != nil {
		return err
	}

	return withFileLock(f.lockPath("rules", rule.Pattern), func() error {
		rules, err := f.readRulesOrDiscard(rule.Pattern)
		if err != nil {
			return err
		}
		candidate := rule.Clone()
		next, err := upsertRule(rules, candidate)
		if err != nil {
			return err
		}
		data, err := json.MarshalIndent(next, "", "  ")
		if err != nil {
			return tuning.NewStorageError("file", "upsert rule", err)
		}
		if err := atomicWrite(f.rulesPath(rule.Pattern), data); err != nil {
			return tuning.NewStorageError("file", "upsert rule", err)
		}
		rule.Version = candidate.Version
		return nil
	})
}

// Close implements Backend.
func (f *FileBackend) Close() error { return nil }

// atomicWrite writes data to a temp file in the target directory, syncs it
// and renames it over path.
func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	cleanup := func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}

	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}
