package config

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func TestDebouncer_CoalescesBursts(t *testing.T) {
	d := NewDebouncer(20 * time.Millisecond)
	defer d.Stop()

	var calls, last atomic.Int32
	for i := 1; i <= 5; i++ {
		n := int32(i)
		d.Trigger(func() {
			calls.Add(1)
			last.Store(n)
		})
		time.Sleep(2 * time.Millisecond)
	}

	time.Sleep(100 * time.Millisecond)
	if calls.Load() != 1 || last.Load() != 5 {
		t.Errorf("expected one call with the latest callback, got %d calls (last %d)", calls.Load(), last.Load())
	}
}

func TestDebouncer_StopCancelsPending(t *testing.T) {
	d := NewDebouncer(20 * time.Millisecond)

	var calls atomic.Int32
	d.Trigger(func() { calls.Add(1) })
	d.Stop()
	d.Stop()
	d.Trigger(func() { calls.Add(1) })

	time.Sleep(60 * time.Millisecond)
	if calls.Load() != 0 {
		t.Errorf("expected no callbacks after Stop, got %d", calls.Load())
	}
}

func TestWatcher_ReloadsOnChange(t *testing.T) {
	resetGlobal()
	t.Cleanup(resetGlobal)

	dir := t.TempDir()
	path := filepath.Join(dir, "gatekeeper.yaml")
	if err := os.WriteFile(path, []byte("engine:\n  tuning_interval: 30\n"), 0644); err != nil {
		t.Fatal(err)
	}

	w, err := NewWatcher(path, 10*time.Millisecond, nil)
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}

	reloaded := make(chan *Config, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- w.Watch(ctx, func(cfg *Config) { reloaded <- cfg }) }()

	// Give the watcher time to register the directory.
	time.Sleep(50 * time.Millisecond)

	// Unrelated files in the same directory are ignored.
	os.WriteFile(filepath.Join(dir, "other.yaml"), []byte("x: 1\n"), 0644)

	// Replace by rename, the way editors save.
	tmp := filepath.Join(dir, ".gatekeeper.yaml.tmp")
	os.WriteFile(tmp, []byte("engine:\n  tuning_interval: 40\n"), 0644)
	if err := os.Rename(tmp, path); err != nil {
		t.Fatal(err)
	}

	select {
	case cfg := <-reloaded:
		if cfg.Engine.TuningInterval != 40 {
			t.Errorf("expected reloaded tuning interval 40, got %d", cfg.Engine.TuningInterval)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reload")
	}

	if err := w.Stop(); err != nil {
		t.Errorf("Stop failed: %v", err)
	}
	if err := <-done; err != nil {
		t.Errorf("Watch returned error: %v", err)
	}
}

func TestWatcher_ReportsInvalidReload(t *testing.T) {
	resetGlobal()
	t.Cleanup(resetGlobal)

	dir := t.TempDir()
	path := filepath.Join(dir, "gatekeeper.yaml")
	if err := os.WriteFile(path, []byte("engine:\n  tuning_interval: 30\n"), 0644); err != nil {
		t.Fatal(err)
	}

	w, err := NewWatcher(path, 10*time.Millisecond, nil)
	if err != nil {
		t.Fatalf("NewWatcher failed: %v", err)
	}
	defer w.Stop()

	failed := make(chan error, 4)
	w.OnError(func(err error) { failed <- err })

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go w.Watch(ctx, func(cfg *Config) { t.Errorf("unexpected reload: %+v", cfg.Engine) })

	time.Sleep(50 * time.Millisecond)

	tmp := filepath.Join(dir, ".gatekeeper.yaml.tmp")
	os.WriteFile(tmp, []byte("engine:\n  no_such_field: 1\n"), 0644)
	if err := os.Rename(tmp, path); err != nil {
		t.Fatal(err)
	}

	select {
	case err := <-failed:
		if err == nil {
			t.Error("expected non-nil error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for reload error")
	}
}
