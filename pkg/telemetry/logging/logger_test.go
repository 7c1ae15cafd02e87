package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/trace"

	"mercator-hq/gatekeeper/pkg/config"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{"valid JSON config", Config{Level: "info", Format: "json", RedactPII: true}, false},
		{"valid text config", Config{Level: "debug", Format: "text"}, false},
		{"valid console config", Config{Level: "warn", Format: "console", RedactPII: true}, false},
		{"defaults", Config{}, false},
		{"invalid log level", Config{Level: "invalid"}, true},
		{"invalid log format", Config{Format: "xml"}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			logger, err := New(tt.config)
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && logger == nil {
				t.Error("New() returned nil logger")
			}
		})
	}
}

func newJSONLogger(t *testing.T, cfg Config) (*Logger, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	cfg.Writer = &buf
	cfg.Format = "json"
	logger, err := New(cfg)
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}
	return logger, &buf
}

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	line := strings.TrimSpace(buf.String())
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("failed to decode log line %q: %v", line, err)
	}
	return entry
}

func TestLogger_RedactsAttributes(t *testing.T) {
	logger, buf := newJSONLogger(t, Config{Level: "info", RedactPII: true})

	logger.Info("Override recorded",
		"excerpt", "user alice@example.com pasted sk-abc123",
		"api_key", "sk-verysecret",
		"error", errors.New("dial 10.1.2.3 refused"),
	)

	entry := decodeLine(t, buf)
	if entry["excerpt"] != "user a***@example.com pasted sk-***" {
		t.Errorf("excerpt not redacted: %v", entry["excerpt"])
	}
	if entry["api_key"] != "sk-v***" {
		t.Errorf("api_key not redacted: %v", entry["api_key"])
	}
	if entry["error"] != "dial 10.*.*.* refused" {
		t.Errorf("error not redacted: %v", entry["error"])
	}
	if entry["msg"] != "Override recorded" {
		t.Errorf("message changed: %v", entry["msg"])
	}
}

func TestLogger_RedactionDisabled(t *testing.T) {
	logger, buf := newJSONLogger(t, Config{Level: "info"})

	logger.Info("raw", "excerpt", "alice@example.com")

	if entry := decodeLine(t, buf); entry["excerpt"] != "alice@example.com" {
		t.Errorf("expected raw value, got %v", entry["excerpt"])
	}
	if logger.RedactFunc() != nil || logger.Redactor() != nil {
		t.Error("expected no redactor when RedactPII is false")
	}
}

func TestLogger_RedactFunc(t *testing.T) {
	logger, _ := newJSONLogger(t, Config{RedactPII: true})

	redact := logger.RedactFunc()
	if redact == nil {
		t.Fatal("expected redact func")
	}
	if got := redact("token sk-abc123"); got != "token sk-***" {
		t.Errorf("redact() = %q", got)
	}
}

func TestLogger_SetLevel(t *testing.T) {
	logger, buf := newJSONLogger(t, Config{Level: "warn"})
	child := logger.With("component", "engine")

	child.Info("hidden")
	if buf.Len() != 0 {
		t.Fatalf("info logged at warn level: %s", buf.String())
	}

	if err := logger.SetLevel("debug"); err != nil {
		t.Fatalf("SetLevel failed: %v", err)
	}
	child.Debug("visible")
	if !strings.Contains(buf.String(), "visible") {
		t.Error("derived logger did not pick up the new level")
	}

	if err := logger.SetLevel("loud"); err == nil {
		t.Error("expected error for unknown level")
	}
}

func TestLogger_ContextFields(t *testing.T) {
	logger, buf := newJSONLogger(t, Config{Level: "info"})

	traceID, _ := trace.TraceIDFromHex("0af7651916cd43dd8448eb211c80319c")
	spanID, _ := trace.SpanIDFromHex("b7ad6b7169203331")
	ctx := trace.ContextWithSpanContext(context.Background(), trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: traceID,
		SpanID:  spanID,
	}))
	ctx = WithProcess(ctx, "host-42")
	ctx = WithCommand(ctx, "serve")

	logger.InfoContext(ctx, "Tuning pass complete")

	entry := decodeLine(t, buf)
	want := map[string]string{
		"process":  "host-42",
		"command":  "serve",
		"trace_id": "0af7651916cd43dd8448eb211c80319c",
		"span_id":  "b7ad6b7169203331",
	}
	for k, v := range want {
		if entry[k] != v {
			t.Errorf("%s = %v, want %v", k, entry[k], v)
		}
	}
}

func TestLogger_ConsoleFormat(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Config{Format: "console", Writer: &buf, RedactPII: true})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	logger.Info("Phase transition", "pattern", "retry-loop", "excerpt", "sk-abc123")

	out := buf.String()
	if !strings.Contains(out, "Phase transition") || !strings.Contains(out, "pattern=retry-loop") {
		t.Errorf("unexpected console output: %q", out)
	}
	if strings.Contains(out, "sk-abc123") {
		t.Errorf("console output not redacted: %q", out)
	}
	if strings.Contains(out, "\x1b[") {
		t.Errorf("expected no color codes for non-terminal writer: %q", out)
	}
}

func TestLogger_RotatedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "gatekeeper.log")
	var buf bytes.Buffer

	logger, err := New(Config{
		Level:  "info",
		Format: "text",
		Writer: &buf,
		File:   config.LogFileConfig{Path: path, MaxSizeMB: 1, MaxBackups: 1},
	})
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	logger.Info("Pattern report", "pattern", "retry-loop")
	if err := logger.Shutdown(); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("log file not written: %v", err)
	}
	if !strings.Contains(string(data), "Pattern report") {
		t.Errorf("log file missing entry: %q", data)
	}
	if !strings.Contains(buf.String(), "Pattern report") {
		t.Errorf("primary writer missing entry: %q", buf.String())
	}
}

func TestConfigFrom(t *testing.T) {
	c := config.Default().Telemetry.Logging
	c.File.Path = "/var/log/gatekeeper.log"

	got := ConfigFrom(c)
	if got.Level != c.Level || got.Format != c.Format || got.RedactPII != c.RedactPII || got.File.Path != c.File.Path {
		t.Errorf("ConfigFrom() = %+v", got)
	}
	if got.Writer != nil {
		t.Error("expected default writer")
	}
}
