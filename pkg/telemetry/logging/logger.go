package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
	"gopkg.in/natefinch/lumberjack.v2"

	"mercator-hq/gatekeeper/pkg/config"
)

// LogFormat represents the output format for logs.
type LogFormat string

const (
	// FormatJSON outputs logs in JSON format.
	FormatJSON LogFormat = "json"
	// FormatText outputs logs in plain text format.
	FormatText LogFormat = "text"
	// FormatConsole outputs logs in human-readable colored console format.
	FormatConsole LogFormat = "console"
)

// Logger provides structured logging with PII redaction and optional
// rotated file output. It embeds *slog.Logger so components can take the
// embedded logger directly.
type Logger struct {
	*slog.Logger

	// redactor performs PII redaction on log fields
	redactor *Redactor

	// level is the minimum log level, adjustable at runtime
	level *slog.LevelVar

	// format is the output format
	format LogFormat

	// file is the rotated log file, if configured
	file *lumberjack.Logger
}

// Config contains configuration for the Logger.
type Config struct {
	// Level is the minimum log level ("debug", "info", "warn", "error")
	Level string

	// Format is the output format ("json", "text", "console")
	Format string

	// AddSource includes file and line number in logs
	AddSource bool

	// RedactPII enables automatic PII redaction
	RedactPII bool

	// RedactPatterns contains custom PII redaction patterns
	RedactPatterns []config.RedactPattern

	// File configures an additional rotated log file. Disabled when Path
	// is empty.
	File config.LogFileConfig

	// Writer is the output writer (defaults to os.Stderr)
	Writer io.Writer
}

// ConfigFrom converts the telemetry.logging section into a logger Config.
func ConfigFrom(c config.LoggingConfig) Config {
	return Config{
		Level:          c.Level,
		Format:         c.Format,
		AddSource:      c.AddSource,
		RedactPII:      c.RedactPII,
		RedactPatterns: c.RedactPatterns,
		File:           c.File,
	}
}

// New creates a new Logger with the given configuration.
func New(cfg Config) (*Logger, error) {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}

	format, err := parseFormat(cfg.Format)
	if err != nil {
		return nil, fmt.Errorf("invalid log format: %w", err)
	}

	writer := cfg.Writer
	if writer == nil {
		writer = os.Stderr
	}

	var file *lumberjack.Logger
	if cfg.File.Path != "" {
		file = &lumberjack.Logger{
			Filename:   cfg.File.Path,
			MaxSize:    cfg.File.MaxSizeMB,
			MaxBackups: cfg.File.MaxBackups,
			MaxAge:     cfg.File.MaxAgeDays,
			Compress:   cfg.File.Compress,
		}
	}

	var redactor *Redactor
	if cfg.RedactPII {
		redactor = NewRedactor(cfg.RedactPatterns)
	}

	levelVar := new(slog.LevelVar)
	levelVar.Set(level)

	var replace func([]string, slog.Attr) slog.Attr
	if redactor != nil {
		replace = redactor.RedactAttr
	}

	if file != nil {
		writer = io.MultiWriter(writer, file)
	}
	handler := newHandler(format, writer, levelVar, cfg.AddSource, replace)

	return &Logger{
		Logger:   slog.New(contextHandler{handler}),
		redactor: redactor,
		level:    levelVar,
		format:   format,
		file:     file,
	}, nil
}

func newHandler(format LogFormat, w io.Writer, level slog.Leveler, addSource bool, replace func([]string, slog.Attr) slog.Attr) slog.Handler {
	switch format {
	case FormatConsole:
		return tint.NewHandler(w, &tint.Options{
			Level:       level,
			AddSource:   addSource,
			TimeFormat:  time.Kitchen,
			ReplaceAttr: replace,
			NoColor:     !isTerminal(w),
		})
	case FormatText:
		return slog.NewTextHandler(w, &slog.HandlerOptions{Level: level, AddSource: addSource, ReplaceAttr: replace})
	default:
		return slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level, AddSource: addSource, ReplaceAttr: replace})
	}
}

// isTerminal reports whether w is a character device.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}

// Redactor returns the logger's redactor, or nil when redaction is disabled.
func (l *Logger) Redactor() *Redactor {
	return l.redactor
}

// RedactFunc returns a function that redacts free text the same way log
// fields are redacted. It returns nil when redaction is disabled.
func (l *Logger) RedactFunc() func(string) string {
	if l.redactor == nil {
		return nil
	}
	return l.redactor.RedactString
}

// Format returns the output format.
func (l *Logger) Format() LogFormat {
	return l.format
}

// SetLevel changes the minimum log level of this logger and every logger
// derived from it.
func (l *Logger) SetLevel(level string) error {
	lvl, err := parseLevel(level)
	if err != nil {
		return err
	}
	l.level.Set(lvl)
	return nil
}

// Shutdown flushes and closes the log file, if any.
func (l *Logger) Shutdown() error {
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

// parseLevel parses a log level string into slog.Level.
func parseLevel(levelStr string) (slog.Level, error) {
	switch levelStr {
	case "debug", "DEBUG":
		return slog.LevelDebug, nil
	case "info", "INFO", "":
		return slog.LevelInfo, nil
	case "warn", "WARN", "warning", "WARNING":
		return slog.LevelWarn, nil
	case "error", "ERROR":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level: %s", levelStr)
	}
}

// parseFormat parses a log format string into LogFormat.
func parseFormat(formatStr string) (LogFormat, error) {
	switch formatStr {
	case "json", "JSON", "":
		return FormatJSON, nil
	case "text", "TEXT":
		return FormatText, nil
	case "console", "CONSOLE":
		return FormatConsole, nil
	default:
		return FormatJSON, fmt.Errorf("unknown log format: %s", formatStr)
	}
}
