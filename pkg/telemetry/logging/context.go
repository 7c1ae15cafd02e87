package logging

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel/trace"
)

// Context keys for common log fields.
type contextKey string

const (
	// ProcessKey is the context key for the identifier of the process
	// sharing the state directory.
	ProcessKey contextKey = "process"

	// CommandKey is the context key for the CLI command being run.
	CommandKey contextKey = "command"
)

// WithProcess adds a process identifier to the context.
func WithProcess(ctx context.Context, process string) context.Context {
	return context.WithValue(ctx, ProcessKey, process)
}

// GetProcess retrieves the process identifier from the context.
func GetProcess(ctx context.Context) string {
	if process, ok := ctx.Value(ProcessKey).(string); ok {
		return process
	}
	return ""
}

// WithCommand adds a command name to the context.
func WithCommand(ctx context.Context, command string) context.Context {
	return context.WithValue(ctx, CommandKey, command)
}

// GetCommand retrieves the command name from the context.
func GetCommand(ctx context.Context) string {
	if command, ok := ctx.Value(CommandKey).(string); ok {
		return command
	}
	return ""
}

// extractContextFields extracts common fields from context, including the
// trace and span of an active OpenTelemetry span.
func extractContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}

	var attrs []slog.Attr
	if process := GetProcess(ctx); process != "" {
		attrs = append(attrs, slog.String("process", process))
	}
	if command := GetCommand(ctx); command != "" {
		attrs = append(attrs, slog.String("command", command))
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		attrs = append(attrs,
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return attrs
}

// contextHandler adds context fields to every record logged through one of
// the *Context methods of slog.Logger.
type contextHandler struct {
	slog.Handler
}

func (h contextHandler) Handle(ctx context.Context, r slog.Record) error {
	if attrs := extractContextFields(ctx); len(attrs) > 0 {
		r.AddAttrs(attrs...)
	}
	return h.Handler.Handle(ctx, r)
}

func (h contextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return contextHandler{h.Handler.WithAttrs(attrs)}
}

func (h contextHandler) WithGroup(name string) slog.Handler {
	return contextHandler{h.Handler.WithGroup(name)}
}
