// Package logging provides structured logging with PII redaction.
//
// # Overview
//
// The logging package wraps Go's standard log/slog package to provide:
//   - JSON and text output from slog, colored console output from tint
//   - Optional rotated log files through lumberjack
//   - Automatic PII redaction of every logged attribute
//   - Context fields (process, command, trace and span IDs) on *Context calls
//   - A runtime-adjustable minimum level for config hot reload
//
// # Usage
//
//	logger, err := logging.New(logging.ConfigFrom(cfg.Telemetry.Logging))
//	if err != nil {
//	    return err
//	}
//	defer logger.Shutdown()
//
//	// Components take the embedded *slog.Logger.
//	eng, err := engine.New(engineCfg, backend,
//	    engine.WithLogger(logger.Logger),
//	    engine.WithRedactor(logger.RedactFunc()),
//	)
//
// # PII Redaction
//
// With RedactPII enabled, string attributes and error values are scrubbed
// before they reach the handler, and the same redactor cleans the context
// excerpts written to the override ledger:
//
//   - API keys: sk-abc123xyz → sk-***
//   - Emails: user@example.com → u***@example.com
//   - SSN: 123-45-6789 → ***-**-****
//   - IP addresses: 192.168.1.100 → 192.*.*.*
//   - Credit cards: 4111-1111-1111-1111 → ****-****-****-1111
//
// Attributes whose key names a secret (password, token, api_key, ...) are
// reduced to a four character prefix.
package logging
