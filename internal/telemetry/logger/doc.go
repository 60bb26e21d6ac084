// Package logger wraps log/slog for structured logging:
//
//   - logger.go: Logger interface, JSON/text handler, dynamic level
//   - context.go: context-aware logging with request/trace IDs
//   - redact.go: sensitive-key redaction
//
// Features:
//
//   - JSON and text output formats
//   - Runtime log level adjustment via SetLevel
//   - Automatic redaction of values logged under sensitive-looking keys
//   - Context propagation for request tracing
package logger
