// Package logger configures the process-wide log/slog JSON logger and
// carries request-scoped loggers, tagged with trace id, actor and role,
// through context.
package logger
