// Package logging provides structured logging for USB Power Core.
//
// It wraps the standard library's log/slog with configuration-driven
// level filtering, format selection (JSON or text), and default service
// attributes attached to every record.
package logging
