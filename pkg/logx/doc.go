// Package logx is a thin zerolog wrapper with slog-like field ergonomics.
// It exists so low-level packages (config loading, early bootstrap) can log
// before the full slog pipeline from internal/services/logging is up, and
// without importing it.
package logx
