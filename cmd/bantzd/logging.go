package main

import (
	"io"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/miclaldogan/bantz-sub008/internal/auditlog"
)

// loggingConfig controls where and how bantzd writes its structured
// logs. A LogFile rotates through lumberjack; this covers process-level
// diagnostics, while internal/auditlog rotates the turn audit record with
// its own numbered-suffix scheme.
type loggingConfig struct {
	LogFile    string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Debug      bool
}

// newLogger builds the process-wide *slog.Logger. With no LogFile it
// logs to stderr; with one configured, it writes JSON lines through a
// lumberjack.Logger so long-running deployments rotate their own log
// file without an external logrotate setup, mirroring how
// internal/auditlog.Logger manages the audit trail's own rotation.
func newLogger(cfg loggingConfig) *slog.Logger {
	level := slog.LevelInfo
	if cfg.Debug {
		level = slog.LevelDebug
	}

	var w io.Writer = os.Stderr
	if cfg.LogFile != "" {
		maxSize := cfg.MaxSizeMB
		if maxSize <= 0 {
			maxSize = 100
		}
		maxBackups := cfg.MaxBackups
		if maxBackups <= 0 {
			maxBackups = 5
		}
		maxAge := cfg.MaxAgeDays
		if maxAge <= 0 {
			maxAge = 28
		}
		w = &lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    maxSize,
			MaxBackups: maxBackups,
			MaxAge:     maxAge,
			Compress:   true,
		}
	}

	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: auditlog.RedactAttr,
	})
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}
