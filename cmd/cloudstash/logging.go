package main

import (
	"io"
	"log/slog"
	"os"

	"cloudstash/internal/config"
)

// setupLogging installs the default logger for logConfig. Logs go to stderr
// so command output on stdout stays clean. When a log file is configured it
// is opened for append and returned; the previous file, if any, is closed.
func setupLogging(logConfig config.LoggingConfig, previous *os.File) *os.File {
	var level slog.Level
	switch logConfig.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var out io.Writer = os.Stderr
	var file *os.File
	if logConfig.File != "" {
		f, err := os.OpenFile(logConfig.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			slog.Warn("failed to open log file, logging to stderr only", "file", logConfig.File, "error", err)
		} else {
			file = f
			out = io.MultiWriter(os.Stderr, f)
		}
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{
		Level: level,
	}

	if logConfig.Format == "text" {
		handler = slog.NewTextHandler(out, opts)
	} else {
		handler = slog.NewJSONHandler(out, opts)
	}

	slog.SetDefault(slog.New(handler))

	if previous != nil {
		previous.Close()
	}
	return file
}
