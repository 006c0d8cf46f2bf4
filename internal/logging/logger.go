package logging

import (
	"io"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Rotation limits for file output.
const (
	maxLogSizeMB  = 10
	maxLogBackups = 5
	maxLogAgeDays = 30
)

// NewLogger creates a structured logger appropriate for the environment.
// Production uses JSON format, development uses human-readable text.
func NewLogger(env string) *slog.Logger {
	return New(env, os.Stdout)
}

// New is NewLogger writing to w.
func New(env string, w io.Writer) *slog.Logger {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}

	if env == "production" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		opts.Level = slog.LevelDebug
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(handler)
}

// FileWriter returns a size-rotated log file at path. Close it on exit.
func FileWriter(path string) io.WriteCloser {
	return &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxLogSizeMB,
		MaxBackups: maxLogBackups,
		MaxAge:     maxLogAgeDays,
		Compress:   true,
	}
}

// Open builds the process logger. With an empty file it logs to stdout;
// otherwise to a rotated file. The returned closer is never nil.
func Open(env, file string) (*slog.Logger, io.Closer) {
	if file == "" {
		return NewLogger(env), io.NopCloser(nil)
	}

	w := FileWriter(file)

	return New(env, w), w
}
