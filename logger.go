package quiver

import (
	"context"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
)

// Logger wraps slog.Logger with quiver-specific context.
// This provides structured logging with consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses a text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		return NewTextLogger(slog.LevelInfo)
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
// level sets the minimum log level (e.g., slog.LevelDebug, slog.LevelInfo).
func NewJSONLogger(level slog.Level) *Logger {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewTextLogger creates a Logger that outputs human-readable text logs to
// stderr. Colours are used only when stderr is a terminal.
func NewTextLogger(level slog.Level) *Logger {
	return newTintLogger(os.Stderr, level, !isatty.IsTerminal(os.Stderr.Fd()))
}

func newTintLogger(w io.Writer, level slog.Level, noColor bool) *Logger {
	handler := tint.NewHandler(w, &tint.Options{
		Level:      level,
		TimeFormat: "15:04:05.000",
		NoColor:    noColor,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NoopLogger creates a Logger that discards all log output.
// Use this to disable logging entirely.
func NoopLogger() *Logger {
	return &Logger{
		Logger: slog.New(slog.DiscardHandler),
	}
}

// WithLibrary adds a library field to the logger.
func (l *Logger) WithLibrary(name string) *Logger {
	return &Logger{
		Logger: l.Logger.With("library", name),
	}
}

// WithSubject adds a subject field to the logger.
func (l *Logger) WithSubject(name string) *Logger {
	return &Logger{
		Logger: l.Logger.With("subject", name),
	}
}

// WithItem adds an item field to the logger.
func (l *Logger) WithItem(name string) *Logger {
	return &Logger{
		Logger: l.Logger.With("item", name),
	}
}

func bytesAttr(n int64) slog.Attr {
	if n < 0 {
		n = 0
	}
	return slog.String("size", humanize.Bytes(uint64(n)))
}

// LogWrite logs a write or append.
func (l *Logger) LogWrite(ctx context.Context, op string, generation uint64, files int, rows, bytes int64, took time.Duration, err error) {
	if err != nil {
		l.ErrorContext(ctx, op+" failed",
			"generation", generation,
			"error", err,
		)
		return
	}
	l.InfoContext(ctx, op+" committed",
		"generation", generation,
		"files", files,
		"rows", rows,
		bytesAttr(bytes),
		"took", took,
	)
}

// LogQuery logs a materialization.
func (l *Logger) LogQuery(ctx context.Context, files, rows int, took time.Duration, err error) {
	if err != nil {
		l.ErrorContext(ctx, "query failed",
			"files", files,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "query completed",
			"files", files,
			"rows", rows,
			"took", took,
		)
	}
}

// LogSchema logs a schema inference.
func (l *Logger) LogSchema(ctx context.Context, files, columns int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "schema inference failed",
			"files", files,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "schema inferred",
			"files", files,
			"columns", columns,
		)
	}
}

// LogSnapshot logs a snapshot operation.
func (l *Logger) LogSnapshot(ctx context.Context, name string, files int, bytes int64, err error) {
	if err != nil {
		l.ErrorContext(ctx, "snapshot failed",
			"snapshot", name,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "snapshot saved",
			"snapshot", name,
			"files", files,
			bytesAttr(bytes),
		)
	}
}

// LogBackup logs a backup or restore.
func (l *Logger) LogBackup(ctx context.Context, op string, files int, bytes int64, err error) {
	if err != nil {
		l.ErrorContext(ctx, op+" failed",
			"error", err,
		)
	} else {
		l.InfoContext(ctx, op+" completed",
			"files", files,
			bytesAttr(bytes),
		)
	}
}

// LogCleanup logs files that could not be removed after a commit.
func (l *Logger) LogCleanup(ctx context.Context, path string, err error) {
	l.WarnContext(ctx, "cleanup failed",
		"path", path,
		"error", err,
	)
}
