package readstore

import (
	"context"
	"log/slog"
	"os"

	"github.com/hupe1980/readstore/model"
)

// Logger wraps slog.Logger with store-specific context.
// This provides structured logging with consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
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

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.Level(1000), // Unreachable level
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// WithPath adds the store directory to the logger.
func (l *Logger) WithPath(path string) *Logger {
	return &Logger{
		Logger: l.Logger.With("path", path),
	}
}

// WithIID adds an IID field to the logger.
func (l *Logger) WithIID(iid model.IID) *Logger {
	return &Logger{
		Logger: l.Logger.With("iid", uint32(iid)),
	}
}

// WithPartition adds a partition number to the logger.
func (l *Logger) WithPartition(n int) *Logger {
	return &Logger{
		Logger: l.Logger.With("partition", n),
	}
}

// WithKind adds a clear-range kind to the logger.
func (l *Logger) WithKind(kind model.Kind) *Logger {
	return &Logger{
		Logger: l.Logger.With("kind", string(kind)),
	}
}

// LogAppend logs an append.
func (l *Logger) LogAppend(uid model.UID, iid model.IID, class model.Class, err error) {
	if err != nil {
		l.Error("append failed",
			"uid", uid.String(),
			"error", err,
		)
	} else {
		l.Debug("append completed",
			"uid", uid.String(),
			"iid", uint32(iid),
			"class", class.String(),
		)
	}
}

// LogGet logs a fragment read.
func (l *Logger) LogGet(iid model.IID, err error) {
	if err != nil {
		l.Error("get failed",
			"iid", uint32(iid),
			"error", err,
		)
	} else {
		l.Debug("get completed",
			"iid", uint32(iid),
		)
	}
}

// LogSet logs an in-place record update.
func (l *Logger) LogSet(iid model.IID, err error) {
	if err != nil {
		l.Error("set failed",
			"iid", uint32(iid),
			"error", err,
		)
	} else {
		l.Debug("set completed",
			"iid", uint32(iid),
		)
	}
}

// LogDelete logs a tombstone.
func (l *Logger) LogDelete(iid model.IID, err error) {
	if err != nil {
		l.Error("delete failed",
			"iid", uint32(iid),
			"error", err,
		)
	} else {
		l.Debug("delete completed",
			"iid", uint32(iid),
		)
	}
}

// LogOpen logs a store open or create.
func (l *Logger) LogOpen(path string, writable bool, fragments uint32, err error) {
	if err != nil {
		l.Error("open failed",
			"path", path,
			"error", err,
		)
	} else {
		l.Info("store opened",
			"path", path,
			"writable", writable,
			"fragments", fragments,
		)
	}
}

// LogPartitionBuild logs the outcome of a partition build.
func (l *Logger) LogPartitionBuild(partitions, copied, skipped, deleted uint64, err error) {
	if err != nil {
		l.Error("partition build failed",
			"partitions", partitions,
			"error", err,
		)
	} else {
		l.Info("partition build completed",
			"partitions", partitions,
			"copied", copied,
			"skipped", skipped,
			"deleted", deleted,
		)
	}
}

// LogTransfer logs a partition publish or fetch.
func (l *Logger) LogTransfer(ctx context.Context, op string, partition, files int, err error) {
	if err != nil {
		l.ErrorContext(ctx, op+" failed",
			"partition", partition,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, op+" completed",
			"partition", partition,
			"files", files,
		)
	}
}
