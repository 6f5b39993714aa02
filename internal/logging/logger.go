// Package logging wraps slog.Logger with record-layer field names.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// Logger wraps slog.Logger with record-layer specific helpers.
type Logger struct {
	*slog.Logger
}

// New creates a Logger writing to stderr. format is "json" or "text";
// level is one of debug, info, warn, error.
func New(level, format string) *Logger {
	return NewWithWriter(os.Stderr, level, format)
}

// NewWithWriter creates a Logger writing to w.
func NewWithWriter(w io.Writer, level, format string) *Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return &Logger{Logger: slog.New(handler)}
}

// Nop returns a Logger that discards all output.
func Nop() *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{
		Level: slog.Level(1000),
	}))}
}

// OrNop returns l, or a discarding logger when l is nil.
func OrNop(l *Logger) *Logger {
	if l == nil {
		return Nop()
	}
	return l
}

// ParseLevel maps a level name to a slog level; unknown names mean info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithComponent tags every record with a component name.
func (l *Logger) WithComponent(name string) *Logger {
	return &Logger{Logger: l.Logger.With("component", name)}
}

// WithRecordType adds a record_type field.
func (l *Logger) WithRecordType(name string) *Logger {
	return &Logger{Logger: l.Logger.With("record_type", name)}
}

// LogPlan logs a planning decision.
func (l *Logger) LogPlan(ctx context.Context, recordType, kind string, selectivity float64, elapsed time.Duration) {
	l.DebugContext(ctx, "query planned",
		"record_type", recordType,
		"plan", kind,
		"selectivity", selectivity,
		"elapsed", elapsed,
	)
}

// LogStatistics logs the outcome of a statistics collection run.
func (l *Logger) LogStatistics(ctx context.Context, subject string, sampled int, elapsed time.Duration, err error) {
	if err != nil {
		l.WarnContext(ctx, "statistics collection failed",
			"subject", subject,
			"error", err,
		)
		return
	}
	l.InfoContext(ctx, "statistics collected",
		"subject", subject,
		"sampled", sampled,
		"elapsed", elapsed,
	)
}

// LogEvolution logs a metadata adoption attempt.
func (l *Logger) LogEvolution(ctx context.Context, oldVersion, newVersion, violations int, err error) {
	if err != nil {
		l.WarnContext(ctx, "metadata evolution rejected",
			"old_version", oldVersion,
			"new_version", newVersion,
			"violations", violations,
			"error", err,
		)
		return
	}
	l.InfoContext(ctx, "metadata evolution adopted",
		"old_version", oldVersion,
		"new_version", newVersion,
	)
}
