// Package telemetry holds the supervisor's cross-cutting logging and error
// taxonomy, so individual components depend on these small
// interfaces instead of a package-global logger or ad-hoc error strings.
package telemetry

import (
	"context"
	"log/slog"
	"os"
)

// Logger is the minimal wrapper every component constructor takes, trimmed of the
// trace-ID correlation since this module carries no tracing dependency, kept
// as a context-taking interface so call sites read the same either way.
type Logger interface {
	InfoCtx(ctx context.Context, msg string, attrs ...any)
	WarnCtx(ctx context.Context, msg string, attrs ...any)
	ErrorCtx(ctx context.Context, msg string, attrs ...any)
}

type slogLogger struct{ base *slog.Logger }

// New wraps base, or slog.Default() if nil.
func New(base *slog.Logger) Logger {
	if base == nil {
		base = slog.Default()
	}
	return &slogLogger{base: base}
}

// NewJSON returns a Logger backed by a JSON handler writing to w, the
// production configuration.
func NewJSON(w *os.File, level slog.Level) Logger {
	return New(slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})))
}

func (l *slogLogger) InfoCtx(ctx context.Context, msg string, attrs ...any) {
	l.base.InfoContext(ctx, msg, attrs...)
}

func (l *slogLogger) WarnCtx(ctx context.Context, msg string, attrs ...any) {
	l.base.WarnContext(ctx, msg, attrs...)
}

func (l *slogLogger) ErrorCtx(ctx context.Context, msg string, attrs ...any) {
	l.base.ErrorContext(ctx, msg, attrs...)
}
