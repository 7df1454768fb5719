package fragments

import (
	"context"
	"log/slog"
)

type loggerKey struct{}

// LoggingContext returns a copy of ctx carrying logger. Everything the
// Loader reports (cache hits, fallbacks, script failures) goes to the logger
// found in the context passed to it; without one, nothing is logged.
func LoggingContext(ctx context.Context, logger *slog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

func logger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey{}).(*slog.Logger); ok && l != nil {
		return l
	}
	return slog.New(discardHandler{})
}

// fragmentLogger scopes the context logger to a single container/source pair.
func fragmentLogger(ctx context.Context, container, source string) *slog.Logger {
	return logger(ctx).With(
		slog.String("container", container),
		slog.String("source", source),
	)
}

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool { return false }

func (discardHandler) Handle(context.Context, slog.Record) error { return nil }

func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler { return d }

func (d discardHandler) WithGroup(string) slog.Handler { return d }
