package tlog

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type contextKey int

const (
	tlogKey contextKey = iota
)

var nop = zap.NewNop()

// Get returns a logger from context.
//
// A context without a logger yields a no-op logger, so that library code can
// be driven by a bare context.
func Get(ctx context.Context) *zap.Logger {
	if logger, ok := ctx.Value(tlogKey).(*zap.Logger); ok {
		return logger
	}
	return nop
}

// WithLogger adds a logger to a context or replaces an existing one
func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, tlogKey, logger)
}

// With returns a context with a sub-logger with passed parameters
func With(ctx context.Context, fields ...zapcore.Field) context.Context {
	return WithLogger(ctx, Get(ctx).With(fields...))
}

// Component returns a context with a sub-logger for the named component
func Component(ctx context.Context, name string) context.Context {
	return With(ctx, zap.String("component", name))
}
