package logging

import (
	"context"

	"github.com/google/uuid"
)

type contextKey int

const (
	correlationIDKey contextKey = iota
	loggerKey
)

// NewCorrelationID returns a fresh random correlation ID.
func NewCorrelationID() string {
	return uuid.NewString()
}

// WithCorrelationIDCtx returns a new context with the correlation ID set.
func WithCorrelationIDCtx(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey, id)
}

// CorrelationIDFromCtx extracts the correlation ID from the context.
func CorrelationIDFromCtx(ctx context.Context) string {
	if id, ok := ctx.Value(correlationIDKey).(string); ok {
		return id
	}
	return ""
}

// WithLoggerCtx returns a new context with the logger attached.
func WithLoggerCtx(ctx context.Context, l *Logger) context.Context {
	return context.WithValue(ctx, loggerKey, l)
}

// LoggerFromCtx returns the logger from context, or nil if not set.
func LoggerFromCtx(ctx context.Context) *Logger {
	l, _ := ctx.Value(loggerKey).(*Logger)
	return l
}

// FromCtx returns the logger stored in ctx. Without one it derives a logger
// from the global logger and the context's correlation ID.
func FromCtx(ctx context.Context) *Logger {
	if l := LoggerFromCtx(ctx); l != nil {
		return l
	}
	l := Global()
	if id := CorrelationIDFromCtx(ctx); id != "" {
		l = l.WithCorrelationID(id)
	}
	return l
}

// ContextLogger returns the context's logger, falling back to base and then
// the global logger, tagged with the context's correlation ID when the
// logger does not already carry it.
func ContextLogger(ctx context.Context, base *Logger) *Logger {
	l := LoggerFromCtx(ctx)
	if l == nil {
		l = base
	}
	if l == nil {
		l = Global()
	}
	if id := CorrelationIDFromCtx(ctx); id != "" && id != l.CorrelationID() {
		l = l.WithCorrelationID(id)
	}
	return l
}

// StartOperation tags ctx and base with a new correlation ID and returns
// both. Each cleanup cycle and each consumed event is one operation.
func StartOperation(ctx context.Context, base *Logger) (context.Context, *Logger) {
	if base == nil {
		base = Global()
	}
	id := NewCorrelationID()
	l := base.WithCorrelationID(id)
	ctx = WithCorrelationIDCtx(ctx, id)
	return WithLoggerCtx(ctx, l), l
}
