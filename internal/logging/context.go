package logging

import (
	"context"

	"go.uber.org/zap"
)

// fieldsContextKey is the context key for request-scoped log fields.
type fieldsContextKey struct{}

// WithFields returns a context carrying the given fields in addition to any
// fields already present. Later fields with the same key win at encode time.
func WithFields(ctx context.Context, fields ...zap.Field) context.Context {
	existing := ContextFields(ctx)
	merged := make([]zap.Field, 0, len(existing)+len(fields))
	merged = append(merged, existing...)
	merged = append(merged, fields...)
	return context.WithValue(ctx, fieldsContextKey{}, merged)
}

// ContextFields returns the request-scoped fields stored in ctx, or nil.
func ContextFields(ctx context.Context) []zap.Field {
	if ctx == nil {
		return nil
	}
	fields, _ := ctx.Value(fieldsContextKey{}).([]zap.Field)
	return fields
}
