package logging

import (
	"context"
	"fmt"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// ContextFields extracts correlation data from context.
func ContextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 5)

	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		sc := span.SpanContext()
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
		if sc.IsSampled() {
			fields = append(fields, zap.Bool("trace_sampled", true))
		}
	}

	if runID := RunIDFromContext(ctx); runID != "" {
		fields = append(fields, zap.String("run.id", runID))
	}
	if path := InputPathFromContext(ctx); path != "" {
		fields = append(fields, zap.String("input.path", path))
	}

	return fields
}

type runIDCtxKey struct{}
type inputPathCtxKey struct{}

const maxPathLen = 4096

// NewRunID returns a fresh identifier for one CLI invocation.
func NewRunID() string {
	return uuid.NewString()
}

// RunIDFromContext extracts the run ID from context.
func RunIDFromContext(ctx context.Context) string {
	if s, ok := ctx.Value(runIDCtxKey{}).(string); ok {
		return s
	}
	return ""
}

// WithRunID adds a run ID to context.
// Panics if runID is not a UUID.
func WithRunID(ctx context.Context, runID string) context.Context {
	if _, err := uuid.Parse(runID); err != nil {
		panic(fmt.Sprintf("logging: invalid run ID %q: %v", runID, err))
	}
	return context.WithValue(ctx, runIDCtxKey{}, runID)
}

// InputPathFromContext extracts the input file path from context.
func InputPathFromContext(ctx context.Context) string {
	if s, ok := ctx.Value(inputPathCtxKey{}).(string); ok {
		return s
	}
	return ""
}

// WithInputPath adds the file being processed to context.
// Panics if path is empty, too long or not valid UTF-8.
func WithInputPath(ctx context.Context, path string) context.Context {
	switch {
	case path == "":
		panic("logging: input path cannot be empty")
	case len(path) > maxPathLen:
		panic(fmt.Sprintf("logging: input path exceeds max length %d", maxPathLen))
	case !utf8.ValidString(path):
		panic("logging: input path contains invalid UTF-8")
	}
	return context.WithValue(ctx, inputPathCtxKey{}, path)
}

type loggerCtxKey struct{}

// WithLogger stores logger in context.
func WithLogger(ctx context.Context, logger *Logger) context.Context {
	return context.WithValue(ctx, loggerCtxKey{}, logger)
}

// FromContext retrieves logger from context.
// Returns a nop logger if not found.
func FromContext(ctx context.Context) *Logger {
	if l, ok := ctx.Value(loggerCtxKey{}).(*Logger); ok {
		return l
	}
	return Nop()
}
