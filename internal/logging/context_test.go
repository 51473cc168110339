package logging

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/trace"
)

func TestContextFields_Empty(t *testing.T) {
	assert.Empty(t, ContextFields(context.Background()))
}

func TestContextFields_RunAndInput(t *testing.T) {
	id := NewRunID()
	ctx := WithInputPath(WithRunID(context.Background(), id), "/data/texts.txt")

	fields := ContextFields(ctx)
	got := map[string]string{}
	for _, f := range fields {
		got[f.Key] = f.String
	}
	assert.Equal(t, id, got["run.id"])
	assert.Equal(t, "/data/texts.txt", got["input.path"])
}

func TestContextFields_Trace(t *testing.T) {
	traceID, _ := trace.TraceIDFromHex("4bf92f3577b34da6a3ce929d0e0e4736")
	spanID, _ := trace.SpanIDFromHex("00f067aa0ba902b7")
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	keys := map[string]bool{}
	for _, f := range ContextFields(ctx) {
		keys[f.Key] = true
	}
	assert.True(t, keys["trace_id"])
	assert.True(t, keys["span_id"])
	assert.True(t, keys["trace_sampled"])
}

func TestWithRunID_Invalid(t *testing.T) {
	assert.Panics(t, func() { WithRunID(context.Background(), "") })
	assert.Panics(t, func() { WithRunID(context.Background(), "run-1; DROP") })
	assert.NotPanics(t, func() { WithRunID(context.Background(), NewRunID()) })
}

func TestWithInputPath_Invalid(t *testing.T) {
	assert.Panics(t, func() { WithInputPath(context.Background(), "") })
	assert.Panics(t, func() { WithInputPath(context.Background(), "\xff\xfe") })
	assert.Panics(t, func() { WithInputPath(context.Background(), strings.Repeat("a", maxPathLen+1)) })
}

func TestLoggerContext(t *testing.T) {
	assert.NotNil(t, FromContext(context.Background()))

	tl := NewTestLogger()
	ctx := WithLogger(context.Background(), tl.Logger)
	FromContext(ctx).Info(ctx, "from context")
	tl.AssertLogged(t, 0, "from context")
}
