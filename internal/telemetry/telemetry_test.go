package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestNew_Disabled(t *testing.T) {
	tel, err := New(context.Background(), NewDefaultConfig())
	require.NoError(t, err)

	assert.False(t, tel.IsEnabled())
	assert.NotNil(t, tel.Tracer("test"))
	assert.NotNil(t, tel.Meter("test"))
	assert.Nil(t, tel.LoggerProvider())
	assert.True(t, tel.Health().Healthy)
	assert.NoError(t, tel.Shutdown(context.Background()))
}

func TestNew_InvalidConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Enabled = true
	cfg.Endpoint = ""

	tel, err := New(context.Background(), cfg)
	require.Error(t, err)
	assert.Nil(t, tel)
	assert.Contains(t, err.Error(), "invalid telemetry config")
}

func TestNew_WithInjectedExporters(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Enabled = true

	spans := tracetest.NewInMemoryExporter()
	reader := sdkmetric.NewManualReader()

	tel, err := New(context.Background(), cfg, WithSpanExporter(spans), WithMetricReader(reader))
	require.NoError(t, err)
	assert.True(t, tel.IsEnabled())
	assert.NotNil(t, tel.LoggerProvider())

	ctx := context.Background()
	_, span := tel.Tracer("embedkit/test").Start(ctx, "work")
	span.SetAttributes(attribute.Int("records", 3))
	span.End()

	counter, err := tel.Meter("embedkit/test").Int64Counter("embedkit.test.count")
	require.NoError(t, err)
	counter.Add(ctx, 2)

	require.NoError(t, tel.ForceFlush(ctx))
	got := spans.GetSpans()
	require.Len(t, got, 1)
	assert.Equal(t, "work", got[0].Name)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))
	require.NotEmpty(t, rm.ScopeMetrics)
	assert.Equal(t, "embedkit.test.count", rm.ScopeMetrics[0].Metrics[0].Name)

	require.NoError(t, tel.Shutdown(ctx))
	assert.False(t, tel.IsEnabled())
	assert.False(t, tel.Health().Healthy)

	// Second shutdown is a no-op.
	assert.NoError(t, tel.Shutdown(ctx))
}

func TestTelemetry_NilSafe(t *testing.T) {
	var tel *Telemetry

	assert.NotNil(t, tel.Tracer("x"))
	assert.NotNil(t, tel.Meter("x"))
	assert.NotNil(t, tel.MeterProvider())
	assert.Nil(t, tel.LoggerProvider())
	assert.False(t, tel.IsEnabled())
	assert.True(t, tel.Health().Degraded)
	assert.NoError(t, tel.Shutdown(context.Background()))
	assert.NoError(t, tel.ForceFlush(context.Background()))
}

func TestSampler(t *testing.T) {
	assert.Contains(t, sampler(1).Description(), "AlwaysOnSampler")
	assert.Contains(t, sampler(0).Description(), "AlwaysOffSampler")
	assert.Contains(t, sampler(0.5).Description(), "TraceIDRatioBased")
}

func TestTestTelemetry(t *testing.T) {
	tt := NewTestTelemetry()
	ctx := context.Background()

	_, span := tt.Tracer("embedkit/test").Start(ctx, "embed")
	span.SetAttributes(attribute.String("model", "all-MiniLM-L6-v2"), attribute.Int("dimension", 384))
	span.End()

	tt.AssertSpanExists(t, "embed")
	tt.AssertSpanAttribute(t, "embed", "model", "all-MiniLM-L6-v2")
	tt.AssertSpanAttribute(t, "embed", "dimension", int64(384))

	counter, err := tt.Meter("embedkit/test").Int64Counter("records")
	require.NoError(t, err)
	counter.Add(ctx, 3)
	counter.Add(ctx, 4, metric.WithAttributes(attribute.String("status", "failed")))
	assert.Equal(t, int64(7), tt.CounterValue(t, "records"))

	hist, err := tt.Meter("embedkit/test").Float64Histogram("latency")
	require.NoError(t, err)
	hist.Record(ctx, 0.1)
	hist.Record(ctx, 0.2)
	assert.Equal(t, uint64(2), tt.HistogramCount(t, "latency"))

	assert.Equal(t, int64(0), tt.CounterValue(t, "missing"))
}
