package embeddings

import (
	"context"
	"errors"
	"time"

	"github.com/fyrsmithlabs/embedkit/internal/logging"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/fyrsmithlabs/embedkit/internal/embeddings"

// Metrics holds the embedder's OpenTelemetry instruments. Instruments that
// fail to register are left nil and skipped.
type Metrics struct {
	duration     metric.Float64Histogram
	batchSize    metric.Int64Histogram
	errors       metric.Int64Counter
	initAttempts metric.Int64Counter
}

// NewMetrics registers instruments on meter.
func NewMetrics(meter metric.Meter, logger *logging.Logger) *Metrics {
	m := &Metrics{}
	ctx := context.Background()
	var err error

	m.duration, err = meter.Float64Histogram(
		"embedkit.embedding.generation_duration_seconds",
		metric.WithDescription("Duration of embedding generation, labeled by model and operation (embed, batch_embed)"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0),
	)
	if err != nil {
		logger.Warn(ctx, "failed to create duration histogram", zap.Error(err))
	}

	m.batchSize, err = meter.Int64Histogram(
		"embedkit.embedding.batch_size",
		metric.WithDescription("Number of texts per EmbedBatch call"),
		metric.WithUnit("{text}"),
		metric.WithExplicitBucketBoundaries(1, 2, 5, 10, 25, 50, 100, 250, 500),
	)
	if err != nil {
		logger.Warn(ctx, "failed to create batch size histogram", zap.Error(err))
	}

	m.errors, err = meter.Int64Counter(
		"embedkit.embedding.errors_total",
		metric.WithDescription("Embedding errors by model, operation and kind (empty_input, model_failure, not_initialized)"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		logger.Warn(ctx, "failed to create errors counter", zap.Error(err))
	}

	m.initAttempts, err = meter.Int64Counter(
		"embedkit.embedding.acquire_attempts_total",
		metric.WithDescription("Model acquisition attempts, labeled by outcome"),
		metric.WithUnit("{attempt}"),
	)
	if err != nil {
		logger.Warn(ctx, "failed to create acquire attempts counter", zap.Error(err))
	}
	return m
}

// RecordGeneration records one embed or batch_embed call.
func (m *Metrics) RecordGeneration(ctx context.Context, model, operation string, d time.Duration, batchSize int, err error) {
	attrs := metric.WithAttributes(
		attribute.String("model", model),
		attribute.String("operation", operation),
	)
	if m.duration != nil {
		m.duration.Record(ctx, d.Seconds(), attrs)
	}
	if batchSize > 0 && m.batchSize != nil {
		m.batchSize.Record(ctx, int64(batchSize), attrs)
	}
	if err != nil {
		m.RecordError(ctx, model, operation, err)
	}
}

// RecordError counts err under its kind.
func (m *Metrics) RecordError(ctx context.Context, model, operation string, err error) {
	if m.errors == nil || err == nil {
		return
	}
	m.errors.Add(ctx, 1, metric.WithAttributes(
		attribute.String("model", model),
		attribute.String("operation", operation),
		attribute.String("kind", errorKind(err)),
	))
}

// RecordAcquire counts one acquisition attempt.
func (m *Metrics) RecordAcquire(ctx context.Context, provider string, err error) {
	if m.initAttempts == nil {
		return
	}
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	m.initAttempts.Add(ctx, 1, metric.WithAttributes(
		attribute.String("provider", provider),
		attribute.String("outcome", outcome),
	))
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, ErrEmptyInput):
		return "empty_input"
	case errors.Is(err, ErrNotInitialized):
		return "not_initialized"
	case errors.Is(err, ErrModelFailure):
		return "model_failure"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "other"
	}
}
