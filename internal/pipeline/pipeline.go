// Package pipeline embeds many texts concurrently and emits records in
// input order.
//
// Texts are read from a Source in chunks. Up to Concurrency chunks are
// embedded at once; their results are then written to the Sink in input
// order and the sink is flushed after each chunk, so an interrupted run
// leaves a valid prefix behind.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime"
	"time"

	"github.com/fyrsmithlabs/embedkit/internal/cache"
	"github.com/fyrsmithlabs/embedkit/internal/config"
	"github.com/fyrsmithlabs/embedkit/internal/embeddings"
	"github.com/fyrsmithlabs/embedkit/internal/logging"
	"github.com/fyrsmithlabs/embedkit/internal/vector"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Embedder is the part of *embeddings.Embedder the pipeline needs.
type Embedder interface {
	EmbedText(ctx context.Context, text string) (vector.Vector, error)
	EmbedBatch(ctx context.Context, texts []string) []embeddings.Result
	Header() vector.Header
}

var _ Embedder = (*embeddings.Embedder)(nil)

// Config controls batching.
type Config struct {
	// Concurrency bounds how many chunks are embedded at once.
	Concurrency int
	// ChunkSize is the number of texts per chunk and per sink flush.
	ChunkSize int
	// SkipFailed records per-item failures in the report and carries on.
	// Otherwise the first failure ends the run.
	SkipFailed bool
	// StreamThresholdBytes is the input size above which callers should
	// stream to a codec.FileWriter instead of buffering a collection.
	StreamThresholdBytes int64
}

// DefaultConfig returns one worker per CPU and 64-text chunks.
func DefaultConfig() Config {
	return Config{
		Concurrency:          runtime.NumCPU(),
		ChunkSize:            64,
		StreamThresholdBytes: 64 << 20,
	}
}

// ConfigFrom maps the pipeline section of the application config.
func ConfigFrom(c config.PipelineConfig) Config {
	return Config{
		Concurrency:          c.Concurrency,
		ChunkSize:            c.ChunkSize,
		SkipFailed:           c.SkipFailed,
		StreamThresholdBytes: c.StreamThresholdBytes,
	}
}

// ShouldStream reports whether an input of size bytes should be streamed.
func (c Config) ShouldStream(size int64) bool {
	return c.StreamThresholdBytes > 0 && size > c.StreamThresholdBytes
}

// Failure describes one input that could not be embedded.
type Failure struct {
	Index int
	Text  string
	Err   error
}

// Report summarizes a run.
type Report struct {
	Total       int
	Written     int
	Failures    []Failure
	CacheHits   int64
	CacheMisses int64
	Duration    time.Duration
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(l *logging.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// WithTracer sets the tracer. Defaults to the global provider.
func WithTracer(t trace.Tracer) Option {
	return func(p *Pipeline) { p.tracer = t }
}

// WithMetrics records Prometheus metrics for every run.
func WithMetrics(m *Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithClock overrides the record timestamp source.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// Pipeline embeds texts from a Source into a Sink.
type Pipeline struct {
	embedder Embedder
	cache    *cache.Cache
	cfg      Config
	logger   *logging.Logger
	tracer   trace.Tracer
	metrics  *Metrics
	now      func() time.Time
}

// New returns a pipeline. c may be nil to disable caching.
func New(e Embedder, c *cache.Cache, cfg Config, opts ...Option) *Pipeline {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = runtime.NumCPU()
	}
	if cfg.ChunkSize < 1 {
		cfg.ChunkSize = DefaultConfig().ChunkSize
	}
	p := &Pipeline{embedder: e, cache: c, cfg: cfg}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = logging.Nop()
	}
	if p.tracer == nil {
		p.tracer = otel.Tracer("github.com/fyrsmithlabs/embedkit/internal/pipeline")
	}
	if p.now == nil {
		p.now = time.Now
	}
	return p
}

// chunk is a contiguous slice of the input and its results.
type chunk struct {
	start   int
	texts   []string
	results []embeddings.Result
}

// Run embeds every text from src and writes the records to sink in input
// order.
//
// A per-item failure is added to the report. With SkipFailed the item is
// left out of the output; otherwise Run flushes the records before it and
// returns the failure. Cancellation is checked between chunks and returns
// the context error after flushing what was already written.
func (p *Pipeline) Run(ctx context.Context, src Source, sink Sink) (Report, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.Run", trace.WithAttributes(
		attribute.Int("concurrency", p.cfg.Concurrency),
		attribute.Int("chunk_size", p.cfg.ChunkSize),
		attribute.Bool("skip_failed", p.cfg.SkipFailed),
	))
	defer span.End()

	start := time.Now()
	before := p.cache.Stats()

	report, err := p.run(ctx, src, sink)

	after := p.cache.Stats()
	report.CacheHits = after.Hits - before.Hits
	report.CacheMisses = after.Misses - before.Misses
	report.Duration = time.Since(start)
	if p.metrics != nil {
		p.metrics.observeRun(report, p.now())
	}

	span.SetAttributes(
		attribute.Int("records.total", report.Total),
		attribute.Int("records.written", report.Written),
		attribute.Int("records.failed", len(report.Failures)),
	)
	fields := []zap.Field{
		zap.Int("total", report.Total),
		zap.Int("written", report.Written),
		zap.Int("failed", len(report.Failures)),
		zap.Int64("cache_hits", report.CacheHits),
		zap.Int64("cache_misses", report.CacheMisses),
		zap.Duration("duration", report.Duration),
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "pipeline failed")
		p.logger.Error(ctx, "pipeline failed", append(fields, zap.Error(err))...)
		return report, err
	}
	p.logger.Info(ctx, "pipeline finished", fields...)
	return report, nil
}

func (p *Pipeline) run(ctx context.Context, src Source, sink Sink) (Report, error) {
	var report Report

	header := p.embedder.Header()
	if header.Dimension <= 0 {
		return report, embeddings.ErrNotInitialized
	}

	for {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		wave, eof, err := p.readWave(src, report.Total)
		if err != nil {
			return report, err
		}
		report.Total += countTexts(wave)

		if len(wave) > 0 {
			p.embedWave(ctx, wave)
			for _, c := range wave {
				if err := p.emit(ctx, c, sink, &report); err != nil {
					return report, err
				}
			}
		}
		if eof {
			return report, nil
		}
	}
}

// readWave reads up to Concurrency chunks. eof is true once src is drained.
func (p *Pipeline) readWave(src Source, offset int) (wave []*chunk, eof bool, err error) {
	for len(wave) < p.cfg.Concurrency {
		c := &chunk{start: offset}
		for len(c.texts) < p.cfg.ChunkSize {
			text, err := src.Next()
			if errors.Is(err, io.EOF) {
				eof = true
				break
			}
			if err != nil {
				return nil, false, fmt.Errorf("reading input: %w", err)
			}
			c.texts = append(c.texts, text)
		}
		if len(c.texts) > 0 {
			wave = append(wave, c)
			offset += len(c.texts)
		}
		if eof {
			break
		}
	}
	return wave, eof, nil
}

// embedWave embeds each chunk on its own worker.
func (p *Pipeline) embedWave(ctx context.Context, wave []*chunk) {
	var g errgroup.Group
	g.SetLimit(p.cfg.Concurrency)
	for _, c := range wave {
		g.Go(func() error {
			p.embedChunk(ctx, c)
			return nil
		})
	}
	_ = g.Wait()
}

func (p *Pipeline) embedChunk(ctx context.Context, c *chunk) {
	ctx, span := p.tracer.Start(ctx, "pipeline.chunk", trace.WithAttributes(
		attribute.Int("chunk.start", c.start),
		attribute.Int("chunk.size", len(c.texts)),
	))
	defer span.End()
	start := time.Now()

	if p.cache == nil {
		c.results = p.embedder.EmbedBatch(ctx, c.texts)
	} else {
		c.results = make([]embeddings.Result, len(c.texts))
		for i, text := range c.texts {
			v, err := p.cache.GetOrCompute(ctx, text, func(ctx context.Context) (vector.Vector, error) {
				return p.embedder.EmbedText(ctx, text)
			})
			c.results[i] = embeddings.Result{Index: i, Vector: v, Err: err}
		}
	}

	if p.metrics != nil {
		p.metrics.ChunkDuration.Observe(time.Since(start).Seconds())
	}
}

// emit writes one chunk's records in order and flushes the sink.
func (p *Pipeline) emit(ctx context.Context, c *chunk, sink Sink, report *Report) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for i, res := range c.results {
		idx := c.start + i
		if res.Err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				if err := sink.Flush(); err != nil {
					return errors.Join(ctxErr, err)
				}
				return ctxErr
			}
			report.Failures = append(report.Failures, Failure{Index: idx, Text: c.texts[i], Err: res.Err})
			p.countRecord("failed")
			if !p.cfg.SkipFailed {
				if err := sink.Flush(); err != nil {
					return fmt.Errorf("flushing output: %w", err)
				}
				return fmt.Errorf("input %d: %w", idx, res.Err)
			}
			p.logger.Debug(ctx, "skipping failed input", zap.Int("index", idx), zap.Error(res.Err))
			continue
		}

		rec := vector.Record{Values: res.Vector, Text: c.texts[i], Timestamp: p.now().Unix()}
		if err := sink.Write(rec); err != nil {
			return fmt.Errorf("writing record for input %d: %w", idx, err)
		}
		report.Written++
		p.countRecord("written")
	}
	if err := sink.Flush(); err != nil {
		return fmt.Errorf("flushing output: %w", err)
	}
	return nil
}

func (p *Pipeline) countRecord(status string) {
	if p.metrics != nil {
		p.metrics.Records.WithLabelValues(status).Inc()
	}
}

func countTexts(wave []*chunk) int {
	n := 0
	for _, c := range wave {
		n += len(c.texts)
	}
	return n
}

// RunTexts embeds texts into an in-memory collection.
func (p *Pipeline) RunTexts(ctx context.Context, texts []string) (*vector.Collection, Report, error) {
	sink := NewCollectionSink(p.embedder.Header())
	report, err := p.Run(ctx, NewSliceSource(texts), sink)
	return sink.Collection, report, err
}
