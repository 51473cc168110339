package embeddings

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/fyrsmithlabs/embedkit/internal/logging"
	"github.com/fyrsmithlabs/embedkit/internal/runner"
	"github.com/fyrsmithlabs/embedkit/internal/vector"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// State is the embedder lifecycle state.
type State int32

const (
	StateUninitialized State = iota
	StateInitializing
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Result is the outcome of embedding one item of a batch.
type Result struct {
	Index  int
	Vector vector.Vector
	Err    error
}

// Option configures an Embedder.
type Option func(*Embedder)

// WithLogger sets the logger. Defaults to a no-op logger.
func WithLogger(l *logging.Logger) Option {
	return func(e *Embedder) { e.logger = l }
}

// WithTracer sets the tracer. Defaults to the global provider.
func WithTracer(t trace.Tracer) Option {
	return func(e *Embedder) { e.tracer = t }
}

// WithMeter sets the meter. Defaults to the global provider.
func WithMeter(m metric.Meter) Option {
	return func(e *Embedder) { e.meter = m }
}

// Embedder produces normalized sentence embeddings from a runner.Provider.
// It is safe for concurrent use once Ready.
type Embedder struct {
	provider runner.Provider
	cfg      Config
	logger   *logging.Logger
	tracer   trace.Tracer
	meter    metric.Meter
	metrics  *Metrics

	state   atomic.Int32
	session atomic.Pointer[session]

	// initMu serializes Initialize and Close.
	initMu  sync.Mutex
	lastErr error
}

// session is everything Initialize produces. It is replaced, never mutated.
type session struct {
	model  runner.Model
	header vector.Header
	accel  runner.Accelerator
	pool   *runner.Pool
}

// New returns an uninitialized Embedder. Call Initialize before use.
func New(provider runner.Provider, cfg Config, opts ...Option) *Embedder {
	if cfg.Runners < 1 {
		cfg.Runners = 1
	}
	e := &Embedder{provider: provider, cfg: cfg}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = logging.Nop()
	}
	if e.tracer == nil {
		e.tracer = otel.Tracer(instrumentationName)
	}
	if e.meter == nil {
		e.meter = otel.Meter(instrumentationName)
	}
	e.metrics = NewMetrics(e.meter, e.logger)
	return e
}

// State returns the current lifecycle state.
func (e *Embedder) State() State {
	return State(e.state.Load())
}

// Err returns the error that moved the embedder to StateFailed, if any.
func (e *Embedder) Err() error {
	e.initMu.Lock()
	defer e.initMu.Unlock()
	return e.lastErr
}

// Initialize acquires the model, resolves the accelerator and opens the
// runner pool. It returns nil immediately when already Ready. A Failed
// embedder may be initialized again.
func (e *Embedder) Initialize(ctx context.Context) error {
	e.initMu.Lock()
	defer e.initMu.Unlock()

	if e.State() == StateReady && e.session.Load() != nil {
		return nil
	}
	e.state.Store(int32(StateInitializing))

	ctx, span := e.tracer.Start(ctx, "embedder.Initialize",
		trace.WithAttributes(attribute.String("provider", e.provider.Name())))
	defer span.End()

	start := time.Now()
	sess, err := e.initialize(ctx)
	if err != nil {
		e.lastErr = err
		e.state.Store(int32(StateFailed))
		span.RecordError(err)
		span.SetStatus(codes.Error, "initialization failed")
		e.logger.Error(ctx, "embedder initialization failed",
			zap.String("provider", e.provider.Name()),
			zap.Error(err))
		return err
	}

	e.lastErr = nil
	e.session.Store(sess)
	e.state.Store(int32(StateReady))
	span.SetAttributes(
		attribute.String("model", sess.header.ModelName),
		attribute.Int("dimension", sess.header.Dimension),
		attribute.String("accelerator", string(sess.accel)),
	)
	e.logger.Info(ctx, "embedder ready",
		zap.String("provider", e.provider.Name()),
		zap.String("model", sess.header.ModelName),
		zap.String("version", sess.header.ModelVersion),
		zap.Int("dimension", sess.header.Dimension),
		zap.String("accelerator", string(sess.accel)),
		zap.Int("runners", sess.pool.Size()),
		zap.Duration("duration", time.Since(start)))
	return nil
}

func (e *Embedder) initialize(ctx context.Context) (*session, error) {
	model, err := e.acquire(ctx)
	if err != nil {
		return nil, err
	}

	header, err := e.resolveHeader(model)
	if err != nil {
		return nil, err
	}

	hw := e.provider.Hardware()
	accel, err := resolveAccelerator(hw, e.cfg.Accelerator, e.cfg.CPUFallback)
	if err != nil {
		return nil, err
	}
	if accel != e.cfg.Accelerator && e.cfg.Accelerator != runner.Auto && e.cfg.Accelerator != "" {
		e.logger.Warn(ctx, "accelerator unavailable, falling back to cpu",
			zap.String("requested", string(e.cfg.Accelerator)),
			zap.Stringer("hardware", hw))
	}

	runners, accel, err := e.openRunners(ctx, model, accel)
	if err != nil {
		return nil, err
	}
	return &session{
		model:  model,
		header: header,
		accel:  accel,
		pool:   runner.NewPool(runners),
	}, nil
}

// acquire calls provider.Acquire with exponential backoff. Context errors
// stop the retries immediately.
func (e *Embedder) acquire(ctx context.Context) (runner.Model, error) {
	b := backoff.NewExponentialBackOff()
	if e.cfg.Download.InitialInterval > 0 {
		b.InitialInterval = e.cfg.Download.InitialInterval
	}
	if e.cfg.Download.MaxInterval > 0 {
		b.MaxInterval = e.cfg.Download.MaxInterval
	}
	retries := max(e.cfg.Download.MaxRetries, 0)

	attempt := 0
	model, err := backoff.Retry(ctx, func() (runner.Model, error) {
		attempt++
		m, err := e.provider.Acquire(ctx)
		e.metrics.RecordAcquire(ctx, e.provider.Name(), err)
		if err != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
			return m, backoff.Permanent(err)
		}
		return m, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(uint(retries)+1),
		backoff.WithNotify(func(err error, next time.Duration) {
			e.logger.Warn(ctx, "model acquisition failed, retrying",
				zap.Int("attempt", attempt),
				zap.Duration("backoff", next),
				zap.Error(err))
		}),
	)
	if err != nil {
		return runner.Model{}, fmt.Errorf("%w: %s after %d attempt(s): %w", ErrModelUnavailable, e.provider.Name(), attempt, err)
	}
	return model, nil
}

func (e *Embedder) resolveHeader(m runner.Model) (vector.Header, error) {
	h := vector.Header{
		ModelName:    m.Name,
		ModelVersion: m.Version,
		Dimension:    m.Dimension,
	}
	if h.ModelName == "" {
		h.ModelName = e.cfg.ModelName
	}
	if h.ModelVersion == "" {
		h.ModelVersion = e.cfg.ModelVersion
	}
	switch {
	case h.Dimension == 0 && e.cfg.Dimension > 0:
		h.Dimension = e.cfg.Dimension
	case h.Dimension == 0:
		h.Dimension = runner.ModelDimension(h.ModelName)
	case e.cfg.Dimension > 0 && e.cfg.Dimension != h.Dimension:
		return vector.Header{}, fmt.Errorf("%w: model %s has dimension %d, configured %d",
			ErrModelUnavailable, h.ModelName, h.Dimension, e.cfg.Dimension)
	}
	return h, nil
}

// resolveAccelerator maps the requested accelerator onto what hw offers.
func resolveAccelerator(hw runner.Hardware, want runner.Accelerator, cpuFallback bool) (runner.Accelerator, error) {
	switch {
	case want == "" || want == runner.Auto:
		return hw.Best(), nil
	case hw.Supports(want):
		return want, nil
	case cpuFallback:
		return runner.CPU, nil
	default:
		return "", fmt.Errorf("%w: %s not available (have %s)", ErrHardwareUnsupported, want, hw)
	}
}

// openRunners opens cfg.Runners runners on accel. If the provider refuses a
// non-CPU accelerator and fallback is allowed, it retries on the CPU.
func (e *Embedder) openRunners(ctx context.Context, m runner.Model, accel runner.Accelerator) ([]runner.Runner, runner.Accelerator, error) {
	runners, err := e.openN(ctx, m, accel)
	if err != nil && accel != runner.CPU && e.cfg.CPUFallback && errors.Is(err, runner.ErrUnsupportedAccelerator) {
		e.logger.Warn(ctx, "provider rejected accelerator, falling back to cpu",
			zap.String("accelerator", string(accel)), zap.Error(err))
		accel = runner.CPU
		runners, err = e.openN(ctx, m, accel)
	}
	if err != nil {
		if errors.Is(err, runner.ErrUnsupportedAccelerator) {
			return nil, "", fmt.Errorf("%w: %w", ErrHardwareUnsupported, err)
		}
		return nil, "", fmt.Errorf("%w: opening runner: %w", ErrModelUnavailable, err)
	}
	return runners, accel, nil
}

func (e *Embedder) openN(ctx context.Context, m runner.Model, accel runner.Accelerator) ([]runner.Runner, error) {
	runners := make([]runner.Runner, 0, e.cfg.Runners)
	for range e.cfg.Runners {
		r, err := e.provider.Open(ctx, m, accel)
		if err != nil {
			for _, opened := range runners {
				_ = opened.Close()
			}
			return nil, err
		}
		runners = append(runners, r)
	}
	return runners, nil
}

// ready returns the current session when the embedder is Ready.
func (e *Embedder) ready() (*session, error) {
	sess := e.session.Load()
	if sess == nil || e.State() != StateReady {
		return nil, fmt.Errorf("%w (state %s)", ErrNotInitialized, e.State())
	}
	return sess, nil
}

// modelName labels metrics; empty before the first successful Initialize.
func (e *Embedder) modelName() string {
	if sess := e.session.Load(); sess != nil {
		return sess.header.ModelName
	}
	return ""
}

// EmbedText returns the unit-length embedding of text.
func (e *Embedder) EmbedText(ctx context.Context, text string) (vector.Vector, error) {
	ctx, span := e.tracer.Start(ctx, "embedder.EmbedText")
	defer span.End()

	start := time.Now()
	v, err := e.embedText(ctx, text)
	e.metrics.RecordGeneration(ctx, e.modelName(), "embed", time.Since(start), 0, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "embed failed")
	}
	return v, err
}

func (e *Embedder) embedText(ctx context.Context, text string) (vector.Vector, error) {
	sess, err := e.ready()
	if err != nil {
		return nil, err
	}
	if isBlank(text) {
		return nil, ErrEmptyInput
	}

	var v vector.Vector
	err = sess.pool.Do(ctx, func(r runner.Runner) error {
		var embedErr error
		v, embedErr = embedWith(ctx, r, sess.header.Dimension, text)
		return embedErr
	})
	if errors.Is(err, runner.ErrClosed) {
		return nil, fmt.Errorf("%w: %w", ErrNotInitialized, err)
	}
	return v, err
}

// EmbedBatch embeds each text and returns one Result per input, in input
// order. A failing item does not affect the others. One runner is held for
// the whole batch.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) []Result {
	ctx, span := e.tracer.Start(ctx, "embedder.EmbedBatch",
		trace.WithAttributes(attribute.Int("batch.size", len(texts))))
	defer span.End()

	start := time.Now()
	results := make([]Result, len(texts))
	for i := range results {
		results[i].Index = i
	}

	sess, err := e.ready()
	if err == nil && len(texts) > 0 {
		err = sess.pool.Do(ctx, func(r runner.Runner) error {
			for i, text := range texts {
				if ctxErr := ctx.Err(); ctxErr != nil {
					for j := i; j < len(results); j++ {
						results[j].Err = ctxErr
					}
					return nil
				}
				if isBlank(text) {
					results[i].Err = ErrEmptyInput
					continue
				}
				results[i].Vector, results[i].Err = embedWith(ctx, r, sess.header.Dimension, text)
			}
			return nil
		})
		if errors.Is(err, runner.ErrClosed) {
			err = fmt.Errorf("%w: %w", ErrNotInitialized, err)
		}
	}

	failed := 0
	for i := range results {
		if err != nil {
			results[i].Err = err
		}
		if results[i].Err != nil {
			failed++
			e.metrics.RecordError(ctx, e.modelName(), "batch_embed", results[i].Err)
		}
	}
	e.metrics.RecordGeneration(ctx, e.modelName(), "batch_embed", time.Since(start), len(texts), nil)
	span.SetAttributes(attribute.Int("batch.failed", failed))
	if failed > 0 {
		span.SetStatus(codes.Error, fmt.Sprintf("%d of %d items failed", failed, len(texts)))
	}
	return results
}

// embedWith runs tokenize, forward, pool and normalize on a checked-out
// runner. Cancellation errors are returned as is; everything else the
// runner reports is a model failure.
func embedWith(ctx context.Context, r runner.Runner, dim int, text string) (vector.Vector, error) {
	enc, err := r.Tokenize(ctx, text)
	if err != nil {
		return nil, modelFailure(ctx, "tokenize", err)
	}
	t, err := r.Forward(ctx, enc)
	if err != nil {
		return nil, modelFailure(ctx, "forward", err)
	}
	pooled, err := MeanPool(t)
	if err != nil {
		return nil, fmt.Errorf("%w: pooling: %w", ErrModelFailure, err)
	}
	if len(pooled) != dim {
		return nil, fmt.Errorf("%w: model produced %d values, want %d", ErrModelFailure, len(pooled), dim)
	}
	for _, x := range pooled {
		if math.IsNaN(float64(x)) || math.IsInf(float64(x), 0) {
			return nil, fmt.Errorf("%w: model produced non-finite values", ErrModelFailure)
		}
	}
	v, ok := vector.Normalize(pooled)
	if !ok {
		return nil, fmt.Errorf("%w: zero-norm embedding", ErrModelFailure)
	}
	return v, nil
}

func modelFailure(ctx context.Context, stage string, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrModelFailure, stage, err)
}

func isBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}

// CosineSimilarity returns the cosine similarity of a and b in [-1, 1].
// A zero vector on either side yields 0.
func (e *Embedder) CosineSimilarity(a, b vector.Vector) (float32, error) {
	if _, err := e.ready(); err != nil {
		return 0, err
	}
	sim, err := vector.Cosine(a, b)
	if err != nil {
		return 0, fmt.Errorf("%w: %d vs %d values", ErrDimensionMismatch, len(a), len(b))
	}
	return sim, nil
}

// Header returns the provenance written into collections. It is the zero
// value until Ready.
func (e *Embedder) Header() vector.Header {
	sess, err := e.ready()
	if err != nil {
		return vector.Header{}
	}
	return sess.header
}

// Dimension returns the embedding length, or 0 until Ready.
func (e *Embedder) Dimension() int { return e.Header().Dimension }

// ModelName returns the model name, or "" until Ready.
func (e *Embedder) ModelName() string { return e.Header().ModelName }

// ModelVersion returns the model version, or "" until Ready.
func (e *Embedder) ModelVersion() string { return e.Header().ModelVersion }

// Accelerator returns the accelerator runners were placed on.
func (e *Embedder) Accelerator() runner.Accelerator {
	sess, err := e.ready()
	if err != nil {
		return ""
	}
	return sess.accel
}

// Close waits for in-flight embeddings and releases the runners. The
// embedder returns to StateUninitialized and may be initialized again.
func (e *Embedder) Close() error {
	e.initMu.Lock()
	defer e.initMu.Unlock()

	e.state.Store(int32(StateUninitialized))
	sess := e.session.Swap(nil)
	if sess == nil {
		return nil
	}
	return sess.pool.Close(context.Background())
}
