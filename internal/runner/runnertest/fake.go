// Package runnertest provides an in-process runner.Provider for tests.
package runnertest

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fyrsmithlabs/embedkit/internal/runner"
)

// ErrConcurrentUse is reported when one runner is entered by two goroutines.
var ErrConcurrentUse = errors.New("runnertest: runner used concurrently")

// Provider is a deterministic fake. Token hidden states are derived from a
// hash of each word; padding rows carry large values so a pooling bug that
// ignores the mask changes the output.
//
// Configure exported fields before first use.
type Provider struct {
	Model    runner.Model
	HW       runner.Hardware
	Padding  int
	Delay    time.Duration
	OpenErr  error
	// AcquireFailures makes the first N Acquire calls fail with AcquireErr
	// (runner.ErrUnavailable when nil).
	AcquireFailures int
	AcquireErr      error
	// Fail maps input texts to forward errors.
	Fail map[string]error
	// Zero lists texts whose hidden states are all zero.
	Zero map[string]bool

	acquireCalls atomic.Int64
	openCalls    atomic.Int64
	tokenize     atomic.Int64
	forward      atomic.Int64
	violations   atomic.Int64

	mu      sync.Mutex
	runners []*Runner
}

var _ runner.Provider = (*Provider)(nil)

// New returns a CPU-only provider for a model of dimension dim.
func New(dim int) *Provider {
	return &Provider{
		Model: runner.Model{
			Name:      runner.DefaultModelName,
			Version:   runner.DefaultModelVersion,
			Dimension: dim,
		},
		HW:      runner.Hardware{Accelerators: []runner.Accelerator{runner.CPU}, OS: "test", Arch: "test"},
		Padding: 2,
	}
}

func (p *Provider) Name() string              { return "fake" }
func (p *Provider) Hardware() runner.Hardware { return p.HW }

func (p *Provider) Acquire(ctx context.Context) (runner.Model, error) {
	n := p.acquireCalls.Add(1)
	if err := ctx.Err(); err != nil {
		return runner.Model{}, err
	}
	if int(n) <= p.AcquireFailures {
		if p.AcquireErr != nil {
			return runner.Model{}, p.AcquireErr
		}
		return runner.Model{}, fmt.Errorf("%w: simulated failure %d", runner.ErrUnavailable, n)
	}
	return p.Model, nil
}

func (p *Provider) Open(_ context.Context, m runner.Model, accel runner.Accelerator) (runner.Runner, error) {
	p.openCalls.Add(1)
	if p.OpenErr != nil {
		return nil, p.OpenErr
	}
	if !p.HW.Supports(accel) {
		return nil, fmt.Errorf("%w: %s", runner.ErrUnsupportedAccelerator, accel)
	}
	r := &Runner{p: p, dim: m.Dimension, Accel: accel}
	p.mu.Lock()
	p.runners = append(p.runners, r)
	p.mu.Unlock()
	return r, nil
}

// AcquireCalls returns the number of Acquire calls.
func (p *Provider) AcquireCalls() int { return int(p.acquireCalls.Load()) }

// OpenCalls returns the number of Open calls.
func (p *Provider) OpenCalls() int { return int(p.openCalls.Load()) }

// TokenizeCalls returns the number of Tokenize calls across all runners.
func (p *Provider) TokenizeCalls() int { return int(p.tokenize.Load()) }

// ForwardCalls returns the number of Forward calls across all runners.
func (p *Provider) ForwardCalls() int { return int(p.forward.Load()) }

// Violations returns how often a runner was entered concurrently.
func (p *Provider) Violations() int { return int(p.violations.Load()) }

// Runners returns every runner opened so far.
func (p *Provider) Runners() []*Runner {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Runner, len(p.runners))
	copy(out, p.runners)
	return out
}

// Runner is the fake runner returned by Provider.Open.
type Runner struct {
	p     *Provider
	dim   int
	Accel runner.Accelerator

	busy   atomic.Bool
	closed atomic.Bool
}

func (r *Runner) enter() {
	if !r.busy.CompareAndSwap(false, true) {
		r.p.violations.Add(1)
	}
}

func (r *Runner) leave() { r.busy.Store(false) }

// Closed reports whether Close was called.
func (r *Runner) Closed() bool { return r.closed.Load() }

func tokenID(word string) int {
	h := fnv.New32a()
	h.Write([]byte(strings.ToLower(word)))
	return int(h.Sum32() & 0x7fffffff)
}

func (r *Runner) Tokenize(ctx context.Context, text string) (runner.Encoding, error) {
	r.enter()
	defer r.leave()
	r.p.tokenize.Add(1)
	if err := ctx.Err(); err != nil {
		return runner.Encoding{}, err
	}

	words := strings.Fields(text)
	enc := runner.Encoding{Text: text}
	for _, w := range words {
		enc.IDs = append(enc.IDs, tokenID(w))
		enc.Mask = append(enc.Mask, 1)
	}
	for range r.p.Padding {
		enc.IDs = append(enc.IDs, 0)
		enc.Mask = append(enc.Mask, 0)
	}
	return enc, nil
}

func (r *Runner) Forward(ctx context.Context, enc runner.Encoding) (runner.Tensor, error) {
	r.enter()
	defer r.leave()
	r.p.forward.Add(1)

	if r.p.Delay > 0 {
		select {
		case <-time.After(r.p.Delay):
		case <-ctx.Done():
			return runner.Tensor{}, ctx.Err()
		}
	}
	if err := ctx.Err(); err != nil {
		return runner.Tensor{}, err
	}
	if err, ok := r.p.Fail[enc.Text]; ok {
		return runner.Tensor{}, err
	}

	t := runner.Tensor{
		Rows: len(enc.IDs),
		Cols: r.dim,
		Data: make([]float32, len(enc.IDs)*r.dim),
		Mask: append([]int(nil), enc.Mask...),
	}
	if r.p.Zero[enc.Text] {
		return t, nil
	}
	for i, id := range enc.IDs {
		row := t.Row(i)
		for j := range row {
			if enc.Mask[i] == 0 {
				row[j] = 1000
				continue
			}
			row[j] = float32(math.Sin(float64(id%9973) + float64(j)*0.37))
		}
	}
	return t, nil
}

func (r *Runner) Close() error {
	r.closed.Store(true)
	return nil
}
