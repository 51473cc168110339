package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Pool hands out runners so each one is used by a single goroutine at a
// time. A pool of one runner serializes every forward pass.
type Pool struct {
	size   int
	sem    *semaphore.Weighted
	mu     sync.Mutex
	free   []Runner
	all    []Runner
	closed bool
}

// NewPool wraps runners. It panics if runners is empty.
func NewPool(runners []Runner) *Pool {
	if len(runners) == 0 {
		panic("runner: empty pool")
	}
	free := make([]Runner, len(runners))
	copy(free, runners)
	return &Pool{
		size: len(runners),
		sem:  semaphore.NewWeighted(int64(len(runners))),
		free: free,
		all:  runners,
	}
}

// Size returns the number of runners.
func (p *Pool) Size() int {
	return p.size
}

// Get blocks until a runner is free or ctx is done. The runner must be
// returned with Put.
func (p *Pool) Get(ctx context.Context) (Runner, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		p.sem.Release(1)
		return nil, ErrClosed
	}
	r := p.free[len(p.free)-1]
	p.free = p.free[:len(p.free)-1]
	return r, nil
}

// Put returns r to the pool.
func (p *Pool) Put(r Runner) {
	p.mu.Lock()
	p.free = append(p.free, r)
	p.mu.Unlock()
	p.sem.Release(1)
}

// Do runs fn with a runner checked out for its duration.
func (p *Pool) Do(ctx context.Context, fn func(Runner) error) error {
	r, err := p.Get(ctx)
	if err != nil {
		return err
	}
	defer p.Put(r)
	return fn(r)
}

// Close waits for every runner to be returned, then closes them all.
func (p *Pool) Close(ctx context.Context) error {
	if err := p.sem.Acquire(ctx, int64(p.size)); err != nil {
		return fmt.Errorf("waiting for runners: %w", err)
	}
	defer p.sem.Release(int64(p.size))

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true

	var errs []error
	for _, r := range p.all {
		if err := r.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
