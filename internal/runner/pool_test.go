package runner_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/fyrsmithlabs/embedkit/internal/runner"
	"github.com/fyrsmithlabs/embedkit/internal/runner/runnertest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openRunners(t *testing.T, p *runnertest.Provider, n int) []runner.Runner {
	t.Helper()
	m, err := p.Acquire(context.Background())
	require.NoError(t, err)
	runners := make([]runner.Runner, n)
	for i := range runners {
		runners[i], err = p.Open(context.Background(), m, runner.CPU)
		require.NoError(t, err)
	}
	return runners
}

func TestPool_ExclusiveUse(t *testing.T) {
	for _, size := range []int{1, 3} {
		p := runnertest.New(8)
		p.Delay = time.Millisecond
		pool := runner.NewPool(openRunners(t, p, size))
		assert.Equal(t, size, pool.Size())

		var wg sync.WaitGroup
		for i := range 12 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := pool.Do(context.Background(), func(r runner.Runner) error {
					enc, err := r.Tokenize(context.Background(), "text number")
					if err != nil {
						return err
					}
					_, err = r.Forward(context.Background(), enc)
					return err
				})
				assert.NoError(t, err, "worker %d", i)
			}()
		}
		wg.Wait()

		assert.Zero(t, p.Violations(), "size %d", size)
		assert.Equal(t, 12, p.ForwardCalls())
	}
}

func TestPool_GetHonoursContext(t *testing.T) {
	p := runnertest.New(4)
	pool := runner.NewPool(openRunners(t, p, 1))

	r, err := pool.Get(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = pool.Get(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	pool.Put(r)
	r2, err := pool.Get(context.Background())
	require.NoError(t, err)
	pool.Put(r2)
}

func TestPool_Close(t *testing.T) {
	p := runnertest.New(4)
	pool := runner.NewPool(openRunners(t, p, 2))

	require.NoError(t, pool.Close(context.Background()))
	for _, r := range p.Runners() {
		assert.True(t, r.Closed())
	}

	_, err := pool.Get(context.Background())
	assert.ErrorIs(t, err, runner.ErrClosed)
	assert.NoError(t, pool.Close(context.Background()), "second close is a no-op")
}

func TestPool_CloseWaitsForCheckedOut(t *testing.T) {
	p := runnertest.New(4)
	pool := runner.NewPool(openRunners(t, p, 1))

	r, err := pool.Get(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	assert.Error(t, pool.Close(ctx))

	pool.Put(r)
	assert.NoError(t, pool.Close(context.Background()))
}

func TestNewPool_Empty(t *testing.T) {
	assert.Panics(t, func() { runner.NewPool(nil) })
}
