package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fyrsmithlabs/embedkit/internal/vector"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func constant(v vector.Vector, calls *atomic.Int64) ComputeFunc {
	return func(context.Context) (vector.Vector, error) {
		calls.Add(1)
		return v.Clone(), nil
	}
}

func TestGetOrCompute_HitSkipsCompute(t *testing.T) {
	c := New(Config{})
	ctx := context.Background()
	var calls atomic.Int64

	v1, err := c.GetOrCompute(ctx, "The cat sat.", constant(vector.Vector{1, 2}, &calls))
	require.NoError(t, err)
	v2, err := c.GetOrCompute(ctx, "The cat sat.", constant(vector.Vector{9, 9}, &calls))
	require.NoError(t, err)

	assert.Equal(t, vector.Vector{1, 2}, v1)
	assert.Equal(t, v1, v2)
	assert.Equal(t, int64(1), calls.Load())
	assert.Equal(t, Stats{Hits: 1, Misses: 1, Entries: 1}, c.Stats())
}

func TestGetOrCompute_ExactTextKeys(t *testing.T) {
	c := New(Config{})
	ctx := context.Background()
	var calls atomic.Int64

	for _, text := range []string{"cat", "Cat", "cat ", "cat"} {
		_, err := c.GetOrCompute(ctx, text, constant(vector.Vector{1}, &calls))
		require.NoError(t, err)
	}
	assert.Equal(t, int64(3), calls.Load())
	assert.Equal(t, 3, c.Len())
}

func TestGetOrCompute_ReturnsCopies(t *testing.T) {
	c := New(Config{})
	ctx := context.Background()
	var calls atomic.Int64

	v, err := c.GetOrCompute(ctx, "x", constant(vector.Vector{1, 2, 3}, &calls))
	require.NoError(t, err)
	v[0] = 42

	again, err := c.GetOrCompute(ctx, "x", constant(nil, &calls))
	require.NoError(t, err)
	assert.Equal(t, vector.Vector{1, 2, 3}, again)

	got, ok := c.Get("x")
	require.True(t, ok)
	got[1] = 42
	stored, _ := c.Get("x")
	assert.Equal(t, vector.Vector{1, 2, 3}, stored)
}

func TestGetOrCompute_ComputedSliceNotAliased(t *testing.T) {
	c := New(Config{})
	src := vector.Vector{1, 2}
	_, err := c.GetOrCompute(context.Background(), "k", func(context.Context) (vector.Vector, error) {
		return src, nil
	})
	require.NoError(t, err)
	src[0] = 99

	got, _ := c.Get("k")
	assert.Equal(t, vector.Vector{1, 2}, got)
}

func TestGetOrCompute_ErrorsNotCached(t *testing.T) {
	c := New(Config{})
	ctx := context.Background()
	boom := errors.New("boom")
	var calls atomic.Int64

	fail := func(context.Context) (vector.Vector, error) {
		calls.Add(1)
		return nil, boom
	}
	_, err := c.GetOrCompute(ctx, "t", fail)
	assert.ErrorIs(t, err, boom)
	_, err = c.GetOrCompute(ctx, "t", fail)
	assert.ErrorIs(t, err, boom)

	assert.Equal(t, int64(2), calls.Load())
	assert.Zero(t, c.Len())
}

func TestGetOrCompute_ConcurrentMissesShareOneComputation(t *testing.T) {
	c := New(Config{})
	var calls atomic.Int64
	release := make(chan struct{})

	slow := func(context.Context) (vector.Vector, error) {
		calls.Add(1)
		<-release
		return vector.Vector{7}, nil
	}

	const n = 20
	var wg sync.WaitGroup
	results := make([]vector.Vector, n)
	for i := range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v, err := c.GetOrCompute(context.Background(), "same", slow)
			assert.NoError(t, err)
			results[i] = v
		}()
	}

	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	assert.Equal(t, int64(1), calls.Load())
	for _, v := range results {
		assert.Equal(t, vector.Vector{7}, v)
	}
	stats := c.Stats()
	assert.Equal(t, int64(1), stats.Misses)
	assert.Equal(t, int64(n-1), stats.Hits)
}

func TestGetOrCompute_SequentialRaceStillComputesOnce(t *testing.T) {
	c := New(Config{})
	var calls atomic.Int64

	var wg sync.WaitGroup
	for i := range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.GetOrCompute(context.Background(), fmt.Sprintf("k%d", i%5), constant(vector.Vector{1}, &calls))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(5), calls.Load())
	assert.Equal(t, int64(100), c.Stats().Hits+c.Stats().Misses)
}

func TestBounded_EvictsLeastRecentlyUsed(t *testing.T) {
	c := New(Config{MaxEntries: 2})
	ctx := context.Background()
	var calls atomic.Int64

	for _, k := range []string{"a", "b"} {
		_, err := c.GetOrCompute(ctx, k, constant(vector.Vector{1}, &calls))
		require.NoError(t, err)
	}
	// Touch a so b is the eviction candidate.
	_, ok := c.Get("a")
	require.True(t, ok)

	_, err := c.GetOrCompute(ctx, "c", constant(vector.Vector{1}, &calls))
	require.NoError(t, err)

	assert.Equal(t, 2, c.Len())
	_, ok = c.Get("b")
	assert.False(t, ok)
	_, ok = c.Get("a")
	assert.True(t, ok)
}

func TestPurge(t *testing.T) {
	c := New(Config{})
	var calls atomic.Int64
	_, err := c.GetOrCompute(context.Background(), "a", constant(vector.Vector{1}, &calls))
	require.NoError(t, err)

	c.Purge()
	assert.Zero(t, c.Len())
	assert.Equal(t, int64(1), c.Stats().Misses)
}

func TestNilCache(t *testing.T) {
	var c *Cache
	var calls atomic.Int64

	for range 3 {
		v, err := c.GetOrCompute(context.Background(), "a", constant(vector.Vector{1}, &calls))
		require.NoError(t, err)
		assert.Equal(t, vector.Vector{1}, v)
	}
	assert.Equal(t, int64(3), calls.Load())
	assert.Zero(t, c.Len())
	assert.Equal(t, Stats{}, c.Stats())
	_, ok := c.Get("a")
	assert.False(t, ok)
	c.Purge()
}
