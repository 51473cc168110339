// Package cache memoizes text embeddings for the lifetime of a process.
//
// Lookups are by exact text. Concurrent misses for the same text share one
// computation, and failed computations are not stored.
package cache

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/fyrsmithlabs/embedkit/internal/vector"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
)

// ComputeFunc produces the vector for a cache miss.
type ComputeFunc func(ctx context.Context) (vector.Vector, error)

// Config controls cache capacity.
type Config struct {
	// MaxEntries bounds the cache with LRU eviction. Zero means unbounded.
	MaxEntries int
}

// Stats is a point-in-time snapshot of cache activity.
type Stats struct {
	Hits    int64
	Misses  int64
	Entries int
}

// store is the backing map. Both implementations are safe for concurrent use.
type store interface {
	Get(key string) (vector.Vector, bool)
	Add(key string, v vector.Vector)
	Len() int
	Purge()
}

// Cache maps exact text to its embedding. The zero value is not usable;
// call New. A nil *Cache is valid and disables caching.
type Cache struct {
	store  store
	group  singleflight.Group
	hits   atomic.Int64
	misses atomic.Int64
}

// New returns an empty cache.
func New(cfg Config) *Cache {
	var s store
	if cfg.MaxEntries > 0 {
		l, err := lru.New[string, vector.Vector](cfg.MaxEntries)
		if err != nil {
			// Only returned for a non-positive size.
			panic(err)
		}
		s = lruStore{l}
	} else {
		s = &mapStore{m: make(map[string]vector.Vector)}
	}
	return &Cache{store: s}
}

// GetOrCompute returns the cached vector for text, calling fn on a miss.
// While fn runs, other callers asking for the same text wait for its
// result instead of computing their own. The returned vector is a copy.
func (c *Cache) GetOrCompute(ctx context.Context, text string, fn ComputeFunc) (vector.Vector, error) {
	if c == nil {
		return fn(ctx)
	}
	if v, ok := c.store.Get(text); ok {
		c.hits.Add(1)
		return v.Clone(), nil
	}

	computed := false
	res, err, _ := c.group.Do(text, func() (any, error) {
		// Another caller may have stored text between our lookup and Do.
		if v, ok := c.store.Get(text); ok {
			return v, nil
		}
		computed = true
		v, err := fn(ctx)
		if err != nil {
			return nil, err
		}
		stored := v.Clone()
		c.store.Add(text, stored)
		return stored, nil
	})
	if computed {
		c.misses.Add(1)
	} else {
		c.hits.Add(1)
	}
	if err != nil {
		return nil, err
	}
	return res.(vector.Vector).Clone(), nil
}

// Get returns a copy of the cached vector for text without computing.
func (c *Cache) Get(text string) (vector.Vector, bool) {
	if c == nil {
		return nil, false
	}
	v, ok := c.store.Get(text)
	if !ok {
		return nil, false
	}
	return v.Clone(), true
}

// Len returns the number of cached entries.
func (c *Cache) Len() int {
	if c == nil {
		return 0
	}
	return c.store.Len()
}

// Stats returns hit and miss counters. A waiter that shared another
// caller's computation counts as a hit.
func (c *Cache) Stats() Stats {
	if c == nil {
		return Stats{}
	}
	return Stats{
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
		Entries: c.store.Len(),
	}
}

// Purge removes every entry. Counters are kept.
func (c *Cache) Purge() {
	if c != nil {
		c.store.Purge()
	}
}

type lruStore struct {
	l *lru.Cache[string, vector.Vector]
}

func (s lruStore) Get(key string) (vector.Vector, bool) { return s.l.Get(key) }
func (s lruStore) Add(key string, v vector.Vector)      { s.l.Add(key, v) }
func (s lruStore) Len() int                             { return s.l.Len() }
func (s lruStore) Purge()                               { s.l.Purge() }

type mapStore struct {
	mu sync.RWMutex
	m  map[string]vector.Vector
}

func (s *mapStore) Get(key string) (vector.Vector, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.m[key]
	return v, ok
}

func (s *mapStore) Add(key string, v vector.Vector) {
	s.mu.Lock()
	s.m[key] = v
	s.mu.Unlock()
}

func (s *mapStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.m)
}

func (s *mapStore) Purge() {
	s.mu.Lock()
	clear(s.m)
	s.mu.Unlock()
}
