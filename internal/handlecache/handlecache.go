// Package handlecache implements the bounded LRU handle cache described in
// spec §4.2: every native handle ever opened is closed exactly once, either
// on eviction, explicit release, or teardown.
package handlecache

import (
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/gamegov/optimizer/internal/osfacade"
)

// Defaults per spec §4.2.
const (
	DefaultProcessMaxSize = 500
	DefaultThreadMaxSize  = 1000
)

// OpenFunc opens a native handle for key, using the cache's default access mask.
type OpenFunc[K comparable] func(K) (osfacade.Handle, error)

// CloseFunc releases a native handle.
type CloseFunc func(osfacade.Handle) error

// Stats reports cache effectiveness, per spec §4.2.
type Stats struct {
	Size    int
	Hits    uint64
	Misses  uint64
	HitRate float64
}

// Cache is a bounded LRU of OS handles keyed by K ({pid} or {tid}).
// Concurrency: single internal mutex; the lock is held across native
// open/close and map mutation but never across a caller's own code (spec §5).
type Cache[K comparable] struct {
	mu     sync.Mutex
	lru    *lru.Cache[K, osfacade.Handle]
	open   OpenFunc[K]
	closeF CloseFunc
	hits   uint64
	misses uint64
}

// New builds a cache with the given capacity, open and close functions.
// maxSize must be > 0.
func New[K comparable](maxSize int, open OpenFunc[K], closeF CloseFunc) (*Cache[K], error) {
	c := &Cache[K]{open: open, closeF: closeF}
	l, err := lru.NewWithEvict[K, osfacade.Handle](maxSize, c.onEvict)
	if err != nil {
		return nil, err
	}
	c.lru = l
	return c, nil
}

// onEvict is invoked by the underlying LRU whenever an entry is displaced —
// by capacity eviction, explicit Release, or Clear — and always while c.mu
// is already held by the caller that triggered it.
func (c *Cache[K]) onEvict(_ K, h osfacade.Handle) {
	_ = c.closeF(h)
}

// Get returns the cached handle for key, opening a new one on miss. A miss
// for a vanished target returns the open error and does not store anything
// (spec §4.2: "does not store a null handle").
func (c *Cache[K]) Get(key K) (osfacade.Handle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if h, ok := c.lru.Get(key); ok {
		c.hits++
		return h, nil
	}
	c.misses++

	h, err := c.open(key)
	if err != nil {
		return osfacade.InvalidHandle, err
	}
	c.lru.Add(key, h)
	return h, nil
}

// Release closes and removes one entry, if present. Releasing an absent key
// is a no-op.
func (c *Cache[K]) Release(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Remove(key)
}

// Clear closes every cached handle.
func (c *Cache[K]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.Purge()
}

// Stats returns a snapshot of cache effectiveness.
func (c *Cache[K]) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := c.hits + c.misses
	var rate float64
	if total > 0 {
		rate = float64(c.hits) / float64(total)
	}
	return Stats{
		Size:    c.lru.Len(),
		Hits:    c.hits,
		Misses:  c.misses,
		HitRate: rate,
	}
}

// Size returns the current number of cached entries (size ≤ max_size always).
func (c *Cache[K]) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}
