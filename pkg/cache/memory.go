package cache

import (
	"context"
	"path"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
)

// MemoryCache implements Cache in process, backed by an LRU with per-entry
// TTL checked on read. It serves tests and single-node deployments where a
// Redis instance is not worth running.
type MemoryCache struct {
	mu  sync.Mutex
	lru *lru.Cache[string, memEntry]
}

type memEntry struct {
	value     []byte
	expiresAt time.Time // zero means no expiry
}

// NewMemoryCache creates a memory cache holding at most maxEntries values.
func NewMemoryCache(maxEntries int) (*MemoryCache, error) {
	if maxEntries <= 0 {
		maxEntries = 10000
	}
	l, err := lru.New[string, memEntry](maxEntries)
	if err != nil {
		return nil, err
	}
	return &MemoryCache{lru: l}, nil
}

// Get returns the value stored under key, or ErrMiss.
func (c *MemoryCache) Get(_ context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.lru.Get(key)
	if !ok {
		return nil, ErrMiss
	}
	if !e.expiresAt.IsZero() && time.Now().After(e.expiresAt) {
		c.lru.Remove(key)
		return nil, ErrMiss
	}
	return e.value, nil
}

// Set stores value under key with the given TTL.
func (c *MemoryCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	e := memEntry{value: value}
	if ttl > 0 {
		e.expiresAt = time.Now().Add(ttl)
	}
	c.mu.Lock()
	c.lru.Add(key, e)
	c.mu.Unlock()
	return nil
}

// Delete removes specific keys.
func (c *MemoryCache) Delete(_ context.Context, keys ...string) error {
	c.mu.Lock()
	for _, k := range keys {
		c.lru.Remove(k)
	}
	c.mu.Unlock()
	return nil
}

// DeletePattern removes every key matching a glob pattern. Keys contain no
// slashes, so path.Match gives the same semantics as Redis glob matching.
func (c *MemoryCache) DeletePattern(_ context.Context, pattern string) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for _, k := range c.lru.Keys() {
		ok, err := path.Match(pattern, k)
		if err != nil {
			return removed, err
		}
		if ok {
			c.lru.Remove(k)
			removed++
		}
	}
	return removed, nil
}

// Len returns the number of live entries, for tests and stats.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Close is a no-op for the in-process cache.
func (c *MemoryCache) Close() error {
	return nil
}
