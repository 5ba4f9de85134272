// Package cache provides the key/value layer backing resolved authorization
// decisions: get by key, set with TTL, and glob-pattern removal so one
// pattern can evict every cached artifact for a user.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrMiss is returned by Get when the key is absent or expired.
var ErrMiss = errors.New("cache: key not found")

// Cache is the store contract the authorization engine depends on. Per-key
// get/set/delete must be atomic; pattern removal is atomic per matched key,
// so a partial failure may leave stale entries that self-heal on TTL expiry.
type Cache interface {
	// Get returns the value stored under key, or ErrMiss.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key with the given TTL. A non-positive TTL
	// stores the value without expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes specific keys. Missing keys are not an error.
	Delete(ctx context.Context, keys ...string) error

	// DeletePattern removes every key matching a glob pattern and returns
	// the number of keys removed.
	DeletePattern(ctx context.Context, pattern string) (int, error)

	// Close releases any underlying connections.
	Close() error
}
