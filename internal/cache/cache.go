// Package cache provides a byte-value cache behind a small interface, with
// Redis, in-memory, and Redis-with-memory-fallback implementations. The rate
// limit middleware and the demo handlers sit on top of it.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get when the key is absent or expired.
var ErrNotFound = errors.New("cache: key not found")

// Cache is the operation set shared by every backend.
type Cache interface {
	// Get retrieves a value, or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value. A zero ttl uses the backend's default; a negative
	// ttl stores without expiry.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a key. Unknown keys are not an error.
	Delete(ctx context.Context, key string) error

	// Exists reports whether the key is present and unexpired.
	Exists(ctx context.Context, key string) (bool, error)

	// Clear removes every entry under this cache's prefix.
	Clear(ctx context.Context) error

	// Increment adds delta to the numeric value at key, creating it at delta
	// when absent, and returns the new value.
	Increment(ctx context.Context, key string, delta int64) (int64, error)

	// TTL returns the remaining lifetime of the key.
	TTL(ctx context.Context, key string) (time.Duration, error)

	// Expire resets the key's lifetime.
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases the backend's resources.
	Close() error
}

// Config holds settings shared by every backend.
type Config struct {
	// DefaultTTL applies when Set is called with a zero ttl.
	DefaultTTL time.Duration

	// Prefix namespaces every key.
	Prefix string
}

// DefaultConfig returns the config used when none is given.
func DefaultConfig() *Config {
	return &Config{
		DefaultTTL: 5 * time.Minute,
		Prefix:     "app_kernel:",
	}
}

// CacheError wraps a failed cache operation with its key and operation name.
type CacheError struct {
	Op  string
	Key string
	Err error
}

func (e *CacheError) Error() string {
	if e.Key != "" {
		return "cache " + e.Op + " " + e.Key + ": " + e.Err.Error()
	}
	return "cache " + e.Op + ": " + e.Err.Error()
}

func (e *CacheError) Unwrap() error { return e.Err }
