package cache

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// FallbackCache fronts a primary cache (Redis) with an in-memory fallback.
// Reads try the primary first and fall through on backend errors, never on a
// plain miss; writes go to both so the fallback stays warm.
type FallbackCache struct {
	primary  Cache
	fallback Cache
	logger   *slog.Logger
}

// NewFallbackCache wires primary and fallback. A nil primary (Redis
// unavailable or unconfigured) leaves the memory cache serving alone.
func NewFallbackCache(primary Cache, fallback Cache, logger *slog.Logger) *FallbackCache {
	if logger == nil {
		logger = slog.Default()
	}
	if fallback == nil {
		fallback = NewMemoryCache(nil)
	}
	return &FallbackCache{primary: primary, fallback: fallback, logger: logger}
}

// Get tries the primary first; backend errors fall through to memory.
func (fc *FallbackCache) Get(ctx context.Context, key string) ([]byte, error) {
	if fc.primary != nil {
		value, err := fc.primary.Get(ctx, key)
		if err == nil {
			return value, nil
		}
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		fc.logger.Warn("primary cache get failed, trying fallback", "error", err, "key", key)
	}
	return fc.fallback.Get(ctx, key)
}

// Set writes to both caches; the fallback write is the one that must succeed.
func (fc *FallbackCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	var primaryErr error
	if fc.primary != nil {
		if primaryErr = fc.primary.Set(ctx, key, value, ttl); primaryErr != nil {
			fc.logger.Warn("primary cache set failed", "error", primaryErr, "key", key)
		}
	}
	if err := fc.fallback.Set(ctx, key, value, ttl); err != nil {
		return err
	}
	return primaryErr
}

// Delete removes the key from both caches.
func (fc *FallbackCache) Delete(ctx context.Context, key string) error {
	if fc.primary != nil {
		if err := fc.primary.Delete(ctx, key); err != nil {
			fc.logger.Warn("primary cache delete failed", "error", err, "key", key)
		}
	}
	return fc.fallback.Delete(ctx, key)
}

// Exists checks the primary, falling through on backend errors.
func (fc *FallbackCache) Exists(ctx context.Context, key string) (bool, error) {
	if fc.primary != nil {
		exists, err := fc.primary.Exists(ctx, key)
		if err == nil {
			return exists, nil
		}
		fc.logger.Warn("primary cache exists failed, trying fallback", "error", err, "key", key)
	}
	return fc.fallback.Exists(ctx, key)
}

// Clear empties both caches.
func (fc *FallbackCache) Clear(ctx context.Context) error {
	if fc.primary != nil {
		if err := fc.primary.Clear(ctx); err != nil {
			fc.logger.Warn("primary cache clear failed", "error", err)
		}
	}
	return fc.fallback.Clear(ctx)
}

// Increment prefers the primary so counters stay consistent across nodes.
func (fc *FallbackCache) Increment(ctx context.Context, key string, delta int64) (int64, error) {
	if fc.primary != nil {
		value, err := fc.primary.Increment(ctx, key, delta)
		if err == nil {
			return value, nil
		}
		fc.logger.Warn("primary cache increment failed, trying fallback", "error", err, "key", key)
	}
	return fc.fallback.Increment(ctx, key, delta)
}

// TTL asks the primary, falling through on backend errors.
func (fc *FallbackCache) TTL(ctx context.Context, key string) (time.Duration, error) {
	if fc.primary != nil {
		ttl, err := fc.primary.TTL(ctx, key)
		if err == nil {
			return ttl, nil
		}
		fc.logger.Warn("primary cache ttl failed, trying fallback", "error", err, "key", key)
	}
	return fc.fallback.TTL(ctx, key)
}

// Expire resets the lifetime in both caches.
func (fc *FallbackCache) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if fc.primary != nil {
		if err := fc.primary.Expire(ctx, key, ttl); err != nil {
			fc.logger.Warn("primary cache expire failed", "error", err, "key", key)
		}
	}
	return fc.fallback.Expire(ctx, key, ttl)
}

// Ping reports the primary's health when one is wired, else the fallback's.
func (fc *FallbackCache) Ping(ctx context.Context) error {
	if fc.primary != nil {
		return fc.primary.Ping(ctx)
	}
	return fc.fallback.Ping(ctx)
}

// Close closes both caches.
func (fc *FallbackCache) Close() error {
	if fc.primary != nil {
		fc.primary.Close()
	}
	return fc.fallback.Close()
}
