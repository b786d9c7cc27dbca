package cache

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"
)

type memoryItem struct {
	value      []byte
	expiration time.Time
	hasExpiry  bool
}

// MemoryCache is a process-local Cache with TTL support and a background
// sweep for expired entries.
type MemoryCache struct {
	config *Config
	mu     sync.RWMutex
	items  map[string]*memoryItem
	stop   chan struct{}
	once   sync.Once
}

// NewMemoryCache returns an in-memory cache. Close stops its sweeper.
func NewMemoryCache(config *Config) *MemoryCache {
	if config == nil {
		config = DefaultConfig()
	}
	mc := &MemoryCache{
		config: config,
		items:  make(map[string]*memoryItem),
		stop:   make(chan struct{}),
	}
	go mc.sweep()
	return mc
}

// Get retrieves a value, or ErrNotFound.
func (mc *MemoryCache) Get(ctx context.Context, key string) ([]byte, error) {
	key = mc.prefixKey(key)

	mc.mu.RLock()
	item, ok := mc.items[key]
	mc.mu.RUnlock()

	if !ok {
		return nil, ErrNotFound
	}
	if item.hasExpiry && time.Now().After(item.expiration) {
		mc.mu.Lock()
		delete(mc.items, key)
		mc.mu.Unlock()
		return nil, ErrNotFound
	}
	return item.value, nil
}

// Set stores a value; zero ttl uses the default, negative ttl never expires.
func (mc *MemoryCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	key = mc.prefixKey(key)
	if ttl == 0 {
		ttl = mc.config.DefaultTTL
	}

	item := &memoryItem{value: value, hasExpiry: ttl > 0}
	if item.hasExpiry {
		item.expiration = time.Now().Add(ttl)
	}

	mc.mu.Lock()
	mc.items[key] = item
	mc.mu.Unlock()
	return nil
}

// Delete removes a key.
func (mc *MemoryCache) Delete(ctx context.Context, key string) error {
	key = mc.prefixKey(key)
	mc.mu.Lock()
	delete(mc.items, key)
	mc.mu.Unlock()
	return nil
}

// Exists reports whether the key is present and unexpired.
func (mc *MemoryCache) Exists(ctx context.Context, key string) (bool, error) {
	_, err := mc.Get(ctx, key)
	if err == ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Clear removes every entry under this cache's prefix.
func (mc *MemoryCache) Clear(ctx context.Context) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()
	for key := range mc.items {
		if strings.HasPrefix(key, mc.config.Prefix) {
			delete(mc.items, key)
		}
	}
	return nil
}

// Increment adds delta to the numeric value at key. Missing keys start at
// zero; non-numeric values fail.
func (mc *MemoryCache) Increment(ctx context.Context, key string, delta int64) (int64, error) {
	prefixed := mc.prefixKey(key)

	mc.mu.Lock()
	defer mc.mu.Unlock()

	var current int64
	if item, ok := mc.items[prefixed]; ok && !(item.hasExpiry && time.Now().After(item.expiration)) {
		parsed, err := strconv.ParseInt(string(item.value), 10, 64)
		if err != nil {
			return 0, &CacheError{Op: "incr", Key: key, Err: err}
		}
		current = parsed
	}

	current += delta
	item := &memoryItem{value: []byte(strconv.FormatInt(current, 10))}
	if prev, ok := mc.items[prefixed]; ok {
		item.hasExpiry = prev.hasExpiry
		item.expiration = prev.expiration
	}
	mc.items[prefixed] = item
	return current, nil
}

// TTL returns the remaining lifetime of the key; keys without expiry report a
// negative duration, missing keys report ErrNotFound.
func (mc *MemoryCache) TTL(ctx context.Context, key string) (time.Duration, error) {
	key = mc.prefixKey(key)

	mc.mu.RLock()
	item, ok := mc.items[key]
	mc.mu.RUnlock()

	if !ok {
		return 0, ErrNotFound
	}
	if !item.hasExpiry {
		return -1, nil
	}
	remaining := time.Until(item.expiration)
	if remaining < 0 {
		return 0, ErrNotFound
	}
	return remaining, nil
}

// Expire resets the key's lifetime.
func (mc *MemoryCache) Expire(ctx context.Context, key string, ttl time.Duration) error {
	key = mc.prefixKey(key)

	mc.mu.Lock()
	defer mc.mu.Unlock()

	item, ok := mc.items[key]
	if !ok {
		return ErrNotFound
	}
	item.hasExpiry = ttl > 0
	if item.hasExpiry {
		item.expiration = time.Now().Add(ttl)
	}
	return nil
}

// Ping always succeeds for the in-memory cache.
func (mc *MemoryCache) Ping(ctx context.Context) error { return nil }

// Close stops the background sweeper.
func (mc *MemoryCache) Close() error {
	mc.once.Do(func() { close(mc.stop) })
	return nil
}

func (mc *MemoryCache) sweep() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-mc.stop:
			return
		case <-ticker.C:
			now := time.Now()
			mc.mu.Lock()
			for key, item := range mc.items {
				if item.hasExpiry && now.After(item.expiration) {
					delete(mc.items, key)
				}
			}
			mc.mu.Unlock()
		}
	}
}

func (mc *MemoryCache) prefixKey(key string) string {
	return mc.config.Prefix + key
}
