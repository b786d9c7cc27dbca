package cache

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestMemoryCacheSetGetDelete(t *testing.T) {
	c := NewMemoryCache(nil)
	defer c.Close()
	ctx := context.Background()

	if err := c.Set(ctx, "greeting", []byte("hello"), time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := c.Get(ctx, "greeting")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "hello" {
		t.Fatalf("Get = %q, want %q", got, "hello")
	}

	if err := c.Delete(ctx, "greeting"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := c.Get(ctx, "greeting"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get after delete = %v, want ErrNotFound", err)
	}
}

func TestMemoryCacheExpiry(t *testing.T) {
	c := NewMemoryCache(nil)
	defer c.Close()
	ctx := context.Background()

	if err := c.Set(ctx, "short", []byte("x"), -time.Second); err != nil {
		t.Fatalf("Set: %v", err)
	}
	// Negative TTL is already in the past, so the lazy check must evict it.
	if _, err := c.Get(ctx, "short"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get expired = %v, want ErrNotFound", err)
	}
}

func TestMemoryCacheIncrement(t *testing.T) {
	c := NewMemoryCache(nil)
	defer c.Close()
	ctx := context.Background()

	n, err := c.Increment(ctx, "hits", 1)
	if err != nil {
		t.Fatalf("Increment fresh key: %v", err)
	}
	if n != 1 {
		t.Fatalf("Increment fresh key = %d, want 1", n)
	}
	n, err = c.Increment(ctx, "hits", 4)
	if err != nil {
		t.Fatalf("Increment existing key: %v", err)
	}
	if n != 5 {
		t.Fatalf("Increment existing key = %d, want 5", n)
	}
}

func TestMemoryCacheTTLAndExpire(t *testing.T) {
	c := NewMemoryCache(nil)
	defer c.Close()
	ctx := context.Background()

	if err := c.Set(ctx, "k", []byte("v"), 0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	ttl, err := c.TTL(ctx, "k")
	if err != nil {
		t.Fatalf("TTL: %v", err)
	}
	if ttl <= 0 {
		t.Fatalf("TTL after default Set = %v, want positive", ttl)
	}

	if err := c.Expire(ctx, "k", time.Hour); err != nil {
		t.Fatalf("Expire: %v", err)
	}
	ttl, err = c.TTL(ctx, "k")
	if err != nil {
		t.Fatalf("TTL after Expire: %v", err)
	}
	if ttl <= 30*time.Minute {
		t.Fatalf("TTL after Expire = %v, want close to an hour", ttl)
	}

	if _, err := c.TTL(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("TTL missing key = %v, want ErrNotFound", err)
	}
}

func TestMemoryCacheClearHonorsPrefix(t *testing.T) {
	c := NewMemoryCache(&Config{Prefix: "app:", DefaultTTL: time.Minute})
	defer c.Close()
	ctx := context.Background()

	if err := c.Set(ctx, "one", []byte("1"), time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := c.Clear(ctx); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if _, err := c.Get(ctx, "one"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get after clear = %v, want ErrNotFound", err)
	}
}

// failingCache simulates a primary whose backend is down.
type failingCache struct {
	err error
}

func (f *failingCache) Get(context.Context, string) ([]byte, error) { return nil, f.err }
func (f *failingCache) Set(context.Context, string, []byte, time.Duration) error {
	return f.err
}
func (f *failingCache) Delete(context.Context, string) error        { return f.err }
func (f *failingCache) Exists(context.Context, string) (bool, error) { return false, f.err }
func (f *failingCache) Clear(context.Context) error                 { return f.err }
func (f *failingCache) Increment(context.Context, string, int64) (int64, error) {
	return 0, f.err
}
func (f *failingCache) TTL(context.Context, string) (time.Duration, error) { return 0, f.err }
func (f *failingCache) Expire(context.Context, string, time.Duration) error {
	return f.err
}
func (f *failingCache) Ping(context.Context) error { return f.err }
func (f *failingCache) Close() error               { return nil }

func TestFallbackCacheServesFromMemoryWhenPrimaryFails(t *testing.T) {
	primary := &failingCache{err: errors.New("connection refused")}
	fc := NewFallbackCache(primary, NewMemoryCache(nil), nil)
	defer fc.Close()
	ctx := context.Background()

	if err := fc.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		// With a live fallback the operation still reports the primary error.
		if err != primary.err {
			t.Fatalf("Set error = %v, want primary error", err)
		}
	}
	got, err := fc.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get via fallback: %v", err)
	}
	if string(got) != "v" {
		t.Fatalf("Get via fallback = %q, want %q", got, "v")
	}
}

func TestFallbackCacheMissDoesNotFallThrough(t *testing.T) {
	primary := NewMemoryCache(nil)
	fallback := NewMemoryCache(nil)
	ctx := context.Background()

	// Seed only the fallback: a clean miss on the primary must stay a miss.
	if err := fallback.Set(ctx, "k", []byte("stale"), time.Minute); err != nil {
		t.Fatalf("seed fallback: %v", err)
	}
	fc := NewFallbackCache(primary, fallback, nil)
	defer fc.Close()

	if _, err := fc.Get(ctx, "k"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get = %v, want ErrNotFound from primary miss", err)
	}
}

func TestFallbackCacheWithoutPrimary(t *testing.T) {
	fc := NewFallbackCache(nil, NewMemoryCache(nil), nil)
	defer fc.Close()
	ctx := context.Background()

	if err := fc.Set(ctx, "k", []byte("v"), time.Minute); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := fc.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(got) != "v" {
		t.Fatalf("Get = %q, want %q", got, "v")
	}
	if err := fc.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}
}

func TestCacheErrorUnwrap(t *testing.T) {
	inner := errors.New("boom")
	err := &CacheError{Op: "get", Key: "k", Err: inner}
	if !errors.Is(err, inner) {
		t.Fatalf("errors.Is(CacheError, inner) = false, want true")
	}
	if err.Error() == "" {
		t.Fatal("CacheError.Error() empty")
	}
}
