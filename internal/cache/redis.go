package cache

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache is a Redis-backed Cache.
type RedisCache struct {
	client *redis.Client
	config *Config
	logger *slog.Logger
}

// RedisConfig holds Redis-specific settings on top of the common Config.
type RedisConfig struct {
	*Config

	Addr     string
	Password string
	DB       int

	MaxRetries   int
	PoolSize     int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Logger for structured logging (optional, uses slog.Default if nil).
	Logger *slog.Logger
}

// DefaultRedisConfig returns a local-development Redis configuration.
func DefaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		Config:       DefaultConfig(),
		Addr:         "localhost:6379",
		MaxRetries:   3,
		PoolSize:     10,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}
}

// NewRedisCache connects to Redis and verifies the connection with a ping.
func NewRedisCache(config *RedisConfig) (*RedisCache, error) {
	if config == nil {
		config = DefaultRedisConfig()
	}
	if config.Config == nil {
		config.Config = DefaultConfig()
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	client := redis.NewClient(&redis.Options{
		Addr:         config.Addr,
		Password:     config.Password,
		DB:           config.DB,
		MaxRetries:   config.MaxRetries,
		PoolSize:     config.PoolSize,
		DialTimeout:  config.DialTimeout,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Error("redis connection failed", "error", err, "addr", config.Addr)
		return nil, &CacheError{Op: "connect", Err: err}
	}

	logger.Info("redis cache initialized", "addr", config.Addr, "db", config.DB)
	return &RedisCache{client: client, config: config.Config, logger: logger}, nil
}

// NewRedisCacheFromClient wraps an existing client, for callers that share
// one Redis connection across sessions, cache, and queue.
func NewRedisCacheFromClient(client *redis.Client, config *Config, logger *slog.Logger) *RedisCache {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisCache{client: client, config: config, logger: logger}
}

// Get retrieves a value, or ErrNotFound.
func (rc *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	key = rc.prefixKey(key)
	result, err := rc.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		rc.logger.Error("redis get failed", "error", err, "key", key)
		return nil, &CacheError{Op: "get", Key: key, Err: err}
	}
	return result, nil
}

// Set stores a value; zero ttl uses the default, negative ttl never expires.
func (rc *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	key = rc.prefixKey(key)
	if ttl == 0 {
		ttl = rc.config.DefaultTTL
	}
	if ttl < 0 {
		ttl = 0 // redis: zero means no expiry
	}
	if err := rc.client.Set(ctx, key, value, ttl).Err(); err != nil {
		rc.logger.Error("redis set failed", "error", err, "key", key)
		return &CacheError{Op: "set", Key: key, Err: err}
	}
	return nil
}

// Delete removes a key.
func (rc *RedisCache) Delete(ctx context.Context, key string) error {
	key = rc.prefixKey(key)
	if err := rc.client.Del(ctx, key).Err(); err != nil {
		rc.logger.Error("redis delete failed", "error", err, "key", key)
		return &CacheError{Op: "delete", Key: key, Err: err}
	}
	return nil
}

// Exists reports whether the key is present.
func (rc *RedisCache) Exists(ctx context.Context, key string) (bool, error) {
	key = rc.prefixKey(key)
	count, err := rc.client.Exists(ctx, key).Result()
	if err != nil {
		rc.logger.Error("redis exists failed", "error", err, "key", key)
		return false, &CacheError{Op: "exists", Key: key, Err: err}
	}
	return count > 0, nil
}

// Clear removes every key under this cache's prefix, scanning in batches so
// a large keyspace does not block Redis.
func (rc *RedisCache) Clear(ctx context.Context) error {
	var cursor uint64
	for {
		keys, next, err := rc.client.Scan(ctx, cursor, rc.config.Prefix+"*", 100).Result()
		if err != nil {
			return &CacheError{Op: "clear", Err: err}
		}
		if len(keys) > 0 {
			if err := rc.client.Del(ctx, keys...).Err(); err != nil {
				return &CacheError{Op: "clear", Err: err}
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

// Increment adds delta to the numeric value at key.
func (rc *RedisCache) Increment(ctx context.Context, key string, delta int64) (int64, error) {
	key = rc.prefixKey(key)
	result, err := rc.client.IncrBy(ctx, key, delta).Result()
	if err != nil {
		rc.logger.Error("redis incr failed", "error", err, "key", key)
		return 0, &CacheError{Op: "incr", Key: key, Err: err}
	}
	return result, nil
}

// TTL returns the remaining lifetime of the key.
func (rc *RedisCache) TTL(ctx context.Context, key string) (time.Duration, error) {
	key = rc.prefixKey(key)
	ttl, err := rc.client.TTL(ctx, key).Result()
	if err != nil {
		rc.logger.Error("redis ttl failed", "error", err, "key", key)
		return 0, &CacheError{Op: "ttl", Key: key, Err: err}
	}
	return ttl, nil
}

// Expire resets the key's lifetime.
func (rc *RedisCache) Expire(ctx context.Context, key string, ttl time.Duration) error {
	key = rc.prefixKey(key)
	if err := rc.client.Expire(ctx, key, ttl).Err(); err != nil {
		rc.logger.Error("redis expire failed", "error", err, "key", key)
		return &CacheError{Op: "expire", Key: key, Err: err}
	}
	return nil
}

// Ping verifies the Redis connection.
func (rc *RedisCache) Ping(ctx context.Context) error {
	if err := rc.client.Ping(ctx).Err(); err != nil {
		return &CacheError{Op: "ping", Err: err}
	}
	return nil
}

// Close closes the Redis connection.
func (rc *RedisCache) Close() error {
	return rc.client.Close()
}

func (rc *RedisCache) prefixKey(key string) string {
	return rc.config.Prefix + key
}
