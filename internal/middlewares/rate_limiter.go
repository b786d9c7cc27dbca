package middlewares

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"app_kernel/internal/cache"
)

// LimiterStore decides whether a keyed request may proceed. Implementations
// carry their own rate parameters.
type LimiterStore interface {
	// Allow reports whether the request identified by key is admitted,
	// how many requests remain before throttling, and how long a rejected
	// caller should wait.
	Allow(ctx context.Context, key string) (allowed bool, remaining int, retryAfter time.Duration, err error)
	// Reset clears the state for a key.
	Reset(ctx context.Context, key string) error
}

// RateLimitConfig holds configuration for the rate limiting middleware.
type RateLimitConfig struct {
	// Cache enables the shared fixed-window store so limits hold across
	// processes. If nil, a per-process token bucket store is used.
	Cache cache.Cache

	// Logger for structured logging (optional, uses slog.Default if nil)
	Logger *slog.Logger

	// RequestsPerSecond is the sustained rate per key.
	// Default: 5.0
	RequestsPerSecond float64

	// Burst is the number of requests a key may spend at once.
	// Default: 10
	Burst int

	// CleanupInterval controls how often idle per-key limiters are evicted.
	// Default: 5 minutes
	CleanupInterval time.Duration

	// Message to return when the limit is exceeded
	// Default: "rate limit exceeded"
	Message string

	// StatusCode to return when the limit is exceeded
	// Default: 429 (Too Many Requests)
	StatusCode int

	// KeyGenerator derives the limiting key
	// Default: client IP
	KeyGenerator func(r *http.Request) string

	// Store overrides the storage mechanism
	Store LimiterStore

	// Skipper defines a function to skip middleware
	Skipper func(r *http.Request) bool

	// OnLimitReached is called when a request is throttled
	OnLimitReached func(r *http.Request, key string)
}

// DefaultRateLimitConfig returns a default rate limit configuration.
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		RequestsPerSecond: 5.0,
		Burst:             10,
		CleanupInterval:   5 * time.Minute,
		Message:           "rate limit exceeded",
		StatusCode:        http.StatusTooManyRequests,
		KeyGenerator:      defaultKeyGenerator,
	}
}

// defaultKeyGenerator limits by client IP.
func defaultKeyGenerator(r *http.Request) string {
	return getClientIP(r)
}

// localLimiter pairs a token bucket with its last use so idle entries can be
// evicted.
type localLimiter struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// LocalLimiterStore keeps one token bucket per key in process memory.
// Suitable for single-node deployments; multi-node setups should use
// NewCacheLimiterStore so all nodes share one ledger.
type LocalLimiterStore struct {
	mu       sync.Mutex
	limiters map[string]*localLimiter
	rate     rate.Limit
	burst    int
	stop     chan struct{}
	once     sync.Once
}

// NewLocalLimiterStore creates an in-memory store and starts its eviction
// loop.
func NewLocalLimiterStore(requestsPerSecond float64, burst int, cleanupInterval time.Duration) *LocalLimiterStore {
	if requestsPerSecond <= 0 {
		requestsPerSecond = 5.0
	}
	if burst <= 0 {
		burst = 10
	}
	if cleanupInterval <= 0 {
		cleanupInterval = 5 * time.Minute
	}

	s := &LocalLimiterStore{
		limiters: make(map[string]*localLimiter),
		rate:     rate.Limit(requestsPerSecond),
		burst:    burst,
		stop:     make(chan struct{}),
	}
	go s.cleanup(cleanupInterval)
	return s
}

// Allow admits the request if the key's bucket holds a token.
func (s *LocalLimiterStore) Allow(_ context.Context, key string) (bool, int, time.Duration, error) {
	s.mu.Lock()
	entry, exists := s.limiters[key]
	if !exists {
		entry = &localLimiter{lim: rate.NewLimiter(s.rate, s.burst)}
		s.limiters[key] = entry
	}
	entry.lastSeen = time.Now()
	s.mu.Unlock()

	if entry.lim.Allow() {
		return true, int(entry.lim.Tokens()), 0, nil
	}

	// Time until one token refills.
	need := 1.0 - entry.lim.Tokens()
	if need < 0 {
		need = 0
	}
	retryAfter := time.Duration(need / float64(s.rate) * float64(time.Second))
	return false, 0, retryAfter, nil
}

// Reset drops the bucket for a key.
func (s *LocalLimiterStore) Reset(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.limiters, key)
	s.mu.Unlock()
	return nil
}

// Close stops the eviction loop.
func (s *LocalLimiterStore) Close() {
	s.once.Do(func() { close(s.stop) })
}

func (s *LocalLimiterStore) cleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			cutoff := time.Now().Add(-3 * interval)
			s.mu.Lock()
			for key, entry := range s.limiters {
				if entry.lastSeen.Before(cutoff) {
					delete(s.limiters, key)
				}
			}
			s.mu.Unlock()
		case <-s.stop:
			return
		}
	}
}

// CacheLimiterStore implements a fixed-window counter on the shared cache so
// every node sees the same tally.
type CacheLimiterStore struct {
	cache     cache.Cache
	keyPrefix string
	limit     int64
	window    time.Duration
}

// NewCacheLimiterStore creates a cache-backed store allowing limit requests
// per window per key.
func NewCacheLimiterStore(c cache.Cache, keyPrefix string, limit int, window time.Duration) *CacheLimiterStore {
	if keyPrefix == "" {
		keyPrefix = "ratelimit:"
	}
	if limit <= 0 {
		limit = 10
	}
	if window <= 0 {
		window = time.Second
	}
	return &CacheLimiterStore{
		cache:     c,
		keyPrefix: keyPrefix,
		limit:     int64(limit),
		window:    window,
	}
}

// Allow increments the counter for the current window and admits the request
// while the tally stays at or below the limit.
func (s *CacheLimiterStore) Allow(ctx context.Context, key string) (bool, int, time.Duration, error) {
	windowStart := time.Now().Truncate(s.window)
	fullKey := fmt.Sprintf("%s%s:%d", s.keyPrefix, key, windowStart.Unix())

	count, err := s.cache.Increment(ctx, fullKey, 1)
	if err != nil {
		return false, 0, 0, fmt.Errorf("rate limit counter: %w", err)
	}
	if count == 1 {
		// First hit this window; bound the counter's lifetime. A failed
		// expire leaves the key on the cache default TTL, which is fine.
		_ = s.cache.Expire(ctx, fullKey, s.window*2)
	}

	if count > s.limit {
		retryAfter := time.Until(windowStart.Add(s.window))
		if retryAfter < 0 {
			retryAfter = 0
		}
		return false, 0, retryAfter, nil
	}

	remaining := s.limit - count
	return true, int(remaining), 0, nil
}

// Reset clears the current window's counter for a key.
func (s *CacheLimiterStore) Reset(ctx context.Context, key string) error {
	windowStart := time.Now().Truncate(s.window)
	return s.cache.Delete(ctx, fmt.Sprintf("%s%s:%d", s.keyPrefix, key, windowStart.Unix()))
}

// RateLimit returns a rate limiting middleware keyed by client by default.
func RateLimit(config *RateLimitConfig) func(next http.Handler) http.Handler {
	if config == nil {
		config = DefaultRateLimitConfig()
	}

	// Set defaults
	if config.RequestsPerSecond <= 0 {
		config.RequestsPerSecond = 5.0
	}
	if config.Burst <= 0 {
		config.Burst = 10
	}
	if config.StatusCode <= 0 {
		config.StatusCode = http.StatusTooManyRequests
	}
	if config.Message == "" {
		config.Message = "rate limit exceeded"
	}
	if config.KeyGenerator == nil {
		config.KeyGenerator = defaultKeyGenerator
	}

	// The advertised limit is the bucket capacity for the local store and
	// the per-window allowance for the shared one.
	limitHeader := config.Burst
	if config.Store == nil {
		if config.Cache != nil {
			windowLimit := int(config.RequestsPerSecond) + config.Burst
			config.Store = NewCacheLimiterStore(config.Cache, "ratelimit:", windowLimit, time.Second)
			limitHeader = windowLimit
		} else {
			config.Store = NewLocalLimiterStore(config.RequestsPerSecond, config.Burst, config.CleanupInterval)
		}
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	storeType := "local"
	if _, ok := config.Store.(*CacheLimiterStore); ok {
		storeType = "cache"
	}

	logger.Debug("rate limiter middleware initialized",
		"requests_per_second", config.RequestsPerSecond,
		"burst", config.Burst,
		"store_type", storeType,
	)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if config.Skipper != nil && config.Skipper(r) {
				next.ServeHTTP(w, r)
				return
			}

			key := config.KeyGenerator(r)

			allowed, remaining, retryAfter, err := config.Store.Allow(r.Context(), key)
			if err != nil {
				// A broken store must not take the whole site down.
				logger.Error("rate limiter store error",
					"method", r.Method,
					"path", r.URL.Path,
					"key", key,
					"error", err,
				)
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limitHeader))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))

			if !allowed {
				retrySeconds := int(retryAfter.Seconds()) + 1

				logger.Warn("rate limit exceeded",
					"method", r.Method,
					"path", r.URL.Path,
					"key", key,
					"retry_after_seconds", retrySeconds,
				)

				if config.OnLimitReached != nil {
					config.OnLimitReached(r, key)
				}

				w.Header().Set("Content-Type", "application/json; charset=UTF-8")
				w.Header().Set("Retry-After", strconv.Itoa(retrySeconds))
				w.WriteHeader(config.StatusCode)

				json.NewEncoder(w).Encode(map[string]any{
					"error":               config.Message,
					"retry_after_seconds": retrySeconds,
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// PerIP creates a rate limit configuration for per-IP limiting.
func PerIP(requestsPerSecond float64, burst int) *RateLimitConfig {
	config := DefaultRateLimitConfig()
	config.RequestsPerSecond = requestsPerSecond
	config.Burst = burst
	return config
}

// WithCache creates a rate limit configuration backed by the shared cache.
func WithCache(c cache.Cache, requestsPerSecond float64, burst int) *RateLimitConfig {
	config := DefaultRateLimitConfig()
	config.Cache = c
	config.RequestsPerSecond = requestsPerSecond
	config.Burst = burst
	return config
}
