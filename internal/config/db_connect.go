package config

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// NewPool opens a pgx connection pool for cfg and verifies it with a ping
// before returning. Connection attempts retry with exponential backoff up to
// cfg.MaxRetries, so the application survives a database that comes up a few
// seconds after it does.
func NewPool(cfg DatabaseConfig, logger *slog.Logger) (*pgxpool.Pool, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("database URL cannot be empty")
	}
	if logger == nil {
		logger = slog.Default()
	}

	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}
	poolConfig.MaxConns = cfg.MaxConns
	poolConfig.MinConns = cfg.MinConns
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	poolConfig.HealthCheckPeriod = cfg.HealthCheckPeriod
	if cfg.ConnectTimeout > 0 {
		poolConfig.ConnConfig.ConnectTimeout = cfg.ConnectTimeout
	}

	logger.Info("initializing database connection pool",
		"max_conns", cfg.MaxConns,
		"min_conns", cfg.MinConns,
		"health_check_period", cfg.HealthCheckPeriod.String(),
	)

	retries := cfg.MaxRetries
	if retries < 1 {
		retries = 1
	}

	var lastErr error
	for attempt := 1; attempt <= retries; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.ConnectTimeout)
		pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
		cancel()

		if err == nil {
			pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
			err = pool.Ping(pingCtx)
			pingCancel()
			if err == nil {
				logger.Info("database connection pool established",
					"attempt", attempt,
					"total_conns", pool.Stat().TotalConns(),
				)
				return pool, nil
			}
			pool.Close()
		}

		lastErr = err
		logger.Warn("database connection attempt failed",
			"attempt", attempt,
			"max_retries", retries,
			"error", err,
		)
		if attempt < retries {
			delay := backoffDelay(cfg.RetryDelay, attempt)
			logger.Info("retrying database connection", "delay", delay.String())
			time.Sleep(delay)
		}
	}

	return nil, fmt.Errorf("failed to connect to database after %d attempts: %w", retries, lastErr)
}

// backoffDelay doubles the base delay per attempt, capped at 30 seconds.
func backoffDelay(base time.Duration, attempt int) time.Duration {
	delay := time.Duration(float64(base) * math.Pow(2, float64(attempt-1)))
	if max := 30 * time.Second; delay > max {
		delay = max
	}
	return delay
}

// PoolStats is the subset of pgxpool statistics surfaced by health checks.
type PoolStats struct {
	AcquiredConns int32 `json:"acquired_conns"`
	IdleConns     int32 `json:"idle_conns"`
	TotalConns    int32 `json:"total_conns"`
	MaxConns      int32 `json:"max_conns"`
}

// GetPoolStats reads the current pool statistics. Nil pool returns nil.
func GetPoolStats(pool *pgxpool.Pool) *PoolStats {
	if pool == nil {
		return nil
	}
	stat := pool.Stat()
	return &PoolStats{
		AcquiredConns: stat.AcquiredConns(),
		IdleConns:     stat.IdleConns(),
		TotalConns:    stat.TotalConns(),
		MaxConns:      stat.MaxConns(),
	}
}

// HealthCheck pings the pool with a short timeout. The readiness endpoint
// calls this per request.
func HealthCheck(ctx context.Context, pool *pgxpool.Pool, logger *slog.Logger) error {
	if pool == nil {
		return fmt.Errorf("pool is nil")
	}
	if logger == nil {
		logger = slog.Default()
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := pool.Ping(pingCtx); err != nil {
		logger.Error("database health check failed", "error", err)
		return fmt.Errorf("database health check failed: %w", err)
	}

	stats := GetPoolStats(pool)
	logger.Debug("database health check passed",
		"total_conns", stats.TotalConns,
		"idle_conns", stats.IdleConns,
		"acquired_conns", stats.AcquiredConns,
	)
	return nil
}

// ClosePool closes the pool, giving in-flight queries up to timeout to
// finish. pgxpool's Close blocks until every acquired connection is released,
// so the wait runs in a goroutine with a deadline.
func ClosePool(pool *pgxpool.Pool, timeout time.Duration, logger *slog.Logger) error {
	if pool == nil {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		pool.Close()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("database connection pool closed")
		return nil
	case <-ctx.Done():
		logger.Warn("database shutdown timeout exceeded")
		return fmt.Errorf("database shutdown timeout exceeded")
	}
}
