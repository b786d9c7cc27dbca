package observability

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// HealthStatus represents the health status of a component.
type HealthStatus string

const (
	StatusHealthy   HealthStatus = "healthy"
	StatusDegraded  HealthStatus = "degraded"
	StatusUnhealthy HealthStatus = "unhealthy"
)

// HealthCheck probes one dependency.
type HealthCheck func(ctx context.Context) (HealthStatus, string, error)

// HealthConfig holds configuration for the probe endpoints.
type HealthConfig struct {
	// Logger for structured logging
	Logger *slog.Logger

	// DatabasePool is pinged by the readiness probe when set
	DatabasePool *pgxpool.Pool

	// CustomChecks are extra readiness probes (Redis, downstream services)
	CustomChecks map[string]HealthCheck

	// CheckTimeout bounds each probe run
	// Default: 5 seconds
	CheckTimeout time.Duration

	// Version is reported by the liveness probe
	Version string
}

// CheckResult represents the result of a single health check.
type CheckResult struct {
	Status  HealthStatus `json:"status"`
	Message string       `json:"message,omitempty"`
	Error   string       `json:"error,omitempty"`
	Latency string       `json:"latency,omitempty"`
}

var startTime = time.Now()

// DefaultHealthConfig returns a default health configuration.
func DefaultHealthConfig() *HealthConfig {
	return &HealthConfig{
		CustomChecks: make(map[string]HealthCheck),
		CheckTimeout: 5 * time.Second,
	}
}

// LivenessHandler answers whether the process is running. Orchestrators call
// it to decide on restarts, so it never touches dependencies.
// Endpoint: GET /healthz
func LivenessHandler(config *HealthConfig) http.HandlerFunc {
	if config == nil {
		config = DefaultHealthConfig()
	}

	return func(w http.ResponseWriter, r *http.Request) {
		response := map[string]any{
			"alive":     true,
			"timestamp": time.Now().Format(time.RFC3339),
			"uptime":    time.Since(startTime).String(),
		}
		if config.Version != "" {
			response["version"] = config.Version
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(response)
	}
}

// ReadinessHandler answers whether the process can take traffic: the database
// and every custom check must pass. Load balancers drain on 503.
// Endpoint: GET /readyz
func ReadinessHandler(config *HealthConfig) http.HandlerFunc {
	if config == nil {
		config = DefaultHealthConfig()
	}
	if config.CheckTimeout <= 0 {
		config.CheckTimeout = 5 * time.Second
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), config.CheckTimeout)
		defer cancel()

		ready := true
		checks := make(map[string]CheckResult)

		if config.DatabasePool != nil {
			checkResult := checkDatabase(ctx, config.DatabasePool)
			checks["database"] = checkResult

			if checkResult.Status == StatusUnhealthy {
				ready = false
			}
		}

		for name, check := range config.CustomChecks {
			checkResult := runHealthCheck(ctx, check)
			checks[name] = checkResult

			if checkResult.Status == StatusUnhealthy {
				ready = false
			}
		}

		response := map[string]any{
			"ready":     ready,
			"timestamp": time.Now().Format(time.RFC3339),
			"checks":    checks,
		}

		statusCode := http.StatusOK
		if !ready {
			statusCode = http.StatusServiceUnavailable
			logger.Warn("readiness check failed", "checks", checks)
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(statusCode)
		json.NewEncoder(w).Encode(response)
	}
}

// checkDatabase pings the pool and reports connection counts.
func checkDatabase(ctx context.Context, pool *pgxpool.Pool) CheckResult {
	start := time.Now()

	err := pool.Ping(ctx)
	latency := time.Since(start)

	if err != nil {
		return CheckResult{
			Status:  StatusUnhealthy,
			Message: "database connection failed",
			Error:   err.Error(),
			Latency: latency.String(),
		}
	}

	stat := pool.Stat()
	return CheckResult{
		Status: StatusHealthy,
		Message: fmt.Sprintf("database is healthy (conns: total=%d, idle=%d, acquired=%d)",
			stat.TotalConns(), stat.IdleConns(), stat.AcquiredConns()),
		Latency: latency.String(),
	}
}

// runHealthCheck executes a custom check, honoring the probe deadline.
func runHealthCheck(ctx context.Context, check HealthCheck) CheckResult {
	start := time.Now()

	resultChan := make(chan CheckResult, 1)
	go func() {
		status, message, err := check(ctx)
		result := CheckResult{
			Status:  status,
			Message: message,
			Latency: time.Since(start).String(),
		}
		if err != nil {
			result.Error = err.Error()
			if result.Status == StatusHealthy {
				result.Status = StatusUnhealthy
			}
		}
		resultChan <- result
	}()

	select {
	case result := <-resultChan:
		return result
	case <-ctx.Done():
		return CheckResult{
			Status:  StatusUnhealthy,
			Message: "health check timed out",
			Error:   ctx.Err().Error(),
			Latency: time.Since(start).String(),
		}
	}
}

// RedisHealthCheck wraps a Redis ping as a readiness check.
func RedisHealthCheck(pingFunc func(context.Context) error) HealthCheck {
	return func(ctx context.Context) (HealthStatus, string, error) {
		if err := pingFunc(ctx); err != nil {
			return StatusUnhealthy, "redis connection failed", err
		}
		return StatusHealthy, "redis is healthy", nil
	}
}
