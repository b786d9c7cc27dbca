package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// ShutdownConfig configures a ShutdownManager.
type ShutdownConfig struct {
	// Logger for structured logging (optional, uses slog.Default if nil).
	Logger *slog.Logger

	// Timeout bounds the whole teardown. Default: 30s.
	Timeout time.Duration

	// Signals that initiate shutdown. Default: SIGINT, SIGTERM, SIGQUIT.
	Signals []os.Signal

	// OnShutdownStart runs after the signal, before any resource closes.
	OnShutdownStart func()

	// OnShutdownComplete runs after the last resource closed.
	OnShutdownComplete func()
}

// DefaultShutdownConfig returns the default shutdown configuration.
func DefaultShutdownConfig() *ShutdownConfig {
	return &ShutdownConfig{
		Timeout: 30 * time.Second,
		Signals: []os.Signal{syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT},
	}
}

// Resource is anything that must be closed during shutdown.
type Resource interface {
	Name() string
	Close(ctx context.Context) error
}

// ShutdownManager closes registered resources in reverse registration order
// once a shutdown signal arrives or Trigger is called. Sequential LIFO close
// means a resource can rely on everything registered before it still being
// alive while it drains.
type ShutdownManager struct {
	config  *ShutdownConfig
	logger  *slog.Logger
	trigger chan struct{}
	once    sync.Once

	mu        sync.Mutex
	resources []Resource
}

// NewShutdownManager builds a manager from config.
func NewShutdownManager(config *ShutdownConfig) *ShutdownManager {
	if config == nil {
		config = DefaultShutdownConfig()
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if len(config.Signals) == 0 {
		config.Signals = []os.Signal{syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT}
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &ShutdownManager{
		config:  config,
		logger:  logger,
		trigger: make(chan struct{}),
	}
}

// Register appends a resource. Later registrations close earlier.
func (sm *ShutdownManager) Register(resource Resource) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.resources = append(sm.resources, resource)
	sm.logger.Debug("resource registered for shutdown", "resource", resource.Name())
}

// Trigger initiates shutdown without an OS signal. Safe to call more than
// once and from any goroutine.
func (sm *ShutdownManager) Trigger() {
	sm.once.Do(func() { close(sm.trigger) })
}

// Wait blocks until a configured signal arrives or Trigger fires, then runs
// the teardown and returns its result.
func (sm *ShutdownManager) Wait() error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, sm.config.Signals...)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		sm.logger.Info("shutdown signal received", "signal", sig.String())
	case <-sm.trigger:
		sm.logger.Info("shutdown triggered")
	}

	if sm.config.OnShutdownStart != nil {
		sm.config.OnShutdownStart()
	}

	ctx, cancel := context.WithTimeout(context.Background(), sm.config.Timeout)
	defer cancel()
	err := sm.Shutdown(ctx)

	if sm.config.OnShutdownComplete != nil {
		sm.config.OnShutdownComplete()
	}
	return err
}

// Shutdown closes every resource in reverse registration order, one at a
// time, all under the same deadline. Every close is attempted even after
// earlier failures; the errors come back joined. A Close that ignores its
// context can hold shutdown past the timeout.
func (sm *ShutdownManager) Shutdown(ctx context.Context) error {
	sm.mu.Lock()
	resources := make([]Resource, len(sm.resources))
	copy(resources, sm.resources)
	sm.mu.Unlock()

	sm.logger.Info("closing resources",
		"count", len(resources),
		"timeout", sm.config.Timeout.String(),
	)

	var errs []error
	for i := len(resources) - 1; i >= 0; i-- {
		r := resources[i]
		start := time.Now()
		if err := r.Close(ctx); err != nil {
			sm.logger.Error("resource close failed",
				"resource", r.Name(),
				"error", err,
				"duration", time.Since(start).String(),
			)
			errs = append(errs, fmt.Errorf("closing %s: %w", r.Name(), err))
			continue
		}
		sm.logger.Info("resource closed",
			"resource", r.Name(),
			"duration", time.Since(start).String(),
		)
	}

	if len(errs) == 0 {
		sm.logger.Info("all resources closed")
	}
	return errors.Join(errs...)
}

// HTTPServerResource drains an http.Server.
type HTTPServerResource struct {
	server *http.Server
	name   string
}

// NewHTTPServerResource wraps server for shutdown registration.
func NewHTTPServerResource(name string, server *http.Server) *HTTPServerResource {
	return &HTTPServerResource{server: server, name: name}
}

// Name implements Resource.
func (h *HTTPServerResource) Name() string { return h.name }

// Close implements Resource by draining in-flight requests.
func (h *HTTPServerResource) Close(ctx context.Context) error {
	return h.server.Shutdown(ctx)
}

// DatabaseResource closes a pgx pool. pgxpool.Close takes no context, so the
// wait is bounded here and the pool is force-closed at the deadline.
type DatabaseResource struct {
	pool *pgxpool.Pool
	name string
}

// NewDatabaseResource wraps pool for shutdown registration.
func NewDatabaseResource(name string, pool *pgxpool.Pool) *DatabaseResource {
	return &DatabaseResource{pool: pool, name: name}
}

// Name implements Resource.
func (d *DatabaseResource) Name() string { return d.name }

// Close implements Resource.
func (d *DatabaseResource) Close(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.pool.Close()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RedisResource closes a Redis client.
type RedisResource struct {
	client *redis.Client
	name   string
}

// NewRedisResource wraps client for shutdown registration.
func NewRedisResource(name string, client *redis.Client) *RedisResource {
	return &RedisResource{client: client, name: name}
}

// Name implements Resource.
func (r *RedisResource) Name() string { return r.name }

// Close implements Resource.
func (r *RedisResource) Close(context.Context) error {
	return r.client.Close()
}

// CustomResource adapts a close function to the Resource interface, for
// components without a natural wrapper (worker pools, schedulers, caches).
type CustomResource struct {
	name      string
	closeFunc func(ctx context.Context) error
}

// NewCustomResource wraps closeFunc for shutdown registration.
func NewCustomResource(name string, closeFunc func(ctx context.Context) error) *CustomResource {
	return &CustomResource{name: name, closeFunc: closeFunc}
}

// Name implements Resource.
func (c *CustomResource) Name() string { return c.name }

// Close implements Resource.
func (c *CustomResource) Close(ctx context.Context) error {
	return c.closeFunc(ctx)
}
