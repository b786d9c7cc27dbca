package middlewares

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"
)

// TimeoutConfig holds configuration for the timeout middleware.
type TimeoutConfig struct {
	// Logger for structured logging (optional, uses slog.Default if nil)
	Logger *slog.Logger

	// Timeout duration for requests
	// Default: 30 seconds
	Timeout time.Duration

	// ErrorHandler writes the timeout response
	// Default: JSON 408 body
	ErrorHandler func(w http.ResponseWriter, r *http.Request)

	// Skipper defines a function to skip middleware
	Skipper func(r *http.Request) bool

	// OnTimeout is called when a timeout occurs
	OnTimeout func(r *http.Request, duration time.Duration)

	// SkipPaths defines paths that should not have a timeout applied
	// (streaming endpoints, metrics scrapes)
	SkipPaths []string
}

// DefaultTimeoutConfig returns a default timeout configuration.
func DefaultTimeoutConfig() *TimeoutConfig {
	return &TimeoutConfig{
		Timeout:      30 * time.Second,
		ErrorHandler: defaultTimeoutErrorHandler,
		SkipPaths:    []string{},
	}
}

func defaultTimeoutErrorHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	w.WriteHeader(http.StatusRequestTimeout)

	json.NewEncoder(w).Encode(map[string]any{
		"error":   "request timeout",
		"message": "the request took too long to process",
	})
}

// timeoutWriter silences handler writes once the deadline response has been
// sent, so the abandoned goroutine cannot interleave bytes with the 408.
type timeoutWriter struct {
	http.ResponseWriter
	mu       sync.Mutex
	timedOut bool
	wrote    bool
}

func (tw *timeoutWriter) WriteHeader(code int) {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	if tw.timedOut {
		return
	}
	tw.wrote = true
	tw.ResponseWriter.WriteHeader(code)
}

func (tw *timeoutWriter) Write(data []byte) (int, error) {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	if tw.timedOut {
		return len(data), nil
	}
	tw.wrote = true
	return tw.ResponseWriter.Write(data)
}

// markTimedOut flips the writer into discard mode. Reports whether the
// handler had already written; in that case the 408 must not be sent.
func (tw *timeoutWriter) markTimedOut() bool {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	tw.timedOut = true
	return tw.wrote
}

// Timeout returns a middleware that bounds handler wall time. When the
// deadline passes the client receives a 408 and the request context is
// canceled so downstream work can stop.
func Timeout(config *TimeoutConfig) func(next http.Handler) http.Handler {
	if config == nil {
		config = DefaultTimeoutConfig()
	}

	// Set defaults
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.ErrorHandler == nil {
		config.ErrorHandler = defaultTimeoutErrorHandler
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	logger.Debug("timeout middleware initialized",
		"timeout", config.Timeout.String(),
		"skip_paths_count", len(config.SkipPaths),
	)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if config.Skipper != nil && config.Skipper(r) {
				next.ServeHTTP(w, r)
				return
			}

			for _, path := range config.SkipPaths {
				if r.URL.Path == path {
					next.ServeHTTP(w, r)
					return
				}
			}

			ctx, cancel := context.WithTimeout(r.Context(), config.Timeout)
			defer cancel()

			r = r.WithContext(ctx)
			tw := &timeoutWriter{ResponseWriter: w}

			done := make(chan struct{})
			panicked := make(chan any, 1)

			start := time.Now()

			go func() {
				defer func() {
					if p := recover(); p != nil {
						panicked <- p
						return
					}
					close(done)
				}()
				next.ServeHTTP(tw, r)
			}()

			select {
			case <-done:
				return
			case p := <-panicked:
				// Re-raise on the request goroutine so the recovery
				// middleware above sees it.
				panic(p)
			case <-ctx.Done():
				duration := time.Since(start)

				logger.Warn("request timeout",
					"method", r.Method,
					"path", r.URL.Path,
					"duration", duration.String(),
					"timeout", config.Timeout.String(),
				)

				if config.OnTimeout != nil {
					config.OnTimeout(r, duration)
				}

				if alreadyWrote := tw.markTimedOut(); alreadyWrote {
					// Response underway; nothing coherent left to send.
					return
				}

				config.ErrorHandler(w, r)
				return
			}
		})
	}
}
