// Package middlewares holds the plain net/http middleware that wraps the
// dispatch pipeline at the host boundary: panic recovery, access logging,
// CORS, security headers, timeouts, and rate limiting. Everything here runs
// before a request snapshot exists, so handlers work on *http.Request
// directly.
package middlewares

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"

	"app_kernel/internal/request"
)

// RecoveryConfig holds configuration for the recovery middleware.
type RecoveryConfig struct {
	// Logger for structured logging (optional, uses slog.Default if nil)
	Logger *slog.Logger

	// Skipper defines a function to skip middleware
	Skipper func(r *http.Request) bool

	// DisableStackTrace disables stack capture on panic
	DisableStackTrace bool

	// RecoveryHandler writes the response after a panic
	RecoveryHandler func(w http.ResponseWriter, r *http.Request, err any, stack []byte)

	// Development exposes panic details in the response body.
	// Default: false
	Development bool
}

// DefaultRecoveryConfig returns a default recovery configuration.
func DefaultRecoveryConfig() *RecoveryConfig {
	return &RecoveryConfig{
		Logger:            nil, // Will use slog.Default()
		Skipper:           nil,
		DisableStackTrace: false,
		RecoveryHandler:   nil,
		Development:       false,
	}
}

// defaultRecoveryHandler answers with the same minimal error document the
// dispatch pipeline produces, so callers see one shape regardless of where
// the failure happened.
func defaultRecoveryHandler(w http.ResponseWriter, r *http.Request, err any, stack []byte) {
	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	w.WriteHeader(http.StatusInternalServerError)

	json.NewEncoder(w).Encode(map[string]any{
		"error":      "internal server error",
		"request_id": r.Header.Get(request.RequestIDHeader),
	})
}

// developmentRecoveryHandler adds the panic value and stack for local work.
func developmentRecoveryHandler(w http.ResponseWriter, r *http.Request, err any, stack []byte) {
	w.Header().Set("Content-Type", "application/json; charset=UTF-8")
	w.WriteHeader(http.StatusInternalServerError)

	json.NewEncoder(w).Encode(map[string]any{
		"error":      "internal server error",
		"request_id": r.Header.Get(request.RequestIDHeader),
		"detail":     fmt.Sprintf("panic: %v", err),
		"stack":      string(stack),
	})
}

// Recovery returns a middleware that recovers from panics anywhere below it.
// The dispatch pipeline already contains handler panics; this is the outer
// net for the middleware chain itself.
func Recovery(config *RecoveryConfig) func(next http.Handler) http.Handler {
	if config == nil {
		config = DefaultRecoveryConfig()
	}

	// Set defaults
	if config.RecoveryHandler == nil {
		if config.Development {
			config.RecoveryHandler = developmentRecoveryHandler
		} else {
			config.RecoveryHandler = defaultRecoveryHandler
		}
	}

	// Use provided logger or default
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	logger.Debug("recovery middleware initialized",
		"development", config.Development,
		"disable_stack_trace", config.DisableStackTrace,
	)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if config.Skipper != nil && config.Skipper(r) {
				next.ServeHTTP(w, r)
				return
			}

			defer func() {
				if err := recover(); err != nil {
					var stack []byte
					if !config.DisableStackTrace {
						stack = debug.Stack()
					}

					logAttrs := []any{
						"method", r.Method,
						"path", r.URL.Path,
						"client_ip", getClientIP(r),
						"user_agent", r.UserAgent(),
						"error", fmt.Sprintf("%v", err),
					}

					if requestID := r.Header.Get(request.RequestIDHeader); requestID != "" {
						logAttrs = append(logAttrs, "request_id", requestID)
					}

					if !config.DisableStackTrace {
						logAttrs = append(logAttrs, "stack", string(stack))
					}

					logger.Error("panic recovered", logAttrs...)

					config.RecoveryHandler(w, r, err, stack)
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
