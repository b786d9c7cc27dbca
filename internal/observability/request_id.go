// Package observability bundles the operational surface of the host: request
// ID propagation, Prometheus collectors for the dispatch pipeline, and the
// liveness/readiness probes.
package observability

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/http"

	"app_kernel/internal/request"
)

// contextKey is a private type for context keys to avoid collisions.
type contextKey string

// RequestIDKey is the context key carrying the request ID.
const RequestIDKey contextKey = "request_id"

// RequestIDConfig holds configuration for the request ID middleware.
type RequestIDConfig struct {
	// Logger for structured logging (optional, uses slog.Default if nil)
	Logger *slog.Logger

	// Header name for the request ID
	// Default: X-Request-ID
	Header string

	// Generator creates new request IDs
	// Default: random 16-byte hex string
	Generator func() string

	// Skipper defines a function to skip middleware
	Skipper func(r *http.Request) bool
}

// DefaultRequestIDConfig returns a default request ID configuration.
func DefaultRequestIDConfig() *RequestIDConfig {
	return &RequestIDConfig{
		Header:    request.RequestIDHeader,
		Generator: defaultRequestIDGenerator,
	}
}

func defaultRequestIDGenerator() string {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "unidentified-request"
	}
	return hex.EncodeToString(b)
}

// RequestID assigns every request an ID before the pipeline runs. The ID is
// written back onto the inbound header so the request snapshot captures the
// same value, stamped on the response, and stored in the context for code
// that only sees a context.
func RequestID(config *RequestIDConfig) func(next http.Handler) http.Handler {
	if config == nil {
		config = DefaultRequestIDConfig()
	}

	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	// Set defaults
	if config.Header == "" {
		config.Header = request.RequestIDHeader
	}
	if config.Generator == nil {
		config.Generator = defaultRequestIDGenerator
	}

	logger.Debug("request ID middleware initialized", "header", config.Header)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if config.Skipper != nil && config.Skipper(r) {
				next.ServeHTTP(w, r)
				return
			}

			// Honor an inbound ID so traces span proxies.
			requestID := r.Header.Get(config.Header)
			if requestID == "" {
				requestID = config.Generator()
				r.Header.Set(config.Header, requestID)
			}

			w.Header().Set(config.Header, requestID)

			ctx := context.WithValue(r.Context(), RequestIDKey, requestID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetRequestID retrieves the request ID from a context, or "".
func GetRequestID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if requestID, ok := ctx.Value(RequestIDKey).(string); ok {
		return requestID
	}
	return ""
}

// WithRequestID returns a context carrying the given request ID.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, RequestIDKey, requestID)
}
