package middlewares

import (
	"bufio"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"app_kernel/internal/request"
)

// responseWriter wraps http.ResponseWriter to capture status and size for the
// access log.
type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int64
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(data []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(data)
	rw.bytesWritten += int64(n)
	return n, err
}

// Hijack implements http.Hijacker for connection upgrades.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("the ResponseWriter doesn't support Hijacker")
	}
	return hijacker.Hijack()
}

// AccessLogConfig holds configuration options for the access log middleware.
// The dispatch pipeline writes its own per-request completion record; this
// log is the edge view, including requests the pipeline never sees (health
// probes, CORS preflights, rate-limited calls).
type AccessLogConfig struct {
	Logger             *slog.Logger // Structured logger instance
	SkipPaths          []string     // Paths to skip logging (e.g., health checks)
	IncludeUserAgent   bool         // Whether to include User-Agent header
	IncludeQueryParams bool         // Whether to include the raw query string
}

// DefaultAccessLogConfig returns production defaults: probes and metrics
// scrapes stay out of the log.
func DefaultAccessLogConfig() *AccessLogConfig {
	return &AccessLogConfig{
		Logger:             slog.Default(),
		SkipPaths:          []string{"/healthz", "/readyz", "/metrics", "/favicon.ico"},
		IncludeUserAgent:   true,
		IncludeQueryParams: true,
	}
}

// AccessLog creates an HTTP logging middleware that records one line per
// request with method, path, status, latency, and size.
func AccessLog(config *AccessLogConfig) func(http.Handler) http.Handler {
	if config == nil {
		config = DefaultAccessLogConfig()
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if shouldSkipPath(r.URL.Path, config.SkipPaths) {
				next.ServeHTTP(w, r)
				return
			}

			startTime := time.Now()

			wrappedWriter := &responseWriter{
				ResponseWriter: w,
				statusCode:     http.StatusOK,
			}

			next.ServeHTTP(wrappedWriter, r)

			duration := time.Since(startTime)
			fields := buildLogFields(r, wrappedWriter, duration, config)
			logRequest(config.Logger, wrappedWriter.statusCode, fields)
		})
	}
}

func shouldSkipPath(path string, skipPaths []string) bool {
	for _, skipPath := range skipPaths {
		if path == skipPath {
			return true
		}
	}
	return false
}

func buildLogFields(r *http.Request, rw *responseWriter, duration time.Duration, config *AccessLogConfig) []any {
	fields := []any{
		"method", r.Method,
		"path", r.URL.Path,
		"status", rw.statusCode,
		"latency_ms", duration.Milliseconds(),
		"client_ip", getClientIP(r),
		"host", r.Host,
		"response_size", rw.bytesWritten,
	}

	if requestID := r.Header.Get(request.RequestIDHeader); requestID != "" {
		fields = append(fields, "request_id", requestID)
	}

	if config.IncludeQueryParams && len(r.URL.RawQuery) > 0 {
		fields = append(fields, "query", r.URL.RawQuery)
	}

	if config.IncludeUserAgent {
		if userAgent := r.Header.Get("User-Agent"); userAgent != "" {
			fields = append(fields, "user_agent", userAgent)
		}
	}

	return fields
}

// logRequest picks the level from the response status.
func logRequest(logger *slog.Logger, statusCode int, fields []any) {
	switch {
	case statusCode >= 500:
		logger.Error("server error", fields...)
	case statusCode >= 400:
		logger.Warn("client error", fields...)
	default:
		logger.Info("request handled", fields...)
	}
}

// getClientIP favors proxy headers so deployments behind a load balancer
// still see the caller address, falling back to the socket peer.
func getClientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		parts := strings.Split(fwd, ",")
		return strings.TrimSpace(parts[0])
	}
	if real := r.Header.Get("X-Real-IP"); real != "" {
		return strings.TrimSpace(real)
	}
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
