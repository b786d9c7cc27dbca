package middlewares

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"
)

// CORSConfig holds configuration for the CORS middleware.
type CORSConfig struct {
	// AllowOrigins defines a list of origins that may access the resource.
	// Supports ["*"], exact origins, and wildcard subdomains ("*.example.com").
	// Default: ["*"]
	AllowOrigins []string

	// AllowMethods defines methods allowed when accessing the resource.
	// Default: GET, POST, PUT, PATCH, DELETE, HEAD, OPTIONS
	AllowMethods []string

	// AllowHeaders defines request headers that can be used.
	// If empty, preflight echoes back Access-Control-Request-Headers.
	AllowHeaders []string

	// ExposeHeaders defines response headers clients can access.
	ExposeHeaders []string

	// AllowCredentials indicates if credentials (cookies, auth) are allowed.
	// Cannot be combined with AllowOrigins = ["*"].
	AllowCredentials bool

	// MaxAge indicates how long (seconds) preflight results can be cached.
	// Default: 0 (no cache)
	MaxAge int

	// Logger for structured logging
	Logger *slog.Logger

	// Skipper defines a function to skip middleware for specific requests.
	Skipper func(r *http.Request) bool
}

// DefaultCORSConfig returns a permissive default suitable for development.
func DefaultCORSConfig() *CORSConfig {
	return &CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{
			http.MethodGet,
			http.MethodPost,
			http.MethodPut,
			http.MethodPatch,
			http.MethodDelete,
			http.MethodHead,
			http.MethodOptions,
		},
		AllowHeaders:     []string{},
		ExposeHeaders:    []string{},
		AllowCredentials: false,
		MaxAge:           0,
		Logger:           slog.Default(),
		Skipper:          nil,
	}
}

// CORS returns a Cross-Origin Resource Sharing middleware.
func CORS(config *CORSConfig) func(next http.Handler) http.Handler {
	if config == nil {
		config = DefaultCORSConfig()
	}

	// Set defaults
	if len(config.AllowOrigins) == 0 {
		config.AllowOrigins = []string{"*"}
	}
	if len(config.AllowMethods) == 0 {
		config.AllowMethods = []string{
			http.MethodGet,
			http.MethodPost,
			http.MethodPut,
			http.MethodPatch,
			http.MethodDelete,
			http.MethodHead,
			http.MethodOptions,
		}
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	// Credentials with a wildcard origin is rejected by browsers anyway.
	if config.AllowCredentials && len(config.AllowOrigins) == 1 && config.AllowOrigins[0] == "*" {
		config.Logger.Warn("CORS: AllowCredentials with wildcard origin (*) is insecure and will not work - specify exact origins")
		config.AllowCredentials = false
	}

	// Pre-compute joined header values
	allowMethods := strings.Join(config.AllowMethods, ", ")
	allowHeaders := strings.Join(config.AllowHeaders, ", ")
	exposeHeaders := strings.Join(config.ExposeHeaders, ", ")
	maxAge := strconv.Itoa(config.MaxAge)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if config.Skipper != nil && config.Skipper(r) {
				next.ServeHTTP(w, r)
				return
			}

			origin := r.Header.Get("Origin")

			// No Origin header = same-origin request, no CORS needed
			if origin == "" {
				next.ServeHTTP(w, r)
				return
			}

			allowedOrigin := getAllowedOrigin(origin, config.AllowOrigins)
			if allowedOrigin == "" {
				// Deny preflight outright; let actual requests pass so the
				// browser enforces the missing allow header.
				if r.Method == http.MethodOptions {
					config.Logger.Debug("CORS preflight denied", "origin", origin, "path", r.URL.Path)
					w.WriteHeader(http.StatusForbidden)
					return
				}
				config.Logger.Debug("CORS request from disallowed origin", "origin", origin, "path", r.URL.Path)
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("Access-Control-Allow-Origin", allowedOrigin)

			// Caches must key on Origin.
			w.Header().Add("Vary", "Origin")

			if config.AllowCredentials && allowedOrigin != "*" {
				w.Header().Set("Access-Control-Allow-Credentials", "true")
			}

			// Preflight
			if r.Method == http.MethodOptions {
				requestMethod := r.Header.Get("Access-Control-Request-Method")
				requestHeaders := r.Header.Get("Access-Control-Request-Headers")

				config.Logger.Debug("CORS preflight",
					"origin", origin,
					"method", requestMethod,
					"headers", requestHeaders,
				)

				w.Header().Set("Access-Control-Allow-Methods", allowMethods)

				if allowHeaders != "" {
					w.Header().Set("Access-Control-Allow-Headers", allowHeaders)
				} else if requestHeaders != "" {
					w.Header().Set("Access-Control-Allow-Headers", requestHeaders)
				}

				w.Header().Add("Vary", "Access-Control-Request-Method")
				w.Header().Add("Vary", "Access-Control-Request-Headers")

				if config.MaxAge > 0 {
					w.Header().Set("Access-Control-Max-Age", maxAge)
				}

				w.WriteHeader(http.StatusNoContent)
				return
			}

			// Actual request
			if exposeHeaders != "" {
				w.Header().Set("Access-Control-Expose-Headers", exposeHeaders)
			}

			next.ServeHTTP(w, r)
		})
	}
}

// getAllowedOrigin returns "*", the matched origin, or "" when denied.
func getAllowedOrigin(origin string, allowOrigins []string) string {
	for _, allowed := range allowOrigins {
		if allowed == "*" {
			return "*"
		}
		if allowed == origin {
			return origin
		}
		// Wildcard subdomains: *.example.com
		if strings.HasPrefix(allowed, "*.") {
			domain := allowed[1:]
			if strings.HasSuffix(origin, domain) {
				return origin
			}
		}
	}
	return ""
}
