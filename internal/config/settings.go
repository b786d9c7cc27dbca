// Package config loads and validates the application configuration. Values
// come from three layers: built-in defaults, an optional YAML file named by
// APP_CONFIG_FILE, and environment variables, each layer overriding the one
// below it.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/text/language"
)

// Config is the complete application configuration, one section per concern.
type Config struct {
	App       AppConfig
	Server    ServerConfig
	Security  SecurityConfig
	Logger    LoggerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Session   SessionConfig
	Cache     CacheConfig
	RateLimit RateLimitConfig
	Metrics   MetricsConfig
	Jobs      JobsConfig
}

// AppConfig holds application-level settings.
type AppConfig struct {
	Version     string
	Environment string // development, staging, production
	Timezone    string
	Encoding    string
	Locales     []string
	Debug       bool
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	TLSCertFile     string
	TLSKeyFile      string
}

// SecurityConfig holds the admission policy knobs. Nil pointer fields and an
// empty host list leave the corresponding admission rule switched off, and
// they stay nil all the way into the gate.
type SecurityConfig struct {
	AllowedHosts          []string
	MaxParams             *int
	RequireUserAgent      *bool
	BlockScriptExtensions *bool
	LoadAvgCeiling        *float64
}

// LoggerConfig holds structured-logging settings.
type LoggerConfig struct {
	Level     string // debug, info, warn, error
	Format    string // json or text
	Directory string // when set, logs also go to <dir>/app.log
}

// DatabaseConfig holds pgx pool settings.
type DatabaseConfig struct {
	URL               string
	MaxConns          int32
	MinConns          int32
	HealthCheckPeriod time.Duration
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	ConnectTimeout    time.Duration
	MaxRetries        int
	RetryDelay        time.Duration
}

// RedisConfig holds Redis connection settings. An empty Addr disables Redis;
// sessions, cache, and the job queue then run on their in-memory fallbacks.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// SessionConfig holds session cookie and store settings.
type SessionConfig struct {
	CookieName string
	TTL        time.Duration
	MaxPerUser int
	Secure     bool
}

// CacheConfig holds cache key and expiry settings.
type CacheConfig struct {
	Prefix     string
	DefaultTTL time.Duration
}

// RateLimitConfig holds token-bucket settings for the rate limit middleware.
type RateLimitConfig struct {
	Enabled           bool
	RequestsPerSecond float64
	Burst             int
	CleanupInterval   time.Duration
}

// MetricsConfig holds Prometheus settings.
type MetricsConfig struct {
	Enabled   bool
	Namespace string
}

// JobsConfig holds background worker and scheduler settings.
type JobsConfig struct {
	Workers       int
	QueueName     string
	JobTimeout    time.Duration
	MaxRetries    int
	PartitionCron string
}

// LoadConfig assembles the configuration: defaults first, then the optional
// YAML file named by APP_CONFIG_FILE, then environment variables on top. A
// missing .env file is tolerated; a named but unreadable config file is not.
func LoadConfig(logger *slog.Logger) (*Config, error) {
	// Load .env into the process environment (ignore error if absent).
	godotenv.Load()

	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("loading application configuration")

	config := defaultConfig()

	if path := os.Getenv("APP_CONFIG_FILE"); path != "" {
		if err := applyFileOverlay(config, path); err != nil {
			return nil, fmt.Errorf("applying config file %s: %w", path, err)
		}
		logger.Info("config file applied", "path", path)
	}

	loadAppConfig(&config.App, logger)
	loadServerConfig(&config.Server, logger)
	loadSecurityConfig(&config.Security)
	loadLoggerConfig(&config.Logger)
	if err := loadDatabaseConfig(&config.Database, logger); err != nil {
		return nil, fmt.Errorf("failed to load database config: %w", err)
	}
	loadRedisConfig(&config.Redis, logger)
	loadSessionConfig(&config.Session)
	loadCacheConfig(&config.Cache)
	loadRateLimitConfig(&config.RateLimit)
	loadMetricsConfig(&config.Metrics)
	loadJobsConfig(&config.Jobs)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger.Info("configuration loaded successfully",
		"environment", config.App.Environment,
		"version", config.App.Version,
		"port", config.Server.Port,
		"debug", config.App.Debug,
	)

	return config, nil
}

func defaultConfig() *Config {
	return &Config{
		App: AppConfig{
			Version:     "1.0.0",
			Environment: "development",
			Timezone:    "UTC",
			Encoding:    "UTF-8",
			Locales:     []string{"en"},
		},
		Server: ServerConfig{
			Host:            "",
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "json",
		},
		Database: DatabaseConfig{
			MaxConns:          10,
			MinConns:          2,
			HealthCheckPeriod: time.Minute,
			ConnectTimeout:    10 * time.Second,
			MaxRetries:        3,
			RetryDelay:        time.Second,
		},
		Session: SessionConfig{
			CookieName: "app_session",
			TTL:        24 * time.Hour,
			MaxPerUser: 5,
		},
		Cache: CacheConfig{
			Prefix:     "app_kernel",
			DefaultTTL: 5 * time.Minute,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 10,
			Burst:             20,
			CleanupInterval:   10 * time.Minute,
		},
		Metrics: MetricsConfig{
			Enabled:   true,
			Namespace: "app_kernel",
		},
		Jobs: JobsConfig{
			Workers:       4,
			QueueName:     "app_kernel:jobs",
			JobTimeout:    30 * time.Second,
			MaxRetries:    3,
			PartitionCron: "0 3 1 * *",
		},
	}
}

func loadAppConfig(cfg *AppConfig, logger *slog.Logger) {
	cfg.Version = getEnv("VERSION", cfg.Version)

	env := getEnv("ENV", "")
	if env == "" {
		logger.Warn("ENV not set, using default", "default", cfg.Environment)
	} else {
		cfg.Environment = env
	}

	cfg.Timezone = getEnv("APP_TIMEZONE", cfg.Timezone)
	cfg.Encoding = getEnv("APP_ENCODING", cfg.Encoding)
	if locales := os.Getenv("APP_LOCALES"); locales != "" {
		cfg.Locales = splitAndTrim(locales, ",")
	}
	if v := getEnvAsBoolPtr("APP_DEBUG"); v != nil {
		cfg.Debug = *v
	}
}

func loadServerConfig(cfg *ServerConfig, logger *slog.Logger) {
	cfg.Host = getEnv("HOST", cfg.Host)
	if port := os.Getenv("PORT"); port != "" {
		if parsed, err := strconv.Atoi(port); err == nil {
			cfg.Port = parsed
		} else {
			logger.Warn("PORT is not numeric, keeping previous value", "value", port, "port", cfg.Port)
		}
	}

	cfg.ReadTimeout = getEnvAsSeconds("SERVER_READ_TIMEOUT_SECONDS", cfg.ReadTimeout)
	cfg.WriteTimeout = getEnvAsSeconds("SERVER_WRITE_TIMEOUT_SECONDS", cfg.WriteTimeout)
	cfg.IdleTimeout = getEnvAsSeconds("SERVER_IDLE_TIMEOUT_SECONDS", cfg.IdleTimeout)
	cfg.ShutdownTimeout = getEnvAsSeconds("SERVER_SHUTDOWN_TIMEOUT_SECONDS", cfg.ShutdownTimeout)

	cfg.TLSCertFile = getEnv("TLS_CERT_FILE", cfg.TLSCertFile)
	cfg.TLSKeyFile = getEnv("TLS_KEY_FILE", cfg.TLSKeyFile)
	if cfg.TLSCertFile != "" && cfg.TLSKeyFile != "" {
		logger.Info("TLS enabled", "cert_file", cfg.TLSCertFile, "key_file", cfg.TLSKeyFile)
	}
}

func loadSecurityConfig(cfg *SecurityConfig) {
	if hosts := os.Getenv("SECURITY_ALLOWED_HOSTS"); hosts != "" {
		cfg.AllowedHosts = splitAndTrim(hosts, ",")
	}
	if v := getEnvAsIntPtr("SECURITY_MAX_PARAMS"); v != nil {
		cfg.MaxParams = v
	}
	if v := getEnvAsBoolPtr("SECURITY_REQUIRE_USER_AGENT"); v != nil {
		cfg.RequireUserAgent = v
	}
	if v := getEnvAsBoolPtr("SECURITY_BLOCK_SCRIPT_EXTENSIONS"); v != nil {
		cfg.BlockScriptExtensions = v
	}
	if v := getEnvAsFloatPtr("SECURITY_LOAD_AVG_CEILING"); v != nil {
		cfg.LoadAvgCeiling = v
	}
}

func loadLoggerConfig(cfg *LoggerConfig) {
	cfg.Level = strings.ToLower(getEnv("LOG_LEVEL", cfg.Level))
	cfg.Format = strings.ToLower(getEnv("LOG_FORMAT", cfg.Format))
	cfg.Directory = getEnv("LOG_DIR", cfg.Directory)
}

func loadDatabaseConfig(cfg *DatabaseConfig, logger *slog.Logger) error {
	cfg.URL = getEnv("DB_URL", cfg.URL)
	if cfg.URL == "" {
		return fmt.Errorf("DB_URL environment variable is required")
	}

	cfg.MaxConns = getEnvAsInt32("DB_MAX_CONNS", cfg.MaxConns)
	cfg.MinConns = getEnvAsInt32("DB_MIN_CONNS", cfg.MinConns)
	cfg.HealthCheckPeriod = getEnvAsSeconds("DB_HEALTH_CHECK_PERIOD_SECONDS", cfg.HealthCheckPeriod)
	cfg.MaxConnLifetime = getEnvAsMinutes("DB_MAX_CONN_LIFETIME_MINUTES", cfg.MaxConnLifetime)
	cfg.MaxConnIdleTime = getEnvAsMinutes("DB_MAX_CONN_IDLE_TIME_MINUTES", cfg.MaxConnIdleTime)

	logger.Debug("database config loaded",
		"max_conns", cfg.MaxConns,
		"min_conns", cfg.MinConns,
	)
	return nil
}

func loadRedisConfig(cfg *RedisConfig, logger *slog.Logger) {
	cfg.Addr = getEnv("REDIS_ADDR", cfg.Addr)
	cfg.Password = getEnv("REDIS_PASSWORD", cfg.Password)
	cfg.DB = getEnvAsInt("REDIS_DB", cfg.DB)

	if cfg.Addr == "" {
		logger.Warn("REDIS_ADDR not set, falling back to in-memory session, cache, and queue stores")
	}
}

func loadSessionConfig(cfg *SessionConfig) {
	cfg.CookieName = getEnv("SESSION_COOKIE", cfg.CookieName)
	cfg.TTL = getEnvAsMinutes("SESSION_TTL_MINUTES", cfg.TTL)
	cfg.MaxPerUser = getEnvAsInt("SESSION_MAX_PER_USER", cfg.MaxPerUser)
	cfg.Secure = getEnvAsBool("SESSION_SECURE", cfg.Secure)
}

func loadCacheConfig(cfg *CacheConfig) {
	cfg.Prefix = getEnv("CACHE_PREFIX", cfg.Prefix)
	cfg.DefaultTTL = getEnvAsSeconds("CACHE_DEFAULT_TTL_SECONDS", cfg.DefaultTTL)
}

func loadRateLimitConfig(cfg *RateLimitConfig) {
	cfg.Enabled = getEnvAsBool("RATE_LIMIT_ENABLED", cfg.Enabled)
	cfg.RequestsPerSecond = getEnvAsFloat("RATE_LIMIT_RPS", cfg.RequestsPerSecond)
	cfg.Burst = getEnvAsInt("RATE_LIMIT_BURST", cfg.Burst)
	cfg.CleanupInterval = getEnvAsMinutes("RATE_LIMIT_CLEANUP_MINUTES", cfg.CleanupInterval)
}

func loadMetricsConfig(cfg *MetricsConfig) {
	cfg.Enabled = getEnvAsBool("METRICS_ENABLED", cfg.Enabled)
	cfg.Namespace = getEnv("METRICS_NAMESPACE", cfg.Namespace)
}

func loadJobsConfig(cfg *JobsConfig) {
	cfg.Workers = getEnvAsInt("JOBS_WORKERS", cfg.Workers)
	cfg.QueueName = getEnv("JOBS_QUEUE", cfg.QueueName)
	cfg.JobTimeout = getEnvAsSeconds("JOBS_TIMEOUT_SECONDS", cfg.JobTimeout)
	cfg.MaxRetries = getEnvAsInt("JOBS_MAX_RETRIES", cfg.MaxRetries)
	cfg.PartitionCron = getEnv("JOBS_PARTITION_CRON", cfg.PartitionCron)
}

// Helper functions

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return defaultVal
}

func getEnvAsInt32(key string, defaultVal int32) int32 {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return int32(parsed)
		}
	}
	return defaultVal
}

func getEnvAsFloat(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseFloat(val, 64); err == nil {
			return parsed
		}
	}
	return defaultVal
}

func getEnvAsBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		return val == "true" || val == "1" || val == "yes"
	}
	return defaultVal
}

func getEnvAsSeconds(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return time.Duration(parsed) * time.Second
		}
	}
	return defaultVal
}

func getEnvAsMinutes(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return time.Duration(parsed) * time.Minute
		}
	}
	return defaultVal
}

func getEnvAsIntPtr(key string) *int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return &parsed
		}
	}
	return nil
}

func getEnvAsBoolPtr(key string) *bool {
	if val := os.Getenv(key); val != "" {
		b := val == "true" || val == "1" || val == "yes"
		return &b
	}
	return nil
}

func getEnvAsFloatPtr(key string) *float64 {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseFloat(val, 64); err == nil {
			return &parsed
		}
	}
	return nil
}

func splitAndTrim(s, sep string) []string {
	if s == "" {
		return []string{}
	}
	parts := strings.Split(s, sep)
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

// IsDevelopment returns true if running in development environment.
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == "development"
}

// IsProduction returns true if running in production environment.
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

// ListenAddr returns the host:port the server binds.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// DefaultContentType derives the content type every fresh response starts
// with from the configured encoding.
func (c *Config) DefaultContentType() string {
	return "text/html; charset=" + c.App.Encoding
}

var logLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

// Validate checks the assembled configuration for values that would only fail
// later at runtime: bad ports, unknown log levels, unparseable timezones or
// locale tags.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port %d out of range", c.Server.Port)
	}
	if !logLevels[c.Logger.Level] {
		return fmt.Errorf("unknown log level %q", c.Logger.Level)
	}
	if c.Logger.Format != "json" && c.Logger.Format != "text" {
		return fmt.Errorf("unknown log format %q", c.Logger.Format)
	}
	if c.App.Encoding == "" {
		return fmt.Errorf("app encoding must not be empty")
	}
	if _, err := time.LoadLocation(c.App.Timezone); err != nil {
		return fmt.Errorf("invalid timezone %q: %w", c.App.Timezone, err)
	}
	for _, locale := range c.App.Locales {
		if _, err := language.Parse(locale); err != nil {
			return fmt.Errorf("invalid locale %q: %w", locale, err)
		}
	}
	if c.Database.URL == "" {
		return fmt.Errorf("database URL is required")
	}
	if c.RateLimit.Enabled && c.RateLimit.RequestsPerSecond <= 0 {
		return fmt.Errorf("rate limit enabled with non-positive rate %v", c.RateLimit.RequestsPerSecond)
	}
	if c.Jobs.Workers < 1 {
		return fmt.Errorf("at least one job worker is required, got %d", c.Jobs.Workers)
	}
	if c.Session.TTL <= 0 {
		return fmt.Errorf("session TTL must be positive, got %v", c.Session.TTL)
	}
	return nil
}
