package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// fileConfig mirrors Config with pointer fields so a YAML file only overrides
// the keys it actually names. Durations are written in whole seconds or
// minutes, matching the environment variable names.
type fileConfig struct {
	App struct {
		Version     *string  `yaml:"version"`
		Environment *string  `yaml:"environment"`
		Timezone    *string  `yaml:"timezone"`
		Encoding    *string  `yaml:"encoding"`
		Locales     []string `yaml:"locales"`
		Debug       *bool    `yaml:"debug"`
	} `yaml:"app"`

	Server struct {
		Host                   *string `yaml:"host"`
		Port                   *int    `yaml:"port"`
		ReadTimeoutSeconds     *int    `yaml:"read_timeout_seconds"`
		WriteTimeoutSeconds    *int    `yaml:"write_timeout_seconds"`
		IdleTimeoutSeconds     *int    `yaml:"idle_timeout_seconds"`
		ShutdownTimeoutSeconds *int    `yaml:"shutdown_timeout_seconds"`
		TLSCertFile            *string `yaml:"tls_cert_file"`
		TLSKeyFile             *string `yaml:"tls_key_file"`
	} `yaml:"server"`

	Security struct {
		AllowedHosts          []string `yaml:"allowed_hosts"`
		MaxParams             *int     `yaml:"max_params"`
		RequireUserAgent      *bool    `yaml:"require_user_agent"`
		BlockScriptExtensions *bool    `yaml:"block_script_extensions"`
		LoadAvgCeiling        *float64 `yaml:"load_avg_ceiling"`
	} `yaml:"security"`

	Logger struct {
		Level     *string `yaml:"level"`
		Format    *string `yaml:"format"`
		Directory *string `yaml:"directory"`
	} `yaml:"logger"`

	Database struct {
		URL      *string `yaml:"url"`
		MaxConns *int    `yaml:"max_conns"`
		MinConns *int    `yaml:"min_conns"`
	} `yaml:"database"`

	Redis struct {
		Addr     *string `yaml:"addr"`
		Password *string `yaml:"password"`
		DB       *int    `yaml:"db"`
	} `yaml:"redis"`

	Session struct {
		CookieName *string `yaml:"cookie_name"`
		TTLMinutes *int    `yaml:"ttl_minutes"`
		MaxPerUser *int    `yaml:"max_per_user"`
		Secure     *bool   `yaml:"secure"`
	} `yaml:"session"`

	Cache struct {
		Prefix            *string `yaml:"prefix"`
		DefaultTTLSeconds *int    `yaml:"default_ttl_seconds"`
	} `yaml:"cache"`

	RateLimit struct {
		Enabled           *bool    `yaml:"enabled"`
		RequestsPerSecond *float64 `yaml:"requests_per_second"`
		Burst             *int     `yaml:"burst"`
		CleanupMinutes    *int     `yaml:"cleanup_minutes"`
	} `yaml:"rate_limit"`

	Metrics struct {
		Enabled   *bool   `yaml:"enabled"`
		Namespace *string `yaml:"namespace"`
	} `yaml:"metrics"`

	Jobs struct {
		Workers           *int    `yaml:"workers"`
		QueueName         *string `yaml:"queue_name"`
		JobTimeoutSeconds *int    `yaml:"job_timeout_seconds"`
		MaxRetries        *int    `yaml:"max_retries"`
		PartitionCron     *string `yaml:"partition_cron"`
	} `yaml:"jobs"`
}

// applyFileOverlay reads the YAML file at path and copies every key it names
// onto config, leaving everything else at its current value.
func applyFileOverlay(config *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}

	var file fileConfig
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}

	setString(&config.App.Version, file.App.Version)
	setString(&config.App.Environment, file.App.Environment)
	setString(&config.App.Timezone, file.App.Timezone)
	setString(&config.App.Encoding, file.App.Encoding)
	if len(file.App.Locales) > 0 {
		config.App.Locales = file.App.Locales
	}
	setBool(&config.App.Debug, file.App.Debug)

	setString(&config.Server.Host, file.Server.Host)
	setInt(&config.Server.Port, file.Server.Port)
	setSeconds(&config.Server.ReadTimeout, file.Server.ReadTimeoutSeconds)
	setSeconds(&config.Server.WriteTimeout, file.Server.WriteTimeoutSeconds)
	setSeconds(&config.Server.IdleTimeout, file.Server.IdleTimeoutSeconds)
	setSeconds(&config.Server.ShutdownTimeout, file.Server.ShutdownTimeoutSeconds)
	setString(&config.Server.TLSCertFile, file.Server.TLSCertFile)
	setString(&config.Server.TLSKeyFile, file.Server.TLSKeyFile)

	if len(file.Security.AllowedHosts) > 0 {
		config.Security.AllowedHosts = file.Security.AllowedHosts
	}
	if file.Security.MaxParams != nil {
		config.Security.MaxParams = file.Security.MaxParams
	}
	if file.Security.RequireUserAgent != nil {
		config.Security.RequireUserAgent = file.Security.RequireUserAgent
	}
	if file.Security.BlockScriptExtensions != nil {
		config.Security.BlockScriptExtensions = file.Security.BlockScriptExtensions
	}
	if file.Security.LoadAvgCeiling != nil {
		config.Security.LoadAvgCeiling = file.Security.LoadAvgCeiling
	}

	setString(&config.Logger.Level, file.Logger.Level)
	setString(&config.Logger.Format, file.Logger.Format)
	setString(&config.Logger.Directory, file.Logger.Directory)

	setString(&config.Database.URL, file.Database.URL)
	if file.Database.MaxConns != nil {
		config.Database.MaxConns = int32(*file.Database.MaxConns)
	}
	if file.Database.MinConns != nil {
		config.Database.MinConns = int32(*file.Database.MinConns)
	}

	setString(&config.Redis.Addr, file.Redis.Addr)
	setString(&config.Redis.Password, file.Redis.Password)
	setInt(&config.Redis.DB, file.Redis.DB)

	setString(&config.Session.CookieName, file.Session.CookieName)
	setMinutes(&config.Session.TTL, file.Session.TTLMinutes)
	setInt(&config.Session.MaxPerUser, file.Session.MaxPerUser)
	setBool(&config.Session.Secure, file.Session.Secure)

	setString(&config.Cache.Prefix, file.Cache.Prefix)
	setSeconds(&config.Cache.DefaultTTL, file.Cache.DefaultTTLSeconds)

	setBool(&config.RateLimit.Enabled, file.RateLimit.Enabled)
	if file.RateLimit.RequestsPerSecond != nil {
		config.RateLimit.RequestsPerSecond = *file.RateLimit.RequestsPerSecond
	}
	setInt(&config.RateLimit.Burst, file.RateLimit.Burst)
	setMinutes(&config.RateLimit.CleanupInterval, file.RateLimit.CleanupMinutes)

	setBool(&config.Metrics.Enabled, file.Metrics.Enabled)
	setString(&config.Metrics.Namespace, file.Metrics.Namespace)

	setInt(&config.Jobs.Workers, file.Jobs.Workers)
	setString(&config.Jobs.QueueName, file.Jobs.QueueName)
	setSeconds(&config.Jobs.JobTimeout, file.Jobs.JobTimeoutSeconds)
	setInt(&config.Jobs.MaxRetries, file.Jobs.MaxRetries)
	setString(&config.Jobs.PartitionCron, file.Jobs.PartitionCron)

	return nil
}

func setString(dst *string, src *string) {
	if src != nil {
		*dst = *src
	}
}

func setInt(dst *int, src *int) {
	if src != nil {
		*dst = *src
	}
}

func setBool(dst *bool, src *bool) {
	if src != nil {
		*dst = *src
	}
}

func setSeconds(dst *time.Duration, src *int) {
	if src != nil {
		*dst = time.Duration(*src) * time.Second
	}
}

func setMinutes(dst *time.Duration, src *int) {
	if src != nil {
		*dst = time.Duration(*src) * time.Minute
	}
}
