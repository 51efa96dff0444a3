// Package config loads runtime configuration from an optional app.env
// file plus environment variables, with env vars taking precedence.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds every runtime setting of the service.
type Config struct {
	// Upstream API.
	APIBaseURL      string `mapstructure:"API_BASE_URL"`
	APIKey          string `mapstructure:"API_KEY"`
	PageSize        int    `mapstructure:"PAGE_SIZE"`
	MaxAttempts     int    `mapstructure:"MAX_ATTEMPTS"`
	BaseDelayMs     int    `mapstructure:"BASE_DELAY_MS"`
	HTTPTimeoutSecs int    `mapstructure:"HTTP_TIMEOUT_SECONDS"`

	// Persistence and caching.
	PostgresDSN          string `mapstructure:"POSTGRES_DSN"`
	RedisAddr            string `mapstructure:"REDIS_ADDR"`
	CacheTTLSecs         int    `mapstructure:"CACHE_TTL_SECONDS"`
	ResponseCacheTTLSecs int    `mapstructure:"RESPONSE_CACHE_TTL_SECONDS"`

	// Orchestration.
	BatchSize           int    `mapstructure:"BATCH_SIZE"`
	UserConcurrency     int    `mapstructure:"USER_CONCURRENCY"`
	UserResolveStrategy string `mapstructure:"USER_RESOLVE_STRATEGY"`

	// Server and logging.
	Port      string `mapstructure:"PORT"`
	LogLevel  string `mapstructure:"LOG_LEVEL"`
	LogPretty bool   `mapstructure:"LOG_PRETTY"`
}

// CacheTTL returns the entity staleness window.
func (c Config) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLSecs) * time.Second
}

// ResponseCacheTTL returns the raw HTTP response memoization window.
func (c Config) ResponseCacheTTL() time.Duration {
	return time.Duration(c.ResponseCacheTTLSecs) * time.Second
}

// BaseDelay returns the initial retry backoff.
func (c Config) BaseDelay() time.Duration {
	return time.Duration(c.BaseDelayMs) * time.Millisecond
}

// HTTPTimeout returns the per-request HTTP timeout.
func (c Config) HTTPTimeout() time.Duration {
	return time.Duration(c.HTTPTimeoutSecs) * time.Second
}

var keys = []string{
	"API_BASE_URL", "API_KEY", "PAGE_SIZE", "MAX_ATTEMPTS", "BASE_DELAY_MS",
	"HTTP_TIMEOUT_SECONDS", "POSTGRES_DSN", "REDIS_ADDR", "CACHE_TTL_SECONDS",
	"RESPONSE_CACHE_TTL_SECONDS", "BATCH_SIZE", "USER_CONCURRENCY",
	"USER_RESOLVE_STRATEGY", "PORT", "LOG_LEVEL", "LOG_PRETTY",
}

// Load reads configuration from app.env in path (if present) and the
// environment. Required keys are validated before returning.
func Load(path string) (Config, error) {
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("app")
	v.SetConfigType("env")
	v.AutomaticEnv()

	// AutomaticEnv alone does not surface env vars through Unmarshal.
	for _, key := range keys {
		v.BindEnv(key)
	}

	v.SetDefault("PAGE_SIZE", 50)
	v.SetDefault("MAX_ATTEMPTS", 5)
	v.SetDefault("BASE_DELAY_MS", 500)
	v.SetDefault("HTTP_TIMEOUT_SECONDS", 30)
	v.SetDefault("CACHE_TTL_SECONDS", 900)
	v.SetDefault("RESPONSE_CACHE_TTL_SECONDS", 300)
	v.SetDefault("BATCH_SIZE", 500)
	v.SetDefault("USER_CONCURRENCY", 5)
	v.SetDefault("USER_RESOLVE_STRATEGY", "lookup")
	v.SetDefault("PORT", "8080")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_PRETTY", false)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := config.validate(); err != nil {
		return Config{}, err
	}
	return config, nil
}

func (c Config) validate() error {
	if c.APIBaseURL == "" {
		return fmt.Errorf("API_BASE_URL is required")
	}
	if c.APIKey == "" {
		return fmt.Errorf("API_KEY is required")
	}
	if c.PostgresDSN == "" {
		return fmt.Errorf("POSTGRES_DSN is required")
	}
	if s := c.UserResolveStrategy; s != "lookup" && s != "scan" {
		return fmt.Errorf("USER_RESOLVE_STRATEGY must be lookup or scan, got %q", s)
	}
	return nil
}
