// Package config provides configuration management for ctxasm.
// It supports loading configuration from environment variables and config files.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for ctxasm.
type Config struct {
	// Server configuration
	Server ServerConfig `mapstructure:"server"`

	// Logging configuration
	Log LogConfig `mapstructure:"log"`

	// Token codec configuration
	Codec CodecConfig `mapstructure:"codec"`

	// Context assembly configuration
	Assembly AssemblyConfig `mapstructure:"assembly"`

	// Security configuration
	Security SecurityConfig `mapstructure:"security"`

	// Tracing configuration
	Tracing TracingConfig `mapstructure:"tracing"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	HTTPPort            int           `mapstructure:"http_port"`
	RequestTimeout      time.Duration `mapstructure:"request_timeout"`
	MaxRequestBytes     int64         `mapstructure:"max_request_bytes"`
	CORSOrigins         []string      `mapstructure:"cors_origins"`
	ShutdownGracePeriod time.Duration `mapstructure:"shutdown_grace_period"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
	Output string `mapstructure:"output"` // stdout, stderr, file path
}

// CodecConfig holds tokenizer settings.
type CodecConfig struct {
	Encoding      string `mapstructure:"encoding"` // a tiktoken encoding, or mock
	Concurrency   int    `mapstructure:"concurrency"`
	MendBuffer    int    `mapstructure:"mend_buffer"`
	MendCacheSize int    `mapstructure:"mend_cache_size"`
	// CacheDir enables the persistent encode cache when set.
	CacheDir       string `mapstructure:"cache_dir"`
	CacheMinLength int    `mapstructure:"cache_min_length"`
}

// AssemblyConfig holds context assembly settings.
type AssemblyConfig struct {
	DefaultTokenBudget   int     `mapstructure:"default_token_budget"`
	Shunting             string  `mapstructure:"shunting"` // nearest, inDirection
	PreTrimCharsPerToken float64 `mapstructure:"pre_trim_chars_per_token"`
	StripComments        bool    `mapstructure:"strip_comments"`
	PrefetchConcurrency  int     `mapstructure:"prefetch_concurrency"`
}

// SecurityConfig holds security settings.
type SecurityConfig struct {
	APIKey       string `mapstructure:"api_key"`
	RateLimitRPS int    `mapstructure:"rate_limit_rps"` // 0 disables
}

// TracingConfig holds OpenTelemetry settings.
type TracingConfig struct {
	Enabled     bool    `mapstructure:"enabled"`
	Exporter    string  `mapstructure:"exporter"` // otlp-http, otlp-grpc, noop
	Endpoint    string  `mapstructure:"endpoint"`
	Insecure    bool    `mapstructure:"insecure"`
	SampleRate  float64 `mapstructure:"sample_rate"`
	Environment string  `mapstructure:"environment"`
}

// Default configuration values.
var defaults = map[string]interface{}{
	// Server defaults
	"server.http_port":             8080,
	"server.request_timeout":       "30s",
	"server.max_request_bytes":     int64(8 << 20), // 8MB
	"server.cors_origins":          []string{"*"},
	"server.shutdown_grace_period": "10s",

	// Log defaults
	"log.level":  "info",
	"log.format": "console",
	"log.output": "stdout",

	// Codec defaults
	"codec.encoding":         "cl100k_base",
	"codec.concurrency":      3,
	"codec.mend_buffer":      10,
	"codec.mend_cache_size":  4096,
	"codec.cache_dir":        "",
	"codec.cache_min_length": 256,

	// Assembly defaults
	"assembly.default_token_budget":     4000,
	"assembly.shunting":                 "nearest",
	"assembly.pre_trim_chars_per_token": 8.0,
	"assembly.strip_comments":           true,
	"assembly.prefetch_concurrency":     8,

	// Security defaults
	"security.api_key":        "",
	"security.rate_limit_rps": 0,

	// Tracing defaults
	"tracing.enabled":     false,
	"tracing.exporter":    "otlp-http",
	"tracing.endpoint":    "localhost:4318",
	"tracing.insecure":    true,
	"tracing.sample_rate": 1.0,
	"tracing.environment": "development",
}

// Load loads configuration from environment variables and optional config file.
// Environment variables are prefixed with CTXASM_ and use underscores.
// Example: CTXASM_SERVER_HTTP_PORT=8080
func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile is Load with an explicit config file. An empty path searches the
// default locations.
func LoadFile(path string) (*Config, error) {
	v := viper.New()

	for key, value := range defaults {
		v.SetDefault(key, value)
	}

	v.SetEnvPrefix("CTXASM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	} else {
		v.SetConfigName("ctxasm")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/ctxasm")
		v.AddConfigPath("$HOME/.ctxasm")

		// It's okay if config file doesn't exist
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("error reading config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.HTTPPort < 1 || c.Server.HTTPPort > 65535 {
		return fmt.Errorf("invalid HTTP port: %d", c.Server.HTTPPort)
	}
	if c.Server.MaxRequestBytes < 0 {
		return fmt.Errorf("invalid max request bytes: %d", c.Server.MaxRequestBytes)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Log.Level] {
		return fmt.Errorf("invalid log level: %s (valid: debug, info, warn, error)", c.Log.Level)
	}
	validFormats := map[string]bool{"json": true, "console": true}
	if !validFormats[c.Log.Format] {
		return fmt.Errorf("invalid log format: %s (valid: json, console)", c.Log.Format)
	}

	if c.Codec.Encoding == "" {
		return fmt.Errorf("codec encoding is required")
	}
	if c.Codec.Concurrency < 1 {
		return fmt.Errorf("codec concurrency must be at least 1: %d", c.Codec.Concurrency)
	}
	if c.Codec.MendBuffer < 1 {
		return fmt.Errorf("mend buffer must be at least 1: %d", c.Codec.MendBuffer)
	}
	if c.Codec.MendCacheSize < 0 {
		return fmt.Errorf("invalid mend cache size: %d", c.Codec.MendCacheSize)
	}

	if c.Assembly.DefaultTokenBudget < 1 {
		return fmt.Errorf("token budget too small: %d (minimum: 1)", c.Assembly.DefaultTokenBudget)
	}
	validShunting := map[string]bool{"nearest": true, "inDirection": true}
	if !validShunting[c.Assembly.Shunting] {
		return fmt.Errorf("invalid shunting mode: %s (valid: nearest, inDirection)", c.Assembly.Shunting)
	}
	if c.Assembly.PreTrimCharsPerToken < 0 {
		return fmt.Errorf("invalid pre-trim ratio: %v", c.Assembly.PreTrimCharsPerToken)
	}
	if c.Assembly.PrefetchConcurrency < 0 {
		return fmt.Errorf("invalid prefetch concurrency: %d", c.Assembly.PrefetchConcurrency)
	}

	if c.Security.RateLimitRPS < 0 {
		return fmt.Errorf("invalid rate limit: %d", c.Security.RateLimitRPS)
	}

	if c.Tracing.Enabled {
		validExporters := map[string]bool{"otlp-http": true, "otlp-grpc": true, "noop": true}
		if !validExporters[c.Tracing.Exporter] {
			return fmt.Errorf("invalid tracing exporter: %s (valid: otlp-http, otlp-grpc, noop)", c.Tracing.Exporter)
		}
	}

	return nil
}

// String returns a string representation of the config (without sensitive values).
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Server: {HTTP: %d}, Codec: {Encoding: %s, Concurrency: %d, Cache: %q}, Assembly: {Budget: %d, Shunting: %s}, Log: {Level: %s}, Auth: %t}",
		c.Server.HTTPPort,
		c.Codec.Encoding,
		c.Codec.Concurrency,
		c.Codec.CacheDir,
		c.Assembly.DefaultTokenBudget,
		c.Assembly.Shunting,
		c.Log.Level,
		c.Security.APIKey != "",
	)
}
