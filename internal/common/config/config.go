// Package config provides configuration management for debugd.
// It supports loading configuration from environment variables, config files, and defaults.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration sections for debugd.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	NATS    NATSConfig    `mapstructure:"nats"`
	Logging LoggingConfig `mapstructure:"logging"`
	Debug   DebugConfig   `mapstructure:"debug"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	ReadTimeout  int    `mapstructure:"readTimeout"`  // in seconds
	WriteTimeout int    `mapstructure:"writeTimeout"` // in seconds
}

// NATSConfig holds NATS messaging configuration.
// An empty URL means the in-memory event bus is used instead.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	ClientID      string `mapstructure:"clientId"`
	MaxReconnects int    `mapstructure:"maxReconnects"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// DebugConfig holds debug engine configuration.
type DebugConfig struct {
	// RequestTimeout is the per-request timeout for adapter requests (seconds).
	RequestTimeout int `mapstructure:"requestTimeout"`

	// InitializeTimeout bounds the wait for the adapter's initialized event
	// during session bring-up (seconds).
	InitializeTimeout int `mapstructure:"initializeTimeout"`

	// DetectTimeout bounds adapter availability probes (seconds).
	DetectTimeout int `mapstructure:"detectTimeout"`

	// AdaptersFile is the path to a YAML file with custom adapter
	// registrations. Empty disables custom adapters.
	AdaptersFile string `mapstructure:"adaptersFile"`

	// WatchAdaptersFile enables hot reload of the custom adapters file.
	WatchAdaptersFile bool `mapstructure:"watchAdaptersFile"`
}

// ReadTimeoutDuration returns the read timeout as a time.Duration.
func (s *ServerConfig) ReadTimeoutDuration() time.Duration {
	return time.Duration(s.ReadTimeout) * time.Second
}

// WriteTimeoutDuration returns the write timeout as a time.Duration.
func (s *ServerConfig) WriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

// RequestTimeoutDuration returns the per-request timeout as a time.Duration.
func (d *DebugConfig) RequestTimeoutDuration() time.Duration {
	return time.Duration(d.RequestTimeout) * time.Second
}

// InitializeTimeoutDuration returns the initialize timeout as a time.Duration.
func (d *DebugConfig) InitializeTimeoutDuration() time.Duration {
	return time.Duration(d.InitializeTimeout) * time.Second
}

// DetectTimeoutDuration returns the detection probe timeout as a time.Duration.
func (d *DebugConfig) DetectTimeoutDuration() time.Duration {
	return time.Duration(d.DetectTimeout) * time.Second
}

// detectDefaultLogFormat returns the appropriate log format based on environment.
// Returns "json" if running in Kubernetes or other production environments.
// Returns "text" for terminal/development use (human-readable console format).
func detectDefaultLogFormat() string {
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}

	if env := os.Getenv("DEBUGD_ENV"); env == "production" || env == "prod" {
		return "json"
	}

	return "text"
}

// setDefaults configures default values for all configuration options.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8085)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 30)

	// NATS defaults - empty URL means use in-memory event bus
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.clientId", "debugd")
	v.SetDefault("nats.maxReconnects", 10)

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stdout")

	// Debug engine defaults
	v.SetDefault("debug.requestTimeout", 30)
	v.SetDefault("debug.initializeTimeout", 15)
	v.SetDefault("debug.detectTimeout", 5)
	v.SetDefault("debug.adaptersFile", "")
	v.SetDefault("debug.watchAdaptersFile", true)
}

// Load reads configuration from environment variables, config file, and defaults.
// Environment variables use the prefix DEBUGD_ with snake_case naming.
// Config file should be named config.yaml and placed in the current directory or /etc/debugd/.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified path or default locations.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	// Configure environment variables
	v.SetEnvPrefix("DEBUGD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit bindings for snake_case env vars (camelCase config keys).
	// AutomaticEnv does not handle camelCase to SNAKE_CASE conversion.
	_ = v.BindEnv("debug.requestTimeout", "DEBUGD_DEBUG_REQUEST_TIMEOUT")
	_ = v.BindEnv("debug.initializeTimeout", "DEBUGD_DEBUG_INITIALIZE_TIMEOUT")
	_ = v.BindEnv("debug.adaptersFile", "DEBUGD_DEBUG_ADAPTERS_FILE")

	// Configure config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/debugd/")

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// validate checks that all required configuration fields are set.
func validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: json, text")
	}

	if cfg.Debug.RequestTimeout <= 0 {
		errs = append(errs, "debug.requestTimeout must be positive")
	}
	if cfg.Debug.InitializeTimeout <= 0 {
		errs = append(errs, "debug.initializeTimeout must be positive")
	}
	if cfg.Debug.DetectTimeout <= 0 {
		errs = append(errs, "debug.detectTimeout must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}

	return nil
}
