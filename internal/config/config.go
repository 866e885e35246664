package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config represents the complete proxy configuration
type Config struct {
	Network NetworkConfig `yaml:"network"`
	Query   QueryConfig   `yaml:"query"`
	HTTP    HTTPConfig    `yaml:"http"`
	Logging LoggingConfig `yaml:"logging"`
}

// NetworkConfig contains the listener and backend addresses. Fields can
// be overridden with SQPROXY_* environment variables.
type NetworkConfig struct {
	BindAddress   string `yaml:"bind_address" env:"SQPROXY_BIND_ADDRESS"`
	BindPort      int    `yaml:"bind_port" env:"SQPROXY_BIND_PORT"`
	ServerAddress string `yaml:"server_address" env:"SQPROXY_SERVER_ADDRESS"`
	ServerPort    int    `yaml:"server_port" env:"SQPROXY_SERVER_PORT"`
}

// QueryConfig contains the backend polling cadence
type QueryConfig struct {
	ConnectionLifetime   float64 `yaml:"connection_lifetime"`    // seconds; also the per-query reply deadline
	InfoCacheLifetime    float64 `yaml:"info_cache_lifetime"`    // seconds
	PlayersCacheLifetime float64 `yaml:"players_cache_lifetime"` // seconds
	RulesCacheLifetime   float64 `yaml:"rules_cache_lifetime"`   // seconds
	RetryBackoff         float64 `yaml:"retry_backoff"`          // seconds between timeout-triggered restarts
	BufferSize           int     `yaml:"buffer_size"`
}

// HTTPConfig contains the monitoring HTTP server configuration
type HTTPConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads the configuration file, applies environment overrides and
// validates the result.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := env.Parse(&config.Network); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// Validate performs validation of the complete configuration
func (c *Config) Validate() error {
	if err := c.Network.Validate(); err != nil {
		return fmt.Errorf("network config: %w", err)
	}

	if err := c.Query.Validate(); err != nil {
		return fmt.Errorf("query config: %w", err)
	}

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates the network configuration
func (n *NetworkConfig) Validate() error {
	if n.BindAddress == "" {
		return fmt.Errorf("bind_address cannot be empty")
	}

	if n.BindPort < 1 || n.BindPort > 65535 {
		return fmt.Errorf("bind_port must be between 1 and 65535, got %d", n.BindPort)
	}

	if n.ServerAddress == "" {
		return fmt.Errorf("server_address cannot be empty")
	}

	if n.ServerPort < 1 || n.ServerPort > 65535 {
		return fmt.Errorf("server_port must be between 1 and 65535, got %d", n.ServerPort)
	}

	return nil
}

// Validate validates the query cadence configuration
func (q *QueryConfig) Validate() error {
	if q.ConnectionLifetime <= 0 {
		return fmt.Errorf("connection_lifetime must be positive, got %f", q.ConnectionLifetime)
	}

	for name, lifetime := range map[string]float64{
		"info_cache_lifetime":    q.InfoCacheLifetime,
		"players_cache_lifetime": q.PlayersCacheLifetime,
		"rules_cache_lifetime":   q.RulesCacheLifetime,
	} {
		if lifetime <= 0 {
			return fmt.Errorf("%s must be positive, got %f", name, lifetime)
		}
		if lifetime >= q.ConnectionLifetime {
			return fmt.Errorf("%s (%f) must be smaller than connection_lifetime (%f)",
				name, lifetime, q.ConnectionLifetime)
		}
	}

	if q.RetryBackoff <= 0 {
		return fmt.Errorf("retry_backoff must be positive, got %f", q.RetryBackoff)
	}

	if q.BufferSize < 1024 {
		return fmt.Errorf("buffer_size must be at least 1024 bytes, got %d", q.BufferSize)
	}

	return nil
}

// Validate validates the HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 1 || h.Port > 65535 {
			return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
		}

		if h.Address == "" {
			return fmt.Errorf("http address cannot be empty when HTTP is enabled")
		}
	}

	return nil
}

// Validate validates the logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	return nil
}

// BindAddr returns the listener address as "host:port".
func (n *NetworkConfig) BindAddr() string {
	return fmt.Sprintf("%s:%d", n.BindAddress, n.BindPort)
}

// ServerAddr returns the backend address as "host:port".
func (n *NetworkConfig) ServerAddr() string {
	return fmt.Sprintf("%s:%d", n.ServerAddress, n.ServerPort)
}

// GetConnectionLifetime returns the connection lifetime as a time.Duration
func (q *QueryConfig) GetConnectionLifetime() time.Duration {
	return time.Duration(q.ConnectionLifetime * float64(time.Second))
}

// GetInfoCacheLifetime returns the info polling interval as a time.Duration
func (q *QueryConfig) GetInfoCacheLifetime() time.Duration {
	return time.Duration(q.InfoCacheLifetime * float64(time.Second))
}

// GetPlayersCacheLifetime returns the players polling interval as a time.Duration
func (q *QueryConfig) GetPlayersCacheLifetime() time.Duration {
	return time.Duration(q.PlayersCacheLifetime * float64(time.Second))
}

// GetRulesCacheLifetime returns the rules polling interval as a time.Duration
func (q *QueryConfig) GetRulesCacheLifetime() time.Duration {
	return time.Duration(q.RulesCacheLifetime * float64(time.Second))
}

// GetRetryBackoff returns the restart backoff as a time.Duration
func (q *QueryConfig) GetRetryBackoff() time.Duration {
	return time.Duration(q.RetryBackoff * float64(time.Second))
}
