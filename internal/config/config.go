// ABOUTME: Configuration loading and parsing for parley
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete parley configuration
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	Limits    LimitsConfig    `yaml:"limits"`
	Ack       AckConfig       `yaml:"ack"`
	Redis     RedisConfig     `yaml:"redis"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Tailscale TailscaleConfig `yaml:"tailscale"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// RateConfig bounds one action kind to Max occurrences per window
type RateConfig struct {
	Max    int           `yaml:"max"`
	Window time.Duration `yaml:"-"`

	// Raw string value for YAML unmarshaling
	WindowRaw string `yaml:"window"`
}

// LimitsConfig holds message size and rate limit configuration
type LimitsConfig struct {
	MaxMessageLength int        `yaml:"max_message_length"`
	MessageRate      RateConfig `yaml:"message_rate"`
	TypingRate       RateConfig `yaml:"typing_rate"`
}

// AckConfig holds acknowledgment tracking configuration
type AckConfig struct {
	Timeout time.Duration `yaml:"-"`

	TimeoutRaw string `yaml:"timeout"`
}

// RedisConfig holds the optional cross-instance bus configuration
type RedisConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
	DB      int    `yaml:"db"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Hostname  string `yaml:"hostname"`
	AuthKey   string `yaml:"auth_key"`
	StateDir  string `yaml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// applyDefaults fills in values the file left unset.
func (c *Config) applyDefaults() {
	if c.Limits.MaxMessageLength == 0 {
		c.Limits.MaxMessageLength = 4000
	}
	if c.Limits.MessageRate.Max == 0 {
		c.Limits.MessageRate = RateConfig{Max: 10, Window: time.Minute}
	}
	if c.Limits.TypingRate.Max == 0 {
		c.Limits.TypingRate = RateConfig{Max: 5, Window: time.Second}
	}
	if c.Ack.Timeout == 0 {
		c.Ack.Timeout = 5 * time.Second
	}
	if c.Metrics.Enabled && c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	// Server address is required unless Tailscale is enabled
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}

	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}

	if c.Redis.Enabled && c.Redis.Addr == "" {
		return fmt.Errorf("redis.addr is required when redis is enabled")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Limits.MessageRate.WindowRaw != "" {
		cfg.Limits.MessageRate.Window, err = time.ParseDuration(cfg.Limits.MessageRate.WindowRaw)
		if err != nil {
			return fmt.Errorf("parsing limits.message_rate.window %q: %w", cfg.Limits.MessageRate.WindowRaw, err)
		}
	}

	if cfg.Limits.TypingRate.WindowRaw != "" {
		cfg.Limits.TypingRate.Window, err = time.ParseDuration(cfg.Limits.TypingRate.WindowRaw)
		if err != nil {
			return fmt.Errorf("parsing limits.typing_rate.window %q: %w", cfg.Limits.TypingRate.WindowRaw, err)
		}
	}

	if cfg.Ack.TimeoutRaw != "" {
		cfg.Ack.Timeout, err = time.ParseDuration(cfg.Ack.TimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing ack.timeout %q: %w", cfg.Ack.TimeoutRaw, err)
		}
	}

	return nil
}
