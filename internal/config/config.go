// ABOUTME: Configuration loading and parsing for the keygate server
// ABOUTME: Supports YAML files with environment variable expansion and duration parsing

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/2389/keygate/internal/token"
)

// Defaults for the token configuration. Both are deliberately tunable:
// lifetime and skew tolerance are deployment policy, not protocol constants.
const (
	DefaultTokenTTL  = 15 * time.Minute
	DefaultClockSkew = 30 * time.Second
)

// Config represents the complete keygate server configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Tailscale TailscaleConfig `yaml:"tailscale"`
	Database  DatabaseConfig  `yaml:"database"`
	Tokens    TokenConfig     `yaml:"tokens"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds listener address configuration.
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr"`
}

// TailscaleConfig holds the optional tsnet listener configuration.
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Hostname  string `yaml:"hostname"`
	AuthKey   string `yaml:"auth_key"`
	StateDir  string `yaml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral"`
}

// DatabaseConfig holds registry database configuration.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// TokenConfig holds token lifetime and audience namespacing.
type TokenConfig struct {
	Namespace string        `yaml:"namespace"`
	TTL       time.Duration `yaml:"-"`
	ClockSkew time.Duration `yaml:"-"`

	// Raw string values for YAML unmarshaling
	TTLRaw       string `yaml:"ttl"`
	ClockSkewRaw string `yaml:"clock_skew"`
}

// LoggingConfig holds logging configuration.
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

	applyDefaults(&cfg)

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

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}

	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}

	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if c.Tokens.TTL <= 0 {
		return fmt.Errorf("tokens.ttl must be positive")
	}
	if c.Tokens.ClockSkew < 0 {
		return fmt.Errorf("tokens.clock_skew must not be negative")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Tokens.TTLRaw != "" {
		cfg.Tokens.TTL, err = time.ParseDuration(cfg.Tokens.TTLRaw)
		if err != nil {
			return fmt.Errorf("parsing tokens.ttl %q: %w", cfg.Tokens.TTLRaw, err)
		}
	}

	if cfg.Tokens.ClockSkewRaw != "" {
		cfg.Tokens.ClockSkew, err = time.ParseDuration(cfg.Tokens.ClockSkewRaw)
		if err != nil {
			return fmt.Errorf("parsing tokens.clock_skew %q: %w", cfg.Tokens.ClockSkewRaw, err)
		}
	}

	return nil
}

// applyDefaults fills in defaults for optional fields.
func applyDefaults(cfg *Config) {
	if cfg.Tokens.TTL == 0 {
		cfg.Tokens.TTL = DefaultTokenTTL
	}
	if cfg.Tokens.ClockSkew == 0 && cfg.Tokens.ClockSkewRaw == "" {
		cfg.Tokens.ClockSkew = DefaultClockSkew
	}
	if cfg.Tokens.Namespace == "" {
		cfg.Tokens.Namespace = token.DefaultNamespace
	}
}
