// ABOUTME: Configuration loading for the keygate client
// ABOUTME: Loads TOML config from XDG path with environment variable expansion

package main

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/2389/keygate/internal/token"
)

type Config struct {
	Server ServerConfig `toml:"server"`
	Device DeviceConfig `toml:"device"`
	Tokens TokensConfig `toml:"tokens"`
}

type ServerConfig struct {
	URL string `toml:"url"`
}

type DeviceConfig struct {
	// StateDir holds the durable key material and session state.
	StateDir string `toml:"state_dir"`
	Label    string `toml:"label"`
}

type TokensConfig struct {
	Namespace string `toml:"namespace"`
	TTL       string `toml:"ttl"`
	Skew      string `toml:"skew"`

	ttl  time.Duration
	skew time.Duration
}

// defaultConfigPath returns the client config location.
// Priority: KEYGATE_CLIENT_CONFIG env var > XDG_CONFIG_HOME/keygate/client.toml > ~/.config/keygate/client.toml
func defaultConfigPath() string {
	if envPath := os.Getenv("KEYGATE_CLIENT_CONFIG"); envPath != "" {
		return envPath
	}
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "client.toml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}
	return filepath.Join(configDir, "keygate", "client.toml")
}

// defaultStateDir returns the client state location.
func defaultStateDir() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "state" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}
	return filepath.Join(dataDir, "keygate", "client")
}

// loadConfig reads config from the given path, expanding environment
// variables. A missing file yields the defaults; only server.url has no
// usable default.
func loadConfig(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	if err == nil {
		expanded := expandEnvVars(string(data))
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if envURL := os.Getenv("KEYGATE_URL"); envURL != "" {
		cfg.Server.URL = envURL
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Device.StateDir == "" {
		c.Device.StateDir = defaultStateDir()
	}
	if c.Tokens.Namespace == "" {
		c.Tokens.Namespace = token.DefaultNamespace
	}
	if c.Tokens.TTL == "" {
		c.Tokens.TTL = "15m"
	}
	if c.Tokens.Skew == "" {
		c.Tokens.Skew = "30s"
	}
}

// expandEnvVars replaces ${VAR} with environment variable values.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)
	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := strings.TrimSuffix(strings.TrimPrefix(match, "${"), "}")
		return os.Getenv(varName)
	})
}

// Validate checks that required config fields are present and valid.
func (c *Config) Validate() error {
	if c.Server.URL == "" {
		return fmt.Errorf("server.url is required (or set KEYGATE_URL)")
	}
	u, err := url.Parse(c.Server.URL)
	if err != nil {
		return fmt.Errorf("server.url is not a valid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("server.url must use http or https scheme")
	}

	c.Tokens.ttl, err = time.ParseDuration(c.Tokens.TTL)
	if err != nil {
		return fmt.Errorf("tokens.ttl is not a valid duration: %w", err)
	}
	c.Tokens.skew, err = time.ParseDuration(c.Tokens.Skew)
	if err != nil {
		return fmt.Errorf("tokens.skew is not a valid duration: %w", err)
	}
	return nil
}
