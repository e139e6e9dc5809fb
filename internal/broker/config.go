package broker

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete broker configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Session  SessionConfig  `yaml:"session"`
	Logging  LoggingConfig  `yaml:"logging"`
	Security SecurityConfig `yaml:"security"`
}

// ServerConfig contains HTTP server settings. The same listener carries both
// the device websocket endpoint and the internal dispatch API.
type ServerConfig struct {
	Address      string `yaml:"address"`
	ReadTimeout  string `yaml:"read_timeout"`
	WriteTimeout string `yaml:"write_timeout"`
}

// DatabaseConfig contains provisioning-store settings.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// SessionConfig contains per-device session settings.
type SessionConfig struct {
	// ExecuteTimeout bounds how long an execute call waits for the device.
	ExecuteTimeout string `yaml:"execute_timeout"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// SecurityConfig contains settings for authenticating internal API callers.
// Tokens are issued by the external auth service; the broker only validates.
type SecurityConfig struct {
	RequireAuth bool      `yaml:"require_auth"`
	JWT         JWTConfig `yaml:"jwt"`
}

// JWTConfig contains bearer-token validation settings.
type JWTConfig struct {
	SecretKey string `yaml:"secret_key"`
	Issuer    string `yaml:"issuer"`
}

// LoadConfig loads configuration from a YAML file.
func LoadConfig(filepath string) (*Config, error) {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	config.setDefaults()

	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// SaveConfig saves configuration to a YAML file.
func SaveConfig(config *Config, filepath string) error {
	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filepath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// NewDefaultConfig creates a default configuration.
func NewDefaultConfig() *Config {
	config := &Config{}
	config.setDefaults()
	return config
}

func (c *Config) setDefaults() {
	if c.Server.Address == "" {
		c.Server.Address = ":8080"
	}
	if c.Server.ReadTimeout == "" {
		c.Server.ReadTimeout = "15s"
	}
	if c.Server.WriteTimeout == "" {
		c.Server.WriteTimeout = "15s"
	}
	if c.Database.Path == "" {
		c.Database.Path = "beacon.db"
	}
	if c.Session.ExecuteTimeout == "" {
		c.Session.ExecuteTimeout = "10s"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "console"
	}
}

func (c *Config) validate() error {
	for name, value := range map[string]string{
		"server.read_timeout":     c.Server.ReadTimeout,
		"server.write_timeout":    c.Server.WriteTimeout,
		"session.execute_timeout": c.Session.ExecuteTimeout,
	} {
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid %s %q: %w", name, value, err)
		}
	}

	if c.Security.RequireAuth && c.Security.JWT.SecretKey == "" {
		return fmt.Errorf("security.jwt.secret_key is required when require_auth is enabled")
	}

	return nil
}

// ExecuteTimeout returns the parsed session execute timeout.
func (c *Config) ExecuteTimeout() time.Duration {
	d, err := time.ParseDuration(c.Session.ExecuteTimeout)
	if err != nil {
		return 10 * time.Second
	}
	return d
}

// ReadTimeout returns the parsed HTTP read timeout.
func (c *Config) ReadTimeout() time.Duration {
	d, err := time.ParseDuration(c.Server.ReadTimeout)
	if err != nil {
		return 15 * time.Second
	}
	return d
}

// WriteTimeout returns the parsed HTTP write timeout.
func (c *Config) WriteTimeout() time.Duration {
	d, err := time.ParseDuration(c.Server.WriteTimeout)
	if err != nil {
		return 15 * time.Second
	}
	return d
}
