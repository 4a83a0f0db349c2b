// Package config provides configuration management for the licenseward CLI
// and for hosts that prefer file-based engine setup.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// DefaultConfigDir returns the default config directory (~/.licenseward).
func DefaultConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home directory: %w", err)
	}
	return filepath.Join(home, ".licenseward"), nil
}

// DefaultConfigPath returns the default config file path
// (~/.licenseward/config.yml).
func DefaultConfigPath() (string, error) {
	dir, err := DefaultConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yml"), nil
}

// Config holds engine configuration. Environment variables prefixed
// LICENSEWARD_ override file values after load.
type Config struct {
	ServerURL   string `yaml:"server_url,omitempty" envconfig:"SERVER_URL"`
	LicenseKey  string `yaml:"license_key,omitempty" envconfig:"LICENSE_KEY"`
	ProductSlug string `yaml:"product_slug,omitempty" envconfig:"PRODUCT_SLUG"`

	AutoValidateInterval time.Duration `yaml:"auto_validate_interval,omitempty" envconfig:"AUTO_VALIDATE_INTERVAL"`
	HeartbeatInterval    time.Duration `yaml:"heartbeat_interval,omitempty" envconfig:"HEARTBEAT_INTERVAL"`

	MaxOfflineDays  int           `yaml:"max_offline_days,omitempty" envconfig:"MAX_OFFLINE_DAYS"`
	MaxClockSkew    time.Duration `yaml:"max_clock_skew,omitempty" envconfig:"MAX_CLOCK_SKEW"`
	OfflineFallback bool          `yaml:"offline_fallback,omitempty" envconfig:"OFFLINE_FALLBACK"`

	MaxRetries int           `yaml:"max_retries,omitempty" envconfig:"MAX_RETRIES"`
	RetryDelay time.Duration `yaml:"retry_delay,omitempty" envconfig:"RETRY_DELAY"`
}

// Validate checks that the configuration has the fields every operation
// needs.
func (c *Config) Validate() error {
	if c.ServerURL == "" {
		return errors.New("server_url is required")
	}
	return nil
}

// Load reads the configuration from path, then applies LICENSEWARD_*
// environment overrides. A missing file yields a config built from the
// environment alone.
func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := envconfig.Process("licenseward", &cfg); err != nil {
		return nil, fmt.Errorf("apply environment overrides: %w", err)
	}

	return &cfg, nil
}

// LoadDefault loads the configuration from the default path.
func LoadDefault() (*Config, error) {
	path, err := DefaultConfigPath()
	if err != nil {
		return nil, err
	}
	return Load(path)
}

// Save writes the configuration to path, creating directories as needed.
// File permissions are restricted: the license key is a credential.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}
