// Package config loads the keyguard YAML configuration.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level keyguard configuration.
type Config struct {
	Store   StoreConfig   `yaml:"store"`
	Browser BrowserConfig `yaml:"browser"`
	Bridge  BridgeConfig  `yaml:"bridge"`
	Server  ServerConfig  `yaml:"server"`
	Sinks   []SinkConfig  `yaml:"sinks"`
}

// StoreConfig locates the persisted rules.
type StoreConfig struct {
	Path          string        `yaml:"path"`
	WatchInterval time.Duration `yaml:"watch_interval"`
}

// BrowserConfig controls Chrome lifecycle.
type BrowserConfig struct {
	Remote           string   `yaml:"remote"`
	Mode             string   `yaml:"mode"` // headless | headful
	XvfbDisplay      string   `yaml:"xvfb_display"`
	Stealth          *bool    `yaml:"stealth"`
	StartURL         string   `yaml:"start_url"`
	ResourceBlocking []string `yaml:"resource_blocking"`
}

// StealthEnabled reports the stealth setting, true when unset.
func (b BrowserConfig) StealthEnabled() bool {
	return b.Stealth == nil || *b.Stealth
}

// BridgeConfig controls script execution.
type BridgeConfig struct {
	Timeout time.Duration `yaml:"timeout"`
	// ExecutorURL points at another keyguard's /api/bridge. Empty runs
	// scripts in-process.
	ExecutorURL   string `yaml:"executor_url"`
	ExecutorToken string `yaml:"executor_token"`
}

// ServerConfig controls the HTTP API.
type ServerConfig struct {
	Addr string `yaml:"addr"`
	// TokenHash is a bcrypt hash of the bearer token. Empty disables auth.
	TokenHash string `yaml:"token_hash"`
}

// SinkConfig defines an output backend.
type SinkConfig struct {
	Type string `yaml:"type"` // stdout | webhook | log
	URL  string `yaml:"url"`  // for webhook
	Keys bool   `yaml:"keys"` // also emit keystroke records
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// LoadFile reads a YAML configuration file.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Store.Path == "" {
		c.Store.Path = "keyguard.db"
	}
	if c.Store.WatchInterval <= 0 {
		c.Store.WatchInterval = 200 * time.Millisecond
	}
	if c.Browser.Mode == "" {
		c.Browser.Mode = "headless"
	}
	if c.Browser.XvfbDisplay == "" {
		c.Browser.XvfbDisplay = ":99"
	}
	if c.Bridge.Timeout <= 0 {
		c.Bridge.Timeout = 30 * time.Second
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8790"
	}
	if len(c.Sinks) == 0 {
		c.Sinks = []SinkConfig{{Type: "stdout"}}
	}
}

func (c *Config) validate() error {
	switch c.Browser.Mode {
	case "headless", "headful":
	default:
		return fmt.Errorf("browser.mode %q: want headless or headful", c.Browser.Mode)
	}
	for i, s := range c.Sinks {
		switch s.Type {
		case "stdout", "log":
		case "webhook":
			if s.URL == "" {
				return fmt.Errorf("sinks[%d]: webhook needs a url", i)
			}
		default:
			return fmt.Errorf("sinks[%d]: unknown type %q", i, s.Type)
		}
	}
	return nil
}
