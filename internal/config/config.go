package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied to any field the file leaves empty.
const (
	DefaultReconnectDelay = 3 * time.Second
	DefaultMaxAttempts    = 5
	DefaultPollInterval   = time.Second
	DefaultLogLevel       = "info"
)

// Config is ~/.forgelive/config.yaml.
type Config struct {
	Server    string          `yaml:"server"`
	Token     string          `yaml:"token,omitempty"`
	Identity  IdentityConfig  `yaml:"identity,omitempty"`
	Reconnect ReconnectConfig `yaml:"reconnect,omitempty"`
	Export    ExportConfig    `yaml:"export,omitempty"`
	Cache     CacheConfig     `yaml:"cache,omitempty"`
	Logging   LoggingConfig   `yaml:"logging,omitempty"`
}

// IdentityConfig overrides the identity read from the token. Any field left
// empty falls back to the token's claims.
type IdentityConfig struct {
	UserID   int64  `yaml:"user_id,omitempty"`
	Username string `yaml:"username,omitempty"`
	Email    string `yaml:"email,omitempty"`
}

type ReconnectConfig struct {
	Delay       time.Duration `yaml:"delay,omitempty"`
	MaxAttempts int           `yaml:"max_attempts,omitempty"`
}

type ExportConfig struct {
	PollInterval time.Duration `yaml:"poll_interval,omitempty"`
}

type CacheConfig struct {
	Path string `yaml:"path,omitempty"` // "off" disables the cache
}

type LoggingConfig struct {
	Level string `yaml:"level,omitempty"`
	File  string `yaml:"file,omitempty"`
}

// Load reads the config at path. A missing file is not an error: defaults
// plus environment overrides are returned so the CLI works from env alone.
func Load(path string) (*Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("FORGE_SERVER"); v != "" {
		cfg.Server = v
	}
	if v := os.Getenv("FORGE_TOKEN"); v != "" {
		cfg.Token = v
	}
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Read parses the file at path as written, without defaults, environment
// overrides or validation. A missing file yields an empty config.
func Read(path string) (*Config, error) {
	cfg := &Config{}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Reconnect.Delay <= 0 {
		c.Reconnect.Delay = DefaultReconnectDelay
	}
	if c.Reconnect.MaxAttempts <= 0 {
		c.Reconnect.MaxAttempts = DefaultMaxAttempts
	}
	if c.Export.PollInterval <= 0 {
		c.Export.PollInterval = DefaultPollInterval
	}
	if c.Logging.Level == "" {
		c.Logging.Level = DefaultLogLevel
	}
	if c.Cache.Path == "" {
		if dir, err := Dir(); err == nil {
			c.Cache.Path = filepath.Join(dir, "cache.db")
		}
	}
	c.Cache.Path = ExpandHome(c.Cache.Path)
	c.Logging.File = ExpandHome(c.Logging.File)
}

// Validate checks the fields needed to reach a server.
func (c *Config) Validate() error {
	if c.Server == "" {
		return fmt.Errorf("server is required (set it in the config file or FORGE_SERVER)")
	}
	u, err := url.Parse(c.Server)
	if err != nil {
		return fmt.Errorf("server: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("server must be an http or https URL, got %q", c.Server)
	}
	if u.Host == "" {
		return fmt.Errorf("server %q has no host", c.Server)
	}
	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn or error")
	}
	return nil
}

// APIURL is the REST root, e.g. https://host/api/v1.
func (c *Config) APIURL() string {
	return strings.TrimRight(c.Server, "/") + "/api/v1"
}

// WebSocketURL is the real-time root; the client appends /project/<id>.
func (c *Config) WebSocketURL() string {
	base := strings.TrimRight(c.Server, "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + "/ws"
}

// CacheEnabled reports whether the local cache should be opened.
func (c *Config) CacheEnabled() bool {
	return c.Cache.Path != "" && c.Cache.Path != "off"
}

// Save writes cfg to path, creating the parent directory.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
