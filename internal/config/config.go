package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Defaults applied when config.toml omits a key.
const (
	DefaultSyncIntervalSecs   = 30
	DefaultRequestTimeoutSecs = 15
)

// Config represents the global ~/.syncbox/config.toml.
type Config struct {
	DefaultProfile     string `toml:"default_profile"`
	RemoteURL          string `toml:"remote_url"`
	SyncIntervalSecs   int    `toml:"sync_interval_secs"`
	RequestTimeoutSecs int    `toml:"request_timeout_secs"`
}

// Load reads config from the given path. Returns zero config and error if file missing.
func Load(path string) (*Config, error) {
	var cfg Config
	_, err := toml.DecodeFile(path, &cfg)
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

// SyncInterval returns the configured sync interval, or the default.
func (c *Config) SyncInterval() time.Duration {
	secs := c.SyncIntervalSecs
	if secs <= 0 {
		secs = DefaultSyncIntervalSecs
	}
	return time.Duration(secs) * time.Second
}

// RequestTimeout returns the configured per-request timeout, or the default.
func (c *Config) RequestTimeout() time.Duration {
	secs := c.RequestTimeoutSecs
	if secs <= 0 {
		secs = DefaultRequestTimeoutSecs
	}
	return time.Duration(secs) * time.Second
}
