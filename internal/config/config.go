package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the global ~/.chatsync/config.toml.
type Config struct {
	DefaultProfile string `toml:"default_profile"`

	Backend Backend `toml:"backend"`
	Viewer  Viewer  `toml:"viewer"`
	Engine  Engine  `toml:"engine"`
}

// Backend holds the remote messaging backend endpoints.
type Backend struct {
	BaseURL string `toml:"base_url"`
	WSURL   string `toml:"ws_url"`
}

// Viewer identifies the local user whose perspective derived values
// (unread counts, read receipts) are computed from.
type Viewer struct {
	ID   string `toml:"id"`
	Name string `toml:"name"`
}

// Engine holds reconciliation tuning knobs.
type Engine struct {
	// OrphanTTLMs bounds how long an event referencing an unknown chat
	// or message is buffered before being dropped.
	OrphanTTLMs int64 `toml:"orphan_ttl_ms"`
	// OrphanCap bounds how many orphan events are buffered at once.
	OrphanCap int `toml:"orphan_cap"`
	// MetricsAddr, when non-empty, exposes prometheus metrics on this
	// listen address.
	MetricsAddr string `toml:"metrics_addr"`
}

// Defaults applied when the config file omits engine knobs.
const (
	DefaultOrphanTTLMs = 30_000
	DefaultOrphanCap   = 512
)

// Load reads config from the given path.
func Load(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
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

// Validate checks the fields the engine cannot run without.
func (c *Config) Validate() error {
	if c.Viewer.ID == "" {
		return fmt.Errorf("config: viewer.id is required")
	}
	if c.Backend.BaseURL == "" {
		return fmt.Errorf("config: backend.base_url is required")
	}
	if c.Backend.WSURL == "" {
		return fmt.Errorf("config: backend.ws_url is required")
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Engine.OrphanTTLMs <= 0 {
		c.Engine.OrphanTTLMs = DefaultOrphanTTLMs
	}
	if c.Engine.OrphanCap <= 0 {
		c.Engine.OrphanCap = DefaultOrphanCap
	}
}
