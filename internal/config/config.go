// Package config loads sparkmon configuration from TOML with environment
// overrides, and supports hot reload of the runtime-adjustable settings.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

// Config is the main sparkmon configuration.
type Config struct {
	// Endpoint is the WebSocket URL of the backend comm target.
	Endpoint string `toml:"endpoint"`
	// Visibility is the initial display mode: "shown" or "hidden".
	Visibility string `toml:"visibility"`

	Log     LogConfig     `toml:"log"`
	History HistoryConfig `toml:"history"`
	Notify  NotifyConfig  `toml:"notify"`
}

// LogConfig controls slog output.
type LogConfig struct {
	Level  string `toml:"level"`  // debug, info, warn, error
	Format string `toml:"format"` // text or json
}

// HistoryConfig bounds the correlated-event log.
type HistoryConfig struct {
	MaxEntries int    `toml:"max_entries"`
	MaxAge     string `toml:"max_age"` // duration string, e.g. "10m"
}

// NotifyConfig points at the per-project sink file.
type NotifyConfig struct {
	Enabled bool   `toml:"enabled"`
	File    string `toml:"file"` // relative to the project dir
}

// Default returns the built-in defaults.
func Default() *Config {
	return &Config{
		Endpoint:   "ws://127.0.0.1:8998/sparkmonitor",
		Visibility: "shown",
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		History: HistoryConfig{
			MaxEntries: 1000,
			MaxAge:     "10m",
		},
		Notify: NotifyConfig{
			Enabled: false,
			File:    ".sparkmon.yaml",
		},
	}
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "sparkmon", "config.toml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.toml"
	}
	return filepath.Join(home, ".config", "sparkmon", "config.toml")
}

// Load reads the config at path (DefaultPath when empty), layering
// env > TOML > defaults. A missing file is not an error.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath()
	}

	cfg := Default()

	if data, err := os.ReadFile(path); err == nil {
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, err
	}

	if v := os.Getenv("SPARKMON_ENDPOINT"); v != "" {
		cfg.Endpoint = v
	}
	if v := os.Getenv("SPARKMON_VISIBILITY"); v != "" {
		cfg.Visibility = v
	}
	if v := os.Getenv("SPARKMON_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("SPARKMON_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("SPARKMON_HISTORY_MAX"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.History.MaxEntries = n
		}
	}
	if v := os.Getenv("SPARKMON_NOTIFY_ENABLED"); v != "" {
		cfg.Notify.Enabled = v == "1" || v == "true"
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field values that have a closed set of options.
func (c *Config) Validate() error {
	switch c.Visibility {
	case "shown", "hidden":
	default:
		return fmt.Errorf("invalid visibility %q (want shown or hidden)", c.Visibility)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format %q (want text or json)", c.Log.Format)
	}
	if _, err := c.HistoryMaxAge(); err != nil {
		return err
	}
	return nil
}

// HistoryMaxAge parses the history max-age duration. Empty means the
// package default.
func (c *Config) HistoryMaxAge() (time.Duration, error) {
	if c.History.MaxAge == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(c.History.MaxAge)
	if err != nil {
		return 0, fmt.Errorf("invalid history.max_age %q: %w", c.History.MaxAge, err)
	}
	return d, nil
}
