package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	xdgAppName = "mirrorsync"
	configFile = "config.yaml"
)

type Config struct {
	// Database is the SQLite file holding items, containers and account links.
	Database string `yaml:"database"`
	// Credentials is the OAuth client secrets file downloaded from the Google console.
	Credentials string       `yaml:"credentials"`
	Log         LogConfig    `yaml:"log"`
	Remote      RemoteConfig `yaml:"remote"`
	Sync        SyncConfig   `yaml:"sync"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	// File enables rotating file output; stderr is used when empty.
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

type RemoteConfig struct {
	Timeout     time.Duration `yaml:"timeout"`
	MaxAttempts int           `yaml:"max_attempts"`
	BaseDelay   time.Duration `yaml:"base_delay"`
	// Endpoint overrides, mostly for tests and proxies.
	TasksEndpoint    string `yaml:"tasks_endpoint,omitempty"`
	CalendarEndpoint string `yaml:"calendar_endpoint,omitempty"`
	TokenURL         string `yaml:"token_url,omitempty"`
}

type SyncConfig struct {
	// Lookback and Lookahead bound the window of a first (cursorless) pull.
	Lookback  time.Duration `yaml:"lookback"`
	Lookahead time.Duration `yaml:"lookahead"`
}

func GetConfigDir() (string, error) {
	xdgHome, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(xdgHome, ".config", xdgAppName), nil
}

func GetConfigPath() (string, error) {
	dir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, configFile), nil
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	dir, err := GetConfigDir()
	if err != nil {
		dir = "."
	}
	return &Config{
		Database:    filepath.Join(dir, "mirrorsync.db"),
		Credentials: filepath.Join(dir, "credentials.json"),
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Remote: RemoteConfig{
			Timeout:     30 * time.Second,
			MaxAttempts: 4,
			BaseDelay:   500 * time.Millisecond,
		},
		Sync: SyncConfig{
			Lookback:  30 * 24 * time.Hour,
			Lookahead: 365 * 24 * time.Hour,
		},
	}
}

// Load reads the config at path, or the default location when path is empty.
// A missing file yields Default().
func Load(path string) (*Config, error) {
	if path == "" {
		p, err := GetConfigPath()
		if err != nil {
			return nil, err
		}
		path = p
	}

	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Database == "" {
		return fmt.Errorf("database path is required")
	}
	if c.Remote.MaxAttempts < 1 {
		return fmt.Errorf("remote.max_attempts must be at least 1, got %d", c.Remote.MaxAttempts)
	}
	if c.Remote.Timeout <= 0 {
		return fmt.Errorf("remote.timeout must be positive")
	}
	if c.Sync.Lookback <= 0 || c.Sync.Lookahead <= 0 {
		return fmt.Errorf("sync.lookback and sync.lookahead must be positive")
	}
	return nil
}

// Save writes cfg to path, or the default location when path is empty.
func Save(path string, cfg *Config) error {
	if path == "" {
		p, err := GetConfigPath()
		if err != nil {
			return err
		}
		path = p
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}
