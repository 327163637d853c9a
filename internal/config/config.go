// Package config loads the k17 CLI configuration file.
//
// The file may be YAML (config.yaml, config.yml) or TOML (config.toml).
// Without an explicit --config path the first of those found in the user
// configuration directory is used:
//
//   - Linux: $XDG_CONFIG_HOME/k17 or $HOME/.config/k17
//   - macOS: $HOME/.config/k17
//   - Windows: %LOCALAPPDATA%\k17
//
// Values are layered: built-in defaults, then the file, then command-line
// flags (applied by the caller).
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

const appName = "k17"

// candidateFiles are tried in order inside the config directory.
var candidateFiles = []string{"config.yaml", "config.yml", "config.toml"}

// Config is the CLI configuration.
type Config struct {
	Host           string        `yaml:"host" toml:"host"`
	Port           int           `yaml:"port" toml:"port"`
	ConnectTimeout time.Duration `yaml:"connect_timeout" toml:"connect_timeout"`
	RequestTimeout time.Duration `yaml:"request_timeout" toml:"request_timeout"`
	LogLevel       string        `yaml:"log_level" toml:"log_level"`
	Monitor        Monitor       `yaml:"monitor" toml:"monitor"`
}

// Monitor controls how the monitor command reconnects after the device
// drops the connection. MaxRetries of 0 retries without limit.
type Monitor struct {
	MaxRetries      int           `yaml:"max_retries" toml:"max_retries"`
	InitialInterval time.Duration `yaml:"initial_interval" toml:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval" toml:"max_interval"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Port:           12100,
		ConnectTimeout: 5 * time.Second,
		RequestTimeout: 5 * time.Second,
		Monitor: Monitor{
			MaxRetries:      10,
			InitialInterval: 500 * time.Millisecond,
			MaxInterval:     30 * time.Second,
		},
	}
}

// Dir returns the OS-appropriate configuration directory.
func Dir() (string, error) {
	switch runtime.GOOS {
	case "windows":
		if local := os.Getenv("LOCALAPPDATA"); local != "" {
			return filepath.Join(local, appName), nil
		}
		profile := os.Getenv("USERPROFILE")
		if profile == "" {
			return "", errors.New("cannot determine user profile directory (LOCALAPPDATA and USERPROFILE not set)")
		}
		return filepath.Join(profile, "AppData", "Local", appName), nil
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("cannot determine home directory: %w", err)
		}
		return filepath.Join(home, ".config", appName), nil
	default:
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			return filepath.Join(xdg, appName), nil
		}
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("cannot determine home directory: %w", err)
		}
		return filepath.Join(home, ".config", appName), nil
	}
}

// FindFile returns the first config file present in dir, or "" if none is.
func FindFile(dir string) string {
	for _, name := range candidateFiles {
		path := filepath.Join(dir, name)
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path
		}
	}
	return ""
}

// Load reads the configuration. An explicit path must exist. With an empty
// path the user configuration directory is searched, and a missing file
// yields the defaults.
func Load(path string) (Config, error) {
	if path == "" {
		dir, err := Dir()
		if err != nil {
			return Default(), nil
		}
		path = FindFile(dir)
		if path == "" {
			return Default(), nil
		}
	}
	return LoadFile(path)
}

// LoadFile reads and validates one configuration file. The format follows
// the file extension.
func LoadFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}

	cfg := Default()
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config parse failed (%s): %w", path, err)
		}
	case ".toml":
		if _, err := toml.Decode(string(data), &cfg); err != nil {
			return Config{}, fmt.Errorf("config parse failed (%s): %w", path, err)
		}
	default:
		return Config{}, fmt.Errorf("config format not supported (%s): %q", path, ext)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config invalid (%s): %w", path, err)
	}
	return cfg, nil
}

// Validate checks every field.
func (c Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port %d must be between 1 and 65535", c.Port)
	}
	if c.ConnectTimeout <= 0 {
		return errors.New("connect_timeout must be positive")
	}
	if c.RequestTimeout <= 0 {
		return errors.New("request_timeout must be positive")
	}
	switch strings.ToLower(strings.TrimSpace(c.LogLevel)) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("unknown log_level %q", c.LogLevel)
	}
	if err := c.Monitor.Validate(); err != nil {
		return fmt.Errorf("monitor: %w", err)
	}
	return nil
}

// Validate checks the reconnect settings.
func (m Monitor) Validate() error {
	if m.MaxRetries < 0 {
		return errors.New("max_retries must not be negative")
	}
	if m.InitialInterval <= 0 {
		return errors.New("initial_interval must be positive")
	}
	if m.MaxInterval < m.InitialInterval {
		return errors.New("max_interval must not be less than initial_interval")
	}
	return nil
}
