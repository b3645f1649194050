// Package userconfig manages per-user CLI defaults for nah.
// Configuration is stored in ~/.nah/config.toml and edited via the
// `nah config` command. The NAH_ROOT environment variable overrides the
// configured root.
package userconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/BurntSushi/toml"
)

// EnvRoot overrides the configured NAH root directory.
const EnvRoot = "NAH_ROOT"

// Config represents user-configurable settings.
type Config struct {
	// Root is the default NAH root used when --root is not given.
	Root string `toml:"root,omitempty"`

	// JSON makes commands emit JSON by default.
	JSON bool `toml:"json"`

	// Trace attaches the composition decision log by default.
	Trace bool `toml:"trace"`
}

// Default returns the built-in defaults: root at ~/.nah/root.
func Default() Config {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return Config{Root: filepath.Join(home, ".nah", "root")}
}

// Path returns the config file location (~/.nah/config.toml).
func Path() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".nah", "config.toml"), nil
}

// Load reads the config file, returning defaults when it is absent.
func Load() (Config, error) {
	path, err := Path()
	if err != nil {
		return Default(), err
	}
	return LoadFrom(path)
}

// LoadFrom reads a config file at an explicit path.
func LoadFrom(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return cfg, fmt.Errorf("reading config: %w", err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing %s: %w", path, err)
	}
	if cfg.Root == "" {
		cfg.Root = Default().Root
	}
	return cfg, nil
}

// Save writes the config file, creating its directory if needed.
func (c Config) Save() error {
	path, err := Path()
	if err != nil {
		return err
	}
	return c.SaveTo(path)
}

// SaveTo writes the config to an explicit path.
func (c Config) SaveTo(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	data, err := toml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// EffectiveRoot resolves the root to use: flag value, then NAH_ROOT,
// then the configured default.
func (c Config) EffectiveRoot(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if env := os.Getenv(EnvRoot); env != "" {
		return env
	}
	return c.Root
}

// Set assigns a key by name, parsing booleans for the flag-like keys.
func (c *Config) Set(key, value string) error {
	switch key {
	case "root":
		c.Root = value
	case "json":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("config key json wants true or false, got %q", value)
		}
		c.JSON = b
	case "trace":
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("config key trace wants true or false, got %q", value)
		}
		c.Trace = b
	default:
		return fmt.Errorf("unknown config key %q", key)
	}
	return nil
}

// Get reads a key by name.
func (c Config) Get(key string) (string, error) {
	switch key {
	case "root":
		return c.Root, nil
	case "json":
		return strconv.FormatBool(c.JSON), nil
	case "trace":
		return strconv.FormatBool(c.Trace), nil
	default:
		return "", fmt.Errorf("unknown config key %q", key)
	}
}
