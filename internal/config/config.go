// Package config resolves forgedash settings. Sources are applied in this
// order, later ones winning:
//
//  1. built-in defaults
//  2. a .env file (never overrides variables already set)
//  3. the config file, YAML or TOML by extension
//  4. FORGEDASH_* environment variables
//
// Command-line flags are applied on top by the caller.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"forgedash/pkg/protocol"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Duration is a time.Duration written as "10s" in config files.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return fmt.Errorf("duration %q: %w", text, err)
	}
	*d = Duration(v)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Backend locates the external job-processing system.
type Backend struct {
	URL          string   `yaml:"url" toml:"url"`
	FeedURL      string   `yaml:"feed_url" toml:"feed_url"`
	Timeout      Duration `yaml:"timeout" toml:"timeout"`
	ReconnectMax Duration `yaml:"reconnect_max" toml:"reconnect_max"`
}

// Roster locates the worker roster: a YAML/TOML/JSON file, a SQLite
// database, or both (the file wins on conflicting IDs).
type Roster struct {
	Path   string `yaml:"path" toml:"path"`
	DBPath string `yaml:"db_path" toml:"db_path"`
	Watch  bool   `yaml:"watch" toml:"watch"`
}

// Config is the resolved configuration.
type Config struct {
	Home     string   `yaml:"-" toml:"-"`
	LogLevel string   `yaml:"log_level" toml:"log_level"`
	Listen   string   `yaml:"listen" toml:"listen"`
	Refresh  Duration `yaml:"refresh" toml:"refresh"`
	Backend  Backend  `yaml:"backend" toml:"backend"`
	Roster   Roster   `yaml:"roster" toml:"roster"`
	SeedPath string   `yaml:"seed" toml:"seed"`

	// File is the config file that was read, empty if none.
	File string `yaml:"-" toml:"-"`
}

// Options tells Load where to look.
type Options struct {
	// ConfigPath is an explicit config file; it must exist. Empty means
	// $FORGEDASH_HOME/config.yaml or config.toml, if present.
	ConfigPath string
	// EnvFile is the dotenv file to read (default ".env"); a missing file
	// is not an error.
	EnvFile string
}

// Default returns the built-in configuration rooted at home.
func Default(home string) Config {
	return Config{
		Home:     home,
		LogLevel: "info",
		Listen:   "127.0.0.1:8090",
		Refresh:  Duration(time.Second),
		Backend: Backend{
			Timeout:      Duration(10 * time.Second),
			ReconnectMax: Duration(30 * time.Second),
		},
		Roster: Roster{Watch: true},
	}
}

// Load resolves the configuration.
func Load(opts Options) (Config, error) {
	envFile := opts.EnvFile
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("load %s: %w", envFile, err)
	}

	home, err := ResolveHome()
	if err != nil {
		return Config{}, err
	}
	cfg := Default(home)

	path, err := configFile(opts.ConfigPath, home)
	if err != nil {
		return Config{}, err
	}
	if path != "" {
		if err := cfg.readFile(path); err != nil {
			return Config{}, err
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

// ResolveHome returns FORGEDASH_HOME or ~/.forgedash.
func ResolveHome() (string, error) {
	if v := os.Getenv("FORGEDASH_HOME"); v != "" {
		return v, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("get home dir: %w", err)
	}
	return filepath.Join(home, protocol.HomeDir), nil
}

// LogPath is where the terminal dashboard writes its log.
func (c Config) LogPath() string {
	return filepath.Join(c.Home, protocol.LogFile)
}

// Validate reports settings that cannot work.
func (c Config) Validate() error {
	switch strings.ToLower(c.LogLevel) {
	case "", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("log_level %q: want debug, info, warn or error", c.LogLevel)
	}
	if c.Listen == "" {
		return fmt.Errorf("listen address is empty")
	}
	if c.Refresh <= 0 {
		return fmt.Errorf("refresh must be positive, got %s", c.Refresh.Std())
	}
	if c.Backend.Timeout <= 0 {
		return fmt.Errorf("backend timeout must be positive, got %s", c.Backend.Timeout.Std())
	}
	if c.Backend.ReconnectMax <= 0 {
		return fmt.Errorf("backend reconnect_max must be positive, got %s", c.Backend.ReconnectMax.Std())
	}
	return nil
}

func configFile(explicit, home string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file: %w", err)
		}
		return explicit, nil
	}
	for _, name := range []string{protocol.ConfigFile, "config.toml"} {
		p := filepath.Join(home, name)
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", nil
}

// readFile overlays the file's settings. Relative roster and seed paths
// are taken relative to the file's directory.
func (c *Config) readFile(path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // operator-supplied config path
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, c)
	case ".toml":
		err = toml.Unmarshal(data, c)
	default:
		return fmt.Errorf("config %s: unsupported format (want .yaml or .toml)", path)
	}
	if err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}

	dir := filepath.Dir(path)
	c.Roster.Path = resolveRelative(dir, c.Roster.Path)
	c.Roster.DBPath = resolveRelative(dir, c.Roster.DBPath)
	c.SeedPath = resolveRelative(dir, c.SeedPath)
	c.File = path
	return nil
}

func resolveRelative(dir, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(dir, p)
}

func (c *Config) applyEnv() error {
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setString("FORGEDASH_LOG_LEVEL", &c.LogLevel)
	setString("FORGEDASH_LISTEN", &c.Listen)
	setString("FORGEDASH_BACKEND_URL", &c.Backend.URL)
	setString("FORGEDASH_FEED_URL", &c.Backend.FeedURL)
	setString("FORGEDASH_ROSTER", &c.Roster.Path)
	setString("FORGEDASH_ROSTER_DB", &c.Roster.DBPath)
	setString("FORGEDASH_SEED", &c.SeedPath)

	for key, dst := range map[string]*Duration{
		"FORGEDASH_REFRESH":         &c.Refresh,
		"FORGEDASH_BACKEND_TIMEOUT": &c.Backend.Timeout,
		"FORGEDASH_RECONNECT_MAX":   &c.Backend.ReconnectMax,
	} {
		if v := os.Getenv(key); v != "" {
			if err := dst.UnmarshalText([]byte(v)); err != nil {
				return fmt.Errorf("%s: %w", key, err)
			}
		}
	}

	if v := os.Getenv("FORGEDASH_WATCH"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("FORGEDASH_WATCH: %w", err)
		}
		c.Roster.Watch = b
	}
	return nil
}
