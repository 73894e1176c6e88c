package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"execagenda/internal/fsutil"
)

// NOTE: This file provides the configuration model and full YAML-based
// load/save behavior, including first-run config creation and 0600
// permissions. Environment overrides are applied by ApplyEnv.

const (
	// DefaultPath is used when EXECAGENDA_CONFIG is not set.
	DefaultPath = "config.yaml"

	EnvConfig   = "EXECAGENDA_CONFIG"
	EnvListen   = "EXECAGENDA_LISTEN"
	EnvLogLevel = "EXECAGENDA_LOG_LEVEL"
)

// Store drivers.
const (
	DriverSQLite = "sqlite"
	DriverFile   = "file"
	DriverMemory = "memory"
)

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// StoreConfig selects where activities are persisted.
type StoreConfig struct {
	// Driver is one of "sqlite" (default), "file" or "memory".
	Driver string `yaml:"driver" json:"driver"`
	// Path is the database or JSON document path. Unused by "memory".
	Path string `yaml:"path" json:"path"`
}

// ExportConfig controls the periodic ICS snapshot.
type ExportConfig struct {
	// Cron is a standard 5-field cron expression. Empty disables the
	// scheduled export; the CLI export command still works.
	Cron string `yaml:"cron" json:"cron"`
	// Path is where the .ics snapshot is written.
	Path string `yaml:"path" json:"path"`
	// CalendarName becomes X-WR-CALNAME in the exported calendar.
	CalendarName string `yaml:"calendar_name" json:"calendar_name"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA timezone of the reference calendar that
	// occurrence dates are computed in (e.g. "America/Sao_Paulo").
	Timezone string `yaml:"timezone" json:"timezone"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" json:"log_level"`

	Store StoreConfig `yaml:"store" json:"store"`

	// MaxOccurrences is the safety cap for a single generated series.
	MaxOccurrences int `yaml:"max_occurrences" json:"max_occurrences"`

	Export ExportConfig `yaml:"export" json:"export"`

	// CORSOrigins lists origins allowed to call the API from a browser.
	// Empty disables CORS handling.
	CORSOrigins []string `yaml:"cors_origins" json:"cors_origins"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:   "127.0.0.1:8080",
		Timezone: "America/Sao_Paulo",
		LogLevel: "info",
		Store: StoreConfig{
			Driver: DriverSQLite,
			Path:   "data/execagenda.db",
		},
		MaxOccurrences: 500,
		Export: ExportConfig{
			Cron:         "*/15 * * * *",
			Path:         "data/agenda.ics",
			CalendarName: "Executive agenda",
		},
		CORSOrigins: []string{},
		BasicAuth:   nil,
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly. Export.Cron is left
// alone: empty means disabled.
func (c *Config) Normalize() {
	def := DefaultConfig()

	if c.Listen == "" {
		c.Listen = def.Listen
	}
	if c.Timezone == "" {
		c.Timezone = def.Timezone
	}
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}

	c.Store.Driver = strings.ToLower(strings.TrimSpace(c.Store.Driver))
	switch c.Store.Driver {
	case DriverSQLite, DriverFile, DriverMemory:
	case "":
		c.Store.Driver = def.Store.Driver
	}
	if c.Store.Path == "" {
		switch c.Store.Driver {
		case DriverFile:
			c.Store.Path = "data/activities.json"
		case DriverSQLite:
			c.Store.Path = def.Store.Path
		}
	}

	if c.MaxOccurrences <= 0 {
		c.MaxOccurrences = def.MaxOccurrences
	}
	if c.Export.Path == "" {
		c.Export.Path = def.Export.Path
	}
	if c.Export.CalendarName == "" {
		c.Export.CalendarName = def.Export.CalendarName
	}
	if c.CORSOrigins == nil {
		c.CORSOrigins = []string{}
	}
	if c.BasicAuth != nil && c.BasicAuth.Username == "" && c.BasicAuth.Password == "" {
		c.BasicAuth = nil
	}
}

// Validate reports settings Normalize cannot repair.
func (c *Config) Validate() error {
	switch c.Store.Driver {
	case DriverSQLite, DriverFile, DriverMemory:
	default:
		return fmt.Errorf("config: unknown store driver %q", c.Store.Driver)
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// Location resolves Timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("config: timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

// PathFromEnv returns EXECAGENDA_CONFIG, or DefaultPath when unset.
func PathFromEnv() string {
	if p := strings.TrimSpace(os.Getenv(EnvConfig)); p != "" {
		return p
	}
	return DefaultPath
}

// ApplyEnv overrides file values with EXECAGENDA_* environment variables.
func (c *Config) ApplyEnv() {
	if v := strings.TrimSpace(os.Getenv(EnvListen)); v != "" {
		c.Listen = v
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogLevel)); v != "" {
		c.LogLevel = strings.ToLower(v)
	}
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - return the default config
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - normalize defaults
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save normalizes cfg and writes it to path as YAML, atomically and with
// 0600 permissions (credentials may be inside).
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return fsutil.WriteFileAtomic(path, data, 0o600)
}

// Save is a convenience method on Config that delegates to the package-level
// Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
