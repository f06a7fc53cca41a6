package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// NOTE: This file provides the configuration model and full YAML-based
// load/save behavior, including first-run config creation and 0600
// permissions. Environment variables (ATTENDBOARD_*) override the file.

const (
	defaultListen         = "127.0.0.1:8080"
	defaultBackendURL     = "http://127.0.0.1:8000"
	defaultTimezone       = "Local"
	defaultWeekStart      = "sunday"
	defaultPollInterval   = 3 * time.Second
	defaultRequestTimeout = 10 * time.Second
	defaultRefresh        = "*/5 * * * *"
	defaultLogLevel       = "info"
)

// EnvPrefix is prepended to every environment override.
const EnvPrefix = "ATTENDBOARD_"

// Duration is a time.Duration that reads and writes as "3s" in YAML.
type Duration time.Duration

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

func (d *Duration) UnmarshalYAML(n *yaml.Node) error {
	var s string
	if err := n.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(v)
	return nil
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the dashboard and API.
	Listen string `yaml:"listen" json:"listen"`

	// BackendURL is the base URL of the attendance API server.
	BackendURL string `yaml:"backend_url" json:"backend_url"`

	// Timezone is the IANA timezone used for "today" and the calendar
	// feed (e.g. "America/Chicago"). "Local" uses the host zone.
	Timezone string `yaml:"timezone" json:"timezone"`

	// WeekStart controls the first column of the month grid. Supported
	// values:
	//   - "sunday" (default)
	//   - "monday"
	WeekStart string `yaml:"week_start" json:"week_start"`

	// PollInterval is the live-roster polling period of the open session.
	PollInterval Duration `yaml:"poll_interval" json:"poll_interval"`

	// RequestTimeout bounds every backend request.
	RequestTimeout Duration `yaml:"request_timeout" json:"request_timeout"`

	// RefreshCron is a cron-style schedule string (e.g. "*/5 * * * *")
	// for the background re-fetch of events and students. "off" disables it.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" json:"log_level"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:         defaultListen,
		BackendURL:     defaultBackendURL,
		Timezone:       defaultTimezone,
		WeekStart:      defaultWeekStart,
		PollInterval:   Duration(defaultPollInterval),
		RequestTimeout: Duration(defaultRequestTimeout),
		RefreshCron:    defaultRefresh,
		LogLevel:       defaultLogLevel,
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	c.BackendURL = strings.TrimRight(strings.TrimSpace(c.BackendURL), "/")
	if c.BackendURL == "" {
		c.BackendURL = defaultBackendURL
	}
	if c.Timezone == "" {
		c.Timezone = defaultTimezone
	}
	switch strings.ToLower(c.WeekStart) {
	case "monday":
		c.WeekStart = "monday"
	default:
		// Unknown value; fall back to sunday to avoid surprising layouts.
		c.WeekStart = defaultWeekStart
	}
	if c.PollInterval <= 0 {
		c.PollInterval = Duration(defaultPollInterval)
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = Duration(defaultRequestTimeout)
	}
	if c.RefreshCron == "" {
		c.RefreshCron = defaultRefresh
	}
	if c.LogLevel == "" {
		c.LogLevel = defaultLogLevel
	}
}

// Validate reports settings that Normalize cannot repair.
func (c *Config) Validate() error {
	if !strings.HasPrefix(c.BackendURL, "http://") && !strings.HasPrefix(c.BackendURL, "https://") {
		return fmt.Errorf("backend_url %q must start with http:// or https://", c.BackendURL)
	}
	if c.Timezone != defaultTimezone {
		if _, err := time.LoadLocation(c.Timezone); err != nil {
			return fmt.Errorf("timezone %q: %w", c.Timezone, err)
		}
	}
	if c.RefreshEnabled() {
		if _, err := cron.ParseStandard(c.RefreshCron); err != nil {
			return fmt.Errorf("refresh %q: %w", c.RefreshCron, err)
		}
	}
	return nil
}

// RefreshEnabled reports whether background refresh is scheduled.
func (c *Config) RefreshEnabled() bool {
	return c.RefreshCron != "off"
}

// Location resolves Timezone, falling back to time.Local.
func (c *Config) Location() *time.Location {
	if c.Timezone == "" || c.Timezone == defaultTimezone {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// Load loads configuration from the given YAML path and applies
// environment overrides.
//
// Behavior:
//   - If the file does not exist:
//   - create parent directory if needed
//   - write a default config with 0600 perms
//   - If the file exists:
//   - read YAML and unmarshal into Config
//   - In both cases, ATTENDBOARD_* variables (from the process or from a
//     .env file next to the working directory) win over the file.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	var cfg *Config
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		// First run: create default config file.
		cfg = DefaultConfig()
		if err := Save(path, cfg); err != nil {
			// Even if save fails, return cfg with error so caller can decide.
			ApplyEnv(cfg, os.LookupEnv)
			return cfg, err
		}
	case err != nil:
		return nil, err
	default:
		cfg = &Config{}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	LoadDotEnv(".env")
	ApplyEnv(cfg, os.LookupEnv)
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDotEnv loads KEY=VALUE pairs from path into the process environment
// without overriding variables that are already set. A missing file is
// not an error.
func LoadDotEnv(path string) {
	if _, err := os.Stat(path); err != nil {
		return
	}
	_ = godotenv.Load(path)
}

// ApplyEnv overrides cfg fields from ATTENDBOARD_* variables looked up via
// lookup. Unparseable durations are ignored.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) {
	str := func(key string, dst *string) {
		if v, ok := lookup(EnvPrefix + key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	dur := func(key string, dst *Duration) {
		if v, ok := lookup(EnvPrefix + key); ok {
			if d, err := time.ParseDuration(strings.TrimSpace(v)); err == nil {
				*dst = Duration(d)
			}
		}
	}

	str("LISTEN", &cfg.Listen)
	str("BACKEND_URL", &cfg.BackendURL)
	str("TIMEZONE", &cfg.Timezone)
	str("WEEK_START", &cfg.WeekStart)
	dur("POLL_INTERVAL", &cfg.PollInterval)
	dur("REQUEST_TIMEOUT", &cfg.RequestTimeout)
	str("REFRESH", &cfg.RefreshCron)
	str("LOG_LEVEL", &cfg.LogLevel)
}

// Save writes the given configuration to the specified path.
//
// Implementation details:
//   - Ensures parent directory exists (0700).
//   - Marshals cfg to YAML.
//   - Writes atomically via a temp file + rename.
//   - Ensures final file permissions are 0600.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	// Atomic write: write to temp file in same directory then rename.
	tmp, err := os.CreateTemp(dir, ".attendboard-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	// Ensure we clean up temp file on error.
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}

	return os.Rename(tmpName, path)
}

// Save is a convenience method on Config that delegates to the package-level
// Save function.
func (c *Config) Save(path string) error {
	return Save(path, c)
}
