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
// permissions. Environment variables (optionally from a .env file)
// override a handful of deployment-specific fields.

const (
	defaultListen   = "127.0.0.1:8080"
	defaultTimezone = "UTC"
	defaultRefresh  = "*/15 * * * *"
)

// ICSConfig describes a single ICS subscription source.
type ICSConfig struct {
	// URL is the ICS subscription endpoint.
	URL string `yaml:"url" json:"url"`
	// ID becomes the calendar ID of the feed's events.
	ID string `yaml:"id" json:"id"`
	// Name is a human-friendly label used in logs.
	Name string `yaml:"name" json:"name"`
}

// BackendConfig points at an AirCal backend serving /api/events.
type BackendConfig struct {
	// URL is the backend base URL; empty disables the backend source.
	URL            string   `yaml:"url" json:"url"`
	CalendarIDs    []string `yaml:"calendar_ids" json:"calendar_ids"`
	TimeoutSeconds int      `yaml:"timeout_seconds" json:"timeout_seconds"`
}

// GeocodeConfig configures location resolution.
type GeocodeConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
	// Endpoint is a Nominatim compatible base URL.
	Endpoint  string `yaml:"endpoint" json:"endpoint"`
	UserAgent string `yaml:"user_agent" json:"user_agent"`
	// DelayMS separates consecutive requests; values below 100 are raised.
	DelayMS int `yaml:"delay_ms" json:"delay_ms"`
}

// CoverConfig configures cover images.
type CoverConfig struct {
	Endpoint string `yaml:"endpoint" json:"endpoint"`
	Width    int    `yaml:"width" json:"width"`
	Height   int    `yaml:"height" json:"height"`
	TTLHours int    `yaml:"ttl_hours" json:"ttl_hours"`
	// Resolve asks the endpoint for the final image URL.
	Resolve bool `yaml:"resolve" json:"resolve"`
}

// CacheConfig selects the persistent store.
type CacheConfig struct {
	// Driver is one of "file", "badger", "memory".
	Driver string `yaml:"driver" json:"driver"`
	Dir    string `yaml:"dir" json:"dir"`
}

type LogConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen string `yaml:"listen" json:"listen"`

	// Timezone is the IANA timezone used as canonical display zone (e.g. "Asia/Seoul").
	Timezone string `yaml:"timezone" json:"timezone"`

	// RefreshCron is a cron-style schedule string (e.g. "*/15 * * * *")
	// used for periodic refresh.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// HorizonDays is the number of future days to enrich.
	HorizonDays int `yaml:"horizon_days" json:"horizon_days"`
	// BackfillDays is the number of past days to include.
	BackfillDays int `yaml:"backfill_days" json:"backfill_days"`

	// ICS is the list of subscribed ICS sources.
	ICS []ICSConfig `yaml:"ics" json:"ics"`

	Backend BackendConfig `yaml:"backend" json:"backend"`
	Geocode GeocodeConfig `yaml:"geocode" json:"geocode"`
	Cover   CoverConfig   `yaml:"cover" json:"cover"`
	Cache   CacheConfig   `yaml:"cache" json:"cache"`
	Log     LogConfig     `yaml:"log" json:"log"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:       defaultListen,
		Timezone:     defaultTimezone,
		RefreshCron:  defaultRefresh,
		HorizonDays:  30,
		BackfillDays: 0,
		ICS:          []ICSConfig{},
		Backend:      BackendConfig{TimeoutSeconds: 15, CalendarIDs: []string{}},
		Geocode: GeocodeConfig{
			Enabled:  true,
			Endpoint: "https://nominatim.openstreetmap.org",
			DelayMS:  1000,
		},
		Cover: CoverConfig{
			Endpoint: "https://picsum.photos",
			Width:    800,
			Height:   400,
			TTLHours: 7 * 24,
		},
		Cache:     CacheConfig{Driver: "file", Dir: "./data"},
		Log:       LogConfig{Level: "info", Format: "json"},
		BasicAuth: nil,
	}
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs (e.g., older versions) still behave correctly.
func (c *Config) Normalize() {
	d := DefaultConfig()

	if c.Listen == "" {
		c.Listen = d.Listen
	}
	if c.Timezone == "" {
		c.Timezone = d.Timezone
	}
	if c.RefreshCron == "" {
		c.RefreshCron = d.RefreshCron
	}
	if c.HorizonDays <= 0 {
		c.HorizonDays = d.HorizonDays
	}
	if c.BackfillDays < 0 {
		c.BackfillDays = 0
	}
	if c.ICS == nil {
		c.ICS = []ICSConfig{}
	}
	for i := range c.ICS {
		if c.ICS[i].ID == "" {
			c.ICS[i].ID = fmt.Sprintf("ics-%d", i+1)
		}
	}

	c.Backend.URL = strings.TrimRight(strings.TrimSpace(c.Backend.URL), "/")
	if c.Backend.CalendarIDs == nil {
		c.Backend.CalendarIDs = []string{}
	}
	if c.Backend.TimeoutSeconds <= 0 {
		c.Backend.TimeoutSeconds = d.Backend.TimeoutSeconds
	}

	if c.Geocode.Endpoint == "" {
		c.Geocode.Endpoint = d.Geocode.Endpoint
	}
	// The resolver must never be hit faster than every 100ms.
	if c.Geocode.DelayMS < 100 {
		c.Geocode.DelayMS = 100
	}

	if c.Cover.Endpoint == "" {
		c.Cover.Endpoint = d.Cover.Endpoint
	}
	if c.Cover.Width <= 0 {
		c.Cover.Width = d.Cover.Width
	}
	if c.Cover.Height <= 0 {
		c.Cover.Height = d.Cover.Height
	}
	if c.Cover.TTLHours <= 0 {
		c.Cover.TTLHours = d.Cover.TTLHours
	}

	switch c.Cache.Driver {
	case "file", "badger", "memory":
		// ok
	default:
		c.Cache.Driver = d.Cache.Driver
	}
	if c.Cache.Dir == "" {
		c.Cache.Dir = d.Cache.Dir
	}

	if c.Log.Level == "" {
		c.Log.Level = d.Log.Level
	}
	if c.Log.Format != "console" {
		c.Log.Format = "json"
	}
}

// Validate reports settings that cannot be defaulted.
func (c *Config) Validate() error {
	var errs []error
	if _, err := c.Location(); err != nil {
		errs = append(errs, err)
	}
	if _, err := cron.ParseStandard(c.RefreshCron); err != nil {
		errs = append(errs, fmt.Errorf("refresh %q: %w", c.RefreshCron, err))
	}
	if len(c.ICS) == 0 && c.Backend.URL == "" {
		errs = append(errs, errors.New("no event source: configure ics or backend.url"))
	}
	for _, s := range c.ICS {
		if s.URL == "" {
			errs = append(errs, fmt.Errorf("ics %s: url is empty", s.ID))
		}
	}
	if c.BasicAuth != nil && (c.BasicAuth.Username == "" || c.BasicAuth.Password == "") {
		errs = append(errs, errors.New("basic_auth requires username and password"))
	}
	return errors.Join(errs...)
}

// Location loads the display timezone.
func (c *Config) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("timezone %q: %w", c.Timezone, err)
	}
	return loc, nil
}

func (c *Config) BackendTimeout() time.Duration {
	return time.Duration(c.Backend.TimeoutSeconds) * time.Second
}

func (c *Config) GeocodeDelay() time.Duration {
	return time.Duration(c.Geocode.DelayMS) * time.Millisecond
}

func (c *Config) CoverTTL() time.Duration {
	return time.Duration(c.Cover.TTLHours) * time.Hour
}

// LoadEnvFile reads KEY=VALUE pairs from path into the process
// environment without overriding variables that are already set. A
// missing file is not an error.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overrides fields from AIRCAL_* environment variables.
func (c *Config) ApplyEnv() {
	if v, ok := os.LookupEnv("AIRCAL_LISTEN"); ok && v != "" {
		c.Listen = v
	}
	if v, ok := os.LookupEnv("AIRCAL_BACKEND_URL"); ok {
		c.Backend.URL = v
	}
	if v, ok := os.LookupEnv("AIRCAL_CACHE_DRIVER"); ok && v != "" {
		c.Cache.Driver = v
	}
	if v, ok := os.LookupEnv("AIRCAL_LOG_LEVEL"); ok && v != "" {
		c.Log.Level = v
	}
	if v, ok := os.LookupEnv("AIRCAL_GEOCODE_USER_AGENT"); ok && v != "" {
		c.Geocode.UserAgent = v
	}
	c.Normalize()
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

	// Absent sections keep their defaults.
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	cfg.Normalize()

	return cfg, nil
}

// Save writes the given configuration to the specified path atomically
// (temp file + rename) with 0600 permissions.
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

	tmp, err := os.CreateTemp(dir, ".aircal-config-*.tmp")
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

func (c *Config) Save(path string) error {
	return Save(path, c)
}
