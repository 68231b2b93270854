package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"

	"calgrid/internal/availability"
	"calgrid/internal/layout"
	"calgrid/internal/tz"
)

// Environment variables that override secrets from the YAML file.
const (
	EnvDatabaseURL       = "DATABASE_URL"
	EnvRedisAddr         = "REDIS_ADDR"
	EnvRedisPassword     = "REDIS_PASSWORD"
	EnvBasicAuthUser     = "CALGRID_BASIC_AUTH_USER"
	EnvBasicAuthPassword = "CALGRID_BASIC_AUTH_PASSWORD"
)

// ICSConfig describes a single ICS subscription source.
type ICSConfig struct {
	// URL is the ICS subscription endpoint.
	URL string `yaml:"url" json:"url"`
	// ID is an internal identifier used for de-dup, cache directories and logging.
	ID   string `yaml:"id" json:"id"`
	Name string `yaml:"name" json:"name"`
	// CalendarID scopes the imported events. Defaults to ID.
	CalendarID string `yaml:"calendar_id" json:"calendar_id"`
}

// RoomConfig names a bookable room; rooms are listed by the API and their
// ids match Event.RoomID.
type RoomConfig struct {
	ID   string `yaml:"id" json:"id"`
	Name string `yaml:"name" json:"name"`
}

// BasicAuthConfig holds HTTP Basic Auth credentials for the API.
type BasicAuthConfig struct {
	Username string `yaml:"username" json:"username"`
	Password string `yaml:"password" json:"password"`
}

type LayoutConfig struct {
	// Mode is "columns" or "cascade".
	Mode        string `yaml:"mode" json:"mode"`
	ExtendSpans bool   `yaml:"extend_spans" json:"extend_spans"`
}

// StorageConfig selects the event store.
type StorageConfig struct {
	// Driver is "memory" or "postgres".
	Driver string `yaml:"driver" json:"driver"`
	DSN    string `yaml:"dsn,omitempty" json:"dsn,omitempty"`
	// Migrate runs the embedded schema migrations on startup.
	Migrate bool `yaml:"migrate" json:"migrate"`
}

// CacheConfig selects the availability cache.
type CacheConfig struct {
	// Driver is "memory" or "redis".
	Driver   string        `yaml:"driver" json:"driver"`
	Addr     string        `yaml:"addr,omitempty" json:"addr,omitempty"`
	Password string        `yaml:"password,omitempty" json:"password,omitempty"`
	DB       int           `yaml:"db" json:"db"`
	Prefix   string        `yaml:"prefix" json:"prefix"`
	TTL      time.Duration `yaml:"ttl" json:"ttl"`
}

type ConflictConfig struct {
	Debounce time.Duration `yaml:"debounce" json:"debounce"`
	// RemoteURL, when set, makes conflict checks go to another calgrid
	// instance instead of the local store.
	RemoteURL string `yaml:"remote_url,omitempty" json:"remote_url,omitempty"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address for the API.
	Listen   string `yaml:"listen" json:"listen"`
	LogLevel string `yaml:"log_level" json:"log_level"`

	// Timezone is the business zone: an IANA name or a fixed "+03:00" offset.
	Timezone string               `yaml:"business_timezone" json:"business_timezone"`
	WorkDay  availability.WorkDay `yaml:"work_day" json:"work_day"`
	Layout   LayoutConfig         `yaml:"layout" json:"layout"`
	Locale   string               `yaml:"locale" json:"locale"`

	// RefreshCron is a standard 5-field cron schedule for ICS refreshes.
	RefreshCron string `yaml:"refresh" json:"refresh"`
	// HorizonDays bounds how far ahead /api/events looks by default.
	HorizonDays int `yaml:"horizon_days" json:"horizon_days"`

	ICS   []ICSConfig  `yaml:"ics" json:"ics"`
	Rooms []RoomConfig `yaml:"rooms" json:"rooms"`

	Storage   StorageConfig  `yaml:"storage" json:"storage"`
	Cache     CacheConfig    `yaml:"cache" json:"cache"`
	PushURL   string         `yaml:"push_url,omitempty" json:"push_url,omitempty"`
	Conflicts ConflictConfig `yaml:"conflicts" json:"conflicts"`

	// BasicAuth, if non-nil, enables HTTP Basic Authentication on all endpoints
	// except /health.
	BasicAuth *BasicAuthConfig `yaml:"basic_auth,omitempty" json:"basic_auth,omitempty"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:      "127.0.0.1:8080",
		LogLevel:    "info",
		Timezone:    tz.DefaultZone,
		WorkDay:     availability.DefaultWorkDay(),
		Layout:      LayoutConfig{Mode: string(layout.ModeColumns), ExtendSpans: true},
		Locale:      "en",
		RefreshCron: "*/15 * * * *",
		HorizonDays: 7,
		ICS:         []ICSConfig{},
		Rooms:       []RoomConfig{},
		Storage:     StorageConfig{Driver: "memory"},
		Cache:       CacheConfig{Driver: "memory", Prefix: "calgrid:", TTL: 10 * time.Minute},
		Conflicts:   ConflictConfig{Debounce: 400 * time.Millisecond},
	}
}

// Normalize fills in missing/zero values so that partially-filled configs
// still behave correctly.
func (c *Config) Normalize() {
	def := DefaultConfig()
	if c.Listen == "" {
		c.Listen = def.Listen
	}
	if c.LogLevel == "" {
		c.LogLevel = def.LogLevel
	}
	if c.Timezone == "" {
		c.Timezone = def.Timezone
	}
	if c.WorkDay == (availability.WorkDay{}) {
		c.WorkDay = def.WorkDay
	}
	c.Layout.Mode = string(layout.ParseMode(c.Layout.Mode))
	if c.Locale == "" {
		c.Locale = def.Locale
	}
	if c.RefreshCron == "" {
		c.RefreshCron = def.RefreshCron
	}
	if c.HorizonDays <= 0 {
		c.HorizonDays = def.HorizonDays
	}
	if c.ICS == nil {
		c.ICS = []ICSConfig{}
	}
	for i := range c.ICS {
		if c.ICS[i].ID == "" {
			c.ICS[i].ID = c.ICS[i].Name
		}
		if c.ICS[i].CalendarID == "" {
			c.ICS[i].CalendarID = c.ICS[i].ID
		}
	}
	if c.Rooms == nil {
		c.Rooms = []RoomConfig{}
	}
	if c.Storage.Driver == "" {
		c.Storage.Driver = def.Storage.Driver
	}
	if c.Cache.Driver == "" {
		c.Cache.Driver = def.Cache.Driver
	}
	if c.Cache.Prefix == "" {
		c.Cache.Prefix = def.Cache.Prefix
	}
	if c.Cache.TTL <= 0 {
		c.Cache.TTL = def.Cache.TTL
	}
	if c.Conflicts.Debounce <= 0 {
		c.Conflicts.Debounce = def.Conflicts.Debounce
	}
}

// Validate reports every problem that would prevent startup.
func (c *Config) Validate() error {
	var errs []error
	if _, err := tz.Load(c.Timezone); err != nil {
		errs = append(errs, err)
	}
	if err := c.WorkDay.Validate(); err != nil {
		errs = append(errs, err)
	}
	if _, err := cron.ParseStandard(c.RefreshCron); err != nil {
		errs = append(errs, fmt.Errorf("config: refresh %q: %w", c.RefreshCron, err))
	}
	for i, src := range c.ICS {
		if src.URL == "" {
			errs = append(errs, fmt.Errorf("config: ics[%d]: url is empty", i))
		}
		if src.ID == "" {
			errs = append(errs, fmt.Errorf("config: ics[%d]: id or name is required", i))
		}
	}
	switch c.Storage.Driver {
	case "memory":
	case "postgres":
		if c.Storage.DSN == "" {
			errs = append(errs, fmt.Errorf("config: storage.dsn (or %s) is required for postgres", EnvDatabaseURL))
		}
	default:
		errs = append(errs, fmt.Errorf("config: unknown storage driver %q", c.Storage.Driver))
	}
	switch c.Cache.Driver {
	case "memory":
	case "redis":
		if c.Cache.Addr == "" {
			errs = append(errs, fmt.Errorf("config: cache.addr (or %s) is required for redis", EnvRedisAddr))
		}
	default:
		errs = append(errs, fmt.Errorf("config: unknown cache driver %q", c.Cache.Driver))
	}
	return errors.Join(errs...)
}

// LoadDotenv reads KEY=value pairs from path into the process environment.
// Variables already set win. A missing file is not an error.
func LoadDotenv(path string) error {
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("config: load %s: %w", path, err)
	}
	return nil
}

// ApplyEnv overrides secrets from the environment. Empty variables are ignored.
func (c *Config) ApplyEnv() {
	if v := os.Getenv(EnvDatabaseURL); v != "" {
		c.Storage.DSN = v
	}
	if v := os.Getenv(EnvRedisAddr); v != "" {
		c.Cache.Addr = v
	}
	if v := os.Getenv(EnvRedisPassword); v != "" {
		c.Cache.Password = v
	}
	user, pass := os.Getenv(EnvBasicAuthUser), os.Getenv(EnvBasicAuthPassword)
	if user != "" || pass != "" {
		if c.BasicAuth == nil {
			c.BasicAuth = &BasicAuthConfig{}
		}
		if user != "" {
			c.BasicAuth.Username = user
		}
		if pass != "" {
			c.BasicAuth.Password = pass
		}
	}
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist, a default config is written with 0600
//     perms and returned.
//   - Otherwise the YAML is read and defaults are filled in.
//
// Environment overrides are applied after reading, so they never end up in
// the first-run file.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				cfg.ApplyEnv()
				return cfg, err
			}
			cfg.ApplyEnv()
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.Normalize()
	cfg.ApplyEnv()

	return &cfg, nil
}

// Save writes cfg atomically via a temp file + rename, with 0600 perms.
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

	tmp, err := os.CreateTemp(dir, ".calgrid-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
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

// Zone resolves Timezone.
func (c *Config) Zone() (tz.Zone, error) {
	return tz.Load(c.Timezone)
}

// LayoutOptions converts the layout section.
func (c *Config) LayoutOptions() layout.Options {
	return layout.Options{Mode: layout.ParseMode(c.Layout.Mode), ExtendSpans: c.Layout.ExtendSpans}
}
