// Package config holds costpilot configuration and the model pricing table.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds all costpilot configuration.
type Config struct {
	General    GeneralConfig    `toml:"general"`
	Thresholds ThresholdsConfig `toml:"thresholds"`
	Forecast   ForecastConfig   `toml:"forecast"`
	Store      StoreConfig      `toml:"store"`
	Server     ServerConfig     `toml:"server"`
	Provider   ProviderConfig   `toml:"provider"`
	Pricing    PricingOverrides `toml:"pricing"`
}

// GeneralConfig holds paths and the aggregation timezone.
type GeneralConfig struct {
	Timezone    string `toml:"timezone"`
	LogLevel    string `toml:"log_level"`
	SessionsDir string `toml:"sessions_dir,omitempty"`
	EventsFile  string `toml:"events_file,omitempty"`
	ArchiveFile string `toml:"archive_file,omitempty"`
	CursorDB    string `toml:"cursor_db,omitempty"`

	// MainSessionKey names the primary interactive session. Several
	// advisory rules single it out.
	MainSessionKey string `toml:"main_session_key"`

	// DailyRestartMarker is the path of the scheduled-restart marker
	// file. Empty means no scheduled restart is configured.
	DailyRestartMarker string `toml:"daily_restart_marker,omitempty"`
}

// ThresholdsConfig holds the tunables behind anomaly detection and the
// advisory rule catalog. Policy lives here, not at use sites.
type ThresholdsConfig struct {
	AnomalyMultiplier     float64 `toml:"anomaly_multiplier"`
	AnomalyMinOccurrences int     `toml:"anomaly_min_occurrences"`
	RecurringMinCount     int     `toml:"recurring_min_count"`

	CacheHitWarn        float64 `toml:"cache_hit_warn"`
	MainShareWarn       float64 `toml:"main_share_warn"`
	LongSessionHours    float64 `toml:"long_session_hours"`
	LongSessionCacheHit float64 `toml:"long_session_cache_hit"`

	BurstMaxCount   int     `toml:"burst_max_count"`
	BurstAvgMsgs    float64 `toml:"burst_avg_msgs"`
	BurstGapMinutes int     `toml:"burst_gap_minutes"`

	PeakStartHour int     `toml:"peak_start_hour"`
	PeakEndHour   int     `toml:"peak_end_hour"`
	PeakShareWarn float64 `toml:"peak_share_warn"`

	CronFloodSessions int     `toml:"cron_flood_sessions"`
	CronMainShare     float64 `toml:"cron_main_share"`
}

// ForecastConfig controls the spend forecaster.
type ForecastConfig struct {
	Days int `toml:"days"`
}

// StoreConfig controls event-store locking and the snapshot cache.
// The duration fields are derived from the scalar TOML fields on load.
type StoreConfig struct {
	LockTimeoutSec    float64 `toml:"lock_timeout_sec"`
	LockStaleAfterSec float64 `toml:"lock_stale_after_sec"`
	SnapshotTTLMillis int     `toml:"snapshot_ttl_ms"`

	LockTimeout    time.Duration `toml:"-"`
	LockStaleAfter time.Duration `toml:"-"`
	SnapshotTTL    time.Duration `toml:"-"`
}

// ServerConfig holds the analytics HTTP service settings.
type ServerConfig struct {
	Addr string `toml:"addr"`
}

// ProviderConfig holds usage-API settings for provider mode.
type ProviderConfig struct {
	APIKey  string `toml:"api_key,omitempty"`
	BaseURL string `toml:"base_url,omitempty"`
}

// PricingOverrides allows user-defined pricing for specific models.
type PricingOverrides struct {
	Overrides map[string]ModelPricingOverride `toml:"overrides,omitempty"`
}

// ModelPricingOverride holds per-model pricing overrides ($/MTok).
type ModelPricingOverride struct {
	InputPerMTok      *float64 `toml:"input_per_mtok,omitempty"`
	OutputPerMTok     *float64 `toml:"output_per_mtok,omitempty"`
	CacheReadPerMTok  *float64 `toml:"cache_read_per_mtok,omitempty"`
	CacheWritePerMTok *float64 `toml:"cache_write_per_mtok,omitempty"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		General: GeneralConfig{
			Timezone:       "UTC",
			LogLevel:       "info",
			MainSessionKey: "main",
		},
		Thresholds: ThresholdsConfig{
			AnomalyMultiplier:     3.0,
			AnomalyMinOccurrences: 3,
			RecurringMinCount:     3,
			CacheHitWarn:          0.75,
			MainShareWarn:         0.70,
			LongSessionHours:      4.0,
			LongSessionCacheHit:   0.80,
			BurstMaxCount:         5,
			BurstAvgMsgs:          3.0,
			BurstGapMinutes:       10,
			PeakStartHour:         9,
			PeakEndHour:           18,
			PeakShareWarn:         0.30,
			CronFloodSessions:     5,
			CronMainShare:         0.60,
		},
		Forecast: ForecastConfig{Days: 7},
		Store: StoreConfig{
			LockTimeoutSec:    5,
			LockStaleAfterSec: 60,
			SnapshotTTLMillis: 1000,
		},
		Server: ServerConfig{Addr: "127.0.0.1:8742"},
	}
}

// ConfigDir returns the XDG-compliant config directory.
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "costpilot")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "costpilot")
}

// DataDir returns the XDG-compliant data directory where the event
// log, archive, and cursor database live by default.
func DataDir() string {
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "costpilot")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "costpilot")
}

// ConfigPath returns the full path to the config file.
func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.toml")
}

// Load reads the config file, returning defaults if it doesn't exist.
func Load() (Config, error) {
	return LoadFrom(ConfigPath())
}

// LoadFrom reads config from an explicit path.
func LoadFrom(path string) (Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyDerived()
			return cfg, nil
		}
		return cfg, fmt.Errorf("reading config: %w", err)
	}

	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config: %w", err)
	}

	cfg.applyDerived()
	return cfg, nil
}

// Save writes the config to disk.
func Save(cfg Config) error {
	dir := ConfigDir()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}

	f, err := os.OpenFile(ConfigPath(), os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("creating config file: %w", err)
	}
	defer f.Close()

	enc := toml.NewEncoder(f)
	return enc.Encode(cfg)
}

// applyDerived fills defaulted paths and converts the scalar duration
// fields into time.Duration values.
func (c *Config) applyDerived() {
	data := DataDir()
	if c.General.EventsFile == "" {
		c.General.EventsFile = filepath.Join(data, "cost-events.jsonl")
	}
	if c.General.ArchiveFile == "" {
		c.General.ArchiveFile = filepath.Join(data, "cost-events-archive.jsonl")
	}
	if c.General.CursorDB == "" {
		c.General.CursorDB = filepath.Join(data, "cursors.db")
	}
	if c.General.SessionsDir == "" {
		home, _ := os.UserHomeDir()
		c.General.SessionsDir = filepath.Join(home, ".openclaw", "agents", "main", "sessions")
	}
	if c.General.MainSessionKey == "" {
		c.General.MainSessionKey = "main"
	}
	if c.Store.LockTimeoutSec <= 0 {
		c.Store.LockTimeoutSec = 5
	}
	if c.Store.LockStaleAfterSec <= 0 {
		c.Store.LockStaleAfterSec = 60
	}
	if c.Store.SnapshotTTLMillis <= 0 {
		c.Store.SnapshotTTLMillis = 1000
	}
	c.Store.LockTimeout = time.Duration(c.Store.LockTimeoutSec * float64(time.Second))
	c.Store.LockStaleAfter = time.Duration(c.Store.LockStaleAfterSec * float64(time.Second))
	c.Store.SnapshotTTL = time.Duration(c.Store.SnapshotTTLMillis) * time.Millisecond
}

// Location resolves the configured timezone, falling back to UTC.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.General.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// ProviderAPIKey returns the usage-API key from env var or config, in
// that order.
func (c *Config) ProviderAPIKey() string {
	if key := os.Getenv("COSTPILOT_PROVIDER_API_KEY"); key != "" {
		return key
	}
	return c.Provider.APIKey
}

// Exists returns true if a config file exists on disk.
func Exists() bool {
	_, err := os.Stat(ConfigPath())
	return err == nil
}
