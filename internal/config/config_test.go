package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadFromMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadFrom(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if cfg.General.Timezone != "UTC" {
		t.Fatalf("Timezone = %q, want UTC", cfg.General.Timezone)
	}
	if cfg.Thresholds.AnomalyMultiplier != 3.0 {
		t.Fatalf("AnomalyMultiplier = %v, want 3.0", cfg.Thresholds.AnomalyMultiplier)
	}
	if cfg.Store.LockTimeout != 5*time.Second {
		t.Fatalf("LockTimeout = %v, want 5s", cfg.Store.LockTimeout)
	}
	if cfg.Store.SnapshotTTL != time.Second {
		t.Fatalf("SnapshotTTL = %v, want 1s", cfg.Store.SnapshotTTL)
	}
	if cfg.General.EventsFile == "" || cfg.General.CursorDB == "" {
		t.Fatal("derived paths not filled")
	}
}

func TestLoadFromParsesOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	body := `
[general]
timezone = "Europe/Amsterdam"
main_session_key = "primary"

[thresholds]
anomaly_multiplier = 4.5

[store]
snapshot_ttl_ms = 250
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := LoadFrom(path)
	if err != nil {
		t.Fatalf("LoadFrom: %v", err)
	}
	if cfg.General.Timezone != "Europe/Amsterdam" {
		t.Fatalf("Timezone = %q", cfg.General.Timezone)
	}
	if cfg.General.MainSessionKey != "primary" {
		t.Fatalf("MainSessionKey = %q", cfg.General.MainSessionKey)
	}
	if cfg.Thresholds.AnomalyMultiplier != 4.5 {
		t.Fatalf("AnomalyMultiplier = %v", cfg.Thresholds.AnomalyMultiplier)
	}
	if cfg.Store.SnapshotTTL != 250*time.Millisecond {
		t.Fatalf("SnapshotTTL = %v, want 250ms", cfg.Store.SnapshotTTL)
	}
	// Unset thresholds keep their defaults.
	if cfg.Thresholds.CacheHitWarn != 0.75 {
		t.Fatalf("CacheHitWarn = %v, want 0.75", cfg.Thresholds.CacheHitWarn)
	}
}

func TestLocationFallsBackToUTC(t *testing.T) {
	cfg := DefaultConfig()
	cfg.General.Timezone = "Not/AZone"
	if loc := cfg.Location(); loc != time.UTC {
		t.Fatalf("Location() = %v, want UTC", loc)
	}
}

func TestProviderAPIKeyEnvWins(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Provider.APIKey = "from-config"

	t.Setenv("COSTPILOT_PROVIDER_API_KEY", "from-env")
	if got := cfg.ProviderAPIKey(); got != "from-env" {
		t.Fatalf("ProviderAPIKey() = %q, want env value", got)
	}

	t.Setenv("COSTPILOT_PROVIDER_API_KEY", "")
	if got := cfg.ProviderAPIKey(); got != "from-config" {
		t.Fatalf("ProviderAPIKey() = %q, want config value", got)
	}
}
