package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// yamlSafePath converts a filesystem path to a YAML-safe representation.
// On Windows, backslashes in double-quoted YAML strings are interpreted as
// escape sequences, causing parse errors.
func yamlSafePath(p string) string {
	return filepath.ToSlash(p)
}

func TestLoad_DefaultsApplied(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	// Minimal config: everything else comes from defaults
	configContent := `
logging:
  level: "INFO"

manager:
  addr: "http://manager.internal:65003"

storage:
  dir: "` + yamlSafePath(tmpDir) + `/storage"
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Logging.Format != "text" {
		t.Errorf("Expected default format 'text', got %q", cfg.Logging.Format)
	}
	if cfg.Logging.Output != "stdout" {
		t.Errorf("Expected default output 'stdout', got %q", cfg.Logging.Output)
	}
	if cfg.ShutdownTimeout != 30*time.Second {
		t.Errorf("Expected default shutdown_timeout 30s, got %v", cfg.ShutdownTimeout)
	}
	if cfg.Upload.Port != 4000 {
		t.Errorf("Expected default upload port 4000, got %d", cfg.Upload.Port)
	}
	if cfg.Proxy.Port != 4001 {
		t.Errorf("Expected default proxy port 4001, got %d", cfg.Proxy.Port)
	}
	if cfg.Download.SocketPath != "/var/run/peerd/peerd.sock" {
		t.Errorf("Unexpected default download socket: %q", cfg.Download.SocketPath)
	}
	if cfg.Storage.TaskTTL != 6*time.Hour {
		t.Errorf("Expected default task TTL 6h, got %v", cfg.Storage.TaskTTL)
	}
	if cfg.GC.Interval != 15*time.Minute {
		t.Errorf("Expected default GC interval 15m, got %v", cfg.GC.Interval)
	}
	if cfg.Manager.Addr != "http://manager.internal:65003" {
		t.Errorf("Explicit manager addr not preserved: %q", cfg.Manager.Addr)
	}
}

func TestLoad_DurationsParsedFromStrings(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
manager:
  addr: "http://manager.internal:65003"
  announce_interval: "90s"

storage:
  dir: "` + yamlSafePath(tmpDir) + `/storage"
  task_ttl: "12h"

shutdown_timeout: "45s"

dynconfig:
  refresh_interval: "2m"
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Manager.AnnounceInterval != 90*time.Second {
		t.Errorf("Expected announce interval 90s, got %v", cfg.Manager.AnnounceInterval)
	}
	if cfg.Storage.TaskTTL != 12*time.Hour {
		t.Errorf("Expected task TTL 12h, got %v", cfg.Storage.TaskTTL)
	}
	if cfg.ShutdownTimeout != 45*time.Second {
		t.Errorf("Expected shutdown timeout 45s, got %v", cfg.ShutdownTimeout)
	}
	if cfg.Dynconfig.RefreshInterval != 2*time.Minute {
		t.Errorf("Expected refresh interval 2m, got %v", cfg.Dynconfig.RefreshInterval)
	}
}

func TestLoad_NoConfigFile(t *testing.T) {
	// Loading with no config file returns a valid default config.
	// This allows quick local testing without writing a config first.
	tmpDir := t.TempDir()
	nonExistentPath := filepath.Join(tmpDir, "nonexistent.yaml")

	cfg, err := Load(nonExistentPath)
	if err != nil {
		t.Fatalf("Expected no error when loading default config, got: %v", err)
	}

	if cfg == nil {
		t.Fatal("Expected default config to be returned")
	}
	if cfg.Upload.Port != 4000 {
		t.Errorf("Expected default upload port 4000, got %d", cfg.Upload.Port)
	}
	if cfg.Storage.Dir == "" {
		t.Error("Expected default storage dir to be set")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid.yaml")

	configContent := `
logging:
  level: INFO
  invalid yaml here [[[
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("Expected error with invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
manager:
  addr: "http://manager.internal:65003"

storage:
  dir: "` + yamlSafePath(tmpDir) + `/storage"

upload:
  port: 99999
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	_, err := Load(configPath)
	if err == nil {
		t.Fatal("Expected validation error for out-of-range port")
	}
	if !strings.Contains(err.Error(), "validation") {
		t.Errorf("Expected validation error, got: %v", err)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
logging:
  level: "INFO"

manager:
  addr: "http://manager.internal:65003"

storage:
  dir: "` + yamlSafePath(tmpDir) + `/storage"
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	t.Setenv("PEERD_LOGGING_LEVEL", "DEBUG")

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Logging.Level != "DEBUG" {
		t.Errorf("Expected env override to set level DEBUG, got %q", cfg.Logging.Level)
	}
}

func TestMustLoad_MissingExplicitFile(t *testing.T) {
	tmpDir := t.TempDir()
	missing := filepath.Join(tmpDir, "missing.yaml")

	_, err := MustLoad(missing)
	if err == nil {
		t.Fatal("Expected error for missing explicit config file")
	}
	if !strings.Contains(err.Error(), "peerd init") {
		t.Errorf("Expected actionable error mentioning 'peerd init', got: %v", err)
	}
}

func TestSaveConfig_RoundTrip(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "nested", "config.yaml")

	cfg := GetDefaultConfig()
	cfg.Logging.Level = "DEBUG"
	cfg.Host.SeedPeer = true

	if err := SaveConfig(cfg, configPath); err != nil {
		t.Fatalf("Failed to save config: %v", err)
	}

	// Saved with restricted permissions
	info, err := os.Stat(configPath)
	if err != nil {
		t.Fatalf("Saved config missing: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("Expected 0600 permissions, got %o", perm)
	}

	loaded, err := Load(configPath)
	if err != nil {
		t.Fatalf("Failed to reload saved config: %v", err)
	}
	if loaded.Logging.Level != "DEBUG" {
		t.Errorf("Expected level DEBUG after round trip, got %q", loaded.Logging.Level)
	}
	if !loaded.Host.SeedPeer {
		t.Error("Expected seed_peer true after round trip")
	}
}

func TestGetDefaultConfigPath_RespectsXDG(t *testing.T) {
	tmpDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", tmpDir)

	want := filepath.Join(tmpDir, "peerd", "config.yaml")
	if got := GetDefaultConfigPath(); got != want {
		t.Errorf("Expected %q, got %q", want, got)
	}
}
