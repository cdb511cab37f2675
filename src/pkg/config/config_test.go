package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfigMissingFileKeepsDefaults(t *testing.T) {
	var cfg Config
	if e := LoadConfig(filepath.Join(t.TempDir(), "absent.json"), &cfg); e != nil {
		t.Fatalf("LoadConfig returned error: %v", e)
	}
	if cfg.Location.DeviceTimeoutMs != 3000 {
		t.Errorf("DeviceTimeoutMs = %d, want 3000", cfg.Location.DeviceTimeoutMs)
	}
	if cfg.Storage.MinFreeBytes != 50*1024*1024 {
		t.Errorf("MinFreeBytes = %d, want 50 MiB", cfg.Storage.MinFreeBytes)
	}
}

func TestLoadConfigTOMLFillsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[storage]
data_dir = "/tmp/safe-bite"

[location]
default_country_code = "JP"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	var cfg Config
	if e := LoadConfig(path, &cfg); e != nil {
		t.Fatalf("LoadConfig returned error: %v", e)
	}
	if cfg.Location.DefaultCountryCode != "JP" {
		t.Errorf("DefaultCountryCode = %q, want JP", cfg.Location.DefaultCountryCode)
	}
	if cfg.Analyzer.Model == "" {
		t.Error("Analyzer.Model should fall back to the default")
	}
	if got, want := cfg.ImageDir(), filepath.Join("/tmp/safe-bite", "images"); got != want {
		t.Errorf("ImageDir() = %q, want %q", got, want)
	}
}

func TestLoadConfigJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	content := `{"storage":{"data_dir":"/srv/sb","image_dir":"/srv/photos"},"server":{"port":9000}}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	var cfg Config
	if e := LoadConfig(path, &cfg); e != nil {
		t.Fatalf("LoadConfig returned error: %v", e)
	}
	if cfg.ImageDir() != "/srv/photos" {
		t.Errorf("ImageDir() = %q, want /srv/photos", cfg.ImageDir())
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("Server.Port = %d, want 9000", cfg.Server.Port)
	}
	if cfg.Server.Address == "" {
		t.Error("Server.Address should fall back to the default")
	}
}

func TestLoadConfigMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	var cfg Config
	if e := LoadConfig(path, &cfg); e == nil {
		t.Fatal("LoadConfig should fail on malformed JSON")
	}
}

func TestGetPackageName(t *testing.T) {
	if got := GetPackageName(); got != "config" {
		t.Errorf("GetPackageName() = %q, want config", got)
	}
}
