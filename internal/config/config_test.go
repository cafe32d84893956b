package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Server.Port != 8421 {
		t.Errorf("expected port 8421, got %d", cfg.Server.Port)
	}
	if cfg.Server.LogLevel != "info" {
		t.Errorf("expected logLevel info, got %s", cfg.Server.LogLevel)
	}
	if cfg.Store.Backend != "sqlite" {
		t.Errorf("expected sqlite backend, got %s", cfg.Store.Backend)
	}
	if !cfg.Sync.AutoSync {
		t.Error("expected auto sync enabled by default")
	}
	if cfg.Sync.IntervalMinutes != 5 {
		t.Errorf("expected 5 minute interval, got %d", cfg.Sync.IntervalMinutes)
	}
	if cfg.Sync.FollowUpDelayMs != 1000 {
		t.Errorf("expected 1000ms follow-up, got %d", cfg.Sync.FollowUpDelayMs)
	}
	if cfg.Sync.MaxAttempts != 3 {
		t.Errorf("expected 3 max attempts, got %d", cfg.Sync.MaxAttempts)
	}
	if cfg.Remote.MaxRetries != 3 {
		t.Errorf("expected 3 max retries, got %d", cfg.Remote.MaxRetries)
	}
	if cfg.MQTT.Enabled {
		t.Error("expected MQTT disabled by default")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestLoadFormats(t *testing.T) {
	dir := t.TempDir()
	dataDir := filepath.Join(dir, "data")

	files := map[string]string{
		"config.json": `{"server":{"port":9000,"dataDir":"` + dataDir + `"},"sync":{"intervalMinutes":2},"remote":{"baseUrl":"https://api.example.com"}}`,
		"config.yaml": "server:\n  port: 9000\n  dataDir: " + dataDir + "\nsync:\n  intervalMinutes: 2\nremote:\n  baseUrl: https://api.example.com\n",
		"config.toml": "[server]\nport = 9000\ndataDir = \"" + dataDir + "\"\n\n[sync]\nintervalMinutes = 2\n\n[remote]\nbaseUrl = \"https://api.example.com\"\n",
	}

	for name, body := range files {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)
			if err := os.WriteFile(path, []byte(body), 0644); err != nil {
				t.Fatal(err)
			}

			cfg, err := Load(path)
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			if cfg.Server.Port != 9000 {
				t.Errorf("expected port 9000, got %d", cfg.Server.Port)
			}
			if cfg.Sync.IntervalMinutes != 2 {
				t.Errorf("expected interval 2, got %d", cfg.Sync.IntervalMinutes)
			}
			if cfg.Remote.BaseURL != "https://api.example.com" {
				t.Errorf("unexpected baseUrl %s", cfg.Remote.BaseURL)
			}
			// Unset fields keep defaults.
			if cfg.Sync.MaxAttempts != 3 {
				t.Errorf("expected default max attempts, got %d", cfg.Sync.MaxAttempts)
			}
			if !cfg.Sync.AutoSync {
				t.Error("expected default auto sync")
			}
			if _, err := os.Stat(dataDir); err != nil {
				t.Errorf("data dir not created: %v", err)
			}
		})
	}
}

func TestLoadConfigFileNotFound(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestLoadInvalidFile(t *testing.T) {
	dir := t.TempDir()
	for name, body := range map[string]string{
		"bad.json": "{not json",
		"bad.yaml": "server: [unclosed",
		"bad.toml": "[server\nport = ",
	} {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(body), 0644); err != nil {
			t.Fatal(err)
		}
		if _, err := Load(path); err == nil {
			t.Errorf("%s: expected parse error", name)
		}
	}
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"out.json", "out.yaml", "nested/out.toml"} {
		path := filepath.Join(dir, name)

		cfg := DefaultConfig()
		cfg.Server.DataDir = filepath.Join(dir, "data")
		cfg.Sync.Cron = "*/10 * * * *"
		cfg.MQTT.Enabled = true
		cfg.MQTT.DeviceID = "dev-1"

		if err := cfg.Save(path); err != nil {
			t.Fatalf("%s: Save failed: %v", name, err)
		}

		loaded, err := Load(path)
		if err != nil {
			t.Fatalf("%s: Load failed: %v", name, err)
		}
		if loaded.Sync.Cron != cfg.Sync.Cron || loaded.MQTT.DeviceID != "dev-1" || !loaded.MQTT.Enabled {
			t.Errorf("%s: round trip lost fields: %+v", name, loaded)
		}
	}
}

func TestSaveFormatByExtension(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()

	jsonPath := filepath.Join(dir, "c.json")
	if err := cfg.Save(jsonPath); err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(jsonPath)
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		t.Errorf("json output not valid JSON: %v", err)
	}

	yamlPath := filepath.Join(dir, "c.yml")
	if err := cfg.Save(yamlPath); err != nil {
		t.Fatal(err)
	}
	data, _ = os.ReadFile(yamlPath)
	if !strings.Contains(string(data), "autoSync: true") {
		t.Errorf("yaml output missing autoSync:\n%s", data)
	}

	tomlPath := filepath.Join(dir, "c.toml")
	if err := cfg.Save(tomlPath); err != nil {
		t.Fatal(err)
	}
	data, _ = os.ReadFile(tomlPath)
	if !strings.Contains(string(data), "[sync]") {
		t.Errorf("toml output missing [sync] table:\n%s", data)
	}
}

func TestEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.json")
	body := `{"server":{"dataDir":"` + filepath.Join(dir, "data") + `"},"remote":{"token":"from-file"}}`
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}

	t.Setenv(EnvRemoteToken, "from-env")
	t.Setenv(EnvJWTSecret, "s3cret")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Remote.Token != "from-env" {
		t.Errorf("expected env token, got %q", cfg.Remote.Token)
	}
	if cfg.API.JWTSecret != "s3cret" {
		t.Errorf("expected env jwt secret, got %q", cfg.API.JWTSecret)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad port", func(c *Config) { c.Server.Port = 0 }},
		{"unknown backend", func(c *Config) { c.Store.Backend = "redis" }},
		{"no base url", func(c *Config) { c.Remote.BaseURL = "" }},
		{"no interval", func(c *Config) { c.Sync.IntervalMinutes = 0 }},
		{"negative attempts", func(c *Config) { c.Sync.MaxAttempts = -1 }},
		{"mqtt without host", func(c *Config) { c.MQTT.Enabled = true; c.MQTT.Host = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}

	cfg := DefaultConfig()
	cfg.Sync.IntervalMinutes = 0
	cfg.Sync.Cron = "0 * * * *"
	if err := cfg.Validate(); err != nil {
		t.Errorf("cron without interval should validate: %v", err)
	}
}

func TestProbeURL(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.ProbeURL() != cfg.Remote.BaseURL {
		t.Errorf("expected probe url to default to base url, got %s", cfg.ProbeURL())
	}
	cfg.Network.ProbeURL = "https://probe.example.com"
	if cfg.ProbeURL() != "https://probe.example.com" {
		t.Errorf("expected explicit probe url, got %s", cfg.ProbeURL())
	}
}

func TestLoad_MkdirAllError(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	if err := os.WriteFile(blocker, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "config.json")
	body := `{"server":{"dataDir":"` + filepath.Join(blocker, "data") + `"}}`
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected error when data dir cannot be created")
	}
}
