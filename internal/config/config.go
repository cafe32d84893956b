// Package config loads the daemon configuration from JSON, YAML or TOML,
// chosen by file extension.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config holds all evosync configuration
type Config struct {
	// Local daemon: API port, data dir, logging
	Server ServerConfig `json:"server" yaml:"server" toml:"server"`

	// Queue persistence
	Store StoreConfig `json:"store" yaml:"store" toml:"store"`

	// Remote sync service
	Remote RemoteConfig `json:"remote" yaml:"remote" toml:"remote"`

	// Connectivity probing
	Network NetworkConfig `json:"network" yaml:"network" toml:"network"`

	// Drain behaviour
	Sync SyncConfig `json:"sync" yaml:"sync" toml:"sync"`

	// Optional MQTT bridge
	MQTT MQTTConfig `json:"mqtt" yaml:"mqtt" toml:"mqtt"`

	// Local API auth
	API APIConfig `json:"api" yaml:"api" toml:"api"`
}

type ServerConfig struct {
	Port          int    `json:"port" yaml:"port" toml:"port"`
	DataDir       string `json:"dataDir" yaml:"dataDir" toml:"dataDir"`
	LogLevel      string `json:"logLevel" yaml:"logLevel" toml:"logLevel"`
	LogFile       string `json:"logFile,omitempty" yaml:"logFile,omitempty" toml:"logFile,omitempty"`
	LogMaxSizeMB  int    `json:"logMaxSizeMB,omitempty" yaml:"logMaxSizeMB,omitempty" toml:"logMaxSizeMB,omitempty"`
	LogMaxBackups int    `json:"logMaxBackups,omitempty" yaml:"logMaxBackups,omitempty" toml:"logMaxBackups,omitempty"`
}

type StoreConfig struct {
	Backend   string `json:"backend" yaml:"backend" toml:"backend"` // "sqlite", "file", "memory"
	Namespace string `json:"namespace" yaml:"namespace" toml:"namespace"`
}

type RemoteConfig struct {
	BaseURL             string `json:"baseUrl" yaml:"baseUrl" toml:"baseUrl"`
	Token               string `json:"token,omitempty" yaml:"token,omitempty" toml:"token,omitempty"`
	TokenFile           string `json:"tokenFile,omitempty" yaml:"tokenFile,omitempty" toml:"tokenFile,omitempty"`
	TimeoutSeconds      int    `json:"timeoutSeconds" yaml:"timeoutSeconds" toml:"timeoutSeconds"`
	MaxRetries          int    `json:"maxRetries" yaml:"maxRetries" toml:"maxRetries"`
	ExpiryLeewaySeconds int    `json:"expiryLeewaySeconds,omitempty" yaml:"expiryLeewaySeconds,omitempty" toml:"expiryLeewaySeconds,omitempty"`
}

type NetworkConfig struct {
	// ProbeURL defaults to Remote.BaseURL when empty.
	ProbeURL             string `json:"probeUrl,omitempty" yaml:"probeUrl,omitempty" toml:"probeUrl,omitempty"`
	ProbeIntervalSeconds int    `json:"probeIntervalSeconds" yaml:"probeIntervalSeconds" toml:"probeIntervalSeconds"`
	ProbeTimeoutSeconds  int    `json:"probeTimeoutSeconds" yaml:"probeTimeoutSeconds" toml:"probeTimeoutSeconds"`
}

type SyncConfig struct {
	AutoSync        bool   `json:"autoSync" yaml:"autoSync" toml:"autoSync"`
	IntervalMinutes int    `json:"intervalMinutes" yaml:"intervalMinutes" toml:"intervalMinutes"`
	Cron            string `json:"cron,omitempty" yaml:"cron,omitempty" toml:"cron,omitempty"` // overrides intervalMinutes
	Timezone        string `json:"timezone,omitempty" yaml:"timezone,omitempty" toml:"timezone,omitempty"`
	FollowUpDelayMs int    `json:"followUpDelayMs" yaml:"followUpDelayMs" toml:"followUpDelayMs"`
	MaxAttempts     int    `json:"maxAttempts" yaml:"maxAttempts" toml:"maxAttempts"`
	MaxListeners    int    `json:"maxListeners" yaml:"maxListeners" toml:"maxListeners"`
}

type MQTTConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled" toml:"enabled"`
	Host     string `json:"host" yaml:"host" toml:"host"`
	Port     int    `json:"port" yaml:"port" toml:"port"`
	Username string `json:"username,omitempty" yaml:"username,omitempty" toml:"username,omitempty"`
	Password string `json:"password,omitempty" yaml:"password,omitempty" toml:"password,omitempty"`
	DeviceID string `json:"deviceId,omitempty" yaml:"deviceId,omitempty" toml:"deviceId,omitempty"`
}

type APIConfig struct {
	// JWTSecret enables bearer auth on the local API when set.
	JWTSecret string `json:"jwtSecret,omitempty" yaml:"jwtSecret,omitempty" toml:"jwtSecret,omitempty"`
}

// Environment variables that override file values.
const (
	EnvRemoteToken = "EVOSYNC_REMOTE_TOKEN"
	EnvJWTSecret   = "EVOSYNC_JWT_SECRET"
)

// DefaultConfig returns a sensible default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:          8421,
			DataDir:       "./data",
			LogLevel:      "info",
			LogMaxSizeMB:  50,
			LogMaxBackups: 3,
		},
		Store: StoreConfig{
			Backend:   "sqlite",
			Namespace: "evosync",
		},
		Remote: RemoteConfig{
			BaseURL:        "http://localhost:8080/api",
			TimeoutSeconds: 30,
			MaxRetries:     3,
		},
		Network: NetworkConfig{
			ProbeIntervalSeconds: 30,
			ProbeTimeoutSeconds:  5,
		},
		Sync: SyncConfig{
			AutoSync:        true,
			IntervalMinutes: 5,
			FollowUpDelayMs: 1000,
			MaxAttempts:     3,
			MaxListeners:    32,
		},
		MQTT: MQTTConfig{
			Host: "localhost",
			Port: 1883,
		},
	}
}

// Load reads config from path, layering it over DefaultConfig.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg, err := parse(path, data)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(cfg.Server.DataDir, 0750); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	return cfg, nil
}

// Save writes config to path in the format its extension names.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	var data []byte
	var err error
	switch format(path) {
	case "yaml":
		data, err = yaml.Marshal(c)
	case "toml":
		var buf bytes.Buffer
		err = toml.NewEncoder(&buf).Encode(c)
		data = buf.Bytes()
	default:
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0640)
}

// Validate checks values that would otherwise fail later at startup.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", c.Server.Port)
	}
	switch c.Store.Backend {
	case "", "sqlite", "file", "memory":
	default:
		return fmt.Errorf("unknown store.backend: %q (use sqlite, file or memory)", c.Store.Backend)
	}
	if c.Remote.BaseURL == "" {
		return fmt.Errorf("remote.baseUrl is required")
	}
	if c.Sync.IntervalMinutes <= 0 && c.Sync.Cron == "" {
		return fmt.Errorf("sync.intervalMinutes must be positive when sync.cron is empty")
	}
	if c.Sync.MaxAttempts < 0 || c.Sync.MaxListeners < 0 || c.Sync.FollowUpDelayMs < 0 {
		return fmt.Errorf("sync limits must not be negative")
	}
	if c.MQTT.Enabled && c.MQTT.Host == "" {
		return fmt.Errorf("mqtt.host is required when mqtt is enabled")
	}
	return nil
}

// ProbeURL returns the URL the network monitor should probe.
func (c *Config) ProbeURL() string {
	if c.Network.ProbeURL != "" {
		return c.Network.ProbeURL
	}
	return c.Remote.BaseURL
}

func parse(path string, data []byte) (*Config, error) {
	cfg := DefaultConfig()

	var err error
	switch format(path) {
	case "yaml":
		err = yaml.Unmarshal(data, cfg)
	case "toml":
		err = toml.Unmarshal(data, cfg)
	default:
		err = json.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvRemoteToken); v != "" {
		c.Remote.Token = v
	}
	if v := os.Getenv(EnvJWTSecret); v != "" {
		c.API.JWTSecret = v
	}
}

func format(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return "yaml"
	case ".toml":
		return "toml"
	default:
		return "json"
	}
}
