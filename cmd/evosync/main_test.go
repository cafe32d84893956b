package main

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/clawinfra/evosync/internal/config"
	"github.com/clawinfra/evosync/internal/queue"
)

// writeConfig saves a config rooted in a temp dir and returns its path.
func writeConfig(t *testing.T, mutate func(*config.Config)) string {
	t.Helper()
	dir := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.Server.DataDir = filepath.Join(dir, "data")
	cfg.Server.Port = freePort(t)
	cfg.Store.Backend = "memory"
	cfg.Network.ProbeURL = "http://127.0.0.1:1/health"
	if mutate != nil {
		mutate(cfg)
	}
	path := filepath.Join(dir, "evosync.yaml")
	if err := cfg.Save(path); err != nil {
		t.Fatalf("save config: %v", err)
	}
	return path
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := parseLogLevel(tt.in); got != tt.want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestLoadConfigCreatesDefault(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := loadConfig("evosync.yaml", slog.Default())
	if err != nil {
		t.Fatalf("loadConfig: %v", err)
	}
	if cfg.Server.Port != 8421 {
		t.Errorf("port = %d", cfg.Server.Port)
	}
	if _, err := os.Stat("evosync.yaml"); err != nil {
		t.Errorf("default config not written: %v", err)
	}
	if _, err := os.Stat(cfg.Server.DataDir); err != nil {
		t.Errorf("data dir not created: %v", err)
	}
}

func TestLoadConfigInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "evosync.json")
	if err := os.WriteFile(path, []byte("{not json"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := loadConfig(path, slog.Default()); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestSetup(t *testing.T) {
	path := writeConfig(t, func(c *config.Config) {
		c.API.JWTSecret = "secret"
	})

	app, err := setup(path)
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	defer app.Close()

	if app.Store == nil || app.Manager == nil || app.APIServer == nil || app.Hub == nil {
		t.Fatal("components not built")
	}
	if app.MQTT != nil {
		t.Error("mqtt bridge should be off by default")
	}

	item, err := app.Manager.Enqueue(context.Background(), queue.NewItem{
		TableName: "notes", RecordID: "n1", Operation: queue.OperationCreate,
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if item.MaxAttempts != 3 {
		t.Errorf("max attempts = %d, want config default", item.MaxAttempts)
	}
}

func TestSetupWithMQTT(t *testing.T) {
	path := writeConfig(t, func(c *config.Config) {
		c.MQTT.Enabled = true
		c.MQTT.DeviceID = "dev-1"
	})
	app, err := setup(path)
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	defer app.Close()
	if app.MQTT == nil {
		t.Fatal("expected mqtt bridge")
	}
}

func TestSetupRejectsInvalidConfig(t *testing.T) {
	path := writeConfig(t, func(c *config.Config) {
		c.Store.Backend = "cassandra"
	})
	if _, err := setup(path); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}

func TestNewLoggerToFile(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Server.LogFile = filepath.Join(t.TempDir(), "evosync.log")

	level := new(slog.LevelVar)
	logger, closer := newLogger(cfg, level, &bytes.Buffer{})
	if closer == nil {
		t.Fatal("expected closer for file logger")
	}
	logger.Info("hello from test", "k", "v")
	if err := closer.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	data, err := os.ReadFile(cfg.Server.LogFile)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), "hello from test") {
		t.Errorf("log file = %q", data)
	}
}

func TestNewLoggerStdout(t *testing.T) {
	var buf bytes.Buffer
	level := new(slog.LevelVar)
	level.Set(slog.LevelWarn)

	logger, closer := newLogger(config.DefaultConfig(), level, &buf)
	if closer != nil {
		t.Error("stdout logger needs no closer")
	}
	logger.Info("dropped")
	logger.Warn("kept")
	if strings.Contains(buf.String(), "dropped") || !strings.Contains(buf.String(), "kept") {
		t.Errorf("output = %q", buf.String())
	}
}

func TestTokenSourcePrefersFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "token")
	if err := os.WriteFile(file, []byte("from-file\n"), 0600); err != nil {
		t.Fatal(err)
	}
	cfg := config.DefaultConfig()
	cfg.Remote.Token = "inline"
	cfg.Remote.TokenFile = file

	tok, err := tokenSource(cfg).Token(context.Background())
	if err != nil || tok != "from-file" {
		t.Errorf("token = %q, %v", tok, err)
	}

	cfg.Remote.TokenFile = ""
	tok, err = tokenSource(cfg).Token(context.Background())
	if err != nil || tok != "inline" {
		t.Errorf("token = %q, %v", tok, err)
	}
}

func TestReloadConfigAppliesHotFields(t *testing.T) {
	path := writeConfig(t, nil)
	app, err := setup(path)
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	defer app.Close()

	updated := *app.Config
	updated.Server.LogLevel = "debug"
	updated.Sync.AutoSync = false
	updated.Sync.IntervalMinutes = 9
	if err := updated.Save(path); err != nil {
		t.Fatal(err)
	}

	app.reloadConfig()

	if app.LogLevel.Level() != slog.LevelDebug {
		t.Errorf("log level = %v", app.LogLevel.Level())
	}
	if app.Manager.AutoSyncEnabled() {
		t.Error("auto sync should be off after reload")
	}
}

func TestRunServesUntilStopped(t *testing.T) {
	probe := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer probe.Close()

	path := writeConfig(t, func(c *config.Config) {
		c.Network.ProbeURL = probe.URL
	})
	app, err := setup(path)
	if err != nil {
		t.Fatalf("setup: %v", err)
	}
	defer app.Close()

	healthURL := fmt.Sprintf("http://127.0.0.1:%d/api/health", app.Config.Server.Port)
	var healthy bool
	stop := func(ctx context.Context) {
		deadline := time.Now().Add(5 * time.Second)
		for time.Now().Before(deadline) {
			resp, err := http.Get(healthURL)
			if err == nil {
				resp.Body.Close()
				healthy = resp.StatusCode == http.StatusOK
				return
			}
			time.Sleep(20 * time.Millisecond)
		}
	}

	if err := app.Run(context.Background(), stop); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !healthy {
		t.Error("API never became healthy")
	}
	if !app.Monitor.IsOnline() {
		t.Error("monitor should have probed online")
	}
}

func TestRunDispatch(t *testing.T) {
	tests := []struct {
		args []string
		want int
	}{
		{[]string{"version"}, 0},
		{[]string{"help"}, 0},
		{[]string{"help", "sync"}, 0},
		{[]string{"bogus"}, 1},
		{[]string{"service"}, 1},
	}
	for _, tt := range tests {
		t.Run(strings.Join(tt.args, " "), func(t *testing.T) {
			if got := run(tt.args); got != tt.want {
				t.Errorf("run(%v) = %d, want %d", tt.args, got, tt.want)
			}
		})
	}
}
