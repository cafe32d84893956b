package config

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWatcherDetectsChange(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")

	cfg := DefaultConfig()
	saveJSON(t, path, cfg)

	changed := make(chan struct{}, 1)
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))

	w := NewWatcher(path, 20*time.Millisecond, logger, func() {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	go w.Run(context.Background())
	defer w.Stop()

	time.Sleep(60 * time.Millisecond)
	// Size changes even if mtime granularity is coarse.
	cfg.Server.LogLevel = "debug-verbose"
	saveJSON(t, path, cfg)

	select {
	case <-changed:
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not detect change within timeout")
	}
}

func TestWatcherStop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	saveJSON(t, path, DefaultConfig())

	w := NewWatcher(path, 20*time.Millisecond, nil, nil)
	go w.Run(context.Background())
	w.Stop()
	w.Stop() // double stop should not panic
}

func TestWatcherContextCancel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	saveJSON(t, path, DefaultConfig())

	ctx, cancel := context.WithCancel(context.Background())
	w := NewWatcher(path, 20*time.Millisecond, nil, nil)
	done := make(chan struct{})
	go func() {
		w.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("watcher did not exit on context cancel")
	}
}
