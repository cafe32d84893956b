package config

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"
)

// Watcher polls a config file and calls onChange when its modification
// time or size changes.
type Watcher struct {
	path     string
	interval time.Duration
	logger   *slog.Logger
	onChange func()

	stop chan struct{}
	done chan struct{}
	once sync.Once

	lastMod  time.Time
	lastSize int64
}

// NewWatcher creates a config file watcher that polls for changes.
func NewWatcher(path string, interval time.Duration, logger *slog.Logger, onChange func()) *Watcher {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Watcher{
		path:     path,
		interval: interval,
		logger:   logger.With("component", "config-watcher"),
		onChange: onChange,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Run polls until ctx is done or Stop is called.
func (w *Watcher) Run(ctx context.Context) {
	defer close(w.done)

	if info, err := os.Stat(w.path); err == nil {
		w.lastMod, w.lastSize = info.ModTime(), info.Size()
	}
	w.logger.Info("config watcher started", "path", w.path, "interval", w.interval)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case <-ticker.C:
			w.check()
		}
	}
}

// Stop stops the watcher and waits for Run to return. Run must have been
// started.
func (w *Watcher) Stop() {
	w.once.Do(func() {
		close(w.stop)
	})
	<-w.done
	w.logger.Info("config watcher stopped")
}

func (w *Watcher) check() {
	info, err := os.Stat(w.path)
	if err != nil {
		w.logger.Warn("cannot stat config file", "path", w.path, "error", err)
		return
	}

	if info.ModTime().Equal(w.lastMod) && info.Size() == w.lastSize {
		return
	}
	w.lastMod, w.lastSize = info.ModTime(), info.Size()
	w.logger.Info("config file changed", "path", w.path, "modTime", w.lastMod)
	if w.onChange != nil {
		w.onChange()
	}
}
