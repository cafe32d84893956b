package config

import (
	"fmt"
	"log/slog"
	"os"
	"reflect"
	"sync"
)

// ReloadResult describes what changed during a config reload.
type ReloadResult struct {
	Changed []string // list of changed fields
	Applied []string // successfully applied
	Skipped []string // require restart
	Errors  []error
}

// hotReloadableFields lists fields that can be applied at runtime.
var hotReloadableFields = []string{
	"Server.LogLevel",
	"Sync.AutoSync",
	"Sync.IntervalMinutes",
}

// mu protects the Config during concurrent reload operations.
var mu sync.RWMutex

// RLock acquires a read lock on the config.
func RLock() { mu.RLock() }

// RUnlock releases a read lock on the config.
func RUnlock() { mu.RUnlock() }

// Reload re-reads the config from path, diffs against the current config,
// and applies hot-reloadable changes in place. Everything else is reported
// as requiring a restart and left untouched.
func (c *Config) Reload(path string) (*ReloadResult, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config for reload: %w", err)
	}

	newCfg, err := parse(path, data)
	if err != nil {
		return nil, fmt.Errorf("reload: %w", err)
	}
	if err := newCfg.Validate(); err != nil {
		return nil, fmt.Errorf("reload: %w", err)
	}

	result := &ReloadResult{}

	mu.Lock()
	defer mu.Unlock()

	diffAndApply(c, newCfg, result)

	return result, nil
}

// diffAndApply compares old and new configs, applying hot-reloadable changes.
func diffAndApply(old, new *Config, result *ReloadResult) {
	apply := func(field string, changed bool, set func()) {
		if !changed {
			return
		}
		result.Changed = append(result.Changed, field)
		set()
		result.Applied = append(result.Applied, field)
	}
	skip := func(field string, changed bool) {
		if !changed {
			return
		}
		result.Changed = append(result.Changed, field)
		result.Skipped = append(result.Skipped, field+" (requires restart)")
	}

	apply("Server.LogLevel", old.Server.LogLevel != new.Server.LogLevel, func() {
		old.Server.LogLevel = new.Server.LogLevel
	})
	apply("Sync.AutoSync", old.Sync.AutoSync != new.Sync.AutoSync, func() {
		old.Sync.AutoSync = new.Sync.AutoSync
	})
	apply("Sync.IntervalMinutes", old.Sync.IntervalMinutes != new.Sync.IntervalMinutes, func() {
		old.Sync.IntervalMinutes = new.Sync.IntervalMinutes
	})

	skip("Server.Port", old.Server.Port != new.Server.Port)
	skip("Server.DataDir", old.Server.DataDir != new.Server.DataDir)
	skip("Server.LogFile", old.Server.LogFile != new.Server.LogFile)
	skip("Store", !reflect.DeepEqual(old.Store, new.Store))
	skip("Remote", !reflect.DeepEqual(old.Remote, new.Remote))
	skip("Network", !reflect.DeepEqual(old.Network, new.Network))
	skip("Sync.Cron", old.Sync.Cron != new.Sync.Cron || old.Sync.Timezone != new.Sync.Timezone)
	skip("Sync.Limits", old.Sync.FollowUpDelayMs != new.Sync.FollowUpDelayMs ||
		old.Sync.MaxAttempts != new.Sync.MaxAttempts ||
		old.Sync.MaxListeners != new.Sync.MaxListeners)
	skip("MQTT", !reflect.DeepEqual(old.MQTT, new.MQTT))
	skip("API", !reflect.DeepEqual(old.API, new.API))
}

// LogResult logs the reload result at the appropriate levels.
func (r *ReloadResult) LogResult(logger *slog.Logger) {
	if len(r.Changed) == 0 {
		logger.Info("config reload: no changes detected")
		return
	}

	logger.Info("config reload complete",
		"changed", len(r.Changed),
		"applied", len(r.Applied),
		"skipped", len(r.Skipped),
		"errors", len(r.Errors),
	)

	for _, field := range r.Applied {
		logger.Info("config field hot-reloaded", "field", field)
	}

	for _, field := range r.Skipped {
		logger.Warn("config field requires restart", "field", field)
	}

	for _, err := range r.Errors {
		logger.Error("config reload error", "error", err)
	}
}

// HasApplied reports whether field was hot-applied.
func (r *ReloadResult) HasApplied(field string) bool {
	for _, f := range r.Applied {
		if f == field {
			return true
		}
	}
	return false
}

// HotReloadableFields returns the list of hot-reloadable field names.
func HotReloadableFields() []string {
	return hotReloadableFields
}
