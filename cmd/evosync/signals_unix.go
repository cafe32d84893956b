//go:build !windows

package main

import (
	"context"
	"os"
	"syscall"
)

// getShutdownSignals returns the signals to listen for on Unix systems
func getShutdownSignals() []os.Signal {
	return []os.Signal{syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP, syscall.SIGUSR1}
}

// handlePlatformSignal handles platform-specific signals, returns true if should continue loop
func handlePlatformSignal(sig os.Signal, app *App) bool {
	switch sig {
	case syscall.SIGHUP:
		app.Logger.Info("reload signal received")
		app.reloadConfig()
		return true
	case syscall.SIGUSR1:
		app.Logger.Info("sync signal received")
		go func() {
			res := app.Manager.Sync(context.Background())
			app.Logger.Info("signal-triggered sync finished",
				"success", res.Success, "synced", res.Synced, "failed", res.Failed)
		}()
		return true
	}
	return false
}
