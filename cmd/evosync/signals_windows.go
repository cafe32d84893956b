//go:build windows

package main

import (
	"os"
	"syscall"
)

// getShutdownSignals returns the signals to listen for on Windows
func getShutdownSignals() []os.Signal {
	return []os.Signal{syscall.SIGINT, syscall.SIGTERM}
}

// handlePlatformSignal has nothing to handle on Windows.
func handlePlatformSignal(os.Signal, *App) bool {
	return false
}
