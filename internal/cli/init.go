package cli

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/clawinfra/evosync/internal/config"
)

// InitCommand handles the 'evosync init' subcommand. in answers the
// overwrite prompt.
func InitCommand(args []string, in io.Reader, out io.Writer) int {
	fs := flag.NewFlagSet("evosync init", flag.ContinueOnError)
	outputPath := fs.String("output", "evosync.yaml", "Output config file path (.json, .yaml or .toml)")
	remoteURL := fs.String("remote", "", "Remote sync API base URL")
	backend := fs.String("backend", "", "Queue backend: sqlite, file or memory")
	dataDir := fs.String("data-dir", "", "Data directory")
	deviceID := fs.String("device", "", "Device id for the MQTT bridge (enables MQTT)")
	force := fs.Bool("force", false, "Overwrite without asking")

	fs.Usage = func() {
		fmt.Fprintln(out, `Usage: evosync init [options]

Write a default evosync config file.

Options:`)
		fs.SetOutput(out)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return 1
	}

	if _, err := os.Stat(*outputPath); err == nil && !*force {
		fmt.Fprintf(out, "⚠️  Config file %s already exists. Overwrite? [y/N]: ", *outputPath)
		answer, _ := bufio.NewReader(in).ReadString('\n')
		answer = strings.TrimSpace(strings.ToLower(answer))
		if answer != "y" && answer != "yes" {
			fmt.Fprintln(out, "Aborted.")
			return 0
		}
	}

	cfg := buildConfig(*remoteURL, *backend, *dataDir, *deviceID)
	if err := cfg.Validate(); err != nil {
		return fail(err)
	}
	if err := cfg.Save(*outputPath); err != nil {
		fmt.Fprintf(os.Stderr, "Error saving config: %v\n", err)
		return 1
	}

	fmt.Fprintf(out, "✓ Config written to %s\n", *outputPath)
	fmt.Fprintf(out, "  Start the daemon with: evosync start --config %s\n", *outputPath)
	return 0
}

// buildConfig layers the init flags over the defaults.
func buildConfig(remoteURL, backend, dataDir, deviceID string) *config.Config {
	cfg := config.DefaultConfig()
	if remoteURL != "" {
		cfg.Remote.BaseURL = remoteURL
	}
	if backend != "" {
		cfg.Store.Backend = backend
	}
	if dataDir != "" {
		cfg.Server.DataDir = dataDir
	}
	if deviceID != "" {
		cfg.MQTT.Enabled = true
		cfg.MQTT.DeviceID = deviceID
	}
	return cfg
}
