package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"text/template"
)

const systemdUnitTemplate = `[Unit]
Description=evosync offline-first sync daemon
After=network-online.target
Wants=network-online.target

[Service]
Type=simple
WorkingDirectory={{.WorkDir}}
ExecStart={{.ExecPath}} start --config {{.ConfigPath}}
ExecReload=/bin/kill -HUP $MAINPID
Restart=on-failure
RestartSec=5s
StandardOutput=journal
StandardError=journal
SyslogIdentifier=evosync

NoNewPrivileges=true
PrivateTmp=true
ProtectSystem=strict
ReadWritePaths={{.DataDir}}

[Install]
WantedBy={{.WantedBy}}
`

const launchdPlistTemplate = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
	<key>Label</key>
	<string>{{.Label}}</string>
	<key>ProgramArguments</key>
	<array>
		<string>{{.ExecPath}}</string>
		<string>start</string>
		<string>--config</string>
		<string>{{.ConfigPath}}</string>
	</array>
	<key>WorkingDirectory</key>
	<string>{{.WorkDir}}</string>
	<key>RunAtLoad</key>
	<true/>
	<key>KeepAlive</key>
	<dict>
		<key>SuccessfulExit</key>
		<false/>
	</dict>
	<key>StandardOutPath</key>
	<string>{{.DataDir}}/evosync.out.log</string>
	<key>StandardErrorPath</key>
	<string>{{.DataDir}}/evosync.err.log</string>
	<key>ThrottleInterval</key>
	<integer>5</integer>
</dict>
</plist>
`

const launchdLabel = "com.clawinfra.evosync"

// serviceConfig fills both templates.
type serviceConfig struct {
	Label      string
	ExecPath   string
	ConfigPath string
	WorkDir    string
	DataDir    string
	WantedBy   string
}

// serviceTarget is where a unit file goes and how the init system is told.
type serviceTarget struct {
	kind     string // systemd or launchd
	path     string
	template string
	reload   [][]string
	next     []string
}

func serviceCommand(args []string, out io.Writer) int {
	if len(args) == 0 {
		fmt.Fprintln(os.Stderr, "usage: evosync service <install|uninstall|status> [--config <file>] [--print]")
		return 1
	}
	action := args[0]

	fs := flag.NewFlagSet("service", flag.ContinueOnError)
	configPath := fs.String("config", defaultConfigPath, "Config file the service should use")
	dataDir := fs.String("data-dir", "", "Writable data directory (defaults to the config's)")
	printOnly := fs.Bool("print", false, "Print the unit instead of installing it")
	if err := fs.Parse(args[1:]); err != nil {
		return 2
	}

	target, err := detectTarget(runtime.GOOS, os.Geteuid() == 0)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return 1
	}

	switch action {
	case "install":
		cfg, err := newServiceConfig(*configPath, *dataDir, target)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
		if *printOnly {
			if err := renderUnit(out, target.template, cfg); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				return 1
			}
			return 0
		}
		if err := installService(target, cfg, out); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
	case "uninstall":
		if err := uninstallService(target, out); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return 1
		}
	case "status":
		if _, err := os.Stat(target.path); err != nil {
			fmt.Fprintf(out, "%s service not installed (%s)\n", target.kind, target.path)
			return 1
		}
		fmt.Fprintf(out, "%s service installed: %s\n", target.kind, target.path)
	default:
		fmt.Fprintf(os.Stderr, "unknown service command: %s\n", action)
		return 1
	}
	return 0
}

// detectTarget picks systemd or launchd and a system or per-user location.
func detectTarget(goos string, root bool) (serviceTarget, error) {
	home, err := os.UserHomeDir()
	if err != nil && !root {
		return serviceTarget{}, fmt.Errorf("resolve home directory: %w", err)
	}

	switch goos {
	case "linux":
		if root {
			return serviceTarget{
				kind:     "systemd",
				path:     "/etc/systemd/system/evosync.service",
				template: systemdUnitTemplate,
				reload:   [][]string{{"systemctl", "daemon-reload"}},
				next:     []string{"sudo systemctl enable --now evosync", "sudo systemctl status evosync"},
			}, nil
		}
		return serviceTarget{
			kind:     "systemd",
			path:     filepath.Join(home, ".config", "systemd", "user", "evosync.service"),
			template: systemdUnitTemplate,
			reload:   [][]string{{"systemctl", "--user", "daemon-reload"}},
			next:     []string{"systemctl --user enable --now evosync", "systemctl --user status evosync"},
		}, nil
	case "darwin":
		dir := filepath.Join(home, "Library", "LaunchAgents")
		if root {
			dir = "/Library/LaunchDaemons"
		}
		path := filepath.Join(dir, launchdLabel+".plist")
		return serviceTarget{
			kind:     "launchd",
			path:     path,
			template: launchdPlistTemplate,
			next:     []string{"launchctl load " + path, "launchctl start " + launchdLabel},
		}, nil
	default:
		return serviceTarget{}, fmt.Errorf("unsupported platform %s (need systemd or launchd)", goos)
	}
}

func newServiceConfig(configPath, dataDir string, target serviceTarget) (serviceConfig, error) {
	execPath, err := os.Executable()
	if err != nil {
		return serviceConfig{}, fmt.Errorf("get executable path: %w", err)
	}
	workDir, err := os.Getwd()
	if err != nil {
		return serviceConfig{}, fmt.Errorf("get working directory: %w", err)
	}
	configPath, err = filepath.Abs(configPath)
	if err != nil {
		return serviceConfig{}, fmt.Errorf("resolve config path: %w", err)
	}
	if dataDir == "" {
		dataDir = filepath.Join(workDir, "data")
	}
	dataDir, err = filepath.Abs(dataDir)
	if err != nil {
		return serviceConfig{}, fmt.Errorf("resolve data dir: %w", err)
	}

	wantedBy := "default.target"
	if filepath.Dir(target.path) == "/etc/systemd/system" {
		wantedBy = "multi-user.target"
	}
	return serviceConfig{
		Label:      launchdLabel,
		ExecPath:   execPath,
		ConfigPath: configPath,
		WorkDir:    workDir,
		DataDir:    dataDir,
		WantedBy:   wantedBy,
	}, nil
}

func renderUnit(w io.Writer, text string, cfg serviceConfig) error {
	tmpl, err := template.New("unit").Parse(text)
	if err != nil {
		return fmt.Errorf("parse template: %w", err)
	}
	if err := tmpl.Execute(w, cfg); err != nil {
		return fmt.Errorf("render unit: %w", err)
	}
	return nil
}

func installService(target serviceTarget, cfg serviceConfig, out io.Writer) error {
	if err := os.MkdirAll(filepath.Dir(target.path), 0755); err != nil {
		return fmt.Errorf("create unit directory: %w", err)
	}
	f, err := os.Create(target.path)
	if err != nil {
		return fmt.Errorf("create unit file: %w", err)
	}
	if err := renderUnit(f, target.template, cfg); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("write unit file: %w", err)
	}
	fmt.Fprintf(out, "%s unit installed: %s\n", target.kind, target.path)

	for _, argv := range target.reload {
		if err := exec.Command(argv[0], argv[1:]...).Run(); err != nil {
			fmt.Fprintf(out, "warning: %v failed: %v\n", argv, err)
		}
	}

	fmt.Fprintln(out, "\nNext steps:")
	for _, line := range target.next {
		fmt.Fprintf(out, "  %s\n", line)
	}
	return nil
}

func uninstallService(target serviceTarget, out io.Writer) error {
	if err := os.Remove(target.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove unit file: %w", err)
	}
	for _, argv := range target.reload {
		_ = exec.Command(argv[0], argv[1:]...).Run()
	}
	fmt.Fprintf(out, "%s service removed\n", target.kind)
	return nil
}
