// Package cli implements the evosync subcommands. Everything except start
// and init talks to a running daemon over its local API.
package cli

import (
	"fmt"
	"io"
)

// commandInfo describes a top-level subcommand.
type commandInfo struct {
	Name     string
	Args     string
	Short    string
	Long     string
	Examples []string
}

var commands = []commandInfo{
	{
		Name:  "start",
		Args:  "[--config <file>]",
		Short: "Start the sync daemon (default action)",
		Long: `Start the evosync daemon.

Opens the local queue, starts the network monitor and sync manager, and
exposes the local API on the configured port (default :8421).`,
		Examples: []string{
			"evosync",
			"evosync start --config /etc/evosync/evosync.yaml",
		},
	},
	{
		Name:  "init",
		Args:  "[--output <file>] [--remote <url>]",
		Short: "Write a default config file",
		Long: `Write a config file with defaults. The format follows the file
extension: .json, .yaml/.yml or .toml.`,
		Examples: []string{
			"evosync init",
			"evosync init --output evosync.toml --remote https://api.example.com/api --backend file",
		},
	},
	{
		Name:  "status",
		Short: "Show local queue counts and connectivity",
		Examples: []string{
			"evosync status",
			"evosync status --json",
		},
	},
	{
		Name:  "enqueue",
		Args:  "--table <t> --record <id> --op <create|update|delete> [--data <json>]",
		Short: "Record a mutation in the local queue",
		Examples: []string{
			`evosync enqueue --table tasks --record 42 --op update --data '{"done":true}'`,
		},
	},
	{
		Name:  "queue",
		Args:  "[--status <s>]",
		Short: "List local queue items",
		Examples: []string{
			"evosync queue",
			"evosync queue --status failed",
		},
	},
	{
		Name:     "sync",
		Short:    "Run one drain now",
		Examples: []string{"evosync sync"},
	},
	{
		Name:     "retry",
		Short:    "Reset failed items and drain",
		Examples: []string{"evosync retry"},
	},
	{
		Name:     "clear",
		Short:    "Remove completed items from the local queue",
		Examples: []string{"evosync clear"},
	},
	{
		Name:  "auto",
		Args:  "[on|off] [--interval <minutes>]",
		Short: "Show or change auto sync",
		Examples: []string{
			"evosync auto",
			"evosync auto off",
			"evosync auto on --interval 10",
		},
	},
	{
		Name:  "remote",
		Args:  "<stats|queue|retry|clear>",
		Short: "Administer the remote queue",
		Long: `Inspect and administer the remote sync queue through the daemon.

Subcommands:
  stats          Remote counts and recent activity
  queue          List remote items (--status to filter)
  retry [<id>]   Retry one remote item, or all failed ones
  clear          Clear completed remote items`,
		Examples: []string{
			"evosync remote stats",
			"evosync remote retry 6f1c...",
		},
	},
	{
		Name:  "schedule",
		Args:  "<list|run <job-id>>",
		Short: "Inspect or trigger scheduled jobs",
		Examples: []string{
			"evosync schedule list",
			"evosync schedule run periodic-sync",
		},
	},
	{
		Name:  "token",
		Args:  "[--scope <scope>] [--expiry <dur>]",
		Short: "Mint a local API token from the configured secret",
		Examples: []string{
			"evosync token --expiry 24h",
		},
	},
	{
		Name:  "service",
		Args:  "<install|uninstall|status> [--print]",
		Short: "Install evosync as a systemd or launchd service",
		Examples: []string{
			"evosync service install --config /etc/evosync/evosync.yaml",
			"evosync service install --print",
		},
	},
	{
		Name:  "version",
		Short: "Print version information",
		Examples: []string{
			"evosync version",
		},
	},
}

// PrintHelp prints top-level help (evosync help).
func PrintHelp(out io.Writer, binaryName string) {
	fmt.Fprintf(out, `evosync - offline-first sync daemon

USAGE:
  %s [command] [flags]

COMMANDS:
`, binaryName)

	for _, c := range commands {
		fmt.Fprintf(out, "  %-10s %-36s %s\n", c.Name, c.Args, c.Short)
	}

	fmt.Fprintf(out, `
CLIENT FLAGS:
  --addr <url>      Daemon API address (default %s, env %s)
  --token <jwt>     API token (env %s)
  --json            Print raw JSON

Run '%s help <command>' for detailed help on a specific command.
`, DefaultAddr, EnvAddr, EnvToken, binaryName)
}

// PrintCommandHelp prints help for a specific subcommand. It reports false
// for unknown commands.
func PrintCommandHelp(out io.Writer, binaryName, cmdName string) bool {
	for _, c := range commands {
		if c.Name != cmdName {
			continue
		}
		fmt.Fprintf(out, "COMMAND: %s %s\n\n", binaryName, c.Name)
		if c.Args != "" {
			fmt.Fprintf(out, "USAGE:\n  %s %s %s\n\n", binaryName, c.Name, c.Args)
		}
		if c.Long != "" {
			fmt.Fprintf(out, "DESCRIPTION:\n  %s\n\n", c.Long)
		}
		if len(c.Examples) > 0 {
			fmt.Fprintln(out, "EXAMPLES:")
			for _, ex := range c.Examples {
				fmt.Fprintf(out, "  %s\n", ex)
			}
			fmt.Fprintln(out)
		}
		return true
	}
	return false
}

// CommandNames returns all valid command names (used for error messages).
func CommandNames() []string {
	names := make([]string, len(commands))
	for i, c := range commands {
		names[i] = c.Name
	}
	return names
}
