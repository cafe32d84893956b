package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/clawinfra/evosync/internal/api"
	"github.com/clawinfra/evosync/internal/cli"
	"github.com/clawinfra/evosync/internal/tui"
)

func main() {
	addr := os.Getenv(cli.EnvAddr)
	if addr == "" {
		addr = cli.DefaultAddr
	}
	apiURL := flag.String("addr", addr, "evosync daemon API address")
	token := flag.String("token", os.Getenv(cli.EnvToken), "API bearer token")
	flag.Parse()

	client := api.NewClient(*apiURL, *token, 60*time.Second)
	p := tea.NewProgram(tui.New(client), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "evosync-tui: %v\n", err)
		os.Exit(1)
	}
}
