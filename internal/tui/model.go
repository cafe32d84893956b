// Package tui is a terminal dashboard for a running evosync daemon.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/clawinfra/evosync/internal/api"
	"github.com/clawinfra/evosync/internal/cloudsync"
	"github.com/clawinfra/evosync/internal/queue"
)

// Backend is the part of the daemon API the dashboard uses. *api.Client
// satisfies it.
type Backend interface {
	Status(ctx context.Context) (api.StatusResponse, error)
	Items(ctx context.Context, status queue.Status) ([]queue.Item, error)
	Sync(ctx context.Context) (cloudsync.Result, error)
	Retry(ctx context.Context) (int, cloudsync.Result, error)
	Clear(ctx context.Context) (int, error)
	SetAutoSync(ctx context.Context, enabled bool) (bool, error)
}

const (
	pollInterval   = 2 * time.Second
	requestTimeout = 60 * time.Second
)

type tickMsg struct{}

type statusMsg struct {
	status api.StatusResponse
	failed []queue.Item
	err    error
}

type actionMsg struct {
	notice string
	err    error
}

// Model is the bubbletea model for the dashboard.
type Model struct {
	backend Backend

	status  *api.StatusResponse
	failed  []queue.Item
	lastErr error
	notice  string
	busy    bool
	updated time.Time

	spinner spinner.Model
	list    viewport.Model
	width   int
	height  int
	ready   bool
}

// New creates a dashboard model over backend.
func New(backend Backend) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = lipgloss.NewStyle().Foreground(secondaryColor)
	return Model{backend: backend, spinner: sp}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(m.fetch(), tickCmd())
}

func tickCmd() tea.Cmd {
	return tea.Tick(pollInterval, func(time.Time) tea.Msg {
		return tickMsg{}
	})
}

// fetch loads the status and the failed items in one round.
func (m Model) fetch() tea.Cmd {
	backend := m.backend
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()

		st, err := backend.Status(ctx)
		if err != nil {
			return statusMsg{err: err}
		}
		failed, err := backend.Items(ctx, queue.StatusFailed)
		return statusMsg{status: st, failed: failed, err: err}
	}
}

func (m Model) runAction(key string) tea.Cmd {
	backend := m.backend
	var autoOn bool
	if m.status != nil {
		autoOn = m.status.Sync.AutoSyncEnabled
	}
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()

		switch key {
		case "s":
			res, err := backend.Sync(ctx)
			if err != nil {
				return actionMsg{err: err}
			}
			return actionMsg{notice: "sync: " + describeResult(res)}
		case "r":
			n, res, err := backend.Retry(ctx)
			if err != nil {
				return actionMsg{err: err}
			}
			return actionMsg{notice: fmt.Sprintf("reset %d failed item(s); sync: %s", n, describeResult(res))}
		case "c":
			n, err := backend.Clear(ctx)
			if err != nil {
				return actionMsg{err: err}
			}
			return actionMsg{notice: fmt.Sprintf("cleared %d completed item(s)", n)}
		case "a":
			enabled, err := backend.SetAutoSync(ctx, !autoOn)
			if err != nil {
				return actionMsg{err: err}
			}
			return actionMsg{notice: "auto sync " + onOff(enabled)}
		}
		return actionMsg{err: fmt.Errorf("unknown action %q", key)}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.KeyMsg:
		switch key := msg.String(); key {
		case "ctrl+c", "q":
			return m, tea.Quit
		case "g":
			return m, m.fetch()
		case "s", "r", "c", "a":
			if m.busy {
				return m, nil
			}
			m.busy = true
			m.notice = ""
			m.lastErr = nil
			return m, tea.Batch(m.spinner.Tick, m.runAction(key))
		}

	case tickMsg:
		return m, tea.Batch(m.fetch(), tickCmd())

	case statusMsg:
		m.lastErr = msg.err
		if msg.err == nil {
			st := msg.status
			m.status = &st
			m.failed = msg.failed
			m.updated = time.Now()
		}
		m.refreshList()
		if m.syncing() {
			return m, m.spinner.Tick
		}
		return m, nil

	case actionMsg:
		m.busy = false
		m.lastErr = msg.err
		m.notice = msg.notice
		return m, m.fetch()

	case spinner.TickMsg:
		if !m.busy && !m.syncing() {
			return m, nil
		}
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height

		listW := m.width - panelStyle.GetWidth() - 5
		listH := m.height - 6
		if listH < 3 {
			listH = 3
		}
		if !m.ready {
			m.list = viewport.New(listW, listH)
			m.ready = true
		} else {
			m.list.Width = listW
			m.list.Height = listH
		}
		m.refreshList()
		return m, nil
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return m, cmd
}

func (m Model) syncing() bool {
	return m.status != nil && m.status.Sync.IsSyncing
}

func (m *Model) refreshList() {
	if m.ready {
		m.list.SetContent(m.renderFailed())
	}
}

func (m Model) View() string {
	if !m.ready {
		return "Connecting to evosync..."
	}

	badge := statusOffline.Render("● OFFLINE")
	if m.status != nil && m.status.Sync.IsOnline {
		badge = statusOnline.Render("● ONLINE")
	}
	header := headerStyle.Width(m.width).Render("  evosync  " + badge)

	panel := panelStyle.Render(m.renderStats())
	list := listBorder.Render(m.list.View())
	body := lipgloss.JoinHorizontal(lipgloss.Top, panel, " ", list)

	var line string
	switch {
	case m.busy || m.syncing():
		line = m.spinner.View() + " working..."
	case m.lastErr != nil:
		line = errorStyle.Render("error: " + m.lastErr.Error())
	case m.notice != "":
		line = noticeStyle.Render(m.notice)
	}

	footer := footerStyle.Render("  s: sync │ r: retry failed │ c: clear completed │ a: toggle auto │ g: refresh │ q: quit")

	return lipgloss.JoinVertical(lipgloss.Left, header, body, line, footer)
}

func (m Model) renderStats() string {
	var sb strings.Builder
	sb.WriteString(titleStyle.Render("Queue"))
	sb.WriteString("\n")

	if m.status == nil {
		sb.WriteString(labelStyle.Render("waiting for daemon"))
		return sb.String()
	}

	st := m.status.Sync
	row := func(label string, value interface{}) {
		sb.WriteString(fmt.Sprintf("%s %s\n", labelStyle.Render(fmt.Sprintf("%-11s", label)), valueStyle.Render(fmt.Sprint(value))))
	}
	row("pending", st.Local.Pending)
	row("syncing", st.Local.Syncing)
	row("failed", st.Local.Failed)
	row("completed", st.Local.Completed)
	row("total", st.Local.Total)
	sb.WriteString("\n")

	last := "never"
	if st.LastSync != nil {
		last = formatDuration(time.Since(*st.LastSync)) + " ago"
	}
	row("last sync", last)
	row("auto sync", onOff(st.AutoSyncEnabled))
	row("uptime", formatDuration(time.Duration(m.status.UptimeSeconds)*time.Second))
	row("version", m.status.Version)
	return strings.TrimRight(sb.String(), "\n")
}

func (m Model) renderFailed() string {
	var sb strings.Builder
	sb.WriteString(titleStyle.Render(fmt.Sprintf("Failed items (%d)", len(m.failed))))
	sb.WriteString("\n")
	if len(m.failed) == 0 {
		sb.WriteString(labelStyle.Render("nothing failed"))
		return sb.String()
	}
	for _, it := range m.failed {
		sb.WriteString(fmt.Sprintf("%s %s/%s %s\n",
			failedStyle.Render("✗"),
			it.TableName, it.RecordID,
			labelStyle.Render(fmt.Sprintf("%s, %d/%d attempts", it.Operation, it.Attempts, it.MaxAttempts))))
		if it.ErrorMessage != "" {
			sb.WriteString("    " + errorStyle.Render(it.ErrorMessage) + "\n")
		}
	}
	return sb.String()
}

func describeResult(res cloudsync.Result) string {
	s := fmt.Sprintf("%d synced, %d failed", res.Synced, res.Failed)
	if len(res.Errors) > 0 {
		s += " (" + strings.Join(res.Errors, "; ") + ")"
	}
	return s
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm", int(d.Minutes()))
	}
	if d < 24*time.Hour {
		return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
	}
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	return fmt.Sprintf("%dd %dh", days, hours)
}
