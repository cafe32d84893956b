package tui

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/clawinfra/evosync/internal/api"
	"github.com/clawinfra/evosync/internal/cloudsync"
	"github.com/clawinfra/evosync/internal/queue"
)

var _ Backend = (*api.Client)(nil)

type fakeBackend struct {
	mu        sync.Mutex
	status    api.StatusResponse
	failed    []queue.Item
	statusErr error
	syncs     int
	auto      []bool
}

func (f *fakeBackend) Status(context.Context) (api.StatusResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status, f.statusErr
}

func (f *fakeBackend) Items(_ context.Context, status queue.Status) ([]queue.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if status != queue.StatusFailed {
		return nil, errors.New("unexpected filter")
	}
	return f.failed, nil
}

func (f *fakeBackend) Sync(context.Context) (cloudsync.Result, error) {
	f.mu.Lock()
	f.syncs++
	f.mu.Unlock()
	return cloudsync.Result{Success: true, Synced: 3, Errors: []string{}}, nil
}

func (f *fakeBackend) Retry(context.Context) (int, cloudsync.Result, error) {
	return 2, cloudsync.Result{Errors: []string{cloudsync.ReasonOffline}}, nil
}

func (f *fakeBackend) Clear(context.Context) (int, error) { return 5, nil }

func (f *fakeBackend) SetAutoSync(_ context.Context, enabled bool) (bool, error) {
	f.mu.Lock()
	f.auto = append(f.auto, enabled)
	f.mu.Unlock()
	return enabled, nil
}

func newBackend() *fakeBackend {
	last := time.Now().Add(-90 * time.Second)
	return &fakeBackend{
		status: api.StatusResponse{
			Version:       "test",
			UptimeSeconds: 7200,
			Sync: cloudsync.Stats{
				Local:           queue.Stats{Total: 6, Pending: 2, Failed: 1, Completed: 3},
				LastSync:        &last,
				IsOnline:        true,
				AutoSyncEnabled: true,
			},
		},
		failed: []queue.Item{{
			ID: "f1", TableName: "notes", RecordID: "n-9", Operation: queue.OperationUpdate,
			Attempts: 3, MaxAttempts: 3, Status: queue.StatusFailed, ErrorMessage: "max attempts reached",
		}},
	}
}

// sized returns a model that has received a window size and one status poll.
func sized(t *testing.T, b Backend) Model {
	t.Helper()
	m := New(b)
	next, _ := m.Update(tea.WindowSizeMsg{Width: 140, Height: 40})
	m = next.(Model)
	next, _ = m.Update(m.fetch()())
	return next.(Model)
}

func key(r rune) tea.KeyMsg {
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune{r}}
}

func TestViewBeforeWindowSize(t *testing.T) {
	m := New(newBackend())
	if got := m.View(); !strings.Contains(got, "Connecting") {
		t.Errorf("expected placeholder, got %q", got)
	}
}

func TestViewRendersStatus(t *testing.T) {
	m := sized(t, newBackend())
	view := m.View()

	for _, want := range []string{"ONLINE", "pending", "completed", "auto sync", "1m ago", "2h 0m", "notes/n-9", "max attempts reached", "Failed items (1)"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q:\n%s", want, view)
		}
	}
}

func TestViewOffline(t *testing.T) {
	b := newBackend()
	b.status.Sync.IsOnline = false
	b.failed = nil
	m := sized(t, b)
	view := m.View()
	if !strings.Contains(view, "OFFLINE") {
		t.Error("expected OFFLINE badge")
	}
	if !strings.Contains(view, "nothing failed") {
		t.Error("expected empty failed list")
	}
}

func TestStatusErrorKeepsLastStatus(t *testing.T) {
	b := newBackend()
	m := sized(t, b)

	b.mu.Lock()
	b.statusErr = errors.New("connection refused")
	b.mu.Unlock()

	next, _ := m.Update(m.fetch()())
	m = next.(Model)
	if m.status == nil || m.status.Version != "test" {
		t.Error("previous status should be kept")
	}
	if !strings.Contains(m.View(), "connection refused") {
		t.Error("expected error line in view")
	}
}

func TestSyncKey(t *testing.T) {
	b := newBackend()
	m := sized(t, b)

	next, cmd := m.Update(key('s'))
	m = next.(Model)
	if !m.busy || cmd == nil {
		t.Fatal("sync key should start an action")
	}

	// A second press while busy is ignored.
	if _, cmd := m.Update(key('s')); cmd != nil {
		t.Error("expected no command while busy")
	}

	msg := m.runAction("s")()
	next, cmd = m.Update(msg)
	m = next.(Model)
	if m.busy {
		t.Error("action result should clear busy")
	}
	if cmd == nil {
		t.Error("expected a refresh after the action")
	}
	if !strings.Contains(m.notice, "3 synced") {
		t.Errorf("notice = %q", m.notice)
	}
	if b.syncs != 1 {
		t.Errorf("syncs = %d", b.syncs)
	}
}

func TestActions(t *testing.T) {
	b := newBackend()
	m := sized(t, b)

	tests := []struct {
		key  string
		want string
	}{
		{"r", "reset 2 failed item(s)"},
		{"c", "cleared 5 completed item(s)"},
		{"a", "auto sync off"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			msg, ok := m.runAction(tt.key)().(actionMsg)
			if !ok || msg.err != nil {
				t.Fatalf("action failed: %+v", msg)
			}
			if !strings.Contains(msg.notice, tt.want) {
				t.Errorf("notice = %q, want %q", msg.notice, tt.want)
			}
		})
	}

	if len(b.auto) != 1 || b.auto[0] {
		t.Errorf("auto toggle should request off, got %v", b.auto)
	}
}

func TestRetryNoticeIncludesSkipReason(t *testing.T) {
	m := sized(t, newBackend())
	msg := m.runAction("r")().(actionMsg)
	if !strings.Contains(msg.notice, cloudsync.ReasonOffline) {
		t.Errorf("notice = %q", msg.notice)
	}
}

func TestQuitKey(t *testing.T) {
	m := sized(t, newBackend())
	_, cmd := m.Update(key('q'))
	if cmd == nil {
		t.Fatal("expected quit command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("expected tea.QuitMsg")
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{30 * time.Second, "30s"},
		{5 * time.Minute, "5m"},
		{2*time.Hour + 15*time.Minute, "2h 15m"},
		{50 * time.Hour, "2d 2h"},
	}
	for _, tt := range tests {
		if got := formatDuration(tt.d); got != tt.want {
			t.Errorf("formatDuration(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}
