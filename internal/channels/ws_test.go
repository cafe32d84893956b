package channels

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/clawinfra/evosync/internal/cloudsync"
)

func newHubServer(t *testing.T, hub *WSHub) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()
		_ = hub.Serve(r.Context(), conn)
	}))
	t.Cleanup(ts.Close)
	return ts
}

func dialHub(t *testing.T, ts *httptest.Server) (*websocket.Conn, context.Context) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	url := "ws" + strings.TrimPrefix(ts.URL, "http")
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.CloseNow() })
	return conn, ctx
}

func waitClients(t *testing.T, hub *WSHub, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for hub.Clients() != n {
		if time.Now().After(deadline) {
			t.Fatalf("expected %d clients, have %d", n, hub.Clients())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestWSHubDeliversEventsInOrder(t *testing.T) {
	hub := NewWSHub(8, testLogger())
	ts := newHubServer(t, hub)
	conn, ctx := dialHub(t, ts)
	waitClients(t, hub, 1)

	hub.Publish(cloudsync.Event{Type: cloudsync.EventSyncStarted})
	hub.Publish(cloudsync.Event{Type: cloudsync.EventItemSynced, ItemID: "a"})
	hub.Publish(cloudsync.Event{Type: cloudsync.EventSyncCompleted, Result: &cloudsync.Result{Success: true, Synced: 1}})

	want := []cloudsync.EventType{cloudsync.EventSyncStarted, cloudsync.EventItemSynced, cloudsync.EventSyncCompleted}
	for _, w := range want {
		var ev cloudsync.Event
		if err := wsjson.Read(ctx, conn, &ev); err != nil {
			t.Fatalf("read: %v", err)
		}
		if ev.Type != w {
			t.Errorf("got %s, want %s", ev.Type, w)
		}
	}
}

func TestWSHubDetachesOnClientClose(t *testing.T) {
	hub := NewWSHub(8, testLogger())
	ts := newHubServer(t, hub)
	conn, _ := dialHub(t, ts)
	waitClients(t, hub, 1)

	conn.Close(websocket.StatusNormalClosure, "")
	waitClients(t, hub, 0)
}

func TestWSHubSlowClientDoesNotBlock(t *testing.T) {
	hub := NewWSHub(1, testLogger())
	c := &wsClient{send: make(chan cloudsync.Event, 1)}
	hub.clients[c] = struct{}{}

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			hub.Publish(cloudsync.Event{Type: cloudsync.EventItemSynced})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Publish blocked on a full client")
	}
	if len(c.send) != 1 {
		t.Errorf("expected 1 buffered event, got %d", len(c.send))
	}
}

func TestWSHubClose(t *testing.T) {
	hub := NewWSHub(8, testLogger())
	ts := newHubServer(t, hub)
	conn, ctx := dialHub(t, ts)
	waitClients(t, hub, 1)

	hub.Close()
	waitClients(t, hub, 0)

	// Server side returned and closed the connection.
	var ev cloudsync.Event
	if err := wsjson.Read(ctx, conn, &ev); err == nil {
		t.Error("expected read error after hub close")
	}

	if err := hub.Serve(context.Background(), nil); !errors.Is(err, ErrHubClosed) {
		t.Errorf("expected ErrHubClosed, got %v", err)
	}
	if hub.Name() != "websocket" {
		t.Errorf("Name() = %q", hub.Name())
	}
}
