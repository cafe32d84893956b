package channels

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/clawinfra/evosync/internal/cloudsync"
)

// ErrHubClosed is returned by Serve once the hub has been closed.
var ErrHubClosed = errors.New("websocket: hub closed")

const wsWriteTimeout = 5 * time.Second

// wsClient is one attached websocket with its pending events.
type wsClient struct {
	send chan cloudsync.Event
}

// WSHub fans manager events out to attached websocket connections. A client
// that cannot keep up loses events rather than stalling the drain.
type WSHub struct {
	mu      sync.RWMutex
	clients map[*wsClient]struct{}
	buffer  int
	closed  bool
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// NewWSHub creates a hub; buffer is the per-client event backlog.
func NewWSHub(buffer int, logger *slog.Logger) *WSHub {
	if logger == nil {
		logger = slog.Default()
	}
	if buffer <= 0 {
		buffer = 64
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &WSHub{
		clients: make(map[*wsClient]struct{}),
		buffer:  buffer,
		logger:  logger.With("channel", "websocket"),
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (h *WSHub) Name() string {
	return "websocket"
}

// Publish is a cloudsync.Listener.
func (h *WSHub) Publish(ev cloudsync.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients {
		select {
		case c.send <- ev:
		default:
			h.logger.Warn("websocket client too slow, dropping event", "type", ev.Type)
		}
	}
}

// Clients returns the number of attached connections.
func (h *WSHub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Serve streams events to conn until ctx is done, the peer goes away or the
// hub is closed. The caller still owns conn and should close it.
func (h *WSHub) Serve(ctx context.Context, conn *websocket.Conn) error {
	c := &wsClient{send: make(chan cloudsync.Event, h.buffer)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return ErrHubClosed
	}
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug("websocket client attached")

	defer func() {
		h.mu.Lock()
		delete(h.clients, c)
		h.mu.Unlock()
		h.logger.Debug("websocket client detached")
	}()

	// Clients never send; CloseRead handles control frames and cancels on close.
	ctx = conn.CloseRead(ctx)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-h.ctx.Done():
			return ErrHubClosed
		case ev := <-c.send:
			wctx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
			err := wsjson.Write(wctx, conn, ev)
			cancel()
			if err != nil {
				return err
			}
		}
	}
}

// Close detaches every client. Subsequent Serve calls fail.
func (h *WSHub) Close() {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()
	h.cancel()
	h.logger.Info("websocket hub closed")
}
