package api

import (
	"errors"
	"net/http"

	"github.com/coder/websocket"

	"github.com/clawinfra/evosync/internal/channels"
)

// handleEvents upgrades to a websocket and streams sync lifecycle events.
// Browsers pass the bearer token as ?access_token=.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		writeError(w, http.StatusServiceUnavailable, "event stream not enabled")
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // local dashboards run on arbitrary origins
	})
	if err != nil {
		s.logger.Error("websocket accept failed", "error", err)
		return
	}
	defer conn.CloseNow()

	s.logger.Info("event stream connected", "remote", r.RemoteAddr)

	err = s.hub.Serve(r.Context(), conn)
	switch {
	case errors.Is(err, channels.ErrHubClosed):
		conn.Close(websocket.StatusGoingAway, "server shutting down")
	case err != nil:
		s.logger.Debug("event stream ended", "error", err)
	default:
		conn.Close(websocket.StatusNormalClosure, "")
	}
}
