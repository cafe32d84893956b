package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/clawinfra/evosync/internal/queue"
	"github.com/clawinfra/evosync/internal/remote"
)

func (s *Server) registerRemoteRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/remote/stats", s.handleRemoteStats)
	mux.HandleFunc("/api/remote/queue", s.handleRemoteQueue)
	mux.HandleFunc("/api/remote/retry", s.handleRemoteRetryAll)
	mux.HandleFunc("/api/remote/retry/", s.handleRemoteRetryItem)
	mux.HandleFunc("/api/remote/clear", s.handleRemoteClear)
}

// remoteReady writes 503 when no remote client is configured.
func (s *Server) remoteReady(w http.ResponseWriter) bool {
	if s.remote == nil {
		writeError(w, http.StatusServiceUnavailable, "remote not configured")
		return false
	}
	return true
}

// writeRemoteError maps the remote error kind onto an HTTP status.
func (s *Server) writeRemoteError(w http.ResponseWriter, op string, err error) {
	s.logger.Warn("remote call failed", "op", op, "error", err)

	status := http.StatusBadGateway
	var re *remote.Error
	switch {
	case remote.IsAuth(err):
		status = http.StatusUnauthorized
	case errors.As(err, &re) && re.Kind == remote.KindApplication && re.StatusCode == http.StatusNotFound:
		status = http.StatusNotFound
	}
	writeError(w, status, err.Error())
}

func (s *Server) handleRemoteStats(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) || !s.remoteReady(w) {
		return
	}
	st, err := s.remote.Stats(r.Context())
	if err != nil {
		s.writeRemoteError(w, "stats", err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleRemoteQueue(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) || !s.remoteReady(w) {
		return
	}
	status := queue.Status(r.URL.Query().Get("status"))
	if status != "" && !status.Valid() {
		writeError(w, http.StatusBadRequest, "unknown status: "+string(status))
		return
	}
	items, err := s.remote.Queue(r.Context(), status)
	if err != nil {
		s.writeRemoteError(w, "queue", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"items": items,
		"count": len(items),
	})
}

func (s *Server) handleRemoteRetryAll(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) || !s.remoteReady(w) {
		return
	}
	n, err := s.remote.RetryAllFailed(r.Context())
	if err != nil {
		s.writeRemoteError(w, "retry_all", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"count": n})
}

// handleRemoteRetryItem handles POST /api/remote/retry/{id}
func (s *Server) handleRemoteRetryItem(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) || !s.remoteReady(w) {
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/api/remote/retry/")
	if id == "" {
		writeError(w, http.StatusBadRequest, "item id required")
		return
	}
	if err := s.remote.RetryItem(r.Context(), id); err != nil {
		s.writeRemoteError(w, "retry", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"retried": id})
}

func (s *Server) handleRemoteClear(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) || !s.remoteReady(w) {
		return
	}
	n, err := s.remote.ClearCompleted(r.Context())
	if err != nil {
		s.writeRemoteError(w, "clear", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"count": n})
}
