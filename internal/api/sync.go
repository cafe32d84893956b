package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/clawinfra/evosync/internal/queue"
)

// handleQueue lists (GET ?status=) or enqueues (POST) items.
func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet, http.MethodPost) {
		return
	}

	if r.Method == http.MethodPost {
		var n queue.NewItem
		if err := decodeJSON(r, &n); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		it, err := s.sync.Enqueue(r.Context(), n)
		if err != nil {
			if errors.Is(err, queue.ErrInvalidItem) {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			s.logger.Error("enqueue failed", "error", err)
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusCreated, it)
		return
	}

	status := queue.Status(r.URL.Query().Get("status"))
	if status != "" && !status.Valid() {
		writeError(w, http.StatusBadRequest, "unknown status: "+string(status))
		return
	}
	items, err := s.sync.Items(r.Context(), status)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"items": items,
		"count": len(items),
	})
}

// handleSync runs one drain and returns its result. Skipped cycles are
// still 200; the reason is in errors.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	writeJSON(w, http.StatusOK, s.sync.Sync(r.Context()))
}

func (s *Server) handleRetry(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	n, res := s.sync.RetryFailedItems(r.Context())
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"reset":  n,
		"result": res,
	})
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	n, err := s.sync.ClearCompleted(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"removed": n})
}

// handleAutoSync reads (GET) or sets (PUT {"enabled": bool}) auto sync.
func (s *Server) handleAutoSync(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet, http.MethodPut) {
		return
	}
	if r.Method == http.MethodPut {
		var body struct {
			Enabled *bool `json:"enabled"`
		}
		if err := decodeJSON(r, &body); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		if body.Enabled == nil {
			writeError(w, http.StatusBadRequest, "enabled is required")
			return
		}
		s.sync.SetAutoSync(*body.Enabled)
	}
	writeJSON(w, http.StatusOK, map[string]bool{"enabled": s.sync.AutoSyncEnabled()})
}

// handleInterval sets the periodic interval (PUT {"minutes": n}).
func (s *Server) handleInterval(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPut) {
		return
	}
	var body struct {
		Minutes float64 `json:"minutes"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	d := time.Duration(body.Minutes * float64(time.Minute))
	if err := s.sync.SetInterval(d); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]float64{"minutes": body.Minutes})
}
