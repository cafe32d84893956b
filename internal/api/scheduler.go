package api

import (
	"net/http"
	"strings"
)

func (s *Server) registerSchedulerRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/scheduler", s.handleSchedulerStatus)
	mux.HandleFunc("/api/scheduler/jobs/", s.handleSchedulerRunJob)
}

// handleSchedulerStatus returns scheduler statistics and jobs
func (s *Server) handleSchedulerStatus(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodGet) {
		return
	}
	if s.sched == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"enabled": false,
			"message": "Scheduler not enabled",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"enabled": true,
		"stats":   s.sched.GetStats(),
		"jobs":    s.sched.ListJobs(),
	})
}

// handleSchedulerRunJob handles POST /api/scheduler/jobs/{id}/run
func (s *Server) handleSchedulerRunJob(w http.ResponseWriter, r *http.Request) {
	if !allow(w, r, http.MethodPost) {
		return
	}
	if s.sched == nil {
		writeError(w, http.StatusServiceUnavailable, "Scheduler not available")
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/api/scheduler/jobs/")
	id, ok := strings.CutSuffix(path, "/run")
	if !ok || id == "" {
		writeError(w, http.StatusNotFound, "unknown scheduler route")
		return
	}

	if err := s.sched.RunJobNow(r.Context(), id); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Job executed", "job_id": id})
}
