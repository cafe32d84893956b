package api

import (
	"context"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/clawinfra/evosync/internal/scheduler"
)

func TestSchedulerDisabled(t *testing.T) {
	_, _, h := newTestServer(t)

	w := do(t, h, http.MethodGet, "/api/scheduler", "")
	var body map[string]interface{}
	decode(t, w, &body)
	if body["enabled"] != false {
		t.Errorf("expected enabled=false, got %v", body)
	}

	w = do(t, h, http.MethodPost, "/api/scheduler/jobs/x/run", "")
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", w.Code)
	}
}

func TestSchedulerRunJob(t *testing.T) {
	var runs atomic.Int32
	sched := scheduler.NewScheduler(testLogger())
	if err := sched.AddJob(&scheduler.Job{
		ID:       "periodic-sync",
		Name:     "sync",
		Enabled:  true,
		Schedule: scheduler.Every(time.Hour),
		Task: func(ctx context.Context) error {
			runs.Add(1)
			return nil
		},
	}); err != nil {
		t.Fatal(err)
	}
	_, _, h := newTestServer(t, WithScheduler(sched))

	w := do(t, h, http.MethodGet, "/api/scheduler", "")
	var body struct {
		Enabled bool            `json:"enabled"`
		Stats   scheduler.Stats `json:"stats"`
		Jobs    []scheduler.Job `json:"jobs"`
	}
	decode(t, w, &body)
	if !body.Enabled || body.Stats.TotalJobs != 1 || len(body.Jobs) != 1 || body.Jobs[0].ID != "periodic-sync" {
		t.Errorf("unexpected scheduler status %+v", body)
	}

	w = do(t, h, http.MethodPost, "/api/scheduler/jobs/periodic-sync/run", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if runs.Load() != 1 {
		t.Errorf("expected 1 run, got %d", runs.Load())
	}

	w = do(t, h, http.MethodPost, "/api/scheduler/jobs/missing/run", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown job, got %d", w.Code)
	}

	w = do(t, h, http.MethodPost, "/api/scheduler/jobs/periodic-sync", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("expected 404 for missing /run, got %d", w.Code)
	}
}
