package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// JobRunner executes a single job on schedule
type JobRunner struct {
	job    *Job
	logger *slog.Logger

	mu    sync.Mutex
	state JobState

	stopCh   chan struct{}
	doneCh   chan struct{}
	stopOnce sync.Once
}

// NewJobRunner creates a new job runner
func NewJobRunner(job *Job, log *slog.Logger) *JobRunner {
	if log == nil {
		log = slog.Default()
	}
	return &JobRunner{
		job:    job,
		logger: log.With("job", job.ID),
		state:  job.State,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start runs the job on schedule until ctx is done or Stop is called.
// It blocks; callers run it in its own goroutine.
func (r *JobRunner) Start(ctx context.Context) {
	defer close(r.doneCh)

	if !r.job.Enabled {
		r.logger.Debug("job disabled, not starting")
		return
	}

	for {
		nextRun, err := r.job.NextRun(time.Now())
		if err != nil {
			r.logger.Error("failed to calculate next run", "error", err)
			return
		}
		r.mu.Lock()
		r.state.NextRunAt = nextRun
		r.mu.Unlock()
		r.logger.Debug("next run scheduled", "next_run", nextRun.Format(time.RFC3339))

		timer := time.NewTimer(time.Until(nextRun))
		select {
		case <-ctx.Done():
			timer.Stop()
			r.logger.Info("job runner stopped (context cancelled)")
			return
		case <-r.stopCh:
			timer.Stop()
			r.logger.Info("job runner stopped")
			return
		case <-timer.C:
			r.executeJob(ctx)
		}
	}
}

// Stop stops the job runner and waits for it to exit.
func (r *JobRunner) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
	<-r.doneCh
}

// State returns a snapshot of the runner's execution state.
func (r *JobRunner) State() JobState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// executeJob runs the job once
func (r *JobRunner) executeJob(ctx context.Context) {
	start := time.Now()
	r.logger.Debug("executing job")

	err := r.runTask(ctx)
	duration := time.Since(start)

	r.mu.Lock()
	r.state.LastRunAt = time.Now()
	r.state.LastDuration = duration
	r.state.RunCount++
	if err != nil {
		r.state.ErrorCount++
		r.state.LastError = err.Error()
	} else {
		r.state.LastError = ""
	}
	state := r.state
	r.mu.Unlock()

	if err != nil {
		r.logger.Error("job failed",
			"error", err,
			"duration", duration,
			"run_count", state.RunCount,
			"error_count", state.ErrorCount)
	} else {
		r.logger.Debug("job completed",
			"duration", duration,
			"run_count", state.RunCount)
	}
}

func (r *JobRunner) runTask(ctx context.Context) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("job panicked: %v", p)
		}
	}()
	if r.job.Task == nil {
		return fmt.Errorf("job has no task")
	}
	return r.job.Task(ctx)
}
