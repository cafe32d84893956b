package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// Scheduler manages all scheduled jobs
type Scheduler struct {
	jobs    map[string]*Job
	runners map[string]*JobRunner
	logger  *slog.Logger
	mu      sync.RWMutex
	ctx     context.Context
	cancel  context.CancelFunc
}

// Stats summarizes the scheduler.
type Stats struct {
	TotalJobs   int   `json:"total_jobs"`
	ActiveJobs  int   `json:"active_jobs"`
	RunningJobs int   `json:"running_jobs"`
	TotalRuns   int64 `json:"total_runs"`
	TotalErrors int64 `json:"total_errors"`
}

// NewScheduler creates a new scheduler
func NewScheduler(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}

	return &Scheduler{
		jobs:    make(map[string]*Job),
		runners: make(map[string]*JobRunner),
		logger:  logger.With("component", "scheduler"),
	}
}

// Start initializes and starts all enabled jobs
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx != nil {
		return fmt.Errorf("scheduler already running")
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.logger.Info("starting scheduler", "jobs", len(s.jobs))

	for id, job := range s.jobs {
		if !job.Enabled {
			s.logger.Debug("skipping disabled job", "job", id)
			continue
		}
		s.startRunnerLocked(job)
	}

	s.logger.Info("scheduler started", "active_jobs", len(s.runners))
	return nil
}

// Stop stops all job runners
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx == nil {
		return
	}
	s.logger.Info("stopping scheduler")

	s.cancel()
	for id := range s.runners {
		s.stopRunnerLocked(id)
		s.logger.Debug("stopped job runner", "job", id)
	}

	s.ctx, s.cancel = nil, nil
	s.logger.Info("scheduler stopped")
}

// AddJob adds a new job to the scheduler
func (s *Scheduler) AddJob(job *Job) error {
	if err := job.Validate(); err != nil {
		return fmt.Errorf("invalid job: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("job with ID %s already exists", job.ID)
	}

	s.jobs[job.ID] = job

	if s.ctx != nil && job.Enabled {
		s.startRunnerLocked(job)
		s.logger.Info("job added and started", "job", job.ID)
	} else {
		s.logger.Info("job added", "job", job.ID, "enabled", job.Enabled)
	}

	return nil
}

// RemoveJob removes a job from the scheduler
func (s *Scheduler) RemoveJob(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[id]; !exists {
		return fmt.Errorf("job not found: %s", id)
	}

	s.stopRunnerLocked(id)
	delete(s.jobs, id)
	s.logger.Info("job removed", "job", id)

	return nil
}

// UpdateJob replaces an existing job, keeping its run history.
func (s *Scheduler) UpdateJob(job *Job) error {
	if err := job.Validate(); err != nil {
		return fmt.Errorf("invalid job: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	old, exists := s.jobs[job.ID]
	if !exists {
		return fmt.Errorf("job not found: %s", job.ID)
	}

	s.stopRunnerLocked(job.ID)
	job.State = old.State
	s.jobs[job.ID] = job

	if s.ctx != nil && job.Enabled {
		s.startRunnerLocked(job)
		s.logger.Info("job updated and restarted", "job", job.ID)
	} else {
		s.logger.Info("job updated", "job", job.ID, "enabled", job.Enabled)
	}

	return nil
}

// GetJob retrieves a job by ID
func (s *Scheduler) GetJob(id string) (*Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	job, exists := s.jobs[id]
	if !exists {
		return nil, fmt.Errorf("job not found: %s", id)
	}

	return s.snapshotLocked(job), nil
}

// ListJobs returns all jobs ordered by ID.
func (s *Scheduler) ListJobs() []*Job {
	s.mu.RLock()
	defer s.mu.RUnlock()

	jobs := make([]*Job, 0, len(s.jobs))
	for _, job := range s.jobs {
		jobs = append(jobs, s.snapshotLocked(job))
	}
	sort.Slice(jobs, func(i, k int) bool { return jobs[i].ID < jobs[k].ID })

	return jobs
}

// RunJobNow runs a job once, outside its schedule, and waits for it.
func (s *Scheduler) RunJobNow(ctx context.Context, id string) error {
	s.mu.RLock()
	job, exists := s.jobs[id]
	runner := s.runners[id]
	s.mu.RUnlock()

	if !exists {
		return fmt.Errorf("job not found: %s", id)
	}

	if runner != nil {
		runner.executeJob(ctx)
		return nil
	}

	runner = NewJobRunner(job, s.logger)
	runner.executeJob(ctx)

	s.mu.Lock()
	if current, ok := s.jobs[id]; ok && current == job {
		job.State = runner.State()
	}
	s.mu.Unlock()

	return nil
}

// GetStats returns scheduler statistics
func (s *Scheduler) GetStats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Stats{TotalJobs: len(s.jobs), RunningJobs: len(s.runners)}
	for _, job := range s.jobs {
		state := s.snapshotLocked(job).State
		st.TotalRuns += state.RunCount
		st.TotalErrors += state.ErrorCount
		if job.Enabled {
			st.ActiveJobs++
		}
	}

	return st
}

func (s *Scheduler) startRunnerLocked(job *Job) {
	runner := NewJobRunner(job, s.logger)
	s.runners[job.ID] = runner
	go runner.Start(s.ctx)
}

// stopRunnerLocked stops the runner for id, if any, and keeps its state.
func (s *Scheduler) stopRunnerLocked(id string) {
	runner, exists := s.runners[id]
	if !exists {
		return
	}
	runner.Stop()
	if job, ok := s.jobs[id]; ok {
		job.State = runner.State()
	}
	delete(s.runners, id)
}

func (s *Scheduler) snapshotLocked(job *Job) *Job {
	clone := job.Clone()
	if runner, ok := s.runners[job.ID]; ok {
		clone.State = runner.State()
	}
	return clone
}
