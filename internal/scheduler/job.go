// Package scheduler runs in-process jobs on an interval or a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Schedule kinds.
const (
	KindInterval = "interval"
	KindCron     = "cron"
)

// TaskFunc is the work a job performs on each run.
type TaskFunc func(ctx context.Context) error

// Job represents a scheduled task
type Job struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	Schedule ScheduleConfig `json:"schedule"`
	Enabled  bool           `json:"enabled"`
	State    JobState       `json:"state"`
	Task     TaskFunc       `json:"-"`
}

// ScheduleConfig defines when a job runs
type ScheduleConfig struct {
	Kind       string `json:"kind"` // "interval" or "cron"
	IntervalMs int64  `json:"intervalMs,omitempty"`
	Expr       string `json:"expr,omitempty"` // standard 5-field cron expression
	Timezone   string `json:"timezone,omitempty"`
}

// Every is an interval schedule of d.
func Every(d time.Duration) ScheduleConfig {
	return ScheduleConfig{Kind: KindInterval, IntervalMs: d.Milliseconds()}
}

// Cron is a cron schedule evaluated in tz (local time if empty).
func Cron(expr, tz string) ScheduleConfig {
	return ScheduleConfig{Kind: KindCron, Expr: expr, Timezone: tz}
}

// JobState tracks job execution state
type JobState struct {
	LastRunAt    time.Time     `json:"lastRunAt,omitempty"`
	NextRunAt    time.Time     `json:"nextRunAt,omitempty"`
	RunCount     int64         `json:"runCount"`
	ErrorCount   int64         `json:"errorCount"`
	LastError    string        `json:"lastError,omitempty"`
	LastDuration time.Duration `json:"lastDuration,omitempty"`
}

// Validate checks if job configuration is valid
func (j *Job) Validate() error {
	if j.ID == "" {
		return fmt.Errorf("job ID required")
	}
	if j.Name == "" {
		return fmt.Errorf("job name required")
	}
	if j.Task == nil {
		return fmt.Errorf("job task required")
	}

	switch j.Schedule.Kind {
	case KindInterval:
		if j.Schedule.IntervalMs <= 0 {
			return fmt.Errorf("intervalMs must be positive")
		}
	case KindCron:
		if j.Schedule.Expr == "" {
			return fmt.Errorf("cron expression required")
		}
		if _, err := cron.ParseStandard(j.cronSpec()); err != nil {
			return fmt.Errorf("invalid cron expression: %w", err)
		}
	default:
		return fmt.Errorf("unknown schedule kind: %s (use interval or cron)", j.Schedule.Kind)
	}

	return nil
}

// NextRun calculates the next run time based on schedule
func (j *Job) NextRun(from time.Time) (time.Time, error) {
	switch j.Schedule.Kind {
	case KindInterval:
		interval := time.Duration(j.Schedule.IntervalMs) * time.Millisecond
		return from.Add(interval), nil

	case KindCron:
		schedule, err := cron.ParseStandard(j.cronSpec())
		if err != nil {
			return time.Time{}, fmt.Errorf("parse cron: %w", err)
		}
		return schedule.Next(from), nil

	default:
		return time.Time{}, fmt.Errorf("unknown schedule kind: %s", j.Schedule.Kind)
	}
}

// Clone returns a copy of the job. The task func is shared.
func (j *Job) Clone() *Job {
	clone := *j
	return &clone
}

func (j *Job) cronSpec() string {
	if j.Schedule.Timezone == "" {
		return j.Schedule.Expr
	}
	return "CRON_TZ=" + j.Schedule.Timezone + " " + j.Schedule.Expr
}
