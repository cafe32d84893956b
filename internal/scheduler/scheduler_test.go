package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func testJob(id string, interval time.Duration, task TaskFunc) *Job {
	if task == nil {
		task = noop
	}
	return &Job{
		ID:       id,
		Name:     "Job " + id,
		Enabled:  true,
		Schedule: Every(interval),
		Task:     task,
	}
}

func TestNewScheduler(t *testing.T) {
	sched := NewScheduler(nil)

	if sched == nil {
		t.Fatal("NewScheduler returned nil")
	}
	if len(sched.jobs) != 0 {
		t.Error("Jobs map should be empty")
	}
}

func TestSchedulerAddJob(t *testing.T) {
	sched := NewScheduler(nil)
	job := testJob("test-job", time.Minute, nil)

	if err := sched.AddJob(job); err != nil {
		t.Fatalf("AddJob failed: %v", err)
	}
	if err := sched.AddJob(job); err == nil {
		t.Error("AddJob should fail for duplicate ID")
	}
	if err := sched.AddJob(&Job{ID: "bad"}); err == nil {
		t.Error("AddJob should fail for invalid job")
	}

	retrieved, err := sched.GetJob("test-job")
	if err != nil {
		t.Fatalf("GetJob failed: %v", err)
	}
	if retrieved.ID != job.ID {
		t.Error("Retrieved job ID doesn't match")
	}
}

func TestSchedulerRemoveJob(t *testing.T) {
	sched := NewScheduler(nil)
	_ = sched.AddJob(testJob("test-job", time.Minute, nil))

	if err := sched.RemoveJob("test-job"); err != nil {
		t.Fatalf("RemoveJob failed: %v", err)
	}
	if _, err := sched.GetJob("test-job"); err == nil {
		t.Error("GetJob should fail for removed job")
	}
	if err := sched.RemoveJob("non-existent"); err == nil {
		t.Error("RemoveJob should fail for non-existent job")
	}
}

func TestSchedulerUpdateJob(t *testing.T) {
	sched := NewScheduler(nil)
	_ = sched.AddJob(testJob("test-job", time.Minute, nil))
	if err := sched.RunJobNow(context.Background(), "test-job"); err != nil {
		t.Fatalf("RunJobNow failed: %v", err)
	}

	updated := testJob("test-job", 2*time.Minute, nil)
	updated.Enabled = false
	if err := sched.UpdateJob(updated); err != nil {
		t.Fatalf("UpdateJob failed: %v", err)
	}

	retrieved, _ := sched.GetJob("test-job")
	if retrieved.Enabled {
		t.Error("Job should be disabled after update")
	}
	if retrieved.Schedule.IntervalMs != (2 * time.Minute).Milliseconds() {
		t.Errorf("IntervalMs = %d", retrieved.Schedule.IntervalMs)
	}
	if retrieved.State.RunCount != 1 {
		t.Errorf("RunCount = %d, update should keep history", retrieved.State.RunCount)
	}

	if err := sched.UpdateJob(testJob("non-existent", time.Minute, nil)); err == nil {
		t.Error("UpdateJob should fail for non-existent job")
	}
}

func TestSchedulerListJobs(t *testing.T) {
	sched := NewScheduler(nil)
	_ = sched.AddJob(testJob("job2", 2*time.Minute, nil))
	_ = sched.AddJob(testJob("job1", time.Minute, nil))

	list := sched.ListJobs()
	if len(list) != 2 {
		t.Fatalf("ListJobs returned %d jobs, expected 2", len(list))
	}
	if list[0].ID != "job1" || list[1].ID != "job2" {
		t.Errorf("ListJobs order = %s, %s", list[0].ID, list[1].ID)
	}
}

func TestSchedulerGetStats(t *testing.T) {
	sched := NewScheduler(nil)
	_ = sched.AddJob(testJob("ok", time.Minute, nil))
	failing := testJob("failing", time.Minute, func(context.Context) error { return errors.New("nope") })
	_ = sched.AddJob(failing)
	disabled := testJob("disabled", time.Minute, nil)
	disabled.Enabled = false
	_ = sched.AddJob(disabled)

	ctx := context.Background()
	_ = sched.RunJobNow(ctx, "ok")
	_ = sched.RunJobNow(ctx, "failing")

	stats := sched.GetStats()
	if stats.TotalJobs != 3 {
		t.Errorf("TotalJobs = %d, want 3", stats.TotalJobs)
	}
	if stats.ActiveJobs != 2 {
		t.Errorf("ActiveJobs = %d, want 2", stats.ActiveJobs)
	}
	if stats.RunningJobs != 0 {
		t.Errorf("RunningJobs = %d, want 0 before Start", stats.RunningJobs)
	}
	if stats.TotalRuns != 2 {
		t.Errorf("TotalRuns = %d, want 2", stats.TotalRuns)
	}
	if stats.TotalErrors != 1 {
		t.Errorf("TotalErrors = %d, want 1", stats.TotalErrors)
	}
}

func TestSchedulerRunJobNow(t *testing.T) {
	var calls atomic.Int32
	sched := NewScheduler(nil)
	_ = sched.AddJob(testJob("manual", time.Hour, func(context.Context) error {
		calls.Add(1)
		return nil
	}))

	if err := sched.RunJobNow(context.Background(), "manual"); err != nil {
		t.Fatalf("RunJobNow failed: %v", err)
	}
	if calls.Load() != 1 {
		t.Errorf("task calls = %d, want 1", calls.Load())
	}
	if err := sched.RunJobNow(context.Background(), "missing"); err == nil {
		t.Error("RunJobNow should fail for unknown job")
	}
}

func TestSchedulerStartStop(t *testing.T) {
	runs := make(chan struct{}, 10)
	sched := NewScheduler(nil)
	_ = sched.AddJob(testJob("tick", 10*time.Millisecond, func(context.Context) error {
		select {
		case runs <- struct{}{}:
		default:
		}
		return nil
	}))

	if err := sched.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := sched.Start(context.Background()); err == nil {
		t.Error("second Start should fail")
	}

	select {
	case <-runs:
	case <-time.After(time.Second):
		t.Fatal("job did not run after Start")
	}

	if stats := sched.GetStats(); stats.RunningJobs != 1 {
		t.Errorf("RunningJobs = %d, want 1", stats.RunningJobs)
	}

	sched.Stop()
	sched.Stop()

	job, _ := sched.GetJob("tick")
	if job.State.RunCount == 0 {
		t.Error("run history should survive Stop")
	}
	if stats := sched.GetStats(); stats.RunningJobs != 0 {
		t.Errorf("RunningJobs = %d after Stop", stats.RunningJobs)
	}
}

func TestSchedulerAddJobWhileRunning(t *testing.T) {
	runs := make(chan struct{}, 10)
	sched := NewScheduler(nil)
	if err := sched.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer sched.Stop()

	_ = sched.AddJob(testJob("late", 10*time.Millisecond, func(context.Context) error {
		select {
		case runs <- struct{}{}:
		default:
		}
		return nil
	}))

	select {
	case <-runs:
	case <-time.After(time.Second):
		t.Fatal("job added after Start did not run")
	}
}
