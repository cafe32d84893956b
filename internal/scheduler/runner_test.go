package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestJobRunnerExecution(t *testing.T) {
	var calls atomic.Int32
	job := &Job{
		ID:       "count-job",
		Name:     "Count Job",
		Enabled:  true,
		Schedule: Every(time.Second),
		Task: func(context.Context) error {
			calls.Add(1)
			return nil
		},
	}

	runner := NewJobRunner(job, nil)
	runner.executeJob(context.Background())

	state := runner.State()
	if calls.Load() != 1 {
		t.Errorf("task calls = %d, want 1", calls.Load())
	}
	if state.RunCount != 1 {
		t.Errorf("Expected RunCount=1, got %d", state.RunCount)
	}
	if state.ErrorCount != 0 {
		t.Errorf("Expected ErrorCount=0, got %d", state.ErrorCount)
	}
	if state.LastRunAt.IsZero() {
		t.Error("LastRunAt should be set")
	}
}

func TestJobRunnerFailure(t *testing.T) {
	job := &Job{
		ID:       "failing-job",
		Name:     "Failing Job",
		Enabled:  true,
		Schedule: Every(time.Second),
		Task:     func(context.Context) error { return errors.New("boom") },
	}

	runner := NewJobRunner(job, nil)
	runner.executeJob(context.Background())

	state := runner.State()
	if state.ErrorCount != 1 {
		t.Errorf("Expected ErrorCount=1, got %d", state.ErrorCount)
	}
	if state.LastError != "boom" {
		t.Errorf("LastError = %q, want boom", state.LastError)
	}
}

func TestJobRunnerRecoversPanic(t *testing.T) {
	job := &Job{
		ID:       "panic-job",
		Name:     "Panic Job",
		Enabled:  true,
		Schedule: Every(time.Second),
		Task:     func(context.Context) error { panic("bad task") },
	}

	runner := NewJobRunner(job, nil)
	runner.executeJob(context.Background())

	if state := runner.State(); state.ErrorCount != 1 {
		t.Errorf("Expected ErrorCount=1 after panic, got %d", state.ErrorCount)
	}
}

func TestJobRunnerRunsOnInterval(t *testing.T) {
	runs := make(chan struct{}, 10)
	job := &Job{
		ID:       "fast-job",
		Name:     "Fast Job",
		Enabled:  true,
		Schedule: Every(10 * time.Millisecond),
		Task: func(context.Context) error {
			select {
			case runs <- struct{}{}:
			default:
			}
			return nil
		},
	}

	runner := NewJobRunner(job, nil)
	go runner.Start(context.Background())

	for i := 0; i < 2; i++ {
		select {
		case <-runs:
		case <-time.After(time.Second):
			t.Fatalf("run %d did not happen", i+1)
		}
	}
	runner.Stop()

	state := runner.State()
	if state.RunCount < 2 {
		t.Errorf("RunCount = %d, want >= 2", state.RunCount)
	}
	if state.NextRunAt.IsZero() {
		t.Error("NextRunAt should be set")
	}
}

func TestJobRunnerDisabledJob(t *testing.T) {
	var calls atomic.Int32
	job := &Job{
		ID:       "disabled-job",
		Name:     "Disabled Job",
		Enabled:  false,
		Schedule: Every(time.Millisecond),
		Task: func(context.Context) error {
			calls.Add(1)
			return nil
		},
	}

	runner := NewJobRunner(job, nil)
	done := make(chan struct{})
	go func() {
		runner.Start(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("disabled runner should return immediately")
	}
	if calls.Load() != 0 {
		t.Errorf("disabled job ran %d times", calls.Load())
	}
}

func TestJobRunnerStopOnContextCancel(t *testing.T) {
	job := &Job{
		ID:       "ctx-job",
		Name:     "Ctx Job",
		Enabled:  true,
		Schedule: Every(time.Hour),
		Task:     noop,
	}

	ctx, cancel := context.WithCancel(context.Background())
	runner := NewJobRunner(job, nil)
	go runner.Start(ctx)
	cancel()

	stopped := make(chan struct{})
	go func() {
		runner.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("runner did not stop after cancel")
	}
	runner.Stop() // second stop is a no-op
}
