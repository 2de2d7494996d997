package schedule

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/HyphaGroup/airops-go/internal/logger"
)

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within 2s")
}

func dueSchedule(t *testing.T, store *Store, overlap OverlapBehavior) *Schedule {
	t.Helper()
	past := time.Now().Add(-time.Minute)
	sched := testSchedule()
	sched.OverlapBehavior = overlap
	sched.NextRunAt = &past
	if err := store.Create(sched); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	return sched
}

func TestRunner_ExecutesDueSchedule(t *testing.T) {
	store := setupTestStore(t)
	sched := dueSchedule(t, store, OverlapSkip)

	var calls atomic.Int32
	var gotApp string
	runner := NewRunner(store, func(ctx context.Context, s *Schedule) (RunResult, error) {
		calls.Add(1)
		gotApp = s.AppID
		return RunResult{ExecutionID: "101", Output: "done"}, nil
	}, WithLogger(logger.Discard()), WithTick(time.Hour))

	runner.Start()
	waitFor(t, func() bool {
		runs, _ := store.ListRuns(sched.ID, 0)
		return len(runs) == 1
	})
	runner.Stop()

	if calls.Load() != 1 {
		t.Errorf("executions = %d, want 1", calls.Load())
	}
	if gotApp != "123" {
		t.Errorf("executed app = %q, want 123", gotApp)
	}

	runs, _ := store.ListRuns(sched.ID, 0)
	if runs[0].Status != RunSuccess || runs[0].ExecutionID != "101" || runs[0].Output != "done" {
		t.Errorf("run = %+v, want success with execution 101", runs[0])
	}

	got, err := store.Get(sched.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.LastRunAt == nil {
		t.Error("LastRunAt not set after run")
	}
	if got.NextRunAt == nil || !got.NextRunAt.After(time.Now()) {
		t.Errorf("NextRunAt = %v, want a future time", got.NextRunAt)
	}
}

func TestRunner_RecordsFailure(t *testing.T) {
	store := setupTestStore(t)
	sched := testSchedule()
	if err := store.Create(sched); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	runner := NewRunner(store, func(ctx context.Context, s *Schedule) (RunResult, error) {
		return RunResult{ExecutionID: "7"}, errors.New("app failed")
	}, WithLogger(logger.Discard()))

	run := runner.TriggerNow(sched)
	if run.Status != RunFailed || run.Error != "app failed" {
		t.Errorf("TriggerNow() = %+v, want failed run", run)
	}
	if run.ExecutionID != "7" {
		t.Errorf("TriggerNow().ExecutionID = %q, want 7", run.ExecutionID)
	}

	got, _ := store.Get(sched.ID)
	if got.LastRunAt != nil {
		t.Error("TriggerNow() should not change run times")
	}
}

func TestRunner_SkipsOverlap(t *testing.T) {
	store := setupTestStore(t)
	sched := dueSchedule(t, store, OverlapSkip)

	release := make(chan struct{})
	var calls atomic.Int32
	runner := NewRunner(store, func(ctx context.Context, s *Schedule) (RunResult, error) {
		calls.Add(1)
		<-release
		return RunResult{}, nil
	}, WithLogger(logger.Discard()))

	now := time.Now()
	runner.dispatch(sched, now)
	waitFor(t, func() bool { return runner.Running(sched.ID) == 1 })
	runner.dispatch(sched, now)

	close(release)
	runner.Stop()

	if calls.Load() != 1 {
		t.Errorf("executions = %d, want 1", calls.Load())
	}
	runs, _ := store.ListRuns(sched.ID, 0)
	var skipped int
	for _, run := range runs {
		if run.Status == RunSkipped {
			skipped++
		}
	}
	if skipped != 1 {
		t.Errorf("skipped runs = %d, want 1", skipped)
	}
}

func TestRunner_ParallelOverlap(t *testing.T) {
	store := setupTestStore(t)
	sched := dueSchedule(t, store, OverlapParallel)

	release := make(chan struct{})
	var calls atomic.Int32
	runner := NewRunner(store, func(ctx context.Context, s *Schedule) (RunResult, error) {
		calls.Add(1)
		<-release
		return RunResult{}, nil
	}, WithLogger(logger.Discard()))

	now := time.Now()
	runner.dispatch(sched, now)
	runner.dispatch(sched, now)
	waitFor(t, func() bool { return runner.Running(sched.ID) == 2 })

	close(release)
	runner.Stop()

	if calls.Load() != 2 {
		t.Errorf("executions = %d, want 2", calls.Load())
	}
	if runner.Running(sched.ID) != 0 {
		t.Errorf("Running() = %d after Stop(), want 0", runner.Running(sched.ID))
	}
}

func TestRunner_StopCancelsExecution(t *testing.T) {
	store := setupTestStore(t)
	sched := dueSchedule(t, store, OverlapSkip)

	started := make(chan struct{})
	runner := NewRunner(store, func(ctx context.Context, s *Schedule) (RunResult, error) {
		close(started)
		<-ctx.Done()
		return RunResult{}, ctx.Err()
	}, WithLogger(logger.Discard()), WithTick(time.Hour))

	runner.Start()
	<-started
	runner.Stop()

	runs, _ := store.ListRuns(sched.ID, 0)
	if len(runs) != 1 || runs[0].Status != RunFailed {
		t.Errorf("runs = %v, want one failed run", runs)
	}
}
