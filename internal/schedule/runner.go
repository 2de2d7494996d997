package schedule

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/HyphaGroup/airops-go/internal/metrics"
)

// DefaultTick is how often the runner checks for due schedules
const DefaultTick = time.Minute

// ExecutionFunc runs one execution of a schedule and waits for its result
type ExecutionFunc func(ctx context.Context, schedule *Schedule) (RunResult, error)

// Runner manages scheduled execution
type Runner struct {
	store       *Store
	executeFunc ExecutionFunc
	logger      *slog.Logger
	tick        time.Duration
	ctx         context.Context
	cancel      context.CancelFunc
	wg          sync.WaitGroup

	// running executions per schedule for overlap handling
	running   map[string]int
	runningMu sync.Mutex
}

// RunnerOption configures a Runner
type RunnerOption func(*Runner)

// WithTick overrides how often due schedules are checked
func WithTick(d time.Duration) RunnerOption {
	return func(r *Runner) {
		if d > 0 {
			r.tick = d
		}
	}
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) RunnerOption {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewRunner creates a new schedule runner
func NewRunner(store *Store, executeFunc ExecutionFunc, opts ...RunnerOption) *Runner {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Runner{
		store:       store,
		executeFunc: executeFunc,
		logger:      slog.Default(),
		tick:        DefaultTick,
		ctx:         ctx,
		cancel:      cancel,
		running:     make(map[string]int),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start begins the scheduler loop
func (r *Runner) Start() {
	r.wg.Add(1)
	go r.loop()
	r.logger.Info("Schedule runner started", "tick", r.tick)
}

// Stop cancels in-flight executions and waits for them to finish
func (r *Runner) Stop() {
	r.cancel()
	r.wg.Wait()
	r.logger.Info("Schedule runner stopped")
}

func (r *Runner) loop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.tick)
	defer ticker.Stop()

	r.checkDueSchedules()

	for {
		select {
		case <-r.ctx.Done():
			return
		case <-ticker.C:
			r.checkDueSchedules()
		}
	}
}

func (r *Runner) checkDueSchedules() {
	now := time.Now()
	schedules, err := r.store.ListDue(now)
	if err != nil {
		r.logger.Error("Failed to list due schedules", "error", err)
		return
	}

	for _, schedule := range schedules {
		r.dispatch(schedule, now)
	}
}

// dispatch starts a schedule respecting its overlap behavior. Run times
// advance before the execution starts so a slow run is not picked up again.
func (r *Runner) dispatch(schedule *Schedule, now time.Time) {
	r.advance(schedule, now)

	r.runningMu.Lock()
	if schedule.OverlapBehavior != OverlapParallel && r.running[schedule.ID] > 0 {
		r.runningMu.Unlock()
		r.logger.Info("Skipping schedule: previous run still active", "schedule_id", schedule.ID, "name", schedule.Name)
		r.record(&Run{
			ScheduleID: schedule.ID,
			ExecutedAt: now,
			Status:     RunSkipped,
			Error:      "previous run still active",
		})
		return
	}
	r.running[schedule.ID]++
	r.runningMu.Unlock()

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer func() {
			r.runningMu.Lock()
			r.running[schedule.ID]--
			if r.running[schedule.ID] == 0 {
				delete(r.running, schedule.ID)
			}
			r.runningMu.Unlock()
		}()

		r.run(schedule)
	}()
}

func (r *Runner) advance(schedule *Schedule, now time.Time) {
	nextRun, err := NextRun(schedule.CronExpr, now)
	if err != nil {
		r.logger.Error("Failed to calculate next run", "schedule_id", schedule.ID, "error", err)
		return
	}
	if err := r.store.UpdateRunTimes(schedule.ID, now, nextRun); err != nil {
		r.logger.Error("Failed to update run times", "schedule_id", schedule.ID, "error", err)
	}
}

// run executes the schedule once and records the outcome
func (r *Runner) run(schedule *Schedule) *Run {
	start := time.Now()
	logger := r.logger.With("schedule_id", schedule.ID, "app_id", schedule.AppID)
	logger.Info("Executing schedule", "name", schedule.Name)

	result, err := r.executeFunc(r.ctx, schedule)
	run := &Run{
		ScheduleID:  schedule.ID,
		ExecutionID: result.ExecutionID,
		ExecutedAt:  start,
		Status:      RunSuccess,
		Output:      result.Output,
		DurationMs:  time.Since(start).Milliseconds(),
	}
	if err != nil {
		run.Status = RunFailed
		run.Error = err.Error()
		logger.Error("Scheduled execution failed", "error", err)
	} else {
		logger.Info("Scheduled execution finished", "execution_id", result.ExecutionID, "duration_ms", run.DurationMs)
	}

	r.record(run)
	return run
}

func (r *Runner) record(run *Run) {
	metrics.RecordScheduleRun(string(run.Status))
	if err := r.store.RecordRun(run); err != nil {
		r.logger.Error("Failed to record run", "schedule_id", run.ScheduleID, "error", err)
	}
}

// Running returns the number of active executions for a schedule
func (r *Runner) Running(scheduleID string) int {
	r.runningMu.Lock()
	defer r.runningMu.Unlock()
	return r.running[scheduleID]
}

// TriggerNow runs a schedule immediately and waits for the result.
// Run times are not changed.
func (r *Runner) TriggerNow(schedule *Schedule) *Run {
	r.logger.Info("Manually triggering schedule", "schedule_id", schedule.ID, "name", schedule.Name)

	r.runningMu.Lock()
	r.running[schedule.ID]++
	r.runningMu.Unlock()
	defer func() {
		r.runningMu.Lock()
		r.running[schedule.ID]--
		if r.running[schedule.ID] == 0 {
			delete(r.running, schedule.ID)
		}
		r.runningMu.Unlock()
	}()

	return r.run(schedule)
}
