// Package schedule runs app executions on cron schedules.
//
// Schedules and their run history live in sqlite. The Runner checks for due
// schedules every tick and hands each one to an ExecutionFunc.
package schedule

import (
	"time"
)

// OverlapBehavior defines what to do if a previous run is still active
type OverlapBehavior string

const (
	OverlapSkip     OverlapBehavior = "skip"     // don't start while a run is active
	OverlapParallel OverlapBehavior = "parallel" // allow concurrent runs
)

// Schedule runs one app with fixed inputs on a cron expression
type Schedule struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	CronExpr        string          `json:"cron_expr"` // standard 5-field cron expression
	AppID           string          `json:"app_id"`
	Version         int             `json:"version,omitempty"`
	Inputs          map[string]any  `json:"inputs,omitempty"`
	Enabled         bool            `json:"enabled"`
	OverlapBehavior OverlapBehavior `json:"overlap_behavior"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
	LastRunAt       *time.Time      `json:"last_run_at,omitempty"`
	NextRunAt       *time.Time      `json:"next_run_at,omitempty"`
}

// RunStatus represents the outcome of a scheduled run
type RunStatus string

const (
	RunSuccess RunStatus = "success"
	RunFailed  RunStatus = "failed"
	RunSkipped RunStatus = "skipped"
)

// Run is a single execution of a schedule
type Run struct {
	ID          string    `json:"id"`
	ScheduleID  string    `json:"schedule_id"`
	ExecutionID string    `json:"execution_id,omitempty"`
	ExecutedAt  time.Time `json:"executed_at"`
	Status      RunStatus `json:"status"`
	Output      string    `json:"output,omitempty"`
	Error       string    `json:"error,omitempty"`
	DurationMs  int64     `json:"duration_ms,omitempty"`
}

// RunResult is what an ExecutionFunc reports for a finished execution
type RunResult struct {
	ExecutionID string
	Output      string
}

// ScheduleUpdate contains optional fields for updating a schedule
type ScheduleUpdate struct {
	Name            *string          `json:"name,omitempty"`
	CronExpr        *string          `json:"cron_expr,omitempty"`
	AppID           *string          `json:"app_id,omitempty"`
	Version         *int             `json:"version,omitempty"`
	Inputs          map[string]any   `json:"inputs,omitempty"` // if set, replaces all inputs
	Enabled         *bool            `json:"enabled,omitempty"`
	OverlapBehavior *OverlapBehavior `json:"overlap_behavior,omitempty"`
}

// ListFilter contains optional filters for listing schedules
type ListFilter struct {
	AppID   string
	Enabled *bool
}

// IsValidOverlapBehavior checks if the overlap behavior is valid
func IsValidOverlapBehavior(b OverlapBehavior) bool {
	return b == OverlapSkip || b == OverlapParallel
}
