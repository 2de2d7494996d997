package schedule

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

var (
	ErrScheduleNotFound = errors.New("schedule not found")
	ErrInvalidCron      = errors.New("invalid cron expression")
)

// Store handles schedule persistence
type Store struct {
	db *sql.DB
}

// NewStore creates a new schedule store with SQLite backend
func NewStore(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "schedules.db")
	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS schedules (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		cron_expr TEXT NOT NULL,
		app_id TEXT NOT NULL,
		version INTEGER NOT NULL DEFAULT 0,
		inputs TEXT NOT NULL DEFAULT '{}',
		enabled INTEGER NOT NULL DEFAULT 1,
		overlap_behavior TEXT NOT NULL DEFAULT 'skip',
		created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
		last_run_at DATETIME,
		next_run_at DATETIME
	);
	CREATE INDEX IF NOT EXISTS idx_schedules_enabled ON schedules(enabled);
	CREATE INDEX IF NOT EXISTS idx_schedules_next_run ON schedules(next_run_at);
	CREATE INDEX IF NOT EXISTS idx_schedules_app ON schedules(app_id);

	CREATE TABLE IF NOT EXISTS schedule_runs (
		id TEXT PRIMARY KEY,
		schedule_id TEXT NOT NULL,
		execution_id TEXT,
		executed_at DATETIME NOT NULL,
		status TEXT NOT NULL,
		output TEXT,
		error TEXT,
		duration_ms INTEGER,
		FOREIGN KEY (schedule_id) REFERENCES schedules(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_runs_schedule ON schedule_runs(schedule_id, executed_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

const scheduleColumns = `id, name, cron_expr, app_id, version, inputs, enabled, overlap_behavior,
	created_at, updated_at, last_run_at, next_run_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanSchedule(row scanner) (*Schedule, error) {
	var schedule Schedule
	var lastRunAt, nextRunAt sql.NullTime
	var inputs string
	var enabled int

	if err := row.Scan(
		&schedule.ID, &schedule.Name, &schedule.CronExpr, &schedule.AppID, &schedule.Version,
		&inputs, &enabled, &schedule.OverlapBehavior,
		&schedule.CreatedAt, &schedule.UpdatedAt, &lastRunAt, &nextRunAt,
	); err != nil {
		return nil, err
	}

	schedule.Enabled = enabled != 0
	if lastRunAt.Valid {
		schedule.LastRunAt = &lastRunAt.Time
	}
	if nextRunAt.Valid {
		schedule.NextRunAt = &nextRunAt.Time
	}
	if inputs != "" && inputs != "{}" {
		if err := json.Unmarshal([]byte(inputs), &schedule.Inputs); err != nil {
			return nil, fmt.Errorf("decoding inputs of %s: %w", schedule.ID, err)
		}
	}
	return &schedule, nil
}

func encodeInputs(inputs map[string]any) (string, error) {
	if len(inputs) == 0 {
		return "{}", nil
	}
	data, err := json.Marshal(inputs)
	if err != nil {
		return "", fmt.Errorf("encoding inputs: %w", err)
	}
	return string(data), nil
}

// Create validates and inserts a new schedule
func (s *Store) Create(schedule *Schedule) error {
	if err := ValidateCron(schedule.CronExpr); err != nil {
		return err
	}
	if schedule.AppID == "" {
		return fmt.Errorf("schedule requires an app id")
	}
	if schedule.OverlapBehavior == "" {
		schedule.OverlapBehavior = OverlapSkip
	}
	if !IsValidOverlapBehavior(schedule.OverlapBehavior) {
		return fmt.Errorf("invalid overlap behavior %q", schedule.OverlapBehavior)
	}

	inputs, err := encodeInputs(schedule.Inputs)
	if err != nil {
		return err
	}

	if schedule.ID == "" {
		schedule.ID = "sched_" + uuid.New().String()[:8]
	}
	now := time.Now().UTC()
	schedule.CreatedAt = now
	schedule.UpdatedAt = now

	if schedule.NextRunAt != nil {
		next := schedule.NextRunAt.UTC()
		schedule.NextRunAt = &next
	} else if schedule.Enabled {
		if nextRun, err := NextRun(schedule.CronExpr, now); err == nil {
			schedule.NextRunAt = &nextRun
		}
	}

	_, err = s.db.Exec(`
		INSERT INTO schedules (`+scheduleColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		schedule.ID, schedule.Name, schedule.CronExpr, schedule.AppID, schedule.Version,
		inputs, schedule.Enabled, schedule.OverlapBehavior,
		schedule.CreatedAt, schedule.UpdatedAt, schedule.LastRunAt, schedule.NextRunAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert schedule: %w", err)
	}
	return nil
}

// Get retrieves a schedule by ID
func (s *Store) Get(id string) (*Schedule, error) {
	row := s.db.QueryRow(`SELECT `+scheduleColumns+` FROM schedules WHERE id = ?`, id)
	schedule, err := scanSchedule(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrScheduleNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query schedule: %w", err)
	}
	return schedule, nil
}

// List returns schedules matching the filter, newest first
func (s *Store) List(filter *ListFilter) ([]*Schedule, error) {
	query := `SELECT ` + scheduleColumns + ` FROM schedules`
	var args []any
	var conditions []string

	if filter != nil {
		if filter.AppID != "" {
			conditions = append(conditions, "app_id = ?")
			args = append(args, filter.AppID)
		}
		if filter.Enabled != nil {
			conditions = append(conditions, "enabled = ?")
			args = append(args, boolInt(*filter.Enabled))
		}
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at DESC"

	return s.query(query, args...)
}

// ListDue returns enabled schedules where next_run_at <= now
func (s *Store) ListDue(now time.Time) ([]*Schedule, error) {
	return s.query(`SELECT `+scheduleColumns+` FROM schedules
		WHERE enabled = 1 AND next_run_at IS NOT NULL AND next_run_at <= ?
		ORDER BY next_run_at ASC`, now.UTC())
}

func (s *Store) query(query string, args ...any) ([]*Schedule, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list schedules: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var schedules []*Schedule
	for rows.Next() {
		schedule, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan schedule: %w", err)
		}
		schedules = append(schedules, schedule)
	}
	return schedules, rows.Err()
}

// Update applies partial updates to a schedule
func (s *Store) Update(id string, update *ScheduleUpdate) error {
	if update.CronExpr != nil {
		if err := ValidateCron(*update.CronExpr); err != nil {
			return err
		}
	}
	if update.OverlapBehavior != nil && !IsValidOverlapBehavior(*update.OverlapBehavior) {
		return fmt.Errorf("invalid overlap behavior %q", *update.OverlapBehavior)
	}

	var setClauses []string
	var args []any

	if update.Name != nil {
		setClauses = append(setClauses, "name = ?")
		args = append(args, *update.Name)
	}
	if update.CronExpr != nil {
		setClauses = append(setClauses, "cron_expr = ?")
		args = append(args, *update.CronExpr)
		if nextRun, err := NextRun(*update.CronExpr, time.Now().UTC()); err == nil {
			setClauses = append(setClauses, "next_run_at = ?")
			args = append(args, nextRun)
		}
	}
	if update.AppID != nil {
		setClauses = append(setClauses, "app_id = ?")
		args = append(args, *update.AppID)
	}
	if update.Version != nil {
		setClauses = append(setClauses, "version = ?")
		args = append(args, *update.Version)
	}
	if update.Inputs != nil {
		inputs, err := encodeInputs(update.Inputs)
		if err != nil {
			return err
		}
		setClauses = append(setClauses, "inputs = ?")
		args = append(args, inputs)
	}
	if update.Enabled != nil {
		setClauses = append(setClauses, "enabled = ?")
		args = append(args, boolInt(*update.Enabled))
	}
	if update.OverlapBehavior != nil {
		setClauses = append(setClauses, "overlap_behavior = ?")
		args = append(args, *update.OverlapBehavior)
	}

	if len(setClauses) == 0 {
		_, err := s.Get(id)
		return err
	}

	setClauses = append(setClauses, "updated_at = ?")
	args = append(args, time.Now().UTC(), id)

	result, err := s.db.Exec("UPDATE schedules SET "+strings.Join(setClauses, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return fmt.Errorf("failed to update schedule: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return ErrScheduleNotFound
	}

	// re-enabling a schedule that never had a next run computes one
	if update.Enabled != nil && *update.Enabled && update.CronExpr == nil {
		schedule, err := s.Get(id)
		if err != nil {
			return err
		}
		if schedule.NextRunAt == nil {
			if nextRun, err := NextRun(schedule.CronExpr, time.Now().UTC()); err == nil {
				if _, err := s.db.Exec("UPDATE schedules SET next_run_at = ? WHERE id = ?", nextRun, id); err != nil {
					return fmt.Errorf("failed to update next_run_at: %w", err)
				}
			}
		}
	}

	return nil
}

// Delete removes a schedule and its runs (CASCADE)
func (s *Store) Delete(id string) error {
	result, err := s.db.Exec("DELETE FROM schedules WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete schedule: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return ErrScheduleNotFound
	}
	return nil
}

// UpdateRunTimes updates last_run_at and next_run_at for a schedule
func (s *Store) UpdateRunTimes(id string, lastRun, nextRun time.Time) error {
	result, err := s.db.Exec(`
		UPDATE schedules SET last_run_at = ?, next_run_at = ?, updated_at = ?
		WHERE id = ?`,
		lastRun.UTC(), nextRun.UTC(), time.Now().UTC(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update run times: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return ErrScheduleNotFound
	}
	return nil
}

// RecordRun stores the outcome of one run
func (s *Store) RecordRun(run *Run) error {
	if run.ID == "" {
		run.ID = "run_" + uuid.New().String()[:8]
	}
	if run.ExecutedAt.IsZero() {
		run.ExecutedAt = time.Now()
	}
	run.ExecutedAt = run.ExecutedAt.UTC()

	_, err := s.db.Exec(`
		INSERT INTO schedule_runs (id, schedule_id, execution_id, executed_at, status, output, error, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.ScheduleID, run.ExecutionID, run.ExecutedAt, run.Status, run.Output, run.Error, run.DurationMs,
	)
	if err != nil {
		return fmt.Errorf("failed to record run: %w", err)
	}
	return nil
}

// ListRuns returns the most recent runs of a schedule, newest first
func (s *Store) ListRuns(scheduleID string, limit int) ([]*Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(`
		SELECT id, schedule_id, execution_id, executed_at, status, output, error, duration_ms
		FROM schedule_runs WHERE schedule_id = ?
		ORDER BY executed_at DESC LIMIT ?`, scheduleID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []*Run
	for rows.Next() {
		var run Run
		var executionID, output, errMsg sql.NullString
		var duration sql.NullInt64
		if err := rows.Scan(&run.ID, &run.ScheduleID, &executionID, &run.ExecutedAt, &run.Status,
			&output, &errMsg, &duration); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		run.ExecutionID = executionID.String
		run.Output = output.String
		run.Error = errMsg.String
		run.DurationMs = duration.Int64
		runs = append(runs, &run)
	}
	return runs, rows.Err()
}

// PruneRuns deletes runs executed more than maxAge ago
func (s *Store) PruneRuns(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := time.Now().Add(-maxAge).UTC()
	result, err := s.db.ExecContext(ctx, `DELETE FROM schedule_runs WHERE executed_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune runs: %w", err)
	}
	return result.RowsAffected()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// SnapshotTo writes a consistent copy of the database to path
func (s *Store) SnapshotTo(ctx context.Context, path string) error {
	if _, err := s.db.ExecContext(ctx, `VACUUM INTO ?`, path); err != nil {
		return fmt.Errorf("failed to snapshot schedules.db: %w", err)
	}
	return nil
}
