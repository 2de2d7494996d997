// Package store keeps a local history of submitted executions and chats.
//
// store.go - SQLite execution history
//
// This file contains:
// - Store: implements execution.Recorder
// - Record: one submitted execution or chat turn and its resolution
// - Get/List: lookups used by the CLI history command and MCP tools
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/HyphaGroup/airops-go/apperr"
	"github.com/HyphaGroup/airops-go/execution"
)

// ErrNotFound is returned when no record matches
var ErrNotFound = errors.New("execution record not found")

// Record is one tracked execution
type Record struct {
	AppID           string     `json:"app_id"`
	Ref             string     `json:"ref"`
	ExecutionID     string     `json:"execution_id,omitempty"`
	SessionID       string     `json:"session_id,omitempty"`
	StreamChannelID string     `json:"stream_channel_id,omitempty"`
	Kind            string     `json:"kind"`
	Status          string     `json:"status,omitempty"`
	Source          string     `json:"source,omitempty"`
	Output          string     `json:"output,omitempty"`
	Error           string     `json:"error,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	ResolvedAt      *time.Time `json:"resolved_at,omitempty"`
}

// Resolved reports whether the record has a final outcome
func (r *Record) Resolved() bool {
	return r.ResolvedAt != nil
}

// Handle rebuilds the execution handle for resuming the record
func (r *Record) Handle() execution.Handle {
	return execution.Handle{
		ExecutionID:     r.ExecutionID,
		AppID:           r.AppID,
		SessionID:       r.SessionID,
		StreamChannelID: r.StreamChannelID,
		Kind:            r.Kind,
		CreatedAt:       r.CreatedAt,
	}
}

// ListFilter narrows List results
type ListFilter struct {
	AppID      string
	Kind       string
	Unresolved bool // only records without a final outcome, such as timed-out executions
	Limit      int
}

// Store persists execution records in sqlite
type Store struct {
	db *sql.DB
}

// Open opens or creates the history database under dataDir
func Open(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "executions.db")
	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
	CREATE TABLE IF NOT EXISTS executions (
		app_id TEXT NOT NULL,
		ref TEXT NOT NULL,
		execution_id TEXT,
		session_id TEXT,
		stream_channel_id TEXT,
		kind TEXT NOT NULL,
		status TEXT,
		source TEXT,
		output TEXT,
		error TEXT,
		created_at DATETIME NOT NULL,
		resolved_at DATETIME,
		PRIMARY KEY (app_id, ref)
	);
	CREATE INDEX IF NOT EXISTS idx_executions_created ON executions(created_at);
	`)
	return err
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordSubmitted stores a new handle. Resubmitting a known ref is a no-op.
func (s *Store) RecordSubmitted(ctx context.Context, h execution.Handle) error {
	ref := h.Ref()
	if h.AppID == "" || ref == "" {
		return apperr.MissingParameter("handle")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO executions (app_id, ref, execution_id, session_id, stream_channel_id, kind, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (app_id, ref) DO NOTHING`,
		h.AppID, ref, h.ExecutionID, h.SessionID, h.StreamChannelID, h.Kind, h.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to record execution: %w", err)
	}
	return nil
}

// RecordResolved stores the outcome of a handle. Timeouts are recorded
// without a resolution time so the execution can be resumed later.
func (s *Store) RecordResolved(ctx context.Context, h execution.Handle, res *execution.Result, source string, resolveErr error) error {
	var status, output, errMsg string
	if res != nil {
		status = string(res.Status)
		if len(res.Output) > 0 && string(res.Output) != "null" {
			output = string(res.Output)
		}
		errMsg = res.ErrorMessage
	}
	if resolveErr != nil {
		errMsg = resolveErr.Error()
	}

	var resolvedAt any
	if !errors.Is(resolveErr, apperr.ErrExecutionTimeout) {
		resolvedAt = time.Now().UTC()
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE executions SET status = ?, source = ?, output = ?, error = ?, resolved_at = ?
		WHERE app_id = ? AND ref = ?`,
		status, source, output, errMsg, resolvedAt, h.AppID, h.Ref(),
	)
	if err != nil {
		return fmt.Errorf("failed to record resolution: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return ErrNotFound
	}
	return nil
}

const recordColumns = `app_id, ref, execution_id, session_id, stream_channel_id, kind,
	status, source, output, error, created_at, resolved_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*Record, error) {
	var r Record
	var executionID, sessionID, channel, status, source, output, errMsg sql.NullString
	var resolvedAt sql.NullTime

	if err := row.Scan(&r.AppID, &r.Ref, &executionID, &sessionID, &channel, &r.Kind,
		&status, &source, &output, &errMsg, &r.CreatedAt, &resolvedAt); err != nil {
		return nil, err
	}
	r.ExecutionID = executionID.String
	r.SessionID = sessionID.String
	r.StreamChannelID = channel.String
	r.Status = status.String
	r.Source = source.String
	r.Output = output.String
	r.Error = errMsg.String
	if resolvedAt.Valid {
		r.ResolvedAt = &resolvedAt.Time
	}
	return &r, nil
}

// Get returns the record for an app and execution or session id
func (s *Store) Get(ctx context.Context, appID, ref string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM executions WHERE app_id = ? AND ref = ?`, appID, ref)
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query execution: %w", err)
	}
	return r, nil
}

// List returns records matching filter, newest first
func (s *Store) List(ctx context.Context, filter ListFilter) ([]*Record, error) {
	query := `SELECT ` + recordColumns + ` FROM executions`
	var conditions []string
	var args []any

	if filter.AppID != "" {
		conditions = append(conditions, "app_id = ?")
		args = append(args, filter.AppID)
	}
	if filter.Kind != "" {
		conditions = append(conditions, "kind = ?")
		args = append(args, filter.Kind)
	}
	if filter.Unresolved {
		conditions = append(conditions, "resolved_at IS NULL")
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}
	query += " ORDER BY created_at DESC LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []*Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// Prune deletes resolved records older than maxAge and returns how many were removed
func (s *Store) Prune(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := time.Now().Add(-maxAge).UTC()
	result, err := s.db.ExecContext(ctx, `DELETE FROM executions WHERE resolved_at IS NOT NULL AND created_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune executions: %w", err)
	}
	return result.RowsAffected()
}

// SnapshotTo writes a consistent copy of the database to path
func (s *Store) SnapshotTo(ctx context.Context, path string) error {
	if _, err := s.db.ExecContext(ctx, `VACUUM INTO ?`, path); err != nil {
		return fmt.Errorf("failed to snapshot executions.db: %w", err)
	}
	return nil
}
