// Package audit records outward-facing operations as JSON log events.
package audit

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/HyphaGroup/airops-go/internal/logger"
)

// Operation represents the type of auditable operation
type Operation string

const (
	OpExecutionSubmit Operation = "execution.submit"
	OpExecutionCancel Operation = "execution.cancel"
	OpChatSubmit      Operation = "chat.submit"
	OpScheduleCreate  Operation = "schedule.create"
	OpScheduleUpdate  Operation = "schedule.update"
	OpScheduleDelete  Operation = "schedule.delete"
	OpScheduleTrigger Operation = "schedule.trigger"
)

// Event represents an audit log entry
type Event struct {
	Timestamp   time.Time      `json:"timestamp"`
	Operation   Operation      `json:"operation"`
	AppID       string         `json:"app_id,omitempty"`
	ExecutionID string         `json:"execution_id,omitempty"`
	SessionID   string         `json:"session_id,omitempty"`
	ScheduleID  string         `json:"schedule_id,omitempty"`
	RequestID   string         `json:"request_id,omitempty"`
	RemoteAddr  string         `json:"remote_addr,omitempty"`
	Success     bool           `json:"success"`
	Error       string         `json:"error,omitempty"`
	Details     map[string]any `json:"details,omitempty"`
}

// Logger handles audit logging
type Logger struct {
	logger  *slog.Logger
	enabled bool
	mu      sync.RWMutex
}

var (
	defaultLogger *Logger
	once          sync.Once
)

// Default returns the default audit logger, writing to stderr
func Default() *Logger {
	once.Do(func() {
		defaultLogger = New(true, os.Stderr)
	})
	return defaultLogger
}

// New creates an audit logger writing JSON lines to w
func New(enabled bool, w io.Writer) *Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	return &Logger{
		logger:  slog.New(handler),
		enabled: enabled,
	}
}

// SetEnabled enables or disables audit logging
func (l *Logger) SetEnabled(enabled bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.enabled = enabled
}

// Log records an audit event. A request id in ctx fills RequestID when unset.
func (l *Logger) Log(ctx context.Context, event *Event) {
	l.mu.RLock()
	enabled := l.enabled
	l.mu.RUnlock()

	if !enabled {
		return
	}

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.RequestID == "" && ctx != nil {
		if id, ok := ctx.Value(logger.ContextKeyRequestID).(string); ok {
			event.RequestID = id
		}
	}

	attrs := []any{
		slog.String("audit", "true"),
		slog.String("operation", string(event.Operation)),
		slog.Bool("success", event.Success),
	}

	optional := []struct{ key, value string }{
		{"app_id", event.AppID},
		{"execution_id", event.ExecutionID},
		{"session_id", event.SessionID},
		{"schedule_id", event.ScheduleID},
		{"request_id", event.RequestID},
		{"remote_addr", event.RemoteAddr},
		{"error", event.Error},
	}
	for _, f := range optional {
		if f.value != "" {
			attrs = append(attrs, slog.String(f.key, f.value))
		}
	}
	if event.Details != nil {
		detailsJSON, _ := json.Marshal(event.Details)
		attrs = append(attrs, slog.String("details", string(detailsJSON)))
	}

	l.logger.Info("AUDIT", attrs...)
}

// Record logs the outcome of op, successful when err is nil
func (l *Logger) Record(ctx context.Context, event Event, err error) {
	event.Success = err == nil
	if err != nil {
		event.Error = err.Error()
	}
	l.Log(ctx, &event)
}

// Record logs to the default audit logger
func Record(ctx context.Context, event Event, err error) {
	Default().Record(ctx, event, err)
}
