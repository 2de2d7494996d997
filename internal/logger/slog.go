package logger

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

var (
	slogger *slog.Logger
	logFile *os.File
)

// Options controls where and how logs are written
type Options struct {
	Dir   string    // log directory, empty disables the file sink
	JSON  bool      // JSON output for production
	Level string    // debug, info, warn, error
	Out   io.Writer // console sink, defaults to stderr
}

// Init initializes the process logger from opts
func Init(opts Options) error {
	writer := opts.Out
	if writer == nil {
		// stdout carries command output for the CLI and the stdio MCP transport
		writer = os.Stderr
	}

	if opts.Dir != "" {
		if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
			return err
		}

		logFileName := "airops-" + time.Now().Format("2006-01-02") + ".log"
		logFilePath := filepath.Join(opts.Dir, logFileName)

		var err error
		logFile, err = os.OpenFile(logFilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return err
		}
		writer = io.MultiWriter(writer, logFile)
	}

	handlerOpts := &slog.HandlerOptions{Level: ParseLevel(opts.Level)}

	var handler slog.Handler
	if opts.JSON {
		handler = slog.NewJSONHandler(writer, handlerOpts)
	} else {
		handler = slog.NewTextHandler(writer, handlerOpts)
	}

	slogger = slog.New(handler)
	slog.SetDefault(slogger)

	return nil
}

// ParseLevel maps a level name to slog.Level, defaulting to info
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// CloseSlog closes the slog log file
func CloseSlog() error {
	if logFile != nil {
		return logFile.Close()
	}
	return nil
}

// Slog returns the slog.Logger instance for structured logging
func Slog() *slog.Logger {
	if slogger == nil {
		return slog.Default()
	}
	return slogger
}

// Discard returns a logger that drops everything, for tests
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// WithContext returns a logger with context fields
func WithContext(ctx context.Context) *slog.Logger {
	return FromContext(ctx, Slog())
}

// FromContext decorates base with the ids carried by ctx
func FromContext(ctx context.Context, base *slog.Logger) *slog.Logger {
	logger := base

	if requestID := ctx.Value(ContextKeyRequestID); requestID != nil {
		logger = logger.With("request_id", requestID)
	}
	if sessionID := ctx.Value(ContextKeySessionID); sessionID != nil {
		logger = logger.With("session_id", sessionID)
	}
	if appID := ctx.Value(ContextKeyAppID); appID != nil {
		logger = logger.With("app_id", appID)
	}

	return logger
}

// Context keys for structured logging
type contextKey string

const (
	ContextKeyRequestID contextKey = "request_id"
	ContextKeySessionID contextKey = "session_id"
	ContextKeyAppID     contextKey = "app_id"
)

// WithRequestID returns ctx carrying a request id for log correlation
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ContextKeyRequestID, id)
}

// WithAppID returns ctx carrying an app id for log correlation
func WithAppID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ContextKeyAppID, id)
}

// InfoContext logs an info message with context
func InfoContext(ctx context.Context, msg string, args ...any) {
	WithContext(ctx).Info(msg, args...)
}

// ErrorContext logs an error with context
func ErrorContext(ctx context.Context, msg string, args ...any) {
	WithContext(ctx).Error(msg, args...)
}

// WarnContext logs a warning with context
func WarnContext(ctx context.Context, msg string, args ...any) {
	WithContext(ctx).Warn(msg, args...)
}

// DebugContext logs debug info with context
func DebugContext(ctx context.Context, msg string, args ...any) {
	WithContext(ctx).Debug(msg, args...)
}
