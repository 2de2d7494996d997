// Package chat runs streaming agent chat sessions.
//
// A chat subscribes to its stream channel before the message is submitted,
// delivers every agent event to one handler, and resolves when the stream
// completes. When the submit response names an execution record the result
// is also polled, exactly like an app execution.
package chat

import (
	"context"
	"log/slog"
	"maps"
	"time"

	"github.com/google/uuid"

	"github.com/HyphaGroup/airops-go/apperr"
	"github.com/HyphaGroup/airops-go/execution"
	"github.com/HyphaGroup/airops-go/internal/metrics"
	"github.com/HyphaGroup/airops-go/realtime"
)

// Request describes one chat turn
type Request struct {
	AppID       string
	Message     string
	OnEvent     realtime.Handler
	OnCompleted func(realtime.Completed)
	SessionID   string
	Inputs      map[string]any
}

// Result is the outcome of a chat turn
type Result struct {
	SessionID string            `json:"session_id"`
	Result    string            `json:"result"`
	Execution *execution.Result `json:"execution,omitempty"`
}

// Session is a submitted chat turn
type Session struct {
	SessionID string
	exec      *execution.Execution
}

// Result waits for the chat to complete
func (s *Session) Result(ctx context.Context) (*Result, error) {
	res, err := s.exec.Result(ctx)
	if err != nil {
		return nil, err
	}
	return &Result{SessionID: s.SessionID, Result: res.Text(), Execution: res}, nil
}

// Cancel stops the stream and, when the chat has an execution record,
// cancels it remotely. Safe to call multiple times.
func (s *Session) Cancel(ctx context.Context) error {
	return s.exec.Cancel(ctx)
}

// ExecutionID returns the remote execution id, empty when the API did not report one
func (s *Session) ExecutionID() string {
	return s.exec.ID()
}

// Coordinator submits chat turns
type Coordinator struct {
	exec         *execution.Coordinator
	newSessionID func() string
	logger       *slog.Logger
}

// Option configures a Coordinator
type Option func(*Coordinator)

// WithSessionIDGenerator replaces the random session id source
func WithSessionIDGenerator(fn func() string) Option {
	return func(c *Coordinator) {
		if fn != nil {
			c.newSessionID = fn
		}
	}
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewCoordinator creates a Coordinator sharing exec's transport, realtime
// source and polling policy
func NewCoordinator(exec *execution.Coordinator, opts ...Option) *Coordinator {
	c := &Coordinator{
		exec:         exec,
		newSessionID: func() string { return uuid.New().String() },
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type chatPayload struct {
	Definition      any            `json:"definition"`
	Message         string         `json:"message"`
	StreamChannelID string         `json:"stream_channel_id"`
	SessionID       string         `json:"session_id"`
	Inputs          map[string]any `json:"inputs,omitempty"`
}

type chatResponse struct {
	Execution *execution.Result `json:"airops_app_execution"`
}

// ChatStream submits a chat message. The session id is reused when given.
func (c *Coordinator) ChatStream(ctx context.Context, req Request) (*Session, error) {
	switch {
	case req.Message == "":
		return nil, apperr.MissingParameter("message")
	case req.AppID == "":
		return nil, apperr.MissingParameter("appId")
	case req.OnEvent == nil:
		return nil, apperr.MissingParameter("onEvent")
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = c.newSessionID()
	}
	logger := c.logger.With("app_id", req.AppID, "session_id", sessionID)

	rt, err := c.exec.Realtime(ctx)
	if err != nil {
		return nil, err
	}
	token := c.exec.NewToken()
	sub, err := rt.SubscribeChat(ctx, token, req.OnEvent, req.OnCompleted)
	if err != nil {
		return nil, err
	}

	payload := chatPayload{
		Message:         req.Message,
		StreamChannelID: token,
		SessionID:       sessionID,
		Inputs:          maps.Clone(req.Inputs),
	}

	var resp chatResponse
	endpoint := c.exec.Endpoints().ChatStream(req.AppID)
	if err := c.exec.Client().Post(ctx, endpoint, payload, &resp); err != nil {
		sub.Unsubscribe()
		return nil, err
	}

	h := execution.Handle{
		AppID:           req.AppID,
		SessionID:       sessionID,
		StreamChannelID: token,
		Kind:            execution.KindChat,
		CreatedAt:       time.Now(),
	}
	if resp.Execution != nil && resp.Execution.ID != "" {
		h.ExecutionID = resp.Execution.ID.String()
		if id := resp.Execution.AppID.String(); id != "" {
			h.AppID = id
		}
	}

	metrics.RecordSubmit(execution.KindChat, true)
	logger.Info("Chat submitted", "execution_id", h.ExecutionID)

	return &Session{SessionID: sessionID, exec: c.exec.Track(ctx, h, sub)}, nil
}
