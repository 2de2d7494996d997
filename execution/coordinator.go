// Package execution submits app executions and resolves their results.
//
// coordinator.go - Submit and remote record access
//
// This file contains:
// - Coordinator: submit, fetch and cancel against the remote API
// - Execute: validate, subscribe when streaming, submit, return an Execution
// - Track: resolve any submitted work from push and poll sources
package execution

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/HyphaGroup/airops-go/apperr"
	"github.com/HyphaGroup/airops-go/internal/metrics"
	"github.com/HyphaGroup/airops-go/realtime"
	"github.com/HyphaGroup/airops-go/transport"
)

const (
	// DefaultPollInterval is the wait between result polls
	DefaultPollInterval = 500 * time.Millisecond

	// DefaultTimeout bounds how long Result waits for a terminal status
	DefaultTimeout = 10 * time.Minute
)

// RealtimeSource returns the realtime client, connecting on first use
type RealtimeSource func(ctx context.Context) (*realtime.Client, error)

// Validator checks a submit payload before any network call
type Validator interface {
	ValidatePayload(appID string, payload map[string]any) error
}

// Recorder persists submitted work and its resolution
type Recorder interface {
	RecordSubmitted(ctx context.Context, h Handle) error
	RecordResolved(ctx context.Context, h Handle, res *Result, source string, resolveErr error) error
}

// Coordinator runs executions against one API host
type Coordinator struct {
	client       *transport.Client
	endpoints    transport.Endpoints
	realtime     RealtimeSource
	validator    Validator
	recorder     Recorder
	pollInterval time.Duration
	timeout      time.Duration
	newToken     func() string
	logger       *slog.Logger
}

// Option configures a Coordinator
type Option func(*Coordinator)

// WithRealtime enables streaming through src
func WithRealtime(src RealtimeSource) Option {
	return func(c *Coordinator) {
		c.realtime = src
	}
}

// WithPolling overrides the poll interval and overall deadline
func WithPolling(interval, timeout time.Duration) Option {
	return func(c *Coordinator) {
		if interval > 0 {
			c.pollInterval = interval
		}
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// WithValidator checks payloads before submit
func WithValidator(v Validator) Option {
	return func(c *Coordinator) {
		c.validator = v
	}
}

// WithRecorder persists handles and resolutions
func WithRecorder(r Recorder) Option {
	return func(c *Coordinator) {
		c.recorder = r
	}
}

// WithTokenGenerator replaces the random channel token source
func WithTokenGenerator(fn func() string) Option {
	return func(c *Coordinator) {
		if fn != nil {
			c.newToken = fn
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

// NewCoordinator creates a Coordinator
func NewCoordinator(client *transport.Client, endpoints transport.Endpoints, opts ...Option) *Coordinator {
	c := &Coordinator{
		client:       client,
		endpoints:    endpoints,
		pollInterval: DefaultPollInterval,
		timeout:      DefaultTimeout,
		newToken:     func() string { return uuid.New().String() },
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Client returns the transport used by the coordinator
func (c *Coordinator) Client() *transport.Client {
	return c.client
}

// Endpoints returns the endpoint builder
func (c *Coordinator) Endpoints() transport.Endpoints {
	return c.endpoints
}

// Realtime returns the realtime client, or an error when streaming is unavailable
func (c *Coordinator) Realtime(ctx context.Context) (*realtime.Client, error) {
	if c.realtime == nil {
		return nil, fmt.Errorf("%w: realtime provider not configured", apperr.ErrSubscription)
	}
	return c.realtime(ctx)
}

// NewToken returns a fresh channel token
func (c *Coordinator) NewToken() string {
	return c.newToken()
}

// Request describes one app execution
type Request struct {
	AppID       string
	Version     int
	Payload     map[string]any
	Stream      bool
	OnChunk     func(realtime.Chunk)
	OnCompleted func(realtime.Completed)
}

// Execute submits an app execution. When streaming, the channel is
// confirmed before the submit request is sent.
func (c *Coordinator) Execute(ctx context.Context, req Request) (*Execution, error) {
	if req.AppID == "" {
		return nil, apperr.MissingParameter("appId")
	}
	if req.Stream && req.OnChunk == nil {
		return nil, apperr.MissingCallback("onChunk")
	}
	if c.validator != nil {
		if err := c.validator.ValidatePayload(req.AppID, req.Payload); err != nil {
			return nil, err
		}
	}

	logger := c.logger.With("app_id", req.AppID)
	payload := maps.Clone(req.Payload)
	if payload == nil {
		payload = map[string]any{}
	}

	var sub *realtime.Subscription
	var token string
	if req.Stream {
		rt, err := c.Realtime(ctx)
		if err != nil {
			return nil, err
		}
		token = c.NewToken()
		sub, err = rt.Subscribe(ctx, token, req.OnChunk, req.OnCompleted)
		if err != nil {
			return nil, err
		}
		payload["stream_channel_id"] = token
	}

	var resp submitResponse
	if err := c.client.Post(ctx, c.endpoints.AsyncExecute(req.AppID, req.Version), payload, &resp); err != nil {
		if sub != nil {
			sub.Unsubscribe()
		}
		return nil, err
	}
	if resp.Execution == nil || resp.Execution.ID == "" {
		if sub != nil {
			sub.Unsubscribe()
		}
		return nil, fmt.Errorf("submit for app %s returned no execution record", req.AppID)
	}

	appID := resp.Execution.AppID.String()
	if appID == "" {
		appID = req.AppID
	}
	h := Handle{
		ExecutionID:     resp.Execution.ID.String(),
		AppID:           appID,
		StreamChannelID: token,
		Kind:            KindExecution,
		CreatedAt:       time.Now(),
	}

	metrics.RecordSubmit(KindExecution, req.Stream)
	logger.Info("Execution submitted", "execution_id", h.ExecutionID, "streaming", req.Stream)

	return c.Track(ctx, h, sub), nil
}

// GetResults fetches the current snapshot of an execution. A nil result
// with a nil error means the API returned no record.
func (c *Coordinator) GetResults(ctx context.Context, appID, executionID string) (*Result, error) {
	if appID == "" {
		return nil, apperr.MissingParameter("appId")
	}
	if executionID == "" {
		return nil, apperr.MissingParameter("executionId")
	}

	var res Result
	raw, err := c.client.Request(ctx, http.MethodGet, c.endpoints.Execution(appID, executionID), nil)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, nil
	}
	if err := res.decode(raw); err != nil {
		return nil, err
	}
	return &res, nil
}

// CancelRemote asks the API to cancel an execution
func (c *Coordinator) CancelRemote(ctx context.Context, appID, executionID string) error {
	if appID == "" {
		return apperr.MissingParameter("appId")
	}
	if executionID == "" {
		return apperr.MissingParameter("executionId")
	}
	return c.client.Patch(ctx, c.endpoints.CancelExecution(appID, executionID), nil, nil)
}

// Track returns an Execution for already-submitted work. sub may be nil.
// Work without an execution id resolves only from sub or the deadline.
func (c *Coordinator) Track(ctx context.Context, h Handle, sub *realtime.Subscription) *Execution {
	if h.CreatedAt.IsZero() {
		h.CreatedAt = time.Now()
	}
	e := newExecution(c, h, sub)
	if c.recorder != nil {
		if err := c.recorder.RecordSubmitted(ctx, h); err != nil {
			c.logger.Warn("Failed to record submission", "ref", h.Ref(), "error", err)
		}
	}
	return e
}
