// Package airops is a client for AirOps app executions and agent chats.
//
// A public client is created with New. Identify creates a client signed
// with an end-user identity; its realtime channels are private.
//
//	client, err := airops.Identify(airops.IdentifyParams{
//		UserID:       "user-1",
//		WorkspaceID:  42,
//		HashedUserID: hash,
//	}, airops.WithRealtimeConfig(realtime.SocketIOConfig{URL: wsURL}))
//	exec, err := client.Apps().Execute(ctx, execution.Request{AppID: "123"})
//	res, err := exec.Result(ctx)
package airops

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/HyphaGroup/airops-go/apperr"
	"github.com/HyphaGroup/airops-go/chat"
	"github.com/HyphaGroup/airops-go/execution"
	"github.com/HyphaGroup/airops-go/internal/ratelimit"
	"github.com/HyphaGroup/airops-go/realtime"
	"github.com/HyphaGroup/airops-go/transport"
)

// Version is the client library version
const Version = "0.4.0"

// IdentifyParams identifies the end user. All three fields are required.
type IdentifyParams struct {
	UserID       string
	WorkspaceID  int64
	HashedUserID string
}

type options struct {
	host         string
	httpClient   *http.Client
	provider     realtime.Provider
	realtimeCfg  realtime.SocketIOConfig
	pollInterval time.Duration
	timeout      time.Duration
	limiter      *ratelimit.Limiter
	validator    execution.Validator
	recorder     execution.Recorder
	logger       *slog.Logger
}

// Option configures a Client
type Option func(*options)

// WithHost overrides the API host
func WithHost(host string) Option {
	return func(o *options) {
		o.host = host
	}
}

// WithHTTPClient replaces the HTTP client used for API calls
func WithHTTPClient(hc *http.Client) Option {
	return func(o *options) {
		o.httpClient = hc
	}
}

// WithRealtimeProvider injects a realtime provider. The client does not close it.
func WithRealtimeProvider(p realtime.Provider) Option {
	return func(o *options) {
		o.provider = p
	}
}

// WithRealtimeConfig configures the socket.io connection dialled on first stream
func WithRealtimeConfig(cfg realtime.SocketIOConfig) Option {
	return func(o *options) {
		o.realtimeCfg = cfg
	}
}

// WithPolling overrides the poll interval and result deadline
func WithPolling(interval, timeout time.Duration) Option {
	return func(o *options) {
		o.pollInterval = interval
		o.timeout = timeout
	}
}

// WithRateLimit throttles outbound API calls
func WithRateLimit(requestsPerSecond float64, burst int) Option {
	return func(o *options) {
		if requestsPerSecond > 0 {
			o.limiter = ratelimit.New(requestsPerSecond, burst)
		}
	}
}

// WithValidator checks execution payloads before submit
func WithValidator(v execution.Validator) Option {
	return func(o *options) {
		o.validator = v
	}
}

// WithRecorder persists submitted executions and their results
func WithRecorder(r execution.Recorder) Option {
	return func(o *options) {
		o.recorder = r
	}
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// Client is the entry point to the API
type Client struct {
	transport *transport.Client
	endpoints transport.Endpoints
	exec      *execution.Coordinator
	chat      *chat.Coordinator
	apps      *Apps
	logger    *slog.Logger

	provider    realtime.Provider
	realtimeCfg realtime.SocketIOConfig

	mu       sync.Mutex
	realtime *realtime.Client
	dialed   *realtime.SocketIOProvider
	closed   bool
}

// New creates a public client without identity headers
func New(opts ...Option) *Client {
	return newClient(transport.Identity{}, opts)
}

// Identify creates a client signed with params
func Identify(params IdentifyParams, opts ...Option) (*Client, error) {
	id := transport.Identity{
		UserID:       params.UserID,
		WorkspaceID:  params.WorkspaceID,
		HashedUserID: params.HashedUserID,
	}
	if !id.Complete() {
		return nil, apperr.ErrIdentityIncomplete
	}
	return newClient(id, opts), nil
}

func newClient(id transport.Identity, opts []Option) *Client {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	tc := transport.New(
		transport.WithHTTPClient(o.httpClient),
		transport.WithIdentity(id),
		transport.WithRateLimiter(o.limiter),
		transport.WithLogger(o.logger),
		transport.WithUserAgent("airops-go/"+Version),
	)

	c := &Client{
		transport:   tc,
		endpoints:   transport.NewEndpoints(o.host),
		logger:      o.logger,
		provider:    o.provider,
		realtimeCfg: o.realtimeCfg,
	}
	c.exec = execution.NewCoordinator(tc, c.endpoints,
		execution.WithRealtime(c.realtimeClient),
		execution.WithPolling(o.pollInterval, o.timeout),
		execution.WithValidator(o.validator),
		execution.WithRecorder(o.recorder),
		execution.WithLogger(o.logger),
	)
	c.chat = chat.NewCoordinator(c.exec, chat.WithLogger(o.logger))
	c.apps = &Apps{exec: c.exec, chat: c.chat}
	return c
}

// Apps returns the app API
func (c *Client) Apps() *Apps {
	return c.apps
}

// Host returns the API host
func (c *Client) Host() string {
	return c.endpoints.Host
}

// Identified reports whether requests are signed with an identity
func (c *Client) Identified() bool {
	return c.transport.Signed()
}

// Close releases the realtime connection if the client dialled one.
// Safe to call multiple times.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	if c.dialed != nil {
		return c.dialed.Close()
	}
	return nil
}

// realtimeClient returns the shared realtime client, dialling on first use
func (c *Client) realtimeClient(ctx context.Context) (*realtime.Client, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, fmt.Errorf("%w: client closed", apperr.ErrSubscription)
	}
	if c.realtime != nil {
		return c.realtime, nil
	}

	provider := c.provider
	if provider == nil {
		if c.realtimeCfg.URL == "" {
			return nil, fmt.Errorf("%w: realtime URL not configured", apperr.ErrSubscription)
		}
		auth := transport.NewChannelAuthorizer(c.transport, c.endpoints.ChannelAuth())
		dialed, err := realtime.DialSocketIO(ctx, c.realtimeCfg, auth, c.logger)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", apperr.ErrSubscription, err)
		}
		c.dialed = dialed
		provider = dialed
	}

	c.realtime = realtime.NewClient(provider, c.transport.Signed(), c.logger)
	return c.realtime, nil
}

// Apps executes apps and agent chats
type Apps struct {
	exec *execution.Coordinator
	chat *chat.Coordinator
}

// Execute submits an app execution
func (a *Apps) Execute(ctx context.Context, req execution.Request) (*execution.Execution, error) {
	return a.exec.Execute(ctx, req)
}

// ChatStream submits a chat message to an agent app
func (a *Apps) ChatStream(ctx context.Context, req chat.Request) (*chat.Session, error) {
	return a.chat.ChatStream(ctx, req)
}

// GetResults fetches the current snapshot of an execution
func (a *Apps) GetResults(ctx context.Context, appID, executionID string) (*execution.Result, error) {
	return a.exec.GetResults(ctx, appID, executionID)
}

// Cancel cancels an execution by id, for handles recovered after a timeout
func (a *Apps) Cancel(ctx context.Context, appID, executionID string) error {
	return a.exec.CancelRemote(ctx, appID, executionID)
}

// Resume tracks an execution submitted earlier, polling for its result
func (a *Apps) Resume(ctx context.Context, appID, executionID string) *execution.Execution {
	return a.exec.Track(ctx, execution.Handle{
		ExecutionID: executionID,
		AppID:       appID,
		Kind:        execution.KindExecution,
		CreatedAt:   time.Now(),
	}, nil)
}
