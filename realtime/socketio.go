package realtime

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/zishang520/engine.io-client-go/transports"
	"github.com/zishang520/engine.io/v2/types"
	"github.com/zishang520/socket.io-client-go/socket"
)

// Outbound control events on the socket.io connection
const (
	emitSubscribe   = "pusher:subscribe"
	emitUnsubscribe = "pusher:unsubscribe"
)

// DefaultConnectTimeout bounds the initial socket.io handshake
const DefaultConnectTimeout = 15 * time.Second

// SocketIOConfig configures the socket.io realtime connection.
// It is passed explicitly; nothing is read from the environment.
type SocketIOConfig struct {
	URL                string
	Namespace          string
	AppKey             string
	Cluster            string
	Headers            http.Header
	InsecureSkipVerify bool
	ConnectTimeout     time.Duration
}

// Authorizer signs private channel subscriptions
type Authorizer interface {
	Authorize(ctx context.Context, socketID, channel string) (string, error)
}

// SocketIOProvider multiplexes stream channels over one socket.io connection.
// Inbound events carry (channel, data); they are routed to the bindings of
// that channel only.
type SocketIOProvider struct {
	io     *socket.Socket
	auth   Authorizer
	logger *slog.Logger

	mu       sync.Mutex
	channels map[string]*socketChannel
	closed   bool
}

// DialSocketIO connects to cfg.URL and returns a ready provider
func DialSocketIO(ctx context.Context, cfg SocketIOConfig, auth Authorizer, logger *slog.Logger) (*SocketIOProvider, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "realtime", "url", cfg.URL)

	parsedURL, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse realtime URL: %w", err)
	}
	if parsedURL.Scheme == "" || parsedURL.Host == "" {
		return nil, fmt.Errorf("realtime URL %q must include scheme and host", cfg.URL)
	}

	opts := socket.DefaultOptions()
	if parsedURL.Path != "" && parsedURL.Path != "/" {
		opts.SetPath(parsedURL.Path)
	}
	if cfg.InsecureSkipVerify {
		logger.Warn("Skipping TLS certificate verification")
		opts.SetTLSClientConfig(&tls.Config{InsecureSkipVerify: true})
	}
	opts.SetTransports(types.NewSet(transports.WebSocket))
	if len(cfg.Headers) > 0 {
		opts.SetExtraHeaders(cfg.Headers)
	}
	query := url.Values{}
	if cfg.AppKey != "" {
		query.Set("app_key", cfg.AppKey)
	}
	if cfg.Cluster != "" {
		query.Set("cluster", cfg.Cluster)
	}
	if len(query) > 0 {
		opts.SetQuery(query)
	}

	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}

	baseURL := fmt.Sprintf("%s://%s", parsedURL.Scheme, parsedURL.Host)
	manager := socket.NewManager(baseURL, opts)
	io := manager.Socket(cfg.Namespace, opts)

	p := &SocketIOProvider{
		io:       io,
		auth:     auth,
		logger:   logger,
		channels: make(map[string]*socketChannel),
	}

	connectChan := make(chan error, 1)
	io.Once(types.EventName("connect"), func(...any) {
		logger.Info("Realtime connection established", "sid", io.Id())
		connectChan <- nil
	})
	io.Once(types.EventName("connect_error"), func(errs ...any) {
		err := errors.New("connect_error")
		if len(errs) > 0 {
			if e, ok := errs[0].(error); ok {
				err = e
			}
		}
		connectChan <- err
	})
	io.OnAny(p.dispatch)

	io.Connect()

	select {
	case err := <-connectChan:
		if err != nil {
			io.Disconnect()
			return nil, fmt.Errorf("realtime connection failed: %w", err)
		}
		return p, nil
	case <-ctx.Done():
		io.Disconnect()
		return nil, fmt.Errorf("context cancelled while waiting for realtime connection: %w", ctx.Err())
	case <-time.After(timeout):
		io.Disconnect()
		return nil, fmt.Errorf("timed out after %s waiting for realtime connection", timeout)
	}
}

// Channel implements Provider
func (p *SocketIOProvider) Channel(name string) ProviderChannel {
	p.mu.Lock()
	defer p.mu.Unlock()

	ch, ok := p.channels[name]
	if !ok {
		ch = &socketChannel{provider: p, name: name, handlers: make(map[string][]func(json.RawMessage))}
		p.channels[name] = ch
	}
	return ch
}

// Close disconnects the shared connection. Safe to call multiple times.
func (p *SocketIOProvider) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.channels = make(map[string]*socketChannel)
	p.mu.Unlock()

	p.logger.Info("Closing realtime connection", "sid", p.io.Id())
	p.io.Disconnect()
	return nil
}

// dispatch routes an inbound (event, channel, data) triple
func (p *SocketIOProvider) dispatch(args ...any) {
	if len(args) < 2 {
		return
	}
	event, ok := args[0].(string)
	if !ok {
		return
	}
	channel, ok := args[1].(string)
	if !ok {
		return
	}
	var data any
	if len(args) > 2 {
		data = args[2]
	}
	p.deliver(channel, event, toRaw(data))
}

func (p *SocketIOProvider) deliver(channel, event string, data json.RawMessage) {
	p.mu.Lock()
	ch, ok := p.channels[channel]
	var handlers []func(json.RawMessage)
	if ok {
		handlers = append(handlers, ch.handlers[event]...)
	}
	p.mu.Unlock()

	for _, h := range handlers {
		h(data)
	}
}

// toRaw normalizes decoded socket.io payloads to JSON. Pusher-style servers
// often send the data field as a JSON-encoded string.
func toRaw(data any) json.RawMessage {
	switch v := data.(type) {
	case nil:
		return nil
	case string:
		if trimmed := strings.TrimSpace(v); trimmed != "" && json.Valid([]byte(trimmed)) && (trimmed[0] == '{' || trimmed[0] == '[') {
			return json.RawMessage(trimmed)
		}
	case []byte:
		if json.Valid(v) {
			return json.RawMessage(v)
		}
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil
	}
	return raw
}

type socketChannel struct {
	provider *SocketIOProvider
	name     string
	handlers map[string][]func(json.RawMessage)
}

func (c *socketChannel) Bind(event string, handler func(json.RawMessage)) {
	c.provider.mu.Lock()
	defer c.provider.mu.Unlock()
	c.handlers[event] = append(c.handlers[event], handler)
}

func (c *socketChannel) UnbindAll() {
	c.provider.mu.Lock()
	defer c.provider.mu.Unlock()
	c.handlers = make(map[string][]func(json.RawMessage))
}

func (c *socketChannel) Subscribe() {
	p := c.provider
	if !strings.HasPrefix(c.name, PrefixPrivate+"-") || p.auth == nil {
		c.emitSubscribe(map[string]any{"channel": c.name})
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), DefaultConnectTimeout)
		defer cancel()

		sig, err := p.auth.Authorize(ctx, p.io.Id(), c.name)
		if err != nil {
			p.fail(c.name, err)
			return
		}
		c.emitSubscribe(map[string]any{"channel": c.name, "auth": sig})
	}()
}

func (c *socketChannel) emitSubscribe(payload map[string]any) {
	if err := c.provider.io.Emit(emitSubscribe, payload); err != nil {
		c.provider.fail(c.name, err)
	}
}

func (c *socketChannel) Unsubscribe() {
	p := c.provider
	p.mu.Lock()
	if current, ok := p.channels[c.name]; ok && current == c {
		delete(p.channels, c.name)
	}
	closed := p.closed
	p.mu.Unlock()

	if closed {
		return
	}
	if err := p.io.Emit(emitUnsubscribe, map[string]any{"channel": c.name}); err != nil {
		p.logger.Warn("Failed to leave channel", "channel", c.name, "error", err)
	}
}

// fail reports a local subscription failure through the channel's meta-event
func (p *SocketIOProvider) fail(channel string, err error) {
	raw, _ := json.Marshal(map[string]string{"error": err.Error()})
	p.deliver(channel, EventSubscriptionError, raw)
}
