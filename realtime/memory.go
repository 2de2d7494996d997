package realtime

import (
	"encoding/json"
	"sort"
	"sync"
)

// MemoryProvider is an in-process Provider for tests and local tooling.
// Events are injected with Emit. Subscriptions confirm asynchronously
// unless RejectReason is set or AutoConfirm is false.
type MemoryProvider struct {
	mu           sync.Mutex
	channels     map[string]*memoryChannel
	history      []string
	autoConfirm  bool
	rejectReason string
}

// MemoryOption configures a MemoryProvider
type MemoryOption func(*MemoryProvider)

// WithoutAutoConfirm leaves subscriptions pending until Confirm or Reject is called
func WithoutAutoConfirm() MemoryOption {
	return func(p *MemoryProvider) {
		p.autoConfirm = false
	}
}

// WithRejection rejects every subscription with reason
func WithRejection(reason string) MemoryOption {
	return func(p *MemoryProvider) {
		p.rejectReason = reason
	}
}

// NewMemoryProvider creates a MemoryProvider
func NewMemoryProvider(opts ...MemoryOption) *MemoryProvider {
	p := &MemoryProvider{
		channels:    make(map[string]*memoryChannel),
		autoConfirm: true,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

type memoryChannel struct {
	provider   *MemoryProvider
	name       string
	handlers   map[string][]func(json.RawMessage)
	subscribed bool
}

// Channel implements Provider
func (p *MemoryProvider) Channel(name string) ProviderChannel {
	p.mu.Lock()
	defer p.mu.Unlock()

	ch, ok := p.channels[name]
	if !ok {
		ch = &memoryChannel{provider: p, name: name, handlers: make(map[string][]func(json.RawMessage))}
		p.channels[name] = ch
	}
	return ch
}

func (c *memoryChannel) Bind(event string, handler func(json.RawMessage)) {
	c.provider.mu.Lock()
	defer c.provider.mu.Unlock()
	c.handlers[event] = append(c.handlers[event], handler)
}

func (c *memoryChannel) UnbindAll() {
	c.provider.mu.Lock()
	defer c.provider.mu.Unlock()
	c.handlers = make(map[string][]func(json.RawMessage))
}

func (c *memoryChannel) Subscribe() {
	p := c.provider
	p.mu.Lock()
	c.subscribed = true
	p.history = append(p.history, c.name)
	reject, confirm := p.rejectReason, p.autoConfirm
	p.mu.Unlock()

	go func() {
		switch {
		case reject != "":
			p.Reject(c.name, reject)
		case confirm:
			p.Confirm(c.name)
		}
	}()
}

func (c *memoryChannel) Unsubscribe() {
	c.provider.mu.Lock()
	defer c.provider.mu.Unlock()
	c.subscribed = false
}

// Confirm delivers the subscription-succeeded meta-event to channel
func (p *MemoryProvider) Confirm(channel string) {
	p.Emit(channel, EventSubscriptionSucceeded, struct{}{})
}

// Reject delivers the subscription-error meta-event to channel
func (p *MemoryProvider) Reject(channel, reason string) {
	p.Emit(channel, EventSubscriptionError, map[string]string{"error": reason})
}

// Emit delivers event to the handlers bound on channel. It reports whether
// any handler received it.
func (p *MemoryProvider) Emit(channel, event string, data any) bool {
	raw, err := json.Marshal(data)
	if err != nil {
		return false
	}

	p.mu.Lock()
	ch, ok := p.channels[channel]
	var handlers []func(json.RawMessage)
	if ok {
		handlers = append(handlers, ch.handlers[event]...)
	}
	p.mu.Unlock()

	for _, h := range handlers {
		h(raw)
	}
	return len(handlers) > 0
}

// Bound returns the sorted event names with handlers on channel
func (p *MemoryProvider) Bound(channel string) []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	ch, ok := p.channels[channel]
	if !ok {
		return nil
	}
	var names []string
	for name, hs := range ch.handlers {
		if len(hs) > 0 {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Subscribed reports whether channel is currently subscribed
func (p *MemoryProvider) Subscribed(channel string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	ch, ok := p.channels[channel]
	return ok && ch.subscribed
}

// History returns every channel name subscribe was requested for, in order
func (p *MemoryProvider) History() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.history...)
}
