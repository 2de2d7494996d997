// Package realtime subscribes to push channels that carry execution output.
//
// client.go - Confirmed channel subscriptions
//
// This file contains:
// - Client: derives channel names and waits for subscription confirmation
// - Subscribe / SubscribeChat: bind stream handlers once a channel is confirmed
//
// A subscription moves Subscribing -> Subscribed -> TornDown, or
// Subscribing -> Failed when the provider reports an error. Content handlers
// are bound only after confirmation.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/HyphaGroup/airops-go/apperr"
	"github.com/HyphaGroup/airops-go/internal/metrics"
)

// Client creates confirmed channel subscriptions on a Provider
type Client struct {
	provider Provider
	private  bool
	logger   *slog.Logger
}

// NewClient returns a Client. Channels are private when the caller's
// identity is complete and public otherwise.
func NewClient(provider Provider, private bool, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{provider: provider, private: private, logger: logger}
}

// ChannelName returns the full channel name for token
func (c *Client) ChannelName(token string) string {
	prefix := PrefixPublic
	if c.private {
		prefix = PrefixPrivate
	}
	return prefix + "-" + token
}

// Subscribe joins the execution stream channel for token. onChunk receives
// each chunk; onCompleted, if set, runs once when the stream completes.
func (c *Client) Subscribe(ctx context.Context, token string, onChunk func(Chunk), onCompleted func(Completed)) (*Subscription, error) {
	return c.subscribe(ctx, token, func(sub *Subscription) {
		sub.pc.Bind(EventChunk, func(data json.RawMessage) {
			ev, ok := sub.decode(EventChunk, data)
			if !ok || onChunk == nil {
				return
			}
			onChunk(ev.(Chunk))
		})
		sub.pc.Bind(EventCompleted, func(data json.RawMessage) {
			ev, ok := sub.decode(EventCompleted, data)
			if !ok {
				return
			}
			sub.complete(ev.(Completed), onCompleted)
		})
	})
}

// SubscribeChat joins the chat stream channel for token. Every event,
// including the final Completed, is delivered to onEvent.
func (c *Client) SubscribeChat(ctx context.Context, token string, onEvent Handler, onCompleted func(Completed)) (*Subscription, error) {
	if onEvent == nil {
		return nil, apperr.MissingCallback("onEvent")
	}
	return c.subscribe(ctx, token, func(sub *Subscription) {
		for _, name := range []string{EventAgentResponse, EventAgentAction, EventAgentActionError} {
			name := name
			sub.pc.Bind(name, func(data json.RawMessage) {
				if ev, ok := sub.decode(name, data); ok {
					onEvent(ev)
				}
			})
		}
		sub.pc.Bind(EventCompleted, func(data json.RawMessage) {
			ev, ok := sub.decode(EventCompleted, data)
			if !ok {
				return
			}
			onEvent(ev)
			sub.complete(ev.(Completed), onCompleted)
		})
	})
}

func (c *Client) subscribe(ctx context.Context, token string, bind func(*Subscription)) (*Subscription, error) {
	if token == "" {
		return nil, apperr.MissingParameter("channel token")
	}

	name := c.ChannelName(token)
	logger := c.logger.With("channel", name)
	pc := c.provider.Channel(name)

	confirm := make(chan error, 1)
	pc.Bind(EventSubscriptionSucceeded, func(json.RawMessage) {
		select {
		case confirm <- nil:
		default:
		}
	})
	pc.Bind(EventSubscriptionError, func(data json.RawMessage) {
		select {
		case confirm <- &apperr.SubscriptionError{Channel: name, Reason: subscriptionReason(data)}:
		default:
		}
	})

	logger.Debug("Subscribing to channel")
	pc.Subscribe()

	var err error
	select {
	case err = <-confirm:
	case <-ctx.Done():
		err = fmt.Errorf("waiting for subscription to %s: %w", name, ctx.Err())
	}
	if err != nil {
		pc.UnbindAll()
		pc.Unsubscribe()
		metrics.RecordSubscriptionFailure()
		logger.Warn("Channel subscription failed", "error", err)
		return nil, err
	}

	sub := newSubscription(name, pc, logger)
	bind(sub)
	metrics.RecordSubscriptionStart()
	logger.Debug("Channel subscribed")
	return sub, nil
}

// subscriptionReason extracts a readable reason from a subscription error payload
func subscriptionReason(data json.RawMessage) string {
	var payload struct {
		Error  string `json:"error"`
		Type   string `json:"type"`
		Status int    `json:"status"`
	}
	if err := json.Unmarshal(data, &payload); err == nil {
		switch {
		case payload.Error != "":
			return payload.Error
		case payload.Type != "":
			return payload.Type
		case payload.Status != 0:
			return fmt.Sprintf("status %d", payload.Status)
		}
	}
	if s := text(data); s != "" {
		return s
	}
	return "subscription rejected"
}
