package realtime

import "encoding/json"

// Meta-events reported by the provider for each channel
const (
	EventSubscriptionSucceeded = "pusher:subscription_succeeded"
	EventSubscriptionError     = "pusher:subscription_error"
)

// Channel name prefixes
const (
	PrefixPrivate = "private"
	PrefixPublic  = "public"
)

// Provider is a push connection multiplexing named channels.
// Implementations share one connection across channels.
type Provider interface {
	// Channel returns the binding scope for name without subscribing
	Channel(name string) ProviderChannel
}

// ProviderChannel is one channel on a Provider. Handlers bound here never
// receive events for other channels, and UnbindAll only affects this channel.
type ProviderChannel interface {
	Bind(event string, handler func(data json.RawMessage))
	UnbindAll()
	Subscribe()
	Unsubscribe()
}
