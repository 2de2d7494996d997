package realtime

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/HyphaGroup/airops-go/internal/metrics"
)

// Subscription is a confirmed channel. It is torn down by the first of
// Unsubscribe or a completed event; later teardown requests are no-ops.
type Subscription struct {
	channel string
	pc      ProviderChannel
	logger  *slog.Logger

	teardown     sync.Once
	completeOnce sync.Once
	done         chan struct{}
	completed    chan Completed
}

func newSubscription(channel string, pc ProviderChannel, logger *slog.Logger) *Subscription {
	return &Subscription{
		channel:   channel,
		pc:        pc,
		logger:    logger,
		done:      make(chan struct{}),
		completed: make(chan Completed, 1),
	}
}

// Channel returns the full channel name
func (s *Subscription) Channel() string {
	return s.channel
}

// Unsubscribe unbinds every handler and leaves the channel. Safe to call
// repeatedly and after the stream has completed.
func (s *Subscription) Unsubscribe() {
	s.teardown.Do(func() {
		s.pc.UnbindAll()
		s.pc.Unsubscribe()
		close(s.done)
		metrics.RecordSubscriptionEnd()
		s.logger.Debug("Channel torn down")
	})
}

// Done is closed once the subscription is torn down
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Completed yields the completed event, at most once
func (s *Subscription) Completed() <-chan Completed {
	return s.completed
}

func (s *Subscription) complete(ev Completed, onCompleted func(Completed)) {
	s.completeOnce.Do(func() {
		s.Unsubscribe()
		if onCompleted != nil {
			onCompleted(ev)
		}
		s.completed <- ev
	})
}

func (s *Subscription) decode(name string, data json.RawMessage) (Event, bool) {
	ev, err := Decode(name, data)
	if err != nil {
		s.logger.Warn("Dropping malformed event", "event", name, "error", err)
		return nil, false
	}
	return ev, true
}
