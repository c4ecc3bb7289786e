// Package events implements the observer abstraction spec.md §9 calls for:
// a connection publishes named events and the host subscribes, with no
// runtime introspection and no process-wide singleton (grounds:
// services/notification/local.go's pubsub-backed notification service).
package events

import (
	"github.com/cskr/pubsub"
	"github.com/rs/zerolog/log"
)

// Kind names one of the events a connection emits, per spec.md §6.
type Kind string

const (
	Connected    Kind = "connected"
	Updated      Kind = "updated"
	Disconnected Kind = "disconnected"
	Error        Kind = "error"
)

// Event is published on a connection's topic (its peer id, or "" for
// team-wide events such as Updated).
type Event struct {
	Kind  Kind
	Topic string
	Err   error
	Data  any
}

// Bus is a topic-addressed event bus. One Bus is shared by every connection
// a team instance owns, so the host subscribes once per topic of interest
// rather than per connection.
type Bus struct {
	ps *pubsub.PubSub
}

// NewBus creates a Bus whose subscriber channels buffer up to capacity
// pending events before a slow subscriber starts blocking publishers.
func NewBus(capacity int) *Bus {
	return &Bus{ps: pubsub.New(capacity)}
}

// Publish delivers evt to every subscriber of evt.Kind and to every
// subscriber of evt.Topic. wait selects between a blocking and a
// best-effort send.
func (b *Bus) Publish(evt Event, wait bool) {
	log.Debug().Str("kind", string(evt.Kind)).Str("topic", evt.Topic).Msg("publish connection event")
	topics := []string{string(evt.Kind), evt.Topic}
	if wait {
		b.ps.Pub(evt, topics...)
	} else {
		b.ps.TryPub(evt, topics...)
	}
}

// Subscribe returns a channel receiving every Event published under any of
// kinds or topics.
func (b *Bus) Subscribe(kindsOrTopics ...string) chan any {
	return b.ps.Sub(kindsOrTopics...)
}

// Unsubscribe detaches ch from kindsOrTopics.
func (b *Bus) Unsubscribe(ch chan any, kindsOrTopics ...string) {
	b.ps.Unsub(ch, kindsOrTopics...)
}

// Close shuts the bus down, closing every subscriber channel.
func (b *Bus) Close() {
	b.ps.Shutdown()
}
