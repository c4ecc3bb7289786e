package events_test

import (
	"testing"
	"time"

	"github.com/piprate/teamkeep/internal/events"
	"github.com/stretchr/testify/require"
)

func TestSubscribeReceivesPublishedEvent(t *testing.T) {
	bus := events.NewBus(4)
	defer bus.Close()

	ch := bus.Subscribe(string(events.Updated))
	bus.Publish(events.Event{Kind: events.Updated, Topic: "peer-1"}, true)

	select {
	case got := <-ch:
		evt, ok := got.(events.Event)
		require.True(t, ok)
		require.Equal(t, events.Updated, evt.Kind)
		require.Equal(t, "peer-1", evt.Topic)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for published event")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	bus := events.NewBus(4)
	defer bus.Close()

	ch := bus.Subscribe(string(events.Connected))
	bus.Unsubscribe(ch, string(events.Connected))

	bus.Publish(events.Event{Kind: events.Connected}, false)

	select {
	case _, ok := <-ch:
		require.False(t, ok, "channel should be closed after Unsubscribe")
	case <-time.After(100 * time.Millisecond):
	}
}
