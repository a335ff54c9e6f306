package events_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cuemby/loom/pkg/events"
)

func TestPublishDeliversToSubscriber(t *testing.T) {
	b := events.NewBroker()
	defer b.Stop()

	sub := b.Subscribe()
	defer b.Unsubscribe(sub)

	b.Publish(events.Event{Type: events.EventTurnExecuted})

	select {
	case ev := <-sub:
		require.Equal(t, events.EventTurnExecuted, ev.Type)
		require.False(t, ev.Timestamp.IsZero())
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	b := events.NewBroker()
	defer b.Stop()

	sub := b.Subscribe()
	require.Equal(t, 1, b.SubscriberCount())
	b.Unsubscribe(sub)
	require.Equal(t, 0, b.SubscriberCount())

	_, ok := <-sub
	require.False(t, ok)
}

func TestFullSubscriberBufferDropsWithoutBlockingPublish(t *testing.T) {
	b := events.NewBroker()
	defer b.Stop()

	sub := b.Subscribe()
	defer b.Unsubscribe(sub)

	for i := 0; i < 1000; i++ {
		b.Publish(events.Event{Type: events.EventReactionFired})
	}
	// Publish must return promptly regardless of how far the subscriber
	// has fallen behind; reaching here without timing out is the assertion.
}
