package events

import (
	"sync"
	"time"

	"github.com/cuemby/loom/pkg/ids"
)

// EventType discriminates the kinds of runtime activity a watcher can
// observe without polling the dataspace or journal directly.
type EventType string

const (
	EventTurnExecuted   EventType = "turn.executed"
	EventTurnFailed     EventType = "turn.failed"
	EventReactionFired  EventType = "reaction.fired"
	EventBranchForked   EventType = "branch.forked"
	EventBranchSwitched EventType = "branch.switched"
	EventTimeTraveled   EventType = "time.traveled"
)

// Event is one notification published to subscribers of a runtime's
// activity. Metadata carries kind-specific detail (e.g. "turn_id",
// "pattern_id") as strings rather than a typed payload per kind, since
// subscribers are expected to filter by Type before inspecting it.
type Event struct {
	Type      EventType
	Timestamp time.Time
	Branch    ids.BranchId
	Actor     ids.ActorId
	Metadata  map[string]string
}

// Subscriber is a channel that receives events.
type Subscriber chan Event

// Broker is an in-memory pub/sub bus over a runtime's activity. Publish
// never blocks on slow subscribers: a subscriber whose buffer is full
// silently drops the event rather than stalling turn execution.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[Subscriber]bool
	eventCh     chan Event
	stopCh      chan struct{}
	once        sync.Once
}

// NewBroker creates a broker and starts its distribution loop.
func NewBroker() *Broker {
	b := &Broker{
		subscribers: make(map[Subscriber]bool),
		eventCh:     make(chan Event, 256),
		stopCh:      make(chan struct{}),
	}
	go b.run()
	return b
}

// Stop halts distribution. Safe to call more than once.
func (b *Broker) Stop() {
	b.once.Do(func() { close(b.stopCh) })
}

// Subscribe registers a new subscription with a per-subscriber buffer.
func (b *Broker) Subscribe() Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := make(Subscriber, 64)
	b.subscribers[sub] = true
	return sub
}

// Unsubscribe removes and closes a subscription.
func (b *Broker) Unsubscribe(sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subscribers[sub]; ok {
		delete(b.subscribers, sub)
		close(sub)
	}
}

// Publish enqueues an event for distribution, stamping its timestamp if
// unset. It does not block on the broker being stopped.
func (b *Broker) Publish(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	select {
	case b.eventCh <- event:
	case <-b.stopCh:
	}
}

func (b *Broker) run() {
	for {
		select {
		case event := <-b.eventCh:
			b.broadcast(event)
		case <-b.stopCh:
			return
		}
	}
}

func (b *Broker) broadcast(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subscribers {
		select {
		case sub <- event:
		default:
		}
	}
}

// SubscriberCount reports the number of active subscriptions.
func (b *Broker) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
