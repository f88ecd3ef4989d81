package events

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// DefaultBufferSize is the per-subscriber channel buffer used when a
// subscriber does not specify one.
const DefaultBufferSize = 64

// Bus is an in-memory publish-subscribe bus with typed topics. The
// orchestrator is the sole publisher; consumers subscribe to the event types
// they care about and must be unsubscribed at run completion.
//
// Publish never blocks: a subscriber whose buffer is full misses the event
// and the drop is counted. Progress consumers are expected to tolerate gaps.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]*Subscription
	nextID int
	closed bool

	published atomic.Uint64
	dropped   atomic.Uint64
}

// Subscription is a single subscriber's view of the bus. Events arrive on C
// until Unsubscribe is called or the bus is closed, after which C is closed.
type Subscription struct {
	// C delivers matching events
	C <-chan Event

	id     int
	ch     chan Event
	topics map[EventType]bool // empty means all topics
}

// NewBus creates an empty event bus.
func NewBus() *Bus {
	return &Bus{
		subs: make(map[int]*Subscription),
	}
}

// Subscribe registers a subscriber for the given event types. With no types,
// the subscriber receives every event. The returned subscription must be
// passed to Unsubscribe when the consumer is done to avoid leaks.
func (b *Bus) Subscribe(topics ...EventType) *Subscription {
	return b.SubscribeBuffered(DefaultBufferSize, topics...)
}

// SubscribeBuffered is Subscribe with an explicit channel buffer size.
func (b *Bus) SubscribeBuffered(buffer int, topics ...EventType) *Subscription {
	if buffer <= 0 {
		buffer = DefaultBufferSize
	}

	topicSet := make(map[EventType]bool, len(topics))
	for _, t := range topics {
		topicSet[t] = true
	}

	ch := make(chan Event, buffer)
	sub := &Subscription{
		C:      ch,
		ch:     ch,
		topics: topicSet,
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		close(ch)
		return sub
	}

	sub.id = b.nextID
	b.nextID++
	b.subs[sub.id] = sub
	return sub
}

// Unsubscribe removes a subscriber and closes its channel. Safe to call more
// than once.
func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.subs[sub.id]; !ok {
		return
	}
	delete(b.subs, sub.id)
	close(sub.ch)
}

// Publish delivers an event to every matching subscriber without blocking.
// Publishing on a closed bus is a no-op.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	b.published.Add(1)
	for _, sub := range b.subs {
		if len(sub.topics) > 0 && !sub.topics[event.Type] {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			// Subscriber buffer full: drop rather than stall the run.
			b.dropped.Add(1)
		}
	}
}

// Close shuts down the bus and closes every subscriber channel.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subs {
		delete(b.subs, id)
		close(sub.ch)
	}
}

// Published returns the total number of events published.
func (b *Bus) Published() uint64 {
	return b.published.Load()
}

// Dropped returns the total number of per-subscriber deliveries dropped due
// to full buffers.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// SubscriberCount returns the number of active subscriptions.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// New constructs an event with a fresh ID and the current timestamp.
func New(eventType EventType, runID string, severity EventSeverity, message string) Event {
	return Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Timestamp: time.Now(),
		RunID:     runID,
		Severity:  severity,
		Message:   message,
	}
}

// NewForPlugin constructs a plugin-scoped event.
func NewForPlugin(eventType EventType, runID, plugin string, severity EventSeverity, message string) Event {
	e := New(eventType, runID, severity, message)
	e.Plugin = plugin
	return e
}
