package events

import (
	"testing"
)

func TestBusSubscribeAndPublish(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	sub := bus.Subscribe(EventTypeTaskCompleted)
	defer bus.Unsubscribe(sub)

	bus.Publish(New(EventTypeTaskCompleted, "run-1", SeverityInfo, "done"))
	bus.Publish(New(EventTypeTaskStarted, "run-1", SeverityInfo, "started"))

	got := <-sub.C
	if got.Type != EventTypeTaskCompleted {
		t.Errorf("event type = %s, want %s", got.Type, EventTypeTaskCompleted)
	}
	if got.RunID != "run-1" {
		t.Errorf("run ID = %s, want run-1", got.RunID)
	}

	// The task_started event must have been filtered out.
	select {
	case e := <-sub.C:
		t.Errorf("unexpected event delivered: %s", e.Type)
	default:
	}
}

func TestBusWildcardSubscription(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	sub := bus.Subscribe()
	defer bus.Unsubscribe(sub)

	types := []EventType{EventTypeRunStarted, EventTypeResourcePressure, EventTypeDegradationChanged}
	for _, et := range types {
		bus.Publish(New(et, "run-1", SeverityInfo, string(et)))
	}

	for i, want := range types {
		got := <-sub.C
		if got.Type != want {
			t.Errorf("event %d type = %s, want %s", i, got.Type, want)
		}
	}
}

func TestBusDropsWhenBufferFull(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	sub := bus.SubscribeBuffered(1, EventTypeTaskCompleted)
	defer bus.Unsubscribe(sub)

	bus.Publish(New(EventTypeTaskCompleted, "run-1", SeverityInfo, "first"))
	bus.Publish(New(EventTypeTaskCompleted, "run-1", SeverityInfo, "second"))

	if bus.Dropped() != 1 {
		t.Errorf("dropped = %d, want 1", bus.Dropped())
	}

	got := <-sub.C
	if got.Message != "first" {
		t.Errorf("message = %s, want first", got.Message)
	}
}

func TestBusUnsubscribeClosesChannel(t *testing.T) {
	bus := NewBus()
	defer bus.Close()

	sub := bus.Subscribe()
	bus.Unsubscribe(sub)

	if _, ok := <-sub.C; ok {
		t.Error("expected closed channel after unsubscribe")
	}
	if bus.SubscriberCount() != 0 {
		t.Errorf("subscriber count = %d, want 0", bus.SubscriberCount())
	}

	// Double unsubscribe must not panic.
	bus.Unsubscribe(sub)
}

func TestBusCloseIsIdempotent(t *testing.T) {
	bus := NewBus()
	sub := bus.Subscribe()

	bus.Close()
	bus.Close()

	if _, ok := <-sub.C; ok {
		t.Error("expected closed channel after bus close")
	}

	// Publishing after close is a no-op.
	bus.Publish(New(EventTypeRunCompleted, "run-1", SeverityInfo, "late"))
	if bus.Published() != 0 {
		t.Errorf("published = %d, want 0", bus.Published())
	}
}
