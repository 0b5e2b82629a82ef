package service

import (
	"testing"
	"time"
)

func TestEventBusFanOut(t *testing.T) {
	bus := NewEventBus()
	var published []Event
	bus.OnPublish = func(e Event) { published = append(published, e) }

	a, unsubA := bus.Subscribe()
	b, unsubB := bus.Subscribe()
	defer unsubB()

	bus.Publish(Event{Resource: "layers", Action: ActionCreated, ID: "1"})

	for _, ch := range []<-chan Event{a, b} {
		select {
		case e := <-ch:
			if e.ID != "1" || e.Action != ActionCreated {
				t.Fatalf("unexpected event %+v", e)
			}
		case <-time.After(time.Second):
			t.Fatal("event not delivered")
		}
	}
	if len(published) != 1 {
		t.Fatalf("OnPublish called %d times", len(published))
	}

	unsubA()
	unsubA()
	if _, ok := <-a; ok {
		t.Fatal("channel not closed after unsubscribe")
	}
	if n := bus.Subscribers(); n != 1 {
		t.Fatalf("subscribers = %d, want 1", n)
	}
}

func TestEventBusSlowSubscriberDoesNotBlock(t *testing.T) {
	bus := NewEventBus()
	_, unsub := bus.Subscribe()
	defer unsub()

	done := make(chan struct{})
	go func() {
		for range 100 {
			bus.Publish(Event{Action: ActionUpdated})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
}

func TestNilBusPublish(t *testing.T) {
	var bus *EventBus
	bus.Publish(Event{Action: ActionDeleted})
}
