package service

import "sync"

// Event actions.
const (
	ActionCreated     = "created"
	ActionUpdated     = "updated"
	ActionDeleted     = "deleted"
	ActionDeactivated = "deactivated"
)

// Event is a layer mutation.
type Event struct {
	Resource string `json:"resource"` // "layers"
	Action   string `json:"action"`
	ID       string `json:"id"`
	Name     string `json:"name,omitempty"`
}

// EventBus fans events out to subscribers.
type EventBus struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}

	// OnPublish, when set, is called once per published event.
	OnPublish func(Event)
}

// NewEventBus creates an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{subs: make(map[chan Event]struct{})}
}

// Publish delivers e to every subscriber without blocking. Slow
// subscribers miss events. A nil bus drops everything.
func (b *EventBus) Publish(e Event) {
	if b == nil {
		return
	}
	if b.OnPublish != nil {
		b.OnPublish(e)
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Subscribe registers a buffered subscriber. Call the returned function
// to unsubscribe; it closes the channel.
func (b *EventBus) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 16)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, ch)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Subscribers returns the current subscriber count.
func (b *EventBus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
