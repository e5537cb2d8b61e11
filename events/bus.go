package events

import (
	"sync"
)

// Bus is a channel-based pub-sub event bus. Subscribers receive events on a
// buffered channel wrapped in a Subscription; a subscription to the empty
// topic receives every event regardless of topic.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[string]map[int]chan Event // topic -> id -> channel
	closed bool
}

// Subscription is a live topic subscription. Events arrive on C. Cancel
// detaches the subscription and closes C.
type Subscription struct {
	C <-chan Event

	bus   *Bus
	topic string
	id    int
	ch    chan Event
}

// Cancel detaches the subscription from the bus. Idempotent.
func (s *Subscription) Cancel() {
	s.bus.mu.Lock()
	defer s.bus.mu.Unlock()
	if s.bus.closed {
		return
	}
	if set, ok := s.bus.subs[s.topic]; ok {
		if _, live := set[s.id]; live {
			delete(set, s.id)
			close(s.ch)
		}
	}
}

// NewBus creates a new event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[string]map[int]chan Event)}
}

// Subscribe creates a subscription to a topic. The empty topic subscribes to
// every event. bufSize determines the channel buffer size (defaults to 256
// if <= 0).
func (b *Bus) Subscribe(topic string, bufSize int) *Subscription {
	if bufSize <= 0 {
		bufSize = 256
	}
	ch := make(chan Event, bufSize)

	b.mu.Lock()
	defer b.mu.Unlock()

	sub := &Subscription{C: ch, bus: b, topic: topic, ch: ch}
	if b.closed {
		close(ch)
		return sub
	}

	b.nextID++
	sub.id = b.nextID
	set, ok := b.subs[topic]
	if !ok {
		set = make(map[int]chan Event)
		b.subs[topic] = set
	}
	set[sub.id] = ch
	return sub
}

// SubscribeAll subscribes to every topic.
func (b *Bus) SubscribeAll(bufSize int) *Subscription {
	return b.Subscribe("", bufSize)
}

// Publish delivers an event to the topic's subscribers and to all-topic
// subscribers. Non-blocking: a subscriber whose buffer is full misses the
// event.
func (b *Bus) Publish(topic string, event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	deliver := func(set map[int]chan Event) {
		for _, ch := range set {
			select {
			case ch <- event:
			default:
				// Channel full, drop for this subscriber
			}
		}
	}
	deliver(b.subs[topic])
	if topic != "" {
		deliver(b.subs[""])
	}
}

// Close shuts the bus down and closes every subscriber channel. Safe to call
// multiple times.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true

	for _, set := range b.subs {
		for _, ch := range set {
			close(ch)
		}
	}
	b.subs = nil
}
