package web

import (
	"sync"
	"time"

	"loramapper/internal/scheduler"
)

// Event is one live update pushed to /ws clients.
type Event struct {
	Type   string            `json:"type"`
	At     string            `json:"at"`
	State  string            `json:"state,omitempty"`
	Report *scheduler.Report `json:"report,omitempty"`
	Status *StatusSnapshot   `json:"status,omitempty"`
}

// EventBroadcaster fans events out to subscribers. Slow subscribers lose
// events rather than stall the publisher. The most recent event is replayed
// to new subscribers.
type EventBroadcaster struct {
	mu       sync.RWMutex
	subs     map[int]chan Event
	nextID   int
	last     Event
	haveLast bool
}

func NewEventBroadcaster() *EventBroadcaster {
	return &EventBroadcaster{subs: make(map[int]chan Event)}
}

func (b *EventBroadcaster) Subscribe(buffer int) (int, <-chan Event) {
	if b == nil {
		return 0, nil
	}
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	last, have := b.last, b.haveLast
	b.mu.Unlock()
	if have {
		select {
		case ch <- last:
		default:
		}
	}
	return id, ch
}

func (b *EventBroadcaster) Unsubscribe(id int) {
	if b == nil {
		return
	}
	b.mu.Lock()
	if ch, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(ch)
	}
	b.mu.Unlock()
}

func (b *EventBroadcaster) Subscribers() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

func (b *EventBroadcaster) Publish(ev Event) {
	if b == nil {
		return
	}
	if ev.At == "" {
		ev.At = time.Now().UTC().Format(time.RFC3339Nano)
	}
	// Hold the read lock while sending so Unsubscribe cannot close a channel
	// mid-send; sends never block.
	b.mu.RLock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
	b.mu.RUnlock()

	b.mu.Lock()
	b.last = ev
	b.haveLast = true
	b.mu.Unlock()
}
