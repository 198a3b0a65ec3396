// Package events is the in-process broker decoupling the engine from audit
// and notification consumers.
package events

import (
	"sync"
	"time"
)

// Topic enumerates the event streams the core publishes.
type Topic string

const (
	TopicSignalAdmitted Topic = "signal.admitted"
	TopicSignalRejected Topic = "signal.rejected"
	TopicOrderSubmitted Topic = "order.submitted"
	TopicOrderFilled    Topic = "order.filled"
	TopicOrderFailed    Topic = "order.failed"
	TopicBalanceRefresh Topic = "balance.refreshed"
	TopicEngineStatus   Topic = "engine.status"
	TopicError          Topic = "error"
)

// Event is the structured record published on every topic; the audit sink
// persists it verbatim.
type Event struct {
	Timestamp time.Time      `json:"timestamp"`
	Component string         `json:"component"`
	Action    string         `json:"action"`
	Details   map[string]any `json:"details,omitempty"`
}

// Bus is a lightweight pub/sub broker over buffered channels. Publishing
// never blocks: a slow subscriber drops events rather than stalling the
// trading loop.
type Bus struct {
	mu   sync.RWMutex
	subs map[Topic][]chan Event
}

func NewBus() *Bus {
	return &Bus{subs: make(map[Topic][]chan Event)}
}

// Subscribe registers a listener and returns its channel plus an unsubscribe
// function that closes it.
func (b *Bus) Subscribe(t Topic, buffer int) (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan Event, buffer)
	b.subs[t] = append(b.subs[t], ch)

	unsub := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.subs[t]
		for i, c := range subs {
			if c == ch {
				close(c)
				b.subs[t] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
	}
	return ch, unsub
}

// Publish fans the event out to every subscriber of the topic.
func (b *Bus) Publish(t Topic, e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs[t] {
		select {
		case ch <- e:
		default:
			// drop for slow subscribers, the broker stays non-blocking
		}
	}
}
