// Package events fans agent activity out to streaming API clients.
package events

import (
	"sync"
	"sync/atomic"
	"time"
)

const subscriberBufSize = 256

// Kind names an activity type. It doubles as the SSE event name.
type Kind string

const (
	KindTabAttached  Kind = "tab_attached"
	KindTabDetached  Kind = "tab_detached"
	KindNavigation   Kind = "navigation"
	KindControlClick Kind = "control_click"
	KindAcquisition  Kind = "acquisition"
)

// Event is one activity record.
type Event struct {
	Kind  Kind           `json:"kind"`
	TabID string         `json:"tab_id"`
	Time  time.Time      `json:"time"`
	Data  map[string]any `json:"data,omitempty"`
}

// Broker fans out events to all subscribers.
type Broker struct {
	mu          sync.RWMutex
	subscribers map[int64]chan Event
	nextID      atomic.Int64
	dropped     atomic.Int64
}

func NewBroker() *Broker {
	return &Broker{
		subscribers: make(map[int64]chan Event),
	}
}

// Subscribe registers a client. The channel is buffered; events for a slow
// client are dropped.
func (b *Broker) Subscribe() (int64, <-chan Event) {
	id := b.nextID.Add(1)
	ch := make(chan Event, subscriberBufSize)
	b.mu.Lock()
	b.subscribers[id] = ch
	b.mu.Unlock()
	return id, ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Broker) Unsubscribe(id int64) {
	b.mu.Lock()
	ch, ok := b.subscribers[id]
	if ok {
		delete(b.subscribers, id)
		close(ch)
	}
	b.mu.Unlock()
}

// Publish stamps evt and sends it to every subscriber without blocking.
// A nil broker discards the event.
func (b *Broker) Publish(evt Event) {
	if b == nil {
		return
	}
	if evt.Time.IsZero() {
		evt.Time = time.Now().UTC()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subscribers {
		select {
		case ch <- evt:
		default:
			b.dropped.Add(1)
		}
	}
}

// ClientCount returns the number of active subscribers.
func (b *Broker) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// Dropped returns how many deliveries were skipped for full subscribers.
func (b *Broker) Dropped() int64 {
	return b.dropped.Load()
}
