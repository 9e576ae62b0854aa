// Package events fans state changes out to in-process subscribers and
// websocket clients. Delivery is best-effort: a subscriber that falls behind
// misses events rather than slowing the publisher down.
package events

import (
	"sync"
	"time"
)

const (
	TypeDownloadQueued   = "download.queued"
	TypeDownloadUpdated  = "download.updated"
	TypeDownloadProgress = "download.progress"
	TypeDownloadRemoved  = "download.removed"
	TypeScanStarted      = "scan.started"
	TypeScanCompleted    = "scan.completed"
)

const defaultSubscriberSize = 64

type Event struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// Broadcaster publishes events. Broadcast must never block.
type Broadcaster interface {
	Broadcast(e Event)
}

// Discard drops every event.
var Discard Broadcaster = discard{}

type discard struct{}

func (discard) Broadcast(Event) {}

type Hub struct {
	mu     sync.RWMutex
	subs   map[int]chan Event
	nextID int
}

func NewHub() *Hub {
	return &Hub{subs: make(map[int]chan Event)}
}

// Subscribe registers a subscriber with room for size undelivered events and
// returns its channel along with a function that unsubscribes and closes it.
func (h *Hub) Subscribe(size int) (<-chan Event, func()) {
	if size < 1 {
		size = defaultSubscriberSize
	}

	h.mu.Lock()
	h.nextID++
	id := h.nextID
	ch := make(chan Event, size)
	h.subs[id] = ch
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Broadcast delivers e to every subscriber with buffer room.
func (h *Hub) Broadcast(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Subscribers is the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs)
}
