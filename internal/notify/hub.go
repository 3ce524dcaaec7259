// Package notify fans campaign progress events out to connected observers.
package notify

import (
	"sync"
	"time"

	"github.com/sungwon/mailrunner/internal/metrics"
)

const bufferSize = 64

// Event is one progress notification.
type Event struct {
	Name string    `json:"event"`
	Data any       `json:"data"`
	Time time.Time `json:"time"`
}

// Hub broadcasts events to subscribers. Broadcast never blocks: a
// subscriber whose buffer is full loses its oldest pending event.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]chan Event
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{subscribers: make(map[string]chan Event)}
}

// Subscribe registers an observer under id and returns its event channel.
// Subscribing twice with the same id replaces the earlier channel.
func (h *Hub) Subscribe(id string) <-chan Event {
	ch := make(chan Event, bufferSize)
	h.mu.Lock()
	if old, ok := h.subscribers[id]; ok {
		close(old)
	}
	h.subscribers[id] = ch
	metrics.NotifySubscribers.Set(float64(len(h.subscribers)))
	h.mu.Unlock()
	return ch
}

// Unsubscribe removes the observer and closes its channel.
func (h *Hub) Unsubscribe(id string) {
	h.mu.Lock()
	if ch, ok := h.subscribers[id]; ok {
		close(ch)
		delete(h.subscribers, id)
	}
	metrics.NotifySubscribers.Set(float64(len(h.subscribers)))
	h.mu.Unlock()
}

// Subscribers returns the number of connected observers.
func (h *Hub) Subscribers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}

// Broadcast sends the event to every subscriber.
func (h *Hub) Broadcast(name string, data any) {
	e := Event{Name: name, Data: data, Time: time.Now().UTC()}

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subscribers {
		select {
		case ch <- e:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- e:
		default:
		}
	}
}
