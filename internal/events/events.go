// Package events fans recognition-loop events out to listeners (SSE clients, MQTT).
package events

import (
	"sync"
	"time"
)

const (
	TypeState      = "state"
	TypeAttendance = "attendance"
	TypeError      = "error"
)

// ListenerBuffer is the per-listener queue length. Slow listeners lose events beyond it.
const ListenerBuffer = 64

// Event is one notification from the loop.
type Event struct {
	Type      string    `json:"type"`
	SessionID string    `json:"session_id,omitempty"`
	Time      time.Time `json:"time"`
	Message   string    `json:"message,omitempty"`
	Data      any       `json:"data,omitempty"`
}

// Broadcaster provides listener management and event broadcasting.
// The zero value is ready to use.
type Broadcaster struct {
	listeners []chan Event
	mu        sync.RWMutex
}

// AddListener adds an event listener.
func (b *Broadcaster) AddListener() chan Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan Event, ListenerBuffer)
	b.listeners = append(b.listeners, ch)
	return ch
}

// RemoveListener removes an event listener and closes its channel.
func (b *Broadcaster) RemoveListener(ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, listener := range b.listeners {
		if listener == ch {
			b.listeners = append(b.listeners[:i], b.listeners[i+1:]...)
			close(ch)
			return
		}
	}
}

// SendEvent sends an event to all listeners without blocking.
func (b *Broadcaster) SendEvent(event Event) {
	if event.Time.IsZero() {
		event.Time = time.Now()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, listener := range b.listeners {
		select {
		case listener <- event:
		default:
			// Listener buffer full, skip.
		}
	}
}

func (b *Broadcaster) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners)
}
