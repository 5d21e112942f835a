// Package realtime pushes wallet and game events to connected web clients.
package realtime

import (
	"strings"
	"sync"
	"time"
)

// Event types published by the payment flows.
const (
	EventWalletUpdated = "wallet_updated"
	EventGameJoined    = "game_joined"
	EventPong          = "pong"
)

const subscriberBuffer = 16

// Event is a single message delivered to a user's connections.
type Event struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp int64       `json:"timestamp"`
}

// Publisher is the write side used by the payment flows.
type Publisher interface {
	Publish(uid string, event Event)
}

// Hub fans events out to every subscription a user holds.
type Hub struct {
	mu   sync.RWMutex
	subs map[string]map[*subscription]struct{}
}

type subscription struct {
	ch chan Event
}

// NewHub constructs an empty Hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[*subscription]struct{})}
}

// Subscribe registers a listener for uid. The returned cancel func must be
// called once the listener goes away; it closes the channel.
func (h *Hub) Subscribe(uid string) (<-chan Event, func()) {
	sub := &subscription{ch: make(chan Event, subscriberBuffer)}

	h.mu.Lock()
	if h.subs[uid] == nil {
		h.subs[uid] = make(map[*subscription]struct{})
	}
	h.subs[uid][sub] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs[uid], sub)
			if len(h.subs[uid]) == 0 {
				delete(h.subs, uid)
			}
			close(sub.ch)
			h.mu.Unlock()
		})
	}

	return sub.ch, cancel
}

// Publish delivers event to uid's subscribers without blocking; a subscriber
// with a full buffer misses the event.
func (h *Hub) Publish(uid string, event Event) {
	if h == nil || strings.TrimSpace(uid) == "" {
		return
	}
	if event.Timestamp == 0 {
		event.Timestamp = time.Now().Unix()
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for sub := range h.subs[uid] {
		select {
		case sub.ch <- event:
		default:
		}
	}
}

// Subscribers returns how many listeners uid currently has.
func (h *Hub) Subscribers(uid string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[uid])
}
