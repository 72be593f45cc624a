package server

import (
	"encoding/json"
	"sync"
)

const (
	EventRisk       = "risk"
	EventSuggestion = "suggestion"
	EventInterview  = "interview"
	EventTree       = "tree"
	EventPlan       = "plan"
)

// Event is published to session subscribers. Type becomes the SSE event
// name and Data its payload.
type Event struct {
	Type string
	Data any
}

type message struct {
	event string
	data  []byte
}

// Broker is an in-process pub/sub for SSE events, keyed by session ID.
type Broker struct {
	mu   sync.RWMutex
	subs map[string]map[chan message]struct{}
}

func NewBroker() *Broker {
	return &Broker{
		subs: make(map[string]map[chan message]struct{}),
	}
}

// Subscribe returns a channel that receives the events of a session.
func (b *Broker) Subscribe(sessionID string) chan message {
	ch := make(chan message, 16)
	b.mu.Lock()
	if b.subs[sessionID] == nil {
		b.subs[sessionID] = make(map[chan message]struct{})
	}
	b.subs[sessionID][ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *Broker) Unsubscribe(sessionID string, ch chan message) {
	b.mu.Lock()
	delete(b.subs[sessionID], ch)
	if len(b.subs[sessionID]) == 0 {
		delete(b.subs, sessionID)
	}
	b.mu.Unlock()
}

// Publish sends an event to all subscribers of the session.
func (b *Broker) Publish(sessionID string, event Event) {
	data, err := json.Marshal(event.Data)
	if err != nil {
		return
	}
	msg := message{event: event.Type, data: data}

	b.mu.RLock()
	for ch := range b.subs[sessionID] {
		select {
		case ch <- msg:
		default:
			// Drop if subscriber is slow.
		}
	}
	b.mu.RUnlock()
}

func (b *Broker) Subscribers(sessionID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[sessionID])
}
