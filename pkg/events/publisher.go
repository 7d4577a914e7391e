// Package events provides the in-process publish/subscribe transport that the
// reliable channel and the store broadcast ride on.
package events

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Message is a single published message on a topic.
type Message struct {
	Topic     string          `json:"topic"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
}

// Handler is a function that processes messages.
type Handler func(msg Message)

// Subscription identifies one registered handler so it can be removed again.
type Subscription struct {
	ID    uuid.UUID
	Topic string
}

// Publisher is the central topic-based publisher. Handlers run on their own
// goroutines; delivery is at-least-once and unordered from the consumer's
// point of view.
type Publisher struct {
	mu          sync.RWMutex
	subscribers map[string]map[uuid.UUID]Handler
}

// NewPublisher creates a new publisher.
func NewPublisher() *Publisher {
	return &Publisher{
		subscribers: make(map[string]map[uuid.UUID]Handler),
	}
}

// Subscribe registers a handler for a topic.
func (p *Publisher) Subscribe(topic string, handler Handler) *Subscription {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.subscribers[topic] == nil {
		p.subscribers[topic] = make(map[uuid.UUID]Handler)
	}

	sub := &Subscription{ID: uuid.New(), Topic: topic}
	p.subscribers[topic][sub.ID] = handler
	return sub
}

// Unsubscribe removes a previously registered handler.
func (p *Publisher) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if handlers, ok := p.subscribers[sub.Topic]; ok {
		delete(handlers, sub.ID)
		if len(handlers) == 0 {
			delete(p.subscribers, sub.Topic)
		}
	}
}

// Publish delivers msg to every handler subscribed to its topic.
func (p *Publisher) Publish(msg Message) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	p.mu.RLock()
	handlers := make([]Handler, 0, len(p.subscribers[msg.Topic]))
	for _, h := range p.subscribers[msg.Topic] {
		handlers = append(handlers, h)
	}
	p.mu.RUnlock()

	for _, handler := range handlers {
		go handler(msg) // Run handlers concurrently
	}
}

// SubscriberCount reports how many handlers a topic currently has.
func (p *Publisher) SubscriberCount(topic string) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.subscribers[topic])
}
