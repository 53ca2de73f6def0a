// Package memory contains an in-memory publisher for tests and local
// runs.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Publisher records published events. Payloads are JSON-encoded at
// publish time so callers exercise the same serialization contract as
// the pubsub provider.
type Publisher struct {
	mu     sync.RWMutex
	events []Event
}

// Event is one recorded publish.
type Event struct {
	Topic   string
	Payload []byte
}

// New returns an empty Publisher.
func New() *Publisher {
	return &Publisher{}
}

// Publish encodes and records the payload, returning a sequential
// pseudo ID.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode payload for topic %s: %w", topic, err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, Event{Topic: topic, Payload: data})
	return fmt.Sprintf("memory-%d", len(p.events)), nil
}

// Events returns every recorded publish in order.
func (p *Publisher) Events() []Event {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]Event(nil), p.events...)
}

// ByTopic returns the recorded publishes for one topic in order.
func (p *Publisher) ByTopic(topic string) []Event {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []Event
	for _, ev := range p.events {
		if ev.Topic == topic {
			out = append(out, ev)
		}
	}
	return out
}
