// Package bus is the in-process cross-service event bus exposed at
// /bus/events. Bounded ring; the oldest events fall off when full.
package bus

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

type Event struct {
	ID      string                 `json:"id"`
	Tenant  string                 `json:"tenant"`
	Source  string                 `json:"source"`
	Type    string                 `json:"type"`
	Payload map[string]interface{} `json:"payload"`
	TS      time.Time              `json:"ts"`
}

type Bus struct {
	mu       sync.Mutex
	events   []Event
	capacity int
}

func New(capacity int) *Bus {
	if capacity <= 0 {
		capacity = 1000
	}
	return &Bus{capacity: capacity}
}

// Publish appends an event, evicting the oldest when the ring is full.
func (b *Bus) Publish(tenant, source, eventType string, payload map[string]interface{}) Event {
	e := Event{
		ID:      uuid.New().String(),
		Tenant:  tenant,
		Source:  source,
		Type:    eventType,
		Payload: payload,
		TS:      time.Now().UTC(),
	}

	b.mu.Lock()
	b.events = append(b.events, e)
	if len(b.events) > b.capacity {
		b.events = b.events[len(b.events)-b.capacity:]
	}
	b.mu.Unlock()
	return e
}

// Query returns matching events, newest first. Empty filter fields match
// everything; limit <= 0 means no limit.
func (b *Bus) Query(tenant, source, eventType string, limit int) []Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := []Event{}
	for i := len(b.events) - 1; i >= 0; i-- {
		e := b.events[i]
		if tenant != "" && e.Tenant != tenant {
			continue
		}
		if source != "" && e.Source != source {
			continue
		}
		if eventType != "" && e.Type != eventType {
			continue
		}
		out = append(out, e)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out
}

func (b *Bus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events)
}
