package telemetry

import (
	"sync"
	"time"
)

type bufferedEvent struct {
	event Event
	at    time.Time
}

// EventBuffer keeps the most recent events of one robot for Last-Event-ID replay.
type EventBuffer struct {
	mu        sync.RWMutex
	events    []bufferedEvent
	capacity  int
	retention time.Duration
	now       func() time.Time
}

// NewEventBuffer creates a buffer. A zero retention keeps events until evicted by capacity.
func NewEventBuffer(capacity int, retention time.Duration) *EventBuffer {
	if capacity <= 0 {
		capacity = 1
	}
	return &EventBuffer{
		events:    make([]bufferedEvent, 0, capacity),
		capacity:  capacity,
		retention: retention,
		now:       time.Now,
	}
}

// AddEvent appends an event, evicting the oldest beyond capacity.
func (b *EventBuffer) AddEvent(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.events = append(b.events, bufferedEvent{event: event, at: b.now()})
	if len(b.events) > b.capacity {
		b.events = b.events[len(b.events)-b.capacity:]
	}
}

// GetEventsAfter returns retained events with an ID above lastID.
func (b *EventBuffer) GetEventsAfter(lastID int64) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	cutoff := time.Time{}
	if b.retention > 0 {
		cutoff = b.now().Add(-b.retention)
	}

	var result []Event
	for _, e := range b.events {
		if e.event.ID > lastID && !e.at.Before(cutoff) {
			result = append(result, e.event)
		}
	}
	return result
}

// GetCapacity returns the buffer capacity.
func (b *EventBuffer) GetCapacity() int {
	return b.capacity
}

// GetSize returns the current buffer size.
func (b *EventBuffer) GetSize() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.events)
}
