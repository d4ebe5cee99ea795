package batch

import (
	"sync"
	"time"

	"tts-batch/internal/domain"
)

// EventType classifies messages emitted while a batch runs.
type EventType string

const (
	EventTypeBatch   EventType = "batch"
	EventTypeStatus  EventType = "status"
	EventTypeSettled EventType = "settled"
	EventTypeError   EventType = "error"
)

// Event is a sequenced payload consumed by UI subscribers.
type Event struct {
	Seq       int64          `json:"seq"`
	Timestamp time.Time      `json:"timestamp"`
	BatchID   string         `json:"batchId"`
	Type      EventType      `json:"type"`
	Index     *int           `json:"index,omitempty"`
	Task      *domain.Task   `json:"task,omitempty"`
	Counts    *domain.Counts `json:"counts,omitempty"`
	Message   string         `json:"message,omitempty"`
}

// EventBus stores recent events and provides incremental reads.
type EventBus struct {
	mu          sync.RWMutex
	nextSeq     int64
	maxEvents   int
	events      []Event
	subscribers map[int]chan Event
	nextSubID   int
}

// NewEventBus creates a bounded in-memory event buffer.
func NewEventBus(maxEvents int) *EventBus {
	if maxEvents <= 0 {
		maxEvents = 500
	}

	return &EventBus{
		maxEvents:   maxEvents,
		events:      make([]Event, 0, maxEvents),
		subscribers: make(map[int]chan Event),
	}
}

// Publish appends one event, assigns sequence and timestamp and fans it
// out to subscribers. A full subscriber channel loses its oldest event so
// the newest one always arrives; the subscriber sees the Seq gap and
// recovers the rest with Catchup.
func (b *EventBus) Publish(event Event) Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextSeq++
	event.Seq = b.nextSeq
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	b.events = append(b.events, event)
	if len(b.events) > b.maxEvents {
		trim := len(b.events) - b.maxEvents
		b.events = append([]Event(nil), b.events[trim:]...)
	}

	for _, ch := range b.subscribers {
		select {
		case ch <- event:
			continue
		default:
		}
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- event:
		default:
		}
	}

	return event
}

// Since returns events with sequence strictly greater than seq.
func (b *EventBus) Since(seq int64) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if len(b.events) == 0 {
		return nil
	}

	out := make([]Event, 0, len(b.events))
	for _, event := range b.events {
		if event.Seq > seq {
			out = append(out, event)
		}
	}
	return out
}

// LastSeq returns the sequence of the newest published event.
func (b *EventBus) LastSeq() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.nextSeq
}

// Catchup returns the events a subscriber that has delivered everything up
// to last must deliver when event arrives on its channel. A gap in Seq means
// Publish dropped events for that subscriber, so the retained history after
// last is returned instead. Events at or below last yield nothing.
func (b *EventBus) Catchup(last int64, event Event) []Event {
	if event.Seq <= last {
		return nil
	}
	if event.Seq == last+1 {
		return []Event{event}
	}

	missed := b.Since(last)
	if len(missed) == 0 || missed[0].Seq > event.Seq {
		return []Event{event}
	}
	return missed
}

// Subscribe returns a channel receiving future events and a function that
// unsubscribes and closes it.
func (b *EventBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 64
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextSubID
	b.nextSubID++
	ch := make(chan Event, buffer)
	b.subscribers[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subscribers, id)
			close(ch)
		})
	}
}
