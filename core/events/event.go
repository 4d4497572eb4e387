package events

import (
	"sync"

	"aphdex/core/types"
)

// Event represents a structured notification emitted by an invocation.
type Event interface {
	EventType() string
}

// Payload is implemented by events that carry a types.Event body.
type Payload interface {
	Event() *types.Event
}

// Emitter broadcasts events to downstream subscribers (journal, recorders).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter satisfies the Emitter interface while discarding all events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// Recorder keeps every emitted event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *Recorder) Emit(e Event) {
	r.mu.Lock()
	r.events = append(r.events, e)
	r.mu.Unlock()
}

// Events returns a snapshot of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Bodies returns the types.Event payloads of recorded events.
func (r *Recorder) Bodies() []*types.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*types.Event, 0, len(r.events))
	for _, e := range r.events {
		if p, ok := e.(Payload); ok && p.Event() != nil {
			out = append(out, p.Event())
		}
	}
	return out
}

// Types returns the tags of recorded events in order.
func (r *Recorder) Types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.EventType()
	}
	return out
}

// Reset drops recorded events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}

// Multi fans an event out to several emitters.
type Multi []Emitter

func (m Multi) Emit(e Event) {
	for _, em := range m {
		if em != nil {
			em.Emit(e)
		}
	}
}
