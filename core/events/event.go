package events

import (
	"sync"

	"stablecore/core/types"
)

// Event represents a structured state change emitted by the engine.
type Event interface {
	EventType() string
}

// Payload is implemented by events that carry a typed attribute payload.
type Payload interface {
	Event
	Event() *types.Event
}

// Emitter broadcasts events to downstream subscribers (e.g. journals, APIs).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter is a helper that satisfies the Emitter interface while discarding
// all events. It is useful when a component wants to optionally expose events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// Fanout delivers every event to each of the wrapped emitters in order.
type Fanout []Emitter

// Emit implements the Emitter interface.
func (f Fanout) Emit(evt Event) {
	for _, emitter := range f {
		if emitter != nil {
			emitter.Emit(evt)
		}
	}
}

// Recorder keeps emitted events in memory. Safe for concurrent use.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Emit implements the Emitter interface.
func (r *Recorder) Emit(evt Event) {
	if r == nil || evt == nil {
		return
	}
	r.mu.Lock()
	r.events = append(r.events, evt)
	r.mu.Unlock()
}

// Events returns a snapshot of the recorded events.
func (r *Recorder) Events() []Event {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

// Types returns the recorded event types in emission order.
func (r *Recorder) Types() []string {
	recorded := r.Events()
	out := make([]string, 0, len(recorded))
	for _, evt := range recorded {
		out = append(out, evt.EventType())
	}
	return out
}

// Reset discards all recorded events.
func (r *Recorder) Reset() {
	if r == nil {
		return
	}
	r.mu.Lock()
	r.events = nil
	r.mu.Unlock()
}
