package realtime

import (
	"encoding/json"
	"log/slog"
	"sync"
)

// Event is the internal event name a push message type fans out to. Each
// wire type maps to exactly one event.
type Event string

const (
	EventJobProgress  Event = "job_progress"
	EventJobCompleted Event = "job_completed"
	EventJobFailed    Event = "job_failed"
	EventResultUpdate Event = "result_update"
)

type Listener func(data json.RawMessage)

type registration struct {
	id uint64
	fn Listener
}

// Emitter fans events out to registered listeners synchronously and in
// registration order. A panicking listener is recovered and logged so it
// never prevents delivery to the listeners after it.
type Emitter struct {
	mu        sync.Mutex
	nextID    uint64
	listeners map[Event][]registration
	logger    *slog.Logger
}

func NewEmitter(logger *slog.Logger) *Emitter {
	return &Emitter{
		listeners: make(map[Event][]registration),
		logger:    logger.With("component", "realtime_emitter"),
	}
}

// On registers fn for event and returns a disposer that removes exactly
// this registration. Disposing twice is a no-op.
func (e *Emitter) On(event Event, fn Listener) func() {
	e.mu.Lock()
	e.nextID++
	id := e.nextID
	e.listeners[event] = append(e.listeners[event], registration{id: id, fn: fn})
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		regs := e.listeners[event]
		for i, reg := range regs {
			if reg.id == id {
				e.listeners[event] = append(regs[:i:i], regs[i+1:]...)
				return
			}
		}
	}
}

func (e *Emitter) Emit(event Event, data json.RawMessage) {
	e.mu.Lock()
	regs := make([]registration, len(e.listeners[event]))
	copy(regs, e.listeners[event])
	e.mu.Unlock()

	for _, reg := range regs {
		e.dispatch(event, reg, data)
	}
}

func (e *Emitter) dispatch(event Event, reg registration, data json.RawMessage) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("listener panicked", "event", string(event), "panic", r)
		}
	}()
	reg.fn(data)
}
