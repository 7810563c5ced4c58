package stream

import (
	"log/slog"
	"sync"

	"github.com/jennifer88huang/gtplanner/internal/events"
)

// handlerSlot pairs a handler with its delivery mutex so concurrent emits
// are serialized per handler while independent handlers proceed in parallel.
type handlerSlot struct {
	mu      sync.Mutex
	handler Handler
}

// Session fans stream events out to its registered handlers for one request
// scope. Events are delivered in emit order to every handler; a failing
// handler never suppresses delivery to the others.
type Session struct {
	id string

	mu       sync.Mutex
	active   bool
	handlers []*handlerSlot
	metadata map[string]any
}

func NewSession(id string) *Session {
	return &Session{
		id:       id,
		metadata: make(map[string]any),
	}
}

// ID returns the session identifier stamped onto every emitted event.
func (s *Session) ID() string { return s.id }

// AddHandler registers a handler. Safe to call while the session is live.
func (s *Session) AddHandler(h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers = append(s.handlers, &handlerSlot{handler: h})
}

// RemoveHandler unregisters a handler without closing it.
func (s *Session) RemoveHandler(h Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, slot := range s.handlers {
		if slot.handler == h {
			s.handlers = append(s.handlers[:i], s.handlers[i+1:]...)
			return
		}
	}
}

// HandlerCount reports the number of registered handlers.
func (s *Session) HandlerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.handlers)
}

// SetMetadata stores a session-scoped metadata entry.
func (s *Session) SetMetadata(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metadata[key] = value
}

// Metadata returns a copy of the session metadata map.
func (s *Session) Metadata() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]any, len(s.metadata))
	for k, v := range s.metadata {
		out[k] = v
	}
	return out
}

// Start marks the session live. Emit before Start (or after Stop) drops
// events.
func (s *Session) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = true
}

// Active reports whether the session accepts emits.
func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Emit stamps the event with the session id and delivers it to every
// handler in registration order. Handler failures are reported to the
// failing handler's HandleError and do not affect the others.
func (s *Session) Emit(e *events.StreamEvent) {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return
	}
	slots := make([]*handlerSlot, len(s.handlers))
	copy(slots, s.handlers)
	s.mu.Unlock()

	e.SessionID = s.id

	for _, slot := range slots {
		slot.mu.Lock()
		err := slot.handler.HandleEvent(e)
		slot.mu.Unlock()
		if err != nil {
			slog.Warn("stream handler failed", "session", s.id, "event", e.Kind, "error", err)
			slot.handler.HandleError(err, s.id)
		}
	}
}

// Stop closes every handler and rejects further emits.
func (s *Session) Stop() {
	s.mu.Lock()
	if !s.active && len(s.handlers) == 0 {
		s.mu.Unlock()
		return
	}
	s.active = false
	slots := s.handlers
	s.handlers = nil
	s.mu.Unlock()

	for _, slot := range slots {
		slot.mu.Lock()
		if err := slot.handler.Close(); err != nil {
			slog.Warn("stream handler close failed", "session", s.id, "error", err)
		}
		slot.mu.Unlock()
	}
}
