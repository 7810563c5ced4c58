package stream

import (
	"errors"
	"sync"
	"testing"

	"github.com/jennifer88huang/gtplanner/internal/events"
)

type recordingHandler struct {
	mu      sync.Mutex
	events  []events.Kind
	errs    []error
	closed  bool
	failOn  events.Kind
	failErr error
}

func (h *recordingHandler) HandleEvent(e *events.StreamEvent) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.failOn != "" && e.Kind == h.failOn {
		return h.failErr
	}
	h.events = append(h.events, e.Kind)
	return nil
}

func (h *recordingHandler) HandleError(err error, sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.errs = append(h.errs, err)
}

func (h *recordingHandler) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	return nil
}

func (h *recordingHandler) kinds() []events.Kind {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]events.Kind, len(h.events))
	copy(out, h.events)
	return out
}

func TestSessionStampsSessionID(t *testing.T) {
	s := NewSession("sess-1")
	h := &recordingHandler{}
	s.AddHandler(h)
	s.Start()

	e := events.ProcessingStatus("", "working", "")
	s.Emit(e)

	if e.SessionID != "sess-1" {
		t.Errorf("SessionID = %q, want sess-1", e.SessionID)
	}
	if got := h.kinds(); len(got) != 1 || got[0] != events.KindProcessingStatus {
		t.Errorf("delivered kinds = %v", got)
	}
}

func TestSessionDropsBeforeStartAndAfterStop(t *testing.T) {
	s := NewSession("sess-2")
	h := &recordingHandler{}
	s.AddHandler(h)

	s.Emit(events.ProcessingStatus("", "early", ""))
	s.Start()
	s.Emit(events.ProcessingStatus("", "live", ""))
	s.Stop()
	s.Emit(events.ProcessingStatus("", "late", ""))

	if got := h.kinds(); len(got) != 1 {
		t.Errorf("delivered %d events, want 1", len(got))
	}
	if !h.closed {
		t.Error("handler not closed after Stop")
	}
}

func TestSessionHandlerFailureIsolation(t *testing.T) {
	s := NewSession("sess-3")
	bad := &recordingHandler{failOn: events.KindError, failErr: errors.New("sink gone")}
	good := &recordingHandler{}
	s.AddHandler(bad)
	s.AddHandler(good)
	s.Start()

	s.Emit(events.Error("", "boom", ""))
	s.Emit(events.ProcessingStatus("", "after", ""))

	if len(bad.errs) != 1 {
		t.Errorf("bad handler got %d error callbacks, want 1", len(bad.errs))
	}
	if got := good.kinds(); len(got) != 2 {
		t.Errorf("good handler got %d events, want 2", len(got))
	}
	// The failing handler stays registered and keeps receiving later events.
	if got := bad.kinds(); len(got) != 1 || got[0] != events.KindProcessingStatus {
		t.Errorf("bad handler later events = %v", got)
	}
}

func TestSessionConcurrentEmitPerHandlerSerialized(t *testing.T) {
	s := NewSession("sess-4")
	h := &recordingHandler{}
	s.AddHandler(h)
	s.Start()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Emit(events.ProcessingStatus("", "tick", ""))
		}()
	}
	wg.Wait()

	if got := len(h.kinds()); got != 50 {
		t.Errorf("delivered %d events, want 50", got)
	}
}

func TestManagerReplaceStopsOldSession(t *testing.T) {
	m := NewManager()
	old := m.CreateSession("dup")
	h := &recordingHandler{}
	old.AddHandler(h)
	old.Start()

	replacement := m.CreateSession("dup")
	if m.Get("dup") != replacement {
		t.Fatal("registry does not hold the replacement session")
	}

	// Old session stops asynchronously; wait for the close.
	for i := 0; i < 100; i++ {
		h.mu.Lock()
		closed := h.closed
		h.mu.Unlock()
		if closed {
			return
		}
		old.Stop() // idempotent; also covers the scheduler not having run the goroutine
	}
	t.Error("old session handler never closed")
}

func TestManagerCloseSession(t *testing.T) {
	m := NewManager()
	s := m.CreateSession("one")
	h := &recordingHandler{}
	s.AddHandler(h)
	s.Start()

	m.CloseSession("one")

	if m.Get("one") != nil {
		t.Error("session still registered after CloseSession")
	}
	if !h.closed {
		t.Error("handler not closed")
	}
}
