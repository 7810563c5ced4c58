package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/jennifer88huang/gtplanner/internal/agent"
	"github.com/jennifer88huang/gtplanner/internal/store"
	"github.com/jennifer88huang/gtplanner/internal/stream"
)

type chatRequest struct {
	SessionID string `json:"session_id,omitempty"`
	UserInput string `json:"user_input"`
}

// handleChat runs one planning request and streams its events back as
// Server-Sent Events. With no session_id a fresh session is created; its
// id travels on every event's envelope.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON"})
		return
	}
	req.UserInput = strings.TrimSpace(req.UserInput)
	if req.UserInput == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "user_input is required"})
		return
	}

	sessionID := req.SessionID
	if sessionID == "" {
		created, err := s.sessions.CreateSession(r.Context(), "")
		if err != nil {
			slog.Error("chat.create_session", "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to create session"})
			return
		}
		sessionID = created.ID
	} else if _, err := s.sessions.LoadSession(r.Context(), sessionID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "session not found"})
			return
		}
		slog.Error("chat.load_session", "session", sessionID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "failed to load session"})
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "streaming unsupported"})
		return
	}
	setSSEHeaders(w)
	w.Header().Set("X-Session-Id", sessionID)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sess := s.streams.CreateSession(sessionID)
	sess.AddHandler(s.newSSEHandler(newFlushWriter(w, flusher)))
	defer s.streams.CloseSession(sessionID)

	if _, err := s.planner.Run(r.Context(), sessionID, req.UserInput, sess); err != nil {
		// The stream already carried error and conversation_end events.
		slog.Warn("chat run failed", "session", sessionID, "error", err)
	}
}

// handleChatStream attaches an observer to a live session's event stream.
// The connection stays open until the client goes away or the session is
// closed.
func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if sessionID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "session_id is required"})
		return
	}
	sess := s.streams.Get(sessionID)
	if sess == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no live stream for session"})
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "streaming unsupported"})
		return
	}
	setSSEHeaders(w)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	done := make(chan struct{})
	var once sync.Once
	fw := newFlushWriter(w, flusher)
	handler := s.newSSEHandler(func(frame string) error {
		if err := fw(frame); err != nil {
			once.Do(func() { close(done) })
			return err
		}
		return nil
	})
	sess.AddHandler(handler)

	select {
	case <-r.Context().Done():
	case <-done:
	}
	sess.RemoveHandler(handler)
	handler.Close()
}

func (s *Server) newSSEHandler(write func(string) error) *stream.SSEHandler {
	return stream.NewSSEHandler(write, stream.SSEHandlerConfig{
		HeartbeatInterval: s.cfg.Stream.Heartbeat(),
		BufferEvents:      s.cfg.Stream.BufferEvents,
		FlushChunkCount:   s.cfg.Stream.FlushChunkCount,
		FlushInterval:     s.cfg.Stream.FlushInterval(),
		IncludeMetadata:   s.cfg.Stream.IncludeMetadata,
	})
}

func setSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

// newFlushWriter serializes writes; the SSE handler and its heartbeat
// goroutine both hit the ResponseWriter.
func newFlushWriter(w http.ResponseWriter, flusher http.Flusher) func(string) error {
	var mu sync.Mutex
	return func(frame string) error {
		mu.Lock()
		defer mu.Unlock()
		if _, err := w.Write([]byte(frame)); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}
}

var _ Runner = (*agent.Planner)(nil)
