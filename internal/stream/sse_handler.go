package stream

import (
	"fmt"
	"sync"
	"time"

	"github.com/jennifer88huang/gtplanner/internal/events"
)

// SSEHandlerConfig tunes an SSE handler. Zero values take the defaults
// noted per field.
type SSEHandlerConfig struct {
	// HeartbeatInterval is the idle period after which a comment frame is
	// written to keep the connection alive. Default 30s; negative disables.
	HeartbeatInterval time.Duration
	// BufferEvents enables chunk coalescing: assistant_message_chunk events
	// are merged and flushed as one frame when FlushChunkCount accumulate,
	// FlushInterval elapses, or any other event kind arrives.
	BufferEvents bool
	// FlushChunkCount is the coalescing threshold. Default 8.
	FlushChunkCount int
	// FlushInterval bounds how long a buffered chunk may wait. Default 100ms.
	FlushInterval time.Duration
	// IncludeMetadata keeps event metadata in serialized frames.
	IncludeMetadata bool
}

const (
	defaultHeartbeatInterval = 30 * time.Second
	defaultFlushChunkCount   = 8
	defaultFlushInterval     = 100 * time.Millisecond
)

// SSEHandler serializes events into SSE frames and hands them to a write
// function owned by the transport. The first write failure marks the
// handler closed; every event after that is dropped silently so a gone
// client cannot stall the stream.
type SSEHandler struct {
	write func(frame string) error
	cfg   SSEHandlerConfig

	mu         sync.Mutex
	closed     bool
	lastWrite  time.Time
	buffered   []events.AssistantMessageChunkData
	bufSession string
	flushTimer *time.Timer
	stop       chan struct{}
	stopOnce   sync.Once
}

func NewSSEHandler(write func(frame string) error, cfg SSEHandlerConfig) *SSEHandler {
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = defaultHeartbeatInterval
	}
	if cfg.FlushChunkCount <= 0 {
		cfg.FlushChunkCount = defaultFlushChunkCount
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = defaultFlushInterval
	}

	h := &SSEHandler{
		write:     write,
		cfg:       cfg,
		lastWrite: time.Now(),
		stop:      make(chan struct{}),
	}
	if cfg.HeartbeatInterval > 0 {
		go h.heartbeatLoop()
	}
	return h
}

func (h *SSEHandler) HandleEvent(e *events.StreamEvent) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}

	if h.cfg.BufferEvents && e.Kind == events.KindAssistantMessageChunk {
		if d, ok := e.Data.(events.AssistantMessageChunkData); ok {
			h.buffered = append(h.buffered, d)
			h.bufSession = e.SessionID
			if len(h.buffered) >= h.cfg.FlushChunkCount {
				return h.flushLocked()
			}
			if h.flushTimer == nil {
				h.flushTimer = time.AfterFunc(h.cfg.FlushInterval, h.flushTimeout)
			}
			return nil
		}
	}

	// Any non-chunk event flushes pending chunks first to preserve order.
	if err := h.flushLocked(); err != nil {
		return err
	}
	return h.writeEventLocked(e)
}

func (h *SSEHandler) HandleError(err error, sessionID string) {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()
	h.stopHeartbeat()
}

// Close flushes pending chunks and stops the heartbeat.
func (h *SSEHandler) Close() error {
	h.mu.Lock()
	var err error
	if !h.closed {
		err = h.flushLocked()
		h.closed = true
	}
	h.mu.Unlock()
	h.stopHeartbeat()
	return err
}

// Closed reports whether the handler stopped writing.
func (h *SSEHandler) Closed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

// flushLocked merges buffered chunks into a single chunk event and writes
// it. Caller holds h.mu.
func (h *SSEHandler) flushLocked() error {
	if h.flushTimer != nil {
		h.flushTimer.Stop()
		h.flushTimer = nil
	}
	if len(h.buffered) == 0 {
		return nil
	}

	merged := events.AssistantMessageChunkData{
		ChunkIndex: h.buffered[0].ChunkIndex,
	}
	for _, d := range h.buffered {
		merged.Content += d.Content
		merged.IsComplete = d.IsComplete
	}
	h.buffered = h.buffered[:0]

	e := events.AssistantMessageChunk(h.bufSession, merged.Content, merged.ChunkIndex, merged.IsComplete)
	return h.writeEventLocked(e)
}

func (h *SSEHandler) flushTimeout() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.flushTimer = nil
	if h.closed {
		return
	}
	if err := h.flushLocked(); err != nil {
		h.closed = true
	}
}

// writeEventLocked serializes and writes one event. Caller holds h.mu.
func (h *SSEHandler) writeEventLocked(e *events.StreamEvent) error {
	if !h.cfg.IncludeMetadata && e.Metadata != nil {
		stripped := *e
		stripped.Metadata = nil
		e = &stripped
	}

	frame, err := events.EncodeSSE(e)
	if err != nil {
		return err
	}
	if err := h.write(frame); err != nil {
		h.closed = true
		return fmt.Errorf("sse write: %w", err)
	}
	h.lastWrite = time.Now()
	return nil
}

func (h *SSEHandler) heartbeatLoop() {
	ticker := time.NewTicker(h.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-h.stop:
			return
		case <-ticker.C:
			h.mu.Lock()
			if h.closed {
				h.mu.Unlock()
				return
			}
			if time.Since(h.lastWrite) >= h.cfg.HeartbeatInterval {
				if err := h.write(events.SSEHeartbeat); err != nil {
					h.closed = true
					h.mu.Unlock()
					return
				}
				h.lastWrite = time.Now()
			}
			h.mu.Unlock()
		}
	}
}

func (h *SSEHandler) stopHeartbeat() {
	h.stopOnce.Do(func() { close(h.stop) })
}
