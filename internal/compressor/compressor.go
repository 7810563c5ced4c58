// Package compressor shrinks long conversations in the background. When a
// session's active context grows past the configured thresholds, the
// older messages are summarized by the LLM and swapped in as a new active
// context version, preserving the most recent turns verbatim.
package compressor

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jennifer88huang/gtplanner/internal/config"
	"github.com/jennifer88huang/gtplanner/internal/providers"
	"github.com/jennifer88huang/gtplanner/internal/sessions"
	"github.com/jennifer88huang/gtplanner/internal/store"
)

// Compressor runs a single background worker over a bounded queue of
// session ids. Enqueueing is non-blocking; under pressure requests are
// dropped and picked up on the session's next activity.
type Compressor struct {
	mgr      *sessions.Manager
	provider providers.Provider
	cfg      config.CompressorConfig

	queue chan string
	stop  chan struct{}
	wg    sync.WaitGroup

	mu      sync.Mutex
	queued  map[string]bool
	started bool
}

func New(mgr *sessions.Manager, provider providers.Provider, cfg config.CompressorConfig) *Compressor {
	if cfg.MaxMessages <= 0 {
		cfg.MaxMessages = 50
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 8000
	}
	if cfg.PreserveRecentCount <= 0 {
		cfg.PreserveRecentCount = 5
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 16
	}
	return &Compressor{
		mgr:      mgr,
		provider: provider,
		cfg:      cfg,
		queue:    make(chan string, cfg.QueueSize),
		stop:     make(chan struct{}),
		queued:   make(map[string]bool),
	}
}

// Start launches the worker goroutine.
func (c *Compressor) Start() {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return
	}
	c.started = true
	c.mu.Unlock()

	c.wg.Add(1)
	go c.worker()
}

// Stop drains the worker. Queued requests that have not started are
// dropped; an in-flight compression finishes.
func (c *Compressor) Stop() {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return
	}
	c.started = false
	c.mu.Unlock()

	close(c.stop)
	c.wg.Wait()
}

// CompressIfNeeded enqueues the session for compression when its active
// context exceeds the thresholds. Duplicate requests for a session
// already queued are ignored.
func (c *Compressor) CompressIfNeeded(ctx context.Context, sessionID string) {
	need, err := c.ShouldCompress(ctx, sessionID)
	if err != nil {
		slog.Warn("compression check failed", "session", sessionID, "error", err)
		return
	}
	if !need {
		return
	}

	c.mu.Lock()
	if c.queued[sessionID] {
		c.mu.Unlock()
		return
	}
	c.queued[sessionID] = true
	c.mu.Unlock()

	select {
	case c.queue <- sessionID:
	default:
		c.mu.Lock()
		delete(c.queued, sessionID)
		c.mu.Unlock()
		slog.Warn("compression queue full, deferring", "session", sessionID)
	}
}

// ShouldCompress reports whether the session's active context exceeds the
// message or token threshold.
func (c *Compressor) ShouldCompress(ctx context.Context, sessionID string) (bool, error) {
	ac, err := c.mgr.BuildAgentContext(ctx, sessionID)
	if err != nil {
		return false, err
	}
	return c.exceedsThresholds(ac), nil
}

func (c *Compressor) exceedsThresholds(ac *sessions.AgentContext) bool {
	if len(ac.Messages) > c.cfg.MaxMessages {
		return true
	}
	tokens := 0
	for _, m := range ac.Messages {
		tokens += sessions.EstimateTokens(m.Content)
	}
	return tokens > c.cfg.MaxTokens
}

func (c *Compressor) worker() {
	defer c.wg.Done()
	for {
		select {
		case <-c.stop:
			return
		case sessionID := <-c.queue:
			c.mu.Lock()
			delete(c.queued, sessionID)
			c.mu.Unlock()

			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
			if err := c.Compress(ctx, sessionID); err != nil {
				slog.Error("compression failed", "session", sessionID, "error", err)
			}
			cancel()
		}
	}
}

// Compress performs one compression pass synchronously. It re-checks the
// thresholds, asks the LLM to summarize everything but the preserved
// tail, and atomically swaps in the next context version. The previous
// version stays on disk untouched.
func (c *Compressor) Compress(ctx context.Context, sessionID string) error {
	ac, err := c.mgr.BuildAgentContext(ctx, sessionID)
	if err != nil {
		return err
	}
	if !c.exceedsThresholds(ac) {
		return nil
	}

	preserve := c.cfg.PreserveRecentCount
	if preserve >= len(ac.Messages) {
		return nil
	}
	head := ac.Messages[:len(ac.Messages)-preserve]
	tail := ac.Messages[len(ac.Messages)-preserve:]

	comp, err := c.summarize(ctx, ac, head)
	if err != nil {
		return fmt.Errorf("summarize session %s: %w", sessionID, err)
	}

	merged := sessions.SanitizeHistory(append(comp.Messages, tail...))
	mergedJSON, err := json.Marshal(merged)
	if err != nil {
		return fmt.Errorf("encode compressed messages: %w", err)
	}
	decisionsJSON, err := json.Marshal(comp.KeyDecisions)
	if err != nil {
		return fmt.Errorf("encode key decisions: %w", err)
	}

	tokens := 0
	for _, m := range merged {
		tokens += sessions.EstimateTokens(m.Content)
	}
	origTokens := 0
	for _, m := range ac.Messages {
		origTokens += sessions.EstimateTokens(m.Content)
	}

	return c.mgr.Store().WithTx(ctx, func(tx *sql.Tx) error {
		active, err := store.ActiveContextTx(tx, sessionID)
		if err != nil {
			return err
		}
		// Someone else rotated the context while we were summarizing.
		if active.Version != ac.ContextVersion {
			slog.Info("context rotated during compression, skipping",
				"session", sessionID, "expected", ac.ContextVersion, "found", active.Version)
			return nil
		}

		next := &store.Context{
			ID:                 uuid.NewString(),
			SessionID:          sessionID,
			Version:            active.Version + 1,
			CompressedMessages: string(mergedJSON),
			Summary:            comp.Summary,
			KeyDecisions:       string(decisionsJSON),
			// Tool execution results are never summarized away.
			ToolExecutionResults:   active.ToolExecutionResults,
			OriginalMessageCount:   len(ac.Messages),
			CompressedMessageCount: len(merged),
			OriginalTokenCount:     origTokens,
			CompressedTokenCount:   tokens,
			CompressionRatio:       float64(len(merged)) / float64(len(ac.Messages)),
			CreatedAt:              time.Now(),
		}
		if err := store.SwapActiveContextTx(tx, next); err != nil {
			return err
		}
		slog.Info("context compressed",
			"session", sessionID,
			"version", next.Version,
			"messages_before", len(ac.Messages),
			"messages_after", len(merged))
		return nil
	})
}
