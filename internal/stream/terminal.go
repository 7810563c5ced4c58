package stream

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/mattn/go-runewidth"

	"github.com/jennifer88huang/gtplanner/internal/events"
)

const toolLineWidth = 80

// TerminalHandler renders events as plain text for an interactive terminal.
// Assistant chunks print inline without trailing newlines; tool activity
// breaks the line first so chunks and tool output never interleave.
type TerminalHandler struct {
	out            io.Writer
	showTimestamps bool

	mu          sync.Mutex
	closed      bool
	msgOpen     bool
	activeTools map[string]string // call id -> tool name
	completed   int
}

func NewTerminalHandler(out io.Writer) *TerminalHandler {
	return &TerminalHandler{
		out:         out,
		activeTools: make(map[string]string),
	}
}

// ShowTimestamps enables a time prefix on tool and status lines.
func (h *TerminalHandler) ShowTimestamps(on bool) { h.showTimestamps = on }

func (h *TerminalHandler) HandleEvent(e *events.StreamEvent) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}

	switch e.Kind {
	case events.KindAssistantMessageChunk:
		d, ok := e.Data.(events.AssistantMessageChunkData)
		if !ok {
			return nil
		}
		if _, err := fmt.Fprint(h.out, d.Content); err != nil {
			return err
		}
		h.msgOpen = true

	case events.KindAssistantMessageEnd:
		return h.breakLine()

	case events.KindToolCallStart:
		d, ok := e.Data.(events.ToolCallData)
		if !ok {
			return nil
		}
		if err := h.breakLine(); err != nil {
			return err
		}
		h.activeTools[d.CallID] = d.ToolName
		line := fmt.Sprintf("⏺ %s(%s)", d.ToolName, compactArgs(d.Arguments))
		return h.println(runewidth.Truncate(line, toolLineWidth, "…"), e.Timestamp)

	case events.KindToolCallProgress:
		d, ok := e.Data.(events.ToolCallData)
		if !ok || d.ProgressMessage == "" {
			return nil
		}
		if err := h.breakLine(); err != nil {
			return err
		}
		return h.println("  ⎿ "+runewidth.Truncate(d.ProgressMessage, toolLineWidth, "…"), e.Timestamp)

	case events.KindToolCallEnd:
		d, ok := e.Data.(events.ToolCallData)
		if !ok {
			return nil
		}
		if err := h.breakLine(); err != nil {
			return err
		}
		delete(h.activeTools, d.CallID)
		h.completed++
		if d.Status == events.ToolStatusFailed {
			return h.println(fmt.Sprintf("  ⎿ %s failed: %s", d.ToolName, d.ErrorMessage), e.Timestamp)
		}
		return h.println(fmt.Sprintf("  ⎿ %s done (%.1fs)", d.ToolName, d.ExecutionTime), e.Timestamp)

	case events.KindProcessingStatus:
		d, ok := e.Data.(events.ProcessingStatusData)
		if !ok {
			return nil
		}
		if err := h.breakLine(); err != nil {
			return err
		}
		msg := d.Status
		if d.Message != "" {
			msg = d.Message
		}
		return h.println("· "+msg, e.Timestamp)

	case events.KindDesignDocumentGenerated:
		d, ok := e.Data.(events.DesignDocumentData)
		if !ok {
			return nil
		}
		if err := h.breakLine(); err != nil {
			return err
		}
		if err := h.println(fmt.Sprintf("── %s ──", d.DocumentType), e.Timestamp); err != nil {
			return err
		}
		_, err := fmt.Fprintln(h.out, d.Content)
		return err

	case events.KindError:
		d, ok := e.Data.(events.ErrorData)
		if !ok {
			return nil
		}
		if err := h.breakLine(); err != nil {
			return err
		}
		return h.println("error: "+d.ErrorMessage, e.Timestamp)

	case events.KindConversationEnd:
		return h.breakLine()
	}
	return nil
}

func (h *TerminalHandler) HandleError(err error, sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
}

// Close ends the current line and reports tool calls that never finished.
func (h *TerminalHandler) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true

	if h.msgOpen {
		fmt.Fprintln(h.out)
		h.msgOpen = false
	}
	if len(h.activeTools) > 0 {
		names := make([]string, 0, len(h.activeTools))
		for _, name := range h.activeTools {
			names = append(names, name)
		}
		sort.Strings(names)
		fmt.Fprintf(h.out, "· %d tool call(s) still running: %s\n", len(names), strings.Join(names, ", "))
	}
	return nil
}

// breakLine terminates an in-progress assistant message line.
func (h *TerminalHandler) breakLine() error {
	if !h.msgOpen {
		return nil
	}
	h.msgOpen = false
	_, err := fmt.Fprintln(h.out)
	return err
}

func (h *TerminalHandler) println(line, timestamp string) error {
	if h.showTimestamps && len(timestamp) >= 19 {
		line = timestamp[11:19] + " " + line
	}
	_, err := fmt.Fprintln(h.out, line)
	return err
}

func compactArgs(args any) string {
	if args == nil {
		return ""
	}
	data, err := json.Marshal(args)
	if err != nil {
		return ""
	}
	s := string(data)
	if s == "{}" || s == "null" {
		return ""
	}
	return s
}
