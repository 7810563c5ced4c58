// Package events defines the typed stream-event model emitted by the
// orchestrator and consumed by terminal, SSE, and WebSocket handlers.
package events

import (
	"time"
)

// Kind identifies a stream event type. The set is closed: consumers may
// switch exhaustively over these values.
type Kind string

const (
	KindConversationStart       Kind = "conversation_start"
	KindAssistantMessageStart   Kind = "assistant_message_start"
	KindAssistantMessageChunk   Kind = "assistant_message_chunk"
	KindAssistantMessageEnd     Kind = "assistant_message_end"
	KindToolCallStart           Kind = "tool_call_start"
	KindToolCallProgress        Kind = "tool_call_progress"
	KindToolCallEnd             Kind = "tool_call_end"
	KindDesignDocumentGenerated Kind = "design_document_generated"
	KindProcessingStatus        Kind = "processing_status"
	KindError                   Kind = "error"
	KindConversationEnd         Kind = "conversation_end"
)

// Tool call status values carried in ToolCallData.Status.
const (
	ToolStatusStarting  = "starting"
	ToolStatusRunning   = "running"
	ToolStatusCompleted = "completed"
	ToolStatusFailed    = "failed"
)

// StreamEvent is the envelope delivered to every handler. Data holds the
// kind-specific payload (one of the *Data structs below).
type StreamEvent struct {
	Kind      Kind           `json:"event_type"`
	Timestamp string         `json:"timestamp"` // ISO-8601 UTC
	SessionID string         `json:"session_id"`
	Data      any            `json:"data"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// ConversationStartData opens a request's event stream.
type ConversationStartData struct {
	UserInput string `json:"user_input"`
}

// AssistantMessageStartData marks the beginning of one assistant turn.
type AssistantMessageStartData struct {
	Turn int `json:"turn"`
}

// AssistantMessageChunkData carries one streamed content fragment.
type AssistantMessageChunkData struct {
	Content     string `json:"content"`
	ChunkIndex  int    `json:"chunk_index"`
	IsComplete  bool   `json:"is_complete"`
	TotalChunks *int   `json:"total_chunks,omitempty"`
}

// AssistantMessageEndData closes one assistant turn with the full text.
type AssistantMessageEndData struct {
	CompleteMessage string         `json:"complete_message"`
	MessageMetadata map[string]any `json:"message_metadata,omitempty"`
}

// ToolCallData is shared by tool_call_start, tool_call_progress and
// tool_call_end; fields beyond the first three are populated as the call
// advances.
type ToolCallData struct {
	ToolName        string  `json:"tool_name"`
	Status          string  `json:"status"`
	CallID          string  `json:"call_id"`
	ProgressMessage string  `json:"progress_message,omitempty"`
	Arguments       any     `json:"arguments,omitempty"`
	Result          any     `json:"result,omitempty"`
	ExecutionTime   float64 `json:"execution_time,omitempty"`
	ErrorMessage    string  `json:"error_message,omitempty"`
}

// DesignDocumentData announces a generated planning document.
type DesignDocumentData struct {
	DocumentType string `json:"document_type"`
	Content      string `json:"content"`
}

// ProcessingStatusData is a coarse progress note for UIs.
type ProcessingStatusData struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// ErrorData reports a request-level failure.
type ErrorData struct {
	ErrorMessage string `json:"error_message"`
	ErrorDetails string `json:"error_details,omitempty"`
}

// ConversationEndData terminates a request's event stream.
type ConversationEndData struct {
	Success                     bool           `json:"success"`
	FinalMessage                string         `json:"final_message,omitempty"`
	Error                       string         `json:"error,omitempty"`
	ExecutionTime               float64        `json:"execution_time,omitempty"`
	ToolExecutionResultsUpdates map[string]any `json:"tool_execution_results_updates,omitempty"`
}

func newEvent(kind Kind, sessionID string, data any) *StreamEvent {
	return &StreamEvent{
		Kind:      kind,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		SessionID: sessionID,
		Data:      data,
	}
}

// WithMetadata attaches a metadata entry and returns the event for chaining.
func (e *StreamEvent) WithMetadata(key string, value any) *StreamEvent {
	if e.Metadata == nil {
		e.Metadata = make(map[string]any)
	}
	e.Metadata[key] = value
	return e
}

func ConversationStart(sessionID, userInput string) *StreamEvent {
	return newEvent(KindConversationStart, sessionID, ConversationStartData{UserInput: userInput})
}

func AssistantMessageStart(sessionID string, turn int) *StreamEvent {
	return newEvent(KindAssistantMessageStart, sessionID, AssistantMessageStartData{Turn: turn})
}

func AssistantMessageChunk(sessionID, content string, index int, complete bool) *StreamEvent {
	return newEvent(KindAssistantMessageChunk, sessionID, AssistantMessageChunkData{
		Content:    content,
		ChunkIndex: index,
		IsComplete: complete,
	})
}

func AssistantMessageEnd(sessionID, complete string, metadata map[string]any) *StreamEvent {
	return newEvent(KindAssistantMessageEnd, sessionID, AssistantMessageEndData{
		CompleteMessage: complete,
		MessageMetadata: metadata,
	})
}

func ToolCallStart(sessionID, toolName, callID string, arguments any) *StreamEvent {
	return newEvent(KindToolCallStart, sessionID, ToolCallData{
		ToolName:  toolName,
		Status:    ToolStatusStarting,
		CallID:    callID,
		Arguments: arguments,
	})
}

func ToolCallProgress(sessionID, toolName, callID, message string) *StreamEvent {
	return newEvent(KindToolCallProgress, sessionID, ToolCallData{
		ToolName:        toolName,
		Status:          ToolStatusRunning,
		CallID:          callID,
		ProgressMessage: message,
	})
}

func ToolCallEnd(sessionID, toolName, callID string, result any, execTime float64, errMsg string) *StreamEvent {
	status := ToolStatusCompleted
	if errMsg != "" {
		status = ToolStatusFailed
	}
	return newEvent(KindToolCallEnd, sessionID, ToolCallData{
		ToolName:      toolName,
		Status:        status,
		CallID:        callID,
		Result:        result,
		ExecutionTime: execTime,
		ErrorMessage:  errMsg,
	})
}

func DesignDocumentGenerated(sessionID, documentType, content string) *StreamEvent {
	return newEvent(KindDesignDocumentGenerated, sessionID, DesignDocumentData{
		DocumentType: documentType,
		Content:      content,
	})
}

func ProcessingStatus(sessionID, status, message string) *StreamEvent {
	return newEvent(KindProcessingStatus, sessionID, ProcessingStatusData{Status: status, Message: message})
}

func Error(sessionID, message, details string) *StreamEvent {
	return newEvent(KindError, sessionID, ErrorData{ErrorMessage: message, ErrorDetails: details})
}

func ConversationEnd(sessionID string, data ConversationEndData) *StreamEvent {
	return newEvent(KindConversationEnd, sessionID, data)
}
