package events

import (
	"encoding/json"
	"fmt"
	"strings"
)

// SSEHeartbeat is the comment frame written during idle periods. Clients
// treat any line starting with ':' as a keep-alive.
const SSEHeartbeat = ":\n\n"

// EncodeSSE renders an event as a Server-Sent Events frame:
//
//	event: <kind>\n
//	data: <json>\n
//	\n
//
// The JSON is the full StreamEvent envelope on a single line.
func EncodeSSE(e *StreamEvent) (string, error) {
	payload, err := json.Marshal(e)
	if err != nil {
		return "", fmt.Errorf("encode sse event %s: %w", e.Kind, err)
	}
	return fmt.Sprintf("event: %s\ndata: %s\n\n", e.Kind, payload), nil
}

// DecodeSSE parses a single SSE frame produced by EncodeSSE back into a
// StreamEvent with its kind-specific payload type restored.
func DecodeSSE(frame string) (*StreamEvent, error) {
	var dataLine string
	for _, line := range strings.Split(frame, "\n") {
		if rest, ok := strings.CutPrefix(line, "data: "); ok {
			dataLine = rest
			break
		}
	}
	if dataLine == "" {
		return nil, fmt.Errorf("decode sse frame: no data line")
	}

	var raw struct {
		Kind      Kind            `json:"event_type"`
		Timestamp string          `json:"timestamp"`
		SessionID string          `json:"session_id"`
		Data      json.RawMessage `json:"data"`
		Metadata  map[string]any  `json:"metadata"`
	}
	if err := json.Unmarshal([]byte(dataLine), &raw); err != nil {
		return nil, fmt.Errorf("decode sse payload: %w", err)
	}

	data, err := decodePayload(raw.Kind, raw.Data)
	if err != nil {
		return nil, err
	}

	return &StreamEvent{
		Kind:      raw.Kind,
		Timestamp: raw.Timestamp,
		SessionID: raw.SessionID,
		Data:      data,
		Metadata:  raw.Metadata,
	}, nil
}

func decodePayload(kind Kind, raw json.RawMessage) (any, error) {
	decode := func(dst any) error {
		if len(raw) == 0 {
			return nil
		}
		if err := json.Unmarshal(raw, dst); err != nil {
			return fmt.Errorf("decode %s payload: %w", kind, err)
		}
		return nil
	}

	switch kind {
	case KindConversationStart:
		var v ConversationStartData
		return v, decode(&v)
	case KindAssistantMessageStart:
		var v AssistantMessageStartData
		return v, decode(&v)
	case KindAssistantMessageChunk:
		var v AssistantMessageChunkData
		return v, decode(&v)
	case KindAssistantMessageEnd:
		var v AssistantMessageEndData
		return v, decode(&v)
	case KindToolCallStart, KindToolCallProgress, KindToolCallEnd:
		var v ToolCallData
		return v, decode(&v)
	case KindDesignDocumentGenerated:
		var v DesignDocumentData
		return v, decode(&v)
	case KindProcessingStatus:
		var v ProcessingStatusData
		return v, decode(&v)
	case KindError:
		var v ErrorData
		return v, decode(&v)
	case KindConversationEnd:
		var v ConversationEndData
		return v, decode(&v)
	default:
		return nil, fmt.Errorf("decode sse frame: unknown event kind %q", kind)
	}
}
