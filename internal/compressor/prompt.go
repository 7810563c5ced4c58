package compressor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jennifer88huang/gtplanner/internal/providers"
	"github.com/jennifer88huang/gtplanner/internal/sessions"
)

const compressionSystemPrompt = `You compress planning conversations. Given a
dialogue, produce a JSON object with exactly these fields:

  "compressed_messages": an array of {"role","content"} messages that
      preserves the essential requirements, constraints and conclusions
      in far fewer messages,
  "summary": one paragraph describing what the conversation covered,
  "key_decisions": an array of strings, one per decision made so far.

Keep user requirements verbatim where they are short. Respond with the
JSON object only, no prose around it.`

// compression is the parsed LLM output of one summarize call.
type compression struct {
	Messages     []providers.Message `json:"compressed_messages"`
	Summary      string              `json:"summary"`
	KeyDecisions []string            `json:"key_decisions"`
}

func (c *Compressor) summarize(ctx context.Context, ac *sessions.AgentContext, head []providers.Message) (*compression, error) {
	dialogue, err := json.Marshal(head)
	if err != nil {
		return nil, fmt.Errorf("encode dialogue: %w", err)
	}

	var sb strings.Builder
	if ac.Summary != "" {
		sb.WriteString("Previous summary:\n")
		sb.WriteString(ac.Summary)
		sb.WriteString("\n\n")
	}
	if len(ac.KeyDecisions) > 0 {
		sb.WriteString("Decisions so far:\n")
		for _, d := range ac.KeyDecisions {
			sb.WriteString("- ")
			sb.WriteString(d)
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}
	sb.WriteString("Dialogue to compress:\n")
	sb.Write(dialogue)

	resp, err := c.provider.Chat(ctx, providers.ChatRequest{
		Model: c.cfg.Model,
		Messages: []providers.Message{
			{Role: "system", Content: compressionSystemPrompt},
			{Role: "user", Content: sb.String()},
		},
		Options: map[string]any{
			providers.OptTemperature: 0.2,
		},
	})
	if err != nil {
		return nil, err
	}

	var comp compression
	if err := json.Unmarshal([]byte(extractJSON(resp.Content)), &comp); err != nil {
		return nil, fmt.Errorf("parse compression output: %w", err)
	}
	if len(comp.Messages) == 0 {
		return nil, fmt.Errorf("compression output has no messages")
	}
	return &comp, nil
}

// extractJSON strips code fences and surrounding prose, returning the
// outermost JSON object in the text.
func extractJSON(text string) string {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end <= start {
		return text
	}
	return text[start : end+1]
}
