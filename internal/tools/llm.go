package tools

import (
	"context"
	"strings"

	"github.com/jennifer88huang/gtplanner/internal/providers"
)

// chatText runs one non-streaming LLM call and returns the text content.
func chatText(ctx context.Context, p providers.Provider, model, system, user string) (string, error) {
	resp, err := p.Chat(ctx, providers.ChatRequest{
		Model: model,
		Messages: []providers.Message{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Options: map[string]any{
			providers.OptTemperature: 0.3,
		},
	})
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

// extractJSONValue returns the outermost JSON object or array embedded in
// text, tolerating code fences and surrounding prose.
func extractJSONValue(text string) string {
	objStart := strings.Index(text, "{")
	arrStart := strings.Index(text, "[")

	if arrStart >= 0 && (objStart < 0 || arrStart < objStart) {
		if end := strings.LastIndex(text, "]"); end > arrStart {
			return text[arrStart : end+1]
		}
	}
	if objStart >= 0 {
		if end := strings.LastIndex(text, "}"); end > objStart {
			return text[objStart : end+1]
		}
	}
	return text
}
