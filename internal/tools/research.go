package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jennifer88huang/gtplanner/internal/providers"
)

// ResearchFindings is the structured output of one research pass.
type ResearchFindings struct {
	Topic    string   `json:"topic"`
	Findings []string `json:"findings"`
	Sources  []string `json:"sources,omitempty"`
}

// ResearchTool investigates a topic, optionally grounding the answer in
// fresh web search results.
type ResearchTool struct {
	provider providers.Provider
	model    string
	search   *WebSearchTool // nil disables grounding
}

func NewResearchTool(provider providers.Provider, model string, search *WebSearchTool) *ResearchTool {
	return &ResearchTool{provider: provider, model: model, search: search}
}

func (t *ResearchTool) Name() string { return "research" }

func (t *ResearchTool) Description() string {
	return "Research a technical topic and report findings relevant to the plan."
}

func (t *ResearchTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"topic": map[string]any{
				"type":        "string",
				"description": "The topic or question to research",
			},
			"use_web": map[string]any{
				"type":        "boolean",
				"description": "Ground the answer in a web search (default true)",
			},
		},
		"required": []string{"topic"},
	}
}

func (t *ResearchTool) Timeout() time.Duration { return 120 * time.Second }

const researchSystemPrompt = `You research technical topics for a software
planner. Reply with a JSON object: "topic" (string), "findings" (array of
short factual statements), "sources" (array of URLs, may be empty). Base
findings on the provided search results when present. Reply with the JSON
object only.`

func (t *ResearchTool) Execute(ctx context.Context, args map[string]any, progress func(string)) *Result {
	topic, _ := args["topic"].(string)
	if strings.TrimSpace(topic) == "" {
		return ErrorResult("research requires a topic")
	}

	useWeb := true
	if v, ok := args["use_web"].(bool); ok {
		useWeb = v
	}

	user := "Topic: " + topic
	if useWeb && t.search != nil {
		if progress != nil {
			progress("searching the web for " + topic)
		}
		sr := t.search.Execute(ctx, map[string]any{"query": topic}, nil)
		if !sr.IsError {
			user += "\n\nSearch results:\n" + sr.ForLLM
		}
	}

	if progress != nil {
		progress("synthesizing findings")
	}
	content, err := chatText(ctx, t.provider, t.model, researchSystemPrompt, user)
	if err != nil {
		return ErrorResult(fmt.Sprintf("research failed: %v", err)).WithError(err)
	}

	var findings ResearchFindings
	if err := json.Unmarshal([]byte(extractJSONValue(content)), &findings); err != nil {
		return NewResult(content)
	}
	if findings.Topic == "" {
		findings.Topic = topic
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Research on %s:\n", findings.Topic)
	for _, f := range findings.Findings {
		sb.WriteString("- ")
		sb.WriteString(f)
		sb.WriteString("\n")
	}
	return StructuredResult(sb.String(), findings)
}
