package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jennifer88huang/gtplanner/internal/providers"
)

// RecommendedTool is one entry in a tool recommendation.
type RecommendedTool struct {
	Name        string `json:"name"`
	Kind        string `json:"kind"` // "api", "library", "service"
	Description string `json:"description"`
	Reason      string `json:"reason"`
}

// ToolRecommendTool suggests external APIs, libraries and services that
// fit the task being planned.
type ToolRecommendTool struct {
	provider providers.Provider
	model    string
}

func NewToolRecommendTool(provider providers.Provider, model string) *ToolRecommendTool {
	return &ToolRecommendTool{provider: provider, model: model}
}

func (t *ToolRecommendTool) Name() string { return "tool_recommend" }

func (t *ToolRecommendTool) Description() string {
	return "Recommend external APIs, libraries or services suited to the task being planned."
}

func (t *ToolRecommendTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"task": map[string]any{
				"type":        "string",
				"description": "What the user is trying to build or accomplish",
			},
			"constraints": map[string]any{
				"type":        "string",
				"description": "Known constraints: language, budget, hosting, licensing",
			},
		},
		"required": []string{"task"},
	}
}

func (t *ToolRecommendTool) Timeout() time.Duration { return 90 * time.Second }

const recommendSystemPrompt = `You recommend concrete tools for software
projects. Given a task, reply with a JSON array of at most 5 objects, each
with fields "name", "kind" (api|library|service), "description" and
"reason". Prefer widely adopted, well-maintained options. Reply with the
JSON array only.`

func (t *ToolRecommendTool) Execute(ctx context.Context, args map[string]any, progress func(string)) *Result {
	task, _ := args["task"].(string)
	if strings.TrimSpace(task) == "" {
		return ErrorResult("tool_recommend requires a task description")
	}
	if progress != nil {
		progress("evaluating tool options")
	}

	user := "Task: " + task
	if constraints, _ := args["constraints"].(string); constraints != "" {
		user += "\nConstraints: " + constraints
	}

	content, err := chatText(ctx, t.provider, t.model, recommendSystemPrompt, user)
	if err != nil {
		return ErrorResult(fmt.Sprintf("tool recommendation failed: %v", err)).WithError(err)
	}

	var recs []RecommendedTool
	if err := json.Unmarshal([]byte(extractJSONValue(content)), &recs); err != nil {
		// Unparseable output still helps the LLM as prose.
		return NewResult(content)
	}

	var sb strings.Builder
	sb.WriteString("Recommended tools:\n")
	for _, r := range recs {
		fmt.Fprintf(&sb, "- %s (%s): %s — %s\n", r.Name, r.Kind, r.Description, r.Reason)
	}
	return StructuredResult(sb.String(), recs)
}
