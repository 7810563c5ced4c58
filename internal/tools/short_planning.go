package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jennifer88huang/gtplanner/internal/providers"
)

// ShortPlan is the structured output of the short planning tool.
type ShortPlan struct {
	Title string   `json:"title"`
	Steps []string `json:"steps"`
}

// ShortPlanningTool drafts or revises the high-level step plan for the
// project under discussion.
type ShortPlanningTool struct {
	provider providers.Provider
	model    string
}

func NewShortPlanningTool(provider providers.Provider, model string) *ShortPlanningTool {
	return &ShortPlanningTool{provider: provider, model: model}
}

func (t *ShortPlanningTool) Name() string { return "short_planning" }

func (t *ShortPlanningTool) Description() string {
	return "Draft or revise the step-by-step implementation plan for the project."
}

func (t *ShortPlanningTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"requirements": map[string]any{
				"type":        "string",
				"description": "The requirements the plan must cover",
			},
			"previous_plan": map[string]any{
				"type":        "string",
				"description": "The current plan to revise, if any",
			},
			"feedback": map[string]any{
				"type":        "string",
				"description": "User feedback driving the revision",
			},
		},
		"required": []string{"requirements"},
	}
}

func (t *ShortPlanningTool) Timeout() time.Duration { return 90 * time.Second }

const shortPlanningSystemPrompt = `You write concise implementation plans.
Reply with a JSON object: "title" (string) and "steps" (array of strings,
each one actionable step in order). 5 to 12 steps. Reply with the JSON
object only.`

func (t *ShortPlanningTool) Execute(ctx context.Context, args map[string]any, progress func(string)) *Result {
	requirements, _ := args["requirements"].(string)
	if strings.TrimSpace(requirements) == "" {
		return ErrorResult("short_planning requires requirements")
	}
	if progress != nil {
		progress("drafting plan")
	}

	user := "Requirements:\n" + requirements
	if prev, _ := args["previous_plan"].(string); prev != "" {
		user += "\n\nCurrent plan:\n" + prev
	}
	if fb, _ := args["feedback"].(string); fb != "" {
		user += "\n\nFeedback:\n" + fb
	}

	content, err := chatText(ctx, t.provider, t.model, shortPlanningSystemPrompt, user)
	if err != nil {
		return ErrorResult(fmt.Sprintf("planning failed: %v", err)).WithError(err)
	}

	var plan ShortPlan
	if err := json.Unmarshal([]byte(extractJSONValue(content)), &plan); err != nil || len(plan.Steps) == 0 {
		return NewResult(content)
	}

	var sb strings.Builder
	if plan.Title != "" {
		sb.WriteString(plan.Title)
		sb.WriteString("\n")
	}
	for i, step := range plan.Steps {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, step)
	}
	return StructuredResult(sb.String(), plan)
}
