package tools

// Result-map keys fed back into the session's tool execution results.
const (
	KeyRecommendedTools = "recommended_tools"
	KeyResearchFindings = "research_findings"
	KeyShortPlanning    = "short_planning"
)

// resultKeyByTool maps a tool name to the result-map key its output
// replaces. Tools absent here leave the result map untouched.
var resultKeyByTool = map[string]string{
	"tool_recommend": KeyRecommendedTools,
	"research":       KeyResearchFindings,
	"short_planning": KeyShortPlanning,
}

// ExtractResultUpdates derives the per-key replacement map from a batch
// of completed executions. Failed calls contribute nothing; for mapped
// tools the structured payload wins over the raw text.
func ExtractResultUpdates(executions []Execution) map[string]any {
	updates := make(map[string]any)
	for _, ex := range executions {
		if ex.Result == nil || ex.Result.IsError {
			continue
		}
		key, ok := resultKeyByTool[ex.Call.Name]
		if !ok {
			continue
		}
		if ex.Result.Payload != nil {
			updates[key] = ex.Result.Payload
		} else {
			updates[key] = ex.Result.ForLLM
		}
	}
	if len(updates) == 0 {
		return nil
	}
	return updates
}
