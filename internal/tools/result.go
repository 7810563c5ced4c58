package tools

// Result is the unified return type from tool execution.
type Result struct {
	ForLLM  string `json:"for_llm"`           // content sent back to the LLM
	Payload any    `json:"payload,omitempty"` // structured result for storage and events
	IsError bool   `json:"is_error"`
	Err     error  `json:"-"` // internal error, not serialized
}

func NewResult(forLLM string) *Result {
	return &Result{ForLLM: forLLM}
}

// StructuredResult carries both the LLM-facing text and a structured
// payload that lands in the session's tool execution results.
func StructuredResult(forLLM string, payload any) *Result {
	return &Result{ForLLM: forLLM, Payload: payload}
}

func ErrorResult(message string) *Result {
	return &Result{ForLLM: message, IsError: true}
}

func (r *Result) WithError(err error) *Result {
	r.Err = err
	return r
}
