// Package tools defines the tool interface, the registry exposed to the
// LLM, and the parallel executor that runs requested calls.
package tools

import (
	"context"
	"time"
)

// Tool is one callable capability. Implementations must be safe for
// concurrent Execute calls; the executor runs parallel tool calls on
// separate goroutines.
type Tool interface {
	Name() string
	Description() string

	// Parameters returns the JSON schema of the tool's arguments.
	Parameters() map[string]any

	// Timeout bounds one Execute call. Zero means the executor default.
	Timeout() time.Duration

	// Execute runs the tool. progress may be called any number of times
	// to surface intermediate status; it may be nil.
	Execute(ctx context.Context, args map[string]any, progress func(message string)) *Result
}
