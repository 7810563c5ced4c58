// Package agent implements the orchestration loop: streamed LLM turns,
// parallel tool execution, and the bounded recursion that ties them
// together.
package agent

import (
	"fmt"

	"github.com/jennifer88huang/gtplanner/internal/providers"
	"github.com/jennifer88huang/gtplanner/internal/store"
)

// State carries one run's working data through the recursive cycle. It is
// an explicit struct rather than a loose map so every field an LLM turn
// or tool batch touches is visible here.
type State struct {
	SessionID string

	// History is the full dialogue fed to the LLM, starting from the
	// session's active context plus this run's user input.
	History []providers.Message

	// NewMessages are the messages this run produced, in order. They
	// become the persisted delta.
	NewMessages []providers.Message

	// ResultUpdates accumulates per-key replacements for the session's
	// tool execution results.
	ResultUpdates map[string]any

	// Executions are the tool audit rows this run produced.
	Executions []*store.ToolExecution

	// Errors collects non-fatal failures. The run keeps going where it
	// can; the planner reports these at conversation end.
	Errors []string

	// Turn counts assistant turns within this run, 1-based.
	Turn int

	// FinalMessage is the last assistant text with no pending tool calls.
	FinalMessage string

	Usage providers.Usage
}

func newState(sessionID string, history []providers.Message) *State {
	return &State{
		SessionID:     sessionID,
		History:       history,
		ResultUpdates: make(map[string]any),
	}
}

// appendMessage records a message both in the LLM history and in the
// run's persisted delta.
func (s *State) appendMessage(m providers.Message) {
	s.History = append(s.History, m)
	s.NewMessages = append(s.NewMessages, m)
}

func (s *State) recordError(stage string, err error) {
	s.Errors = append(s.Errors, fmt.Sprintf("%s: %v", stage, err))
}

// ValidationError marks rejected input, distinct from runtime failures.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}
