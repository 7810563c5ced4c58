// Package stream implements per-request event sessions, the process-wide
// session registry, and the terminal/SSE handlers that render events.
package stream

import "github.com/jennifer88huang/gtplanner/internal/events"

// Handler consumes stream events for one sink (terminal, SSE connection,
// WebSocket hub). Handlers are single-threaded per instance; the session
// serializes deliveries to each handler.
type Handler interface {
	// HandleEvent renders one event. A returned error marks a delivery
	// failure for this handler only; the session reports it back via
	// HandleError and keeps delivering to the remaining handlers.
	HandleEvent(e *events.StreamEvent) error

	// HandleError is called by the session when HandleEvent failed.
	HandleError(err error, sessionID string)

	// Close releases the handler's resources. Further HandleEvent calls
	// after Close are no-ops.
	Close() error
}
