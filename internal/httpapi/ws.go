package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/jennifer88huang/gtplanner/internal/events"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const (
	wsWriteTimeout = 10 * time.Second
	wsPingInterval = 30 * time.Second
)

// wsRequest is one client message. "chat" runs a planning request on the
// socket; "subscribe" attaches to a session already streaming elsewhere.
type wsRequest struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
	UserInput string `json:"user_input,omitempty"`
}

// wsClient forwards stream events to one WebSocket connection. It is a
// stream.Handler, so a connection plugs straight into a session's fan-out.
type wsClient struct {
	conn *websocket.Conn

	mu     sync.Mutex
	closed bool
}

func (c *wsClient) HandleEvent(e *events.StreamEvent) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return c.writeMessage(websocket.TextMessage, payload)
}

func (c *wsClient) HandleError(err error, sessionID string) {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *wsClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *wsClient) writeMessage(messageType int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := c.conn.WriteMessage(messageType, data); err != nil {
		c.closed = true
		return err
	}
	return nil
}

func (c *wsClient) writeError(message string) {
	payload, _ := json.Marshal(map[string]string{"type": "error", "error": message})
	c.writeMessage(websocket.TextMessage, payload)
}

// handleWebSocket upgrades the connection and serves chat requests on it
// until the client disconnects.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("websocket upgrade failed", "error", err)
		return
	}
	client := &wsClient{conn: conn}
	defer func() {
		client.Close()
		conn.Close()
	}()

	slog.Info("websocket client connected", "remote", conn.RemoteAddr())

	stopPing := make(chan struct{})
	defer close(stopPing)
	go func() {
		ticker := time.NewTicker(wsPingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stopPing:
				return
			case <-ticker.C:
				if client.writeMessage(websocket.PingMessage, nil) != nil {
					return
				}
			}
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Warn("websocket read failed", "error", err)
			}
			return
		}

		var req wsRequest
		if err := json.Unmarshal(data, &req); err != nil {
			client.writeError("invalid JSON")
			continue
		}

		switch req.Type {
		case "chat":
			s.wsChat(r, client, &req)
		case "subscribe":
			s.wsSubscribe(client, &req)
		default:
			client.writeError("unknown request type " + req.Type)
		}
	}
}

func (s *Server) wsChat(r *http.Request, client *wsClient, req *wsRequest) {
	req.UserInput = strings.TrimSpace(req.UserInput)
	if req.UserInput == "" {
		client.writeError("user_input is required")
		return
	}
	if s.rateLimiter.Enabled() && !s.rateLimiter.Allow(clientKey(r)) {
		client.writeError("rate limit exceeded")
		return
	}

	sessionID := req.SessionID
	if sessionID == "" {
		created, err := s.sessions.CreateSession(r.Context(), "")
		if err != nil {
			client.writeError("failed to create session")
			return
		}
		sessionID = created.ID
	}

	sess := s.streams.CreateSession(sessionID)
	sess.AddHandler(client)
	defer func() {
		// The connection outlives the run; detach instead of closing.
		sess.RemoveHandler(client)
		s.streams.CloseSession(sessionID)
	}()

	if _, err := s.planner.Run(r.Context(), sessionID, req.UserInput, sess); err != nil {
		slog.Warn("websocket chat run failed", "session", sessionID, "error", err)
	}
}

func (s *Server) wsSubscribe(client *wsClient, req *wsRequest) {
	if req.SessionID == "" {
		client.writeError("session_id is required")
		return
	}
	sess := s.streams.Get(req.SessionID)
	if sess == nil {
		client.writeError("no live stream for session")
		return
	}
	sess.AddHandler(client)
}
