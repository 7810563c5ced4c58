// Package httpapi is the HTTP/WebSocket gateway: a streaming chat
// endpoint speaking Server-Sent Events, a small session REST surface,
// and a WebSocket mirror of the event stream.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/jennifer88huang/gtplanner/internal/agent"
	"github.com/jennifer88huang/gtplanner/internal/config"
	"github.com/jennifer88huang/gtplanner/internal/sessions"
	"github.com/jennifer88huang/gtplanner/internal/stream"
)

// Runner is the planner entry point the gateway drives. Satisfied by
// *agent.Planner.
type Runner interface {
	Run(ctx context.Context, sessionID, userInput string, sess *stream.Session) (*agent.RunResult, error)
}

// Server serves the gateway endpoints.
type Server struct {
	cfg      *config.Config
	planner  Runner
	sessions *sessions.Manager
	streams  *stream.Manager

	rateLimiter *RateLimiter
	httpServer  *http.Server
	mux         *http.ServeMux
}

func NewServer(cfg *config.Config, planner Runner, mgr *sessions.Manager, streams *stream.Manager) *Server {
	return &Server{
		cfg:         cfg,
		planner:     planner,
		sessions:    mgr,
		streams:     streams,
		rateLimiter: NewRateLimiter(cfg.Gateway.RateLimitRPM, 5),
	}
}

// BuildMux creates and caches the mux with all routes registered.
func (s *Server) BuildMux() *http.ServeMux {
	if s.mux != nil {
		return s.mux
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("POST /api/chat", s.auth(s.limit(s.handleChat)))
	mux.HandleFunc("GET /api/chat/stream", s.auth(s.handleChatStream))
	mux.HandleFunc("GET /ws", s.auth(s.handleWebSocket))

	mux.HandleFunc("POST /api/sessions", s.auth(s.handleCreateSession))
	mux.HandleFunc("GET /api/sessions", s.auth(s.handleListSessions))
	mux.HandleFunc("GET /api/sessions/{id}", s.auth(s.handleGetSession))
	mux.HandleFunc("DELETE /api/sessions/{id}", s.auth(s.handleDeleteSession))
	mux.HandleFunc("GET /api/sessions/{id}/stats", s.auth(s.handleSessionStats))
	mux.HandleFunc("GET /api/search", s.auth(s.handleSearch))

	s.mux = mux
	return mux
}

// Start listens until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	mux := s.BuildMux()

	addr := fmt.Sprintf("%s:%d", s.cfg.Gateway.Host, s.cfg.Gateway.Port)
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	slog.Info("gateway starting", "addr", addr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("gateway server: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// auth requires the gateway bearer token when one is configured.
func (s *Server) auth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Gateway.Token != "" {
			if extractBearerToken(r) != s.cfg.Gateway.Token {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "unauthorized"})
				return
			}
		}
		next(w, r)
	}
}

// limit applies the per-client rate limiter.
func (s *Server) limit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.rateLimiter.Enabled() && !s.rateLimiter.Allow(clientKey(r)) {
			writeJSON(w, http.StatusTooManyRequests, map[string]string{"error": "rate limit exceeded"})
			return
		}
		next(w, r)
	}
}

func extractBearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if rest, ok := strings.CutPrefix(h, "Bearer "); ok {
		return rest
	}
	return ""
}

// clientKey identifies a caller for rate limiting: the token when
// present, otherwise the remote address without the port.
func clientKey(r *http.Request) string {
	if tok := extractBearerToken(r); tok != "" {
		return tok
	}
	addr := r.RemoteAddr
	if i := strings.LastIndex(addr, ":"); i > 0 {
		addr = addr[:i]
	}
	return addr
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("write response", "error", err)
	}
}
