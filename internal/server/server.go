// Package server is the HTTP gateway: it terminates ACP and MCP JSON-RPC
// over HTTP, streams server-initiated events over SSE, and exposes the PTY
// manager through REST routes plus a websocket attach stream.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/ehrlich-b/perch/internal/acp"
	"github.com/ehrlich-b/perch/internal/logger"
	"github.com/ehrlich-b/perch/internal/pty"
	"github.com/ehrlich-b/perch/internal/skill"
	"github.com/ehrlich-b/perch/internal/store"
)

// PromptRunner forwards one prompt to an agent process and returns its
// terminal answer. Satisfied by acp.Bridge.
type PromptRunner interface {
	Prompt(ctx context.Context, command string, args []string, prompt string) (string, error)
}

const (
	acpHeartbeat = 15 * time.Second
	mcpHeartbeat = 30 * time.Second
)

type Server struct {
	bridge   PromptRunner
	sessions *acp.SessionManager
	ptys     *pty.Manager
	store    *store.Store
	skills   *skill.Registry

	// probe reports preset availability; swapped out in tests.
	probe func() []acp.ProviderStatus

	acpHandlers map[string]acpHandler

	mcpMu       sync.RWMutex
	mcpSessions map[string]mcpSessionData

	mu       sync.Mutex
	listener net.Listener
}

type mcpSessionData struct {
	WorkspaceID string
}

func New(bridge PromptRunner, ptys *pty.Manager, st *store.Store, skills *skill.Registry) *Server {
	s := &Server{
		bridge:      bridge,
		sessions:    acp.NewSessionManager(),
		ptys:        ptys,
		store:       st,
		skills:      skills,
		probe:       acp.ProbeProviders,
		mcpSessions: make(map[string]mcpSessionData),
	}
	s.acpHandlers = map[string]acpHandler{
		"initialize":       (*Server).acpInitialize,
		"_providers/list":  (*Server).acpProvidersList,
		"session/new":      (*Server).acpSessionNew,
		"session/prompt":   (*Server).acpSessionPrompt,
		"session/cancel":   (*Server).acpSessionCancel,
		"session/load":     (*Server).acpSessionLoad,
		"session/set_mode": (*Server).acpSessionSetMode,
	}
	return s
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/acp", s.handleACPRPC)
	mux.HandleFunc("GET /api/acp", s.handleACPSSE)

	mux.HandleFunc("/api/mcp", s.handleMCP)

	mux.HandleFunc("POST /api/pty", s.handlePtyCreate)
	mux.HandleFunc("GET /api/pty", s.handlePtyList)
	mux.HandleFunc("GET /api/pty/{id}/read", s.handlePtyRead)
	mux.HandleFunc("POST /api/pty/{id}/write", s.handlePtyWrite)
	mux.HandleFunc("POST /api/pty/{id}/resize", s.handlePtyResize)
	mux.HandleFunc("DELETE /api/pty/{id}", s.handlePtyKill)
	mux.HandleFunc("GET /ws/pty/{id}", s.handlePtyAttach)

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true}`))
	})

	return mux
}

// Start begins listening on the given address and blocks serving requests.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	logger.Info("gateway listening", "addr", addr)
	return http.Serve(ln, s.Handler())
}

// Close stops the listener.
func (s *Server) Close() error {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln != nil {
		return ln.Close()
	}
	return nil
}
