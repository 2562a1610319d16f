package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/ehrlich-b/perch/internal/logger"
)

// Streamable-HTTP shape: POST carries JSON-RPC, GET opens the SSE stream,
// DELETE ends the session. Session identity travels in the mcp-session-id
// header, never in the body.
func (s *Server) handleMCP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleMCPPost(w, r)
	case http.MethodGet:
		s.handleMCPGet(w, r)
	case http.MethodDelete:
		s.handleMCPDelete(w, r)
	case http.MethodOptions:
		s.handleMCPOptions(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func setMCPCORS(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Expose-Headers", "Mcp-Session-Id, MCP-Protocol-Version")
}

func (s *Server) handleMCPOptions(w http.ResponseWriter, r *http.Request) {
	setMCPCORS(w)
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Mcp-Session-Id")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMCPPost(w http.ResponseWriter, r *http.Request) {
	setMCPCORS(w)

	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}

	switch req.Method {
	case "initialize":
		var p struct {
			ProtocolVersion string `json:"protocolVersion"`
		}
		json.Unmarshal(req.Params, &p)
		if p.ProtocolVersion == "" {
			p.ProtocolVersion = "2024-11-05"
		}

		sessionID := uuid.NewString()
		s.mcpMu.Lock()
		s.mcpSessions[sessionID] = mcpSessionData{WorkspaceID: "default"}
		active := len(s.mcpSessions)
		s.mcpMu.Unlock()

		w.Header().Set("Mcp-Session-Id", sessionID)
		logger.Info("mcp session created", "session", sessionID, "active", active)

		writeRPCResult(w, req.ID, map[string]any{
			"protocolVersion": p.ProtocolVersion,
			"capabilities": map[string]any{
				"tools": map[string]any{"listChanged": false},
			},
			"serverInfo": map[string]any{"name": "perch-mcp", "version": "0.1.0"},
		})

	case "tools/list":
		writeRPCResult(w, req.ID, map[string]any{"tools": toolCatalog()})

	case "tools/call":
		var p struct {
			Name      string         `json:"name"`
			Arguments map[string]any `json:"arguments"`
		}
		json.Unmarshal(req.Params, &p)
		// Tool failures are results with isError, never RPC errors.
		writeRPCResult(w, req.ID, s.executeTool(p.Name, p.Arguments))

	case "notifications/initialized":
		writeRPCResult(w, req.ID, map[string]any{})

	default:
		writeRPCError(w, req.ID, -32601, fmt.Sprintf("Method not found: %s", req.Method))
	}
}

func (s *Server) handleMCPGet(w http.ResponseWriter, r *http.Request) {
	setMCPCORS(w)

	sessionID := r.Header.Get("Mcp-Session-Id")
	s.mcpMu.RLock()
	_, ok := s.mcpSessions[sessionID]
	s.mcpMu.RUnlock()
	if sessionID == "" || !ok {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"jsonrpc": "2.0",
			"error": map[string]any{
				"code":    -32600,
				"message": "No active session. Send an initialize POST request first.",
			},
		})
		return
	}

	flusher, fok := w.(http.Flusher)
	if !fok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	heartbeatLoop(r.Context(), w, flusher, mcpHeartbeat)
}

func (s *Server) handleMCPDelete(w http.ResponseWriter, r *http.Request) {
	setMCPCORS(w)

	sessionID := r.Header.Get("Mcp-Session-Id")
	if sessionID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "Missing Mcp-Session-Id header"})
		return
	}

	s.mcpMu.Lock()
	_, ok := s.mcpSessions[sessionID]
	if ok {
		delete(s.mcpSessions, sessionID)
	}
	active := len(s.mcpSessions)
	s.mcpMu.Unlock()

	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "Session not found"})
		return
	}
	logger.Info("mcp session closed", "session", sessionID, "active", active)
	w.WriteHeader(http.StatusNoContent)
}

func heartbeatLoop(ctx context.Context, w http.ResponseWriter, flusher http.Flusher, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fmt.Fprint(w, ": heartbeat\n\n")
			flusher.Flush()
		}
	}
}
