package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/ehrlich-b/perch/internal/acp"
	"github.com/ehrlich-b/perch/internal/logger"
)

// acpHandler is one entry in the ACP method dispatch table.
type acpHandler func(s *Server, ctx context.Context, params json.RawMessage) (any, *rpcError)

func (s *Server) handleACPRPC(w http.ResponseWriter, r *http.Request) {
	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}

	handler, ok := s.acpHandlers[req.Method]
	if !ok {
		if strings.HasPrefix(req.Method, "_") {
			writeRPCError(w, req.ID, -32601, fmt.Sprintf("Extension method not supported: %s", req.Method))
		} else {
			writeRPCError(w, req.ID, -32601, fmt.Sprintf("Method not found: %s", req.Method))
		}
		return
	}

	result, rpcErr := handler(s, r.Context(), req.Params)
	if rpcErr != nil {
		writeRPCError(w, req.ID, rpcErr.Code, rpcErr.Message)
		return
	}
	writeRPCResult(w, req.ID, result)
}

func (s *Server) acpInitialize(ctx context.Context, params json.RawMessage) (any, *rpcError) {
	var p struct {
		ProtocolVersion *int `json:"protocolVersion"`
	}
	json.Unmarshal(params, &p)
	version := 1
	if p.ProtocolVersion != nil {
		version = *p.ProtocolVersion
	}
	return map[string]any{
		"protocolVersion":   version,
		"agentCapabilities": map[string]any{"loadSession": false},
		"agentInfo":         map[string]any{"name": "perch-acp", "version": "0.1.0"},
	}, nil
}

func (s *Server) acpProvidersList(ctx context.Context, params json.RawMessage) (any, *rpcError) {
	return map[string]any{"providers": s.probe()}, nil
}

func (s *Server) acpSessionNew(ctx context.Context, params json.RawMessage) (any, *rpcError) {
	var p struct {
		Cwd      string `json:"cwd"`
		Provider string `json:"provider"`
		Role     string `json:"role"`
	}
	json.Unmarshal(params, &p)
	if p.Cwd == "" {
		p.Cwd = "."
	}

	sessionID := uuid.NewString()
	s.sessions.Create(sessionID, p.Cwd, "default", p.Provider)
	logger.Info("acp session created", "session", sessionID, "provider", p.Provider, "cwd", p.Cwd)

	provider := p.Provider
	if provider == "" {
		provider = "opencode"
	}
	role := strings.ToUpper(p.Role)
	if role == "" {
		role = "CRAFTER"
	}
	return map[string]any{
		"sessionId": sessionID,
		"provider":  provider,
		"role":      role,
	}, nil
}

func (s *Server) acpSessionPrompt(ctx context.Context, params json.RawMessage) (any, *rpcError) {
	var p struct {
		SessionID string `json:"sessionId"`
		Prompt    []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"prompt"`
	}
	json.Unmarshal(params, &p)
	if p.SessionID == "" {
		return nil, &rpcError{Code: -32602, Message: "Missing sessionId"}
	}

	var blocks []string
	for _, b := range p.Prompt {
		if b.Type == "text" {
			blocks = append(blocks, b.Text)
		}
	}
	promptText := strings.Join(blocks, "\n")

	// An unknown session is not an error: it prompts the default provider.
	provider := "opencode"
	if sess, ok := s.sessions.Get(p.SessionID); ok && sess.Provider != "" {
		provider = sess.Provider
	}

	preset, ok := acp.FindPreset(provider)
	if !ok {
		return nil, &rpcError{Code: -32000, Message: fmt.Sprintf("Unknown provider: %s", provider)}
	}

	logger.Info("acp prompt", "session", p.SessionID, "provider", provider, "prompt_len", len(promptText))
	output, err := s.bridge.Prompt(ctx, preset.Command, preset.Args, promptText)
	if err != nil {
		return nil, &rpcError{Code: -32000, Message: fmt.Sprintf("Agent process error: %s", err)}
	}
	return map[string]any{
		"stopReason": "end_turn",
		"output":     output,
	}, nil
}

func (s *Server) acpSessionCancel(ctx context.Context, params json.RawMessage) (any, *rpcError) {
	var p struct {
		SessionID string `json:"sessionId"`
	}
	json.Unmarshal(params, &p)
	if p.SessionID != "" {
		s.sessions.Remove(p.SessionID)
	}
	return map[string]any{"cancelled": true}, nil
}

func (s *Server) acpSessionLoad(ctx context.Context, params json.RawMessage) (any, *rpcError) {
	return nil, &rpcError{Code: -32601, Message: "session/load not supported - create a new session instead"}
}

func (s *Server) acpSessionSetMode(ctx context.Context, params json.RawMessage) (any, *rpcError) {
	var p struct {
		SessionID string `json:"sessionId"`
		ModeID    string `json:"modeId"`
		Mode      string `json:"mode"`
	}
	json.Unmarshal(params, &p)
	if p.ModeID == "" {
		p.ModeID = p.Mode
	}
	if p.SessionID == "" || p.ModeID == "" {
		return nil, &rpcError{Code: -32602, Message: "Missing sessionId or modeId"}
	}
	return map[string]any{}, nil
}

// handleACPSSE opens the push stream: one synthetic connected event, then
// comment heartbeats until the client goes away.
func (s *Server) handleACPSSE(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	sessionID := r.URL.Query().Get("sessionId")
	connected := map[string]any{
		"jsonrpc": "2.0",
		"method":  "session/update",
		"params": map[string]any{
			"sessionId": sessionID,
			"update": map[string]any{
				"sessionUpdate": "agent_thought_chunk",
				"content":       map[string]any{"type": "text", "text": "Connected to ACP session."},
			},
		},
	}
	data, _ := json.Marshal(connected)
	fmt.Fprintf(w, "data: %s\n\n", data)
	flusher.Flush()

	heartbeatLoop(r.Context(), w, flusher, acpHeartbeat)
}
