package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ehrlich-b/perch/internal/acp"
	"github.com/ehrlich-b/perch/internal/pty"
	"github.com/ehrlich-b/perch/internal/skill"
	"github.com/ehrlich-b/perch/internal/store"
)

// fakeBridge records the forwarded prompt instead of spawning anything.
type fakeBridge struct {
	output  string
	err     error
	command string
	args    []string
	prompt  string
}

func (f *fakeBridge) Prompt(ctx context.Context, command string, args []string, prompt string) (string, error) {
	f.command = command
	f.args = args
	f.prompt = prompt
	if f.err != nil {
		return "", f.err
	}
	return f.output, nil
}

func newTestServer(t *testing.T) (*Server, *fakeBridge) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	ptys := pty.NewManager()
	t.Cleanup(ptys.CloseAll)

	bridge := &fakeBridge{output: `{"answer":"42"}`}
	s := New(bridge, ptys, st, skill.NewRegistry(t.TempDir()))
	s.probe = func() []acp.ProviderStatus {
		return []acp.ProviderStatus{
			{ID: "claude", Name: "claude", Status: "available"},
			{ID: "gpt", Name: "gpt", Status: "available"},
			{ID: "aider", Name: "aider", Status: "unavailable"},
		}
	}
	return s, bridge
}

type rpcReply struct {
	Jsonrpc string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  map[string]any  `json:"result"`
	Error   *rpcError       `json:"error"`
}

func acpCall(t *testing.T, s *Server, method string, params any) rpcReply {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
		"params":  params,
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/acp", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var reply rpcReply
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&reply))
	return reply
}

func mcpCall(t *testing.T, s *Server, method string, params any, headers map[string]string) (*httptest.ResponseRecorder, rpcReply) {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
		"params":  params,
	})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/mcp", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var reply rpcReply
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&reply))
	return rec, reply
}
