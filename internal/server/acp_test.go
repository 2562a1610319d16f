package server

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestACPInitialize(t *testing.T) {
	s, _ := newTestServer(t)

	reply := acpCall(t, s, "initialize", map[string]any{"protocolVersion": 7})
	require.Nil(t, reply.Error)
	assert.Equal(t, float64(7), reply.Result["protocolVersion"])

	caps, ok := reply.Result["agentCapabilities"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, false, caps["loadSession"])

	// Version defaults to 1 when absent.
	reply = acpCall(t, s, "initialize", map[string]any{})
	assert.Equal(t, float64(1), reply.Result["protocolVersion"])
}

func TestACPProvidersList(t *testing.T) {
	s, _ := newTestServer(t)

	reply := acpCall(t, s, "_providers/list", map[string]any{})
	require.Nil(t, reply.Error)

	providers, ok := reply.Result["providers"].([]any)
	require.True(t, ok)
	require.Len(t, providers, 3)

	var names []string
	for _, p := range providers {
		names = append(names, p.(map[string]any)["name"].(string))
	}
	assert.Equal(t, []string{"claude", "gpt", "aider"}, names)
}

func TestACPSessionNewDefaults(t *testing.T) {
	s, _ := newTestServer(t)

	reply := acpCall(t, s, "session/new", map[string]any{})
	require.Nil(t, reply.Error)
	assert.NotEmpty(t, reply.Result["sessionId"])
	assert.Equal(t, "opencode", reply.Result["provider"])
	assert.Equal(t, "CRAFTER", reply.Result["role"])

	reply = acpCall(t, s, "session/new", map[string]any{
		"cwd":      "/work",
		"provider": "gemini",
		"role":     "gate",
	})
	assert.Equal(t, "gemini", reply.Result["provider"])
	assert.Equal(t, "GATE", reply.Result["role"])
}

func TestACPSessionPromptMissingID(t *testing.T) {
	s, _ := newTestServer(t)

	reply := acpCall(t, s, "session/prompt", map[string]any{
		"prompt": []map[string]any{{"type": "text", "text": "hi"}},
	})
	require.NotNil(t, reply.Error)
	assert.Equal(t, -32602, reply.Error.Code)
	assert.Equal(t, "Missing sessionId", reply.Error.Message)
}

func TestACPSessionPromptJoinsTextBlocks(t *testing.T) {
	s, bridge := newTestServer(t)

	created := acpCall(t, s, "session/new", map[string]any{"provider": "opencode"})
	sessionID := created.Result["sessionId"].(string)

	reply := acpCall(t, s, "session/prompt", map[string]any{
		"sessionId": sessionID,
		"prompt": []map[string]any{
			{"type": "text", "text": "Hello"},
			{"type": "image", "data": "ignored"},
			{"type": "text", "text": "World"},
		},
	})
	require.Nil(t, reply.Error)
	assert.Equal(t, "Hello\nWorld", bridge.prompt)
	assert.Equal(t, "opencode", bridge.command)
	assert.Equal(t, []string{"acp"}, bridge.args)
	assert.Equal(t, "end_turn", reply.Result["stopReason"])
	assert.Equal(t, `{"answer":"42"}`, reply.Result["output"])
}

func TestACPSessionPromptUnknownSessionFallsBack(t *testing.T) {
	s, bridge := newTestServer(t)

	reply := acpCall(t, s, "session/prompt", map[string]any{
		"sessionId": "never-created",
		"prompt":    []map[string]any{{"type": "text", "text": "hi"}},
	})
	require.Nil(t, reply.Error)
	assert.Equal(t, "opencode", bridge.command)
}

func TestACPSessionPromptUnknownProvider(t *testing.T) {
	s, _ := newTestServer(t)

	created := acpCall(t, s, "session/new", map[string]any{"provider": "mythical"})
	sessionID := created.Result["sessionId"].(string)

	reply := acpCall(t, s, "session/prompt", map[string]any{
		"sessionId": sessionID,
		"prompt":    []map[string]any{{"type": "text", "text": "hi"}},
	})
	require.NotNil(t, reply.Error)
	assert.Equal(t, -32000, reply.Error.Code)
	assert.Contains(t, reply.Error.Message, "Unknown provider: mythical")
}

func TestACPSessionPromptBridgeError(t *testing.T) {
	s, bridge := newTestServer(t)
	bridge.err = context.DeadlineExceeded

	created := acpCall(t, s, "session/new", map[string]any{})
	reply := acpCall(t, s, "session/prompt", map[string]any{
		"sessionId": created.Result["sessionId"],
		"prompt":    []map[string]any{{"type": "text", "text": "hi"}},
	})
	require.NotNil(t, reply.Error)
	assert.Equal(t, -32000, reply.Error.Code)
	assert.Contains(t, reply.Error.Message, "Agent process error")
}

func TestACPSessionCancelIsIdempotent(t *testing.T) {
	s, _ := newTestServer(t)

	created := acpCall(t, s, "session/new", map[string]any{})
	sessionID := created.Result["sessionId"].(string)

	reply := acpCall(t, s, "session/cancel", map[string]any{"sessionId": sessionID})
	require.Nil(t, reply.Error)
	assert.Equal(t, true, reply.Result["cancelled"])

	// Unknown ids never error.
	reply = acpCall(t, s, "session/cancel", map[string]any{"sessionId": "ghost"})
	require.Nil(t, reply.Error)
	assert.Equal(t, true, reply.Result["cancelled"])
}

func TestACPSessionLoadRejected(t *testing.T) {
	s, _ := newTestServer(t)

	reply := acpCall(t, s, "session/load", map[string]any{"sessionId": "x"})
	require.NotNil(t, reply.Error)
	assert.Equal(t, -32601, reply.Error.Code)
}

func TestACPSessionSetMode(t *testing.T) {
	s, _ := newTestServer(t)

	reply := acpCall(t, s, "session/set_mode", map[string]any{"sessionId": "x"})
	require.NotNil(t, reply.Error)
	assert.Equal(t, -32602, reply.Error.Code)

	reply = acpCall(t, s, "session/set_mode", map[string]any{"sessionId": "x", "modeId": "plan"})
	require.Nil(t, reply.Error)
}

func TestACPUnknownMethods(t *testing.T) {
	s, _ := newTestServer(t)

	reply := acpCall(t, s, "_custom/thing", map[string]any{})
	require.NotNil(t, reply.Error)
	assert.Equal(t, -32601, reply.Error.Code)
	assert.Contains(t, reply.Error.Message, "Extension method not supported")

	reply = acpCall(t, s, "bogus", map[string]any{})
	require.NotNil(t, reply.Error)
	assert.Equal(t, -32601, reply.Error.Code)
	assert.Contains(t, reply.Error.Message, "Method not found")
}

func TestACPSSEConnectedEvent(t *testing.T) {
	s, _ := newTestServer(t)
	srv := httptest.NewServer(s.Handler())
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/acp?sessionId=abc", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	line, err := bufio.NewReader(resp.Body).ReadString('\n')
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(line, "data: "))
	assert.Contains(t, line, "session/update")
	assert.Contains(t, line, `"sessionId":"abc"`)
	assert.Contains(t, line, "Connected to ACP session.")
}
