package acp

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"
	"time"
)

func TestAwaitPromptResultSuccess(t *testing.T) {
	lines := strings.Join([]string{
		"",
		"starting up...",
		`{"jsonrpc":"2.0","id":1,"result":{"protocolVersion":1}}`,
		`{"jsonrpc":"2.0","id":2,"result":{"sessionId":"abc"}}`,
		`{"jsonrpc":"2.0","method":"session/update","params":{}}`,
		`{"jsonrpc":"2.0","id":3,"result":{"stopReason":"end_turn"}}`,
		`{"jsonrpc":"2.0","id":4,"result":{"ignored":true}}`,
	}, "\n")

	out, err := awaitPromptResult(context.Background(), strings.NewReader(lines), time.Minute)
	if err != nil {
		t.Fatalf("awaitPromptResult: %v", err)
	}
	if out != `{"stopReason":"end_turn"}` {
		t.Errorf("output = %q", out)
	}
}

func TestAwaitPromptResultAgentError(t *testing.T) {
	line := `{"jsonrpc":"2.0","id":3,"error":{"code":-32000,"message":"model overloaded"}}`
	_, err := awaitPromptResult(context.Background(), strings.NewReader(line), time.Minute)
	if err == nil || !strings.Contains(err.Error(), "model overloaded") {
		t.Errorf("err = %v, want agent error text", err)
	}
}

func TestAwaitPromptResultEOF(t *testing.T) {
	lines := `{"jsonrpc":"2.0","id":1,"result":{}}` + "\n" + "not json at all"
	_, err := awaitPromptResult(context.Background(), strings.NewReader(lines), time.Minute)
	if err == nil || !strings.Contains(err.Error(), "closed stdout") {
		t.Errorf("err = %v, want closed-stdout error", err)
	}
}

func TestAwaitPromptResultTimeout(t *testing.T) {
	// A reader that never produces the id-3 line and never hits EOF.
	pr, pw := io.Pipe()
	defer pw.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := awaitPromptResult(ctx, pr, 50*time.Millisecond)
	if err == nil || !strings.Contains(err.Error(), "timeout") {
		t.Fatalf("err = %v, want timeout", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Error("timeout took far too long")
	}
}

func TestAwaitPromptResultCancelled(t *testing.T) {
	// A disconnecting caller cancels the context; that is not a timeout.
	pr, pw := io.Pipe()
	defer pw.Close()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := awaitPromptResult(ctx, pr, time.Minute)
	if err == nil || !strings.Contains(err.Error(), "cancelled") {
		t.Fatalf("err = %v, want cancellation", err)
	}
	if strings.Contains(err.Error(), "timeout") {
		t.Errorf("cancellation reported as timeout: %v", err)
	}
}

func TestWriteHandshakeOrder(t *testing.T) {
	var buf bytes.Buffer
	if err := writeHandshake(&buf, "Hello\nWorld"); err != nil {
		t.Fatalf("writeHandshake: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("wrote %d lines, want 3", len(lines))
	}
	for i, method := range []string{"initialize", "session/new", "session/prompt"} {
		if !strings.Contains(lines[i], `"id":`+string(rune('1'+i))) {
			t.Errorf("line %d missing id %d: %s", i, i+1, lines[i])
		}
		if !strings.Contains(lines[i], `"method":"`+method+`"`) {
			t.Errorf("line %d missing method %s: %s", i, method, lines[i])
		}
	}
	if !strings.Contains(lines[2], `Hello\nWorld`) {
		t.Errorf("prompt text not forwarded: %s", lines[2])
	}
}

func TestPromptSpawnFailure(t *testing.T) {
	b := &Bridge{Timeout: time.Second}
	_, err := b.Prompt(context.Background(), "perch-no-such-agent-binary", nil, "hi")
	if err == nil || !strings.Contains(err.Error(), "perch-no-such-agent-binary") {
		t.Errorf("err = %v, want diagnostic naming the command", err)
	}
}
