package acp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"time"

	"github.com/ehrlich-b/perch/internal/logger"
)

// Bridge turns a single prompt into a terminal answer from an external
// agent process speaking newline-delimited JSON-RPC on stdio.
//
// The handshake is fire-ahead: initialize (id 1), session/new (id 2) and
// session/prompt (id 3) are written without waiting for intermediate
// responses. Only the id-3 response matters; everything else on stdout is
// skipped.
type Bridge struct {
	// Timeout bounds the whole wait for the id-3 response. Zero means
	// DefaultBridgeTimeout.
	Timeout time.Duration
}

const DefaultBridgeTimeout = 5 * time.Minute

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params"`
}

type rpcLine struct {
	ID     *int            `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Prompt spawns the agent command, performs the handshake and returns the
// serialized id-3 result. The child is forcibly terminated before
// returning, whatever the outcome.
func (b *Bridge) Prompt(ctx context.Context, command string, args []string, prompt string) (string, error) {
	timeout := b.Timeout
	if timeout <= 0 {
		timeout = DefaultBridgeTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.Command(command, args...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return "", fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", fmt.Errorf("stdout pipe: %w", err)
	}
	cmd.Stderr = io.Discard

	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("failed to spawn %q: %w (is it installed?)", command, err)
	}
	defer func() {
		cmd.Process.Kill()
		cmd.Wait()
	}()

	if err := writeHandshake(stdin, prompt); err != nil {
		return "", err
	}

	return awaitPromptResult(ctx, stdout, timeout)
}

// writeHandshake sends the three newline-delimited requests in order.
func writeHandshake(w io.Writer, prompt string) error {
	reqs := []rpcRequest{
		{
			JSONRPC: "2.0", ID: 1, Method: "initialize",
			Params: map[string]any{
				"protocolVersion": 1,
				"clientInfo":      map[string]string{"name": "perch", "version": "0.1.0"},
			},
		},
		{
			JSONRPC: "2.0", ID: 2, Method: "session/new",
			Params: map[string]any{"cwd": ".", "mcpServers": []any{}},
		},
		{
			JSONRPC: "2.0", ID: 3, Method: "session/prompt",
			Params: map[string]any{
				"sessionId": "pending",
				"prompt":    []map[string]string{{"type": "text", "text": prompt}},
			},
		},
	}

	for _, req := range reqs {
		line, err := json.Marshal(req)
		if err != nil {
			return fmt.Errorf("encode %s: %w", req.Method, err)
		}
		if _, err := w.Write(append(line, '\n')); err != nil {
			return fmt.Errorf("write %s: %w", req.Method, err)
		}
	}
	return nil
}

// awaitPromptResult scans r line by line until a message with id 3 arrives.
// Blank and non-JSON lines are skipped silently. The line source is a plain
// reader so tests can drive the loop without a real process.
func awaitPromptResult(ctx context.Context, r io.Reader, timeout time.Duration) (string, error) {
	type outcome struct {
		output string
		err    error
	}
	done := make(chan outcome, 1)

	go func() {
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 1024*1024), 1024*1024)
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}
			var msg rpcLine
			if err := json.Unmarshal(line, &msg); err != nil {
				continue
			}
			if msg.ID == nil || *msg.ID != 3 {
				continue
			}
			if msg.Error != nil {
				done <- outcome{err: fmt.Errorf("agent error: %s", msg.Error.Message)}
				return
			}
			if msg.Result != nil {
				done <- outcome{output: string(msg.Result)}
				return
			}
		}
		done <- outcome{err: fmt.Errorf("agent closed stdout without a prompt response")}
	}()

	select {
	case <-ctx.Done():
		// The context is the caller's request context: a client disconnect
		// lands here too and is not a timeout.
		if ctx.Err() == context.DeadlineExceeded {
			logger.Warn("bridge prompt timed out")
			return "", fmt.Errorf("agent response timeout (%s)", timeout)
		}
		logger.Warn("bridge prompt cancelled")
		return "", fmt.Errorf("prompt cancelled: %w", ctx.Err())
	case out := <-done:
		return out.output, out.err
	}
}
