package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/coder/websocket"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

func attachCmd() *cobra.Command {
	var serverFlag string

	cmd := &cobra.Command{
		Use:   "attach [session-id]",
		Short: "Attach the local terminal to a PTY session",
		Long:  "Connects stdin/stdout to a running PTY session on the gateway. With no session id, a new shell session is created first.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			sessionID := ""
			if len(args) == 1 {
				sessionID = args[0]
			}

			fd := int(os.Stdin.Fd())
			rows, cols := 24, 80
			if term.IsTerminal(fd) {
				if w, h, err := term.GetSize(fd); err == nil {
					rows, cols = h, w
				}
			}

			if sessionID == "" {
				id, err := createRemotePty(ctx, serverFlag, rows, cols)
				if err != nil {
					return err
				}
				sessionID = id
				fmt.Fprintf(os.Stderr, "created session %s\r\n", sessionID)
			}

			wsURL := fmt.Sprintf("ws://%s/ws/pty/%s", serverFlag, sessionID)
			conn, _, err := websocket.Dial(ctx, wsURL, nil)
			if err != nil {
				return fmt.Errorf("dial %s: %w", wsURL, err)
			}
			defer conn.CloseNow()

			if term.IsTerminal(fd) {
				oldState, err := term.MakeRaw(fd)
				if err == nil {
					defer term.Restore(fd, oldState)
				}
			}

			winchCh := make(chan os.Signal, 1)
			signal.Notify(winchCh, syscall.SIGWINCH)
			defer signal.Stop(winchCh)
			go func() {
				for range winchCh {
					if w, h, err := term.GetSize(fd); err == nil {
						resizeRemotePty(ctx, serverFlag, sessionID, h, w)
					}
				}
			}()

			// Server output → stdout.
			done := make(chan struct{})
			go func() {
				defer close(done)
				for {
					_, data, err := conn.Read(ctx)
					if err != nil {
						return
					}
					os.Stdout.Write(data)
				}
			}()

			// stdin → server input.
			go func() {
				buf := make([]byte, 4096)
				for {
					n, err := os.Stdin.Read(buf)
					if n > 0 {
						if werr := conn.Write(ctx, websocket.MessageText, buf[:n]); werr != nil {
							return
						}
					}
					if err != nil {
						conn.Close(websocket.StatusNormalClosure, "stdin closed")
						return
					}
				}
			}()

			<-done
			return nil
		},
	}

	cmd.Flags().StringVar(&serverFlag, "server", "127.0.0.1:7420", "gateway address")
	return cmd
}

func createRemotePty(ctx context.Context, addr string, rows, cols int) (string, error) {
	body, _ := json.Marshal(map[string]any{"rows": rows, "cols": cols})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("http://%s/api/pty", addr), bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("create pty session: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("create pty session: HTTP %d", resp.StatusCode)
	}
	var out struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode create response: %w", err)
	}
	return out.SessionID, nil
}

func resizeRemotePty(ctx context.Context, addr, id string, rows, cols int) {
	body, _ := json.Marshal(map[string]any{"rows": rows, "cols": cols})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, fmt.Sprintf("http://%s/api/pty/%s/resize", addr, id), bytes.NewReader(body))
	if err != nil {
		return
	}
	req.Header.Set("Content-Type", "application/json")
	if resp, err := http.DefaultClient.Do(req); err == nil {
		resp.Body.Close()
	}
}
