package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/ehrlich-b/perch/internal/logger"
	"github.com/ehrlich-b/perch/internal/pty"
)

func (s *Server) handlePtyCreate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Command string            `json:"command"`
		Args    []string          `json:"args"`
		Cwd     string            `json:"cwd"`
		Env     map[string]string `json:"env"`
		Rows    uint16            `json:"rows"`
		Cols    uint16            `json:"cols"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid JSON body"})
		return
	}

	id, err := s.ptys.Create(pty.CreateOptions{
		Command: req.Command,
		Args:    req.Args,
		Cwd:     req.Cwd,
		Env:     req.Env,
		Rows:    req.Rows,
		Cols:    req.Cols,
	})
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sessionId": id})
}

func (s *Server) handlePtyList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"sessions": s.ptys.List()})
}

func (s *Server) handlePtyRead(w http.ResponseWriter, r *http.Request) {
	data, hasData, err := s.ptys.Read(r.PathValue("id"))
	if err != nil {
		writePtyError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": data, "hasData": hasData})
}

func (s *Server) handlePtyWrite(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Data string `json:"data"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid JSON body"})
		return
	}
	if err := s.ptys.Write(r.PathValue("id"), req.Data); err != nil {
		writePtyError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handlePtyResize(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Rows uint16 `json:"rows"`
		Cols uint16 `json:"cols"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid JSON body"})
		return
	}
	if err := s.ptys.Resize(r.PathValue("id"), req.Rows, req.Cols); err != nil {
		writePtyError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handlePtyKill(w http.ResponseWriter, r *http.Request) {
	if err := s.ptys.Kill(r.PathValue("id")); err != nil {
		writePtyError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writePtyError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, pty.ErrSessionNotFound) {
		status = http.StatusNotFound
	}
	writeJSON(w, status, map[string]any{"error": err.Error()})
}

// handlePtyAttach streams a live terminal over websocket: text frames from
// the client go to the session's stdin, buffered output is polled and sent
// back as text frames.
func (s *Server) handlePtyAttach(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	known := false
	for _, info := range s.ptys.List() {
		if info.SessionID == id {
			known = true
			break
		}
	}
	if !known {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": pty.ErrSessionNotFound.Error()})
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		logger.Warn("pty attach: websocket accept failed", "error", err)
		return
	}
	conn.SetReadLimit(512 * 1024)
	defer conn.CloseNow()

	ctx := r.Context()

	// Input path: client frames become terminal writes.
	go func() {
		for {
			_, msg, err := conn.Read(ctx)
			if err != nil {
				return
			}
			if err := s.ptys.Write(id, string(msg)); err != nil {
				return
			}
		}
	}()

	// Output path: drain the session buffer on a short poll.
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			data, hasData, err := s.ptys.Read(id)
			if err != nil {
				conn.Close(websocket.StatusNormalClosure, "session closed")
				return
			}
			if !hasData {
				continue
			}
			if err := conn.Write(ctx, websocket.MessageText, []byte(data)); err != nil {
				return
			}
		}
	}
}
