// Package pty multiplexes interactive shell sessions over OS
// pseudo-terminals behind a create/write/read/resize/kill contract.
package pty

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"sync"

	"github.com/creack/pty"
)

// ErrSessionNotFound is returned for operations on an unknown session id.
var ErrSessionNotFound = errors.New("pty session not found")

// maxBuffered caps each session's pending-output buffer; older bytes are
// dropped once a client stops reading.
const maxBuffered = 256 * 1024

// Session is one live pseudo-terminal. The manager is the sole owner; a
// session never outlives it.
type Session struct {
	ID      string
	Command string
	Cwd     string

	ptmx *os.File
	cmd  *exec.Cmd

	mu  sync.Mutex
	buf []byte
}

// append adds freshly read output, trimming the front at the cap.
func (s *Session) append(p []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buf = append(s.buf, p...)
	if over := len(s.buf) - maxBuffered; over > 0 {
		s.buf = s.buf[over:]
	}
}

// drain returns and clears the pending output.
func (s *Session) drain() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.buf) == 0 {
		return nil
	}
	out := s.buf
	s.buf = nil
	return out
}

// CreateOptions configure a new session. Zero values fall back to the
// platform shell, the process working directory and a 24x80 terminal.
type CreateOptions struct {
	Command string
	Args    []string
	Cwd     string
	Env     map[string]string
	Rows    uint16
	Cols    uint16
}

// Info is the listing row for one open session.
type Info struct {
	SessionID string `json:"sessionId"`
	Command   string `json:"command"`
	Cwd       string `json:"cwd"`
}

// Manager owns the table of live PTY sessions. Ids are monotonic and
// process-unique; the session map sits behind a read/write lock that is
// never held across terminal I/O.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	nextID   uint64
}

func NewManager() *Manager {
	return &Manager{sessions: make(map[string]*Session), nextID: 1}
}

func defaultShell() string {
	if runtime.GOOS == "windows" {
		return "powershell.exe"
	}
	return "/bin/bash"
}

func defaultTerm() string {
	if runtime.GOOS == "windows" {
		return "cygwin"
	}
	return "xterm-256color"
}

// Create opens a pseudo-terminal sized to rows x cols, spawns the command
// attached to its slave side and registers the session. Any failure leaves
// no session registered.
func (m *Manager) Create(opts CreateOptions) (string, error) {
	command := opts.Command
	if command == "" {
		command = defaultShell()
	}
	cwd := opts.Cwd
	if cwd == "" {
		if wd, err := os.Getwd(); err == nil {
			cwd = wd
		} else {
			cwd = "/"
		}
	}
	rows, cols := opts.Rows, opts.Cols
	if rows == 0 {
		rows = 24
	}
	if cols == 0 {
		cols = 80
	}

	cmd := exec.Command(command, opts.Args...)
	cmd.Dir = cwd
	cmd.Env = append(os.Environ(), "TERM="+defaultTerm())
	for k, v := range opts.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: rows, Cols: cols})
	if err != nil {
		return "", fmt.Errorf("start pty: %w", err)
	}

	m.mu.Lock()
	id := fmt.Sprintf("pty-%d", m.nextID)
	m.nextID++
	sess := &Session{
		ID:      id,
		Command: command,
		Cwd:     cwd,
		ptmx:    ptmx,
		cmd:     cmd,
	}
	m.sessions[id] = sess
	m.mu.Unlock()

	go m.readLoop(sess)

	return id, nil
}

// readLoop pumps terminal output into the session buffer until the master
// side closes. Process exit is not detected proactively; the session stays
// registered until killed.
func (m *Manager) readLoop(s *Session) {
	buf := make([]byte, 4096)
	for {
		n, err := s.ptmx.Read(buf)
		if n > 0 {
			s.append(buf[:n])
		}
		if err != nil {
			return
		}
	}
}

func (m *Manager) get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return s, nil
}

// Write sends raw bytes to the session's input side.
func (m *Manager) Write(id, data string) error {
	s, err := m.get(id)
	if err != nil {
		return err
	}
	if _, err := s.ptmx.Write([]byte(data)); err != nil {
		return fmt.Errorf("write to pty: %w", err)
	}
	return nil
}

// Read drains whatever output is currently buffered. An empty buffer
// returns ("", false), distinguishing "nothing yet" from a failure. Output
// is decoded permissively: terminal streams may contain partial multi-byte
// sequences, so invalid bytes are replaced rather than rejected.
func (m *Manager) Read(id string) (string, bool, error) {
	s, err := m.get(id)
	if err != nil {
		return "", false, err
	}
	data := s.drain()
	if len(data) == 0 {
		return "", false, nil
	}
	return strings.ToValidUTF8(string(data), "�"), true, nil
}

// Resize propagates new dimensions to the OS terminal.
func (m *Manager) Resize(id string, rows, cols uint16) error {
	s, err := m.get(id)
	if err != nil {
		return err
	}
	if err := pty.Setsize(s.ptmx, &pty.Winsize{Rows: rows, Cols: cols}); err != nil {
		return fmt.Errorf("resize pty: %w", err)
	}
	return nil
}

// Kill deregisters the session and releases its process and terminal.
func (m *Manager) Kill(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}

	if s.cmd.Process != nil {
		s.cmd.Process.Kill()
	}
	s.ptmx.Close()
	go s.cmd.Wait()
	return nil
}

// List snapshots all open sessions, order unspecified.
func (m *Manager) List() []Info {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Info, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, Info{SessionID: s.ID, Command: s.Command, Cwd: s.Cwd})
	}
	return out
}

// CloseAll kills every open session; used on shutdown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		if s.cmd.Process != nil {
			s.cmd.Process.Kill()
		}
		s.ptmx.Close()
	}
}
