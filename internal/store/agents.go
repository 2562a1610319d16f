package store

import (
	"database/sql"
	"fmt"
)

// AgentRole is the fixed set of roles an orchestrated agent can hold.
type AgentRole string

const (
	RoleCrafter AgentRole = "CRAFTER"
	RoleGate    AgentRole = "GATE"
	RoleRouta   AgentRole = "ROUTA"
)

// ParseAgentRole validates a role string.
func ParseAgentRole(s string) (AgentRole, bool) {
	switch AgentRole(s) {
	case RoleCrafter, RoleGate, RoleRouta:
		return AgentRole(s), true
	}
	return "", false
}

type Agent struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Role        string `json:"role"`
	WorkspaceID string `json:"workspaceId"`
	Provider    string `json:"provider,omitempty"`
	CreatedAt   string `json:"createdAt"`
}

func (s *Store) SaveAgent(a *Agent) error {
	_, err := s.db.Exec(`INSERT INTO agents (id, name, role, workspace_id, provider)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			role = excluded.role,
			provider = excluded.provider`,
		a.ID, a.Name, a.Role, a.WorkspaceID, a.Provider)
	if err != nil {
		return fmt.Errorf("save agent: %w", err)
	}
	return nil
}

func (s *Store) ListAgentsByWorkspace(workspaceID string) ([]*Agent, error) {
	rows, err := s.db.Query(`SELECT id, name, role, workspace_id, COALESCE(provider, ''), created_at
		FROM agents WHERE workspace_id = ? ORDER BY created_at`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var agents []*Agent
	for rows.Next() {
		a := &Agent{}
		if err := rows.Scan(&a.ID, &a.Name, &a.Role, &a.WorkspaceID, &a.Provider, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

func (s *Store) GetAgent(id string) (*Agent, error) {
	a := &Agent{}
	err := s.db.QueryRow(`SELECT id, name, role, workspace_id, COALESCE(provider, ''), created_at
		FROM agents WHERE id = ?`, id).Scan(&a.ID, &a.Name, &a.Role, &a.WorkspaceID, &a.Provider, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get agent: %w", err)
	}
	return a, nil
}
