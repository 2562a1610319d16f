package store

import (
	"database/sql"
	"fmt"
)

type Note struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Content     string `json:"content"`
	WorkspaceID string `json:"workspaceId"`
	Type        string `json:"type,omitempty"`
	CreatedAt   string `json:"createdAt"`
	UpdatedAt   string `json:"updatedAt"`
}

// SaveNote creates or replaces a note (create_note upserts by id).
func (s *Store) SaveNote(n *Note) error {
	_, err := s.db.Exec(`INSERT INTO notes (id, title, content, workspace_id, note_type)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			content = excluded.content,
			note_type = excluded.note_type,
			updated_at = CURRENT_TIMESTAMP`,
		n.ID, n.Title, n.Content, n.WorkspaceID, n.Type)
	if err != nil {
		return fmt.Errorf("save note: %w", err)
	}
	return nil
}

func (s *Store) ListNotesByWorkspace(workspaceID string) ([]*Note, error) {
	rows, err := s.db.Query(`SELECT id, title, content, workspace_id, COALESCE(note_type, ''), created_at, updated_at
		FROM notes WHERE workspace_id = ? ORDER BY created_at`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("list notes: %w", err)
	}
	defer rows.Close()

	var notes []*Note
	for rows.Next() {
		n := &Note{}
		if err := rows.Scan(&n.ID, &n.Title, &n.Content, &n.WorkspaceID, &n.Type, &n.CreatedAt, &n.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan note: %w", err)
		}
		notes = append(notes, n)
	}
	return notes, rows.Err()
}

// GetNote returns nil when the note does not exist in the workspace.
func (s *Store) GetNote(id, workspaceID string) (*Note, error) {
	n := &Note{}
	err := s.db.QueryRow(`SELECT id, title, content, workspace_id, COALESCE(note_type, ''), created_at, updated_at
		FROM notes WHERE id = ? AND workspace_id = ?`, id, workspaceID).Scan(
		&n.ID, &n.Title, &n.Content, &n.WorkspaceID, &n.Type, &n.CreatedAt, &n.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get note: %w", err)
	}
	return n, nil
}
