package store

import (
	"database/sql"
	"fmt"
)

// TaskStatus is the fixed task lifecycle vocabulary.
type TaskStatus string

const (
	TaskPending        TaskStatus = "PENDING"
	TaskInProgress     TaskStatus = "IN_PROGRESS"
	TaskReviewRequired TaskStatus = "REVIEW_REQUIRED"
	TaskCompleted      TaskStatus = "COMPLETED"
	TaskNeedsFix       TaskStatus = "NEEDS_FIX"
	TaskBlocked        TaskStatus = "BLOCKED"
	TaskCancelled      TaskStatus = "CANCELLED"
)

// ParseTaskStatus validates a status string.
func ParseTaskStatus(s string) (TaskStatus, bool) {
	switch TaskStatus(s) {
	case TaskPending, TaskInProgress, TaskReviewRequired, TaskCompleted,
		TaskNeedsFix, TaskBlocked, TaskCancelled:
		return TaskStatus(s), true
	}
	return "", false
}

type Task struct {
	ID              string `json:"id"`
	Title           string `json:"title"`
	Objective       string `json:"objective"`
	WorkspaceID     string `json:"workspaceId"`
	Scope           string `json:"scope,omitempty"`
	Status          string `json:"status"`
	AssignedAgentID string `json:"assignedAgentId,omitempty"`
	CreatedAt       string `json:"createdAt"`
	UpdatedAt       string `json:"updatedAt"`
}

func (s *Store) SaveTask(t *Task) error {
	if t.Status == "" {
		t.Status = string(TaskPending)
	}
	_, err := s.db.Exec(`INSERT INTO tasks (id, title, objective, workspace_id, scope, status, assigned_agent_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			objective = excluded.objective,
			scope = excluded.scope,
			status = excluded.status,
			assigned_agent_id = excluded.assigned_agent_id,
			updated_at = CURRENT_TIMESTAMP`,
		t.ID, t.Title, t.Objective, t.WorkspaceID, t.Scope, t.Status, t.AssignedAgentID)
	if err != nil {
		return fmt.Errorf("save task: %w", err)
	}
	return nil
}

func (s *Store) ListTasksByWorkspace(workspaceID string) ([]*Task, error) {
	rows, err := s.db.Query(`SELECT id, title, objective, workspace_id, COALESCE(scope, ''), status,
		COALESCE(assigned_agent_id, ''), created_at, updated_at
		FROM tasks WHERE workspace_id = ? ORDER BY created_at`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		t := &Task{}
		if err := rows.Scan(&t.ID, &t.Title, &t.Objective, &t.WorkspaceID, &t.Scope, &t.Status,
			&t.AssignedAgentID, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// UpdateTaskStatus moves a task to status and records the acting agent.
func (s *Store) UpdateTaskStatus(taskID string, status TaskStatus, agentID string) error {
	res, err := s.db.Exec(`UPDATE tasks SET status = ?, assigned_agent_id = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`, string(status), agentID, taskID)
	if err != nil {
		return fmt.Errorf("update task status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update task status: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("task not found: %s", taskID)
	}
	return nil
}

func (s *Store) GetTask(id string) (*Task, error) {
	t := &Task{}
	err := s.db.QueryRow(`SELECT id, title, objective, workspace_id, COALESCE(scope, ''), status,
		COALESCE(assigned_agent_id, ''), created_at, updated_at FROM tasks WHERE id = ?`, id).Scan(
		&t.ID, &t.Title, &t.Objective, &t.WorkspaceID, &t.Scope, &t.Status, &t.AssignedAgentID, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}
