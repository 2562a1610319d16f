package store

import (
	"path/filepath"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestMigrationsSeedDefaultWorkspace(t *testing.T) {
	s := newTestStore(t)

	ws, err := s.ListWorkspaces()
	if err != nil {
		t.Fatalf("ListWorkspaces: %v", err)
	}
	if len(ws) != 1 || ws[0].ID != "default" {
		t.Fatalf("workspaces = %+v, want just default", ws)
	}

	got, err := s.GetWorkspace("default")
	if err != nil || got == nil {
		t.Fatalf("GetWorkspace: %v, %v", got, err)
	}
	if missing, err := s.GetWorkspace("nope"); err != nil || missing != nil {
		t.Errorf("GetWorkspace(nope) = %+v, %v; want nil, nil", missing, err)
	}
}

func TestAgentCRUD(t *testing.T) {
	s := newTestStore(t)

	a := &Agent{ID: "a1", Name: "scout", Role: string(RoleCrafter), WorkspaceID: "default"}
	if err := s.SaveAgent(a); err != nil {
		t.Fatalf("SaveAgent: %v", err)
	}

	// Upsert by id.
	a.Name = "scout-2"
	if err := s.SaveAgent(a); err != nil {
		t.Fatalf("SaveAgent upsert: %v", err)
	}

	agents, err := s.ListAgentsByWorkspace("default")
	if err != nil {
		t.Fatalf("ListAgentsByWorkspace: %v", err)
	}
	if len(agents) != 1 || agents[0].Name != "scout-2" {
		t.Errorf("agents = %+v", agents)
	}

	got, err := s.GetAgent("a1")
	if err != nil || got == nil || got.Role != string(RoleCrafter) {
		t.Errorf("GetAgent = %+v, %v", got, err)
	}
	if missing, err := s.GetAgent("ghost"); err != nil || missing != nil {
		t.Errorf("GetAgent(ghost) = %+v, %v; want nil, nil", missing, err)
	}
}

func TestParseAgentRole(t *testing.T) {
	for _, valid := range []string{"CRAFTER", "GATE", "ROUTA"} {
		if _, ok := ParseAgentRole(valid); !ok {
			t.Errorf("role %s rejected", valid)
		}
	}
	if _, ok := ParseAgentRole("WIZARD"); ok {
		t.Error("invalid role accepted")
	}
}

func TestTaskStatusFlow(t *testing.T) {
	s := newTestStore(t)

	task := &Task{ID: "t1", Title: "Ship", Objective: "release", WorkspaceID: "default"}
	if err := s.SaveTask(task); err != nil {
		t.Fatalf("SaveTask: %v", err)
	}

	got, err := s.GetTask("t1")
	if err != nil || got == nil {
		t.Fatalf("GetTask: %+v, %v", got, err)
	}
	if got.Status != string(TaskPending) {
		t.Errorf("new task status = %q, want PENDING", got.Status)
	}

	if err := s.UpdateTaskStatus("t1", TaskInProgress, "a1"); err != nil {
		t.Fatalf("UpdateTaskStatus: %v", err)
	}
	got, _ = s.GetTask("t1")
	if got.Status != string(TaskInProgress) || got.AssignedAgentID != "a1" {
		t.Errorf("after update: %+v", got)
	}

	if err := s.UpdateTaskStatus("missing", TaskCompleted, "a1"); err == nil {
		t.Error("updating a missing task should fail")
	}

	tasks, err := s.ListTasksByWorkspace("default")
	if err != nil || len(tasks) != 1 {
		t.Errorf("ListTasksByWorkspace = %d tasks, %v", len(tasks), err)
	}
}

func TestParseTaskStatus(t *testing.T) {
	for _, valid := range []string{"PENDING", "IN_PROGRESS", "REVIEW_REQUIRED", "COMPLETED", "NEEDS_FIX", "BLOCKED", "CANCELLED"} {
		if _, ok := ParseTaskStatus(valid); !ok {
			t.Errorf("status %s rejected", valid)
		}
	}
	if _, ok := ParseTaskStatus("DONEISH"); ok {
		t.Error("invalid status accepted")
	}
}

func TestNoteUpsertAndGet(t *testing.T) {
	s := newTestStore(t)

	n := &Note{ID: "n1", Title: "Plan", Content: "step one", WorkspaceID: "default"}
	if err := s.SaveNote(n); err != nil {
		t.Fatalf("SaveNote: %v", err)
	}

	n.Content = "step two"
	if err := s.SaveNote(n); err != nil {
		t.Fatalf("SaveNote upsert: %v", err)
	}

	got, err := s.GetNote("n1", "default")
	if err != nil || got == nil {
		t.Fatalf("GetNote: %+v, %v", got, err)
	}
	if got.Content != "step two" {
		t.Errorf("content = %q", got.Content)
	}

	// Wrong workspace or unknown id both come back nil without error.
	if miss, err := s.GetNote("n1", "other"); err != nil || miss != nil {
		t.Errorf("GetNote wrong workspace = %+v, %v", miss, err)
	}
	if miss, err := s.GetNote("ghost", "default"); err != nil || miss != nil {
		t.Errorf("GetNote ghost = %+v, %v", miss, err)
	}

	notes, err := s.ListNotesByWorkspace("default")
	if err != nil || len(notes) != 1 {
		t.Errorf("ListNotesByWorkspace = %d notes, %v", len(notes), err)
	}
}
