package server

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/ehrlich-b/perch/internal/store"
)

type toolDef struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

type toolContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type toolResult struct {
	IsError bool          `json:"isError,omitempty"`
	Content []toolContent `json:"content"`
}

func toolText(text string) toolResult {
	return toolResult{Content: []toolContent{{Type: "text", Text: text}}}
}

func toolError(msg string) toolResult {
	return toolResult{IsError: true, Content: []toolContent{{Type: "text", Text: msg}}}
}

func objSchema(props map[string]any, required ...string) map[string]any {
	schema := map[string]any{"type": "object", "properties": props}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

func strProp(desc string) map[string]any {
	p := map[string]any{"type": "string"}
	if desc != "" {
		p["description"] = desc
	}
	return p
}

// The catalog is fixed; clients cannot register tools.
func toolCatalog() []toolDef {
	return []toolDef{
		{"list_agents", "List all agents in the workspace", objSchema(map[string]any{
			"workspaceId": strProp("Workspace ID (default if omitted)"),
		})},
		{"create_agent", "Create a new agent", objSchema(map[string]any{
			"name":        strProp("Agent name"),
			"role":        strProp("Agent role (CRAFTER, GATE, ROUTA, etc.)"),
			"workspaceId": strProp(""),
		}, "name", "role")},
		{"list_tasks", "List all tasks in the workspace", objSchema(map[string]any{
			"workspaceId": strProp(""),
		})},
		{"create_task", "Create a new task", objSchema(map[string]any{
			"title":       strProp(""),
			"objective":   strProp(""),
			"workspaceId": strProp(""),
			"scope":       strProp(""),
		}, "title", "objective")},
		{"update_task_status", "Update a task's status", objSchema(map[string]any{
			"taskId": strProp(""),
			"status": map[string]any{"type": "string", "enum": []string{
				"PENDING", "IN_PROGRESS", "REVIEW_REQUIRED", "COMPLETED", "NEEDS_FIX", "BLOCKED", "CANCELLED",
			}},
			"agentId": strProp(""),
		}, "taskId", "status", "agentId")},
		{"list_notes", "List all notes in the workspace", objSchema(map[string]any{
			"workspaceId": strProp(""),
		})},
		{"create_note", "Create or update a note", objSchema(map[string]any{
			"noteId":      strProp(""),
			"title":       strProp(""),
			"content":     strProp(""),
			"workspaceId": strProp(""),
			"type":        strProp(""),
		}, "title")},
		{"read_note", "Read a note by ID", objSchema(map[string]any{
			"noteId":      strProp(""),
			"workspaceId": strProp(""),
		}, "noteId")},
		{"list_workspaces", "List all workspaces", objSchema(map[string]any{})},
		{"list_skills", "List all discovered skills", objSchema(map[string]any{})},
	}
}

func strArg(args map[string]any, key, fallback string) string {
	if v, ok := args[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

// executeTool never fails at the RPC level: bad arguments and store errors
// come back as isError results the client renders inline.
func (s *Server) executeTool(name string, args map[string]any) toolResult {
	workspaceID := strArg(args, "workspaceId", "default")

	switch name {
	case "list_agents":
		agents, err := s.store.ListAgentsByWorkspace(workspaceID)
		if err != nil {
			return toolError(err.Error())
		}
		return toolText(marshalPretty(agents))

	case "create_agent":
		roleStr := strArg(args, "role", "CRAFTER")
		role, ok := store.ParseAgentRole(roleStr)
		if !ok {
			return toolError(fmt.Sprintf("Invalid role: %s", roleStr))
		}
		agent := &store.Agent{
			ID:          uuid.NewString(),
			Name:        strArg(args, "name", "unnamed"),
			Role:        string(role),
			WorkspaceID: workspaceID,
		}
		if err := s.store.SaveAgent(agent); err != nil {
			return toolError(err.Error())
		}
		return toolText(fmt.Sprintf("Created agent: %s", agent.ID))

	case "list_tasks":
		tasks, err := s.store.ListTasksByWorkspace(workspaceID)
		if err != nil {
			return toolError(err.Error())
		}
		return toolText(marshalPretty(tasks))

	case "create_task":
		task := &store.Task{
			ID:          uuid.NewString(),
			Title:       strArg(args, "title", "Untitled"),
			Objective:   strArg(args, "objective", ""),
			WorkspaceID: workspaceID,
			Scope:       strArg(args, "scope", ""),
		}
		if err := s.store.SaveTask(task); err != nil {
			return toolError(err.Error())
		}
		return toolText(fmt.Sprintf("Created task: %s", task.ID))

	case "update_task_status":
		taskID := strArg(args, "taskId", "")
		statusStr := strArg(args, "status", "")
		status, ok := store.ParseTaskStatus(statusStr)
		if !ok {
			return toolError(fmt.Sprintf("Invalid status: %s", statusStr))
		}
		if err := s.store.UpdateTaskStatus(taskID, status, strArg(args, "agentId", "")); err != nil {
			return toolError(err.Error())
		}
		return toolText(fmt.Sprintf("Updated task %s to %s", taskID, statusStr))

	case "list_notes":
		notes, err := s.store.ListNotesByWorkspace(workspaceID)
		if err != nil {
			return toolError(err.Error())
		}
		return toolText(marshalPretty(notes))

	case "create_note":
		noteID := strArg(args, "noteId", "")
		if noteID == "" {
			noteID = uuid.NewString()
		}
		note := &store.Note{
			ID:          noteID,
			Title:       strArg(args, "title", "Untitled"),
			Content:     strArg(args, "content", ""),
			WorkspaceID: workspaceID,
			Type:        strArg(args, "type", ""),
		}
		if err := s.store.SaveNote(note); err != nil {
			return toolError(err.Error())
		}
		return toolText(fmt.Sprintf("Created note: %s", note.ID))

	case "read_note":
		noteID := strArg(args, "noteId", "")
		note, err := s.store.GetNote(noteID, workspaceID)
		if err != nil {
			return toolError(err.Error())
		}
		if note == nil {
			return toolError(fmt.Sprintf("Note not found: %s", noteID))
		}
		return toolText(marshalPretty(note))

	case "list_workspaces":
		workspaces, err := s.store.ListWorkspaces()
		if err != nil {
			return toolError(err.Error())
		}
		return toolText(marshalPretty(workspaces))

	case "list_skills":
		return toolText(marshalPretty(s.skills.List()))

	default:
		return toolError(fmt.Sprintf("Unknown tool: %s", name))
	}
}

func marshalPretty(v any) string {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return ""
	}
	return string(data)
}
