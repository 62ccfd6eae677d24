package todos

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/driftforge/agentrt/internal/agent"
)

// WriteTool replaces the session's to-do list.
type WriteTool struct {
	store *Store
}

// NewWriteTool creates a todo_write tool backed by store.
func NewWriteTool(store *Store) *WriteTool {
	return &WriteTool{store: store}
}

func (t *WriteTool) Name() string { return "todo_write" }

func (t *WriteTool) Description() string {
	return "Replace the session's to-do list with the given items. Submit the full, current plan on every call."
}

func (t *WriteTool) Schema() json.RawMessage {
	schema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"items": map[string]interface{}{
				"type": "array",
				"items": map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"id":      map[string]interface{}{"type": "string"},
						"content": map[string]interface{}{"type": "string"},
						"status":  map[string]interface{}{"type": "string", "enum": []string{"pending", "in_progress", "completed"}},
					},
					"required": []string{"content", "status"},
				},
			},
		},
		"required": []string{"items"},
	}
	payload, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}

func (t *WriteTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	if t.store == nil {
		return toolError("todo store unavailable"), nil
	}

	var input struct {
		Items []struct {
			ID      string `json:"id"`
			Content string `json:"content"`
			Status  string `json:"status"`
		} `json:"items"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("Invalid parameters: %v", err)), nil
	}

	sessionID := sessionIDFromContext(ctx)
	if sessionID == "" {
		return toolError("no active session"), nil
	}

	now := time.Now()
	items := make([]Item, 0, len(input.Items))
	for i, in := range input.Items {
		if strings.TrimSpace(in.Content) == "" {
			return toolError(fmt.Sprintf("items[%d].content is required", i)), nil
		}
		status := Status(in.Status)
		switch status {
		case StatusPending, StatusInProgress, StatusCompleted:
		default:
			return toolError(fmt.Sprintf("items[%d].status must be one of pending, in_progress, completed", i)), nil
		}
		id := in.ID
		if id == "" {
			id = fmt.Sprintf("todo-%d", i+1)
		}
		items = append(items, Item{ID: id, Content: in.Content, Status: status, UpdatedAt: now})
	}

	t.store.Replace(sessionID, items)

	payload, _ := json.MarshalIndent(map[string]interface{}{"count": len(items)}, "", "  ")
	return &agent.ToolResult{Content: string(payload)}, nil
}

// ReadTool returns the session's current to-do list.
type ReadTool struct {
	store *Store
}

// NewReadTool creates a todo_read tool backed by store.
func NewReadTool(store *Store) *ReadTool {
	return &ReadTool{store: store}
}

func (t *ReadTool) Name() string { return "todo_read" }

func (t *ReadTool) Description() string {
	return "Read the session's current to-do list."
}

func (t *ReadTool) Schema() json.RawMessage {
	return json.RawMessage(`{"type":"object","properties":{}}`)
}

func (t *ReadTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	if t.store == nil {
		return toolError("todo store unavailable"), nil
	}
	sessionID := sessionIDFromContext(ctx)
	if sessionID == "" {
		return toolError("no active session"), nil
	}

	items := t.store.Get(sessionID)
	payload, err := json.MarshalIndent(map[string]interface{}{"items": items}, "", "  ")
	if err != nil {
		return toolError(fmt.Sprintf("encode result: %v", err)), nil
	}
	return &agent.ToolResult{Content: string(payload)}, nil
}

func sessionIDFromContext(ctx context.Context) string {
	if session := agent.SessionFromContext(ctx); session != nil {
		return session.ID
	}
	return ""
}

func toolError(message string) *agent.ToolResult {
	payload, err := json.Marshal(map[string]string{"error": message})
	if err != nil {
		return &agent.ToolResult{Content: message, IsError: true}
	}
	return &agent.ToolResult{Content: string(payload), IsError: true}
}
