package acp

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/driftforge/agentrt/internal/agent"
	"github.com/driftforge/agentrt/internal/mcp"
	"github.com/driftforge/agentrt/internal/sessions"
	"github.com/driftforge/agentrt/internal/tools/todos"
	"github.com/driftforge/agentrt/pkg/models"
)

// AgentHandler adapts an agentrt Runtime to the ACP Handler interface,
// translating session/prompt turns into AgenticRuntime.Process calls and
// streaming ResponseChunks back out as session/update notifications.
type AgentHandler struct {
	runtime   *agent.AgenticRuntime
	sessions  sessions.Store
	todos     *todos.Store
	agentName string
	mcp       *mcp.Manager
}

// NewAgentHandler creates a Handler backed by runtime, persisting sessions
// in store and surfacing todo_write/todo_read state via todoStore.
func NewAgentHandler(runtime *agent.AgenticRuntime, store sessions.Store, todoStore *todos.Store, agentName string) *AgentHandler {
	if agentName == "" {
		agentName = "agentrt"
	}
	return &AgentHandler{
		runtime:   runtime,
		sessions:  store,
		todos:     todoStore,
		agentName: agentName,
	}
}

// SetMCPManager attaches the MCP manager used to connect servers a client
// requests via newSession's mcpServers field. Nil (the default) means
// sessions cannot bring their own MCP servers.
func (h *AgentHandler) SetMCPManager(mgr *mcp.Manager) {
	h.mcp = mgr
}

// Initialize answers the protocol handshake with agentrt's capabilities.
func (h *AgentHandler) Initialize(ctx context.Context, params InitializeParams) (InitializeResult, error) {
	return InitializeResult{
		ProtocolVersion: 1,
		AgentInfo: map[string]interface{}{
			"name":    h.agentName,
			"version": "0.1.0",
		},
		Capabilities: map[string]bool{
			"loadSession":        true,
			"promptCapabilities": true,
			"cancel":             true,
		},
	}, nil
}

// Authenticate is a no-op: agentrt's ACP adapter trusts its local transport
// and leaves real credential handling to whatever spawns the process.
func (h *AgentHandler) Authenticate(ctx context.Context, params AuthenticateParams) error {
	return nil
}

// NewSession creates a fresh session keyed by a generated ID and returns it.
func (h *AgentHandler) NewSession(ctx context.Context, params NewSessionParams) (NewSessionResult, error) {
	session, err := h.sessions.GetOrCreate(ctx, sessionKey(params.Metadata), h.agentName, models.ChannelACP, "")
	if err != nil {
		return NewSessionResult{}, fmt.Errorf("create session: %w", err)
	}
	if params.WorkspaceRoot != "" {
		if session.Metadata == nil {
			session.Metadata = make(map[string]any)
		}
		session.Metadata["workspace_root"] = params.WorkspaceRoot
		if err := h.sessions.Update(ctx, session); err != nil {
			return NewSessionResult{}, fmt.Errorf("store session workspace: %w", err)
		}
	}
	if len(params.MCPServers) > 0 {
		if h.mcp == nil {
			return NewSessionResult{}, fmt.Errorf("session requested mcpServers but no MCP manager is configured")
		}
		if err := h.connectMCPServers(ctx, params.MCPServers); err != nil {
			return NewSessionResult{}, err
		}
	}
	return NewSessionResult{SessionID: session.ID}, nil
}

// connectMCPServers adds and connects each requested server to the shared
// MCP manager, then registers any newly discovered tools into the runtime's
// catalog. Servers already connected are left alone; a server that fails to
// connect is reported but does not prevent the others from registering.
func (h *AgentHandler) connectMCPServers(ctx context.Context, servers []MCPServerParam) error {
	var errs []string
	for _, s := range servers {
		cfg := &mcp.ServerConfig{
			ID:        s.Name,
			Name:      s.Name,
			Transport: mcp.TransportType(s.Transport),
			Command:   s.Command,
			Args:      s.Args,
			Env:       s.Env,
			WorkDir:   s.WorkDir,
			URL:       s.URL,
			Headers:   s.Headers,
			AutoStart: true,
		}
		if cfg.Transport == "" {
			if cfg.URL != "" {
				cfg.Transport = mcp.TransportHTTP
			} else {
				cfg.Transport = mcp.TransportStdio
			}
		}
		if err := h.mcp.AddServer(cfg); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name, err))
			continue
		}
		if err := h.mcp.Connect(ctx, cfg.ID); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", s.Name, err))
			continue
		}
	}

	mcp.RegisterTools(h.runtime, h.mcp)

	if len(errs) > 0 {
		return fmt.Errorf("mcp server connect failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// LoadSession verifies a previously created session still exists.
func (h *AgentHandler) LoadSession(ctx context.Context, params LoadSessionParams) error {
	_, err := h.sessions.Get(ctx, params.SessionID)
	if err != nil {
		return fmt.Errorf("load session %s: %w", params.SessionID, err)
	}
	return nil
}

// Cancel is handled by the Server cancelling the turn's context; nothing
// further is required here beyond confirming the session exists.
func (h *AgentHandler) Cancel(ctx context.Context, params CancelParams) error {
	_, err := h.sessions.Get(ctx, params.SessionID)
	return err
}

// SetSessionMode maps an ACP mode string onto agentrt's elevated-execution
// context key, consumed by the runtime on the next Prompt call.
func (h *AgentHandler) SetSessionMode(ctx context.Context, params SetSessionModeParams) error {
	if _, ok := agent.ParseElevatedMode(params.Mode); !ok {
		return fmt.Errorf("unknown session mode %q", params.Mode)
	}
	return nil
}

// Prompt runs one user turn through the agentic runtime, translating each
// ResponseChunk into a session/update notification via updates.
func (h *AgentHandler) Prompt(ctx context.Context, params PromptParams, updates func(SessionUpdateParams)) (PromptResult, error) {
	session, err := h.sessions.Get(ctx, params.SessionID)
	if err != nil {
		return PromptResult{}, fmt.Errorf("unknown session %s: %w", params.SessionID, err)
	}

	msg := &models.Message{
		SessionID: session.ID,
		Channel:   models.ChannelACP,
		Direction: models.DirectionInbound,
		Role:      models.RoleUser,
		Content:   joinPromptText(params.Prompt),
	}
	for _, block := range params.Prompt {
		if block.Type == "image" && block.Path != "" {
			msg.Attachments = append(msg.Attachments, models.Attachment{
				Type:     "image",
				URL:      block.Path,
				MimeType: block.MimeType,
			})
		}
	}

	chunks, err := h.runtime.Process(ctx, session, msg)
	if err != nil {
		return PromptResult{}, err
	}

	stop := StopReasonEndTurn
	for chunk := range chunks {
		if chunk.Error != nil {
			if ctx.Err() != nil {
				stop = StopReasonCancelled
				break
			}
			return PromptResult{}, chunk.Error
		}
		if chunk.Thinking != "" {
			updates(SessionUpdateParams{SessionID: session.ID, Update: SessionUpdateThinkingChunk, Content: chunk.Thinking})
		}
		if chunk.Text != "" {
			updates(SessionUpdateParams{SessionID: session.ID, Update: SessionUpdateMessageChunk, Content: chunk.Text})
		}
		if chunk.ToolEvent != nil {
			updates(SessionUpdateParams{
				SessionID: session.ID,
				Update:    SessionUpdateToolCallUpdate,
				ToolCall:  toolCallInfoFromEvent(chunk.ToolEvent),
			})
		}
	}

	h.emitPlan(session.ID, updates)

	return PromptResult{StopReason: stop}, nil
}

func (h *AgentHandler) emitPlan(sessionID string, updates func(SessionUpdateParams)) {
	if h.todos == nil {
		return
	}
	items := h.todos.Get(sessionID)
	if len(items) == 0 {
		return
	}
	plan := make([]PlanEntry, 0, len(items))
	for _, item := range items {
		plan = append(plan, PlanEntry{Content: item.Content, Status: string(item.Status)})
	}
	updates(SessionUpdateParams{SessionID: sessionID, Update: SessionUpdatePlan, Plan: plan})
}

func toolCallInfoFromEvent(event *models.ToolEvent) *ToolCallInfo {
	info := &ToolCallInfo{
		ID:     event.ToolCallID,
		Title:  event.ToolName,
		Kind:   classifyToolKind(event.ToolName),
		Status: toolCallStatusFromStage(event.Stage),
	}
	if event.Output != "" {
		info.Content = event.Output
	}
	if event.Error != "" {
		info.Error = event.Error
	}
	return info
}

func toolCallStatusFromStage(stage models.ToolEventStage) ToolCallStatus {
	switch stage {
	case models.ToolEventStarted, models.ToolEventRetrying:
		return ToolCallStatusInProgress
	case models.ToolEventSucceeded:
		return ToolCallStatusCompleted
	case models.ToolEventFailed, models.ToolEventDenied:
		return ToolCallStatusFailed
	default:
		return ToolCallStatusPending
	}
}

func classifyToolKind(toolName string) ToolKind {
	switch {
	case strings.Contains(toolName, "read"):
		return ToolKindRead
	case strings.Contains(toolName, "write"), strings.Contains(toolName, "edit"), strings.Contains(toolName, "patch"):
		return ToolKindWrite
	case strings.Contains(toolName, "exec"), strings.Contains(toolName, "shell"), strings.Contains(toolName, "bash"):
		return ToolKindExecute
	case strings.Contains(toolName, "search"), strings.Contains(toolName, "grep"), strings.Contains(toolName, "glob"):
		return ToolKindSearch
	default:
		return ToolKindOther
	}
}

func joinPromptText(blocks []PromptContent) string {
	var b strings.Builder
	for i, block := range blocks {
		if block.Type != "text" {
			continue
		}
		if i > 0 && b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString(block.Text)
	}
	return b.String()
}

func sessionKey(metadata map[string]string) string {
	if key, ok := metadata["key"]; ok && key != "" {
		return key
	}
	return fmt.Sprintf("acp-%d", sessionSeq.next())
}

var sessionSeq sequence

type sequence struct {
	mu sync.Mutex
	n  int64
}

func (s *sequence) next() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return s.n
}

var _ Handler = (*AgentHandler)(nil)
