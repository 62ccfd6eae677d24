package acp

import (
	"context"

	"github.com/driftforge/agentrt/internal/agent"
	"github.com/driftforge/agentrt/pkg/models"
)

// NewPermissionResolver adapts a Server's RequestPermission round trip into
// an agent.SyncResolver: a tool call left Pending by static policy blocks
// the turn until the client answers, instead of being queued for a poller
// that has nothing to poll over a single JSON-RPC duplex.
func NewPermissionResolver(server *Server) agent.SyncResolver {
	return func(ctx context.Context, agentID, sessionID string, toolCall models.ToolCall, reason string) (agent.ApprovalDecision, string) {
		result, err := server.RequestPermission(ctx, RequestPermissionParams{
			SessionID: sessionID,
			ToolCall: ToolCallInfo{
				ID:     toolCall.ID,
				Title:  toolCall.Name,
				Kind:   classifyToolKind(toolCall.Name),
				Status: ToolCallStatusPending,
			},
			Options: []string{"allow", "allow_always", "deny", "deny_always"},
		})
		if err != nil {
			return agent.ApprovalDenied, "permission request failed: " + err.Error()
		}
		switch result.Outcome {
		case "allow", "allow_always":
			return agent.ApprovalAllowed, "approved by client: " + reason
		default:
			return agent.ApprovalDenied, "denied by client: " + reason
		}
	}
}
