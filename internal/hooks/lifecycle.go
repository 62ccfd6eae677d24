package hooks

import (
	"context"
	"fmt"
	"log/slog"
)

// Sentinel headers bracketing hook output inserted into conversation
// context entries.
const (
	sentinelOpen  = "<hook-output>"
	sentinelClose = "</hook-output>"
)

// LifecycleRunner discovers and runs the shell-command hooks named by the
// runtime's lifecycle points: AgentSpawn, UserPromptSubmit, and the
// pre/post-tool-use pair.
type LifecycleRunner struct {
	runner *ShellHookRunner
	hooks  []*HookEntry
	logger *slog.Logger
}

// NewLifecycleRunner builds a runner over the given discovered hooks.
func NewLifecycleRunner(workdir string, hooks []*HookEntry, logger *slog.Logger) *LifecycleRunner {
	if logger == nil {
		logger = slog.Default()
	}
	return &LifecycleRunner{
		runner: NewShellHookRunner(workdir),
		hooks:  hooks,
		logger: logger.With("component", "hooks-lifecycle"),
	}
}

func (lr *LifecycleRunner) forEvent(event EventType) []*HookEntry {
	var matched []*HookEntry
	for _, h := range lr.hooks {
		for _, e := range h.Config.Events {
			if e == string(event) {
				matched = append(matched, h)
				break
			}
		}
	}
	return matched
}

// RunAgentSpawn runs every AgentSpawn hook once and returns their combined,
// sentinel-bracketed output (empty string if no hook fired or produced
// output).
func (lr *LifecycleRunner) RunAgentSpawn(ctx context.Context, sessionID string) string {
	return lr.runAll(ctx, EventAgentSpawn, "agent.spawn:"+sessionID, nil)
}

// RunUserPromptSubmit runs every UserPromptSubmit hook before a prompt is
// sent to the model and returns their combined, sentinel-bracketed output.
func (lr *LifecycleRunner) RunUserPromptSubmit(ctx context.Context, sessionID string, turn int) string {
	return lr.runAll(ctx, EventUserPromptSubmit, fmt.Sprintf("agent.user_prompt_submit:%s:%d", sessionID, turn), nil)
}

// RunPreToolUse runs hooks whose matcher accepts toolName before execution.
func (lr *LifecycleRunner) RunPreToolUse(ctx context.Context, toolName string) string {
	return lr.runMatched(ctx, EventToolPreExecution, toolName)
}

// RunPostToolUse runs hooks whose matcher accepts toolName after execution.
func (lr *LifecycleRunner) RunPostToolUse(ctx context.Context, toolName string) string {
	return lr.runMatched(ctx, EventToolPostExecution, toolName)
}

func (lr *LifecycleRunner) runMatched(ctx context.Context, event EventType, toolName string) string {
	var blocks []string
	for _, h := range lr.forEvent(event) {
		if !MatchesTool(h.Config.Matcher, toolName) {
			continue
		}
		key := fmt.Sprintf("%s:%s:%s", event, h.Config.Name, toolName)
		result := lr.runner.Run(ctx, h, key, []string{"AGENTRT_TOOL_NAME=" + toolName})
		if result.Err != nil {
			lr.logger.Warn("hook failed", "hook", h.Config.Name, "event", event, "tool", toolName, "error", result.Err)
			continue
		}
		if result.Output == "" {
			continue
		}
		blocks = append(blocks, wrapSentinel(h.Config.Name, result.Output, result.Truncated))
	}
	return joinBlocks(blocks)
}

func (lr *LifecycleRunner) runAll(ctx context.Context, event EventType, key string, env []string) string {
	var blocks []string
	for _, h := range lr.forEvent(event) {
		hookKey := key + ":" + h.Config.Name
		result := lr.runner.Run(ctx, h, hookKey, env)
		if result.Err != nil {
			lr.logger.Warn("hook failed", "hook", h.Config.Name, "event", event, "error", result.Err)
			continue
		}
		if result.Output == "" {
			continue
		}
		blocks = append(blocks, wrapSentinel(h.Config.Name, result.Output, result.Truncated))
	}
	return joinBlocks(blocks)
}

func wrapSentinel(hookName, output string, truncated bool) string {
	if truncated {
		return fmt.Sprintf("%s name=%q truncated=true\n%s\n%s", sentinelOpen, hookName, output, sentinelClose)
	}
	return fmt.Sprintf("%s name=%q\n%s\n%s", sentinelOpen, hookName, output, sentinelClose)
}

func joinBlocks(blocks []string) string {
	out := ""
	for i, b := range blocks {
		if i > 0 {
			out += "\n"
		}
		out += b
	}
	return out
}
