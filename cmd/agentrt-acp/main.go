// Command agentrt-acp runs agentrt as an Agent Client Protocol server,
// speaking line-delimited JSON-RPC 2.0 over stdin/stdout.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/driftforge/agentrt/internal/acp"
	"github.com/driftforge/agentrt/internal/agent"
	agentctx "github.com/driftforge/agentrt/internal/agent/context"
	"github.com/driftforge/agentrt/internal/agent/providers"
	"github.com/driftforge/agentrt/internal/hooks"
	jobstore "github.com/driftforge/agentrt/internal/jobs"
	"github.com/driftforge/agentrt/internal/mcp"
	"github.com/driftforge/agentrt/internal/sessions"
	"github.com/driftforge/agentrt/internal/tools/exec"
	"github.com/driftforge/agentrt/internal/tools/files"
	jobtools "github.com/driftforge/agentrt/internal/tools/jobs"
	sessiontools "github.com/driftforge/agentrt/internal/tools/sessions"
	"github.com/driftforge/agentrt/internal/tools/subagent"
	"github.com/driftforge/agentrt/internal/tools/todos"
	"github.com/driftforge/agentrt/pkg/models"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("agentrt-acp exited with error", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	workspace, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("resolve workspace: %w", err)
	}

	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	if apiKey == "" {
		return fmt.Errorf("ANTHROPIC_API_KEY is required")
	}
	provider, err := providers.NewAnthropicProvider(providers.AnthropicConfig{APIKey: apiKey})
	if err != nil {
		return fmt.Errorf("construct provider: %w", err)
	}

	store := sessions.NewMemoryStore()
	todoStore := todos.NewStore()

	approvals := agent.NewApprovalChecker(nil)

	summarizeConfig := agentctx.DefaultSummarizationConfig()

	packer := agentctx.NewPacker(agentctx.DefaultPackOptions())
	compactionMgr := agent.NewCompactionManager(agent.DefaultCompactionConfig(), packer)
	compactionMgr.SetFlushCallback(func(ctx context.Context, sessionID, prompt string) error {
		return store.AppendMessage(ctx, sessionID, &models.Message{
			ID:        uuid.NewString(),
			SessionID: sessionID,
			Role:      models.RoleSystem,
			Content:   prompt,
			CreatedAt: time.Now(),
		})
	})
	compactionMgr.SetCompactionCallback(func(ctx context.Context, sessionID string, dropped int) error {
		compactionMgr.Reset(sessionID)
		return nil
	})

	jobs := jobstore.NewMemoryStore()

	config := agent.DefaultLoopConfig()
	config.ApprovalChecker = approvals
	config.SummarizeConfig = &summarizeConfig
	config.CompactionManager = compactionMgr
	config.JobStore = jobs
	runtime := agent.NewAgenticRuntime(provider, store, config)
	runtime.SetDefaultModel("claude-sonnet-4-20250514")
	runtime.SetSystemPrompt("You are agentrt, an agentic coding assistant.")

	registerTools(runtime, workspace, todoStore, jobs, store)
	runtime.RegisterTool(agent.NewCompactionTool(compactionMgr))

	if lifecycle, err := loadLifecycleHooks(ctx, workspace, logger); err != nil {
		logger.Warn("hook discovery failed, continuing without hooks", "error", err)
	} else {
		runtime.SetLifecycleHooks(lifecycle)
	}

	mcpManager := mcp.NewManager(&mcp.Config{Enabled: true}, logger)
	defer func() { _ = mcpManager.Stop() }()

	handler := acp.NewAgentHandler(runtime, store, todoStore, "agentrt")
	handler.SetMCPManager(mcpManager)
	server := acp.NewServer(os.Stdin, os.Stdout, handler, logger)
	approvals.SetSyncResolver(acp.NewPermissionResolver(server))

	logger.Info("agentrt-acp ready", "workspace", workspace)
	return server.Serve(ctx)
}

func registerTools(runtime *agent.AgenticRuntime, workspace string, todoStore *todos.Store, jobs jobstore.Store, store sessions.Store) {
	filesCfg := files.Config{Workspace: workspace, MaxReadBytes: files.MaxBytesPerReadOp}
	runtime.RegisterTool(files.NewReadTool(filesCfg))
	runtime.RegisterTool(files.NewWriteTool(filesCfg))
	runtime.RegisterTool(files.NewEditTool(filesCfg))
	runtime.RegisterTool(files.NewApplyPatchTool(filesCfg))
	runtime.RegisterTool(files.NewImageReadTool(filesCfg))

	execManager := exec.NewManager(workspace)
	runtime.RegisterTool(exec.NewExecTool("exec", execManager))
	runtime.RegisterTool(exec.NewProcessTool(execManager))

	runtime.RegisterTool(todos.NewWriteTool(todoStore))
	runtime.RegisterTool(todos.NewReadTool(todoStore))

	subagents := subagent.NewManager(runtime, 5)
	runtime.RegisterTool(subagent.NewSpawnTool(subagents))
	runtime.RegisterTool(subagent.NewStatusTool(subagents))
	runtime.RegisterTool(subagent.NewCancelTool(subagents))

	runtime.RegisterTool(jobtools.NewStatusTool(jobs))
	runtime.RegisterTool(jobtools.NewCancelTool(jobs))
	runtime.RegisterTool(jobtools.NewListTool(jobs))

	runtime.RegisterTool(sessiontools.NewListTool(store, "agentrt"))
	runtime.RegisterTool(sessiontools.NewHistoryTool(store))
	runtime.RegisterTool(sessiontools.NewStatusTool(store))
	runtime.RegisterTool(sessiontools.NewSendTool(store, runtime))
}

func loadLifecycleHooks(ctx context.Context, workspace string, logger *slog.Logger) (*hooks.LifecycleRunner, error) {
	sources := hooks.BuildDefaultSources(workspace, hooks.DefaultLocalPath(), "", nil)
	entries, err := hooks.DiscoverAll(ctx, sources)
	if err != nil {
		return nil, err
	}
	return hooks.NewLifecycleRunner(workspace, entries, logger), nil
}
