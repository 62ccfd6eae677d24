package hooks

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// cappedBuffer stops accepting writes once it has captured limit bytes, but
// never errors the writer — callers observing Truncated() decide whether to
// kill the underlying process.
type cappedBuffer struct {
	limit     int
	buf       bytes.Buffer
	truncated bool
}

func (c *cappedBuffer) Write(p []byte) (int, error) {
	if c.buf.Len() >= c.limit {
		c.truncated = true
		return len(p), nil
	}
	remaining := c.limit - c.buf.Len()
	if len(p) > remaining {
		c.buf.Write(p[:remaining])
		c.truncated = true
		return len(p), nil
	}
	c.buf.Write(p)
	return len(p), nil
}

func (c *cappedBuffer) Truncated() bool { return c.truncated }
func (c *cappedBuffer) String() string  { return c.buf.String() }

// ShellHookResult is the outcome of running a hook's command.
type ShellHookResult struct {
	Output    string
	Truncated bool
	Err       error
}

type cachedResult struct {
	result    ShellHookResult
	expiresAt time.Time
}

// ShellHookRunner executes HookConfig.Command for discovered hooks, honoring
// timeout_ms, output_byte_cap, matcher, and cache_ttl_seconds.
type ShellHookRunner struct {
	workdir string

	mu    sync.Mutex
	cache map[string]cachedResult
}

// NewShellHookRunner creates a runner that executes hook commands with cwd
// set to workdir.
func NewShellHookRunner(workdir string) *ShellHookRunner {
	return &ShellHookRunner{
		workdir: workdir,
		cache:   make(map[string]cachedResult),
	}
}

// MatchesTool reports whether a hook's matcher glob accepts toolName. An
// empty matcher matches every tool.
func MatchesTool(matcher, toolName string) bool {
	if strings.TrimSpace(matcher) == "" {
		return true
	}
	ok, err := filepath.Match(matcher, toolName)
	if err != nil {
		return false
	}
	return ok
}

// Run executes the hook's command, honoring its timeout and byte cap. key
// identifies this invocation for caching (e.g. "agent.spawn" or
// "tool.pre_execution:exec"); empty key disables caching regardless of
// CacheTTLSeconds.
func (r *ShellHookRunner) Run(ctx context.Context, entry *HookEntry, key string, env []string) ShellHookResult {
	cfg := entry.Config

	if key != "" && cfg.CacheTTLSeconds > 0 {
		if cached, ok := r.lookupCache(key); ok {
			return cached
		}
	}

	timeout := time.Duration(cfg.TimeoutMS) * time.Millisecond
	if timeout <= 0 {
		timeout = DefaultHookTimeoutMS * time.Millisecond
	}
	cap := cfg.OutputByteCap
	if cap <= 0 {
		cap = DefaultHookOutputByteCap
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "sh", "-c", cfg.Command)
	if r.workdir != "" {
		cmd.Dir = r.workdir
	}
	if len(env) > 0 {
		cmd.Env = append(cmd.Environ(), env...)
	}

	stdout := &cappedBuffer{limit: cap}
	stderr := &cappedBuffer{limit: cap}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	err := cmd.Run()
	result := ShellHookResult{Output: stdout.String(), Truncated: stdout.Truncated()}
	if runCtx.Err() != nil {
		result.Err = fmt.Errorf("hook %q timed out after %s: %w", cfg.Name, timeout, runCtx.Err())
	} else if err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			result.Err = fmt.Errorf("hook %q failed: %w: %s", cfg.Name, err, msg)
		} else {
			result.Err = fmt.Errorf("hook %q failed: %w", cfg.Name, err)
		}
	}

	if key != "" && cfg.CacheTTLSeconds > 0 && result.Err == nil {
		r.storeCache(key, result, time.Duration(cfg.CacheTTLSeconds)*time.Second)
	}

	return result
}

func (r *ShellHookRunner) lookupCache(key string) (ShellHookResult, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.cache[key]
	if !ok || time.Now().After(entry.expiresAt) {
		return ShellHookResult{}, false
	}
	return entry.result, true
}

func (r *ShellHookRunner) storeCache(key string, result ShellHookResult, ttl time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache[key] = cachedResult{result: result, expiresAt: time.Now().Add(ttl)}
}
