package files

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/driftforge/agentrt/internal/agent"
)

// Config controls filesystem tool defaults.
type Config struct {
	Workspace    string
	MaxReadBytes int
}

// MaxBytesPerReadOp is the hard per-operation cap on bytes read from disk,
// regardless of any caller-supplied max_bytes. Reading halts once this many
// bytes have been accumulated, even mid-line.
const MaxBytesPerReadOp = 256 * 1024

// TruncationMarker is appended to a read result's content when the file's
// content was cut off, either by the line limit or the byte cap.
const TruncationMarker = "\n... [output truncated]"

// ReadTool implements a safe, line-oriented file reader.
type ReadTool struct {
	resolver   Resolver
	maxReadLen int
}

// NewReadTool creates a read tool scoped to the workspace.
func NewReadTool(cfg Config) *ReadTool {
	limit := cfg.MaxReadBytes
	if limit <= 0 || limit > MaxBytesPerReadOp {
		limit = MaxBytesPerReadOp
	}
	return &ReadTool{
		resolver:   Resolver{Root: cfg.Workspace},
		maxReadLen: limit,
	}
}

// Name returns the tool name.
func (t *ReadTool) Name() string {
	return "read"
}

// Description returns the tool description.
func (t *ReadTool) Description() string {
	return "Read a file from the workspace line-by-line, with optional starting line and line limit."
}

// Schema returns the JSON schema for the tool parameters.
func (t *ReadTool) Schema() json.RawMessage {
	schema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Path to the file (relative to workspace).",
			},
			"offset": map[string]interface{}{
				"type":        "integer",
				"description": "1-indexed line number to start reading from (default: 1).",
				"minimum":     1,
			},
			"limit": map[string]interface{}{
				"type":        "integer",
				"description": "Maximum number of lines to read.",
				"minimum":     0,
			},
		},
		"required": []string{"path"},
	}
	payload, err := json.Marshal(schema)
	if err != nil {
		return json.RawMessage(`{"type":"object"}`)
	}
	return payload
}

// Execute reads a file line-by-line, halting once MaxBytesPerReadOp bytes
// have been accumulated for this single call.
func (t *ReadTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		Path   string `json:"path"`
		Offset int    `json:"offset"`
		Limit  int    `json:"limit"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("Invalid parameters: %v", err)), nil
	}
	if strings.TrimSpace(input.Path) == "" {
		return toolError("path is required"), nil
	}
	if input.Offset < 0 {
		return toolError("offset must be >= 0"), nil
	}
	startLine := input.Offset
	if startLine == 0 {
		startLine = 1
	}

	resolved, err := t.resolver.Resolve(input.Path)
	if err != nil {
		return toolError(err.Error()), nil
	}

	info, err := os.Stat(resolved)
	if err != nil {
		return toolError(fmt.Sprintf("stat file: %v", err)), nil
	}
	if info.IsDir() {
		return toolError(fmt.Sprintf("%s is a directory, not a file", input.Path)), nil
	}

	file, err := os.Open(resolved)
	if err != nil {
		return toolError(fmt.Sprintf("open file: %v", err)), nil
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var b strings.Builder
	bytesRead := 0
	lineNum := 0
	linesEmitted := 0
	truncated := false

readLoop:
	for scanner.Scan() {
		lineNum++
		if lineNum < startLine {
			continue
		}
		if input.Limit > 0 && linesEmitted >= input.Limit {
			truncated = true
			break readLoop
		}

		line := scanner.Text()
		remaining := t.maxReadLen - bytesRead
		if remaining <= 0 {
			truncated = true
			break readLoop
		}
		if len(line)+1 > remaining {
			cut := remaining
			if cut > len(line) {
				cut = len(line)
			}
			b.WriteString(line[:cut])
			bytesRead += cut
			truncated = true
			break readLoop
		}

		b.WriteString(line)
		b.WriteByte('\n')
		bytesRead += len(line) + 1
		linesEmitted++
	}
	if err := scanner.Err(); err != nil {
		return toolError(fmt.Sprintf("read file: %v", err)), nil
	}
	// A scanner stopping due to its internal token buffer overflowing
	// still counts as truncation for our purposes, but that's a pathological
	// single-line case; the byte/line caps above cover the common path.

	content := b.String()
	if truncated {
		content += TruncationMarker
	}

	result := map[string]interface{}{
		"path":          input.Path,
		"content":       content,
		"start_line":    startLine,
		"lines":         linesEmitted,
		"bytes":         bytesRead,
		"truncated":     truncated,
	}
	payload, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return toolError(fmt.Sprintf("encode result: %v", err)), nil
	}

	return &agent.ToolResult{Content: string(payload)}, nil
}

func toolError(message string) *agent.ToolResult {
	payload, err := json.Marshal(map[string]string{"error": message})
	if err != nil {
		return &agent.ToolResult{Content: message, IsError: true}
	}
	return &agent.ToolResult{Content: string(payload), IsError: true}
}
