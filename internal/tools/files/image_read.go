package files

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/driftforge/agentrt/internal/agent"
)

// MaxImageBytes bounds how large an image file this tool will read before
// rejecting the call outright.
const MaxImageBytes = 5 * 1024 * 1024

var allowedImageExt = map[string]string{
	".gif":  "image/gif",
	".jpeg": "image/jpeg",
	".jpg":  "image/jpeg",
	".png":  "image/png",
	".webp": "image/webp",
}

// narrowNoBreakSpace is the character macOS inserts between a screenshot's
// time and its AM/PM marker (e.g. "Screenshot 2024-01-02 at 3.04.05 PM.png").
// Editors and shells round-trip it inconsistently, so a path typed by a
// model rarely matches the byte-for-byte filename on disk.
const narrowNoBreakSpace = " "

// ImageReadTool reads an image file and returns it as base64-encoded
// content suitable for attaching to a model turn.
type ImageReadTool struct {
	resolver Resolver
}

// NewImageReadTool creates an image_read tool scoped to the workspace.
func NewImageReadTool(cfg Config) *ImageReadTool {
	return &ImageReadTool{resolver: Resolver{Root: cfg.Workspace}}
}

func (t *ImageReadTool) Name() string { return "image_read" }

func (t *ImageReadTool) Description() string {
	return "Read a gif, jpeg, png, or webp image file and return it base64-encoded."
}

func (t *ImageReadTool) Schema() json.RawMessage {
	schema := map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"path": map[string]interface{}{
				"type":        "string",
				"description": "Path to the image file (relative to workspace).",
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

func (t *ImageReadTool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var input struct {
		Path string `json:"path"`
	}
	if err := json.Unmarshal(params, &input); err != nil {
		return toolError(fmt.Sprintf("Invalid parameters: %v", err)), nil
	}
	if strings.TrimSpace(input.Path) == "" {
		return toolError("path is required"), nil
	}

	ext := strings.ToLower(filepath.Ext(input.Path))
	mimeType, ok := allowedImageExt[ext]
	if !ok {
		return toolError(fmt.Sprintf("unsupported image extension %q (allowed: gif, jpeg, jpg, png, webp)", ext)), nil
	}

	resolved, err := t.resolveWithScreenshotFallback(input.Path)
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
	if info.Size() > MaxImageBytes {
		return toolError(fmt.Sprintf("image exceeds %d byte limit (%d bytes)", MaxImageBytes, info.Size())), nil
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return toolError(fmt.Sprintf("read file: %v", err)), nil
	}

	result := map[string]interface{}{
		"path":      input.Path,
		"mime_type": mimeType,
		"bytes":     len(data),
		"data":      base64.StdEncoding.EncodeToString(data),
	}
	payload, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return toolError(fmt.Sprintf("encode result: %v", err)), nil
	}
	return &agent.ToolResult{Content: string(payload)}, nil
}

// resolveWithScreenshotFallback resolves path as given; if that file does
// not exist and the name looks like a macOS screenshot (a literal space
// immediately before AM/PM), it retries with the space replaced by a
// narrow no-break space, matching what Finder actually writes to disk.
func (t *ImageReadTool) resolveWithScreenshotFallback(path string) (string, error) {
	resolved, err := t.resolver.Resolve(path)
	if err == nil {
		if _, statErr := os.Stat(resolved); statErr == nil {
			return resolved, nil
		}
	}

	normalized := normalizeScreenshotFilename(path)
	if normalized == path {
		if err != nil {
			return "", err
		}
		return resolved, nil
	}

	return t.resolver.Resolve(normalized)
}

// normalizeScreenshotFilename inserts a narrow no-break space before a
// trailing "AM"/"PM" if the filename instead has a plain space there,
// undoing the substitution macOS Screenshot.app performs.
func normalizeScreenshotFilename(path string) string {
	dir, base := filepath.Split(path)
	for _, suffix := range []string{" AM", " PM"} {
		ext := filepath.Ext(base)
		stem := strings.TrimSuffix(base, ext)
		if strings.HasSuffix(stem, suffix) {
			replaced := strings.TrimSuffix(stem, suffix) + narrowNoBreakSpace + strings.TrimPrefix(suffix, " ") + ext
			return dir + replaced
		}
	}
	return path
}
