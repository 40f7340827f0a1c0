package filetool

import (
	"context"
	"fmt"

	"github.com/lhwzds/agentcore/internal/chatmsg"
)

// AgentTool adapts Tool to the executor's tool-registry contract, exposing
// every read/write/search operation as a single named tool keyed by an
// "operation" argument rather than one tool per method.
type AgentTool struct {
	tool *Tool
}

// NewAgentTool wraps tool for registration into a tool registry.
func NewAgentTool(tool *Tool) *AgentTool {
	return &AgentTool{tool: tool}
}

func (a *AgentTool) Name() string { return "file" }

func (a *AgentTool) Description() string {
	return "Reads, writes, deletes, lists, and searches files within a sandboxed base directory. Select a mode with the \"operation\" argument: read, write, delete, exists, list, search, batch_read, batch_exists, batch_search."
}

func (a *AgentTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"operation": map[string]any{
				"type": "string",
				"enum": []string{"read", "write", "delete", "exists", "list", "search", "batch_read", "batch_exists", "batch_search"},
			},
			"path":          map[string]any{"type": "string"},
			"paths":         map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			"content":       map[string]any{"type": "string"},
			"append":        map[string]any{"type": "boolean"},
			"offset":        map[string]any{"type": "integer"},
			"limit":         map[string]any{"type": "integer"},
			"recursive":     map[string]any{"type": "boolean"},
			"glob":          map[string]any{"type": "string"},
			"pattern":       map[string]any{"type": "string"},
			"filename_glob": map[string]any{"type": "string"},
			"max_matches":   map[string]any{"type": "integer"},
			"queries": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"root":          map[string]any{"type": "string"},
						"pattern":       map[string]any{"type": "string"},
						"filename_glob": map[string]any{"type": "string"},
					},
				},
			},
		},
		"required": []string{"operation"},
	}
}

// SupportsParallelFor reports whether this call may run alongside other
// tool calls in the same step. Writes and deletes mutate the filesystem
// and external-modification tracker, so they run alone; every read-only
// operation may fan out.
func (a *AgentTool) SupportsParallelFor(args map[string]any) bool {
	switch stringArg(args, "operation") {
	case "write", "delete":
		return false
	default:
		return true
	}
}

func (a *AgentTool) Execute(ctx context.Context, args map[string]any) (chatmsg.ToolOutput, error) {
	switch stringArg(args, "operation") {
	case "read":
		return a.read(ctx, args)
	case "write":
		return a.write(ctx, args)
	case "delete":
		return a.delete(ctx, args)
	case "exists":
		return a.exists(args)
	case "list":
		return a.list(args)
	case "search":
		return a.search(args)
	case "batch_read":
		return a.batchRead(ctx, args)
	case "batch_exists":
		return a.batchExists(args)
	case "batch_search":
		return a.batchSearch(args)
	default:
		return errorOutput(fmt.Sprintf("unknown file operation %q", stringArg(args, "operation")), chatmsg.ErrorConfig), nil
	}
}

func (a *AgentTool) read(ctx context.Context, args map[string]any) (chatmsg.ToolOutput, error) {
	path := stringArg(args, "path")
	if path == "" {
		return errorOutput("read requires a \"path\" argument", chatmsg.ErrorConfig), nil
	}
	res, err := a.tool.Read(ctx, path, intArg(args, "offset"), intArg(args, "limit"))
	if err != nil {
		return errorOutput(err.Error(), chatmsg.ErrorOther), nil
	}
	return chatmsg.ToolOutput{
		Success: true,
		Result: map[string]any{
			"path":         res.Path,
			"total_lines":  res.TotalLines,
			"showing_from": res.ShowingFrom,
			"showing_to":   res.ShowingTo,
			"content":      res.Content,
		},
	}, nil
}

func (a *AgentTool) write(ctx context.Context, args map[string]any) (chatmsg.ToolOutput, error) {
	path := stringArg(args, "path")
	if path == "" {
		return errorOutput("write requires a \"path\" argument", chatmsg.ErrorConfig), nil
	}
	if err := a.tool.Write(ctx, path, stringArg(args, "content"), boolArg(args, "append")); err != nil {
		return errorOutput(err.Error(), chatmsg.ErrorOther), nil
	}
	return chatmsg.ToolOutput{Success: true, Result: map[string]any{"path": path}}, nil
}

func (a *AgentTool) delete(ctx context.Context, args map[string]any) (chatmsg.ToolOutput, error) {
	path := stringArg(args, "path")
	if path == "" {
		return errorOutput("delete requires a \"path\" argument", chatmsg.ErrorConfig), nil
	}
	if err := a.tool.Delete(ctx, path); err != nil {
		return errorOutput(err.Error(), chatmsg.ErrorOther), nil
	}
	return chatmsg.ToolOutput{Success: true, Result: map[string]any{"path": path}}, nil
}

func (a *AgentTool) exists(args map[string]any) (chatmsg.ToolOutput, error) {
	path := stringArg(args, "path")
	if path == "" {
		return errorOutput("exists requires a \"path\" argument", chatmsg.ErrorConfig), nil
	}
	ok, err := a.tool.Exists(path)
	if err != nil {
		return errorOutput(err.Error(), chatmsg.ErrorOther), nil
	}
	return chatmsg.ToolOutput{Success: true, Result: map[string]any{"path": path, "exists": ok}}, nil
}

func (a *AgentTool) list(args map[string]any) (chatmsg.ToolOutput, error) {
	entries, err := a.tool.List(stringArg(args, "path"), boolArg(args, "recursive"), stringArg(args, "glob"))
	if err != nil {
		return errorOutput(err.Error(), chatmsg.ErrorOther), nil
	}
	out := make([]map[string]any, len(entries))
	for i, e := range entries {
		out[i] = map[string]any{"path": e.Path, "is_dir": e.IsDir}
	}
	return chatmsg.ToolOutput{Success: true, Result: map[string]any{"entries": out}}, nil
}

func (a *AgentTool) search(args map[string]any) (chatmsg.ToolOutput, error) {
	pattern := stringArg(args, "pattern")
	if pattern == "" {
		return errorOutput("search requires a \"pattern\" argument", chatmsg.ErrorConfig), nil
	}
	res, err := a.tool.Search(stringArg(args, "path"), pattern, stringArg(args, "filename_glob"), intArg(args, "max_matches"))
	if err != nil {
		return errorOutput(err.Error(), chatmsg.ErrorOther), nil
	}
	return chatmsg.ToolOutput{Success: true, Result: map[string]any{
		"matches":   matchesToAny(res.Matches),
		"truncated": res.Truncated,
	}}, nil
}

func (a *AgentTool) batchRead(ctx context.Context, args map[string]any) (chatmsg.ToolOutput, error) {
	paths := stringSliceArg(args, "paths")
	if len(paths) == 0 {
		return errorOutput("batch_read requires a non-empty \"paths\" argument", chatmsg.ErrorConfig), nil
	}
	results, err := a.tool.BatchRead(ctx, paths, intArg(args, "offset"), intArg(args, "limit"))
	if err != nil {
		return errorOutput(err.Error(), chatmsg.ErrorConfig), nil
	}
	out := make([]map[string]any, len(results))
	for i, r := range results {
		entry := map[string]any{"path": r.Path}
		if r.Err != nil {
			entry["error"] = r.Err.Error()
		} else {
			entry["total_lines"] = r.Result.TotalLines
			entry["showing_from"] = r.Result.ShowingFrom
			entry["showing_to"] = r.Result.ShowingTo
			entry["content"] = r.Result.Content
		}
		out[i] = entry
	}
	return chatmsg.ToolOutput{Success: true, Result: map[string]any{"results": out}}, nil
}

func (a *AgentTool) batchExists(args map[string]any) (chatmsg.ToolOutput, error) {
	paths := stringSliceArg(args, "paths")
	if len(paths) == 0 {
		return errorOutput("batch_exists requires a non-empty \"paths\" argument", chatmsg.ErrorConfig), nil
	}
	results, err := a.tool.BatchExists(paths)
	if err != nil {
		return errorOutput(err.Error(), chatmsg.ErrorConfig), nil
	}
	out := make([]map[string]any, len(results))
	for i, r := range results {
		entry := map[string]any{"path": r.Path, "exists": r.Exists}
		if r.Err != nil {
			entry["error"] = r.Err.Error()
		}
		out[i] = entry
	}
	return chatmsg.ToolOutput{Success: true, Result: map[string]any{"results": out}}, nil
}

func (a *AgentTool) batchSearch(args map[string]any) (chatmsg.ToolOutput, error) {
	raw, _ := args["queries"].([]any)
	if len(raw) == 0 {
		return errorOutput("batch_search requires a non-empty \"queries\" argument", chatmsg.ErrorConfig), nil
	}
	queries := make([]BatchSearchQuery, 0, len(raw))
	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		queries = append(queries, BatchSearchQuery{
			Root:         stringArg(m, "root"),
			Pattern:      stringArg(m, "pattern"),
			FilenameGlob: stringArg(m, "filename_glob"),
		})
	}
	results, err := a.tool.BatchSearch(queries)
	if err != nil {
		return errorOutput(err.Error(), chatmsg.ErrorConfig), nil
	}
	out := make([]map[string]any, len(results))
	for i, r := range results {
		entry := map[string]any{
			"root":      r.Query.Root,
			"pattern":   r.Query.Pattern,
			"truncated": r.Result.Truncated,
			"matches":   matchesToAny(r.Result.Matches),
		}
		if r.Err != nil {
			entry["error"] = r.Err.Error()
		}
		out[i] = entry
	}
	return chatmsg.ToolOutput{Success: true, Result: map[string]any{"results": out}}, nil
}

func matchesToAny(matches []SearchMatch) []map[string]any {
	out := make([]map[string]any, len(matches))
	for i, m := range matches {
		out[i] = map[string]any{"file": m.File, "line": m.Line, "content": m.Content}
	}
	return out
}

func errorOutput(msg string, category chatmsg.ErrorCategory) chatmsg.ToolOutput {
	return chatmsg.ToolOutput{Success: false, Error: msg, ErrorCategory: category}
}

func stringArg(args map[string]any, key string) string {
	v, _ := args[key].(string)
	return v
}

func boolArg(args map[string]any, key string) bool {
	v, _ := args[key].(bool)
	return v
}

func intArg(args map[string]any, key string) int {
	switch v := args[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}

func stringSliceArg(args map[string]any, key string) []string {
	raw, _ := args[key].([]any)
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
