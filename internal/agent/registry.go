package agent

import (
	"context"

	"github.com/lhwzds/agentcore/internal/chatmsg"
	"github.com/lhwzds/agentcore/internal/llm"
)

// Tool is the external collaborator contract each tool exposes:
// name, description, a JSON Schema of its parameters, an execute method,
// and a per-call parallelism probe.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]any
	Execute(ctx context.Context, args map[string]any) (chatmsg.ToolOutput, error)
	SupportsParallelFor(args map[string]any) bool
}

// Registry looks tools up by name and dispatches through a panic-safe
// boundary.
type Registry interface {
	Lookup(name string) (Tool, bool)
	Schemas() []llm.ToolSchema
	// ExecuteSafe calls the named tool, converting a panic inside the
	// tool into a failed ToolOutput rather than letting it propagate.
	ExecuteSafe(ctx context.Context, name string, args map[string]any) (chatmsg.ToolOutput, error)
}

// MapRegistry is a straightforward in-memory Registry keyed by tool name.
type MapRegistry struct {
	tools map[string]Tool
}

// NewMapRegistry builds a MapRegistry from a set of tools.
func NewMapRegistry(tools ...Tool) *MapRegistry {
	m := make(map[string]Tool, len(tools))
	for _, t := range tools {
		m[t.Name()] = t
	}
	return &MapRegistry{tools: m}
}

func (r *MapRegistry) Lookup(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

func (r *MapRegistry) Schemas() []llm.ToolSchema {
	out := make([]llm.ToolSchema, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, llm.ToolSchema{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		})
	}
	return out
}

func (r *MapRegistry) ExecuteSafe(ctx context.Context, name string, args map[string]any) (out chatmsg.ToolOutput, err error) {
	t, ok := r.tools[name]
	if !ok {
		return chatmsg.ToolOutput{
			Success:       false,
			Error:         "unknown tool: " + name,
			ErrorCategory: chatmsg.ErrorConfig,
		}, nil
	}

	defer func() {
		if r := recover(); r != nil {
			out = chatmsg.ToolOutput{
				Success:       false,
				Error:         "tool panicked: " + name,
				ErrorCategory: chatmsg.ErrorOther,
			}
			err = nil
		}
	}()

	return t.Execute(ctx, args)
}
