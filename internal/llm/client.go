// Package llm defines the contract the ReAct executor consumes from a
// model backend. No provider is implemented here — per the non-goals,
// only the interface the core depends on is specified; concrete clients
// (OpenAI-compatible HTTP, etc.) are external collaborators.
package llm

import (
	"context"

	"github.com/lhwzds/agentcore/internal/chatmsg"
)

// FinishReason classifies why a model call stopped producing tokens.
type FinishReason string

const (
	FinishStop      FinishReason = "stop"
	FinishToolCalls FinishReason = "tool_calls"
	FinishMaxTokens FinishReason = "max_tokens"
	FinishError     FinishReason = "error"
)

// Usage reports token accounting for one completion.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	CostUSD          float64
}

// ToolSchema describes one tool the model may call, matching the tool
// registry contract: name, description, and a JSON Schema of its
// parameters.
type ToolSchema struct {
	Name        string
	Description string
	Parameters  map[string]any // JSON Schema
}

// Request is one completion request.
type Request struct {
	Messages         []chatmsg.Message
	Tools            []ToolSchema
	Temperature      *float64
	MaxOutputTokens  *int
}

// Response is a single, non-streaming completion result.
type Response struct {
	Content      string
	ToolCalls    []chatmsg.ToolCall
	FinishReason FinishReason
	Usage        Usage
}

// StreamChunk carries one increment of a streamed completion. Any
// combination of the delta fields may be set; ToolCallDeltas must be
// merged by id across chunks.
type StreamChunk struct {
	TextDelta      string
	ThinkingDelta  string
	ToolCallDeltas []ToolCallDelta
	Usage          *Usage
	FinishReason   FinishReason
}

// ToolCallDelta is one incremental fragment of a tool call, to be merged
// with prior fragments sharing the same ID.
type ToolCallDelta struct {
	Index        int
	ID           string
	Name         string
	ArgumentsPart string
}

// StreamCallback receives each chunk as it arrives.
type StreamCallback func(ctx context.Context, chunk StreamChunk) error

// Client is the model-backend contract the executor consumes.
type Client interface {
	// Complete performs a non-streaming completion.
	Complete(ctx context.Context, req Request) (Response, error)
	// CompleteStream performs a streaming completion, invoking cb for
	// each chunk, and returns the fully accumulated response.
	CompleteStream(ctx context.Context, req Request, cb StreamCallback) (Response, error)
	// SupportsStreaming probes whether CompleteStream is meaningfully
	// different from Complete for this backend.
	SupportsStreaming() bool
}
