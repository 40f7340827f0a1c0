// Package agent implements the ReAct executor: the turn-by-turn loop that
// calls the model, dispatches tool calls, retries, times out, detects
// stuck patterns, streams events, and surfaces a final answer. It
// consumes internal/contextmgr for compaction and internal/llm for the
// model backend.
package agent

import "github.com/lhwzds/agentcore/internal/chatmsg"

// Status is the terminal-or-running classification of an AgentState.
// Only one terminal transition is ever recorded.
type Status string

const (
	StatusRunning          Status = "running"
	StatusCompleted        Status = "completed"
	StatusFailed           Status = "failed"
	StatusMaxIterations    Status = "max_iterations"
	StatusInterrupted      Status = "interrupted"
	StatusResourceExhausted Status = "resource_exhausted"
)

// Terminal reports whether s is a terminal status.
func (s Status) Terminal() bool {
	return s != StatusRunning
}

// State is the mutable record a single executor run owns exclusively.
// messages[0] is always the system prompt and must never be mutated by
// prune or compact.
type State struct {
	ExecutionID   string
	Iteration     int
	MaxIterations int
	Messages      []chatmsg.Message
	Status        Status
	FinalAnswer   string
	Error         string
	Context       map[string]any

	// LastToolNames records the most recent batch of tool names invoked.
	// Per the design notes' open question, this is retained only for a
	// model router that wants to classify the current turn; nothing in
	// this package reads it after a bare text answer.
	LastToolNames []string
}

// ResourceUsage reports accumulated resource consumption across a run.
type ResourceUsage struct {
	TotalTokens  int
	TotalCostUSD float64
	WallClockMs  int64
}

// Result is the user-visible outcome of a run.
type Result struct {
	Success       bool
	Answer        string
	Error         string
	Iterations    int
	TotalTokens   int
	TotalCostUSD  float64
	State         State
	ResourceUsage ResourceUsage
}
