package agent

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// ScratchpadEventType names one line of the append-only execution-event
// log written under <scratchpad>/<execution_id>.jsonl.
type ScratchpadEventType string

const (
	ScratchpadExecutionStart    ScratchpadEventType = "execution_start"
	ScratchpadIterationBegin    ScratchpadEventType = "iteration_begin"
	ScratchpadToolCall          ScratchpadEventType = "tool_call"
	ScratchpadToolResult        ScratchpadEventType = "tool_result"
	ScratchpadTextDelta         ScratchpadEventType = "text_delta"
	ScratchpadThinking          ScratchpadEventType = "thinking"
	ScratchpadError             ScratchpadEventType = "error"
	ScratchpadExecutionComplete ScratchpadEventType = "execution_complete"
)

// scratchpadLine is one JSON object per appended line.
type scratchpadLine struct {
	EventType   ScratchpadEventType `json:"event_type"`
	Iteration   *int                `json:"iteration,omitempty"`
	Timestamp   string              `json:"timestamp"`
	ExecutionID string              `json:"execution_id,omitempty"`
	ToolCallID  string              `json:"tool_call_id,omitempty"`
	ToolName    string              `json:"tool_name,omitempty"`
	Content     string              `json:"content,omitempty"`
	Success     *bool               `json:"success,omitempty"`
	Error       string              `json:"error,omitempty"`
}

// ScratchpadWriter appends one JSON object per line to a per-execution
// JSONL file, the same append-only-file-per-id shape as the teacher's
// SessionPersistence.SaveEntry (session_persistence.go), applied to
// executor progress events instead of chat history.
type ScratchpadWriter struct {
	path string
	mu   sync.Mutex
}

// NewScratchpadWriter returns nil when dir is empty: scratchpad logging
// is opt-in per run, the same way OutputTruncator disables itself on "".
func NewScratchpadWriter(dir, executionID string) *ScratchpadWriter {
	if dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil
	}
	return &ScratchpadWriter{path: filepath.Join(dir, executionID+".jsonl")}
}

func (w *ScratchpadWriter) append(line scratchpadLine) {
	if w == nil {
		return
	}
	line.Timestamp = time.Now().UTC().Format(time.RFC3339Nano)
	b, err := json.Marshal(line)
	if err != nil {
		return
	}
	b = append(b, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return
	}
	defer f.Close()
	_, _ = f.Write(b)
}

// ExecutionStart records the start of a run.
func (w *ScratchpadWriter) ExecutionStart(executionID string) {
	w.append(scratchpadLine{EventType: ScratchpadExecutionStart, ExecutionID: executionID})
}

// IterationBegin records the start of one loop iteration.
func (w *ScratchpadWriter) IterationBegin(iteration int) {
	w.append(scratchpadLine{EventType: ScratchpadIterationBegin, Iteration: &iteration})
}

// ToolCall records a dispatched tool invocation.
func (w *ScratchpadWriter) ToolCall(iteration int, callID, toolName, args string) {
	w.append(scratchpadLine{EventType: ScratchpadToolCall, Iteration: &iteration, ToolCallID: callID, ToolName: toolName, Content: args})
}

// ToolResult records a tool invocation's outcome.
func (w *ScratchpadWriter) ToolResult(iteration int, callID, toolName string, success bool, content string) {
	w.append(scratchpadLine{EventType: ScratchpadToolResult, Iteration: &iteration, ToolCallID: callID, ToolName: toolName, Success: &success, Content: content})
}

// TextDelta records one streamed text chunk.
func (w *ScratchpadWriter) TextDelta(iteration int, content string) {
	w.append(scratchpadLine{EventType: ScratchpadTextDelta, Iteration: &iteration, Content: content})
}

// Thinking records one streamed thinking chunk.
func (w *ScratchpadWriter) Thinking(iteration int, content string) {
	w.append(scratchpadLine{EventType: ScratchpadThinking, Iteration: &iteration, Content: content})
}

// Error records a terminal or recoverable error encountered mid-run.
func (w *ScratchpadWriter) Error(iteration int, message string) {
	w.append(scratchpadLine{EventType: ScratchpadError, Iteration: &iteration, Error: message})
}

// ExecutionComplete records the terminal outcome of a run.
func (w *ScratchpadWriter) ExecutionComplete(iteration int, success bool, content string) {
	w.append(scratchpadLine{EventType: ScratchpadExecutionComplete, Iteration: &iteration, Success: &success, Content: content})
}
