package agent

// StepKind discriminates ExecutionStep variants. Go has no sum types, so
// ExecutionStep carries a Kind tag plus the fields relevant to it — the
// a closed union of progress-event variants.
type StepKind string

const (
	StepStarted        StepKind = "started"
	StepTextDelta       StepKind = "text_delta"
	StepThinkingDelta    StepKind = "thinking_delta"
	StepToolCallStart    StepKind = "tool_call_start"
	StepToolCallResult   StepKind = "tool_call_result"
	StepCompleted        StepKind = "completed"
	StepFailed           StepKind = "failed"
)

// ExecutionStep is one event in the streaming run of the executor.
type ExecutionStep struct {
	Kind        StepKind
	ExecutionID string  // Started
	Content     string  // TextDelta, ThinkingDelta
	ToolCallID  string  // ToolCallStart, ToolCallResult
	ToolName    string  // ToolCallStart, ToolCallResult
	Arguments   string  // ToolCallStart
	Result      string  // ToolCallResult
	Success     bool    // ToolCallResult
	FinalAnswer string  // Completed
	Err         string  // Failed

	Iterations   int     // Completed, Failed
	TotalTokens  int     // Completed, Failed
	TotalCostUSD float64 // Completed, Failed
	WallClockMs  int64   // Completed, Failed
}

// StepSink receives ExecutionSteps as the run progresses. The streaming
// and non-streaming entry points share this sink internally so both
// modes are behaviorally identical; the non-streaming entry point simply
// discards steps after building the final Result.
type StepSink func(step ExecutionStep)

func noopSink(ExecutionStep) {}
