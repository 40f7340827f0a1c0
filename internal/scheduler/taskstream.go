package scheduler

import "github.com/lhwzds/agentcore/internal/storage"

// TaskStreamKind discriminates TaskStreamEvent variants.
type TaskStreamKind string

const (
	TaskStreamStarted   TaskStreamKind = "started"
	TaskStreamOutput    TaskStreamKind = "output"
	TaskStreamProgress  TaskStreamKind = "progress"
	TaskStreamCompleted TaskStreamKind = "completed"
	TaskStreamFailed    TaskStreamKind = "failed"
	TaskStreamCancelled TaskStreamKind = "cancelled"
	TaskStreamTimeout   TaskStreamKind = "timeout"
)

// TaskStreamEvent is a live, in-process progress signal for one background
// task run, distinct from the persisted storage.TaskEvent record: a
// consumer that wants to watch a run as it happens (rather than query its
// history afterward) subscribes to TaskStreamSink instead of reading
// storage.
//
// Output and Progress exist for shape-completeness with the TaskStreamEvent
// union this core specifies, but nothing in this module produces them: the
// wired AgentTaskExecutor runs agent.Executor synchronously to completion
// rather than forwarding its own per-iteration ExecutionSteps as
// line-oriented output or staged progress. An embedder that wants them
// wires its own TaskExecutor that forwards agent.Executor.RunStream's
// steps through this sink.
type TaskStreamEvent struct {
	Kind TaskStreamKind

	TaskID string

	// Started
	Name    string
	AgentID string
	Mode    storage.ExecutionModeKind

	// Output
	Line    string
	IsError bool

	// Progress
	Stage   string
	Percent *int
	Message string

	// Completed, Failed, Cancelled, Timeout
	Output     string
	Error      string
	DurationMs int64
	Timeout    bool
	Reason     string
	Seconds    int
}

// TaskStreamSink receives TaskStreamEvents as a background task runs. A
// nil sink on Runner disables emission entirely.
type TaskStreamSink func(TaskStreamEvent)

func (r *Runner) emitStream(evt TaskStreamEvent) {
	if r.Stream == nil {
		return
	}
	r.Stream(evt)
}
