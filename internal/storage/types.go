// Package storage persists background agents, their message inbox, task
// events, and executor checkpoints behind a single Store interface, with
// SQLite and Postgres implementations.
package storage

import "time"

// ScheduleKind discriminates a BackgroundAgent's Schedule variant.
type ScheduleKind string

const (
	ScheduleOnce     ScheduleKind = "once"
	ScheduleInterval ScheduleKind = "interval"
	ScheduleCron     ScheduleKind = "cron"
)

// Schedule is the tagged union backing next-run computation. Only
// the fields relevant to Kind are meaningful.
type Schedule struct {
	Kind ScheduleKind

	// Once
	RunAt time.Time

	// Interval
	IntervalMs int64
	StartAt    *time.Time

	// Cron
	Expression string
	Timezone   string
}

// ExecutionModeKind discriminates an ExecutionMode variant.
type ExecutionModeKind string

const (
	ExecutionModeAPI ExecutionModeKind = "api"
	ExecutionModeCLI ExecutionModeKind = "cli"
)

// ExecutionMode selects how a BackgroundAgent's turn is actually run. The
// only executor this module wires by default is the in-process Api mode;
// a Cli task runs through that same executor with only its TimeoutSecs
// consumed (as the run timeout), so storage and scheduling logic exercise
// both variants identically.
type ExecutionMode struct {
	Kind ExecutionModeKind

	// Cli
	Binary      string
	Args        []string
	Cwd         string
	TimeoutSecs int
	UsePTY      bool
}

// BackgroundAgentStatus is the lifecycle state of a scheduled task.
type BackgroundAgentStatus string

const (
	StatusActive    BackgroundAgentStatus = "active"
	StatusPaused    BackgroundAgentStatus = "paused"
	StatusRunning   BackgroundAgentStatus = "running"
	StatusCompleted BackgroundAgentStatus = "completed"
	StatusFailed    BackgroundAgentStatus = "failed"
	StatusCancelled BackgroundAgentStatus = "cancelled"
)

// NotificationConfig controls how the runner reports a task's outcome.
type NotificationConfig struct {
	Enabled             bool
	NotifyOnFailureOnly bool
	Channels            []string
}

// MemoryConfig controls whether a run's output is persisted as durable
// memory for the owning agent.
type MemoryConfig struct {
	Persist bool
	Key     string
}

// BackgroundAgent is one scheduled task record.
type BackgroundAgent struct {
	ID              string
	Name            string
	AgentID         string
	Input           string
	InputTemplate   string
	Schedule        Schedule
	Status          BackgroundAgentStatus
	Memory          MemoryConfig
	Notification    NotificationConfig
	Mode            ExecutionMode
	// Description is surfaced by the runner's {{task.description}}
	// template placeholder.
	Description     string
	SuccessCount    int
	FailureCount    int
	TotalTokens     int
	TotalCostUSD    float64
	LastRunAt       *time.Time
	NextRunAt       *time.Time
	LastError       string
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// EffectiveInput returns the configured input if set, else the template,
// matching the invariant that at least one of the two must render
// non-empty.
func (a BackgroundAgent) EffectiveInput() string {
	if a.Input != "" {
		return a.Input
	}
	return a.InputTemplate
}

// BackgroundMessageSource identifies who queued a BackgroundMessage.
type BackgroundMessageSource string

const (
	SourceUser   BackgroundMessageSource = "user"
	SourceAgent  BackgroundMessageSource = "agent"
	SourceSystem BackgroundMessageSource = "system"
)

// BackgroundMessageStatus is a message's delivery state. Valid transitions
// form a DAG: Queued -> Delivered -> Consumed, and any state -> Failed.
type BackgroundMessageStatus string

const (
	MessageQueued    BackgroundMessageStatus = "queued"
	MessageDelivered BackgroundMessageStatus = "delivered"
	MessageConsumed  BackgroundMessageStatus = "consumed"
	MessageFailed    BackgroundMessageStatus = "failed"
)

// BackgroundMessage is one entry in a task's steer inbox.
type BackgroundMessage struct {
	ID                string
	BackgroundAgentID string
	Source            BackgroundMessageSource
	Content           string
	Status            BackgroundMessageStatus
	CreatedAt         time.Time
	DeliveredAt       *time.Time
	ConsumedAt        *time.Time
}

// TaskEventType names a lifecycle or streaming event recorded for a task.
type TaskEventType string

const (
	EventStarted           TaskEventType = "started"
	EventOutput             TaskEventType = "output"
	EventProgress           TaskEventType = "progress"
	EventCompleted          TaskEventType = "completed"
	EventFailed             TaskEventType = "failed"
	EventCancelled          TaskEventType = "cancelled"
	EventTimeout            TaskEventType = "timeout"
	EventNotificationSent   TaskEventType = "notification_sent"
	EventNotificationFailed TaskEventType = "notification_failed"
)

// TaskEvent is one append-only record in a task's history. Events are
// never mutated or reordered; deleting a task cascades to its events.
type TaskEvent struct {
	ID         string
	TaskID     string
	EventType  TaskEventType
	Timestamp  time.Time
	Message    string
	Output     string
	DurationMs int64
	Tokens     int
	CostUSD    float64
}

// Checkpoint is a durable snapshot of an executor's AgentState, keyed by
// task so a runner can resume a long-running background agent after a
// restart.
type Checkpoint struct {
	SavepointID int64
	TaskID      string
	State       []byte // opaque, caller-serialized AgentState
	CreatedAt   time.Time
	ExpiresAt   *time.Time
}
