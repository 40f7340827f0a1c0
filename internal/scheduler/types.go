// Package scheduler polls background-agent storage for runnable tasks and
// drives each one through an executor, handling steer message delivery,
// cancellation, pausing, notifications, and lifecycle hooks for the
// data model this module implements).
package scheduler

import (
	"context"
	"time"

	"github.com/lhwzds/agentcore/internal/agent"
	"github.com/lhwzds/agentcore/internal/storage"
)

// DefaultPollInterval is how often the runner checks for due tasks.
const DefaultPollInterval = 10 * time.Second

// MessagePumpInterval is how often queued background messages are drained
// into the running task's steer channel.
const MessagePumpInterval = 500 * time.Millisecond

// PausePollInterval is how often a running task checks storage for a pause
// request.
const PausePollInterval = 250 * time.Millisecond

// CommandKind discriminates a Command sent to the Runner.
type CommandKind string

const (
	CommandStop       CommandKind = "stop"
	CommandCheckNow   CommandKind = "check_now"
	CommandRunTaskNow CommandKind = "run_task_now"
	CommandCancelTask CommandKind = "cancel_task"
)

// Command is one control-plane message delivered to the Runner's command
// channel.
type Command struct {
	Kind   CommandKind
	TaskID string // RunTaskNow, CancelTask
}

// RunnerConfig configures the poll loop and concurrency ceiling.
type RunnerConfig struct {
	PollInterval      time.Duration
	MaxConcurrentTasks int
}

// WithDefaults fills zero fields with package defaults.
func (c RunnerConfig) WithDefaults() RunnerConfig {
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.MaxConcurrentTasks <= 0 {
		c.MaxConcurrentTasks = 4
	}
	return c
}

// TaskExecutor runs one background agent's turn to completion. The
// default wiring (AgentTaskExecutor) adapts an *agent.Executor; Cli
// mode tasks run through it too, and of their ExecutionMode only
// TimeoutSecs is consumed, as the run timeout.
type TaskExecutor interface {
	RunTask(ctx context.Context, task *storage.BackgroundAgent, input string, steer <-chan agent.Steer) agent.Result
}

// HookContext is the abstract payload passed to every lifecycle hook.
type HookContext struct {
	TaskID     string
	Name       string
	AgentID    string
	Mode       storage.ExecutionModeKind
	Output     string
	Error      string
	DurationMs int64
	Timeout    bool
	Reason     string // Cancelled
}

// Hooks fires on a background task's lifecycle transitions. NewRunner
// replaces a nil Hooks with NoopHooks, which disables all firing; any
// subset of the methods may be a no-op implementation.
type Hooks interface {
	OnStarted(ctx context.Context, hc HookContext)
	OnCompleted(ctx context.Context, hc HookContext)
	OnFailed(ctx context.Context, hc HookContext)
	OnCancelled(ctx context.Context, hc HookContext)
}

// NoopHooks implements Hooks with no-op methods, used when no lifecycle
// collaborator is wired.
type NoopHooks struct{}

func (NoopHooks) OnStarted(context.Context, HookContext)   {}
func (NoopHooks) OnCompleted(context.Context, HookContext) {}
func (NoopHooks) OnFailed(context.Context, HookContext)    {}
func (NoopHooks) OnCancelled(context.Context, HookContext) {}

// NotificationSink delivers a single rendered message somewhere (a chat
// channel, a webhook, …). It reports whether the message was accepted.
type NotificationSink interface {
	Name() string
	Send(ctx context.Context, taskName, message string) bool
}

// ChannelRouter broadcasts a message across every configured channel and
// reports which channel names accepted it. It is tried before the direct
// sender fallback.
type ChannelRouter interface {
	Broadcast(ctx context.Context, channels []string, taskName, message string) (accepted []string)
}

// DirectSender is the single fallback sink used only when the
// ChannelRouter accepted the message on zero channels.
type DirectSender interface {
	Send(ctx context.Context, taskName, message string) error
}
