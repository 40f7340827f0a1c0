package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/lhwzds/agentcore/internal/agent"
	"github.com/lhwzds/agentcore/internal/storage"
)

// runningTask tracks the live state of one in-flight background task.
type runningTask struct {
	cancel          context.CancelFunc
	cancelRequested bool
	cancelReason    string
	steer           chan agent.Steer
}

// Runner polls storage for runnable background agents and drives each one
// to completion, handling steer delivery, cancellation, pausing,
// notifications, and lifecycle hooks.
type Runner struct {
	Store    storage.Store
	Executor TaskExecutor
	Hooks    Hooks
	Router   ChannelRouter
	Direct   DirectSender
	Config   RunnerConfig

	// Heartbeat is an optional liveness sink; nil disables Pulse/StatusChange
	// emission entirely. HeartbeatInterval defaults to DefaultHeartbeatInterval
	// when left zero. Both are set directly on the struct after NewRunner,
	// the same way an embedder would wire Router/Direct post-construction.
	Heartbeat         HeartbeatSink
	HeartbeatInterval time.Duration

	// Stream is an optional live per-task progress sink; nil disables it.
	// See TaskStreamEvent's doc comment for what it does and does not cover.
	Stream TaskStreamSink

	commands chan Command
	mu       sync.Mutex
	running  map[string]*runningTask

	logger zerolog.Logger
}

// NewRunner wires a Runner. A nil Hooks is replaced with NoopHooks.
func NewRunner(store storage.Store, executor TaskExecutor, hooks Hooks, router ChannelRouter, direct DirectSender, cfg RunnerConfig, logger zerolog.Logger) *Runner {
	if hooks == nil {
		hooks = NoopHooks{}
	}
	return &Runner{
		Store:    store,
		Executor: executor,
		Hooks:    hooks,
		Router:   router,
		Direct:   direct,
		Config:   cfg.WithDefaults(),
		commands: make(chan Command, 16),
		running:  make(map[string]*runningTask),
		logger:   logger.With().Str("component", "scheduler").Logger(),
	}
}

// Commands returns the channel used to send control-plane Commands to the
// Runner (Stop, CheckNow, RunTaskNow, CancelTask).
func (r *Runner) Commands() chan<- Command { return r.commands }

// Run blocks the poll loop until a Stop command is received or ctx is
// cancelled, then waits for every in-flight task to unwind.
func (r *Runner) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.Config.PollInterval)
	defer ticker.Stop()

	hbCtx, stopHeartbeat := context.WithCancel(context.Background())
	defer stopHeartbeat()
	go r.runHeartbeat(hbCtx, r.HeartbeatInterval, func() int { return r.pendingCount(ctx) })
	r.emitStatus(RunnerStatusRunning, "")

	err := r.runLoop(ctx, ticker)

	var stopMsg string
	if err != nil {
		stopMsg = err.Error()
	}
	r.emitStatus(RunnerStatusStopping, stopMsg)
	for {
		r.mu.Lock()
		n := len(r.running)
		r.mu.Unlock()
		if n == 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	stopHeartbeat()
	r.emitStatus(RunnerStatusStopped, "")
	return err
}

func (r *Runner) runLoop(ctx context.Context, ticker *time.Ticker) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case cmd := <-r.commands:
			switch cmd.Kind {
			case CommandStop:
				return nil
			case CommandCheckNow:
				r.pollOnce(ctx)
			case CommandRunTaskNow:
				r.runSpecificTask(ctx, cmd.TaskID)
			case CommandCancelTask:
				r.requestCancel(cmd.TaskID, "cancelled by command")
			}
		case <-ticker.C:
			r.pollOnce(ctx)
		}
	}
}

// pendingCount reports how many tasks are currently due but not yet
// running, used as the heartbeat's PendingTasks figure.
func (r *Runner) pendingCount(ctx context.Context) int {
	tasks, err := r.Store.ListRunnableAgents(ctx, time.Now())
	if err != nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	pending := 0
	for _, t := range tasks {
		if _, running := r.running[t.ID]; !running {
			pending++
		}
	}
	return pending
}

func (r *Runner) pollOnce(ctx context.Context) {
	tasks, err := r.Store.ListRunnableAgents(ctx, time.Now())
	if err != nil {
		r.logger.Warn().Err(err).Msg("list runnable agents failed")
		return
	}
	for _, task := range tasks {
		r.dispatch(ctx, task)
	}
}

func (r *Runner) runSpecificTask(ctx context.Context, taskID string) {
	task, err := r.Store.GetAgent(ctx, taskID)
	if err != nil {
		r.logger.Warn().Err(err).Str("task_id", taskID).Msg("run_task_now: agent not found")
		return
	}
	r.dispatch(ctx, task)
}

// dispatch reserves task's slot before launching it, so a task already
// running or a full running-set never double-submits the same task.
func (r *Runner) dispatch(ctx context.Context, task *storage.BackgroundAgent) {
	r.mu.Lock()
	if _, ok := r.running[task.ID]; ok {
		r.mu.Unlock()
		return
	}
	if len(r.running) >= r.Config.MaxConcurrentTasks {
		r.mu.Unlock()
		return
	}
	taskCtx, cancel := context.WithCancel(ctx)
	rt := &runningTask{cancel: cancel, steer: make(chan agent.Steer, 32)}
	r.running[task.ID] = rt
	r.mu.Unlock()

	go r.execute(taskCtx, task, rt)
}

func (r *Runner) requestCancel(taskID, reason string) {
	r.mu.Lock()
	rt, ok := r.running[taskID]
	if ok {
		rt.cancelRequested = true
		rt.cancelReason = reason
	}
	r.mu.Unlock()
	if ok {
		rt.cancel()
	}
}

func (r *Runner) release(taskID string) {
	r.mu.Lock()
	delete(r.running, taskID)
	r.mu.Unlock()
}

// execute runs one task end to end: mark_running, start the message pump
// for Api mode, race the executor run against cancellation and the
// pause-poll, then finalize storage state, events, hooks, and
// notifications. A panic inside the executor is recovered so it never
// takes down the poll loop.
func (r *Runner) execute(ctx context.Context, task *storage.BackgroundAgent, rt *runningTask) {
	defer r.release(task.ID)

	// persistedStatus tracks the status last durably written for task, so
	// every subsequent write can compare-and-set against what storage
	// actually holds rather than last-writer-wins.
	persistedStatus := task.Status

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error().Interface("panic", rec).Str("task_id", task.ID).Msg("background task panicked")
			task.LastError = fmt.Sprintf("panic: %v", rec)
			task.Status = storage.StatusFailed
			_ = r.Store.UpdateAgentStatus(ctx, task, persistedStatus)
			r.appendEvent(ctx, task.ID, storage.EventFailed, task.LastError, "", 0)
			r.Hooks.OnFailed(ctx, HookContext{TaskID: task.ID, Name: task.Name, AgentID: task.AgentID, Mode: task.Mode.Kind, Error: task.LastError})
			r.emitStream(TaskStreamEvent{Kind: TaskStreamFailed, TaskID: task.ID, Error: task.LastError})
		}
	}()

	now := time.Now()
	previousStatus := task.Status
	task.Status = storage.StatusRunning
	task.UpdatedAt = now
	if err := r.Store.UpdateAgentStatus(ctx, task, previousStatus); err != nil {
		r.logger.Warn().Err(err).Str("task_id", task.ID).Msg("mark_running failed")
		return
	}
	persistedStatus = storage.StatusRunning
	r.appendEvent(ctx, task.ID, storage.EventStarted, "", "", 0)
	r.Hooks.OnStarted(ctx, HookContext{TaskID: task.ID, Name: task.Name, AgentID: task.AgentID, Mode: task.Mode.Kind})
	r.emitStream(TaskStreamEvent{Kind: TaskStreamStarted, TaskID: task.ID, Name: task.Name, AgentID: task.AgentID, Mode: task.Mode.Kind})

	pumpCtx, stopPump := context.WithCancel(context.Background())
	if task.Mode.Kind == storage.ExecutionModeAPI {
		go r.runMessagePump(pumpCtx, task.ID, rt.steer)
	}
	defer stopPump()

	input := RenderInput(task, now)

	resultCh := make(chan agent.Result, 1)
	go func() {
		resultCh <- r.Executor.RunTask(ctx, task, input, rt.steer)
	}()

	pauseTicker := time.NewTicker(PausePollInterval)
	defer pauseTicker.Stop()

	runStart := time.Now()
	for {
		select {
		case result := <-resultCh:
			r.finish(ctx, task, result, runStart, rt, persistedStatus)
			return
		case <-pauseTicker.C:
			fresh, err := r.Store.GetAgent(ctx, task.ID)
			if err == nil && fresh.Status == storage.StatusPaused {
				r.mu.Lock()
				rt.cancelRequested = true
				rt.cancelReason = "Paused by user"
				r.mu.Unlock()
				rt.cancel()
			}
		}
	}
}

func (r *Runner) runMessagePump(ctx context.Context, taskID string, steer chan<- agent.Steer) {
	ticker := time.NewTicker(MessagePumpInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			msgs, err := r.Store.ListQueuedMessages(ctx, taskID)
			if err != nil {
				continue
			}
			for _, m := range msgs {
				s := toSteer(m)
				select {
				case steer <- s:
					_ = r.Store.MarkMessageConsumed(ctx, m.ID, storage.MessageQueued)
				default:
					// steer channel full; leave queued and retry next tick.
				}
			}
		}
	}
}

// toSteer maps a queued BackgroundMessage onto a Steer value, tagging
// plain instructions with the source label (User->User, Agent->Api,
// System->Hook) the way the executor's own drainSteer tags user updates.
func toSteer(m *storage.BackgroundMessage) agent.Steer {
	s := agent.ParseSteer(m.Content)
	if s.Kind == agent.SteerInstruction {
		s.Instruction = fmt.Sprintf("[%s]: %s", sourceLabel(m.Source), s.Instruction)
	}
	return s
}

func sourceLabel(source storage.BackgroundMessageSource) string {
	switch source {
	case storage.SourceUser:
		return "User"
	case storage.SourceAgent:
		return "Api"
	case storage.SourceSystem:
		return "Hook"
	default:
		return "User"
	}
}

// finish persists the outcome, emits the matching TaskEvent, fires hooks,
// and sends notifications. Cancellation (explicit or pause-detected) is
// distinguished from the executor's own result because the run context
// was cancelled out from under it.
func (r *Runner) finish(ctx context.Context, task *storage.BackgroundAgent, result agent.Result, runStart time.Time, rt *runningTask, persistedStatus storage.BackgroundAgentStatus) {
	duration := time.Since(runStart).Milliseconds()

	r.mu.Lock()
	cancelled, reason := rt.cancelRequested, rt.cancelReason
	r.mu.Unlock()

	now := time.Now()
	task.LastRunAt = &now
	task.TotalTokens += result.TotalTokens
	task.TotalCostUSD += result.TotalCostUSD
	task.UpdatedAt = now

	switch {
	case cancelled:
		task.Status = storage.StatusPaused
		if err := r.Store.UpdateAgentStatus(ctx, task, persistedStatus); err != nil {
			r.logger.Warn().Err(err).Str("task_id", task.ID).Msg("persist cancelled state failed")
		}
		r.appendEvent(ctx, task.ID, storage.EventCancelled, reason, "", duration)
		r.Hooks.OnCancelled(ctx, HookContext{TaskID: task.ID, Name: task.Name, AgentID: task.AgentID, Mode: task.Mode.Kind, Reason: reason, DurationMs: duration})
		r.emitStream(TaskStreamEvent{Kind: TaskStreamCancelled, TaskID: task.ID, Reason: reason, DurationMs: duration})
		return

	case result.Success:
		task.SuccessCount++
		task.LastError = ""
		r.advanceSchedule(task, now)
		if err := r.Store.UpdateAgentStatus(ctx, task, persistedStatus); err != nil {
			r.logger.Warn().Err(err).Str("task_id", task.ID).Msg("persist completed state failed")
		}
		r.appendEvent(ctx, task.ID, storage.EventCompleted, "", result.Answer, duration)
		r.Hooks.OnCompleted(ctx, HookContext{TaskID: task.ID, Name: task.Name, AgentID: task.AgentID, Mode: task.Mode.Kind, Output: result.Answer, DurationMs: duration})
		r.emitStream(TaskStreamEvent{Kind: TaskStreamCompleted, TaskID: task.ID, Output: result.Answer, DurationMs: duration})
		r.notify(ctx, task, result.Answer, nil)

	case result.State.Status == agent.StatusResourceExhausted:
		task.FailureCount++
		task.LastError = result.Error
		r.advanceSchedule(task, now)
		if err := r.Store.UpdateAgentStatus(ctx, task, persistedStatus); err != nil {
			r.logger.Warn().Err(err).Str("task_id", task.ID).Msg("persist timeout state failed")
		}
		timeoutSecs := task.Mode.TimeoutSecs
		r.appendEvent(ctx, task.ID, storage.EventTimeout, fmt.Sprintf("timed out after %ds", timeoutSecs), "", duration)
		r.Hooks.OnFailed(ctx, HookContext{TaskID: task.ID, Name: task.Name, AgentID: task.AgentID, Mode: task.Mode.Kind, Error: result.Error, DurationMs: duration, Timeout: true})
		r.emitStream(TaskStreamEvent{Kind: TaskStreamTimeout, TaskID: task.ID, Error: result.Error, DurationMs: duration, Timeout: true, Seconds: timeoutSecs})
		r.notify(ctx, task, "", fmt.Errorf("%s", result.Error))

	default:
		task.FailureCount++
		task.LastError = result.Error
		r.advanceSchedule(task, now)
		if err := r.Store.UpdateAgentStatus(ctx, task, persistedStatus); err != nil {
			r.logger.Warn().Err(err).Str("task_id", task.ID).Msg("persist failed state failed")
		}
		r.appendEvent(ctx, task.ID, storage.EventFailed, result.Error, "", duration)
		r.Hooks.OnFailed(ctx, HookContext{TaskID: task.ID, Name: task.Name, AgentID: task.AgentID, Mode: task.Mode.Kind, Error: result.Error, DurationMs: duration})
		r.emitStream(TaskStreamEvent{Kind: TaskStreamFailed, TaskID: task.ID, Error: result.Error, DurationMs: duration})
		r.notify(ctx, task, "", fmt.Errorf("%s", result.Error))
	}
}

// advanceSchedule sets status and next_run_at after a run completes. A
// Once schedule becomes terminal with next_run_at cleared; a recurring
// schedule goes back to Active with a freshly computed next_run_at.
func (r *Runner) advanceSchedule(task *storage.BackgroundAgent, now time.Time) {
	if task.Schedule.Kind == storage.ScheduleOnce {
		if task.LastError == "" {
			task.Status = storage.StatusCompleted
		} else {
			task.Status = storage.StatusFailed
		}
		task.NextRunAt = nil
		return
	}

	task.Status = storage.StatusActive
	next, err := storage.NextRun(task.Schedule, now)
	if err != nil {
		r.logger.Warn().Err(err).Str("task_id", task.ID).Msg("compute next_run_at failed")
		task.NextRunAt = nil
		return
	}
	task.NextRunAt = next
}

func (r *Runner) notify(ctx context.Context, task *storage.BackgroundAgent, output string, taskErr error) {
	if !task.Notification.Enabled {
		return
	}
	if taskErr == nil && task.Notification.NotifyOnFailureOnly {
		return
	}
	accepted := notifyOutcome(ctx, task, output, taskErr, r.Router, r.Direct)
	if len(accepted) > 0 {
		r.appendEvent(ctx, task.ID, storage.EventNotificationSent, fmt.Sprintf("sinks: %v", accepted), "", 0)
	} else {
		r.appendEvent(ctx, task.ID, storage.EventNotificationFailed, "no sink accepted the notification", "", 0)
	}
}

func (r *Runner) appendEvent(ctx context.Context, taskID string, kind storage.TaskEventType, message, output string, durationMs int64) {
	evt := &storage.TaskEvent{
		ID:         uuid.NewString(),
		TaskID:     taskID,
		EventType:  kind,
		Timestamp:  time.Now(),
		Message:    message,
		Output:     output,
		DurationMs: durationMs,
	}
	if err := r.Store.AppendEvent(ctx, evt); err != nil {
		r.logger.Warn().Err(err).Str("task_id", taskID).Str("event_type", string(kind)).Msg("append task event failed")
	}
}
