package scheduler

import (
	"context"
	"time"

	"github.com/lhwzds/agentcore/internal/agent"
	"github.com/lhwzds/agentcore/internal/chatmsg"
	"github.com/lhwzds/agentcore/internal/storage"
)

// AgentTaskExecutor adapts an *agent.Executor into a TaskExecutor. It is
// the only executor this module wires by default; Cli-mode tasks run
// through the same in-process executor, and of their ExecutionMode only
// TimeoutSecs is consumed, as the run timeout.
type AgentTaskExecutor struct {
	Executor     *agent.Executor
	SystemPrompt string
	Config       agent.Config
}

// RunTask wires the task's rendered input as the seed user message and
// the given steer channel as the executor's live steer source, then runs
// to completion.
func (a *AgentTaskExecutor) RunTask(ctx context.Context, task *storage.BackgroundAgent, input string, steer <-chan agent.Steer) agent.Result {
	executor := *a.Executor
	executor.Steer = steer
	executor.Deferred = agent.NewDeferredManager()

	cfg := a.Config
	if task.Mode.Kind == storage.ExecutionModeCLI && task.Mode.TimeoutSecs > 0 {
		cfg.RunTimeout = time.Duration(task.Mode.TimeoutSecs) * time.Second
	}

	seed := []chatmsg.Message{{Role: chatmsg.RoleUser, Content: input}}
	return executor.Run(ctx, cfg, a.SystemPrompt, seed)
}
