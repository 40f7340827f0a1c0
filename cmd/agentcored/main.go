// Command agentcored wires storage, the context manager, the file tool,
// and the ReAct executor into a scheduler.Runner and drives it until
// SIGINT or SIGTERM. It is bootstrap plumbing only: no CLI subcommands,
// no TUI, no HTTP or MCP server. An embedder supplies a real llm.Client
// and, if channel notifications are wanted, a scheduler.ChannelRouter or
// DirectSender; this binary runs with neither.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/lhwzds/agentcore/internal/agent"
	"github.com/lhwzds/agentcore/internal/config"
	"github.com/lhwzds/agentcore/internal/contextmgr"
	"github.com/lhwzds/agentcore/internal/filetool"
	"github.com/lhwzds/agentcore/internal/scheduler"
)

// defaultSystemPrompt is used for every background-agent run. It is not
// configurable per task; storage.BackgroundAgent carries no system-prompt
// override.
const defaultSystemPrompt = "You are an autonomous background agent. Use the available tools to complete the assigned task, then report your result."

func main() {
	configPath := flag.String("config", "agentcore.yaml", "path to the YAML configuration file")
	flag.Parse()

	bootLogger := zerolog.New(os.Stderr).With().Timestamp().Logger()

	if err := run(*configPath); err != nil {
		bootLogger.Error().Err(err).Msg("agentcored exited with an error")
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := newLogger(cfg.Log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := cfg.Storage.Open(ctx)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer store.Close()

	fileTool, err := cfg.FileTool.Open()
	if err != nil {
		return fmt.Errorf("open file tool: %w", err)
	}

	registry := agent.NewMapRegistry(filetool.NewAgentTool(fileTool))

	cm := contextmgr.New(cfg.Context.ToContextmgrConfig())

	client := unconfiguredClient{provider: cfg.LLM.Provider}

	executor := agent.NewExecutor(client, registry, cm, summarizerFor(client), logger)

	taskExecutor := &scheduler.AgentTaskExecutor{
		Executor:     executor,
		SystemPrompt: defaultSystemPrompt,
		Config:       cfg.Executor.ToAgentConfig(),
	}

	runner := scheduler.NewRunner(store, taskExecutor, scheduler.NoopHooks{}, nil, nil, cfg.Runner.ToSchedulerConfig(), logger)
	runner.HeartbeatInterval = cfg.Runner.HeartbeatInterval()
	runner.Heartbeat = heartbeatLogger(logger)
	runner.Stream = taskStreamLogger(logger)

	logger.Info().Str("config", configPath).Str("storage_backend", cfg.Storage.Backend).Msg("agentcored starting")

	runErrCh := make(chan error, 1)
	go func() { runErrCh <- runner.Run(ctx) }()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info().Str("signal", sig.String()).Msg("shutdown signal received, stopping")
		cancel()
	case err := <-runErrCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("runner stopped: %w", err)
		}
		return nil
	}

	select {
	case <-runErrCh:
	case <-time.After(30 * time.Second):
		logger.Warn().Msg("timed out waiting for in-flight tasks to unwind")
	}

	logger.Info().Msg("agentcored stopped")
	return nil
}

// newLogger builds a zerolog.Logger from cfg, using a human-readable
// console writer when Pretty is set and structured JSON otherwise.
func newLogger(cfg config.LogConfig) zerolog.Logger {
	var logger zerolog.Logger
	if cfg.Pretty {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	} else {
		logger = zerolog.New(os.Stderr)
	}
	logger = logger.With().Timestamp().Logger()

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	return logger.Level(level)
}

// heartbeatLogger logs every scheduler.HeartbeatEvent (pulses at Debug
// level, status changes at Info) so an
// operator watching the process's own logs sees liveness without needing
// a separate metrics surface — this binary has no HTTP server to expose
// one on (explicit non-goal).
func heartbeatLogger(logger zerolog.Logger) scheduler.HeartbeatSink {
	return func(evt scheduler.HeartbeatEvent) {
		switch evt.Kind {
		case scheduler.HeartbeatPulse:
			logger.Debug().
				Uint64("sequence", evt.Sequence).
				Int("active_tasks", evt.ActiveTasks).
				Int("pending_tasks", evt.PendingTasks).
				Int64("uptime_ms", evt.UptimeMs).
				Msg("heartbeat")
		case scheduler.HeartbeatStatusChange:
			logger.Info().Str("status", string(evt.Status)).Str("message", evt.Message).Msg("runner status change")
		}
	}
}

// taskStreamLogger logs every scheduler.TaskStreamEvent at Info level. This
// binary has no live subscriber for per-task progress, so the process log is
// the only consumer; an embedder wiring a real subscriber replaces this sink.
func taskStreamLogger(logger zerolog.Logger) scheduler.TaskStreamSink {
	return func(evt scheduler.TaskStreamEvent) {
		l := logger.Info().Str("task_id", evt.TaskID).Str("kind", string(evt.Kind))
		switch evt.Kind {
		case scheduler.TaskStreamStarted:
			l = l.Str("name", evt.Name).Str("agent_id", evt.AgentID)
		case scheduler.TaskStreamCompleted:
			l = l.Int64("duration_ms", evt.DurationMs)
		case scheduler.TaskStreamFailed:
			l = l.Str("error", evt.Error).Int64("duration_ms", evt.DurationMs)
		case scheduler.TaskStreamCancelled:
			l = l.Str("reason", evt.Reason).Int64("duration_ms", evt.DurationMs)
		case scheduler.TaskStreamTimeout:
			l = l.Int("timeout_secs", evt.Seconds).Int64("duration_ms", evt.DurationMs)
		}
		l.Msg("task stream event")
	}
}
