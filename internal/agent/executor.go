package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/lhwzds/agentcore/internal/chatmsg"
	"github.com/lhwzds/agentcore/internal/contextmgr"
	"github.com/lhwzds/agentcore/internal/llm"
	"github.com/lhwzds/agentcore/internal/tokenest"
)

// Executor drives the turn-by-turn ReAct loop: call the model, dispatch
// tool calls, retry, time out, detect stuck patterns, stream events, and
// surface a final answer. Both Run and RunStream share this single
// internal path so the two entry points are behaviorally identical.
type Executor struct {
	LLM        llm.Client
	Registry   Registry
	ContextMgr *contextmgr.Manager
	Summarize  contextmgr.Summarizer
	Deferred   *DeferredManager
	Steer      <-chan Steer
	Router     ModelRouter // optional; nil disables per-turn model routing

	logger zerolog.Logger
}

// ModelRouter lets a SwappableLlm switch models based on the shape of the
// current turn. It is an external collaborator; nil disables routing.
type ModelRouter interface {
	RouteTurn(toolsUsed []string, iteration int, hadFailure bool) string
	SwitchModel(model string)
}

// NewExecutor wires the collaborators the loop needs. logger is injected
// by the caller rather than pulled from a global.
func NewExecutor(client llm.Client, reg Registry, cm *contextmgr.Manager, summarize contextmgr.Summarizer, logger zerolog.Logger) *Executor {
	return &Executor{
		LLM:        client,
		Registry:   reg,
		ContextMgr: cm,
		Summarize:  summarize,
		Deferred:   NewDeferredManager(),
		logger:     logger.With().Str("component", "executor").Logger(),
	}
}

// Run executes config to completion and returns the final Result. It
// shares run's internal path with RunStream but calls it synchronously
// with a sink that keeps only the terminal step's fields, so it can
// return the final State directly.
func (e *Executor) Run(ctx context.Context, cfg Config, systemPrompt string, seed []chatmsg.Message) Result {
	cfg = cfg.WithDefaults()

	var result Result
	sink := func(step ExecutionStep) {
		switch step.Kind {
		case StepCompleted:
			result.Success = true
			result.Answer = step.FinalAnswer
			result.Iterations = step.Iterations
			result.TotalTokens = step.TotalTokens
			result.TotalCostUSD = step.TotalCostUSD
			result.ResourceUsage = ResourceUsage{TotalTokens: step.TotalTokens, TotalCostUSD: step.TotalCostUSD, WallClockMs: step.WallClockMs}
		case StepFailed:
			result.Success = false
			result.Error = step.Err
			result.Iterations = step.Iterations
			result.TotalTokens = step.TotalTokens
			result.TotalCostUSD = step.TotalCostUSD
			result.ResourceUsage = ResourceUsage{TotalTokens: step.TotalTokens, TotalCostUSD: step.TotalCostUSD, WallClockMs: step.WallClockMs}
		}
	}

	result.State = e.run(ctx, cfg, systemPrompt, seed, sink)
	return result
}

// RunStream executes config and returns a finite channel of
// ExecutionSteps, terminating with exactly one Completed or Failed step.
// The channel is closed once the run reaches a terminal state.
func (e *Executor) RunStream(ctx context.Context, cfg Config, systemPrompt string, seed []chatmsg.Message) <-chan ExecutionStep {
	cfg = cfg.WithDefaults()
	out := make(chan ExecutionStep, 16)

	go func() {
		defer close(out)
		sink := func(step ExecutionStep) {
			select {
			case out <- step:
			case <-ctx.Done():
			}
		}
		e.run(ctx, cfg, systemPrompt, seed, sink)
	}()

	return out
}

func (e *Executor) run(ctx context.Context, cfg Config, systemPrompt string, seed []chatmsg.Message, sink StepSink) State {
	state := State{
		ExecutionID:   uuid.NewString(),
		MaxIterations: cfg.MaxIterations,
		Status:        StatusRunning,
		Context:       map[string]any{},
	}
	state.Messages = append([]chatmsg.Message{{Role: chatmsg.RoleSystem, Content: systemPrompt}}, seed...)

	sink(ExecutionStep{Kind: StepStarted, ExecutionID: state.ExecutionID})

	scratchpad := NewScratchpadWriter(cfg.ScratchpadDir, state.ExecutionID)
	scratchpad.ExecutionStart(state.ExecutionID)

	runCtx, cancel := context.WithTimeout(ctx, cfg.RunTimeout)
	defer cancel()
	runStart := time.Now()

	dispatcher := &Dispatcher{Registry: e.Registry, Timeout: cfg.ToolTimeout}
	truncator := NewOutputTruncator(cfg.ScratchpadDir)
	stuck := NewStuckDetector(cfg.Stuck)

	var totalTokens int
	var totalCostUSD float64

	for state.Iteration = 0; state.Iteration < cfg.MaxIterations; state.Iteration++ {
		scratchpad.IterationBegin(state.Iteration)

		// 1. Steer drain.
		e.drainSteer(&state, sink)

		// 2. Deferred resolution drain.
		if e.Deferred != nil {
			e.Deferred.CheckTimeouts(time.Now())
			e.drainDeferred(runCtx, &state, dispatcher, truncator, sink)
		}

		// 3. Resource/wall-clock check.
		if runCtx.Err() != nil {
			e.finishResourceExhausted(&state, sink, "run timeout exceeded", totalTokens, totalCostUSD, time.Since(runStart).Milliseconds())
			scratchpad.ExecutionComplete(state.Iteration, false, "run timeout exceeded")
			e.checkpoint(cfg, state)
			return state
		}

		// 4. Optional model routing.
		if e.Router != nil {
			target := e.Router.RouteTurn(state.LastToolNames, state.Iteration, state.Error != "")
			if target != "" {
				e.Router.SwitchModel(target)
			}
		}

		// 5. Context compaction.
		if e.ContextMgr != nil {
			e.ContextMgr.TickCooldown()
			if e.ContextMgr.ShouldCompact(state.Messages) && e.Summarize != nil {
				out, result, err := e.ContextMgr.Compact(runCtx, state.Messages, e.Summarize)
				if err != nil {
					e.logger.Warn().Err(err).Str("execution_id", state.ExecutionID).Msg("compact failed")
				} else if result.MessagesReplaced > 0 {
					state.Messages = out
					e.logger.Debug().
						Int("messages_replaced", result.MessagesReplaced).
						Int("before", result.EstimateBefore).
						Int("after", result.EstimateAfter).
						Msg("compacted context")
				}
			}
		}

		// 6. Build request: sanitize tool-call history, attach schemas.
		sanitized := state.Messages
		if e.ContextMgr != nil {
			sanitized = e.ContextMgr.Sanitize(sanitized)
		}
		req := llm.Request{
			Messages:        sanitized,
			Temperature:     cfg.Temperature,
			MaxOutputTokens: cfg.MaxOutputTokens,
		}
		if e.Registry != nil {
			req.Tools = e.Registry.Schemas()
		}

		// 7. Call model.
		resp, err := e.callModel(runCtx, cfg, req, sink, scratchpad, state.Iteration)
		if err != nil {
			reason := fmt.Sprintf("LLM call failed: %v", err)
			scratchpad.Error(state.Iteration, reason)
			e.finishFailed(&state, sink, reason, totalTokens, totalCostUSD, time.Since(runStart).Milliseconds())
			scratchpad.ExecutionComplete(state.Iteration, false, reason)
			e.checkpoint(cfg, state)
			return state
		}
		if e.ContextMgr != nil && resp.Usage.PromptTokens > 0 {
			e.ContextMgr.Estimator.Calibrate(tokenest.RawTokens(sanitized), resp.Usage.PromptTokens)
		}
		totalTokens += resp.Usage.TotalTokens
		totalCostUSD += resp.Usage.CostUSD

		// 8. No tool calls → terminal, or 9. dispatch tool calls.
		if len(resp.ToolCalls) == 0 {
			switch resp.FinishReason {
			case llm.FinishMaxTokens:
				e.finishFailed(&state, sink, "response truncated: max tokens reached", totalTokens, totalCostUSD, time.Since(runStart).Milliseconds())
				scratchpad.ExecutionComplete(state.Iteration, false, "response truncated: max tokens reached")
				e.checkpoint(cfg, state)
				return state
			case llm.FinishError:
				e.finishFailed(&state, sink, "LLM returned an error", totalTokens, totalCostUSD, time.Since(runStart).Milliseconds())
				scratchpad.ExecutionComplete(state.Iteration, false, "LLM returned an error")
				e.checkpoint(cfg, state)
				return state
			}
			if resp.Content == "" && state.Iteration == 0 {
				e.logger.Debug().Msg("empty first response, retrying")
				continue
			}
			state.Messages = append(state.Messages, chatmsg.Message{Role: chatmsg.RoleAssistant, Content: resp.Content})
			e.finishCompleted(&state, sink, resp.Content, totalTokens, totalCostUSD, time.Since(runStart).Milliseconds())
			scratchpad.ExecutionComplete(state.Iteration, true, resp.Content)
			e.checkpoint(cfg, state)
			return state
		}

		assistantMsg := chatmsg.Message{Role: chatmsg.RoleAssistant, Content: resp.Content, ToolCalls: resp.ToolCalls}
		state.Messages = append(state.Messages, assistantMsg)

		calls := toCalls(resp.ToolCalls)
		state.LastToolNames = toolNames(calls)

		for _, c := range calls {
			argsJSON, _ := json.Marshal(c.Args)
			scratchpad.ToolCall(state.Iteration, c.ID, c.Name, string(argsJSON))
		}

		results := dispatcher.Dispatch(runCtx, calls, sink)

		var stopSignaled bool
		for _, r := range results {
			if r.Output.PendingApproval() {
				approvalID, _ := r.Output.Result["approval_id"].(string)
				e.Deferred.Defer(r.ID, r.Name, callArgsByID(calls, r.ID), approvalID)
				state.Messages = append(state.Messages, chatmsg.Message{
					Role:       chatmsg.RoleTool,
					Content:    "[awaiting approval]",
					ToolCallID: r.ID,
				})
				scratchpad.ToolResult(state.Iteration, r.ID, r.Name, false, "[awaiting approval]")
				continue
			}

			content := renderToolContent(r.Output)
			content = truncator.Truncate(r.Name, r.ID, content)
			state.Messages = append(state.Messages, chatmsg.Message{
				Role:       chatmsg.RoleTool,
				Content:    content,
				ToolCallID: r.ID,
			})
			scratchpad.ToolResult(state.Iteration, r.ID, r.Name, r.Output.Success, content)

			if cfg.Stuck.Enabled {
				argsJSON, _ := json.Marshal(callArgsByID(calls, r.ID))
				if signal, hit := stuck.Record(r.Name, string(argsJSON)); hit {
					switch cfg.Stuck.Action {
					case StuckStop:
						state.Messages = append(state.Messages, chatmsg.Message{
							Role:    chatmsg.RoleSystem,
							Content: "Stuck pattern detected: " + signal.Message,
						})
						stopSignaled = true
					default:
						state.Messages = append(state.Messages, chatmsg.Message{
							Role:    chatmsg.RoleSystem,
							Content: signal.Message,
						})
					}
				}
			}
		}

		if stopSignaled {
			e.finishFailed(&state, sink, "stopped: repeated tool call pattern detected", totalTokens, totalCostUSD, time.Since(runStart).Milliseconds())
			scratchpad.ExecutionComplete(state.Iteration, false, "stopped: repeated tool call pattern detected")
			e.checkpoint(cfg, state)
			return state
		}

		// 10. Checkpoint.
		if cfg.Checkpoint.Kind == CheckpointPerTurn {
			e.checkpoint(cfg, state)
		} else if cfg.Checkpoint.Kind == CheckpointPeriodic && cfg.Checkpoint.Period > 0 && state.Iteration%cfg.Checkpoint.Period == 0 {
			e.checkpoint(cfg, state)
		}
	}

	state.Status = StatusMaxIterations
	state.Error = "max iterations reached"
	sink(ExecutionStep{
		Kind:         StepFailed,
		Err:          state.Error,
		Iterations:   state.Iteration,
		TotalTokens:  totalTokens,
		TotalCostUSD: totalCostUSD,
		WallClockMs:  time.Since(runStart).Milliseconds(),
	})
	scratchpad.ExecutionComplete(state.Iteration, false, state.Error)
	e.checkpoint(cfg, state)
	return state
}

func (e *Executor) callModel(ctx context.Context, cfg Config, req llm.Request, sink StepSink, scratchpad *ScratchpadWriter, iteration int) (llm.Response, error) {
	callCtx, cancel := context.WithTimeout(ctx, cfg.LLMCallTimeout)
	defer cancel()

	if e.LLM.SupportsStreaming() {
		return e.LLM.CompleteStream(callCtx, req, func(_ context.Context, chunk llm.StreamChunk) error {
			if chunk.TextDelta != "" {
				sink(ExecutionStep{Kind: StepTextDelta, Content: chunk.TextDelta})
				scratchpad.TextDelta(iteration, chunk.TextDelta)
			}
			if chunk.ThinkingDelta != "" {
				sink(ExecutionStep{Kind: StepThinkingDelta, Content: chunk.ThinkingDelta})
				scratchpad.Thinking(iteration, chunk.ThinkingDelta)
			}
			return nil
		})
	}
	return e.LLM.Complete(callCtx, req)
}

func (e *Executor) drainSteer(state *State, sink StepSink) {
	if e.Steer == nil {
		return
	}
	for _, s := range DrainSteer(e.Steer) {
		switch s.Kind {
		case SteerInstruction:
			state.Messages = append(state.Messages, chatmsg.Message{
				Role:    chatmsg.RoleUser,
				Content: "[User Update]: " + s.Instruction,
			})
		case SteerApproval:
			if e.Deferred != nil {
				if err := e.Deferred.ResolveByApprovalID(s.ApprovalID, s.Approved, s.Reason); err != nil {
					e.logger.Warn().Err(err).Str("approval_id", s.ApprovalID).Msg("steer approval resolution failed")
				}
			}
			note := fmt.Sprintf("Approval %s resolved: approved=%v", s.ApprovalID, s.Approved)
			state.Messages = append(state.Messages, chatmsg.Message{Role: chatmsg.RoleSystem, Content: note})
		}
	}
}

func (e *Executor) drainDeferred(ctx context.Context, state *State, d *Dispatcher, truncator *OutputTruncator, sink StepSink) {
	if e.Deferred == nil {
		return
	}
	for _, pc := range e.Deferred.DrainResolved() {
		var content string
		switch pc.Status {
		case ApprovalApproved:
			call := Call{ID: pc.CallID, Name: pc.ToolName, Args: pc.Args}
			output := d.executeWithRetry(ctx, call)
			content = renderToolContent(output)
		case ApprovalDenied:
			content = fmt.Sprintf("[Approval denied]: %s", pc.Reason)
		case ApprovalTimedOut:
			content = "[Approval timed out before a decision was made]"
		}
		content = truncator.Truncate(pc.ToolName, pc.CallID, content)
		state.Messages = append(state.Messages, chatmsg.Message{
			Role:       chatmsg.RoleTool,
			Content:    content,
			ToolCallID: pc.CallID,
		})
		sink(ExecutionStep{Kind: StepToolCallResult, ToolCallID: pc.CallID, ToolName: pc.ToolName, Success: pc.Status == ApprovalApproved})
	}
}

func (e *Executor) finishCompleted(state *State, sink StepSink, answer string, tokens int, cost float64, wallClockMs int64) {
	state.Status = StatusCompleted
	state.FinalAnswer = answer
	sink(ExecutionStep{Kind: StepCompleted, FinalAnswer: answer, Iterations: state.Iteration + 1, TotalTokens: tokens, TotalCostUSD: cost, WallClockMs: wallClockMs})
}

func (e *Executor) finishFailed(state *State, sink StepSink, reason string, tokens int, cost float64, wallClockMs int64) {
	state.Status = StatusFailed
	state.Error = reason
	sink(ExecutionStep{Kind: StepFailed, Err: reason, Iterations: state.Iteration + 1, TotalTokens: tokens, TotalCostUSD: cost, WallClockMs: wallClockMs})
}

func (e *Executor) finishResourceExhausted(state *State, sink StepSink, reason string, tokens int, cost float64, wallClockMs int64) {
	state.Status = StatusResourceExhausted
	state.Error = reason
	sink(ExecutionStep{Kind: StepFailed, Err: reason, Iterations: state.Iteration + 1, TotalTokens: tokens, TotalCostUSD: cost, WallClockMs: wallClockMs})
}

func (e *Executor) checkpoint(cfg Config, state State) {
	if cfg.OnCheckpoint != nil {
		cfg.OnCheckpoint(state)
	}
}

func toCalls(tcs []chatmsg.ToolCall) []Call {
	out := make([]Call, len(tcs))
	for i, tc := range tcs {
		var args map[string]any
		_ = json.Unmarshal([]byte(tc.Arguments), &args)
		out[i] = Call{ID: tc.ID, Name: tc.Name, Args: args}
	}
	return out
}

func toolNames(calls []Call) []string {
	out := make([]string, len(calls))
	for i, c := range calls {
		out[i] = c.Name
	}
	return out
}

func callArgsByID(calls []Call, id string) map[string]any {
	for _, c := range calls {
		if c.ID == id {
			return c.Args
		}
	}
	return nil
}

func renderToolContent(output chatmsg.ToolOutput) string {
	if output.Success {
		b, err := json.Marshal(output.Result)
		if err != nil {
			return fmt.Sprintf("Error: failed to encode tool result: %v", err)
		}
		return string(b)
	}
	return "Error: " + output.Error
}
