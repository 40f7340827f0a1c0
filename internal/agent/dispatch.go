package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lhwzds/agentcore/internal/chatmsg"
)

// MaxToolRetries is the number of additional attempts (beyond the first)
// made for a retryable tool failure.
const MaxToolRetries = 2

// DefaultToolTimeout bounds a single tool invocation.
const DefaultToolTimeout = 30 * time.Second

// Call is one tool invocation requested by the model in a single turn.
type Call struct {
	ID   string
	Name string
	Args map[string]any
}

// CallResult is the outcome of dispatching one Call.
type CallResult struct {
	ID     string
	Name   string
	Output chatmsg.ToolOutput
}

// Dispatcher runs a batch of tool calls for one turn, deciding between
// both parallel and sequential execution.
type Dispatcher struct {
	Registry Registry
	Timeout  time.Duration
}

// NewDispatcher returns a Dispatcher with the default tool timeout.
func NewDispatcher(reg Registry) *Dispatcher {
	return &Dispatcher{Registry: reg, Timeout: DefaultToolTimeout}
}

// Dispatch executes calls as one batch, emitting start/result steps to
// sink, and returns results in submission order regardless of execution
// order or completion order.
func (d *Dispatcher) Dispatch(ctx context.Context, calls []Call, sink StepSink) []CallResult {
	if sink == nil {
		sink = noopSink
	}
	if d.allSupportParallel(calls) && len(calls) > 1 {
		return d.dispatchParallel(ctx, calls, sink)
	}
	return d.dispatchSequential(ctx, calls, sink)
}

func (d *Dispatcher) allSupportParallel(calls []Call) bool {
	for _, c := range calls {
		t, ok := d.Registry.Lookup(c.Name)
		if !ok || !t.SupportsParallelFor(c.Args) {
			return false
		}
	}
	return true
}

func (d *Dispatcher) dispatchSequential(ctx context.Context, calls []Call, sink StepSink) []CallResult {
	out := make([]CallResult, len(calls))
	for i, c := range calls {
		sink(ExecutionStep{Kind: StepToolCallStart, ToolCallID: c.ID, ToolName: c.Name, Arguments: fmt.Sprint(c.Args)})
		output := d.executeWithRetry(ctx, c)
		out[i] = CallResult{ID: c.ID, Name: c.Name, Output: output}
		sink(ExecutionStep{Kind: StepToolCallResult, ToolCallID: c.ID, ToolName: c.Name, Success: output.Success})
	}
	return out
}

// dispatchParallel fans calls out across an errgroup.Group. Each goroutine
// captures its own result slot and never returns an error to the group:
// one tool panicking or failing must not cancel its siblings, so the
// group's built-in first-error cancellation is deliberately unused.
func (d *Dispatcher) dispatchParallel(ctx context.Context, calls []Call, sink StepSink) []CallResult {
	for _, c := range calls {
		sink(ExecutionStep{Kind: StepToolCallStart, ToolCallID: c.ID, ToolName: c.Name, Arguments: fmt.Sprint(c.Args)})
	}

	out := make([]CallResult, len(calls))
	g, gctx := errgroup.WithContext(ctx)
	for i, c := range calls {
		i, c := i, c
		g.Go(func() error {
			out[i] = CallResult{ID: c.ID, Name: c.Name, Output: d.safeExecuteWithRetry(gctx, c)}
			return nil
		})
	}
	_ = g.Wait()

	for _, r := range out {
		sink(ExecutionStep{Kind: StepToolCallResult, ToolCallID: r.ID, ToolName: r.Name, Success: r.Output.Success})
	}
	return out
}

// safeExecuteWithRetry wraps executeWithRetry with panic recovery so a
// misbehaving tool can't bring down the rest of the batch.
func (d *Dispatcher) safeExecuteWithRetry(ctx context.Context, c Call) (out chatmsg.ToolOutput) {
	defer func() {
		if r := recover(); r != nil {
			out = chatmsg.ToolOutput{
				Success:       false,
				Error:         fmt.Sprintf("tool %q panicked: %v", c.Name, r),
				ErrorCategory: chatmsg.ErrorOther,
			}
		}
	}()
	return d.executeWithRetry(ctx, c)
}

// executeWithRetry runs one call up to 1+MaxToolRetries times while the
// output reports a retryable, non-deferred failure, honoring
// RetryAfterMs between attempts, applying the per-call timeout, and
// rewriting non-retryable Auth/Config errors into a steering hint.
func (d *Dispatcher) executeWithRetry(ctx context.Context, c Call) chatmsg.ToolOutput {
	var output chatmsg.ToolOutput
	for attempt := 0; attempt <= MaxToolRetries; attempt++ {
		output = d.executeOnce(ctx, c)

		if output.Success || output.PendingApproval() || !output.Retryable {
			break
		}
		if attempt == MaxToolRetries {
			break
		}
		if output.RetryAfterMs > 0 {
			select {
			case <-time.After(time.Duration(output.RetryAfterMs) * time.Millisecond):
			case <-ctx.Done():
				return output
			}
		}
	}

	if !output.Success && !output.Retryable &&
		(output.ErrorCategory == chatmsg.ErrorAuth || output.ErrorCategory == chatmsg.ErrorConfig) {
		output.Error = rewriteAsHint(output.Error)
	}

	return output
}

func rewriteAsHint(msg string) string {
	msg = strings.TrimRight(msg, ". ")
	return msg + ". Try a different approach."
}

func (d *Dispatcher) executeOnce(ctx context.Context, c Call) chatmsg.ToolOutput {
	timeout := d.Timeout
	if timeout <= 0 {
		timeout = DefaultToolTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		out chatmsg.ToolOutput
		err error
	}
	ch := make(chan result, 1)
	go func() {
		out, err := d.Registry.ExecuteSafe(callCtx, c.Name, c.Args)
		ch <- result{out, err}
	}()

	select {
	case r := <-ch:
		if r.err != nil {
			return chatmsg.ToolOutput{
				Success:       false,
				Error:         r.err.Error(),
				ErrorCategory: chatmsg.ErrorOther,
				Retryable:     true,
			}
		}
		return r.out
	case <-callCtx.Done():
		return chatmsg.ToolOutput{
			Success:       false,
			Error:         fmt.Sprintf("Tool %s timed out", c.Name),
			ErrorCategory: chatmsg.ErrorNetwork,
			Retryable:     false,
		}
	}
}
