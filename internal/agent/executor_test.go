package agent

import (
	"context"
	"encoding/json"
	"io"
	"testing"

	"github.com/rs/zerolog"

	"github.com/lhwzds/agentcore/internal/chatmsg"
	"github.com/lhwzds/agentcore/internal/llm"
)

// fakeClient replays a fixed sequence of responses, one per Complete call.
// The last response repeats once its sequence is exhausted, which lets a
// test drive an agent past its MaxIterations without a longer fixture.
type fakeClient struct {
	responses []llm.Response
	calls     int
}

func (f *fakeClient) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	i := f.calls
	if i >= len(f.responses) {
		i = len(f.responses) - 1
	}
	f.calls++
	return f.responses[i], nil
}

func (f *fakeClient) CompleteStream(ctx context.Context, req llm.Request, cb llm.StreamCallback) (llm.Response, error) {
	return f.Complete(ctx, req)
}

func (f *fakeClient) SupportsStreaming() bool { return false }

// echoTool always succeeds and reflects its args back in the result.
type echoTool struct{}

func (echoTool) Name() string                 { return "echo" }
func (echoTool) Description() string          { return "echoes its arguments" }
func (echoTool) Parameters() map[string]any   { return map[string]any{"type": "object"} }
func (echoTool) SupportsParallelFor(map[string]any) bool { return true }
func (echoTool) Execute(ctx context.Context, args map[string]any) (chatmsg.ToolOutput, error) {
	return chatmsg.ToolOutput{Success: true, Result: map[string]any{"echoed": args}}, nil
}

func discardLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func toolCallArgs(args string) []chatmsg.ToolCall {
	return []chatmsg.ToolCall{{ID: "call_1", Name: "echo", Arguments: args}}
}

func TestExecutorCompletesWithoutToolCalls(t *testing.T) {
	client := &fakeClient{responses: []llm.Response{
		{Content: "the answer is 4", FinishReason: llm.FinishStop, Usage: llm.Usage{TotalTokens: 10, CostUSD: 0.001}},
	}}
	reg := NewMapRegistry(echoTool{})
	exec := NewExecutor(client, reg, nil, nil, discardLogger())

	result := exec.Run(context.Background(), Config{}, "be helpful", nil)

	if !result.Success {
		t.Fatalf("expected success, got error %q", result.Error)
	}
	if result.Answer != "the answer is 4" {
		t.Errorf("answer = %q, want %q", result.Answer, "the answer is 4")
	}
	if result.Iterations != 1 {
		t.Errorf("iterations = %d, want 1", result.Iterations)
	}
	if result.TotalTokens != 10 {
		t.Errorf("total tokens = %d, want 10", result.TotalTokens)
	}
	if result.State.Status != StatusCompleted {
		t.Errorf("status = %v, want %v", result.State.Status, StatusCompleted)
	}
}

func TestExecutorDispatchesToolCallThenCompletes(t *testing.T) {
	client := &fakeClient{responses: []llm.Response{
		{ToolCalls: toolCallArgs(`{"x": 1}`), FinishReason: llm.FinishToolCalls},
		{Content: "done", FinishReason: llm.FinishStop},
	}}
	reg := NewMapRegistry(echoTool{})
	exec := NewExecutor(client, reg, nil, nil, discardLogger())

	result := exec.Run(context.Background(), Config{}, "be helpful", nil)

	if !result.Success {
		t.Fatalf("expected success, got error %q", result.Error)
	}
	if result.Answer != "done" {
		t.Errorf("answer = %q, want %q", result.Answer, "done")
	}
	if result.Iterations != 2 {
		t.Errorf("iterations = %d, want 2", result.Iterations)
	}

	var sawToolResult bool
	for _, m := range result.State.Messages {
		if m.Role == chatmsg.RoleTool && m.ToolCallID == "call_1" {
			sawToolResult = true
			if m.Content == "" {
				t.Error("tool result message has empty content")
			}
		}
	}
	if !sawToolResult {
		t.Error("expected a tool-result message in the transcript")
	}
}

func TestExecutorMaxIterations(t *testing.T) {
	client := &fakeClient{responses: []llm.Response{
		{ToolCalls: toolCallArgs(`{"x": 1}`), FinishReason: llm.FinishToolCalls},
		{ToolCalls: toolCallArgs(`{"x": 2}`), FinishReason: llm.FinishToolCalls},
		{ToolCalls: toolCallArgs(`{"x": 3}`), FinishReason: llm.FinishToolCalls},
	}}
	reg := NewMapRegistry(echoTool{})
	exec := NewExecutor(client, reg, nil, nil, discardLogger())

	// Arguments differ each turn, so the stuck detector never trips here;
	// MaxIterations is what ends the run.
	cfg := Config{MaxIterations: 3}
	result := exec.Run(context.Background(), cfg, "be helpful", nil)

	if result.Success {
		t.Fatal("expected failure on exhausted iterations")
	}
	if result.State.Status != StatusMaxIterations {
		t.Errorf("status = %v, want %v", result.State.Status, StatusMaxIterations)
	}
	if result.Iterations != 3 {
		t.Errorf("iterations = %d, want 3", result.Iterations)
	}
}

func TestExecutorStuckDetectorStops(t *testing.T) {
	// The same call repeated forever trips the default stuck window (3)
	// well before MaxIterations is reached.
	repeated := llm.Response{ToolCalls: toolCallArgs(`{"x": 1}`), FinishReason: llm.FinishToolCalls}
	client := &fakeClient{responses: []llm.Response{repeated}}
	reg := NewMapRegistry(echoTool{})
	exec := NewExecutor(client, reg, nil, nil, discardLogger())

	cfg := Config{MaxIterations: 20, Stuck: StuckConfig{Enabled: true, RepeatWindow: 3, Action: StuckStop}}
	result := exec.Run(context.Background(), cfg, "be helpful", nil)

	if result.Success {
		t.Fatal("expected failure once the stuck detector trips")
	}
	if result.Iterations >= 20 {
		t.Errorf("expected the stuck detector to stop well short of MaxIterations, got %d iterations", result.Iterations)
	}
	if result.Error == "" {
		t.Error("expected a non-empty stop reason")
	}
}

func TestExecutorRunStreamEmitsTerminalStep(t *testing.T) {
	client := &fakeClient{responses: []llm.Response{
		{Content: "streamed answer", FinishReason: llm.FinishStop},
	}}
	reg := NewMapRegistry(echoTool{})
	exec := NewExecutor(client, reg, nil, nil, discardLogger())

	steps := exec.RunStream(context.Background(), Config{}, "be helpful", nil)

	var last ExecutionStep
	var sawStarted bool
	for step := range steps {
		if step.Kind == StepStarted {
			sawStarted = true
		}
		last = step
	}

	if !sawStarted {
		t.Error("expected a StepStarted event")
	}
	if last.Kind != StepCompleted {
		t.Errorf("last step kind = %v, want %v", last.Kind, StepCompleted)
	}
	if last.FinalAnswer != "streamed answer" {
		t.Errorf("final answer = %q, want %q", last.FinalAnswer, "streamed answer")
	}
}

func TestExecutorLLMErrorFails(t *testing.T) {
	exec := NewExecutor(&erroringClient{}, NewMapRegistry(echoTool{}), nil, nil, discardLogger())

	result := exec.Run(context.Background(), Config{}, "be helpful", nil)

	if result.Success {
		t.Fatal("expected failure when the LLM call errors")
	}
	if result.State.Status != StatusFailed {
		t.Errorf("status = %v, want %v", result.State.Status, StatusFailed)
	}
}

type erroringClient struct{}

func (erroringClient) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	return llm.Response{}, errBoom
}
func (erroringClient) CompleteStream(ctx context.Context, req llm.Request, cb llm.StreamCallback) (llm.Response, error) {
	return llm.Response{}, errBoom
}
func (erroringClient) SupportsStreaming() bool { return false }

var errBoom = &boomError{}

type boomError struct{}

func (*boomError) Error() string { return "boom" }

func TestToCallsParsesArguments(t *testing.T) {
	tcs := []chatmsg.ToolCall{{ID: "c1", Name: "echo", Arguments: `{"a": 1}`}}
	calls := toCalls(tcs)
	if len(calls) != 1 || calls[0].ID != "c1" || calls[0].Name != "echo" {
		t.Fatalf("unexpected calls: %+v", calls)
	}
	var raw map[string]any
	_ = json.Unmarshal([]byte(tcs[0].Arguments), &raw)
	if calls[0].Args["a"] != raw["a"] {
		t.Errorf("args = %v, want %v", calls[0].Args, raw)
	}
}
