package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/lhwzds/agentcore/internal/agent"
	"github.com/lhwzds/agentcore/internal/storage"
)

func TestTaskStreamEmitsStartedThenCompleted(t *testing.T) {
	store := newFakeStore()
	task := &storage.BackgroundAgent{
		ID:       "t1",
		Name:     "one-shot",
		AgentID:  "a1",
		Input:    "hello",
		Schedule: storage.Schedule{Kind: storage.ScheduleOnce, RunAt: time.Now().Add(-time.Minute)},
		Status:   storage.StatusActive,
		Mode:     storage.ExecutionMode{Kind: storage.ExecutionModeAPI},
		NextRunAt: func() *time.Time { t := time.Now().Add(-time.Minute); return &t }(),
	}
	_ = store.SaveAgent(context.Background(), task)

	exec := &fakeTaskExecutor{result: agent.Result{Success: true, Answer: "done", State: agent.State{Status: agent.StatusCompleted}}}
	runner := NewRunner(store, exec, nil, nil, nil, RunnerConfig{PollInterval: 20 * time.Millisecond, MaxConcurrentTasks: 2}, zerolog.Nop())

	var mu sync.Mutex
	var kinds []TaskStreamKind
	runner.Stream = func(evt TaskStreamEvent) {
		mu.Lock()
		defer mu.Unlock()
		kinds = append(kinds, evt.Kind)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	done := make(chan struct{})
	go func() {
		_ = runner.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(400 * time.Millisecond)
	for time.Now().Before(deadline) {
		mu.Lock()
		n := len(kinds)
		mu.Unlock()
		if n >= 2 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	<-done

	mu.Lock()
	defer mu.Unlock()
	if len(kinds) < 2 {
		t.Fatalf("expected at least Started and Completed stream events, got %v", kinds)
	}
	if kinds[0] != TaskStreamStarted {
		t.Fatalf("expected first stream event Started, got %v", kinds[0])
	}
	if kinds[len(kinds)-1] != TaskStreamCompleted {
		t.Fatalf("expected last stream event Completed, got %v", kinds[len(kinds)-1])
	}
}

func TestTaskStreamDisabledWhenSinkNil(t *testing.T) {
	store := newFakeStore()
	exec := &fakeTaskExecutor{result: agent.Result{Success: true, Answer: "done", State: agent.State{Status: agent.StatusCompleted}}}
	runner := NewRunner(store, exec, nil, nil, nil, RunnerConfig{PollInterval: 20 * time.Millisecond}, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	if err := runner.Run(ctx); err != nil && err != context.DeadlineExceeded {
		t.Fatalf("Run returned unexpected error: %v", err)
	}
}
