package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestHeartbeatPulseSequenceStrictlyIncreases(t *testing.T) {
	store := newFakeStore()
	exec := &fakeTaskExecutor{}

	runner := NewRunner(store, exec, nil, nil, nil, RunnerConfig{PollInterval: 50 * time.Millisecond}, zerolog.Nop())
	runner.HeartbeatInterval = 15 * time.Millisecond

	var mu sync.Mutex
	var pulses []HeartbeatEvent
	var statuses []HeartbeatEvent
	runner.Heartbeat = func(evt HeartbeatEvent) {
		mu.Lock()
		defer mu.Unlock()
		switch evt.Kind {
		case HeartbeatPulse:
			pulses = append(pulses, evt)
		case HeartbeatStatusChange:
			statuses = append(statuses, evt)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_ = runner.Run(ctx)

	mu.Lock()
	defer mu.Unlock()

	if len(pulses) < 2 {
		t.Fatalf("expected at least 2 pulses in 200ms at a 15ms interval, got %d", len(pulses))
	}
	for i := 1; i < len(pulses); i++ {
		if pulses[i].Sequence <= pulses[i-1].Sequence {
			t.Fatalf("pulse sequence not strictly increasing: %d then %d", pulses[i-1].Sequence, pulses[i].Sequence)
		}
	}

	if len(statuses) < 2 {
		t.Fatalf("expected a Running and a Stopped status change, got %d", len(statuses))
	}
	if statuses[0].Status != RunnerStatusRunning {
		t.Errorf("first status change = %q, want %q", statuses[0].Status, RunnerStatusRunning)
	}
	if statuses[len(statuses)-1].Status != RunnerStatusStopped {
		t.Errorf("last status change = %q, want %q", statuses[len(statuses)-1].Status, RunnerStatusStopped)
	}
}

func TestHeartbeatDisabledWhenSinkNil(t *testing.T) {
	store := newFakeStore()
	exec := &fakeTaskExecutor{}
	runner := NewRunner(store, exec, nil, nil, nil, RunnerConfig{PollInterval: 20 * time.Millisecond}, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	if err := runner.Run(ctx); err != nil && err != context.DeadlineExceeded {
		t.Fatalf("Run returned unexpected error: %v", err)
	}
}
