package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := OpenSQLite(SQLiteConfig{Path: filepath.Join(t.TempDir(), "test.db")})
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func testAgent(id string) *BackgroundAgent {
	return &BackgroundAgent{
		ID:      id,
		Name:    "nightly-report",
		AgentID: "agent-1",
		Input:   "summarize today's activity",
		Schedule: Schedule{
			Kind:       ScheduleInterval,
			IntervalMs: 3_600_000,
		},
		Status: StatusActive,
	}
}

func TestSaveAndGetAgentRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	agent := testAgent("task-1")
	if err := store.SaveAgent(ctx, agent); err != nil {
		t.Fatalf("SaveAgent: %v", err)
	}

	got, err := store.GetAgent(ctx, "task-1")
	if err != nil {
		t.Fatalf("GetAgent: %v", err)
	}
	if got.Name != agent.Name || got.Input != agent.Input {
		t.Fatalf("round trip mismatch: got %+v", got)
	}
	if got.Schedule.Kind != ScheduleInterval || got.Schedule.IntervalMs != 3_600_000 {
		t.Fatalf("schedule did not round trip: %+v", got.Schedule)
	}
}

func TestGetAgentReturnsErrorWhenMissing(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.GetAgent(context.Background(), "does-not-exist"); err == nil {
		t.Fatal("expected an error for a missing agent")
	}
}

func TestListAgentsByStatus(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	active := testAgent("active-1")
	paused := testAgent("paused-1")
	paused.Status = StatusPaused

	if err := store.SaveAgent(ctx, active); err != nil {
		t.Fatalf("SaveAgent active: %v", err)
	}
	if err := store.SaveAgent(ctx, paused); err != nil {
		t.Fatalf("SaveAgent paused: %v", err)
	}

	got, err := store.ListAgentsByStatus(ctx, StatusActive)
	if err != nil {
		t.Fatalf("ListAgentsByStatus: %v", err)
	}
	if len(got) != 1 || got[0].ID != "active-1" {
		t.Fatalf("expected only the active agent, got %+v", got)
	}
}

func TestDeleteAgent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	agent := testAgent("to-delete")
	if err := store.SaveAgent(ctx, agent); err != nil {
		t.Fatalf("SaveAgent: %v", err)
	}
	if err := store.DeleteAgent(ctx, "to-delete"); err != nil {
		t.Fatalf("DeleteAgent: %v", err)
	}
	if _, err := store.GetAgent(ctx, "to-delete"); err == nil {
		t.Fatal("expected GetAgent to fail after delete")
	}
}

func TestListRunnableAgentsSelfHealsMissingNextRunAt(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now()

	agent := testAgent("healed-1")
	agent.Schedule = Schedule{Kind: ScheduleInterval, IntervalMs: 1000, StartAt: &now}
	agent.NextRunAt = nil
	if err := store.SaveAgent(ctx, agent); err != nil {
		t.Fatalf("SaveAgent: %v", err)
	}

	// NextRun always lands strictly after the reference time, so a freshly
	// healed agent is never due in the same pass; this asserts the heal
	// writes a concrete next_run_at rather than leaving it nil.
	if _, err := store.ListRunnableAgents(ctx, now); err != nil {
		t.Fatalf("ListRunnableAgents: %v", err)
	}

	got, err := store.GetAgent(ctx, "healed-1")
	if err != nil {
		t.Fatalf("GetAgent: %v", err)
	}
	if got.NextRunAt == nil {
		t.Fatal("expected next_run_at to be persisted after self-healing")
	}
}

func TestListRunnableAgentsReturnsDueAgents(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now()
	past := now.Add(-time.Minute)

	agent := testAgent("due-1")
	agent.Schedule = Schedule{Kind: ScheduleInterval, IntervalMs: 1000, StartAt: &past}
	agent.NextRunAt = &past
	if err := store.SaveAgent(ctx, agent); err != nil {
		t.Fatalf("SaveAgent: %v", err)
	}

	notYet := testAgent("due-2")
	future := now.Add(time.Hour)
	notYet.Schedule = Schedule{Kind: ScheduleInterval, IntervalMs: 1000, StartAt: &future}
	notYet.NextRunAt = &future
	if err := store.SaveAgent(ctx, notYet); err != nil {
		t.Fatalf("SaveAgent: %v", err)
	}

	runnable, err := store.ListRunnableAgents(ctx, now)
	if err != nil {
		t.Fatalf("ListRunnableAgents: %v", err)
	}
	if len(runnable) != 1 || runnable[0].ID != "due-1" {
		t.Fatalf("expected only due-1 to be runnable, got %+v", runnable)
	}
}

func TestBackgroundMessageLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	agent := testAgent("msg-owner")
	if err := store.SaveAgent(ctx, agent); err != nil {
		t.Fatalf("SaveAgent: %v", err)
	}

	msg := &BackgroundMessage{
		ID:                "msg-1",
		BackgroundAgentID: agent.ID,
		Source:            SourceUser,
		Content:           "please stop after this run",
		Status:            MessageQueued,
		CreatedAt:         time.Now(),
	}
	if err := store.EnqueueMessage(ctx, msg); err != nil {
		t.Fatalf("EnqueueMessage: %v", err)
	}

	queued, err := store.ListQueuedMessages(ctx, agent.ID)
	if err != nil {
		t.Fatalf("ListQueuedMessages: %v", err)
	}
	if len(queued) != 1 {
		t.Fatalf("expected one queued message, got %d", len(queued))
	}

	if err := store.MarkMessageDelivered(ctx, "msg-1", MessageQueued); err != nil {
		t.Fatalf("MarkMessageDelivered: %v", err)
	}
	if err := store.MarkMessageConsumed(ctx, "msg-1", MessageDelivered); err != nil {
		t.Fatalf("MarkMessageConsumed: %v", err)
	}

	queued, err = store.ListQueuedMessages(ctx, agent.ID)
	if err != nil {
		t.Fatalf("ListQueuedMessages after consume: %v", err)
	}
	if len(queued) != 0 {
		t.Fatalf("expected no queued messages after consumption, got %d", len(queued))
	}
}

func TestUpdateAgentStatusRejectsStalePreviousStatus(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	agent := testAgent("cas-1")
	if err := store.SaveAgent(ctx, agent); err != nil {
		t.Fatalf("SaveAgent: %v", err)
	}

	running := testAgent("cas-1")
	running.Status = StatusRunning
	if err := store.UpdateAgentStatus(ctx, running, StatusActive); err != nil {
		t.Fatalf("UpdateAgentStatus from the real previous status: %v", err)
	}

	completed := testAgent("cas-1")
	completed.Status = StatusCompleted
	err := store.UpdateAgentStatus(ctx, completed, StatusActive)
	if err == nil {
		t.Fatal("expected a conflict when previousStatus no longer matches the stored status")
	}
	if !errors.Is(err, ErrStatusConflict) {
		t.Fatalf("expected ErrStatusConflict, got %v", err)
	}

	got, err := store.GetAgent(ctx, "cas-1")
	if err != nil {
		t.Fatalf("GetAgent: %v", err)
	}
	if got.Status != StatusRunning {
		t.Fatalf("expected the rejected transition to leave status untouched at Running, got %s", got.Status)
	}
}

func TestMarkMessageRejectsStalePreviousStatus(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	agent := testAgent("msg-cas-owner")
	if err := store.SaveAgent(ctx, agent); err != nil {
		t.Fatalf("SaveAgent: %v", err)
	}
	msg := &BackgroundMessage{
		ID:                "msg-cas-1",
		BackgroundAgentID: agent.ID,
		Source:            SourceUser,
		Content:           "stop",
		Status:            MessageQueued,
		CreatedAt:         time.Now(),
	}
	if err := store.EnqueueMessage(ctx, msg); err != nil {
		t.Fatalf("EnqueueMessage: %v", err)
	}

	err := store.MarkMessageConsumed(ctx, "msg-cas-1", MessageDelivered)
	if err == nil {
		t.Fatal("expected a conflict marking a still-Queued message consumed from an expected Delivered status")
	}
	if !errors.Is(err, ErrStatusConflict) {
		t.Fatalf("expected ErrStatusConflict, got %v", err)
	}
}

func TestTaskEventsAreAppendOnlyAndOrdered(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	agent := testAgent("event-owner")
	if err := store.SaveAgent(ctx, agent); err != nil {
		t.Fatalf("SaveAgent: %v", err)
	}

	base := time.Now()
	for i, evtType := range []TaskEventType{EventStarted, EventOutput, EventCompleted} {
		evt := &TaskEvent{
			ID:        "evt-" + string(rune('0'+i)),
			TaskID:    agent.ID,
			EventType: evtType,
			Timestamp: base.Add(time.Duration(i) * time.Second),
		}
		if err := store.AppendEvent(ctx, evt); err != nil {
			t.Fatalf("AppendEvent %d: %v", i, err)
		}
	}

	events, err := store.ListEvents(ctx, agent.ID)
	if err != nil {
		t.Fatalf("ListEvents: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	if events[0].EventType != EventStarted || events[2].EventType != EventCompleted {
		t.Fatalf("expected chronological order, got %+v", events)
	}
}

func TestCheckpointSaveLoadAndCleanup(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	agent := testAgent("checkpoint-owner")
	if err := store.SaveAgent(ctx, agent); err != nil {
		t.Fatalf("SaveAgent: %v", err)
	}

	expired := time.Now().Add(-time.Hour)
	cp := &Checkpoint{
		TaskID:    agent.ID,
		State:     []byte(`{"iteration":3}`),
		ExpiresAt: &expired,
	}
	if _, err := store.SaveCheckpoint(ctx, cp); err != nil {
		t.Fatalf("SaveCheckpoint: %v", err)
	}

	loaded, err := store.LoadCheckpointByTaskID(ctx, agent.ID)
	if err != nil {
		t.Fatalf("LoadCheckpointByTaskID: %v", err)
	}
	if string(loaded.State) != `{"iteration":3}` {
		t.Fatalf("unexpected checkpoint state: %s", loaded.State)
	}

	removed, err := store.CleanupExpiredCheckpoints(ctx, time.Now())
	if err != nil {
		t.Fatalf("CleanupExpiredCheckpoints: %v", err)
	}
	if removed != 1 {
		t.Fatalf("expected 1 expired checkpoint removed, got %d", removed)
	}
}
