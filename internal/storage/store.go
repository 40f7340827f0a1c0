package storage

import (
	"context"
	"errors"
	"time"
)

// ErrStatusConflict is returned by a compare-and-set status transition
// when the persisted status no longer matches the expected previous
// status. Callers should refetch the record and retry rather than
// blindly overwrite a transition made by another path.
var ErrStatusConflict = errors.New("status changed since last read")

// Store is the persistence contract the scheduler and runner consume.
// Both backends (SQLite, Postgres) implement it identically so the rest
// of the module is backend-agnostic.
type Store interface {
	// SaveAgent inserts or unconditionally replaces an agent record. It is
	// the entry point for creating a new agent; existing status-bearing
	// transitions must go through UpdateAgentStatus instead.
	SaveAgent(ctx context.Context, agent *BackgroundAgent) error
	GetAgent(ctx context.Context, id string) (*BackgroundAgent, error)
	ListAgentsByStatus(ctx context.Context, status BackgroundAgentStatus) ([]*BackgroundAgent, error)
	DeleteAgent(ctx context.Context, id string) error

	// UpdateAgentStatus persists agent with a compare-and-set guard: the
	// write only applies if the currently persisted status still equals
	// previousStatus. On a mismatch it returns an error wrapping
	// ErrStatusConflict and leaves the stored record untouched, so two
	// concurrent transitions (e.g. a pause-poll and a run completion)
	// cannot both succeed.
	UpdateAgentStatus(ctx context.Context, agent *BackgroundAgent, previousStatus BackgroundAgentStatus) error

	// ListRunnableAgents returns every Active agent whose next_run_at is
	// at or before now, self-healing any whose next_run_at is missing or
	// stale (< last_run_at) by recomputing and persisting it first.
	ListRunnableAgents(ctx context.Context, now time.Time) ([]*BackgroundAgent, error)

	// Background messages (the per-task steer inbox). Each transition
	// takes the expected previous status as a compare-and-set guard,
	// returning an error wrapping ErrStatusConflict on mismatch.
	EnqueueMessage(ctx context.Context, msg *BackgroundMessage) error
	ListQueuedMessages(ctx context.Context, agentID string) ([]*BackgroundMessage, error)
	MarkMessageConsumed(ctx context.Context, id string, previousStatus BackgroundMessageStatus) error
	MarkMessageDelivered(ctx context.Context, id string, previousStatus BackgroundMessageStatus) error
	MarkMessageFailed(ctx context.Context, id string, previousStatus BackgroundMessageStatus) error

	// Task events (append-only).
	AppendEvent(ctx context.Context, event *TaskEvent) error
	ListEvents(ctx context.Context, taskID string) ([]*TaskEvent, error)

	// Checkpoints.
	SaveCheckpoint(ctx context.Context, cp *Checkpoint) (savepointID int64, err error)
	LoadCheckpointByTaskID(ctx context.Context, taskID string) (*Checkpoint, error)
	CleanupExpiredCheckpoints(ctx context.Context, now time.Time) (removed int, err error)

	Close() error
}
