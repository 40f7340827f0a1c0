package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresConfig holds connection-pool options, mirroring
// PostgreSQLConfig shape (pool sizing knobs; any other connection
// setting, such as SSL mode, goes in DSN).
type PostgresConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
}

// PostgresStore is a Store backed by a pgxpool connection pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects to Postgres and applies the schema.
func OpenPostgres(ctx context.Context, config PostgresConfig) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(config.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if config.MaxConns > 0 {
		poolCfg.MaxConns = config.MaxConns
	}
	if config.MinConns > 0 {
		poolCfg.MinConns = config.MinConns
	}
	if config.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = config.MaxConnLifetime
	}
	if config.MaxConnIdleTime > 0 {
		poolCfg.MaxConnIdleTime = config.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

const postgresSchema = `
CREATE TABLE IF NOT EXISTS background_agents (
    id                 TEXT PRIMARY KEY,
    name               TEXT NOT NULL,
    agent_id           TEXT NOT NULL,
    input              TEXT DEFAULT '',
    input_template     TEXT DEFAULT '',
    schedule           JSONB NOT NULL,
    status             TEXT NOT NULL,
    memory             JSONB DEFAULT '{}',
    notification       JSONB DEFAULT '{}',
    mode               JSONB DEFAULT '{}',
    description        TEXT DEFAULT '',
    success_count      INTEGER DEFAULT 0,
    failure_count      INTEGER DEFAULT 0,
    total_tokens       INTEGER DEFAULT 0,
    total_cost_usd     DOUBLE PRECISION DEFAULT 0,
    last_run_at        TIMESTAMPTZ,
    next_run_at        TIMESTAMPTZ,
    last_error         TEXT DEFAULT '',
    created_at         TIMESTAMPTZ NOT NULL,
    updated_at         TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_background_agents_status ON background_agents(status);

CREATE TABLE IF NOT EXISTS background_messages (
    id                  TEXT PRIMARY KEY,
    background_agent_id TEXT NOT NULL REFERENCES background_agents(id) ON DELETE CASCADE,
    source              TEXT NOT NULL,
    content             TEXT NOT NULL,
    status              TEXT NOT NULL,
    created_at          TIMESTAMPTZ NOT NULL,
    delivered_at        TIMESTAMPTZ,
    consumed_at         TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_background_messages_agent ON background_messages(background_agent_id, status);

CREATE TABLE IF NOT EXISTS task_events (
    id          TEXT PRIMARY KEY,
    task_id     TEXT NOT NULL REFERENCES background_agents(id) ON DELETE CASCADE,
    event_type  TEXT NOT NULL,
    timestamp   TIMESTAMPTZ NOT NULL,
    message     TEXT DEFAULT '',
    output      TEXT DEFAULT '',
    duration_ms BIGINT DEFAULT 0,
    tokens      INTEGER DEFAULT 0,
    cost_usd    DOUBLE PRECISION DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_task_events_task ON task_events(task_id);

CREATE TABLE IF NOT EXISTS checkpoints (
    savepoint_id BIGSERIAL PRIMARY KEY,
    task_id      TEXT NOT NULL,
    state        BYTEA NOT NULL,
    created_at   TIMESTAMPTZ NOT NULL,
    expires_at   TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_checkpoints_task ON checkpoints(task_id);
`

func (s *PostgresStore) SaveAgent(ctx context.Context, a *BackgroundAgent) error {
	scheduleJSON, err := json.Marshal(a.Schedule)
	if err != nil {
		return fmt.Errorf("marshal schedule: %w", err)
	}
	memoryJSON, err := json.Marshal(a.Memory)
	if err != nil {
		return fmt.Errorf("marshal memory config: %w", err)
	}
	notificationJSON, err := json.Marshal(a.Notification)
	if err != nil {
		return fmt.Errorf("marshal notification config: %w", err)
	}
	modeJSON, err := json.Marshal(a.Mode)
	if err != nil {
		return fmt.Errorf("marshal execution mode: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO background_agents (
			id, name, agent_id, input, input_template, schedule, status,
			memory, notification, mode, description, success_count,
			failure_count, total_tokens, total_cost_usd, last_run_at,
			next_run_at, last_error, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)
		ON CONFLICT (id) DO UPDATE SET
			name=excluded.name, agent_id=excluded.agent_id, input=excluded.input,
			input_template=excluded.input_template, schedule=excluded.schedule,
			status=excluded.status, memory=excluded.memory, notification=excluded.notification,
			mode=excluded.mode, description=excluded.description,
			success_count=excluded.success_count, failure_count=excluded.failure_count,
			total_tokens=excluded.total_tokens, total_cost_usd=excluded.total_cost_usd,
			last_run_at=excluded.last_run_at, next_run_at=excluded.next_run_at,
			last_error=excluded.last_error, updated_at=excluded.updated_at`,
		a.ID, a.Name, a.AgentID, a.Input, a.InputTemplate, scheduleJSON, string(a.Status),
		memoryJSON, notificationJSON, modeJSON, a.Description, a.SuccessCount, a.FailureCount,
		a.TotalTokens, a.TotalCostUSD, a.LastRunAt, a.NextRunAt, a.LastError, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save background agent %q: %w", a.ID, err)
	}
	return nil
}

// UpdateAgentStatus persists a with a compare-and-set guard on status,
// mirroring SQLiteStore.UpdateAgentStatus: the UPDATE only matches a row
// whose current status equals previousStatus, and zero rows affected is
// reported as ErrStatusConflict.
func (s *PostgresStore) UpdateAgentStatus(ctx context.Context, a *BackgroundAgent, previousStatus BackgroundAgentStatus) error {
	scheduleJSON, err := json.Marshal(a.Schedule)
	if err != nil {
		return fmt.Errorf("marshal schedule: %w", err)
	}
	memoryJSON, err := json.Marshal(a.Memory)
	if err != nil {
		return fmt.Errorf("marshal memory config: %w", err)
	}
	notificationJSON, err := json.Marshal(a.Notification)
	if err != nil {
		return fmt.Errorf("marshal notification config: %w", err)
	}
	modeJSON, err := json.Marshal(a.Mode)
	if err != nil {
		return fmt.Errorf("marshal execution mode: %w", err)
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE background_agents SET
			name=$1, agent_id=$2, input=$3, input_template=$4, schedule=$5, status=$6,
			memory=$7, notification=$8, mode=$9, description=$10,
			success_count=$11, failure_count=$12, total_tokens=$13, total_cost_usd=$14,
			last_run_at=$15, next_run_at=$16, last_error=$17, updated_at=$18
		WHERE id=$19 AND status=$20`,
		a.Name, a.AgentID, a.Input, a.InputTemplate, scheduleJSON, string(a.Status),
		memoryJSON, notificationJSON, modeJSON, a.Description,
		a.SuccessCount, a.FailureCount, a.TotalTokens, a.TotalCostUSD,
		a.LastRunAt, a.NextRunAt, a.LastError, a.UpdatedAt,
		a.ID, string(previousStatus),
	)
	if err != nil {
		return fmt.Errorf("update background agent %q: %w", a.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update background agent %q from status %q: %w", a.ID, previousStatus, ErrStatusConflict)
	}
	return nil
}

func (s *PostgresStore) agentQuery() string {
	return `SELECT id, name, agent_id, input, input_template, schedule, status,
		memory, notification, mode, description, success_count, failure_count,
		total_tokens, total_cost_usd, last_run_at, next_run_at, last_error, created_at, updated_at
		FROM background_agents`
}

func (s *PostgresStore) scanAgent(row pgx.Row) (*BackgroundAgent, error) {
	a := &BackgroundAgent{}
	var scheduleJSON, memoryJSON, notificationJSON, modeJSON []byte
	var statusStr string
	if err := row.Scan(
		&a.ID, &a.Name, &a.AgentID, &a.Input, &a.InputTemplate, &scheduleJSON, &statusStr,
		&memoryJSON, &notificationJSON, &modeJSON, &a.Description, &a.SuccessCount, &a.FailureCount,
		&a.TotalTokens, &a.TotalCostUSD, &a.LastRunAt, &a.NextRunAt, &a.LastError, &a.CreatedAt, &a.UpdatedAt,
	); err != nil {
		return nil, err
	}
	a.Status = BackgroundAgentStatus(statusStr)
	if err := json.Unmarshal(scheduleJSON, &a.Schedule); err != nil {
		return nil, fmt.Errorf("unmarshal schedule: %w", err)
	}
	if err := json.Unmarshal(memoryJSON, &a.Memory); err != nil {
		return nil, fmt.Errorf("unmarshal memory config: %w", err)
	}
	if err := json.Unmarshal(notificationJSON, &a.Notification); err != nil {
		return nil, fmt.Errorf("unmarshal notification config: %w", err)
	}
	if err := json.Unmarshal(modeJSON, &a.Mode); err != nil {
		return nil, fmt.Errorf("unmarshal execution mode: %w", err)
	}
	return a, nil
}

func (s *PostgresStore) GetAgent(ctx context.Context, id string) (*BackgroundAgent, error) {
	row := s.pool.QueryRow(ctx, s.agentQuery()+" WHERE id = $1", id)
	a, err := s.scanAgent(row)
	if err == pgx.ErrNoRows {
		return nil, fmt.Errorf("background agent %q not found", id)
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (s *PostgresStore) ListAgentsByStatus(ctx context.Context, status BackgroundAgentStatus) ([]*BackgroundAgent, error) {
	rows, err := s.pool.Query(ctx, s.agentQuery()+" WHERE status = $1", string(status))
	if err != nil {
		return nil, fmt.Errorf("list background agents by status: %w", err)
	}
	defer rows.Close()

	var out []*BackgroundAgent
	for rows.Next() {
		a, err := s.scanAgent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *PostgresStore) DeleteAgent(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM background_agents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete background agent %q: %w", id, err)
	}
	return nil
}

func (s *PostgresStore) ListRunnableAgents(ctx context.Context, now time.Time) ([]*BackgroundAgent, error) {
	active, err := s.ListAgentsByStatus(ctx, StatusActive)
	if err != nil {
		return nil, err
	}

	var runnable []*BackgroundAgent
	for _, a := range active {
		if NeedsHealing(a) {
			previousStatus := a.Status
			next, err := NextRun(a.Schedule, now)
			if err != nil {
				return nil, fmt.Errorf("heal next_run_at for %q: %w", a.ID, err)
			}
			a.NextRunAt = next
			a.UpdatedAt = now
			if err := s.UpdateAgentStatus(ctx, a, previousStatus); err != nil {
				return nil, err
			}
		}
		if ShouldRun(a.Status, a.NextRunAt, now) {
			runnable = append(runnable, a)
		}
	}
	return runnable, nil
}

func (s *PostgresStore) EnqueueMessage(ctx context.Context, m *BackgroundMessage) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO background_messages
		(id, background_agent_id, source, content, status, created_at, delivered_at, consumed_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		m.ID, m.BackgroundAgentID, string(m.Source), m.Content, string(m.Status),
		m.CreatedAt, m.DeliveredAt, m.ConsumedAt,
	)
	if err != nil {
		return fmt.Errorf("enqueue background message %q: %w", m.ID, err)
	}
	return nil
}

func (s *PostgresStore) ListQueuedMessages(ctx context.Context, agentID string) ([]*BackgroundMessage, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, background_agent_id, source, content, status, created_at, delivered_at, consumed_at
		FROM background_messages WHERE background_agent_id = $1 AND status = $2 ORDER BY created_at ASC`,
		agentID, string(MessageQueued))
	if err != nil {
		return nil, fmt.Errorf("list queued messages for %q: %w", agentID, err)
	}
	defer rows.Close()

	var out []*BackgroundMessage
	for rows.Next() {
		m := &BackgroundMessage{}
		var source, status string
		if err := rows.Scan(&m.ID, &m.BackgroundAgentID, &source, &m.Content, &status, &m.CreatedAt, &m.DeliveredAt, &m.ConsumedAt); err != nil {
			return nil, err
		}
		m.Source = BackgroundMessageSource(source)
		m.Status = BackgroundMessageStatus(status)
		out = append(out, m)
	}
	return out, rows.Err()
}

// setMessageStatus applies a compare-and-set status transition, mirroring
// SQLiteStore.setMessageStatus: zero rows affected means the message is
// gone or already moved past previousStatus, reported as ErrStatusConflict.
func (s *PostgresStore) setMessageStatus(ctx context.Context, id string, previousStatus, status BackgroundMessageStatus, column string) error {
	tag, err := s.pool.Exec(ctx, fmt.Sprintf(`UPDATE background_messages SET status = $1, %s = now() WHERE id = $2 AND status = $3`, column),
		string(status), id, string(previousStatus))
	if err != nil {
		return fmt.Errorf("update message %q status: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update message %q from status %q: %w", id, previousStatus, ErrStatusConflict)
	}
	return nil
}

func (s *PostgresStore) MarkMessageConsumed(ctx context.Context, id string, previousStatus BackgroundMessageStatus) error {
	return s.setMessageStatus(ctx, id, previousStatus, MessageConsumed, "consumed_at")
}

func (s *PostgresStore) MarkMessageDelivered(ctx context.Context, id string, previousStatus BackgroundMessageStatus) error {
	return s.setMessageStatus(ctx, id, previousStatus, MessageDelivered, "delivered_at")
}

func (s *PostgresStore) MarkMessageFailed(ctx context.Context, id string, previousStatus BackgroundMessageStatus) error {
	tag, err := s.pool.Exec(ctx, `UPDATE background_messages SET status = $1 WHERE id = $2 AND status = $3`,
		string(MessageFailed), id, string(previousStatus))
	if err != nil {
		return fmt.Errorf("mark message %q failed: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("mark message %q failed from status %q: %w", id, previousStatus, ErrStatusConflict)
	}
	return nil
}

func (s *PostgresStore) AppendEvent(ctx context.Context, e *TaskEvent) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO task_events
		(id, task_id, event_type, timestamp, message, output, duration_ms, tokens, cost_usd)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		e.ID, e.TaskID, string(e.EventType), e.Timestamp, e.Message, e.Output, e.DurationMs, e.Tokens, e.CostUSD,
	)
	if err != nil {
		return fmt.Errorf("append task event %q: %w", e.ID, err)
	}
	return nil
}

func (s *PostgresStore) ListEvents(ctx context.Context, taskID string) ([]*TaskEvent, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, task_id, event_type, timestamp, message, output, duration_ms, tokens, cost_usd
		FROM task_events WHERE task_id = $1 ORDER BY timestamp ASC`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list events for %q: %w", taskID, err)
	}
	defer rows.Close()

	var out []*TaskEvent
	for rows.Next() {
		e := &TaskEvent{}
		var eventType string
		if err := rows.Scan(&e.ID, &e.TaskID, &eventType, &e.Timestamp, &e.Message, &e.Output, &e.DurationMs, &e.Tokens, &e.CostUSD); err != nil {
			return nil, err
		}
		e.EventType = TaskEventType(eventType)
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *PostgresStore) SaveCheckpoint(ctx context.Context, cp *Checkpoint) (int64, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `INSERT INTO checkpoints (task_id, state, created_at, expires_at)
		VALUES ($1,$2,$3,$4) RETURNING savepoint_id`,
		cp.TaskID, cp.State, cp.CreatedAt, cp.ExpiresAt,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("save checkpoint for %q: %w", cp.TaskID, err)
	}
	return id, nil
}

func (s *PostgresStore) LoadCheckpointByTaskID(ctx context.Context, taskID string) (*Checkpoint, error) {
	cp := &Checkpoint{}
	err := s.pool.QueryRow(ctx, `SELECT savepoint_id, task_id, state, created_at, expires_at
		FROM checkpoints WHERE task_id = $1 ORDER BY savepoint_id DESC LIMIT 1`, taskID,
	).Scan(&cp.SavepointID, &cp.TaskID, &cp.State, &cp.CreatedAt, &cp.ExpiresAt)
	if err == pgx.ErrNoRows {
		return nil, fmt.Errorf("no checkpoint for task %q", taskID)
	}
	if err != nil {
		return nil, err
	}
	return cp, nil
}

func (s *PostgresStore) CleanupExpiredCheckpoints(ctx context.Context, now time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM checkpoints WHERE expires_at IS NOT NULL AND expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("cleanup expired checkpoints: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
