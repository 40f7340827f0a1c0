package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteConfig holds SQLite-specific connection options, grounded on the
// a SQLite connection's tunable pragmas.
type SQLiteConfig struct {
	Path        string
	JournalMode string
	BusyTimeout int
	ForeignKeys bool
}

// SQLiteStore is a Store backed by a local SQLite database file.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens or creates the database at config.Path and applies the
// schema.
func OpenSQLite(config SQLiteConfig) (*SQLiteStore, error) {
	if config.Path == "" {
		config.Path = "./data/agentcore.db"
	}
	if config.JournalMode == "" {
		config.JournalMode = "WAL"
	}
	if config.BusyTimeout == 0 {
		config.BusyTimeout = 5000
	}

	if dir := filepath.Dir(config.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory %q: %w", dir, err)
		}
	}

	dsn := fmt.Sprintf("%s?_journal_mode=%s&_busy_timeout=%d", config.Path, config.JournalMode, config.BusyTimeout)
	if config.ForeignKeys {
		dsn += "&_foreign_keys=ON"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database %q: %w", config.Path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS background_agents (
    id               TEXT PRIMARY KEY,
    name             TEXT NOT NULL,
    agent_id         TEXT NOT NULL,
    input            TEXT DEFAULT '',
    input_template   TEXT DEFAULT '',
    schedule_json    TEXT NOT NULL,
    status           TEXT NOT NULL,
    memory_json      TEXT DEFAULT '{}',
    notification_json TEXT DEFAULT '{}',
    mode_json        TEXT DEFAULT '{}',
    description      TEXT DEFAULT '',
    success_count    INTEGER DEFAULT 0,
    failure_count    INTEGER DEFAULT 0,
    total_tokens     INTEGER DEFAULT 0,
    total_cost_usd   REAL DEFAULT 0,
    last_run_at      TEXT,
    next_run_at      TEXT,
    last_error       TEXT DEFAULT '',
    created_at       TEXT NOT NULL,
    updated_at       TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_background_agents_status ON background_agents(status);

CREATE TABLE IF NOT EXISTS background_messages (
    id                  TEXT PRIMARY KEY,
    background_agent_id TEXT NOT NULL,
    source              TEXT NOT NULL,
    content             TEXT NOT NULL,
    status              TEXT NOT NULL,
    created_at          TEXT NOT NULL,
    delivered_at        TEXT,
    consumed_at         TEXT,
    FOREIGN KEY (background_agent_id) REFERENCES background_agents(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_background_messages_agent ON background_messages(background_agent_id, status);

CREATE TABLE IF NOT EXISTS task_events (
    id          TEXT PRIMARY KEY,
    task_id     TEXT NOT NULL,
    event_type  TEXT NOT NULL,
    timestamp   TEXT NOT NULL,
    message     TEXT DEFAULT '',
    output      TEXT DEFAULT '',
    duration_ms INTEGER DEFAULT 0,
    tokens      INTEGER DEFAULT 0,
    cost_usd    REAL DEFAULT 0,
    FOREIGN KEY (task_id) REFERENCES background_agents(id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_task_events_task ON task_events(task_id);

CREATE TABLE IF NOT EXISTS checkpoints (
    savepoint_id INTEGER PRIMARY KEY AUTOINCREMENT,
    task_id      TEXT NOT NULL,
    state        BLOB NOT NULL,
    created_at   TEXT NOT NULL,
    expires_at   TEXT
);
CREATE INDEX IF NOT EXISTS idx_checkpoints_task ON checkpoints(task_id);
`

func nullableTimeString(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseNullableTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *SQLiteStore) SaveAgent(ctx context.Context, a *BackgroundAgent) error {
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

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO background_agents (
			id, name, agent_id, input, input_template, schedule_json, status,
			memory_json, notification_json, mode_json, description,
			success_count, failure_count, total_tokens, total_cost_usd,
			last_run_at, next_run_at, last_error, created_at, updated_at
		) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			name=excluded.name, agent_id=excluded.agent_id, input=excluded.input,
			input_template=excluded.input_template, schedule_json=excluded.schedule_json,
			status=excluded.status, memory_json=excluded.memory_json,
			notification_json=excluded.notification_json, mode_json=excluded.mode_json,
			description=excluded.description, success_count=excluded.success_count,
			failure_count=excluded.failure_count, total_tokens=excluded.total_tokens,
			total_cost_usd=excluded.total_cost_usd, last_run_at=excluded.last_run_at,
			next_run_at=excluded.next_run_at, last_error=excluded.last_error,
			updated_at=excluded.updated_at`,
		a.ID, a.Name, a.AgentID, a.Input, a.InputTemplate, string(scheduleJSON), string(a.Status),
		string(memoryJSON), string(notificationJSON), string(modeJSON), a.Description,
		a.SuccessCount, a.FailureCount, a.TotalTokens, a.TotalCostUSD,
		nullableTimeString(a.LastRunAt), nullableTimeString(a.NextRunAt), a.LastError,
		a.CreatedAt.UTC().Format(time.RFC3339Nano), a.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("save background agent %q: %w", a.ID, err)
	}
	return nil
}

// UpdateAgentStatus persists a with a compare-and-set guard on status:
// the UPDATE only matches a row whose current status equals
// previousStatus. A zero rows-affected result means either the row is
// gone or its status already moved out from under the caller; both are
// reported as ErrStatusConflict.
func (s *SQLiteStore) UpdateAgentStatus(ctx context.Context, a *BackgroundAgent, previousStatus BackgroundAgentStatus) error {
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

	res, err := s.db.ExecContext(ctx, `
		UPDATE background_agents SET
			name=?, agent_id=?, input=?, input_template=?, schedule_json=?, status=?,
			memory_json=?, notification_json=?, mode_json=?, description=?,
			success_count=?, failure_count=?, total_tokens=?, total_cost_usd=?,
			last_run_at=?, next_run_at=?, last_error=?, updated_at=?
		WHERE id=? AND status=?`,
		a.Name, a.AgentID, a.Input, a.InputTemplate, string(scheduleJSON), string(a.Status),
		string(memoryJSON), string(notificationJSON), string(modeJSON), a.Description,
		a.SuccessCount, a.FailureCount, a.TotalTokens, a.TotalCostUSD,
		nullableTimeString(a.LastRunAt), nullableTimeString(a.NextRunAt), a.LastError,
		a.UpdatedAt.UTC().Format(time.RFC3339Nano),
		a.ID, string(previousStatus),
	)
	if err != nil {
		return fmt.Errorf("update background agent %q: %w", a.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update background agent %q: %w", a.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("update background agent %q from status %q: %w", a.ID, previousStatus, ErrStatusConflict)
	}
	return nil
}

func (s *SQLiteStore) GetAgent(ctx context.Context, id string) (*BackgroundAgent, error) {
	row := s.db.QueryRowContext(ctx, `SELECT
		id, name, agent_id, input, input_template, schedule_json, status,
		memory_json, notification_json, mode_json, description,
		success_count, failure_count, total_tokens, total_cost_usd,
		last_run_at, next_run_at, last_error, created_at, updated_at
		FROM background_agents WHERE id = ?`, id)
	a, err := scanAgent(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("background agent %q not found", id)
	}
	return a, err
}

func (s *SQLiteStore) ListAgentsByStatus(ctx context.Context, status BackgroundAgentStatus) ([]*BackgroundAgent, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT
		id, name, agent_id, input, input_template, schedule_json, status,
		memory_json, notification_json, mode_json, description,
		success_count, failure_count, total_tokens, total_cost_usd,
		last_run_at, next_run_at, last_error, created_at, updated_at
		FROM background_agents WHERE status = ?`, string(status))
	if err != nil {
		return nil, fmt.Errorf("list background agents by status: %w", err)
	}
	defer rows.Close()
	return scanAgents(rows)
}

func (s *SQLiteStore) DeleteAgent(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM background_agents WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete background agent %q: %w", id, err)
	}
	return nil
}

// ListRunnableAgents heals any stale/missing next_run_at before selecting
// the due subset, self-healing any stale next_run_at along the way.
func (s *SQLiteStore) ListRunnableAgents(ctx context.Context, now time.Time) ([]*BackgroundAgent, error) {
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

func scanAgent(row *sql.Row) (*BackgroundAgent, error) {
	a, scanFn := newScannableAgent()
	if err := row.Scan(scanFn...); err != nil {
		return nil, err
	}
	if err := a.finish(); err != nil {
		return nil, err
	}
	return a.BackgroundAgent, nil
}

func scanAgents(rows *sql.Rows) ([]*BackgroundAgent, error) {
	var out []*BackgroundAgent
	for rows.Next() {
		a, scanFn := newScannableAgent()
		if err := rows.Scan(scanFn...); err != nil {
			return nil, err
		}
		if err := a.finish(); err != nil {
			return nil, err
		}
		out = append(out, a.BackgroundAgent)
	}
	return out, rows.Err()
}

// scannableAgent holds the raw column destinations for one row so the
// json/time decoding can happen once after Scan, in finish().
type scannableAgent struct {
	*BackgroundAgent
	scheduleJSON, memoryJSON, notificationJSON, modeJSON string
	statusStr                                            string
	lastRunAt, nextRunAt                                 sql.NullString
	createdAt, updatedAt                                 string
}

func newScannableAgent() (*scannableAgent, []any) {
	a := &scannableAgent{BackgroundAgent: &BackgroundAgent{}}
	return a, []any{
		&a.ID, &a.Name, &a.AgentID, &a.Input, &a.InputTemplate, &a.scheduleJSON, &a.statusStr,
		&a.memoryJSON, &a.notificationJSON, &a.modeJSON, &a.Description,
		&a.SuccessCount, &a.FailureCount, &a.TotalTokens, &a.TotalCostUSD,
		&a.lastRunAt, &a.nextRunAt, &a.LastError, &a.createdAt, &a.updatedAt,
	}
}

func (a *scannableAgent) finish() error {
	if err := json.Unmarshal([]byte(a.scheduleJSON), &a.Schedule); err != nil {
		return fmt.Errorf("unmarshal schedule: %w", err)
	}
	if err := json.Unmarshal([]byte(a.memoryJSON), &a.Memory); err != nil {
		return fmt.Errorf("unmarshal memory config: %w", err)
	}
	if err := json.Unmarshal([]byte(a.notificationJSON), &a.Notification); err != nil {
		return fmt.Errorf("unmarshal notification config: %w", err)
	}
	if err := json.Unmarshal([]byte(a.modeJSON), &a.Mode); err != nil {
		return fmt.Errorf("unmarshal execution mode: %w", err)
	}
	a.Status = BackgroundAgentStatus(a.statusStr)

	var err error
	if a.LastRunAt, err = parseNullableTime(a.lastRunAt); err != nil {
		return fmt.Errorf("parse last_run_at: %w", err)
	}
	if a.NextRunAt, err = parseNullableTime(a.nextRunAt); err != nil {
		return fmt.Errorf("parse next_run_at: %w", err)
	}
	if a.CreatedAt, err = time.Parse(time.RFC3339Nano, a.createdAt); err != nil {
		return fmt.Errorf("parse created_at: %w", err)
	}
	if a.UpdatedAt, err = time.Parse(time.RFC3339Nano, a.updatedAt); err != nil {
		return fmt.Errorf("parse updated_at: %w", err)
	}
	return nil
}

func (s *SQLiteStore) EnqueueMessage(ctx context.Context, m *BackgroundMessage) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO background_messages
		(id, background_agent_id, source, content, status, created_at, delivered_at, consumed_at)
		VALUES (?,?,?,?,?,?,?,?)`,
		m.ID, m.BackgroundAgentID, string(m.Source), m.Content, string(m.Status),
		m.CreatedAt.UTC().Format(time.RFC3339Nano), nullableTimeString(m.DeliveredAt), nullableTimeString(m.ConsumedAt),
	)
	if err != nil {
		return fmt.Errorf("enqueue background message %q: %w", m.ID, err)
	}
	return nil
}

func (s *SQLiteStore) ListQueuedMessages(ctx context.Context, agentID string) ([]*BackgroundMessage, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT
		id, background_agent_id, source, content, status, created_at, delivered_at, consumed_at
		FROM background_messages WHERE background_agent_id = ? AND status = ? ORDER BY created_at ASC`,
		agentID, string(MessageQueued))
	if err != nil {
		return nil, fmt.Errorf("list queued messages for %q: %w", agentID, err)
	}
	defer rows.Close()

	var out []*BackgroundMessage
	for rows.Next() {
		m := &BackgroundMessage{}
		var source, status, createdAt string
		var delivered, consumed sql.NullString
		if err := rows.Scan(&m.ID, &m.BackgroundAgentID, &source, &m.Content, &status, &createdAt, &delivered, &consumed); err != nil {
			return nil, err
		}
		m.Source = BackgroundMessageSource(source)
		m.Status = BackgroundMessageStatus(status)
		if m.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, fmt.Errorf("parse created_at: %w", err)
		}
		if m.DeliveredAt, err = parseNullableTime(delivered); err != nil {
			return nil, err
		}
		if m.ConsumedAt, err = parseNullableTime(consumed); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// setMessageStatus applies a compare-and-set status transition, matching
// the previous status against the currently stored row. Zero rows
// affected means the message is gone or already moved past
// previousStatus; both are reported as ErrStatusConflict.
func (s *SQLiteStore) setMessageStatus(ctx context.Context, id string, previousStatus, status BackgroundMessageStatus, column string) error {
	now := nullableTimeString(timePtr(time.Now()))
	res, err := s.db.ExecContext(ctx, fmt.Sprintf(`UPDATE background_messages SET status = ?, %s = ? WHERE id = ? AND status = ?`, column),
		string(status), now, id, string(previousStatus))
	if err != nil {
		return fmt.Errorf("update message %q status: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update message %q status: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("update message %q from status %q: %w", id, previousStatus, ErrStatusConflict)
	}
	return nil
}

func (s *SQLiteStore) MarkMessageConsumed(ctx context.Context, id string, previousStatus BackgroundMessageStatus) error {
	return s.setMessageStatus(ctx, id, previousStatus, MessageConsumed, "consumed_at")
}

func (s *SQLiteStore) MarkMessageDelivered(ctx context.Context, id string, previousStatus BackgroundMessageStatus) error {
	return s.setMessageStatus(ctx, id, previousStatus, MessageDelivered, "delivered_at")
}

func (s *SQLiteStore) MarkMessageFailed(ctx context.Context, id string, previousStatus BackgroundMessageStatus) error {
	res, err := s.db.ExecContext(ctx, `UPDATE background_messages SET status = ? WHERE id = ? AND status = ?`,
		string(MessageFailed), id, string(previousStatus))
	if err != nil {
		return fmt.Errorf("mark message %q failed: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark message %q failed: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("mark message %q failed from status %q: %w", id, previousStatus, ErrStatusConflict)
	}
	return nil
}

func (s *SQLiteStore) AppendEvent(ctx context.Context, e *TaskEvent) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO task_events
		(id, task_id, event_type, timestamp, message, output, duration_ms, tokens, cost_usd)
		VALUES (?,?,?,?,?,?,?,?,?)`,
		e.ID, e.TaskID, string(e.EventType), e.Timestamp.UTC().Format(time.RFC3339Nano),
		e.Message, e.Output, e.DurationMs, e.Tokens, e.CostUSD,
	)
	if err != nil {
		return fmt.Errorf("append task event %q: %w", e.ID, err)
	}
	return nil
}

func (s *SQLiteStore) ListEvents(ctx context.Context, taskID string) ([]*TaskEvent, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT
		id, task_id, event_type, timestamp, message, output, duration_ms, tokens, cost_usd
		FROM task_events WHERE task_id = ? ORDER BY timestamp ASC`, taskID)
	if err != nil {
		return nil, fmt.Errorf("list events for %q: %w", taskID, err)
	}
	defer rows.Close()

	var out []*TaskEvent
	for rows.Next() {
		e := &TaskEvent{}
		var eventType, timestamp string
		if err := rows.Scan(&e.ID, &e.TaskID, &eventType, &timestamp, &e.Message, &e.Output, &e.DurationMs, &e.Tokens, &e.CostUSD); err != nil {
			return nil, err
		}
		e.EventType = TaskEventType(eventType)
		if e.Timestamp, err = time.Parse(time.RFC3339Nano, timestamp); err != nil {
			return nil, fmt.Errorf("parse timestamp: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) SaveCheckpoint(ctx context.Context, cp *Checkpoint) (int64, error) {
	res, err := s.db.ExecContext(ctx, `INSERT INTO checkpoints (task_id, state, created_at, expires_at)
		VALUES (?,?,?,?)`,
		cp.TaskID, cp.State, cp.CreatedAt.UTC().Format(time.RFC3339Nano), nullableTimeString(cp.ExpiresAt),
	)
	if err != nil {
		return 0, fmt.Errorf("save checkpoint for %q: %w", cp.TaskID, err)
	}
	return res.LastInsertId()
}

func (s *SQLiteStore) LoadCheckpointByTaskID(ctx context.Context, taskID string) (*Checkpoint, error) {
	row := s.db.QueryRowContext(ctx, `SELECT savepoint_id, task_id, state, created_at, expires_at
		FROM checkpoints WHERE task_id = ? ORDER BY savepoint_id DESC LIMIT 1`, taskID)

	cp := &Checkpoint{}
	var createdAt string
	var expiresAt sql.NullString
	if err := row.Scan(&cp.SavepointID, &cp.TaskID, &cp.State, &createdAt, &expiresAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("no checkpoint for task %q", taskID)
		}
		return nil, err
	}
	var err error
	if cp.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	if cp.ExpiresAt, err = parseNullableTime(expiresAt); err != nil {
		return nil, err
	}
	return cp, nil
}

func (s *SQLiteStore) CleanupExpiredCheckpoints(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM checkpoints WHERE expires_at IS NOT NULL AND expires_at <= ?`,
		now.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, fmt.Errorf("cleanup expired checkpoints: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func timePtr(t time.Time) *time.Time { return &t }
