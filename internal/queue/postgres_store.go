package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const taskQueueTable = "runloop_task_queue"
const runnerRegistryTable = "runloop_runners"

// PostgresStore is the multi-writer-safe backend: every runner process in a
// namespace talks to the same table, and Claim uses
// SELECT ... FOR UPDATE SKIP LOCKED to guarantee two concurrent runners
// never claim the same task (P1).
type PostgresStore struct {
	pool      *pgxpool.Pool
	namespace string
	now       func() time.Time
}

// NewPostgresStore wraps an already-constructed pgxpool.Pool. Callers own
// the pool's lifecycle (pgxpool.New / pool.Close).
func NewPostgresStore(pool *pgxpool.Pool, namespace string, now func() time.Time) *PostgresStore {
	if now == nil {
		now = time.Now
	}
	return &PostgresStore{pool: pool, namespace: namespace, now: now}
}

func (p *PostgresStore) EnsureTable(ctx context.Context) error {
	statements := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    namespace TEXT NOT NULL,
    task_id TEXT NOT NULL,
    task_group_id TEXT NOT NULL DEFAULT '',
    session_id TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL,
    prompt TEXT NOT NULL DEFAULT '',
    task_type TEXT NOT NULL DEFAULT '',
    error_message TEXT NOT NULL DEFAULT '',
    output TEXT NOT NULL DEFAULT '',
    clarification JSONB,
    conversation_history JSONB NOT NULL DEFAULT '[]',
    events JSONB NOT NULL DEFAULT '[]',
    created_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (namespace, task_id)
);`, taskQueueTable),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_status ON %s (namespace, status, created_at);`, taskQueueTable, taskQueueTable),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_group ON %s (namespace, task_group_id);`, taskQueueTable, taskQueueTable),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
    namespace TEXT NOT NULL,
    runner_id TEXT NOT NULL,
    status TEXT NOT NULL,
    project_root TEXT NOT NULL DEFAULT '',
    started_at TIMESTAMPTZ NOT NULL,
    last_heartbeat TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (namespace, runner_id)
);`, runnerRegistryTable),
	}
	for _, stmt := range statements {
		if _, err := p.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("queue: ensure schema: %w", err)
		}
	}
	return nil
}

func (p *PostgresStore) Enqueue(ctx context.Context, sessionID, taskGroupID, prompt, taskID string, taskType TaskType) (*QueueItem, error) {
	if taskID == "" {
		taskID = uuid.NewString()
	}
	now := p.now().UTC()
	_, err := p.pool.Exec(ctx, `
INSERT INTO `+taskQueueTable+` (namespace, task_id, task_group_id, session_id, status, prompt, task_type, created_at, updated_at, conversation_history, events)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8, '[]', '[]')
`, p.namespace, taskID, taskGroupID, sessionID, string(StatusQueued), prompt, string(taskType), now)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("enqueue %s: %w", taskID, ErrConflict)
		}
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return &QueueItem{
		Namespace: p.namespace, TaskID: taskID, TaskGroupID: taskGroupID, SessionID: sessionID,
		Status: StatusQueued, Prompt: prompt, TaskType: taskType, CreatedAt: now, UpdatedAt: now,
	}, nil
}

func (p *PostgresStore) GetItem(ctx context.Context, taskID, targetNamespace string) (*QueueItem, error) {
	ns := p.resolveNamespace(targetNamespace)
	row := p.pool.QueryRow(ctx, selectColumns+` FROM `+taskQueueTable+` WHERE namespace = $1 AND task_id = $2`, ns, taskID)
	item, err := scanQueueItem(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return item, nil
}

// Claim selects and locks the oldest QUEUED task with FOR UPDATE SKIP
// LOCKED so concurrent runners never contend for (or double-claim) the same
// row — the Postgres equivalent of the in-process engine's mutex-guarded
// claimLocked.
func (p *PostgresStore) Claim(ctx context.Context) (ClaimResult, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return ClaimResult{}, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	defer tx.Rollback(ctx)

	now := p.now().UTC()
	row := tx.QueryRow(ctx, `
UPDATE `+taskQueueTable+`
SET status = $1, updated_at = $2
WHERE (namespace, task_id) = (
    SELECT namespace, task_id FROM `+taskQueueTable+`
    WHERE namespace = $3 AND status = $4
    ORDER BY created_at ASC, task_id ASC
    FOR UPDATE SKIP LOCKED
    LIMIT 1
)
RETURNING `+selectColumnNames, string(StatusRunning), now, p.namespace, string(StatusQueued))
	item, err := scanQueueItem(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return ClaimResult{Success: false}, nil
	}
	if err != nil {
		return ClaimResult{}, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return ClaimResult{}, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return ClaimResult{Success: true, Item: item}, nil
}

func (p *PostgresStore) UpdateStatus(ctx context.Context, taskID string, status Status, errorMessage, output string) error {
	now := p.now().UTC()
	_, err := p.pool.Exec(ctx, `
UPDATE `+taskQueueTable+`
SET status = $1, updated_at = $2,
    error_message = CASE WHEN $3 = '' THEN error_message ELSE $3 END,
    output = CASE WHEN $4 = '' THEN output ELSE $4 END
WHERE namespace = $5 AND task_id = $6
`, string(status), now, errorMessage, output, p.namespace, taskID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return nil
}

func (p *PostgresStore) UpdateStatusWithValidation(ctx context.Context, taskID string, newStatus Status) (StatusUpdateResult, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return StatusUpdateResult{}, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	defer tx.Rollback(ctx)

	var old Status
	row := tx.QueryRow(ctx, `SELECT status FROM `+taskQueueTable+` WHERE namespace = $1 AND task_id = $2 FOR UPDATE`, p.namespace, taskID)
	if err := row.Scan(&old); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return StatusUpdateResult{}, fmt.Errorf("update_status_with_validation %s: %w", taskID, ErrNotFound)
		}
		return StatusUpdateResult{}, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	if !CanTransition(old, newStatus) {
		return StatusUpdateResult{
			Success: false, TaskID: taskID, OldStatus: old,
			Error:   "Invalid status transition",
			Message: fmt.Sprintf("Cannot transition from %s to %s", old, newStatus),
		}, nil
	}
	now := p.now().UTC()
	if _, err := tx.Exec(ctx, `UPDATE `+taskQueueTable+` SET status = $1, updated_at = $2 WHERE namespace = $3 AND task_id = $4`,
		string(newStatus), now, p.namespace, taskID); err != nil {
		return StatusUpdateResult{}, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return StatusUpdateResult{}, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return StatusUpdateResult{Success: true, TaskID: taskID, OldStatus: old, NewStatus: newStatus}, nil
}

func (p *PostgresStore) SetAwaitingResponse(ctx context.Context, taskID string, clarification Clarification, conversationHistory []ConversationEntry, output string) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	defer tx.Rollback(ctx)

	var status Status
	row := tx.QueryRow(ctx, `SELECT status FROM `+taskQueueTable+` WHERE namespace = $1 AND task_id = $2 FOR UPDATE`, p.namespace, taskID)
	if err := row.Scan(&status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("set_awaiting_response %s: %w", taskID, ErrNotFound)
		}
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	if status != StatusRunning {
		return fmt.Errorf("set_awaiting_response %s: source status %s: %w", taskID, status, ErrInvalidStatus)
	}
	clarifJSON, err := json.Marshal(clarification)
	if err != nil {
		return fmt.Errorf("queue: marshal clarification: %w", err)
	}
	now := p.now().UTC()
	if _, err := tx.Exec(ctx, `
UPDATE `+taskQueueTable+`
SET status = $1, updated_at = $2, clarification = $3,
    conversation_history = conversation_history || $4::jsonb,
    output = CASE WHEN $5 = '' THEN output ELSE $5 END
WHERE namespace = $6 AND task_id = $7
`, string(StatusAwaitingResponse), now, clarifJSON, mustMarshalEntries(conversationHistory), output, p.namespace, taskID); err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return tx.Commit(ctx)
}

func (p *PostgresStore) ResumeWithResponse(ctx context.Context, taskID, userResponse string) (StatusUpdateResult, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return StatusUpdateResult{}, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	defer tx.Rollback(ctx)

	var status Status
	row := tx.QueryRow(ctx, `SELECT status FROM `+taskQueueTable+` WHERE namespace = $1 AND task_id = $2 FOR UPDATE`, p.namespace, taskID)
	if err := row.Scan(&status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return StatusUpdateResult{}, fmt.Errorf("resume_with_response %s: %w", taskID, ErrNotFound)
		}
		return StatusUpdateResult{}, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	if status != StatusAwaitingResponse {
		return StatusUpdateResult{}, fmt.Errorf("resume_with_response %s: source status %s: %w", taskID, status, ErrInvalidStatus)
	}
	now := p.now().UTC()
	entry := mustMarshalEntries([]ConversationEntry{{Role: RoleUser, Content: userResponse, Timestamp: now}})
	if _, err := tx.Exec(ctx, `
UPDATE `+taskQueueTable+`
SET status = $1, updated_at = $2, conversation_history = conversation_history || $3::jsonb
WHERE namespace = $4 AND task_id = $5
`, string(StatusQueued), now, entry, p.namespace, taskID); err != nil {
		return StatusUpdateResult{}, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return StatusUpdateResult{}, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return StatusUpdateResult{Success: true, TaskID: taskID, OldStatus: StatusAwaitingResponse, NewStatus: StatusQueued}, nil
}

func (p *PostgresStore) AppendEvent(ctx context.Context, taskID string, event Event) (bool, error) {
	if event.Timestamp.IsZero() {
		event.Timestamp = p.now().UTC()
	}
	eventJSON, err := json.Marshal(event)
	if err != nil {
		return false, fmt.Errorf("queue: marshal event: %w", err)
	}
	tag, err := p.pool.Exec(ctx, `
UPDATE `+taskQueueTable+`
SET updated_at = $1,
    events = CASE
        WHEN jsonb_array_length(events) >= $2 THEN (events - 0) || $3::jsonb
        ELSE events || $3::jsonb
    END
WHERE namespace = $4 AND task_id = $5
`, event.Timestamp, MaxEvents, []byte("["+string(eventJSON)+"]"), p.namespace, taskID)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return tag.RowsAffected() > 0, nil
}

func (p *PostgresStore) GetByStatus(ctx context.Context, status Status) ([]*QueueItem, error) {
	return p.queryItems(ctx, selectColumns+` FROM `+taskQueueTable+` WHERE namespace = $1 AND status = $2 ORDER BY created_at ASC`, p.namespace, string(status))
}

func (p *PostgresStore) GetByTaskGroup(ctx context.Context, taskGroupID, targetNamespace string) ([]*QueueItem, error) {
	ns := p.resolveNamespace(targetNamespace)
	return p.queryItems(ctx, selectColumns+` FROM `+taskQueueTable+` WHERE namespace = $1 AND task_group_id = $2 ORDER BY created_at ASC`, ns, taskGroupID)
}

func (p *PostgresStore) GetAllItems(ctx context.Context, targetNamespace string) ([]*QueueItem, error) {
	ns := p.resolveNamespace(targetNamespace)
	return p.queryItems(ctx, selectColumns+` FROM `+taskQueueTable+` WHERE namespace = $1 ORDER BY created_at ASC`, ns)
}

func (p *PostgresStore) GetAllTaskGroups(ctx context.Context, targetNamespace string) ([]TaskGroupSummary, error) {
	ns := p.resolveNamespace(targetNamespace)
	items, err := p.queryItems(ctx, selectColumns+` FROM `+taskQueueTable+` WHERE namespace = $1 AND task_group_id <> '' ORDER BY created_at ASC`, ns)
	if err != nil {
		return nil, err
	}
	groups := make(map[string]*TaskGroupSummary)
	var order []string
	for _, item := range items {
		g, ok := groups[item.TaskGroupID]
		if !ok {
			g = &TaskGroupSummary{TaskGroupID: item.TaskGroupID, Namespace: ns, StatusCounts: make(map[Status]int), OldestCreatedAt: item.CreatedAt, NewestUpdatedAt: item.UpdatedAt}
			groups[item.TaskGroupID] = g
			order = append(order, item.TaskGroupID)
		}
		g.TaskCount++
		g.StatusCounts[item.Status]++
		if item.CreatedAt.Before(g.OldestCreatedAt) {
			g.OldestCreatedAt = item.CreatedAt
		}
		if item.UpdatedAt.After(g.NewestUpdatedAt) {
			g.NewestUpdatedAt = item.UpdatedAt
		}
	}
	out := make([]TaskGroupSummary, 0, len(order))
	for _, id := range order {
		out = append(out, *groups[id])
	}
	return out, nil
}

func (p *PostgresStore) GetAllNamespaces(ctx context.Context) ([]NamespaceSummary, error) {
	rows, err := p.pool.Query(ctx, `SELECT namespace, status, COUNT(*) FROM `+taskQueueTable+` GROUP BY namespace, status`)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	summaries := make(map[string]*NamespaceSummary)
	for rows.Next() {
		var ns, status string
		var count int
		if err := rows.Scan(&ns, &status, &count); err != nil {
			rows.Close()
			return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
		}
		s, ok := summaries[ns]
		if !ok {
			s = &NamespaceSummary{Namespace: ns, StatusCounts: make(map[Status]int)}
			summaries[ns] = s
		}
		s.StatusCounts[Status(status)] += count
		s.TaskCount += count
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}

	runnerRows, err := p.pool.Query(ctx, `SELECT namespace, last_heartbeat FROM `+runnerRegistryTable)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	now := p.now()
	for runnerRows.Next() {
		var ns string
		var heartbeat time.Time
		if err := runnerRows.Scan(&ns, &heartbeat); err != nil {
			runnerRows.Close()
			return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
		}
		s, ok := summaries[ns]
		if !ok {
			s = &NamespaceSummary{Namespace: ns, StatusCounts: make(map[Status]int)}
			summaries[ns] = s
		}
		s.RunnerCount++
		if now.Sub(heartbeat) < DefaultHeartbeatTimeout {
			s.AliveRunnerCount++
		}
	}
	runnerRows.Close()

	out := make([]NamespaceSummary, 0, len(summaries))
	for _, s := range summaries {
		out = append(out, *s)
	}
	return out, runnerRows.Err()
}

func (p *PostgresStore) RecoverStaleTasks(ctx context.Context, maxAge int64) (int, error) {
	now := p.now().UTC()
	cutoff := now.Add(-time.Duration(maxAge) * time.Millisecond)
	tag, err := p.pool.Exec(ctx, `
UPDATE `+taskQueueTable+`
SET status = $1,
    error_message = 'Task stale: running for ' || FLOOR(EXTRACT(EPOCH FROM ($2 - updated_at)))::bigint || 's without completion',
    updated_at = $2
WHERE namespace = $3 AND status = $4 AND updated_at <= $5
`, string(StatusError), now, p.namespace, string(StatusRunning), cutoff)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return int(tag.RowsAffected()), nil
}

func (p *PostgresStore) UpdateRunnerHeartbeat(ctx context.Context, runnerID, projectRoot string) error {
	now := p.now().UTC()
	_, err := p.pool.Exec(ctx, `
INSERT INTO `+runnerRegistryTable+` (namespace, runner_id, status, project_root, started_at, last_heartbeat)
VALUES ($1, $2, $3, $4, $5, $5)
ON CONFLICT (namespace, runner_id)
DO UPDATE SET last_heartbeat = $5, status = $3,
              project_root = CASE WHEN $4 = '' THEN `+runnerRegistryTable+`.project_root ELSE $4 END
`, p.namespace, runnerID, string(RunnerStatusRunning), projectRoot, now)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return nil
}

func (p *PostgresStore) GetRunner(ctx context.Context, runnerID string) (*RunnerRecord, error) {
	row := p.pool.QueryRow(ctx, `SELECT namespace, runner_id, status, project_root, started_at, last_heartbeat FROM `+runnerRegistryTable+` WHERE namespace = $1 AND runner_id = $2`, p.namespace, runnerID)
	var r RunnerRecord
	var status string
	if err := row.Scan(&r.Namespace, &r.RunnerID, &status, &r.ProjectRoot, &r.StartedAt, &r.LastHeartbeat); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	r.Status = RunnerStatus(status)
	return &r, nil
}

func (p *PostgresStore) GetAllRunners(ctx context.Context) ([]*RunnerRecord, error) {
	rows, err := p.pool.Query(ctx, `SELECT namespace, runner_id, status, project_root, started_at, last_heartbeat FROM `+runnerRegistryTable+` WHERE namespace = $1 ORDER BY runner_id`, p.namespace)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	defer rows.Close()
	var out []*RunnerRecord
	for rows.Next() {
		var r RunnerRecord
		var status string
		if err := rows.Scan(&r.Namespace, &r.RunnerID, &status, &r.ProjectRoot, &r.StartedAt, &r.LastHeartbeat); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
		}
		r.Status = RunnerStatus(status)
		out = append(out, &r)
	}
	return out, rows.Err()
}

func (p *PostgresStore) GetRunnersWithStatus(ctx context.Context, heartbeatTimeoutMs int64, targetNamespace string) ([]RunnerView, error) {
	ns := p.resolveNamespace(targetNamespace)
	timeout := time.Duration(heartbeatTimeoutMs) * time.Millisecond
	if heartbeatTimeoutMs <= 0 {
		timeout = DefaultHeartbeatTimeout
	}
	recs, err := p.queryRunners(ctx, ns)
	if err != nil {
		return nil, err
	}
	now := p.now()
	out := make([]RunnerView, 0, len(recs))
	for _, r := range recs {
		out = append(out, RunnerView{RunnerRecord: *r, IsAlive: now.Sub(r.LastHeartbeat) < timeout})
	}
	return out, nil
}

func (p *PostgresStore) queryRunners(ctx context.Context, ns string) ([]*RunnerRecord, error) {
	rows, err := p.pool.Query(ctx, `SELECT namespace, runner_id, status, project_root, started_at, last_heartbeat FROM `+runnerRegistryTable+` WHERE namespace = $1 ORDER BY runner_id`, ns)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	defer rows.Close()
	var out []*RunnerRecord
	for rows.Next() {
		var r RunnerRecord
		var status string
		if err := rows.Scan(&r.Namespace, &r.RunnerID, &status, &r.ProjectRoot, &r.StartedAt, &r.LastHeartbeat); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
		}
		r.Status = RunnerStatus(status)
		out = append(out, &r)
	}
	return out, rows.Err()
}

func (p *PostgresStore) MarkRunnerStopped(ctx context.Context, runnerID string) error {
	_, err := p.pool.Exec(ctx, `UPDATE `+runnerRegistryTable+` SET status = $1 WHERE namespace = $2 AND runner_id = $3`, string(RunnerStatusStopped), p.namespace, runnerID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return nil
}

func (p *PostgresStore) DeleteRunner(ctx context.Context, runnerID string) error {
	_, err := p.pool.Exec(ctx, `DELETE FROM `+runnerRegistryTable+` WHERE namespace = $1 AND runner_id = $2`, p.namespace, runnerID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return nil
}

func (p *PostgresStore) resolveNamespace(targetNamespace string) string {
	if targetNamespace != "" {
		return targetNamespace
	}
	return p.namespace
}

const selectColumnNames = `namespace, task_id, task_group_id, session_id, status, prompt, task_type, error_message, output, clarification, conversation_history, events, created_at, updated_at`
const selectColumns = `SELECT ` + selectColumnNames

type rowScanner interface {
	Scan(dest ...any) error
}

func scanQueueItem(row rowScanner) (*QueueItem, error) {
	var item QueueItem
	var status, taskType string
	var clarifJSON []byte
	var historyJSON, eventsJSON []byte
	if err := row.Scan(&item.Namespace, &item.TaskID, &item.TaskGroupID, &item.SessionID, &status, &item.Prompt, &taskType,
		&item.ErrorMessage, &item.Output, &clarifJSON, &historyJSON, &eventsJSON, &item.CreatedAt, &item.UpdatedAt); err != nil {
		return nil, err
	}
	item.Status = Status(status)
	item.TaskType = TaskType(taskType)
	if len(clarifJSON) > 0 {
		var c Clarification
		if err := json.Unmarshal(clarifJSON, &c); err == nil {
			item.Clarification = &c
		}
	}
	if len(historyJSON) > 0 {
		_ = json.Unmarshal(historyJSON, &item.ConversationHistory)
	}
	if len(eventsJSON) > 0 {
		_ = json.Unmarshal(eventsJSON, &item.Events)
	}
	return &item, nil
}

func (p *PostgresStore) queryItems(ctx context.Context, query string, args ...any) ([]*QueueItem, error) {
	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	defer rows.Close()
	var out []*QueueItem
	for rows.Next() {
		item, err := scanQueueItem(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
		}
		out = append(out, item)
	}
	return out, rows.Err()
}

func mustMarshalEntries(entries []ConversationEntry) []byte {
	if entries == nil {
		entries = []ConversationEntry{}
	}
	data, err := json.Marshal(entries)
	if err != nil {
		return []byte("[]")
	}
	return data
}

func isUniqueViolation(err error) bool {
	var pgErr interface{ SQLState() string }
	if errors.As(err, &pgErr) {
		return pgErr.SQLState() == "23505"
	}
	return false
}

var _ Store = (*PostgresStore)(nil)
