package dispatch

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	apperrors "github.com/agentdesk/agentdesk/internal/common/errors"
	"github.com/agentdesk/agentdesk/internal/db"
)

const taskColumns = `id, agent_id, type, payload, priority, status, error, source_id, created_at, started_at, completed_at`

// SQLRepository implements Repository on the shared reader/writer pool.
type SQLRepository struct {
	db *sqlx.DB // writer
	ro *sqlx.DB // reader
}

var _ Repository = (*SQLRepository)(nil)

// NewRepository creates the repository and initializes its schema.
func NewRepository(pool *db.Pool) (*SQLRepository, error) {
	repo := &SQLRepository{db: pool.Writer(), ro: pool.Reader()}
	if err := repo.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize tasks schema: %w", err)
	}
	return repo, nil
}

func (r *SQLRepository) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS agent_tasks (
		id TEXT PRIMARY KEY,
		agent_id TEXT NOT NULL,
		type TEXT NOT NULL,
		payload TEXT NOT NULL DEFAULT '{}',
		priority INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'pending',
		error TEXT,
		source_id TEXT,
		created_at TIMESTAMP NOT NULL,
		started_at TIMESTAMP,
		completed_at TIMESTAMP
	)`
	if _, err := r.db.Exec(schema); err != nil {
		return err
	}
	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_agent_tasks_claim ON agent_tasks(agent_id, status, priority, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_agent_tasks_source ON agent_tasks(agent_id, type, source_id)`,
	}
	for _, idx := range indexes {
		if _, err := r.db.Exec(idx); err != nil {
			return err
		}
	}
	return nil
}

// Create inserts a new pending task row.
func (r *SQLRepository) Create(ctx context.Context, task *Task) error {
	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	if task.Status == "" {
		task.Status = StatusPending
	}
	task.CreatedAt = time.Now().UTC()

	payload, err := json.Marshal(task.Payload)
	if err != nil {
		payload = []byte("{}")
	}

	_, err = r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO agent_tasks (id, agent_id, type, payload, priority, status, error, source_id, created_at, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), task.ID, task.AgentID, task.Type, string(payload), task.Priority, task.Status,
		task.Error, task.SourceID, task.CreatedAt, task.StartedAt, task.CompletedAt)
	return err
}

// Get retrieves a task by ID.
func (r *SQLRepository) Get(ctx context.Context, id string) (*Task, error) {
	row := r.ro.QueryRowContext(ctx, r.ro.Rebind(
		`SELECT `+taskColumns+` FROM agent_tasks WHERE id = ?`), id)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("task", id)
	}
	return task, err
}

// ClaimNext picks the highest-priority pending task for the agent and
// transitions it to processing. The update carries a status guard, so a
// concurrent claim that raced us to the row loses and we retry on the next
// candidate.
func (r *SQLRepository) ClaimNext(ctx context.Context, agentID string) (*Task, error) {
	for {
		var id string
		err := r.db.QueryRowContext(ctx, r.db.Rebind(`
			SELECT id FROM agent_tasks
			WHERE agent_id = ? AND status = 'pending'
			ORDER BY priority DESC, created_at ASC
			LIMIT 1
		`), agentID).Scan(&id)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}

		task, err := r.claim(ctx, id, false)
		if apperrors.IsConflict(err) {
			continue // lost the race, try the next candidate
		}
		return task, err
	}
}

// Claim transitions a specific task to processing. Processing rows re-claim
// (the reconnect path); terminal rows fail with Conflict.
func (r *SQLRepository) Claim(ctx context.Context, id string) (*Task, error) {
	return r.claim(ctx, id, true)
}

func (r *SQLRepository) claim(ctx context.Context, id string, allowReclaim bool) (*Task, error) {
	now := time.Now().UTC()
	statuses := `'pending'`
	if allowReclaim {
		statuses = `'pending', 'processing'`
	}
	result, err := r.db.ExecContext(ctx, r.db.Rebind(fmt.Sprintf(`
		UPDATE agent_tasks
		SET status = 'processing', started_at = COALESCE(started_at, ?)
		WHERE id = ? AND status IN (%s)
	`, statuses)), now, id)
	if err != nil {
		return nil, err
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		if _, err := r.Get(ctx, id); err != nil {
			return nil, err
		}
		return nil, apperrors.Conflict(fmt.Sprintf("task %s is not claimable", id))
	}
	return r.Get(ctx, id)
}

// MarkCompleted transitions a task to completed. Calling it on a task that
// is already terminal is a no-op.
func (r *SQLRepository) MarkCompleted(ctx context.Context, id string) error {
	return r.finish(ctx, id, StatusCompleted, nil)
}

// MarkFailed transitions a task to failed with the given error string.
// Calling it on a task that is already terminal is a no-op.
func (r *SQLRepository) MarkFailed(ctx context.Context, id string, taskErr string) error {
	return r.finish(ctx, id, StatusFailed, &taskErr)
}

func (r *SQLRepository) finish(ctx context.Context, id, status string, taskErr *string) error {
	now := time.Now().UTC()
	result, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE agent_tasks
		SET status = ?, error = ?, completed_at = ?
		WHERE id = ? AND status NOT IN ('completed', 'failed')
	`), status, taskErr, now, id)
	if err != nil {
		return err
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		// Either already terminal (idempotent success) or missing.
		if _, err := r.Get(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// ListPending returns a snapshot of the agent's pending tasks in claim order.
func (r *SQLRepository) ListPending(ctx context.Context, agentID string) ([]*Task, error) {
	return r.list(ctx, `SELECT `+taskColumns+` FROM agent_tasks
		WHERE agent_id = ? AND status = 'pending'
		ORDER BY priority DESC, created_at ASC`, agentID)
}

// ListProcessing returns the agent's in-flight tasks, oldest first.
func (r *SQLRepository) ListProcessing(ctx context.Context, agentID string) ([]*Task, error) {
	return r.list(ctx, `SELECT `+taskColumns+` FROM agent_tasks
		WHERE agent_id = ? AND status = 'processing'
		ORDER BY started_at ASC`, agentID)
}

// ListByAgent returns the agent's tasks, newest first, optionally filtered
// by status.
func (r *SQLRepository) ListByAgent(ctx context.Context, agentID string, filter ListFilter) ([]*Task, error) {
	query := `SELECT ` + taskColumns + ` FROM agent_tasks WHERE agent_id = ?`
	args := []interface{}{agentID}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, filter.Status)
	}
	query += ` ORDER BY created_at DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}
	return r.list(ctx, query, args...)
}

func (r *SQLRepository) list(ctx context.Context, query string, args ...interface{}) ([]*Task, error) {
	rows, err := r.ro.QueryContext(ctx, r.ro.Rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()

	var tasks []*Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// Stats returns the per-status counters for one agent.
func (r *SQLRepository) Stats(ctx context.Context, agentID string) (Stats, error) {
	rows, err := r.ro.QueryContext(ctx, r.ro.Rebind(`
		SELECT status, COUNT(*) FROM agent_tasks WHERE agent_id = ? GROUP BY status
	`), agentID)
	if err != nil {
		return Stats{}, err
	}
	defer func() {
		_ = rows.Close()
	}()

	var stats Stats
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return Stats{}, err
		}
		applyCount(&stats, status, count)
	}
	return stats, rows.Err()
}

// StatsAll returns the per-status counters for every agent with tasks.
func (r *SQLRepository) StatsAll(ctx context.Context) (map[string]Stats, error) {
	rows, err := r.ro.QueryContext(ctx,
		`SELECT agent_id, status, COUNT(*) FROM agent_tasks GROUP BY agent_id, status`)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()

	all := make(map[string]Stats)
	for rows.Next() {
		var agentID, status string
		var count int
		if err := rows.Scan(&agentID, &status, &count); err != nil {
			return nil, err
		}
		stats := all[agentID]
		applyCount(&stats, status, count)
		all[agentID] = stats
	}
	return all, rows.Err()
}

func applyCount(stats *Stats, status string, count int) {
	switch status {
	case StatusPending:
		stats.Pending = count
	case StatusProcessing:
		stats.Processing = count
	case StatusCompleted:
		stats.Completed = count
	case StatusFailed:
		stats.Failed = count
	}
}

// DeleteByAgent removes all tasks for an agent.
func (r *SQLRepository) DeleteByAgent(ctx context.Context, agentID string) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`DELETE FROM agent_tasks WHERE agent_id = ?`), agentID)
	return err
}

// HasRecentSource reports whether a non-failed task with the same
// (agent, type, source) already exists inside the dedup window. The broker
// uses it to skip duplicate dispatches for the same comment or ticket.
func (r *SQLRepository) HasRecentSource(ctx context.Context, agentID, taskType, sourceID string, window time.Duration) (bool, error) {
	cutoff := time.Now().UTC().Add(-window)
	var count int
	err := r.ro.QueryRowContext(ctx, r.ro.Rebind(`
		SELECT COUNT(*) FROM agent_tasks
		WHERE agent_id = ? AND type = ? AND source_id = ? AND status != 'failed' AND created_at > ?
	`), agentID, taskType, sourceID, cutoff).Scan(&count)
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTask(row rowScanner) (*Task, error) {
	task := &Task{}
	var payload string
	if err := row.Scan(&task.ID, &task.AgentID, &task.Type, &payload, &task.Priority,
		&task.Status, &task.Error, &task.SourceID, &task.CreatedAt,
		&task.StartedAt, &task.CompletedAt); err != nil {
		return nil, err
	}
	_ = json.Unmarshal([]byte(payload), &task.Payload)
	return task, nil
}
