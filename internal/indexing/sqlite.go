package indexing

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	apperrors "github.com/agentdesk/agentdesk/internal/common/errors"
	"github.com/agentdesk/agentdesk/internal/db"
)

const jobColumns = `id, type, repository_id, file_path, doc_id, ticket_id, status, error, created_at, started_at, completed_at`

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
		return nil, fmt.Errorf("failed to initialize indexing schema: %w", err)
	}
	return repo, nil
}

func (r *SQLRepository) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS indexing_jobs (
			id TEXT PRIMARY KEY,
			type TEXT NOT NULL,
			repository_id TEXT NOT NULL DEFAULT '',
			file_path TEXT NOT NULL DEFAULT '',
			doc_id TEXT NOT NULL DEFAULT '',
			ticket_id TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'pending',
			error TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL,
			started_at TIMESTAMP,
			completed_at TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_indexing_jobs_claim ON indexing_jobs(status, created_at)`,
		`CREATE TABLE IF NOT EXISTS indexed_files (
			repository_id TEXT NOT NULL,
			file_path TEXT NOT NULL,
			content_hash TEXT NOT NULL,
			chunk_count INTEGER NOT NULL DEFAULT 0,
			updated_at TIMESTAMP NOT NULL,
			PRIMARY KEY (repository_id, file_path)
		)`,
	}
	for _, stmt := range statements {
		if _, err := r.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Enqueue inserts a pending job row.
func (r *SQLRepository) Enqueue(ctx context.Context, job *Job) error {
	if err := validateTarget(job); err != nil {
		return err
	}
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	job.Status = JobPending
	job.CreatedAt = time.Now().UTC()

	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO indexing_jobs (id, type, repository_id, file_path, doc_id, ticket_id, status, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), job.ID, job.Type, job.RepositoryID, job.FilePath, job.DocID, job.TicketID, job.Status, job.Error, job.CreatedAt)
	return err
}

func validateTarget(job *Job) error {
	switch job.Type {
	case JobTypeCode:
		if job.RepositoryID == "" || job.FilePath == "" {
			return apperrors.ValidationMsg("code job requires repository_id and file_path")
		}
		if job.DocID != "" || job.TicketID != "" {
			return apperrors.ValidationMsg("code job carries exactly one target reference")
		}
	case JobTypeDoc:
		if job.DocID == "" {
			return apperrors.ValidationMsg("doc job requires doc_id")
		}
		if job.RepositoryID != "" || job.FilePath != "" || job.TicketID != "" {
			return apperrors.ValidationMsg("doc job carries exactly one target reference")
		}
	case JobTypeTicket:
		if job.TicketID == "" {
			return apperrors.ValidationMsg("ticket job requires ticket_id")
		}
		if job.RepositoryID != "" || job.FilePath != "" || job.DocID != "" {
			return apperrors.ValidationMsg("ticket job carries exactly one target reference")
		}
	default:
		return apperrors.ValidationMsg(fmt.Sprintf("unknown indexing job type: %s", job.Type))
	}
	return nil
}

// Get retrieves a job by ID.
func (r *SQLRepository) Get(ctx context.Context, id string) (*Job, error) {
	var job Job
	err := r.ro.GetContext(ctx, &job, r.ro.Rebind(
		`SELECT `+jobColumns+` FROM indexing_jobs WHERE id = ?`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("indexing job", id)
	}
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// ClaimBatch selects the oldest pending jobs and flips each to processing
// behind a status guard, so a second drainer racing on the same rows loses
// cleanly.
func (r *SQLRepository) ClaimBatch(ctx context.Context, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = 1
	}
	var ids []string
	err := r.db.SelectContext(ctx, &ids, r.db.Rebind(`
		SELECT id FROM indexing_jobs
		WHERE status = 'pending'
		ORDER BY created_at ASC
		LIMIT ?
	`), limit)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	claimed := make([]*Job, 0, len(ids))
	for _, id := range ids {
		res, err := r.db.ExecContext(ctx, r.db.Rebind(`
			UPDATE indexing_jobs
			SET status = 'processing', started_at = ?
			WHERE id = ? AND status = 'pending'
		`), now, id)
		if err != nil {
			return nil, err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			continue // lost the race
		}
		job, err := r.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		claimed = append(claimed, job)
	}
	return claimed, nil
}

// MarkCompleted finishes a job successfully.
func (r *SQLRepository) MarkCompleted(ctx context.Context, id string) error {
	return r.finish(ctx, id, JobCompleted, "")
}

// MarkFailed finishes a job with its error.
func (r *SQLRepository) MarkFailed(ctx context.Context, id string, jobErr string) error {
	return r.finish(ctx, id, JobFailed, jobErr)
}

// finish always sets completed_at on a terminal transition.
func (r *SQLRepository) finish(ctx context.Context, id, status, jobErr string) error {
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE indexing_jobs
		SET status = ?, error = ?, completed_at = ?
		WHERE id = ?
	`), status, jobErr, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperrors.NotFound("indexing job", id)
	}
	return nil
}

// CountByStatus returns job counts keyed by status.
func (r *SQLRepository) CountByStatus(ctx context.Context) (map[string]int, error) {
	rows, err := r.ro.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM indexing_jobs GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// RecoverStale re-queues processing jobs claimed before the cutoff.
func (r *SQLRepository) RecoverStale(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	res, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE indexing_jobs
		SET status = 'pending', started_at = NULL
		WHERE status = 'processing' AND started_at < ?
	`), cutoff)
	if err != nil {
		return 0, err
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// FileHash returns the stored content hash for a tracked file.
func (r *SQLRepository) FileHash(ctx context.Context, repositoryID, filePath string) (string, error) {
	var hash string
	err := r.ro.GetContext(ctx, &hash, r.ro.Rebind(`
		SELECT content_hash FROM indexed_files
		WHERE repository_id = ? AND file_path = ?
	`), repositoryID, filePath)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return hash, err
}

// SetFileHash upserts the content hash for a file.
func (r *SQLRepository) SetFileHash(ctx context.Context, repositoryID, filePath, hash string, chunkCount int) error {
	_, err := r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO indexed_files (repository_id, file_path, content_hash, chunk_count, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (repository_id, file_path) DO UPDATE SET
			content_hash = excluded.content_hash,
			chunk_count = excluded.chunk_count,
			updated_at = excluded.updated_at
	`), repositoryID, filePath, hash, chunkCount, time.Now().UTC())
	return err
}
