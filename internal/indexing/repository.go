package indexing

import (
	"context"
	"time"
)

// Repository persists indexing jobs and per-file content hashes.
type Repository interface {
	// Enqueue inserts a pending job. It validates that exactly one target
	// reference is populated for the job's type.
	Enqueue(ctx context.Context, job *Job) error

	// Get retrieves a job by ID.
	Get(ctx context.Context, id string) (*Job, error)

	// ClaimBatch transitions up to limit oldest pending jobs to processing
	// and returns them. Concurrent claimers never receive the same job.
	ClaimBatch(ctx context.Context, limit int) ([]*Job, error)

	// MarkCompleted finishes a job successfully.
	MarkCompleted(ctx context.Context, id string) error

	// MarkFailed finishes a job with a recorded error.
	MarkFailed(ctx context.Context, id string, jobErr string) error

	// CountByStatus returns job counts keyed by status.
	CountByStatus(ctx context.Context) (map[string]int, error)

	// RecoverStale re-queues processing jobs whose claim is older than the
	// cutoff. Run once at worker startup so a crash mid-batch does not wedge
	// those jobs forever.
	RecoverStale(ctx context.Context, olderThan time.Duration) (int, error)

	// FileHash returns the stored content hash for a tracked file, or ""
	// when the file has never been indexed.
	FileHash(ctx context.Context, repositoryID, filePath string) (string, error)

	// SetFileHash upserts the content hash and chunk count for a file.
	SetFileHash(ctx context.Context, repositoryID, filePath, hash string, chunkCount int) error
}
