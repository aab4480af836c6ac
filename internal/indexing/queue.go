package indexing

import (
	"context"

	"go.uber.org/zap"

	"github.com/agentdesk/agentdesk/internal/common/logger"
)

// Queue is the enqueue surface intake calls as content changes. Callers
// treat failures as log-and-continue; a missed job only delays corpus
// convergence.
type Queue struct {
	repo    Repository
	vectors VectorStore
	logger  *logger.Logger
}

// NewQueue creates the enqueue surface. vectors may be nil when no retire
// path is needed (e.g. a write-only producer process).
func NewQueue(repo Repository, vectors VectorStore, log *logger.Logger) *Queue {
	return &Queue{
		repo:    repo,
		vectors: vectors,
		logger:  log.WithFields(zap.String("component", "indexing-queue")),
	}
}

// QueueTicket enqueues a ticket re-index.
func (q *Queue) QueueTicket(ctx context.Context, ticketID string) error {
	return q.repo.Enqueue(ctx, &Job{Type: JobTypeTicket, TicketID: ticketID})
}

// QueueDoc enqueues a document re-index.
func (q *Queue) QueueDoc(ctx context.Context, docID string) error {
	return q.repo.Enqueue(ctx, &Job{Type: JobTypeDoc, DocID: docID})
}

// QueueCode enqueues a code file re-index.
func (q *Queue) QueueCode(ctx context.Context, repositoryID, filePath string) error {
	return q.repo.Enqueue(ctx, &Job{Type: JobTypeCode, RepositoryID: repositoryID, FilePath: filePath})
}

// RetireTicket removes a deleted ticket's vector immediately. There is no
// job type for deletion; the source row is already gone, so nothing can be
// re-read later.
func (q *Queue) RetireTicket(ctx context.Context, ticketID string) error {
	if q.vectors == nil {
		return nil
	}
	if err := q.vectors.Delete(ctx, JobTypeTicket, ticketID); err != nil {
		q.logger.Warn("Failed to retire ticket vector",
			zap.String("ticket_id", ticketID), zap.Error(err))
		return err
	}
	return nil
}
