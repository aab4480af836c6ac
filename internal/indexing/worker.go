package indexing

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	apperrors "github.com/agentdesk/agentdesk/internal/common/errors"
	"github.com/agentdesk/agentdesk/internal/common/logger"
)

const (
	embedBatchLimit = 100
	staleClaimAge   = time.Hour
)

// Worker drains the indexing queue: poll, claim a batch of the oldest
// pending jobs, dispatch them concurrently under a semaphore, finish each
// terminally. It runs either inside the server process or as the standalone
// index-worker binary.
type Worker struct {
	repo     Repository
	vectors  VectorStore
	embedder Embedder
	source   ContentSource
	logger   *logger.Logger

	docChunker  *MarkdownChunker
	codeChunker *CodeChunker

	pollInterval time.Duration
	batchSize    int
	sem          *semaphore.Weighted

	mu       sync.Mutex
	lastPoll time.Time

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// NewWorker creates the drainer.
func NewWorker(repo Repository, vectors VectorStore, embedder Embedder, source ContentSource,
	count TokenCounter, maxTokens, overlapTokens int, pollInterval time.Duration, batchSize int,
	log *logger.Logger) *Worker {
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	if batchSize <= 0 {
		batchSize = 3
	}
	return &Worker{
		repo:         repo,
		vectors:      vectors,
		embedder:     embedder,
		source:       source,
		logger:       log.WithFields(zap.String("component", "indexing-worker")),
		docChunker:   NewMarkdownChunker(maxTokens, overlapTokens, count),
		codeChunker:  NewCodeChunker(maxTokens, count),
		pollInterval: pollInterval,
		batchSize:    batchSize,
		sem:          semaphore.NewWeighted(int64(batchSize)),
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}
}

// Start runs the recovery pass and launches the poll loop.
func (w *Worker) Start(ctx context.Context) error {
	recovered, err := w.repo.RecoverStale(ctx, staleClaimAge)
	if err != nil {
		return err
	}
	if recovered > 0 {
		w.logger.Warn("Re-queued stale processing jobs", zap.Int("count", recovered))
	}
	go w.run()
	return nil
}

// Stop terminates the poll loop and waits for in-flight jobs to finish.
func (w *Worker) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
	<-w.done
}

// LastPoll reports when the loop last woke up, for health reporting.
func (w *Worker) LastPoll() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastPoll
}

func (w *Worker) run() {
	defer close(w.done)
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-w.stop:
			// Wait for everything dispatched so far.
			_ = w.sem.Acquire(context.Background(), int64(w.batchSize))
			w.sem.Release(int64(w.batchSize))
			return
		case <-ticker.C:
			w.mu.Lock()
			w.lastPoll = time.Now()
			w.mu.Unlock()
			w.poll(context.Background())
		}
	}
}

// poll claims one batch and dispatches it. Jobs run concurrently; the
// semaphore bounds them to the batch size.
func (w *Worker) poll(ctx context.Context) {
	jobs, err := w.repo.ClaimBatch(ctx, w.batchSize)
	if err != nil {
		w.logger.Error("Failed to claim indexing jobs", zap.Error(err))
		return
	}
	for _, job := range jobs {
		if err := w.sem.Acquire(ctx, 1); err != nil {
			return
		}
		go func(job *Job) {
			defer w.sem.Release(1)
			w.handle(ctx, job)
		}(job)
	}
}

// Drain synchronously processes jobs until the pending set is empty. Used
// by the standalone worker's --once mode.
func (w *Worker) Drain(ctx context.Context) error {
	for {
		jobs, err := w.repo.ClaimBatch(ctx, w.batchSize)
		if err != nil {
			return err
		}
		if len(jobs) == 0 {
			return nil
		}
		for _, job := range jobs {
			w.handle(ctx, job)
		}
	}
}

// handle processes one job and records its terminal state. completed_at is
// always set, success or failure.
func (w *Worker) handle(ctx context.Context, job *Job) {
	log := w.logger.WithFields(zap.String("job_id", job.ID), zap.String("job_type", job.Type))

	var err error
	switch job.Type {
	case JobTypeCode:
		err = w.indexCode(ctx, job)
	case JobTypeDoc:
		err = w.indexDoc(ctx, job)
	case JobTypeTicket:
		err = w.indexTicket(ctx, job)
	default:
		err = apperrors.ValidationMsg("unknown job type: " + job.Type)
	}

	if err != nil {
		log.Warn("Indexing job failed", zap.Error(err))
		if markErr := w.repo.MarkFailed(ctx, job.ID, err.Error()); markErr != nil {
			log.Error("Failed to record job failure", zap.Error(markErr))
		}
		return
	}
	if markErr := w.repo.MarkCompleted(ctx, job.ID); markErr != nil {
		log.Error("Failed to record job completion", zap.Error(markErr))
	}
}

// indexCode re-chunks a tracked file unless its content hash is unchanged,
// in which case the job completes with no vector churn.
func (w *Worker) indexCode(ctx context.Context, job *Job) error {
	content, err := w.source.ReadFile(ctx, job.RepositoryID, job.FilePath)
	if err != nil {
		return err
	}

	hash := HashContent(content)
	stored, err := w.repo.FileHash(ctx, job.RepositoryID, job.FilePath)
	if err != nil {
		return err
	}
	if stored == hash {
		return nil
	}

	chunks := w.codeChunker.Chunk(string(content))
	records, err := w.embedChunks(ctx, JobTypeCode, job.ContentID(), chunks, map[string]string{
		"repository_id": job.RepositoryID,
		"file_path":     job.FilePath,
	})
	if err != nil {
		return err
	}
	if err := w.vectors.Replace(ctx, JobTypeCode, job.ContentID(), records); err != nil {
		return err
	}
	return w.repo.SetFileHash(ctx, job.RepositoryID, job.FilePath, hash, len(records))
}

// indexDoc heading-chunks a markdown document and replaces its vectors.
func (w *Worker) indexDoc(ctx context.Context, job *Job) error {
	content, err := w.source.ReadDoc(ctx, job.DocID)
	if err != nil {
		return err
	}
	chunks := w.docChunker.Chunk(content)
	records, err := w.embedChunks(ctx, JobTypeDoc, job.DocID, chunks, map[string]string{
		"doc_id": job.DocID,
	})
	if err != nil {
		return err
	}
	return w.vectors.Replace(ctx, JobTypeDoc, job.DocID, records)
}

// indexTicket writes the single title+description vector for a ticket. A
// ticket deleted between enqueue and drain just has its vector retired.
func (w *Worker) indexTicket(ctx context.Context, job *Job) error {
	ticket, err := w.source.ReadTicket(ctx, job.TicketID)
	if apperrors.IsNotFound(err) {
		return w.vectors.Delete(ctx, JobTypeTicket, job.TicketID)
	}
	if err != nil {
		return err
	}

	description := ""
	if ticket.Description != nil {
		description = *ticket.Description
	}
	text := ticket.Title + "\n\n" + description

	records, err := w.embedChunks(ctx, JobTypeTicket, job.TicketID,
		[]Chunk{{Index: 0, Text: text}}, map[string]string{
			"repository_id": ticket.RepositoryID,
		})
	if err != nil {
		return err
	}
	return w.vectors.Replace(ctx, JobTypeTicket, job.TicketID, records)
}

// embedChunks embeds chunk texts in provider-sized batches and pairs each
// chunk with its vector and merged metadata.
func (w *Worker) embedChunks(ctx context.Context, kind, contentID string, chunks []Chunk, base map[string]string) ([]Record, error) {
	if len(chunks) == 0 {
		return nil, nil
	}

	vectors := make([][]float32, 0, len(chunks))
	for start := 0; start < len(chunks); start += embedBatchLimit {
		end := start + embedBatchLimit
		if end > len(chunks) {
			end = len(chunks)
		}
		texts := make([]string, 0, end-start)
		for _, chunk := range chunks[start:end] {
			texts = append(texts, chunk.Text)
		}
		batch, err := w.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return nil, err
		}
		vectors = append(vectors, batch...)
	}

	records := make([]Record, 0, len(chunks))
	for i, chunk := range chunks {
		metadata := make(map[string]string, len(base)+len(chunk.Metadata))
		for k, v := range base {
			metadata[k] = v
		}
		for k, v := range chunk.Metadata {
			metadata[k] = v
		}
		records = append(records, Record{
			ContentKind: kind,
			ContentID:   contentID,
			ChunkIndex:  chunk.Index,
			Text:        chunk.Text,
			Vector:      vectors[i],
			Metadata:    metadata,
		})
	}
	return records, nil
}
