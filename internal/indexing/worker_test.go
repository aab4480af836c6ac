package indexing

import (
	"context"
	"crypto/sha256"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentdesk/agentdesk/internal/common/config"
	"github.com/agentdesk/agentdesk/internal/common/logger"
	"github.com/agentdesk/agentdesk/internal/db"
	"github.com/agentdesk/agentdesk/internal/ticket/models"
	"github.com/agentdesk/agentdesk/internal/ticket/repository"
	v1 "github.com/agentdesk/agentdesk/pkg/api/v1"
)

// fakeEmbedder derives a stable unit vector from the text, so identical
// texts always land at similarity 1 and the corpus works fully offline.
type fakeEmbedder struct{}

func (fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	return fakeVector(text), nil
}

func (f fakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = fakeVector(text)
	}
	return out, nil
}

func (fakeEmbedder) Dimensions() int { return 8 }

func fakeVector(text string) []float32 {
	sum := sha256.Sum256([]byte(text))
	vec := make([]float32, 8)
	var norm float64
	for i := range vec {
		vec[i] = float32(sum[i]) + 1
		norm += float64(vec[i]) * float64(vec[i])
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec
}

type workerFixture struct {
	repo      *SQLRepository
	vectors   *ChromemStore
	worker    *Worker
	tickets   *repository.SQLRepository
	reposRoot string
	docsRoot  string
}

func newWorkerFixture(t *testing.T) *workerFixture {
	t.Helper()
	dir := t.TempDir()
	pool, err := db.Open(config.DatabaseConfig{
		Driver: "sqlite",
		Path:   filepath.Join(dir, "test.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Close() })

	repo, err := NewRepository(pool)
	require.NoError(t, err)
	tickets, err := repository.New(pool)
	require.NoError(t, err)

	embedder := fakeEmbedder{}
	vectors, err := NewChromemStore(filepath.Join(dir, "vectors"), embedder)
	require.NoError(t, err)

	reposRoot := filepath.Join(dir, "repos")
	docsRoot := filepath.Join(dir, "docs")
	require.NoError(t, os.MkdirAll(reposRoot, 0o755))
	require.NoError(t, os.MkdirAll(docsRoot, 0o755))

	source := NewStoreSource(tickets, reposRoot, docsRoot)
	worker := NewWorker(repo, vectors, embedder, source, charCounter,
		200, 20, time.Hour, 3, logger.Default())

	return &workerFixture{
		repo:      repo,
		vectors:   vectors,
		worker:    worker,
		tickets:   tickets,
		reposRoot: reposRoot,
		docsRoot:  docsRoot,
	}
}

func (f *workerFixture) writeRepoFile(t *testing.T, repoID, rel, content string) {
	t.Helper()
	path := filepath.Join(f.reposRoot, repoID, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

const sampleCode = `function alpha() {
  return 1;
}

function beta() {
  return 2;
}
`

func TestWorker_CodeJobHashIdempotence(t *testing.T) {
	f := newWorkerFixture(t)
	ctx := context.Background()

	f.writeRepoFile(t, "r1", "a.ts", sampleCode)

	first := &Job{Type: JobTypeCode, RepositoryID: "r1", FilePath: "a.ts"}
	require.NoError(t, f.repo.Enqueue(ctx, first))
	require.NoError(t, f.worker.Drain(ctx))

	done, err := f.repo.Get(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, JobCompleted, done.Status)
	require.NotNil(t, done.CompletedAt)
	assert.Equal(t, 2, f.vectors.Count(), "one vector per declaration")

	// Unchanged file: the second job completes with no row churn.
	second := &Job{Type: JobTypeCode, RepositoryID: "r1", FilePath: "a.ts"}
	require.NoError(t, f.repo.Enqueue(ctx, second))
	require.NoError(t, f.worker.Drain(ctx))

	done, err = f.repo.Get(ctx, second.ID)
	require.NoError(t, err)
	assert.Equal(t, JobCompleted, done.Status)
	assert.Equal(t, 2, f.vectors.Count(), "hash match must skip re-indexing")

	// Changed file: vectors are replaced, not appended.
	f.writeRepoFile(t, "r1", "a.ts", sampleCode+"\nfunction gamma() {\n  return 3;\n}\n")
	third := &Job{Type: JobTypeCode, RepositoryID: "r1", FilePath: "a.ts"}
	require.NoError(t, f.repo.Enqueue(ctx, third))
	require.NoError(t, f.worker.Drain(ctx))
	assert.Equal(t, 3, f.vectors.Count())
}

func TestWorker_CodeJobMissingFileFails(t *testing.T) {
	f := newWorkerFixture(t)
	ctx := context.Background()

	job := &Job{Type: JobTypeCode, RepositoryID: "r1", FilePath: "gone.ts"}
	require.NoError(t, f.repo.Enqueue(ctx, job))
	require.NoError(t, f.worker.Drain(ctx))

	done, err := f.repo.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobFailed, done.Status)
	assert.NotEmpty(t, done.Error)
	assert.NotNil(t, done.CompletedAt)
}

func TestWorker_TicketVectorReplacement(t *testing.T) {
	f := newWorkerFixture(t)
	ctx := context.Background()

	desc := "first description"
	ticket := &models.Ticket{
		ID: "t1", RepositoryID: "r1", Title: "Fix the flaky retry",
		Description: &desc, Status: models.StatusBacklog,
	}
	require.NoError(t, f.tickets.CreateTicket(ctx, ticket))

	queueDrain := func() {
		job := &Job{Type: JobTypeTicket, TicketID: "t1"}
		require.NoError(t, f.repo.Enqueue(ctx, job))
		require.NoError(t, f.worker.Drain(ctx))
	}
	queueDrain()
	assert.Equal(t, 1, f.vectors.Count())

	// The stored chunk text tracks the latest title+description.
	newDesc := "second description, rewritten"
	ticket.Description = &newDesc
	require.NoError(t, f.tickets.UpdateTicket(ctx, ticket))
	queueDrain()

	require.Equal(t, 1, f.vectors.Count(), "replace, not append")
	want := ticket.Title + "\n\n" + newDesc
	hits, err := f.vectors.Query(ctx, want, 1, map[string]string{"content_kind": JobTypeTicket})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, want, hits[0].Text)
	assert.Equal(t, "t1", hits[0].ContentID)
}

func TestWorker_TicketDeletedBetweenEnqueueAndDrain(t *testing.T) {
	f := newWorkerFixture(t)
	ctx := context.Background()

	desc := "soon to vanish"
	ticket := &models.Ticket{
		ID: "t1", RepositoryID: "r1", Title: "Doomed",
		Description: &desc, Status: models.StatusBacklog,
	}
	require.NoError(t, f.tickets.CreateTicket(ctx, ticket))

	job := &Job{Type: JobTypeTicket, TicketID: "t1"}
	require.NoError(t, f.repo.Enqueue(ctx, job))
	require.NoError(t, f.worker.Drain(ctx))
	require.Equal(t, 1, f.vectors.Count())

	require.NoError(t, f.tickets.DeleteTicket(ctx, "t1"))
	stale := &Job{Type: JobTypeTicket, TicketID: "t1"}
	require.NoError(t, f.repo.Enqueue(ctx, stale))
	require.NoError(t, f.worker.Drain(ctx))

	done, err := f.repo.Get(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, JobCompleted, done.Status, "a vanished target is retirement, not failure")
	assert.Equal(t, 0, f.vectors.Count())
}

func TestWorker_DocJobChunksByHeading(t *testing.T) {
	f := newWorkerFixture(t)
	ctx := context.Background()

	doc := strings.Join([]string{
		"# Guide",
		"intro",
		"## Install",
		"run the installer",
		"## Configure",
		"edit the file",
	}, "\n")
	require.NoError(t, os.WriteFile(filepath.Join(f.docsRoot, "guide.md"), []byte(doc), 0o644))

	job := &Job{Type: JobTypeDoc, DocID: "guide.md"}
	require.NoError(t, f.repo.Enqueue(ctx, job))
	require.NoError(t, f.worker.Drain(ctx))

	done, err := f.repo.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobCompleted, done.Status)
	assert.Equal(t, 3, f.vectors.Count())

	hits, err := f.vectors.Query(ctx, "## Install\nrun the installer", 3,
		map[string]string{"content_kind": JobTypeDoc})
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, "guide.md", hits[0].ContentID)
	assert.Equal(t, "Install", hits[0].Metadata["heading"])
}

func TestSearchService_FiltersAndValidation(t *testing.T) {
	f := newWorkerFixture(t)
	ctx := context.Background()
	search := NewSearchService(f.vectors, logger.Default())

	_, err := search.Search(ctx, &v1.SearchRequest{})
	assert.Error(t, err, "empty query must be rejected")
	_, err = search.Search(ctx, &v1.SearchRequest{Query: "x", ContentKind: "video"})
	assert.Error(t, err, "unknown content kind must be rejected")

	// Empty corpus returns no hits, not an error.
	results, err := search.Search(ctx, &v1.SearchRequest{Query: "anything"})
	require.NoError(t, err)
	assert.Empty(t, results)

	f.writeRepoFile(t, "r1", "a.ts", sampleCode)
	job := &Job{Type: JobTypeCode, RepositoryID: "r1", FilePath: "a.ts"}
	require.NoError(t, f.repo.Enqueue(ctx, job))
	require.NoError(t, f.worker.Drain(ctx))

	results, err = search.Search(ctx, &v1.SearchRequest{
		Query:       "function alpha() {\n  return 1;\n}",
		ContentKind: "code",
	})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "code", results[0].ContentKind)
	assert.Equal(t, "r1:a.ts", results[0].ContentID)
	assert.Equal(t, "a.ts", results[0].Metadata["file_path"])

	// Repository filter excludes other repositories.
	results, err = search.Search(ctx, &v1.SearchRequest{
		Query: "function alpha", ContentKind: "code", RepositoryID: "r2",
	})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestWorker_StartupRecovery(t *testing.T) {
	f := newWorkerFixture(t)
	ctx := context.Background()

	desc := "x"
	require.NoError(t, f.tickets.CreateTicket(ctx, &models.Ticket{
		ID: "t1", RepositoryID: "r1", Title: "Wedged", Description: &desc,
		Status: models.StatusBacklog,
	}))
	job := &Job{Type: JobTypeTicket, TicketID: "t1"}
	require.NoError(t, f.repo.Enqueue(ctx, job))
	claimed, err := f.repo.ClaimBatch(ctx, 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)

	// Simulate a drainer that died over an hour ago.
	old := time.Now().UTC().Add(-2 * time.Hour)
	_, err = f.repo.db.ExecContext(ctx, f.repo.db.Rebind(
		`UPDATE indexing_jobs SET started_at = ? WHERE id = ?`), old, job.ID)
	require.NoError(t, err)

	require.NoError(t, f.worker.Start(ctx))
	f.worker.Stop()

	require.NoError(t, f.worker.Drain(ctx))
	done, err := f.repo.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, JobCompleted, done.Status)
}
