// Package indexing keeps the semantic-search corpus synchronized with the
// relational store. Intake enqueues jobs as content changes; an independent
// worker drains them with bounded parallelism, computes embeddings, and
// replaces the prior vectors for each target.
package indexing

import "time"

// Job types. Exactly one target reference is populated per type.
const (
	JobTypeCode   = "code"   // RepositoryID + FilePath
	JobTypeDoc    = "doc"    // DocID
	JobTypeTicket = "ticket" // TicketID
)

// Job statuses.
const (
	JobPending    = "pending"
	JobProcessing = "processing"
	JobCompleted  = "completed"
	JobFailed     = "failed"
)

// Job is one unit of indexing work.
type Job struct {
	ID           string     `db:"id"`
	Type         string     `db:"type"`
	RepositoryID string     `db:"repository_id"`
	FilePath     string     `db:"file_path"`
	DocID        string     `db:"doc_id"`
	TicketID     string     `db:"ticket_id"`
	Status       string     `db:"status"`
	Error        string     `db:"error"`
	CreatedAt    time.Time  `db:"created_at"`
	StartedAt    *time.Time `db:"started_at"`
	CompletedAt  *time.Time `db:"completed_at"`
}

// ContentID returns the vector-store key for the job's target. Code targets
// are keyed by repository and path so two repositories can track the same
// relative file path.
func (j *Job) ContentID() string {
	switch j.Type {
	case JobTypeCode:
		return j.RepositoryID + ":" + j.FilePath
	case JobTypeDoc:
		return j.DocID
	case JobTypeTicket:
		return j.TicketID
	}
	return ""
}

// Chunk is one embeddable slice of a source document or file.
type Chunk struct {
	Index    int
	Text     string
	Metadata map[string]string
}
