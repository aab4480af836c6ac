package v1

import "time"

// TicketStatus represents the workflow state of a ticket
type TicketStatus string

const (
	TicketStatusBacklog    TicketStatus = "backlog"
	TicketStatusTodo       TicketStatus = "todo"
	TicketStatusInProgress TicketStatus = "in_progress"
	TicketStatusReview     TicketStatus = "review"
	TicketStatusClosed     TicketStatus = "closed"
)

// CommentStatus represents the lifecycle of a comment's content
type CommentStatus string

const (
	CommentStatusGenerating CommentStatus = "generating"
	CommentStatusCompleted  CommentStatus = "completed"
	CommentStatusFailed     CommentStatus = "failed"
)

// AuthorKind distinguishes humans from agents
type AuthorKind string

const (
	AuthorKindHuman AuthorKind = "human"
	AuthorKindAgent AuthorKind = "agent"
)

// Ticket represents a unit of work tracked by the coordinator
type Ticket struct {
	ID           string       `json:"id"`
	RepositoryID string       `json:"repository_id"`
	Title        string       `json:"title"`
	Description  *string      `json:"description,omitempty"`
	SolutionPlan *string      `json:"solution_plan,omitempty"`
	Status       TicketStatus `json:"status"`
	Priority     *int         `json:"priority,omitempty"`
	Labels       []Label      `json:"labels,omitempty"`
	Assignees    []Assignee   `json:"assignees,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// Label is a named, colored tag attached to tickets
type Label struct {
	Name  string `json:"name"`
	Color string `json:"color,omitempty"`
}

// Assignee is a (kind, id) pair attached to a ticket
type Assignee struct {
	Kind AuthorKind `json:"kind"`
	ID   string     `json:"id"`
}

// Comment represents a comment on a ticket (human or agent authored)
type Comment struct {
	ID           string        `json:"id"`
	TicketID     string        `json:"ticket_id"`
	AuthorKind   AuthorKind    `json:"author_kind"`
	AuthorID     string        `json:"author_id"`
	Content      string        `json:"content"`
	Mentions     []string      `json:"mentions,omitempty"`
	Status       CommentStatus `json:"status"`
	RespondingTo *string       `json:"responding_to,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// CreateTicketRequest for creating a new ticket
type CreateTicketRequest struct {
	RepositoryID string     `json:"repository_id" binding:"required"`
	Title        string     `json:"title" binding:"required,max=500"`
	Description  *string    `json:"description,omitempty"`
	Status       string     `json:"status,omitempty"`
	Priority     *int       `json:"priority,omitempty" binding:"omitempty,min=0,max=10"`
	Labels       []Label    `json:"labels,omitempty"`
	Assignees    []Assignee `json:"assignees,omitempty"`
}

// UpdateTicketRequest for updating an existing ticket
type UpdateTicketRequest struct {
	Title        *string    `json:"title,omitempty" binding:"omitempty,max=500"`
	Description  *string    `json:"description,omitempty"`
	SolutionPlan *string    `json:"solution_plan,omitempty"`
	Status       *string    `json:"status,omitempty"`
	Priority     *int       `json:"priority,omitempty" binding:"omitempty,min=0,max=10"`
	Labels       []Label    `json:"labels,omitempty"`
	Assignees    []Assignee `json:"assignees,omitempty"`
}

// CreateCommentRequest for adding a comment to a ticket
type CreateCommentRequest struct {
	Content      string  `json:"content" binding:"required"`
	AuthorKind   string  `json:"author_kind,omitempty"` // Defaults to "human"
	AuthorID     string  `json:"author_id,omitempty"`
	Status       string  `json:"status,omitempty"` // "generating" for streaming comments
	RespondingTo *string `json:"responding_to,omitempty"`
}

// UpdateCommentRequest for revising comment content, including streaming deltas
type UpdateCommentRequest struct {
	Content *string `json:"content,omitempty"`
	Status  *string `json:"status,omitempty"`
}

// StreamCommentRequest advances an agent-streamed comment. Final marks the
// comment completed; Failed marks it failed and discards buffered deltas.
type StreamCommentRequest struct {
	Content string `json:"content"`
	Final   bool   `json:"final,omitempty"`
	Failed  bool   `json:"failed,omitempty"`
}

// BroadcastCommentRequest asks the broker to publish a comment event on the
// worker's behalf
type BroadcastCommentRequest struct {
	Type string `json:"type" binding:"required"` // created, updated, completed
}

// ListTicketsQuery carries the supported ticket list filters
type ListTicketsQuery struct {
	RepositoryID string `json:"repository_id,omitempty"`
	Status       string `json:"status,omitempty"`
	Label        string `json:"label,omitempty"`
	Assignee     string `json:"assignee,omitempty"`
}
