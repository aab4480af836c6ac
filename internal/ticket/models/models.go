// Package models defines the stored representation of tickets and comments.
package models

import (
	"time"

	v1 "github.com/agentdesk/agentdesk/pkg/api/v1"
)

// Ticket statuses. Transitions are unconstrained except through the
// approve/reopen endpoints, which guard against double transitions.
const (
	StatusBacklog    = "backlog"
	StatusTodo       = "todo"
	StatusInProgress = "in_progress"
	StatusReview     = "review"
	StatusClosed     = "closed"
)

// ValidStatus reports whether s is a recognized ticket status.
func ValidStatus(s string) bool {
	switch s {
	case StatusBacklog, StatusTodo, StatusInProgress, StatusReview, StatusClosed:
		return true
	}
	return false
}

// Comment statuses.
const (
	CommentGenerating = "generating"
	CommentCompleted  = "completed"
	CommentFailed     = "failed"
)

// Author kinds for comments and assignees.
const (
	AuthorHuman = "human"
	AuthorAgent = "agent"
)

// Ticket is a unit of work tracked by the coordinator.
type Ticket struct {
	ID           string
	RepositoryID string
	Title        string
	Description  *string
	SolutionPlan *string
	Status       string
	Priority     *int
	Labels       []Label
	Assignees    []Assignee
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Label is a named, colored tag.
type Label struct {
	Name  string
	Color string
}

// Assignee is a (kind, id) pair attached to a ticket.
type Assignee struct {
	Kind string
	ID   string
}

// Comment is a ticket comment, human or agent authored. Mentions holds the
// agent names parsed from content at creation time; it is nil when no
// mentions were found.
type Comment struct {
	ID           string
	TicketID     string
	AuthorKind   string
	AuthorID     string
	Content      string
	Mentions     []string
	Status       string
	RespondingTo *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ToAPI converts the stored ticket to its API representation.
func (t *Ticket) ToAPI() *v1.Ticket {
	labels := make([]v1.Label, 0, len(t.Labels))
	for _, l := range t.Labels {
		labels = append(labels, v1.Label{Name: l.Name, Color: l.Color})
	}
	assignees := make([]v1.Assignee, 0, len(t.Assignees))
	for _, a := range t.Assignees {
		assignees = append(assignees, v1.Assignee{Kind: v1.AuthorKind(a.Kind), ID: a.ID})
	}
	return &v1.Ticket{
		ID:           t.ID,
		RepositoryID: t.RepositoryID,
		Title:        t.Title,
		Description:  t.Description,
		SolutionPlan: t.SolutionPlan,
		Status:       v1.TicketStatus(t.Status),
		Priority:     t.Priority,
		Labels:       labels,
		Assignees:    assignees,
		CreatedAt:    t.CreatedAt,
		UpdatedAt:    t.UpdatedAt,
	}
}

// ToAPI converts the stored comment to its API representation.
func (c *Comment) ToAPI() *v1.Comment {
	return &v1.Comment{
		ID:           c.ID,
		TicketID:     c.TicketID,
		AuthorKind:   v1.AuthorKind(c.AuthorKind),
		AuthorID:     c.AuthorID,
		Content:      c.Content,
		Mentions:     c.Mentions,
		Status:       v1.CommentStatus(c.Status),
		RespondingTo: c.RespondingTo,
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
	}
}
