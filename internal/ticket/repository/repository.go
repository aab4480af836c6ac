// Package repository provides persistent storage for tickets and comments.
package repository

import (
	"context"

	"github.com/agentdesk/agentdesk/internal/ticket/models"
)

// ListFilter narrows ListTickets results. Zero values mean no filter.
type ListFilter struct {
	RepositoryID string
	Status       string
	Label        string
	Assignee     string // matches assignee id regardless of kind
	TitleQuery   string // substring match on title
}

// Repository stores tickets with their labels and assignees.
type Repository interface {
	CreateTicket(ctx context.Context, ticket *models.Ticket) error
	GetTicket(ctx context.Context, id string) (*models.Ticket, error)
	ListTickets(ctx context.Context, filter ListFilter) ([]*models.Ticket, error)
	UpdateTicket(ctx context.Context, ticket *models.Ticket) error
	DeleteTicket(ctx context.Context, id string) error
}

// CommentRepository stores ticket comments.
//
// CreateComment guarantees that created_at values are strictly increasing
// within one ticket, so receivers can order comments by created_at even when
// events arrive reordered.
type CommentRepository interface {
	CreateComment(ctx context.Context, comment *models.Comment) error
	GetComment(ctx context.Context, id string) (*models.Comment, error)
	ListComments(ctx context.Context, ticketID string) ([]*models.Comment, error)
	UpdateComment(ctx context.Context, comment *models.Comment) error
	// AppendCommentContent appends a content delta without rewriting the row.
	AppendCommentContent(ctx context.Context, id, delta string) error
	// SweepGenerating transitions generating comments older than the given
	// number of minutes to failed and returns the affected comments.
	SweepGenerating(ctx context.Context, olderThanMinutes int) ([]*models.Comment, error)
}
