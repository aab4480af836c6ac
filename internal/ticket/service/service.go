// Package service implements ticket intake: CRUD, comments with mention
// parsing, approval transitions, and streaming agent comments.
package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	apperrors "github.com/agentdesk/agentdesk/internal/common/errors"
	"github.com/agentdesk/agentdesk/internal/common/logger"
	"github.com/agentdesk/agentdesk/internal/events"
	"github.com/agentdesk/agentdesk/internal/events/bus"
	"github.com/agentdesk/agentdesk/internal/ticket/mention"
	"github.com/agentdesk/agentdesk/internal/ticket/models"
	"github.com/agentdesk/agentdesk/internal/ticket/repository"
	v1 "github.com/agentdesk/agentdesk/pkg/api/v1"
)

// Indexer is the slice of the indexing queue the intake layer uses to keep
// the semantic corpus in sync. Enqueue failures are logged, never surfaced
// to the request path.
type Indexer interface {
	QueueTicket(ctx context.Context, ticketID string) error
	RetireTicket(ctx context.Context, ticketID string) error
}

// Store joins the ticket and comment repositories the service needs.
type Store interface {
	repository.Repository
	repository.CommentRepository
}

// Service provides ticket intake operations. Every durable mutation is
// followed by a broadcast on the tickets subject; the broker picks up
// creations and mentions from the same stream the UI clients watch.
type Service struct {
	store    Store
	eventBus bus.EventBus
	indexer  Indexer // may be nil
	logger   *logger.Logger
}

// NewService creates the ticket service. indexer may be nil when indexing is
// disabled.
func NewService(store Store, eventBus bus.EventBus, indexer Indexer, log *logger.Logger) *Service {
	return &Service{
		store:    store,
		eventBus: eventBus,
		indexer:  indexer,
		logger:   log.WithFields(zap.String("component", "ticket-service")),
	}
}

// Create inserts a new ticket and broadcasts ticket:created. A backlog
// ticket's creation event is what the broker turns into a refinement task.
func (s *Service) Create(ctx context.Context, req *v1.CreateTicketRequest) (*models.Ticket, error) {
	if req.Title == "" {
		return nil, apperrors.Validation("title", "must not be empty")
	}
	if req.RepositoryID == "" {
		return nil, apperrors.Validation("repository_id", "must not be empty")
	}
	status := req.Status
	if status == "" {
		status = models.StatusBacklog
	}
	if !models.ValidStatus(status) {
		return nil, apperrors.Validation("status", "must be one of: backlog, todo, in_progress, review, closed")
	}
	if req.Priority != nil && (*req.Priority < 0 || *req.Priority > 10) {
		return nil, apperrors.Validation("priority", "must be between 0 and 10")
	}

	ticket := &models.Ticket{
		RepositoryID: req.RepositoryID,
		Title:        req.Title,
		Description:  req.Description,
		Status:       status,
		Priority:     req.Priority,
		Labels:       labelsFromAPI(req.Labels),
		Assignees:    assigneesFromAPI(req.Assignees),
	}
	if err := s.store.CreateTicket(ctx, ticket); err != nil {
		return nil, fmt.Errorf("failed to create ticket: %w", err)
	}

	s.logger.Info("Ticket created",
		zap.String("ticket_id", ticket.ID),
		zap.String("repository_id", ticket.RepositoryID),
		zap.String("status", ticket.Status))

	s.publishTicketEvent(ctx, events.TicketCreated, ticket)
	s.queueTicketIndexing(ctx, ticket.ID)
	return ticket, nil
}

// Get retrieves a ticket.
func (s *Service) Get(ctx context.Context, id string) (*models.Ticket, error) {
	return s.store.GetTicket(ctx, id)
}

// List returns tickets matching the filter.
func (s *Service) List(ctx context.Context, filter repository.ListFilter) ([]*models.Ticket, error) {
	return s.store.ListTickets(ctx, filter)
}

// Update applies the non-nil fields of req and broadcasts ticket:updated.
func (s *Service) Update(ctx context.Context, id string, req *v1.UpdateTicketRequest) (*models.Ticket, error) {
	ticket, err := s.store.GetTicket(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.Title != nil {
		if *req.Title == "" {
			return nil, apperrors.Validation("title", "must not be empty")
		}
		ticket.Title = *req.Title
	}
	if req.Description != nil {
		ticket.Description = req.Description
	}
	if req.SolutionPlan != nil {
		ticket.SolutionPlan = req.SolutionPlan
	}
	if req.Status != nil {
		if !models.ValidStatus(*req.Status) {
			return nil, apperrors.Validation("status", "must be one of: backlog, todo, in_progress, review, closed")
		}
		ticket.Status = *req.Status
	}
	if req.Priority != nil {
		if *req.Priority < 0 || *req.Priority > 10 {
			return nil, apperrors.Validation("priority", "must be between 0 and 10")
		}
		ticket.Priority = req.Priority
	}
	if req.Labels != nil {
		ticket.Labels = labelsFromAPI(req.Labels)
	}
	if req.Assignees != nil {
		ticket.Assignees = assigneesFromAPI(req.Assignees)
	}

	if err := s.store.UpdateTicket(ctx, ticket); err != nil {
		return nil, err
	}
	s.publishTicketEvent(ctx, events.TicketUpdated, ticket)
	s.queueTicketIndexing(ctx, ticket.ID)
	return ticket, nil
}

// Delete removes a ticket, its comments via cascade, and its embeddings.
func (s *Service) Delete(ctx context.Context, id string) error {
	ticket, err := s.store.GetTicket(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.DeleteTicket(ctx, id); err != nil {
		return err
	}
	s.publishTicketEvent(ctx, events.TicketDeleted, ticket)

	if s.indexer != nil {
		if err := s.indexer.RetireTicket(ctx, id); err != nil {
			s.logger.Warn("Failed to retire ticket embeddings",
				zap.String("ticket_id", id), zap.Error(err))
		}
	}
	return nil
}

// Approve closes a ticket in review and broadcasts ticket:approved.
// Approving a ticket in any other status is a Conflict.
func (s *Service) Approve(ctx context.Context, id string) (*models.Ticket, error) {
	ticket, err := s.store.GetTicket(ctx, id)
	if err != nil {
		return nil, err
	}
	if ticket.Status != models.StatusReview {
		return nil, apperrors.Conflict(fmt.Sprintf("cannot approve ticket in status %s", ticket.Status))
	}
	ticket.Status = models.StatusClosed
	if err := s.store.UpdateTicket(ctx, ticket); err != nil {
		return nil, err
	}
	s.publishTicketEvent(ctx, events.TicketApproved, ticket)
	return ticket, nil
}

// Reopen moves a closed ticket back to backlog and broadcasts
// ticket:reopened. Reopening a non-closed ticket is a Conflict.
func (s *Service) Reopen(ctx context.Context, id string) (*models.Ticket, error) {
	ticket, err := s.store.GetTicket(ctx, id)
	if err != nil {
		return nil, err
	}
	if ticket.Status != models.StatusClosed {
		return nil, apperrors.Conflict(fmt.Sprintf("cannot reopen ticket in status %s", ticket.Status))
	}
	ticket.Status = models.StatusBacklog
	if err := s.store.UpdateTicket(ctx, ticket); err != nil {
		return nil, err
	}
	s.publishTicketEvent(ctx, events.TicketReopened, ticket)
	return ticket, nil
}

// CreateComment inserts a comment, parses its mentions, and broadcasts
// comment:created with the parsed names. Mentions are parsed on creation
// only; editing a comment does not re-dispatch.
func (s *Service) CreateComment(ctx context.Context, ticketID string, req *v1.CreateCommentRequest) (*models.Comment, error) {
	if req.Content == "" {
		return nil, apperrors.Validation("content", "must not be empty")
	}
	if _, err := s.store.GetTicket(ctx, ticketID); err != nil {
		return nil, err
	}

	authorKind := req.AuthorKind
	if authorKind == "" {
		authorKind = models.AuthorHuman
	}
	status := req.Status
	if status == "" {
		status = models.CommentCompleted
	}

	comment := &models.Comment{
		TicketID:     ticketID,
		AuthorKind:   authorKind,
		AuthorID:     req.AuthorID,
		Content:      req.Content,
		Mentions:     mention.Parse(req.Content),
		Status:       status,
		RespondingTo: req.RespondingTo,
	}
	if err := s.store.CreateComment(ctx, comment); err != nil {
		return nil, fmt.Errorf("failed to create comment: %w", err)
	}

	s.logger.Info("Comment created",
		zap.String("comment_id", comment.ID),
		zap.String("ticket_id", ticketID),
		zap.Strings("mentions", comment.Mentions))

	s.publishCommentEvent(ctx, events.CommentCreated, comment)
	return comment, nil
}

// GetComment retrieves a comment.
func (s *Service) GetComment(ctx context.Context, id string) (*models.Comment, error) {
	return s.store.GetComment(ctx, id)
}

// ListComments returns the ticket's comments ordered by created_at.
func (s *Service) ListComments(ctx context.Context, ticketID string) ([]*models.Comment, error) {
	return s.store.ListComments(ctx, ticketID)
}

// UpdateComment rewrites a comment's content and broadcasts comment:updated.
func (s *Service) UpdateComment(ctx context.Context, id string, req *v1.UpdateCommentRequest) (*models.Comment, error) {
	comment, err := s.store.GetComment(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Content != nil {
		comment.Content = *req.Content
	}
	if req.Status != nil {
		comment.Status = *req.Status
	}
	if err := s.store.UpdateComment(ctx, comment); err != nil {
		return nil, err
	}
	s.publishCommentEvent(ctx, events.CommentUpdated, comment)
	return comment, nil
}

// Broadcast publishes a comment event on behalf of a remote worker. The
// worker wrote the row through the RPC surface and asks the broker to fan
// the event out to subscribed clients.
func (s *Service) Broadcast(ctx context.Context, ticketID, commentID, eventType string) error {
	comment, err := s.store.GetComment(ctx, commentID)
	if err != nil {
		return err
	}
	if comment.TicketID != ticketID {
		return apperrors.Validation("comment_id", "comment does not belong to the ticket")
	}

	var busType string
	switch eventType {
	case "created":
		busType = events.CommentCreated
	case "updated":
		busType = events.CommentUpdated
	case "completed":
		busType = events.CommentCompleted
	default:
		return apperrors.Validation("type", "must be one of: created, updated, completed")
	}
	s.publishCommentEvent(ctx, busType, comment)
	return nil
}

func (s *Service) publishTicketEvent(ctx context.Context, eventType string, ticket *models.Ticket) {
	data := map[string]interface{}{
		"ticket_id":     ticket.ID,
		"repository_id": ticket.RepositoryID,
		"title":         ticket.Title,
		"status":        ticket.Status,
	}
	s.publish(ctx, eventType, data)
}

func (s *Service) publishCommentEvent(ctx context.Context, eventType string, comment *models.Comment) {
	data := map[string]interface{}{
		"comment_id":  comment.ID,
		"ticket_id":   comment.TicketID,
		"author_kind": comment.AuthorKind,
		"author_id":   comment.AuthorID,
		"content":     comment.Content,
		"status":      comment.Status,
	}
	if len(comment.Mentions) > 0 {
		mentions := make([]interface{}, 0, len(comment.Mentions))
		for _, m := range comment.Mentions {
			mentions = append(mentions, m)
		}
		data["mentions"] = mentions
	}
	s.publish(ctx, eventType, data)
}

func (s *Service) publish(ctx context.Context, eventType string, data map[string]interface{}) {
	if s.eventBus == nil {
		return
	}
	if err := s.eventBus.Publish(ctx, events.SubjectTickets, bus.NewEvent(eventType, "ticket-service", data)); err != nil {
		s.logger.Error("Failed to publish ticket event",
			zap.String("event_type", eventType),
			zap.Error(err))
	}
}

func (s *Service) queueTicketIndexing(ctx context.Context, ticketID string) {
	if s.indexer == nil {
		return
	}
	if err := s.indexer.QueueTicket(ctx, ticketID); err != nil {
		s.logger.Warn("Failed to queue ticket for indexing",
			zap.String("ticket_id", ticketID), zap.Error(err))
	}
}

func labelsFromAPI(labels []v1.Label) []models.Label {
	out := make([]models.Label, 0, len(labels))
	for _, l := range labels {
		out = append(out, models.Label{Name: l.Name, Color: l.Color})
	}
	return out
}

func assigneesFromAPI(assignees []v1.Assignee) []models.Assignee {
	out := make([]models.Assignee, 0, len(assignees))
	for _, a := range assignees {
		out = append(out, models.Assignee{Kind: string(a.Kind), ID: a.ID})
	}
	return out
}
