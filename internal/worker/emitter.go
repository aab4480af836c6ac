package worker

import (
	"context"

	v1 "github.com/agentdesk/agentdesk/pkg/api/v1"
)

// Emitter streams one agent comment onto a ticket: open creates the
// generating comment, updates replace its content in place, and exactly one
// of Finalize or Fail ends it. A nil Emitter is safe to call; tasks without
// a ticket get one that swallows everything.
type Emitter struct {
	api       *API
	agentID   string
	ticketID  string
	commentID string
}

// NewEmitter creates an emitter bound to one ticket.
func NewEmitter(api *API, agentID, ticketID string) *Emitter {
	return &Emitter{api: api, agentID: agentID, ticketID: ticketID}
}

// Open creates the generating comment. Calling Open twice is a no-op.
func (e *Emitter) Open(ctx context.Context, initial string, respondingTo *string) error {
	if e == nil || e.commentID != "" {
		return nil
	}
	comment, err := e.api.CreateComment(ctx, e.ticketID, &v1.CreateCommentRequest{
		Content:      initial,
		AuthorKind:   string(v1.AuthorKindAgent),
		AuthorID:     e.agentID,
		Status:       string(v1.CommentStatusGenerating),
		RespondingTo: respondingTo,
	})
	if err != nil {
		return err
	}
	e.commentID = comment.ID
	return nil
}

// Update replaces the comment's content, keeping it generating. Unopened
// emitters open themselves with the given content.
func (e *Emitter) Update(ctx context.Context, content string) error {
	if e == nil {
		return nil
	}
	if e.commentID == "" {
		return e.Open(ctx, content, nil)
	}
	_, err := e.api.StreamComment(ctx, e.ticketID, e.commentID,
		&v1.StreamCommentRequest{Content: content})
	return err
}

// Finalize sets the final content and completes the comment.
func (e *Emitter) Finalize(ctx context.Context, content string) error {
	if e == nil {
		return nil
	}
	if e.commentID == "" {
		if err := e.Open(ctx, content, nil); err != nil {
			return err
		}
	}
	_, err := e.api.StreamComment(ctx, e.ticketID, e.commentID,
		&v1.StreamCommentRequest{Content: content, Final: true})
	return err
}

// Fail abandons the comment. Unopened emitters do nothing.
func (e *Emitter) Fail(ctx context.Context) error {
	if e == nil || e.commentID == "" {
		return nil
	}
	_, err := e.api.StreamComment(ctx, e.ticketID, e.commentID,
		&v1.StreamCommentRequest{Failed: true})
	return err
}

// Opened reports whether a comment exists yet.
func (e *Emitter) Opened() bool {
	return e != nil && e.commentID != ""
}
