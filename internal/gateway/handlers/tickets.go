package handlers

import (
	"context"

	"github.com/agentdesk/agentdesk/internal/ticket/models"
	"github.com/agentdesk/agentdesk/internal/ticket/repository"
	v1 "github.com/agentdesk/agentdesk/pkg/api/v1"
	"github.com/agentdesk/agentdesk/pkg/wire"
)

func (h *Handlers) listTickets(ctx context.Context, msg *wire.Message) (*wire.Message, error) {
	filter := repository.ListFilter{
		RepositoryID: msg.Query["repository_id"],
		Status:       msg.Query["status"],
		Label:        msg.Query["label"],
		Assignee:     msg.Query["assignee"],
		TitleQuery:   msg.Query["q"],
	}
	tickets, err := h.tickets.List(ctx, filter)
	if err != nil {
		return nil, err
	}
	return wire.NewResponse(msg.ID, map[string]interface{}{"tickets": ticketsToAPI(tickets)})
}

func (h *Handlers) createTicket(ctx context.Context, msg *wire.Message) (*wire.Message, error) {
	var req v1.CreateTicketRequest
	if err := msg.ParseData(&req); err != nil {
		return nil, err
	}
	ticket, err := h.tickets.Create(ctx, &req)
	if err != nil {
		return nil, err
	}
	return wire.NewResponse(msg.ID, ticket.ToAPI())
}

func (h *Handlers) getTicket(ctx context.Context, msg *wire.Message) (*wire.Message, error) {
	ticket, err := h.tickets.Get(ctx, msg.Param("id"))
	if err != nil {
		return nil, err
	}
	return wire.NewResponse(msg.ID, ticket.ToAPI())
}

func (h *Handlers) updateTicket(ctx context.Context, msg *wire.Message) (*wire.Message, error) {
	var req v1.UpdateTicketRequest
	if err := msg.ParseData(&req); err != nil {
		return nil, err
	}
	ticket, err := h.tickets.Update(ctx, msg.Param("id"), &req)
	if err != nil {
		return nil, err
	}
	return wire.NewResponse(msg.ID, ticket.ToAPI())
}

func (h *Handlers) deleteTicket(ctx context.Context, msg *wire.Message) (*wire.Message, error) {
	if err := h.tickets.Delete(ctx, msg.Param("id")); err != nil {
		return nil, err
	}
	return wire.NewResponse(msg.ID, map[string]interface{}{"success": true})
}

func (h *Handlers) approveTicket(ctx context.Context, msg *wire.Message) (*wire.Message, error) {
	ticket, err := h.tickets.Approve(ctx, msg.Param("id"))
	if err != nil {
		return nil, err
	}
	return wire.NewResponse(msg.ID, ticket.ToAPI())
}

func (h *Handlers) reopenTicket(ctx context.Context, msg *wire.Message) (*wire.Message, error) {
	ticket, err := h.tickets.Reopen(ctx, msg.Param("id"))
	if err != nil {
		return nil, err
	}
	return wire.NewResponse(msg.ID, ticket.ToAPI())
}

func (h *Handlers) listComments(ctx context.Context, msg *wire.Message) (*wire.Message, error) {
	comments, err := h.tickets.ListComments(ctx, msg.Param("id"))
	if err != nil {
		return nil, err
	}
	out := make([]*v1.Comment, 0, len(comments))
	for _, comment := range comments {
		out = append(out, comment.ToAPI())
	}
	return wire.NewResponse(msg.ID, map[string]interface{}{"comments": out})
}

func (h *Handlers) createComment(ctx context.Context, msg *wire.Message) (*wire.Message, error) {
	var req v1.CreateCommentRequest
	if err := msg.ParseData(&req); err != nil {
		return nil, err
	}
	comment, err := h.tickets.CreateComment(ctx, msg.Param("id"), &req)
	if err != nil {
		return nil, err
	}
	return wire.NewResponse(msg.ID, comment.ToAPI())
}

func (h *Handlers) updateComment(ctx context.Context, msg *wire.Message) (*wire.Message, error) {
	var req v1.UpdateCommentRequest
	if err := msg.ParseData(&req); err != nil {
		return nil, err
	}
	comment, err := h.tickets.UpdateComment(ctx, msg.Param("commentId"), &req)
	if err != nil {
		return nil, err
	}
	return wire.NewResponse(msg.ID, comment.ToAPI())
}

// streamComment advances a generating comment: intermediate updates keep it
// generating, final flips it to completed, failed abandons it.
func (h *Handlers) streamComment(ctx context.Context, msg *wire.Message) (*wire.Message, error) {
	var req v1.StreamCommentRequest
	if err := msg.ParseData(&req); err != nil {
		return nil, err
	}
	commentID := msg.Param("commentId")

	if req.Failed {
		if err := h.streamer.Fail(ctx, commentID); err != nil {
			return nil, err
		}
		return wire.NewResponse(msg.ID, map[string]interface{}{"success": true})
	}

	var comment *models.Comment
	var err error
	if req.Final {
		comment, err = h.streamer.Finalize(ctx, commentID, req.Content)
	} else {
		comment, err = h.streamer.Update(ctx, commentID, req.Content)
	}
	if err != nil {
		return nil, err
	}
	return wire.NewResponse(msg.ID, comment.ToAPI())
}

func (h *Handlers) broadcastComment(ctx context.Context, msg *wire.Message) (*wire.Message, error) {
	var req v1.BroadcastCommentRequest
	if err := msg.ParseData(&req); err != nil {
		return nil, err
	}
	if err := h.tickets.Broadcast(ctx, msg.Param("id"), msg.Param("commentId"), req.Type); err != nil {
		return nil, err
	}
	return wire.NewResponse(msg.ID, map[string]interface{}{"success": true})
}

func ticketsToAPI(tickets []*models.Ticket) []*v1.Ticket {
	out := make([]*v1.Ticket, 0, len(tickets))
	for _, ticket := range tickets {
		out = append(out, ticket.ToAPI())
	}
	return out
}
