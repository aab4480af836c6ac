package handlers

import (
	"context"
	"strconv"

	apperrors "github.com/agentdesk/agentdesk/internal/common/errors"
	v1 "github.com/agentdesk/agentdesk/pkg/api/v1"
	"github.com/agentdesk/agentdesk/pkg/wire"
)

func (h *Handlers) startCIRun(ctx context.Context, msg *wire.Message) (*wire.Message, error) {
	if h.ci == nil {
		return nil, apperrors.Conflict("ci is not configured")
	}
	var req v1.CIRunRequest
	if err := msg.ParseData(&req); err != nil {
		return nil, err
	}
	run, err := h.ci.Start(ctx, &req)
	if err != nil {
		return nil, err
	}
	return wire.NewResponse(msg.ID, run)
}

func (h *Handlers) listCIRuns(ctx context.Context, msg *wire.Message) (*wire.Message, error) {
	if h.ci == nil {
		return nil, apperrors.Conflict("ci is not configured")
	}
	runs, err := h.ci.ListByTicket(ctx, msg.Param("ticketId"))
	if err != nil {
		return nil, err
	}
	return wire.NewResponse(msg.ID, map[string]interface{}{"runs": runs})
}

// searchCorpus accepts the query either as a JSON body or as query
// parameters, so both frame and HTTP callers stay ergonomic.
func (h *Handlers) searchCorpus(ctx context.Context, msg *wire.Message) (*wire.Message, error) {
	if h.search == nil {
		return nil, apperrors.Conflict("search is not configured")
	}

	var req v1.SearchRequest
	if len(msg.Data) > 0 {
		if err := msg.ParseData(&req); err != nil {
			return nil, err
		}
	}
	if req.Query == "" {
		req.Query = msg.Query["q"]
	}
	if req.ContentKind == "" {
		req.ContentKind = msg.Query["content_kind"]
	}
	if req.RepositoryID == "" {
		req.RepositoryID = msg.Query["repository_id"]
	}
	if req.Limit == 0 {
		if raw := msg.Query["limit"]; raw != "" {
			limit, err := strconv.Atoi(raw)
			if err != nil || limit < 0 {
				return nil, apperrors.Validation("limit", "must be a non-negative integer")
			}
			req.Limit = limit
		}
	}

	results, err := h.search.Search(ctx, &req)
	if err != nil {
		return nil, err
	}
	return wire.NewResponse(msg.ID, map[string]interface{}{"results": results})
}
