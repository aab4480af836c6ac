package handlers

import (
	"context"

	apperrors "github.com/agentdesk/agentdesk/internal/common/errors"
	"github.com/agentdesk/agentdesk/internal/indexing"
	"github.com/agentdesk/agentdesk/pkg/wire"
)

// IndexingHandlers exposes the indexing enqueue surface. Registered only
// when indexing is configured; ticket jobs flow in through the ticket
// service and need no route.
type IndexingHandlers struct {
	queue *indexing.Queue
	repo  indexing.Repository
}

// NewIndexing creates the indexing handler set.
func NewIndexing(queue *indexing.Queue, repo indexing.Repository) *IndexingHandlers {
	return &IndexingHandlers{queue: queue, repo: repo}
}

// Register installs the indexing routes on the router.
func (h *IndexingHandlers) Register(router *wire.Router) {
	router.HandleFunc(wire.MethodPost, "/api/index/code", h.enqueueCode)
	router.HandleFunc(wire.MethodPost, "/api/index/doc", h.enqueueDoc)
	router.HandleFunc(wire.MethodGet, "/api/index/stats", h.stats)
}

func (h *IndexingHandlers) enqueueCode(ctx context.Context, msg *wire.Message) (*wire.Message, error) {
	var req struct {
		RepositoryID string `json:"repository_id"`
		Path         string `json:"path"`
	}
	if err := msg.ParseData(&req); err != nil {
		return nil, err
	}
	if req.RepositoryID == "" || req.Path == "" {
		return nil, apperrors.ValidationMsg("repository_id and path are required")
	}
	if err := h.queue.QueueCode(ctx, req.RepositoryID, req.Path); err != nil {
		return nil, err
	}
	return wire.NewResponse(msg.ID, map[string]interface{}{"success": true})
}

func (h *IndexingHandlers) enqueueDoc(ctx context.Context, msg *wire.Message) (*wire.Message, error) {
	var req struct {
		DocID string `json:"doc_id"`
	}
	if err := msg.ParseData(&req); err != nil {
		return nil, err
	}
	if req.DocID == "" {
		return nil, apperrors.ValidationMsg("doc_id is required")
	}
	if err := h.queue.QueueDoc(ctx, req.DocID); err != nil {
		return nil, err
	}
	return wire.NewResponse(msg.ID, map[string]interface{}{"success": true})
}

func (h *IndexingHandlers) stats(ctx context.Context, msg *wire.Message) (*wire.Message, error) {
	counts, err := h.repo.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}
	return wire.NewResponse(msg.ID, map[string]interface{}{"jobs": counts})
}
