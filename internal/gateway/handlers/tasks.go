package handlers

import (
	"context"
	"strconv"

	apperrors "github.com/agentdesk/agentdesk/internal/common/errors"
	"github.com/agentdesk/agentdesk/internal/dispatch"
	v1 "github.com/agentdesk/agentdesk/pkg/api/v1"
	"github.com/agentdesk/agentdesk/pkg/wire"
)

func (h *Handlers) listAgentTasks(ctx context.Context, msg *wire.Message) (*wire.Message, error) {
	filter := dispatch.ListFilter{Status: msg.Query["status"]}
	if raw := msg.Query["limit"]; raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			return nil, apperrors.Validation("limit", "must be a non-negative integer")
		}
		filter.Limit = limit
	}

	tasks, err := h.queue.ListByAgent(ctx, msg.Param("id"), filter)
	if err != nil {
		return nil, err
	}
	return wire.NewResponse(msg.ID, map[string]interface{}{"tasks": tasksToAPI(tasks)})
}

// catchUpTasks returns the agent's pending backlog oldest-first. Workers
// call it right after subscribing, before they trust live pushes.
func (h *Handlers) catchUpTasks(ctx context.Context, msg *wire.Message) (*wire.Message, error) {
	tasks, err := h.queue.CatchUp(ctx, msg.Param("id"))
	if err != nil {
		return nil, err
	}
	return wire.NewResponse(msg.ID, map[string]interface{}{"tasks": tasksToAPI(tasks)})
}

func (h *Handlers) getTask(ctx context.Context, msg *wire.Message) (*wire.Message, error) {
	task, err := h.queue.Get(ctx, msg.Param("id"))
	if err != nil {
		return nil, err
	}
	return wire.NewResponse(msg.ID, task.ToAPI())
}

func (h *Handlers) claimTask(ctx context.Context, msg *wire.Message) (*wire.Message, error) {
	task, err := h.queue.Claim(ctx, msg.Param("id"))
	if err != nil {
		return nil, err
	}
	return wire.NewResponse(msg.ID, task.ToAPI())
}

func (h *Handlers) completeTask(ctx context.Context, msg *wire.Message) (*wire.Message, error) {
	if err := h.queue.MarkCompleted(ctx, msg.Param("id")); err != nil {
		return nil, err
	}
	return wire.NewResponse(msg.ID, map[string]interface{}{"success": true})
}

func (h *Handlers) failTask(ctx context.Context, msg *wire.Message) (*wire.Message, error) {
	var req struct {
		Error string `json:"error"`
	}
	if err := msg.ParseData(&req); err != nil {
		return nil, err
	}
	if err := h.queue.MarkFailed(ctx, msg.Param("id"), req.Error); err != nil {
		return nil, err
	}
	return wire.NewResponse(msg.ID, map[string]interface{}{"success": true})
}

func tasksToAPI(tasks []*dispatch.Task) []*v1.Task {
	out := make([]*v1.Task, 0, len(tasks))
	for _, task := range tasks {
		out = append(out, task.ToAPI())
	}
	return out
}
