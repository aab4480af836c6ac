package handlers

import (
	"context"

	"go.uber.org/zap"

	"github.com/agentdesk/agentdesk/internal/agent/models"
	v1 "github.com/agentdesk/agentdesk/pkg/api/v1"
	"github.com/agentdesk/agentdesk/pkg/wire"
)

// listAgents returns every registered agent enriched with its shadow state.
// Agents the tracker has never seen report offline with bare queue counters.
func (h *Handlers) listAgents(ctx context.Context, msg *wire.Message) (*wire.Message, error) {
	agents, err := h.agents.List(ctx)
	if err != nil {
		return nil, err
	}

	states := make(map[string]v1.AgentState)
	for _, state := range h.tracker.Snapshot(ctx) {
		states[state.AgentID] = state
	}
	statsAll, err := h.queue.StatsAll(ctx)
	if err != nil {
		h.logger.Warn("Failed to load queue stats for agent listing", zap.Error(err))
	}

	enriched := make([]v1.EnrichedAgent, 0, len(agents))
	for _, agent := range agents {
		state, ok := states[agent.ID]
		if !ok {
			state = v1.AgentState{AgentID: agent.ID, Status: v1.AgentStatusOffline}
			if stats, found := statsAll[agent.ID]; found {
				state.TaskStats = stats.ToAPI()
			}
		}
		enriched = append(enriched, v1.EnrichedAgent{Agent: *agent.ToAPI(), State: state})
	}
	return wire.NewResponse(msg.ID, map[string]interface{}{"agents": enriched})
}

func (h *Handlers) createAgent(ctx context.Context, msg *wire.Message) (*wire.Message, error) {
	var req v1.CreateAgentRequest
	if err := msg.ParseData(&req); err != nil {
		return nil, err
	}
	agent, err := h.agents.Create(ctx, &req)
	if err != nil {
		return nil, err
	}
	return wire.NewResponse(msg.ID, agent.ToAPI())
}

func (h *Handlers) getAgent(ctx context.Context, msg *wire.Message) (*wire.Message, error) {
	agent, err := h.agents.Get(ctx, msg.Param("id"))
	if err != nil {
		return nil, err
	}
	return wire.NewResponse(msg.ID, agent.ToAPI())
}

func (h *Handlers) updateAgent(ctx context.Context, msg *wire.Message) (*wire.Message, error) {
	var req v1.UpdateAgentRequest
	if err := msg.ParseData(&req); err != nil {
		return nil, err
	}
	agent, err := h.agents.Update(ctx, msg.Param("id"), &req)
	if err != nil {
		return nil, err
	}
	return wire.NewResponse(msg.ID, agent.ToAPI())
}

// deleteAgent removes the agent row and its entire task queue.
func (h *Handlers) deleteAgent(ctx context.Context, msg *wire.Message) (*wire.Message, error) {
	id := msg.Param("id")
	if err := h.agents.Delete(ctx, id); err != nil {
		return nil, err
	}
	if err := h.queue.DeleteByAgent(ctx, id); err != nil {
		return nil, err
	}
	return wire.NewResponse(msg.ID, map[string]interface{}{"success": true})
}

func (h *Handlers) triggerAgent(ctx context.Context, msg *wire.Message) (*wire.Message, error) {
	var req v1.TriggerRequest
	if err := msg.ParseData(&req); err != nil {
		return nil, err
	}
	task, err := h.broker.Trigger(ctx, msg.Param("id"), &req)
	if err != nil {
		return nil, err
	}
	return wire.NewResponse(msg.ID, task.ToAPI())
}

// subscribeAgent resolves a worker's binding: by name when the request
// carries one, otherwise by the path id. The worker then SUBs the returned
// topics; presence flips on the actual subscription, not here.
func (h *Handlers) subscribeAgent(ctx context.Context, msg *wire.Message) (*wire.Message, error) {
	var req v1.SubscribeRequest
	if err := msg.ParseData(&req); err != nil {
		return nil, err
	}

	var agent *models.Agent
	var err error
	if req.AgentName != "" {
		agent, err = h.agents.ResolveByName(ctx, req.AgentName)
	} else {
		agent, err = h.agents.Get(ctx, msg.Param("id"))
	}
	if err != nil {
		return nil, err
	}

	return wire.NewResponse(msg.ID, map[string]interface{}{
		"agent":       agent.ToAPI(),
		"tasks_topic": wire.AgentTasksTopic(agent.ID),
		"stop_topic":  wire.AgentStopTopic(agent.ID),
	})
}

func (h *Handlers) stopAgent(ctx context.Context, msg *wire.Message) (*wire.Message, error) {
	var req v1.StopRequest
	if err := msg.ParseData(&req); err != nil {
		return nil, err
	}
	if err := h.broker.StopAgent(ctx, msg.Param("id"), req.Reason); err != nil {
		return nil, err
	}
	return wire.NewResponse(msg.ID, map[string]interface{}{"success": true})
}

func (h *Handlers) agentStats(ctx context.Context, msg *wire.Message) (*wire.Message, error) {
	stats, err := h.queue.Stats(ctx, msg.Param("id"))
	if err != nil {
		return nil, err
	}
	return wire.NewResponse(msg.ID, stats.ToAPI())
}
