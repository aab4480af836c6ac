// Package handlers registers the RPC surface of the coordinator on the
// wire router. Frames arrive over the WebSocket gateway or the HTTP
// mirror; both dispatch into the same routes.
package handlers

import (
	"context"
	"time"

	"go.uber.org/zap"

	agentsvc "github.com/agentdesk/agentdesk/internal/agent/service"
	"github.com/agentdesk/agentdesk/internal/ci"
	"github.com/agentdesk/agentdesk/internal/common/logger"
	"github.com/agentdesk/agentdesk/internal/dispatch"
	"github.com/agentdesk/agentdesk/internal/indexing"
	ticketsvc "github.com/agentdesk/agentdesk/internal/ticket/service"
	"github.com/agentdesk/agentdesk/internal/tracker"
	"github.com/agentdesk/agentdesk/pkg/wire"
)

// Handlers binds the domain services to wire routes. The ci and search
// services are optional; their routes answer CONFLICT when unconfigured.
type Handlers struct {
	agents   *agentsvc.Service
	tickets  *ticketsvc.Service
	streamer *ticketsvc.Streamer
	queue    *dispatch.Queue
	broker   *dispatch.Broker
	tracker  *tracker.Tracker
	ci       *ci.Service
	search   *indexing.SearchService
	logger   *logger.Logger
}

// New creates the handler set.
func New(
	agents *agentsvc.Service,
	tickets *ticketsvc.Service,
	streamer *ticketsvc.Streamer,
	queue *dispatch.Queue,
	broker *dispatch.Broker,
	trk *tracker.Tracker,
	ciSvc *ci.Service,
	search *indexing.SearchService,
	log *logger.Logger,
) *Handlers {
	return &Handlers{
		agents:   agents,
		tickets:  tickets,
		streamer: streamer,
		queue:    queue,
		broker:   broker,
		tracker:  trk,
		ci:       ciSvc,
		search:   search,
		logger:   log.WithFields(zap.String("component", "handlers")),
	}
}

// Register installs every route on the router.
func (h *Handlers) Register(router *wire.Router) {
	router.HandleFunc(wire.MethodGet, "/api/health", h.health)

	router.HandleFunc(wire.MethodGet, "/api/agents", h.listAgents)
	router.HandleFunc(wire.MethodPost, "/api/agents", h.createAgent)
	router.HandleFunc(wire.MethodGet, "/api/agents/:id", h.getAgent)
	router.HandleFunc(wire.MethodPut, "/api/agents/:id", h.updateAgent)
	router.HandleFunc(wire.MethodDelete, "/api/agents/:id", h.deleteAgent)
	router.HandleFunc(wire.MethodPost, "/api/agents/:id/trigger", h.triggerAgent)
	router.HandleFunc(wire.MethodPost, "/api/agents/:id/subscribe", h.subscribeAgent)
	router.HandleFunc(wire.MethodPost, "/api/agents/:id/stop", h.stopAgent)
	router.HandleFunc(wire.MethodGet, "/api/agents/:id/tasks", h.listAgentTasks)
	router.HandleFunc(wire.MethodGet, "/api/agents/:id/tasks/catchup", h.catchUpTasks)
	router.HandleFunc(wire.MethodGet, "/api/agents/:id/stats", h.agentStats)

	router.HandleFunc(wire.MethodGet, "/api/tasks/:id", h.getTask)
	router.HandleFunc(wire.MethodPost, "/api/tasks/:id/claim", h.claimTask)
	router.HandleFunc(wire.MethodPost, "/api/tasks/:id/complete", h.completeTask)
	router.HandleFunc(wire.MethodPost, "/api/tasks/:id/fail", h.failTask)

	router.HandleFunc(wire.MethodGet, "/api/tickets", h.listTickets)
	router.HandleFunc(wire.MethodPost, "/api/tickets", h.createTicket)
	router.HandleFunc(wire.MethodGet, "/api/tickets/:id", h.getTicket)
	router.HandleFunc(wire.MethodPut, "/api/tickets/:id", h.updateTicket)
	router.HandleFunc(wire.MethodDelete, "/api/tickets/:id", h.deleteTicket)
	router.HandleFunc(wire.MethodPost, "/api/tickets/:id/approve", h.approveTicket)
	router.HandleFunc(wire.MethodPost, "/api/tickets/:id/reopen", h.reopenTicket)
	router.HandleFunc(wire.MethodGet, "/api/tickets/:id/comments", h.listComments)
	router.HandleFunc(wire.MethodPost, "/api/tickets/:id/comments", h.createComment)
	router.HandleFunc(wire.MethodPut, "/api/tickets/:id/comments/:commentId", h.updateComment)
	router.HandleFunc(wire.MethodPost, "/api/tickets/:id/comments/:commentId/stream", h.streamComment)
	router.HandleFunc(wire.MethodPost, "/api/tickets/:id/comments/:commentId/broadcast", h.broadcastComment)

	router.HandleFunc(wire.MethodPost, "/api/ci/run", h.startCIRun)
	router.HandleFunc(wire.MethodGet, "/api/ci/runs/:ticketId", h.listCIRuns)

	router.HandleFunc(wire.MethodGet, "/api/search", h.searchCorpus)
}

func (h *Handlers) health(_ context.Context, msg *wire.Message) (*wire.Message, error) {
	return wire.NewResponse(msg.ID, map[string]interface{}{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}
