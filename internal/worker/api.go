// Package worker is the out-of-process agent runtime: it binds to an agent
// row over the gateway, drains the durable queue one task at a time, and
// streams its output back as ticket comments.
package worker

import (
	"context"

	"github.com/agentdesk/agentdesk/internal/events"
	v1 "github.com/agentdesk/agentdesk/pkg/api/v1"
	"github.com/agentdesk/agentdesk/pkg/client"
	"github.com/agentdesk/agentdesk/pkg/wire"
)

// Binding is the worker's resolved agent identity.
type Binding struct {
	Agent      v1.Agent `json:"agent"`
	TasksTopic string   `json:"tasks_topic"`
	StopTopic  string   `json:"stop_topic"`
}

// API is the typed RPC surface a worker uses against the coordinator.
type API struct {
	client *client.Client
}

// NewAPI wraps a connected client.
func NewAPI(c *client.Client) *API {
	return &API{client: c}
}

// Bind resolves the worker's agent row. When name is set the server
// resolves by name, otherwise by id.
func (a *API) Bind(ctx context.Context, agentID, name string) (*Binding, error) {
	path := "/api/agents/" + agentID + "/subscribe"
	if agentID == "" {
		// The path id is ignored when a name is given; any placeholder works.
		path = "/api/agents/by-name/subscribe"
	}
	var binding Binding
	err := a.client.RequestPayload(ctx, wire.MethodPost, path,
		&v1.SubscribeRequest{AgentName: name}, &binding)
	if err != nil {
		return nil, err
	}
	return &binding, nil
}

// CatchUp snapshots the agent's pending backlog, oldest first.
func (a *API) CatchUp(ctx context.Context, agentID string) ([]v1.Task, error) {
	var result struct {
		Tasks []v1.Task `json:"tasks"`
	}
	err := a.client.RequestPayload(ctx, wire.MethodGet,
		"/api/agents/"+agentID+"/tasks/catchup", nil, &result)
	if err != nil {
		return nil, err
	}
	return result.Tasks, nil
}

// Claim moves a task to processing. Tasks already terminal come back as a
// CONFLICT server error; callers skip those.
func (a *API) Claim(ctx context.Context, taskID string) (*v1.Task, error) {
	var task v1.Task
	err := a.client.RequestPayload(ctx, wire.MethodPost,
		"/api/tasks/"+taskID+"/claim", nil, &task)
	if err != nil {
		return nil, err
	}
	return &task, nil
}

// Complete marks a task done.
func (a *API) Complete(ctx context.Context, taskID string) error {
	return a.client.RequestPayload(ctx, wire.MethodPost,
		"/api/tasks/"+taskID+"/complete", nil, nil)
}

// Fail marks a task failed with the error captured on the row.
func (a *API) Fail(ctx context.Context, taskID, message string) error {
	return a.client.RequestPayload(ctx, wire.MethodPost,
		"/api/tasks/"+taskID+"/fail", map[string]string{"error": message}, nil)
}

// GetTicket loads one ticket.
func (a *API) GetTicket(ctx context.Context, ticketID string) (*v1.Ticket, error) {
	var ticket v1.Ticket
	err := a.client.RequestPayload(ctx, wire.MethodGet,
		"/api/tickets/"+ticketID, nil, &ticket)
	if err != nil {
		return nil, err
	}
	return &ticket, nil
}

// UpdateTicket applies a partial ticket update.
func (a *API) UpdateTicket(ctx context.Context, ticketID string, req *v1.UpdateTicketRequest) (*v1.Ticket, error) {
	var ticket v1.Ticket
	err := a.client.RequestPayload(ctx, wire.MethodPut,
		"/api/tickets/"+ticketID, req, &ticket)
	if err != nil {
		return nil, err
	}
	return &ticket, nil
}

// ListComments returns a ticket's comments in creation order.
func (a *API) ListComments(ctx context.Context, ticketID string) ([]v1.Comment, error) {
	var result struct {
		Comments []v1.Comment `json:"comments"`
	}
	err := a.client.RequestPayload(ctx, wire.MethodGet,
		"/api/tickets/"+ticketID+"/comments", nil, &result)
	if err != nil {
		return nil, err
	}
	return result.Comments, nil
}

// CreateComment posts a comment on a ticket.
func (a *API) CreateComment(ctx context.Context, ticketID string, req *v1.CreateCommentRequest) (*v1.Comment, error) {
	var comment v1.Comment
	err := a.client.RequestPayload(ctx, wire.MethodPost,
		"/api/tickets/"+ticketID+"/comments", req, &comment)
	if err != nil {
		return nil, err
	}
	return &comment, nil
}

// StreamComment advances a generating comment.
func (a *API) StreamComment(ctx context.Context, ticketID, commentID string, req *v1.StreamCommentRequest) (*v1.Comment, error) {
	var comment v1.Comment
	err := a.client.RequestPayload(ctx, wire.MethodPost,
		"/api/tickets/"+ticketID+"/comments/"+commentID+"/stream", req, &comment)
	if err != nil {
		return nil, err
	}
	return &comment, nil
}

// PublishStatus reports the worker's status on the agents topic.
func (a *API) PublishStatus(ctx context.Context, agentID string, status v1.AgentStatus, taskID *string) error {
	data := map[string]interface{}{
		"agent_id": agentID,
		"status":   string(status),
	}
	if taskID != nil {
		data["task_id"] = *taskID
	}
	return a.client.Publish(ctx, wire.TopicAgents, events.AgentStatus, data)
}

// PublishError reports a task failure on the agents topic.
func (a *API) PublishError(ctx context.Context, agentID, taskID, message string) error {
	return a.client.Publish(ctx, wire.TopicAgents, events.AgentError, map[string]interface{}{
		"agent_id": agentID,
		"task_id":  taskID,
		"message":  message,
	})
}
