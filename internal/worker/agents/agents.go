// Package agents ships the built-in agent behaviors. Each one turns a
// claimed task into model calls and ticket updates through the worker
// toolkit; the model itself hides behind LLMClient.
package agents

import (
	"context"
	"fmt"
	"strings"

	apperrors "github.com/agentdesk/agentdesk/internal/common/errors"
	"github.com/agentdesk/agentdesk/internal/common/logger"
	"github.com/agentdesk/agentdesk/internal/worker"
	v1 "github.com/agentdesk/agentdesk/pkg/api/v1"
)

// LLMClient produces a completion for a system prompt and a user prompt.
type LLMClient interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
}

// New returns the agent implementation for a registered agent type.
func New(agentType string, llm LLMClient, log *logger.Logger) (worker.Agent, error) {
	switch agentType {
	case "planner":
		return NewPlanner(llm, log), nil
	case "developer":
		return NewDeveloper(llm, log), nil
	case "reviewer":
		return NewReviewer(llm, log), nil
	default:
		return nil, apperrors.ValidationMsg("unknown agent type: " + agentType)
	}
}

// taskContext is the shared material an agent works from.
type taskContext struct {
	ticket  *v1.Ticket
	trigger string // content of the comment or payload that caused the task
}

// loadContext resolves the ticket behind a task, when it has one. The
// trigger text comes from the dispatch payload.
func loadContext(ctx context.Context, task *v1.Task, tk *worker.Toolkit) (*taskContext, error) {
	tc := &taskContext{}
	if content, ok := task.Payload["content"].(string); ok {
		tc.trigger = content
	}
	ticketID, ok := task.Payload["ticket_id"].(string)
	if !ok || ticketID == "" {
		return tc, nil
	}
	ticket, err := tk.API.GetTicket(ctx, ticketID)
	if err != nil {
		return nil, fmt.Errorf("failed to load ticket %s: %w", ticketID, err)
	}
	tc.ticket = ticket
	return tc, nil
}

// describeTicket renders the ticket into prompt material.
func describeTicket(ticket *v1.Ticket) string {
	if ticket == nil {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Ticket %s: %s\n", ticket.ID, ticket.Title)
	fmt.Fprintf(&b, "Status: %s\n", ticket.Status)
	if ticket.Description != nil && *ticket.Description != "" {
		fmt.Fprintf(&b, "Description:\n%s\n", *ticket.Description)
	}
	if ticket.SolutionPlan != nil && *ticket.SolutionPlan != "" {
		fmt.Fprintf(&b, "Solution plan:\n%s\n", *ticket.SolutionPlan)
	}
	return b.String()
}

func respondingTo(task *v1.Task) *string {
	if commentID, ok := task.Payload["comment_id"].(string); ok && commentID != "" {
		return &commentID
	}
	return nil
}
