package agents

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/agentdesk/agentdesk/internal/common/logger"
	"github.com/agentdesk/agentdesk/internal/worker"
	v1 "github.com/agentdesk/agentdesk/pkg/api/v1"
)

const developerSystem = `You are a software development agent. Given a
ticket and its solution plan, describe the implementation you would land:
the concrete changes, file by file, and how to verify them. Answer with the
implementation notes only.`

// Developer works a ticket: it moves it to in_progress, produces
// implementation notes against the plan, and hands it to review.
type Developer struct {
	llm    LLMClient
	logger *logger.Logger
}

// NewDeveloper creates the developer agent.
func NewDeveloper(llm LLMClient, log *logger.Logger) *Developer {
	return &Developer{llm: llm, logger: log.WithFields(zap.String("agent_type", "developer"))}
}

// Execute implements a ticket. Tasks without a ticket are an error for
// this agent type; a developer has nothing to do without one.
func (d *Developer) Execute(ctx context.Context, task *v1.Task, tk *worker.Toolkit) (string, error) {
	tc, err := loadContext(ctx, task, tk)
	if err != nil {
		return "", err
	}
	if tc.ticket == nil {
		return "", fmt.Errorf("task %s carries no ticket", task.ID)
	}

	inProgress := string(v1.TicketStatusInProgress)
	if tc.ticket.Status != v1.TicketStatusInProgress {
		if _, err := tk.API.UpdateTicket(ctx, tc.ticket.ID, &v1.UpdateTicketRequest{
			Status: &inProgress,
		}); err != nil {
			return "", fmt.Errorf("failed to move ticket to in_progress: %w", err)
		}
	}

	if err := tk.Emitter.Open(ctx, "Working on the implementation...", respondingTo(task)); err != nil {
		return "", err
	}

	prompt := describeTicket(tc.ticket)
	if tc.trigger != "" {
		prompt += "\nRequest:\n" + tc.trigger
	}
	notes, err := d.llm.Complete(ctx, developerSystem, prompt)
	if err != nil {
		return "", fmt.Errorf("implementation failed: %w", err)
	}

	if err := tk.Emitter.Finalize(ctx, notes); err != nil {
		return "", err
	}

	review := string(v1.TicketStatusReview)
	if _, err := tk.API.UpdateTicket(ctx, tc.ticket.ID, &v1.UpdateTicketRequest{
		Status: &review,
	}); err != nil {
		return "", fmt.Errorf("failed to move ticket to review: %w", err)
	}

	d.logger.Info("Implementation delivered", zap.String("task_id", task.ID))
	return "ticket moved to review", nil
}
