package agents

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/agentdesk/agentdesk/internal/common/logger"
	"github.com/agentdesk/agentdesk/internal/worker"
	v1 "github.com/agentdesk/agentdesk/pkg/api/v1"
)

const plannerSystem = `You are a software planning agent. Given a ticket,
produce a concrete, numbered implementation plan. Be specific about files,
interfaces, and risks. Answer with the plan only.`

// Planner drafts a solution plan for the ticket and stores it on the
// ticket row, streaming its progress as a comment.
type Planner struct {
	llm    LLMClient
	logger *logger.Logger
}

// NewPlanner creates the planner agent.
func NewPlanner(llm LLMClient, log *logger.Logger) *Planner {
	return &Planner{llm: llm, logger: log.WithFields(zap.String("agent_type", "planner"))}
}

// Execute plans a ticket. Tasks without a ticket just answer the trigger
// text.
func (p *Planner) Execute(ctx context.Context, task *v1.Task, tk *worker.Toolkit) (string, error) {
	tc, err := loadContext(ctx, task, tk)
	if err != nil {
		return "", err
	}

	prompt := tc.trigger
	if tc.ticket != nil {
		prompt = describeTicket(tc.ticket)
		if tc.trigger != "" {
			prompt += "\nRequest:\n" + tc.trigger
		}
	}
	if prompt == "" {
		return "", fmt.Errorf("task %s carries neither a ticket nor content", task.ID)
	}

	if err := tk.Emitter.Open(ctx, "Drafting a plan...", respondingTo(task)); err != nil {
		return "", err
	}

	plan, err := p.llm.Complete(ctx, plannerSystem, prompt)
	if err != nil {
		return "", fmt.Errorf("planning failed: %w", err)
	}

	if tc.ticket != nil {
		if _, err := tk.API.UpdateTicket(ctx, tc.ticket.ID, &v1.UpdateTicketRequest{
			SolutionPlan: &plan,
		}); err != nil {
			return "", fmt.Errorf("failed to store solution plan: %w", err)
		}
	}
	if err := tk.Emitter.Finalize(ctx, plan); err != nil {
		return "", err
	}

	p.logger.Info("Plan produced", zap.String("task_id", task.ID))
	return "solution plan updated", nil
}
