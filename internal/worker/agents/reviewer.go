package agents

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/agentdesk/agentdesk/internal/common/logger"
	"github.com/agentdesk/agentdesk/internal/worker"
	v1 "github.com/agentdesk/agentdesk/pkg/api/v1"
)

const reviewerSystem = `You are a code review agent. Given a ticket, its
solution plan, and the discussion so far, write a review: call out gaps,
risks, and anything the plan missed. Answer with the review only.`

// Reviewer reads the whole discussion on a ticket and posts a review
// comment. It never changes ticket status; approval stays with humans.
type Reviewer struct {
	llm    LLMClient
	logger *logger.Logger
}

// NewReviewer creates the reviewer agent.
func NewReviewer(llm LLMClient, log *logger.Logger) *Reviewer {
	return &Reviewer{llm: llm, logger: log.WithFields(zap.String("agent_type", "reviewer"))}
}

// Execute reviews a ticket.
func (r *Reviewer) Execute(ctx context.Context, task *v1.Task, tk *worker.Toolkit) (string, error) {
	tc, err := loadContext(ctx, task, tk)
	if err != nil {
		return "", err
	}
	if tc.ticket == nil {
		return "", fmt.Errorf("task %s carries no ticket", task.ID)
	}

	comments, err := tk.API.ListComments(ctx, tc.ticket.ID)
	if err != nil {
		return "", fmt.Errorf("failed to load discussion: %w", err)
	}

	if err := tk.Emitter.Open(ctx, "Reviewing...", respondingTo(task)); err != nil {
		return "", err
	}

	prompt := describeTicket(tc.ticket) + describeDiscussion(comments)
	if tc.trigger != "" {
		prompt += "\nRequest:\n" + tc.trigger
	}
	review, err := r.llm.Complete(ctx, reviewerSystem, prompt)
	if err != nil {
		return "", fmt.Errorf("review failed: %w", err)
	}

	if err := tk.Emitter.Finalize(ctx, review); err != nil {
		return "", err
	}

	r.logger.Info("Review posted", zap.String("task_id", task.ID))
	return "review posted", nil
}

func describeDiscussion(comments []v1.Comment) string {
	if len(comments) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Discussion:\n")
	for _, comment := range comments {
		if comment.Status != v1.CommentStatusCompleted {
			continue
		}
		fmt.Fprintf(&b, "[%s %s] %s\n", comment.AuthorKind, comment.AuthorID, comment.Content)
	}
	return b.String()
}
