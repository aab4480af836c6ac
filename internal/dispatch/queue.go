package dispatch

import (
	"context"

	"go.uber.org/zap"

	apperrors "github.com/agentdesk/agentdesk/internal/common/errors"
	"github.com/agentdesk/agentdesk/internal/common/logger"
	"github.com/agentdesk/agentdesk/internal/events"
	"github.com/agentdesk/agentdesk/internal/events/bus"
)

// Queue is the task queue service. It wraps the repository with validation
// and publishes a transition event on the tasks subject after every durable
// state change, which is what the state tracker listens to for its counters.
type Queue struct {
	repo     Repository
	eventBus bus.EventBus
	logger   *logger.Logger
}

// NewQueue creates the task queue service.
func NewQueue(repo Repository, eventBus bus.EventBus, log *logger.Logger) *Queue {
	return &Queue{
		repo:     repo,
		eventBus: eventBus,
		logger:   log.WithFields(zap.String("component", "task-queue")),
	}
}

// Enqueue inserts a pending task and returns it.
func (q *Queue) Enqueue(ctx context.Context, task *Task) (*Task, error) {
	if task.AgentID == "" {
		return nil, apperrors.Validation("agent_id", "must not be empty")
	}
	if !ValidType(task.Type) {
		return nil, apperrors.Validation("type", "must be one of: mention, assignment, manual, refinement")
	}
	if err := q.repo.Create(ctx, task); err != nil {
		return nil, err
	}
	q.publishTransition(ctx, events.TaskEnqueued, task)
	return task, nil
}

// ClaimNext claims the highest-priority pending task for the agent, or
// returns nil when none is pending.
func (q *Queue) ClaimNext(ctx context.Context, agentID string) (*Task, error) {
	task, err := q.repo.ClaimNext(ctx, agentID)
	if err != nil || task == nil {
		return task, err
	}
	q.publishTransition(ctx, events.TaskClaimed, task)
	return task, nil
}

// Claim claims a specific task. A processing task re-claims; a terminal task
// fails with Conflict.
func (q *Queue) Claim(ctx context.Context, id string) (*Task, error) {
	task, err := q.repo.Claim(ctx, id)
	if err != nil {
		return nil, err
	}
	q.publishTransition(ctx, events.TaskClaimed, task)
	return task, nil
}

// Get retrieves a task by ID.
func (q *Queue) Get(ctx context.Context, id string) (*Task, error) {
	return q.repo.Get(ctx, id)
}

// MarkCompleted transitions a task to completed. Idempotent.
func (q *Queue) MarkCompleted(ctx context.Context, id string) error {
	if err := q.repo.MarkCompleted(ctx, id); err != nil {
		return err
	}
	task, err := q.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	q.publishTransition(ctx, events.TaskCompleted, task)
	return nil
}

// MarkFailed transitions a task to failed with the error string. Idempotent.
func (q *Queue) MarkFailed(ctx context.Context, id string, taskErr string) error {
	if err := q.repo.MarkFailed(ctx, id, taskErr); err != nil {
		return err
	}
	task, err := q.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	q.publishTransition(ctx, events.TaskFailed, task)
	return nil
}

// ListPending returns a snapshot of the agent's pending tasks in claim order.
func (q *Queue) ListPending(ctx context.Context, agentID string) ([]*Task, error) {
	return q.repo.ListPending(ctx, agentID)
}

// CatchUp returns the tasks a reconnecting worker should drain: its own
// in-flight processing rows first (interrupted by the previous run,
// re-claimable), then the pending snapshot in claim order.
func (q *Queue) CatchUp(ctx context.Context, agentID string) ([]*Task, error) {
	processing, err := q.repo.ListProcessing(ctx, agentID)
	if err != nil {
		return nil, err
	}
	pending, err := q.repo.ListPending(ctx, agentID)
	if err != nil {
		return nil, err
	}
	return append(processing, pending...), nil
}

// ListByAgent returns the agent's tasks, optionally filtered by status.
func (q *Queue) ListByAgent(ctx context.Context, agentID string, filter ListFilter) ([]*Task, error) {
	return q.repo.ListByAgent(ctx, agentID, filter)
}

// Stats returns the per-status counters for one agent.
func (q *Queue) Stats(ctx context.Context, agentID string) (Stats, error) {
	return q.repo.Stats(ctx, agentID)
}

// StatsAll returns the per-status counters for every agent with tasks.
func (q *Queue) StatsAll(ctx context.Context) (map[string]Stats, error) {
	return q.repo.StatsAll(ctx)
}

// DeleteByAgent removes all tasks for an agent.
func (q *Queue) DeleteByAgent(ctx context.Context, agentID string) error {
	return q.repo.DeleteByAgent(ctx, agentID)
}

func (q *Queue) publishTransition(ctx context.Context, eventType string, task *Task) {
	if q.eventBus == nil {
		return
	}
	data := map[string]interface{}{
		"task_id":  task.ID,
		"agent_id": task.AgentID,
		"type":     task.Type,
		"status":   task.Status,
	}
	if task.Error != nil {
		data["error"] = *task.Error
	}
	if err := q.eventBus.Publish(ctx, events.SubjectTasks, bus.NewEvent(eventType, "task-queue", data)); err != nil {
		q.logger.Error("Failed to publish task transition",
			zap.String("event_type", eventType),
			zap.String("task_id", task.ID),
			zap.Error(err))
	}
}
