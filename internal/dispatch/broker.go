package dispatch

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	agentmodels "github.com/agentdesk/agentdesk/internal/agent/models"
	apperrors "github.com/agentdesk/agentdesk/internal/common/errors"
	"github.com/agentdesk/agentdesk/internal/common/logger"
	"github.com/agentdesk/agentdesk/internal/events"
	"github.com/agentdesk/agentdesk/internal/events/bus"
	v1 "github.com/agentdesk/agentdesk/pkg/api/v1"
)

// AgentDirectory is the slice of the agent service the broker needs to
// route events to agents.
type AgentDirectory interface {
	Get(ctx context.Context, id string) (*agentmodels.Agent, error)
	ResolveByName(ctx context.Context, name string) (*agentmodels.Agent, error)
	ListEnabledByType(ctx context.Context, agentType string) ([]*agentmodels.Agent, error)
}

// Broker converts domain events into queued tasks and pushes them to
// subscribed workers. It owns no state beyond the dedup window; the queue is
// durable and the shadow state lives in the tracker.
type Broker struct {
	queue    *Queue
	agents   AgentDirectory
	eventBus bus.EventBus
	logger   *logger.Logger

	// dedup is how long a (agent, type, source) triple suppresses a duplicate
	// dispatch. Zero disables deduplication.
	dedup time.Duration

	subscriptions []bus.Subscription
}

// NewBroker creates the broker. Call Start to attach its subscriptions.
func NewBroker(queue *Queue, agents AgentDirectory, eventBus bus.EventBus, dedupWindow time.Duration, log *logger.Logger) *Broker {
	return &Broker{
		queue:    queue,
		agents:   agents,
		eventBus: eventBus,
		logger:   log.WithFields(zap.String("component", "broker")),
		dedup:    dedupWindow,
	}
}

// Start subscribes the broker to the ticket event stream.
func (b *Broker) Start() error {
	sub, err := b.eventBus.Subscribe(events.SubjectTickets, b.handleTicketEvent)
	if err != nil {
		return fmt.Errorf("failed to subscribe broker to ticket events: %w", err)
	}
	b.subscriptions = append(b.subscriptions, sub)
	return nil
}

// Stop detaches the broker's subscriptions.
func (b *Broker) Stop() {
	for _, sub := range b.subscriptions {
		_ = sub.Unsubscribe()
	}
	b.subscriptions = nil
}

func (b *Broker) handleTicketEvent(ctx context.Context, event *bus.Event) error {
	switch event.Type {
	case events.TicketCreated:
		return b.onTicketCreated(ctx, event)
	case events.CommentCreated:
		return b.onCommentCreated(ctx, event)
	}
	return nil
}

// onTicketCreated routes new backlog tickets to the enabled planner as a
// refinement task. A missing planner is a warning, never a failure: ticket
// creation already succeeded.
func (b *Broker) onTicketCreated(ctx context.Context, event *bus.Event) error {
	status, _ := event.Data["status"].(string)
	if status != "backlog" {
		return nil
	}
	ticketID, _ := event.Data["ticket_id"].(string)
	title, _ := event.Data["title"].(string)

	planners, err := b.agents.ListEnabledByType(ctx, agentmodels.TypePlanner)
	if err != nil {
		return fmt.Errorf("failed to list planners: %w", err)
	}
	if len(planners) == 0 {
		b.logger.Warn("No enabled planner agent; backlog ticket will not be refined",
			zap.String("ticket_id", ticketID))
		return nil
	}

	planner := planners[0]
	payload := map[string]interface{}{
		"ticket_id": ticketID,
		"title":     title,
	}
	_, err = b.dispatch(ctx, planner.ID, TypeRefinement, PriorityRefinement, ticketID, payload)
	return err
}

// onCommentCreated routes each resolved, enabled mentioned agent a mention
// task carrying the comment context.
func (b *Broker) onCommentCreated(ctx context.Context, event *bus.Event) error {
	rawMentions, ok := event.Data["mentions"].([]interface{})
	if !ok || len(rawMentions) == 0 {
		if names, ok := event.Data["mentions"].([]string); ok {
			for _, n := range names {
				rawMentions = append(rawMentions, n)
			}
		}
	}
	if len(rawMentions) == 0 {
		return nil
	}

	var names []string
	for _, m := range rawMentions {
		if name, ok := m.(string); ok {
			names = append(names, name)
		}
	}

	ticketID, _ := event.Data["ticket_id"].(string)
	commentID, _ := event.Data["comment_id"].(string)
	payload := map[string]interface{}{
		"ticket_id":       ticketID,
		"comment_id":      commentID,
		"author_kind":     event.Data["author_kind"],
		"author_id":       event.Data["author_id"],
		"comment_content": event.Data["content"],
		"mentions":        names,
	}

	for _, name := range names {
		agent, err := b.agents.ResolveByName(ctx, name)
		if err != nil || agent == nil {
			b.logger.Debug("Mention did not resolve to an agent", zap.String("name", name))
			continue
		}
		if !agent.Enabled {
			b.logger.Debug("Mentioned agent is disabled", zap.String("name", name))
			continue
		}
		if _, err := b.dispatch(ctx, agent.ID, TypeMention, PriorityMention, commentID, payload); err != nil {
			b.logger.Error("Failed to dispatch mention task",
				zap.String("agent_id", agent.ID),
				zap.String("comment_id", commentID),
				zap.Error(err))
		}
	}
	return nil
}

// Trigger enqueues a manual task for an agent via the RPC surface.
func (b *Broker) Trigger(ctx context.Context, agentID string, req *v1.TriggerRequest) (*Task, error) {
	agent, err := b.agents.Get(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if !agent.Enabled {
		return nil, apperrors.Conflict(fmt.Sprintf("agent %s is disabled", agentID))
	}

	taskType := req.Type
	if taskType == "" {
		taskType = TypeManual
	}
	if !ValidType(taskType) {
		return nil, apperrors.Validation("type", "must be one of: mention, assignment, manual, refinement")
	}
	priority := PriorityManual
	if req.Priority != nil {
		priority = *req.Priority
	}

	return b.dispatch(ctx, agentID, taskType, priority, "", req.Payload)
}

// dispatch deduplicates, enqueues, and pushes one task. The push is a hint;
// when no worker is subscribed the task waits in the store for catch-up.
func (b *Broker) dispatch(ctx context.Context, agentID, taskType string, priority int, sourceID string, payload map[string]interface{}) (*Task, error) {
	if sourceID != "" && b.dedup > 0 {
		dup, err := b.queue.repo.HasRecentSource(ctx, agentID, taskType, sourceID, b.dedup)
		if err != nil {
			return nil, err
		}
		if dup {
			b.logger.Info("Skipping duplicate dispatch",
				zap.String("agent_id", agentID),
				zap.String("task_type", taskType),
				zap.String("source_id", sourceID))
			return nil, nil
		}
	}

	task := &Task{
		AgentID:  agentID,
		Type:     taskType,
		Payload:  payload,
		Priority: priority,
	}
	if sourceID != "" {
		task.SourceID = &sourceID
	}
	if _, err := b.queue.Enqueue(ctx, task); err != nil {
		return nil, err
	}

	b.logger.Info("Task dispatched",
		zap.String("task_id", task.ID),
		zap.String("agent_id", agentID),
		zap.String("task_type", taskType),
		zap.Int("priority", priority))

	b.publishPush(ctx, task)
	return task, nil
}

func (b *Broker) publishPush(ctx context.Context, task *Task) {
	push := map[string]interface{}{
		"task_id":  task.ID,
		"agent_id": task.AgentID,
		"type":     task.Type,
		"priority": task.Priority,
	}
	subject := events.BuildAgentTasksSubject(task.AgentID)
	if err := b.eventBus.Publish(ctx, subject, bus.NewEvent(events.TaskPush, "broker", push)); err != nil {
		b.logger.Error("Failed to publish task push",
			zap.String("task_id", task.ID),
			zap.String("subject", subject),
			zap.Error(err))
	}
}

// StopAgent sends a stop request to the agent's worker.
func (b *Broker) StopAgent(ctx context.Context, agentID, reason string) error {
	subject := events.BuildAgentStopSubject(agentID)
	data := map[string]interface{}{"reason": reason}
	return b.eventBus.Publish(ctx, subject, bus.NewEvent(events.TaskStop, "broker", data))
}
