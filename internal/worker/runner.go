package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/agentdesk/agentdesk/internal/common/logger"
	"github.com/agentdesk/agentdesk/internal/events"
	v1 "github.com/agentdesk/agentdesk/pkg/api/v1"
	"github.com/agentdesk/agentdesk/pkg/client"
	"github.com/agentdesk/agentdesk/pkg/wire"
)

const (
	defaultQueueSize    = 256
	defaultDrainTimeout = 30 * time.Second
)

// Toolkit is what an agent gets to work with while executing a task.
type Toolkit struct {
	API     *API
	Emitter *Emitter
	AgentID string
}

// Agent executes one claimed task. The returned string is a short result
// summary for the log; comment output goes through the toolkit.
type Agent interface {
	Execute(ctx context.Context, task *v1.Task, tk *Toolkit) (string, error)
}

// Config controls one worker runtime. Exactly one of AgentID or AgentName
// must be set.
type Config struct {
	AgentID      string
	AgentName    string
	QueueSize    int
	DrainTimeout time.Duration
}

// Runner is the worker state machine: bind, subscribe, catch up, then one
// task in flight until a stop request or context cancellation.
type Runner struct {
	cfg    Config
	client *client.Client
	api    *API
	agent  Agent
	logger *logger.Logger

	agentID string
	tasks   chan string

	stop     chan struct{}
	stopOnce sync.Once
}

// NewRunner creates a worker runtime over an unconnected client.
func NewRunner(c *client.Client, agent Agent, cfg Config, log *logger.Logger) *Runner {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = defaultDrainTimeout
	}
	return &Runner{
		cfg:    cfg,
		client: c,
		api:    NewAPI(c),
		agent:  agent,
		logger: log.WithFields(zap.String("component", "worker")),
		tasks:  make(chan string, cfg.QueueSize),
		stop:   make(chan struct{}),
	}
}

// AgentID returns the bound agent id; empty before Run binds.
func (r *Runner) AgentID() string {
	return r.agentID
}

// RequestStop asks the runner to finish its backlog and exit. Idempotent.
func (r *Runner) RequestStop() {
	r.stopOnce.Do(func() { close(r.stop) })
}

// Run drives the worker until the context ends or a stop request drains
// it. Pushes are hints; the durable queue is re-snapshotted on every
// reconnect, so a task is executed at least once even across drops.
func (r *Runner) Run(ctx context.Context) error {
	r.client.OnReconnect(func() { go r.resync() })
	if err := r.client.Connect(ctx); err != nil {
		return err
	}
	defer r.client.Close()

	binding, err := r.api.Bind(ctx, r.cfg.AgentID, r.cfg.AgentName)
	if err != nil {
		return err
	}
	r.agentID = binding.Agent.ID
	r.logger = r.logger.WithFields(zap.String("agent_id", r.agentID))
	r.logger.Info("Worker bound", zap.String("agent_name", binding.Agent.Name))

	if err := r.client.Subscribe(ctx, binding.TasksTopic, r.onTaskPush); err != nil {
		return err
	}
	if err := r.client.Subscribe(ctx, binding.StopTopic, r.onStopRequest); err != nil {
		return err
	}

	if err := r.catchUp(ctx); err != nil {
		r.logger.Error("Catch-up failed", zap.Error(err))
	}

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Worker context cancelled")
			return nil
		case <-r.stop:
			r.logger.Info("Stop requested, draining backlog",
				zap.Duration("timeout", r.cfg.DrainTimeout))
			r.drain(ctx)
			return nil
		case taskID := <-r.tasks:
			r.process(ctx, taskID)
		}
	}
}

func (r *Runner) onTaskPush(event *client.Event) {
	if event.Type != events.TaskPush {
		return
	}
	taskID, _ := event.Data["task_id"].(string)
	if taskID == "" {
		return
	}
	select {
	case r.tasks <- taskID:
	default:
		// The durable queue still holds the task; the next catch-up finds it.
		r.logger.Warn("Task queue full, dropping push", zap.String("task_id", taskID))
	}
}

func (r *Runner) onStopRequest(event *client.Event) {
	reason, _ := event.Data["reason"].(string)
	r.logger.Info("Stop request received", zap.String("reason", reason))
	r.RequestStop()
}

// catchUp snapshots the pending backlog into the in-memory queue. It runs
// at startup and after every reconnect, before live pushes are trusted.
func (r *Runner) catchUp(ctx context.Context) error {
	backlog, err := r.api.CatchUp(ctx, r.agentID)
	if err != nil {
		return err
	}
	for _, task := range backlog {
		select {
		case r.tasks <- task.ID:
		default:
			r.logger.Warn("Task queue full during catch-up", zap.String("task_id", task.ID))
			return nil
		}
	}
	if len(backlog) > 0 {
		r.logger.Info("Caught up on backlog", zap.Int("tasks", len(backlog)))
	}
	return nil
}

func (r *Runner) resync() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := r.catchUp(ctx); err != nil {
		r.logger.Error("Catch-up after reconnect failed", zap.Error(err))
	}
}

// drain processes whatever is already queued, bounded by the drain timeout.
func (r *Runner) drain(ctx context.Context) {
	dctx, cancel := context.WithTimeout(ctx, r.cfg.DrainTimeout)
	defer cancel()
	for {
		select {
		case <-dctx.Done():
			return
		case taskID := <-r.tasks:
			r.process(dctx, taskID)
		default:
			return
		}
	}
}

// process claims and executes one task. Claim races and already-terminal
// tasks are skipped; execution errors fail the task and are reported on
// the agents topic, but never kill the worker.
func (r *Runner) process(ctx context.Context, taskID string) {
	task, err := r.api.Claim(ctx, taskID)
	if err != nil {
		if client.HasCode(err, wire.ErrorCodeConflict) || client.HasCode(err, wire.ErrorCodeNotFound) {
			r.logger.Debug("Skipping task", zap.String("task_id", taskID), zap.Error(err))
			return
		}
		r.logger.Error("Failed to claim task", zap.String("task_id", taskID), zap.Error(err))
		return
	}

	if err := r.api.PublishStatus(ctx, r.agentID, v1.AgentStatusWorking, &task.ID); err != nil {
		r.logger.Warn("Failed to publish status", zap.Error(err))
	}

	var emitter *Emitter
	if ticketID, ok := task.Payload["ticket_id"].(string); ok && ticketID != "" {
		emitter = NewEmitter(r.api, r.agentID, ticketID)
	}
	tk := &Toolkit{API: r.api, Emitter: emitter, AgentID: r.agentID}

	result, execErr := r.agent.Execute(ctx, task, tk)
	if execErr != nil {
		if err := emitter.Fail(ctx); err != nil {
			r.logger.Warn("Failed to abandon streaming comment", zap.Error(err))
		}
		if err := r.api.Fail(ctx, task.ID, execErr.Error()); err != nil {
			r.logger.Error("Failed to mark task failed", zap.String("task_id", task.ID), zap.Error(err))
		}
		if err := r.api.PublishError(ctx, r.agentID, task.ID, execErr.Error()); err != nil {
			r.logger.Warn("Failed to publish task error", zap.Error(err))
		}
		r.logger.Error("Task execution failed",
			zap.String("task_id", task.ID),
			zap.String("task_type", string(task.Type)),
			zap.Error(execErr))
	} else {
		if err := r.api.Complete(ctx, task.ID); err != nil {
			r.logger.Error("Failed to mark task completed", zap.String("task_id", task.ID), zap.Error(err))
		}
		r.logger.Info("Task completed",
			zap.String("task_id", task.ID),
			zap.String("task_type", string(task.Type)),
			zap.String("result", result))
	}

	if err := r.api.PublishStatus(ctx, r.agentID, v1.AgentStatusIdle, nil); err != nil {
		r.logger.Warn("Failed to publish status", zap.Error(err))
	}
}
