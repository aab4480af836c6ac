package dispatch

import (
	"context"
	"time"
)

// ListFilter narrows ListByAgent results. An empty status means all.
type ListFilter struct {
	Status string
	Limit  int
}

// Repository stores tasks. The store is the authoritative queue state; every
// claim is a compare-and-swap on status so two concurrent claimers cannot
// both win the same task.
type Repository interface {
	Create(ctx context.Context, task *Task) error
	Get(ctx context.Context, id string) (*Task, error)

	// ClaimNext atomically transitions the highest-priority pending task for
	// the agent to processing and returns it, or nil when the queue is empty.
	ClaimNext(ctx context.Context, agentID string) (*Task, error)

	// Claim transitions a specific task to processing. Pending tasks claim
	// normally; a task already in processing re-claims (the reconnect path,
	// at-least-once). Claiming a terminal task fails with Conflict.
	Claim(ctx context.Context, id string) (*Task, error)

	// MarkCompleted and MarkFailed are idempotent terminal transitions: a
	// second call on an already-terminal task is a no-op returning success.
	MarkCompleted(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string, taskErr string) error

	// ListPending returns a snapshot of the agent's pending tasks ordered by
	// (priority DESC, created_at ASC). Concurrent enqueues may not appear.
	ListPending(ctx context.Context, agentID string) ([]*Task, error)

	// ListProcessing returns the agent's in-flight tasks, oldest first. A
	// reconnecting worker re-claims these before draining pending work.
	ListProcessing(ctx context.Context, agentID string) ([]*Task, error)

	ListByAgent(ctx context.Context, agentID string, filter ListFilter) ([]*Task, error)

	Stats(ctx context.Context, agentID string) (Stats, error)
	StatsAll(ctx context.Context) (map[string]Stats, error)

	// DeleteByAgent removes all tasks for an agent (the agent-delete cascade).
	DeleteByAgent(ctx context.Context, agentID string) error

	// HasRecentSource reports whether a non-failed task with the same
	// (agent, type, source) was created inside the window.
	HasRecentSource(ctx context.Context, agentID, taskType, sourceID string, window time.Duration) (bool, error)
}
