// Package dispatch implements the durable per-agent task queue and the
// broker that converts ticket events into queued tasks.
package dispatch

import (
	"time"

	v1 "github.com/agentdesk/agentdesk/pkg/api/v1"
)

// Task statuses. Completed and failed are terminal; no transition leaves
// them.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Task types.
const (
	TypeMention    = "mention"
	TypeAssignment = "assignment"
	TypeManual     = "manual"
	TypeRefinement = "refinement"
)

// ValidType reports whether t is a recognized task type.
func ValidType(t string) bool {
	switch t {
	case TypeMention, TypeAssignment, TypeManual, TypeRefinement:
		return true
	}
	return false
}

// Default priorities per trigger.
const (
	PriorityMention    = 100
	PriorityRefinement = 50
	PriorityManual     = 0
)

// Task is one durable queued unit of work for an agent. Payload is opaque to
// the queue; each task type carries its own schema, parsed by the worker.
type Task struct {
	ID          string
	AgentID     string
	Type        string
	Payload     map[string]interface{}
	Priority    int
	Status      string
	Error       *string
	SourceID    *string // comment or ticket id the task was derived from
	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
}

// Terminal reports whether the task has reached a sticky final state.
func (t *Task) Terminal() bool {
	return t.Status == StatusCompleted || t.Status == StatusFailed
}

// Stats are the per-agent queue counters consumed by the state tracker.
type Stats struct {
	Pending    int
	Processing int
	Completed  int
	Failed     int
}

// ToAPI converts the stored task to its API representation.
func (t *Task) ToAPI() *v1.Task {
	return &v1.Task{
		ID:          t.ID,
		AgentID:     t.AgentID,
		Type:        v1.TaskType(t.Type),
		Payload:     t.Payload,
		Priority:    t.Priority,
		Status:      v1.TaskStatus(t.Status),
		Error:       t.Error,
		CreatedAt:   t.CreatedAt,
		StartedAt:   t.StartedAt,
		CompletedAt: t.CompletedAt,
	}
}

// ToAPI converts the counters to their API representation.
func (s Stats) ToAPI() v1.TaskStats {
	return v1.TaskStats{
		Pending:    s.Pending,
		Processing: s.Processing,
		Completed:  s.Completed,
		Failed:     s.Failed,
	}
}
