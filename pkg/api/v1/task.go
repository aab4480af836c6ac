package v1

import "time"

// TaskStatus represents the state of a queued agent task
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
)

// TaskType classifies why a task was enqueued
type TaskType string

const (
	TaskTypeMention    TaskType = "mention"
	TaskTypeAssignment TaskType = "assignment"
	TaskTypeManual     TaskType = "manual"
	TaskTypeRefinement TaskType = "refinement"
)

// Task represents a durable queued task for an agent
type Task struct {
	ID          string                 `json:"id"`
	AgentID     string                 `json:"agent_id"`
	Type        TaskType               `json:"type"`
	Payload     map[string]interface{} `json:"payload,omitempty"`
	Priority    int                    `json:"priority"`
	Status      TaskStatus             `json:"status"`
	Error       *string                `json:"error,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
	StartedAt   *time.Time             `json:"started_at,omitempty"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
}

// TaskStats are per-agent queue counters carried in the shadow state
type TaskStats struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
}

// TaskPush is the payload published on an agent's task topic when new work
// is enqueued. It is a hint to wake the worker; the durable queue remains
// the source of truth.
type TaskPush struct {
	TaskID   string   `json:"task_id"`
	AgentID  string   `json:"agent_id"`
	Type     TaskType `json:"type"`
	Priority int      `json:"priority"`
}

// StopRequest is the payload published on an agent's stop topic
type StopRequest struct {
	Reason string `json:"reason,omitempty"`
}
