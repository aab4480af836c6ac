// Package events defines the bus subjects and event types used across the
// broker, the gateway, and the workers.
package events

import "strings"

// Bus subjects. The bus speaks NATS-style dot subjects internally; the wire
// protocol exposes the same topics as slash paths (see PathToSubject).
const (
	SubjectTickets     = "tickets"
	SubjectAgents      = "agents"
	SubjectAgentsState = "agents.state"
	SubjectTasks       = "tasks"
	SubjectCI          = "ci"
	SubjectAnthropic   = "anthropic"
)

// Event types for tickets
const (
	TicketCreated  = "ticket:created"
	TicketUpdated  = "ticket:updated"
	TicketDeleted  = "ticket:deleted"
	TicketApproved = "ticket:approved"
	TicketReopened = "ticket:reopened"
)

// Event types for comments
const (
	CommentCreated   = "comment:created"
	CommentUpdated   = "comment:updated"
	CommentCompleted = "comment:completed"
	CommentFailed    = "comment:failed"
)

// Event types for agents
const (
	AgentCreated = "agent:created"
	AgentUpdated = "agent:updated"
	AgentDeleted = "agent:deleted"
	AgentStatus  = "agent:status"
	AgentError   = "agent:error"
	AgentState   = "agent:state"
)

// Event types for dispatch tasks
const (
	TaskEnqueued  = "task:enqueued"
	TaskClaimed   = "task:claimed"
	TaskCompleted = "task:completed"
	TaskFailed    = "task:failed"
	TaskPush      = "task:push"
	TaskStop      = "task:stop"
)

// Event types for CI runs
const (
	CIRunStarted  = "ci:run_started"
	CIRunFinished = "ci:run_finished"
)

// BuildAgentTasksSubject returns the per-agent task push subject.
func BuildAgentTasksSubject(agentID string) string {
	return "agents." + agentID + ".tasks"
}

// BuildAgentStopSubject returns the per-agent stop control subject.
func BuildAgentStopSubject(agentID string) string {
	return "agents." + agentID + ".stop"
}

// PathToSubject converts a wire topic path (/agents/a1/tasks) into a bus
// subject (agents.a1.tasks).
func PathToSubject(path string) string {
	trimmed := strings.Trim(path, "/")
	return strings.ReplaceAll(trimmed, "/", ".")
}

// SubjectToPath converts a bus subject (agents.a1.tasks) into a wire topic
// path (/agents/a1/tasks).
func SubjectToPath(subject string) string {
	return "/" + strings.ReplaceAll(subject, ".", "/")
}

// AgentIDFromTasksSubject extracts the agent id from an agents.{id}.tasks
// subject, returning false when the subject has a different shape.
func AgentIDFromTasksSubject(subject string) (string, bool) {
	parts := strings.Split(subject, ".")
	if len(parts) != 3 || parts[0] != "agents" || parts[2] != "tasks" {
		return "", false
	}
	return parts[1], true
}
