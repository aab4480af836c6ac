package wire

// Topic paths carried in PUB/SUB/UNSUB frames.
const (
	TopicTickets     = "/tickets"
	TopicAgents      = "/agents"
	TopicAgentsState = "/agents/state"
	TopicCI          = "/ci"
	TopicAnthropic   = "/anthropic"
)

// AgentTasksTopic returns the per-agent task push topic.
func AgentTasksTopic(agentID string) string {
	return "/agents/" + agentID + "/tasks"
}

// AgentStopTopic returns the per-agent stop control topic.
func AgentStopTopic(agentID string) string {
	return "/agents/" + agentID + "/stop"
}

// Error codes carried in error responses.
const (
	ErrorCodeBadRequest   = "BAD_REQUEST"
	ErrorCodeValidation   = "VALIDATION_ERROR"
	ErrorCodeNotFound     = "NOT_FOUND"
	ErrorCodeConflict     = "CONFLICT"
	ErrorCodeUnauthorized = "UNAUTHORIZED"
	ErrorCodeUpstream     = "UPSTREAM_ERROR"
	ErrorCodeTransport    = "TRANSPORT_ERROR"
	ErrorCodeTimeout      = "TIMEOUT"
	ErrorCodeInternal     = "INTERNAL_ERROR"
)
