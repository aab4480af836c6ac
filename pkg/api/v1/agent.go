package v1

import "time"

// AgentStatus represents the live status projected by the state tracker
type AgentStatus string

const (
	AgentStatusIdle    AgentStatus = "idle"
	AgentStatusWorking AgentStatus = "working"
	AgentStatusError   AgentStatus = "error"
	AgentStatusOffline AgentStatus = "offline"
)

// Agent represents a registered agent worker
type Agent struct {
	ID          string                 `json:"id"`
	Name        string                 `json:"name"`
	Type        string                 `json:"type"` // planner, developer, reviewer
	Description *string                `json:"description,omitempty"`
	Model       *string                `json:"model,omitempty"`
	Config      map[string]interface{} `json:"config,omitempty"` // Opaque worker configuration
	Enabled     bool                   `json:"enabled"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
}

// AgentState is the shadow state the tracker maintains per agent
type AgentState struct {
	AgentID       string      `json:"agent_id"`
	ServiceOnline bool        `json:"service_online"`
	Status        AgentStatus `json:"status"`
	CurrentTaskID *string     `json:"current_task_id,omitempty"`
	LastHeartbeat *time.Time  `json:"last_heartbeat,omitempty"`
	TaskStats     TaskStats   `json:"task_stats"`
}

// EnrichedAgent combines the stored agent row with its shadow state
type EnrichedAgent struct {
	Agent
	State AgentState `json:"state"`
}

// CreateAgentRequest for registering an agent
type CreateAgentRequest struct {
	Name        string                 `json:"name" binding:"required,max=255"`
	Type        string                 `json:"type" binding:"required"`
	Description *string                `json:"description,omitempty"`
	Model       *string                `json:"model,omitempty"`
	Config      map[string]interface{} `json:"config,omitempty"`
	Enabled     *bool                  `json:"enabled,omitempty"` // Defaults to true
}

// UpdateAgentRequest for updating an agent registration
type UpdateAgentRequest struct {
	Name        *string                `json:"name,omitempty" binding:"omitempty,max=255"`
	Type        *string                `json:"type,omitempty"`
	Description *string                `json:"description,omitempty"`
	Model       *string                `json:"model,omitempty"`
	Config      map[string]interface{} `json:"config,omitempty"`
	Enabled     *bool                  `json:"enabled,omitempty"`
}

// TriggerRequest enqueues a manual task for an agent
type TriggerRequest struct {
	Type     string                 `json:"type,omitempty"` // Defaults to "manual"
	Priority *int                   `json:"priority,omitempty"`
	Payload  map[string]interface{} `json:"payload,omitempty"`
	Stream   bool                   `json:"stream,omitempty"`
}

// SubscribeRequest is sent by a worker after connecting to bind its
// task subscription to the agent row
type SubscribeRequest struct {
	AgentName string `json:"agent_name,omitempty"`
}

// AgentStatusEvent is the payload workers publish to report status changes
type AgentStatusEvent struct {
	AgentID string      `json:"agent_id"`
	Status  AgentStatus `json:"status"`
	TaskID  *string     `json:"task_id,omitempty"`
	Message *string     `json:"message,omitempty"`
}
