package v1

import "time"

// CIRunStatus represents the state of an external CI run
type CIRunStatus string

const (
	CIRunStatusRunning CIRunStatus = "running"
	CIRunStatusPassed  CIRunStatus = "passed"
	CIRunStatusFailed  CIRunStatus = "failed"
	CIRunStatusError   CIRunStatus = "error"
)

// CIRun represents one delegated CI execution for a ticket
type CIRun struct {
	ID         int64       `json:"id"`
	TicketID   string      `json:"ticket_id"`
	Ref        string      `json:"ref,omitempty"`
	Status     CIRunStatus `json:"status"`
	Output     *string     `json:"output,omitempty"`
	StartedAt  time.Time   `json:"started_at"`
	FinishedAt *time.Time  `json:"finished_at,omitempty"`
}

// CIRunRequest delegates a CI run to the external runner
type CIRunRequest struct {
	TicketID string `json:"ticket_id" binding:"required"`
	Ref      string `json:"ref,omitempty"`
}
