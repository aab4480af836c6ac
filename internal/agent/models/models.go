// Package models defines the stored representation of agent registrations.
package models

import (
	"time"

	v1 "github.com/agentdesk/agentdesk/pkg/api/v1"
)

// Canonical agent types. The broker routes refinement work to planners and
// review work to reviewers; anything else is reached by explicit mention.
const (
	TypePlanner   = "planner"
	TypeDeveloper = "developer"
	TypeReviewer  = "reviewer"
)

// ValidType reports whether t is a recognized agent type.
func ValidType(t string) bool {
	switch t {
	case TypePlanner, TypeDeveloper, TypeReviewer:
		return true
	}
	return false
}

// Agent is a registered agent worker. Config is opaque to the coordinator
// and handed to the worker process as-is.
type Agent struct {
	ID          string
	Name        string
	Type        string
	Description *string
	Model       *string
	Config      map[string]interface{}
	Enabled     bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// ToAPI converts the stored row to its API representation.
func (a *Agent) ToAPI() *v1.Agent {
	return &v1.Agent{
		ID:          a.ID,
		Name:        a.Name,
		Type:        a.Type,
		Description: a.Description,
		Model:       a.Model,
		Config:      a.Config,
		Enabled:     a.Enabled,
		CreatedAt:   a.CreatedAt,
		UpdatedAt:   a.UpdatedAt,
	}
}
