// Package repository provides persistent storage for agent registrations.
package repository

import (
	"context"

	"github.com/agentdesk/agentdesk/internal/agent/models"
)

// Repository stores agent registrations.
type Repository interface {
	Create(ctx context.Context, agent *models.Agent) error
	Get(ctx context.Context, id string) (*models.Agent, error)
	// GetByName resolves an agent by name, case-insensitively.
	GetByName(ctx context.Context, name string) (*models.Agent, error)
	List(ctx context.Context) ([]*models.Agent, error)
	ListEnabled(ctx context.Context) ([]*models.Agent, error)
	ListEnabledByType(ctx context.Context, agentType string) ([]*models.Agent, error)
	Update(ctx context.Context, agent *models.Agent) error
	Delete(ctx context.Context, id string) error
}
