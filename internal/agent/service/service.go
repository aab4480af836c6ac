// Package service implements agent registration and lookup on top of the
// repository, publishing agent lifecycle events on the bus.
package service

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/agentdesk/agentdesk/internal/agent/models"
	"github.com/agentdesk/agentdesk/internal/agent/repository"
	apperrors "github.com/agentdesk/agentdesk/internal/common/errors"
	"github.com/agentdesk/agentdesk/internal/common/logger"
	"github.com/agentdesk/agentdesk/internal/events"
	"github.com/agentdesk/agentdesk/internal/events/bus"
	v1 "github.com/agentdesk/agentdesk/pkg/api/v1"
)

// Service provides agent registration operations.
type Service struct {
	repo     repository.Repository
	eventBus bus.EventBus
	logger   *logger.Logger
}

// NewService creates an agent service.
func NewService(repo repository.Repository, eventBus bus.EventBus, log *logger.Logger) *Service {
	return &Service{
		repo:     repo,
		eventBus: eventBus,
		logger:   log.WithFields(zap.String("component", "agent-service")),
	}
}

// Create registers a new agent. Names are unique case-insensitively.
func (s *Service) Create(ctx context.Context, req *v1.CreateAgentRequest) (*models.Agent, error) {
	if req.Name == "" {
		return nil, apperrors.Validation("name", "must not be empty")
	}
	if !models.ValidType(req.Type) {
		return nil, apperrors.Validation("type", "must be one of: planner, developer, reviewer")
	}
	if existing, err := s.repo.GetByName(ctx, req.Name); err == nil && existing != nil {
		return nil, apperrors.Conflict(fmt.Sprintf("agent name already registered: %s", req.Name))
	}

	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}
	agent := &models.Agent{
		Name:        req.Name,
		Type:        req.Type,
		Description: req.Description,
		Model:       req.Model,
		Config:      req.Config,
		Enabled:     enabled,
	}
	if err := s.repo.Create(ctx, agent); err != nil {
		return nil, fmt.Errorf("failed to create agent: %w", err)
	}

	s.logger.Info("Agent registered",
		zap.String("agent_id", agent.ID),
		zap.String("name", agent.Name),
		zap.String("type", agent.Type))
	s.publishAgentEvent(ctx, events.AgentCreated, agent)
	return agent, nil
}

// Get retrieves an agent by ID.
func (s *Service) Get(ctx context.Context, id string) (*models.Agent, error) {
	return s.repo.Get(ctx, id)
}

// ResolveByName resolves an agent by name, case-insensitively.
func (s *Service) ResolveByName(ctx context.Context, name string) (*models.Agent, error) {
	return s.repo.GetByName(ctx, name)
}

// List returns all registered agents.
func (s *Service) List(ctx context.Context) ([]*models.Agent, error) {
	return s.repo.List(ctx)
}

// ListEnabled returns all enabled agents.
func (s *Service) ListEnabled(ctx context.Context) ([]*models.Agent, error) {
	return s.repo.ListEnabled(ctx)
}

// ListEnabledByType returns enabled agents of the given type.
func (s *Service) ListEnabledByType(ctx context.Context, agentType string) ([]*models.Agent, error) {
	return s.repo.ListEnabledByType(ctx, agentType)
}

// Update applies the non-nil fields of req to an existing agent.
func (s *Service) Update(ctx context.Context, id string, req *v1.UpdateAgentRequest) (*models.Agent, error) {
	agent, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if req.Name != nil && *req.Name != agent.Name {
		if existing, err := s.repo.GetByName(ctx, *req.Name); err == nil && existing != nil && existing.ID != id {
			return nil, apperrors.Conflict(fmt.Sprintf("agent name already registered: %s", *req.Name))
		}
		agent.Name = *req.Name
	}
	if req.Type != nil {
		if !models.ValidType(*req.Type) {
			return nil, apperrors.Validation("type", "must be one of: planner, developer, reviewer")
		}
		agent.Type = *req.Type
	}
	if req.Description != nil {
		agent.Description = req.Description
	}
	if req.Model != nil {
		agent.Model = req.Model
	}
	if req.Config != nil {
		agent.Config = req.Config
	}
	if req.Enabled != nil {
		agent.Enabled = *req.Enabled
	}

	if err := s.repo.Update(ctx, agent); err != nil {
		return nil, err
	}
	s.publishAgentEvent(ctx, events.AgentUpdated, agent)
	return agent, nil
}

// Delete removes an agent and, via cascade, its queued tasks.
func (s *Service) Delete(ctx context.Context, id string) error {
	agent, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.publishAgentEvent(ctx, events.AgentDeleted, agent)
	return nil
}

func (s *Service) publishAgentEvent(ctx context.Context, eventType string, agent *models.Agent) {
	if s.eventBus == nil {
		return
	}
	data := map[string]interface{}{
		"agent_id": agent.ID,
		"name":     agent.Name,
		"type":     agent.Type,
		"enabled":  agent.Enabled,
	}
	if err := s.eventBus.Publish(ctx, events.SubjectAgents, bus.NewEvent(eventType, "agent-service", data)); err != nil {
		s.logger.Error("Failed to publish agent event",
			zap.String("event_type", eventType),
			zap.Error(err))
	}
}

// seedFile is the on-disk format for agent seeding.
type seedFile struct {
	Agents []seedAgent `yaml:"agents"`
}

type seedAgent struct {
	Name        string                 `yaml:"name"`
	Type        string                 `yaml:"type"`
	Description *string                `yaml:"description"`
	Model       *string                `yaml:"model"`
	Config      map[string]interface{} `yaml:"config"`
	Enabled     *bool                  `yaml:"enabled"`
}

// SeedFromFile registers the agents listed in a YAML file. Agents that
// already exist (by name) are left untouched, so the file can be applied on
// every startup.
func (s *Service) SeedFromFile(ctx context.Context, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read agent seed file: %w", err)
	}

	var file seedFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return fmt.Errorf("failed to parse agent seed file: %w", err)
	}

	for _, entry := range file.Agents {
		if _, err := s.repo.GetByName(ctx, entry.Name); err == nil {
			s.logger.Debug("Seed agent already registered", zap.String("name", entry.Name))
			continue
		}
		req := &v1.CreateAgentRequest{
			Name:        entry.Name,
			Type:        entry.Type,
			Description: entry.Description,
			Model:       entry.Model,
			Config:      entry.Config,
			Enabled:     entry.Enabled,
		}
		if _, err := s.Create(ctx, req); err != nil {
			return fmt.Errorf("failed to seed agent %s: %w", entry.Name, err)
		}
	}
	return nil
}
