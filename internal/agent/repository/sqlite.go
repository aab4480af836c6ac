package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/agentdesk/agentdesk/internal/agent/models"
	apperrors "github.com/agentdesk/agentdesk/internal/common/errors"
	"github.com/agentdesk/agentdesk/internal/db"
	"github.com/agentdesk/agentdesk/internal/db/dialect"
)

// SQLRepository implements Repository on the shared reader/writer pool. It
// works against SQLite and Postgres through sqlx placeholder rebinding.
type SQLRepository struct {
	db *sqlx.DB // writer
	ro *sqlx.DB // reader
}

var _ Repository = (*SQLRepository)(nil)

// New creates the repository and initializes its schema.
func New(pool *db.Pool) (*SQLRepository, error) {
	repo := &SQLRepository{db: pool.Writer(), ro: pool.Reader()}
	if err := repo.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize agents schema: %w", err)
	}
	return repo, nil
}

func (r *SQLRepository) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS agents (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL UNIQUE,
		type TEXT NOT NULL,
		description TEXT,
		model TEXT,
		config TEXT NOT NULL DEFAULT '{}',
		enabled INTEGER NOT NULL DEFAULT 1,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`
	if _, err := r.db.Exec(schema); err != nil {
		return err
	}
	_, err := r.db.Exec(`CREATE INDEX IF NOT EXISTS idx_agents_type_enabled ON agents(type, enabled)`)
	return err
}

// Create inserts a new agent row.
func (r *SQLRepository) Create(ctx context.Context, agent *models.Agent) error {
	if agent.ID == "" {
		agent.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	agent.CreatedAt = now
	agent.UpdatedAt = now

	config, err := json.Marshal(agent.Config)
	if err != nil {
		config = []byte("{}")
	}

	_, err = r.db.ExecContext(ctx, r.db.Rebind(`
		INSERT INTO agents (id, name, type, description, model, config, enabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), agent.ID, agent.Name, agent.Type, agent.Description, agent.Model, string(config),
		dialect.BoolToInt(agent.Enabled), agent.CreatedAt, agent.UpdatedAt)
	if err != nil {
		return err
	}
	return nil
}

// Get retrieves an agent by ID.
func (r *SQLRepository) Get(ctx context.Context, id string) (*models.Agent, error) {
	return r.scanOne(ctx, `SELECT id, name, type, description, model, config, enabled, created_at, updated_at
		FROM agents WHERE id = ?`, id)
}

// GetByName resolves an agent by name, case-insensitively.
func (r *SQLRepository) GetByName(ctx context.Context, name string) (*models.Agent, error) {
	return r.scanOne(ctx, `SELECT id, name, type, description, model, config, enabled, created_at, updated_at
		FROM agents WHERE LOWER(name) = LOWER(?)`, name)
}

func (r *SQLRepository) scanOne(ctx context.Context, query string, arg interface{}) (*models.Agent, error) {
	agent := &models.Agent{}
	var config string
	var enabled int
	err := r.ro.QueryRowContext(ctx, r.ro.Rebind(query), arg).Scan(
		&agent.ID, &agent.Name, &agent.Type, &agent.Description, &agent.Model,
		&config, &enabled, &agent.CreatedAt, &agent.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("agent", fmt.Sprintf("%v", arg))
	}
	if err != nil {
		return nil, err
	}
	agent.Enabled = enabled != 0
	_ = json.Unmarshal([]byte(config), &agent.Config)
	return agent, nil
}

// List returns all agents ordered by name.
func (r *SQLRepository) List(ctx context.Context) ([]*models.Agent, error) {
	return r.list(ctx, `SELECT id, name, type, description, model, config, enabled, created_at, updated_at
		FROM agents ORDER BY name`)
}

// ListEnabled returns all enabled agents ordered by name.
func (r *SQLRepository) ListEnabled(ctx context.Context) ([]*models.Agent, error) {
	return r.list(ctx, `SELECT id, name, type, description, model, config, enabled, created_at, updated_at
		FROM agents WHERE enabled = 1 ORDER BY name`)
}

// ListEnabledByType returns enabled agents of the given type.
func (r *SQLRepository) ListEnabledByType(ctx context.Context, agentType string) ([]*models.Agent, error) {
	return r.list(ctx, `SELECT id, name, type, description, model, config, enabled, created_at, updated_at
		FROM agents WHERE enabled = 1 AND type = ? ORDER BY name`, agentType)
}

func (r *SQLRepository) list(ctx context.Context, query string, args ...interface{}) ([]*models.Agent, error) {
	rows, err := r.ro.QueryContext(ctx, r.ro.Rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()

	var agents []*models.Agent
	for rows.Next() {
		agent := &models.Agent{}
		var config string
		var enabled int
		if err := rows.Scan(&agent.ID, &agent.Name, &agent.Type, &agent.Description,
			&agent.Model, &config, &enabled, &agent.CreatedAt, &agent.UpdatedAt); err != nil {
			return nil, err
		}
		agent.Enabled = enabled != 0
		_ = json.Unmarshal([]byte(config), &agent.Config)
		agents = append(agents, agent)
	}
	return agents, rows.Err()
}

// Update rewrites the mutable columns of an agent row.
func (r *SQLRepository) Update(ctx context.Context, agent *models.Agent) error {
	agent.UpdatedAt = time.Now().UTC()

	config, err := json.Marshal(agent.Config)
	if err != nil {
		config = []byte("{}")
	}

	result, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE agents SET name = ?, type = ?, description = ?, model = ?, config = ?, enabled = ?, updated_at = ?
		WHERE id = ?
	`), agent.Name, agent.Type, agent.Description, agent.Model, string(config),
		dialect.BoolToInt(agent.Enabled), agent.UpdatedAt, agent.ID)
	if err != nil {
		return err
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return apperrors.NotFound("agent", agent.ID)
	}
	return nil
}

// Delete removes an agent row. Queued tasks for the agent are removed by the
// dispatch repository's cascade.
func (r *SQLRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, r.db.Rebind(`DELETE FROM agents WHERE id = ?`), id)
	if err != nil {
		return err
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return apperrors.NotFound("agent", id)
	}
	return nil
}
