package ci

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	apperrors "github.com/agentdesk/agentdesk/internal/common/errors"
	"github.com/agentdesk/agentdesk/internal/common/logger"
	"github.com/agentdesk/agentdesk/internal/db"
	"github.com/agentdesk/agentdesk/internal/events"
	"github.com/agentdesk/agentdesk/internal/events/bus"
	v1 "github.com/agentdesk/agentdesk/pkg/api/v1"
)

// Service starts CI runs, records their outcomes, and publishes /ci events
// as runs start and finish.
type Service struct {
	db       *sqlx.DB
	ro       *sqlx.DB
	runner   Runner
	eventBus bus.EventBus
	logger   *logger.Logger
}

// NewService creates the CI service and initializes its run-record table.
// runner may be nil when no runner endpoint is configured; Start then
// returns Conflict.
func NewService(pool *db.Pool, runner Runner, eventBus bus.EventBus, log *logger.Logger) (*Service, error) {
	s := &Service{
		db:       pool.Writer(),
		ro:       pool.Reader(),
		runner:   runner,
		eventBus: eventBus,
		logger:   log.WithFields(zap.String("component", "ci-service")),
	}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize ci schema: %w", err)
	}
	return s, nil
}

func (s *Service) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS ci_runs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		ticket_id TEXT NOT NULL,
		ref TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		output TEXT,
		started_at TIMESTAMP NOT NULL,
		finished_at TIMESTAMP
	)`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	_, err := s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_ci_runs_ticket ON ci_runs(ticket_id, started_at)`)
	return err
}

// Start records a running row, kicks off the delegated run in the
// background, and returns the row immediately.
func (s *Service) Start(ctx context.Context, req *v1.CIRunRequest) (*v1.CIRun, error) {
	if s.runner == nil {
		return nil, apperrors.Conflict("no ci runner configured")
	}
	if req.TicketID == "" {
		return nil, apperrors.Validation("ticket_id", "ticket_id is required")
	}

	run := &v1.CIRun{
		TicketID:  req.TicketID,
		Ref:       req.Ref,
		Status:    v1.CIRunStatusRunning,
		StartedAt: time.Now().UTC(),
	}
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`
		INSERT INTO ci_runs (ticket_id, ref, status, started_at)
		VALUES (?, ?, ?, ?)
	`), run.TicketID, run.Ref, run.Status, run.StartedAt)
	if err != nil {
		return nil, err
	}
	run.ID, err = res.LastInsertId()
	if err != nil {
		return nil, err
	}

	s.publish(ctx, events.CIRunStarted, run)
	go s.execute(run)
	return run, nil
}

// execute runs the delegation and finishes the record. It outlives the
// request context on purpose; a run is not tied to the caller's connection.
func (s *Service) execute(run *v1.CIRun) {
	ctx := context.Background()
	status, output, err := s.runner.Run(ctx, run.TicketID, run.Ref)
	if err != nil {
		s.logger.Warn("CI run errored",
			zap.Int64("run_id", run.ID),
			zap.String("ticket_id", run.TicketID),
			zap.Error(err))
	}

	finished := time.Now().UTC()
	run.Status = status
	run.Output = &output
	run.FinishedAt = &finished

	_, updateErr := s.db.ExecContext(ctx, s.db.Rebind(`
		UPDATE ci_runs SET status = ?, output = ?, finished_at = ? WHERE id = ?
	`), run.Status, run.Output, run.FinishedAt, run.ID)
	if updateErr != nil {
		s.logger.Error("Failed to record ci run outcome",
			zap.Int64("run_id", run.ID), zap.Error(updateErr))
		return
	}
	s.publish(ctx, events.CIRunFinished, run)
}

// runRow is the sqlx projection of a ci_runs row.
type runRow struct {
	ID         int64      `db:"id"`
	TicketID   string     `db:"ticket_id"`
	Ref        string     `db:"ref"`
	Status     string     `db:"status"`
	Output     *string    `db:"output"`
	StartedAt  time.Time  `db:"started_at"`
	FinishedAt *time.Time `db:"finished_at"`
}

func (r *runRow) toAPI() *v1.CIRun {
	return &v1.CIRun{
		ID:         r.ID,
		TicketID:   r.TicketID,
		Ref:        r.Ref,
		Status:     v1.CIRunStatus(r.Status),
		Output:     r.Output,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
	}
}

// Get retrieves one run.
func (s *Service) Get(ctx context.Context, id int64) (*v1.CIRun, error) {
	var row runRow
	err := s.ro.GetContext(ctx, &row, s.ro.Rebind(`
		SELECT id, ticket_id, ref, status, output, started_at, finished_at
		FROM ci_runs WHERE id = ?
	`), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("ci run", fmt.Sprintf("%d", id))
	}
	if err != nil {
		return nil, err
	}
	return row.toAPI(), nil
}

// ListByTicket returns a ticket's runs, newest first.
func (s *Service) ListByTicket(ctx context.Context, ticketID string) ([]*v1.CIRun, error) {
	var rows []runRow
	err := s.ro.SelectContext(ctx, &rows, s.ro.Rebind(`
		SELECT id, ticket_id, ref, status, output, started_at, finished_at
		FROM ci_runs WHERE ticket_id = ?
		ORDER BY started_at DESC, id DESC
	`), ticketID)
	if err != nil {
		return nil, err
	}
	runs := make([]*v1.CIRun, 0, len(rows))
	for i := range rows {
		runs = append(runs, rows[i].toAPI())
	}
	return runs, nil
}

func (s *Service) publish(ctx context.Context, eventType string, run *v1.CIRun) {
	data := map[string]interface{}{
		"run_id":    run.ID,
		"ticket_id": run.TicketID,
		"status":    string(run.Status),
	}
	if err := s.eventBus.Publish(ctx, events.SubjectCI, bus.NewEvent(eventType, "ci-service", data)); err != nil {
		s.logger.Warn("Failed to publish ci event", zap.Error(err))
	}
}
