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

	apperrors "github.com/agentdesk/agentdesk/internal/common/errors"
	"github.com/agentdesk/agentdesk/internal/db"
	"github.com/agentdesk/agentdesk/internal/ticket/models"
)

// SQLRepository implements Repository and CommentRepository on the shared
// reader/writer pool.
type SQLRepository struct {
	db *sqlx.DB // writer
	ro *sqlx.DB // reader
}

var (
	_ Repository        = (*SQLRepository)(nil)
	_ CommentRepository = (*SQLRepository)(nil)
)

// New creates the repository and initializes its schema.
func New(pool *db.Pool) (*SQLRepository, error) {
	repo := &SQLRepository{db: pool.Writer(), ro: pool.Reader()}
	if err := repo.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize tickets schema: %w", err)
	}
	return repo, nil
}

func (r *SQLRepository) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS tickets (
			id TEXT PRIMARY KEY,
			repository_id TEXT NOT NULL,
			title TEXT NOT NULL,
			description TEXT,
			solution_plan TEXT,
			status TEXT NOT NULL DEFAULT 'backlog',
			priority INTEGER,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS labels (
			name TEXT PRIMARY KEY,
			color TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS ticket_labels (
			ticket_id TEXT NOT NULL REFERENCES tickets(id) ON DELETE CASCADE,
			label_name TEXT NOT NULL REFERENCES labels(name),
			PRIMARY KEY (ticket_id, label_name)
		)`,
		`CREATE TABLE IF NOT EXISTS ticket_assignees (
			ticket_id TEXT NOT NULL REFERENCES tickets(id) ON DELETE CASCADE,
			kind TEXT NOT NULL,
			assignee_id TEXT NOT NULL,
			PRIMARY KEY (ticket_id, kind, assignee_id)
		)`,
		`CREATE TABLE IF NOT EXISTS comments (
			id TEXT PRIMARY KEY,
			ticket_id TEXT NOT NULL REFERENCES tickets(id) ON DELETE CASCADE,
			author_kind TEXT NOT NULL,
			author_id TEXT NOT NULL,
			content TEXT NOT NULL,
			mentions TEXT,
			status TEXT NOT NULL DEFAULT 'completed',
			responding_to TEXT,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tickets_repo_status ON tickets(repository_id, status)`,
		`CREATE INDEX IF NOT EXISTS idx_comments_ticket ON comments(ticket_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_comments_generating ON comments(status, updated_at)`,
	}
	for _, stmt := range statements {
		if _, err := r.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// CreateTicket inserts a new ticket with its labels and assignees.
func (r *SQLRepository) CreateTicket(ctx context.Context, ticket *models.Ticket) error {
	if ticket.ID == "" {
		ticket.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	ticket.CreatedAt = now
	ticket.UpdatedAt = now
	if ticket.Status == "" {
		ticket.Status = models.StatusBacklog
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	_, err = tx.ExecContext(ctx, tx.Rebind(`
		INSERT INTO tickets (id, repository_id, title, description, solution_plan, status, priority, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), ticket.ID, ticket.RepositoryID, ticket.Title, ticket.Description, ticket.SolutionPlan,
		ticket.Status, ticket.Priority, ticket.CreatedAt, ticket.UpdatedAt)
	if err != nil {
		return err
	}
	if err := r.writeLabels(ctx, tx, ticket.ID, ticket.Labels); err != nil {
		return err
	}
	if err := r.writeAssignees(ctx, tx, ticket.ID, ticket.Assignees); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *SQLRepository) writeLabels(ctx context.Context, tx *sqlx.Tx, ticketID string, labels []models.Label) error {
	if _, err := tx.ExecContext(ctx, tx.Rebind(
		`DELETE FROM ticket_labels WHERE ticket_id = ?`), ticketID); err != nil {
		return err
	}
	for _, label := range labels {
		// Upsert the definition so the name→color mapping follows the most
		// recent write.
		if _, err := tx.ExecContext(ctx, tx.Rebind(`
			INSERT INTO labels (name, color) VALUES (?, ?)
			ON CONFLICT(name) DO UPDATE SET color = excluded.color
		`), label.Name, label.Color); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(`
			INSERT INTO ticket_labels (ticket_id, label_name) VALUES (?, ?)
		`), ticketID, label.Name); err != nil {
			return err
		}
	}
	return nil
}

func (r *SQLRepository) writeAssignees(ctx context.Context, tx *sqlx.Tx, ticketID string, assignees []models.Assignee) error {
	if _, err := tx.ExecContext(ctx, tx.Rebind(
		`DELETE FROM ticket_assignees WHERE ticket_id = ?`), ticketID); err != nil {
		return err
	}
	for _, a := range assignees {
		if _, err := tx.ExecContext(ctx, tx.Rebind(`
			INSERT INTO ticket_assignees (ticket_id, kind, assignee_id) VALUES (?, ?, ?)
		`), ticketID, a.Kind, a.ID); err != nil {
			return err
		}
	}
	return nil
}

// GetTicket retrieves a ticket with its labels and assignees.
func (r *SQLRepository) GetTicket(ctx context.Context, id string) (*models.Ticket, error) {
	ticket := &models.Ticket{}
	err := r.ro.QueryRowContext(ctx, r.ro.Rebind(`
		SELECT id, repository_id, title, description, solution_plan, status, priority, created_at, updated_at
		FROM tickets WHERE id = ?
	`), id).Scan(&ticket.ID, &ticket.RepositoryID, &ticket.Title, &ticket.Description,
		&ticket.SolutionPlan, &ticket.Status, &ticket.Priority, &ticket.CreatedAt, &ticket.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("ticket", id)
	}
	if err != nil {
		return nil, err
	}
	if err := r.hydrate(ctx, ticket); err != nil {
		return nil, err
	}
	return ticket, nil
}

func (r *SQLRepository) hydrate(ctx context.Context, ticket *models.Ticket) error {
	labelRows, err := r.ro.QueryContext(ctx, r.ro.Rebind(`
		SELECT l.name, l.color FROM ticket_labels tl
		JOIN labels l ON l.name = tl.label_name
		WHERE tl.ticket_id = ? ORDER BY l.name
	`), ticket.ID)
	if err != nil {
		return err
	}
	defer func() {
		_ = labelRows.Close()
	}()
	for labelRows.Next() {
		var label models.Label
		if err := labelRows.Scan(&label.Name, &label.Color); err != nil {
			return err
		}
		ticket.Labels = append(ticket.Labels, label)
	}
	if err := labelRows.Err(); err != nil {
		return err
	}

	assigneeRows, err := r.ro.QueryContext(ctx, r.ro.Rebind(`
		SELECT kind, assignee_id FROM ticket_assignees
		WHERE ticket_id = ? ORDER BY kind, assignee_id
	`), ticket.ID)
	if err != nil {
		return err
	}
	defer func() {
		_ = assigneeRows.Close()
	}()
	for assigneeRows.Next() {
		var a models.Assignee
		if err := assigneeRows.Scan(&a.Kind, &a.ID); err != nil {
			return err
		}
		ticket.Assignees = append(ticket.Assignees, a)
	}
	return assigneeRows.Err()
}

// ListTickets returns tickets matching the filter, newest first.
func (r *SQLRepository) ListTickets(ctx context.Context, filter ListFilter) ([]*models.Ticket, error) {
	query := `SELECT DISTINCT t.id, t.repository_id, t.title, t.description, t.solution_plan, t.status, t.priority, t.created_at, t.updated_at
		FROM tickets t`
	var args []interface{}
	var where []string

	if filter.Label != "" {
		query += ` JOIN ticket_labels tl ON tl.ticket_id = t.id`
		where = append(where, `tl.label_name = ?`)
		args = append(args, filter.Label)
	}
	if filter.Assignee != "" {
		query += ` JOIN ticket_assignees ta ON ta.ticket_id = t.id`
		where = append(where, `ta.assignee_id = ?`)
		args = append(args, filter.Assignee)
	}
	if filter.RepositoryID != "" {
		where = append(where, `t.repository_id = ?`)
		args = append(args, filter.RepositoryID)
	}
	if filter.Status != "" {
		where = append(where, `t.status = ?`)
		args = append(args, filter.Status)
	}
	if filter.TitleQuery != "" {
		where = append(where, `t.title LIKE ?`)
		args = append(args, "%"+filter.TitleQuery+"%")
	}
	for i, cond := range where {
		if i == 0 {
			query += ` WHERE ` + cond
		} else {
			query += ` AND ` + cond
		}
	}
	query += ` ORDER BY t.created_at DESC`

	rows, err := r.ro.QueryContext(ctx, r.ro.Rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()

	var tickets []*models.Ticket
	for rows.Next() {
		ticket := &models.Ticket{}
		if err := rows.Scan(&ticket.ID, &ticket.RepositoryID, &ticket.Title, &ticket.Description,
			&ticket.SolutionPlan, &ticket.Status, &ticket.Priority, &ticket.CreatedAt, &ticket.UpdatedAt); err != nil {
			return nil, err
		}
		tickets = append(tickets, ticket)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, ticket := range tickets {
		if err := r.hydrate(ctx, ticket); err != nil {
			return nil, err
		}
	}
	return tickets, nil
}

// UpdateTicket rewrites the mutable columns, labels, and assignees.
func (r *SQLRepository) UpdateTicket(ctx context.Context, ticket *models.Ticket) error {
	ticket.UpdatedAt = time.Now().UTC()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	result, err := tx.ExecContext(ctx, tx.Rebind(`
		UPDATE tickets SET repository_id = ?, title = ?, description = ?, solution_plan = ?,
			status = ?, priority = ?, updated_at = ?
		WHERE id = ?
	`), ticket.RepositoryID, ticket.Title, ticket.Description, ticket.SolutionPlan,
		ticket.Status, ticket.Priority, ticket.UpdatedAt, ticket.ID)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return apperrors.NotFound("ticket", ticket.ID)
	}
	if err := r.writeLabels(ctx, tx, ticket.ID, ticket.Labels); err != nil {
		return err
	}
	if err := r.writeAssignees(ctx, tx, ticket.ID, ticket.Assignees); err != nil {
		return err
	}
	return tx.Commit()
}

// DeleteTicket removes a ticket. Comments, label links, and assignees go
// with it via the schema's ON DELETE CASCADE.
func (r *SQLRepository) DeleteTicket(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, r.db.Rebind(`DELETE FROM tickets WHERE id = ?`), id)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return apperrors.NotFound("ticket", id)
	}
	return nil
}

// CreateComment inserts a comment. The created_at value is bumped past the
// ticket's latest comment when the clock would tie or run backwards, so
// created_at is strictly increasing within one ticket.
func (r *SQLRepository) CreateComment(ctx context.Context, comment *models.Comment) error {
	if comment.ID == "" {
		comment.ID = uuid.New().String()
	}
	if comment.Status == "" {
		comment.Status = models.CommentCompleted
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	now := time.Now().UTC()
	var last time.Time
	err = tx.QueryRowContext(ctx, tx.Rebind(`
		SELECT created_at FROM comments WHERE ticket_id = ?
		ORDER BY created_at DESC LIMIT 1
	`), comment.TicketID).Scan(&last)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return err
	}
	if err == nil && !now.After(last) {
		now = last.Add(time.Microsecond)
	}
	comment.CreatedAt = now
	comment.UpdatedAt = now

	var mentions *string
	if len(comment.Mentions) > 0 {
		raw, err := json.Marshal(comment.Mentions)
		if err != nil {
			return err
		}
		s := string(raw)
		mentions = &s
	}

	_, err = tx.ExecContext(ctx, tx.Rebind(`
		INSERT INTO comments (id, ticket_id, author_kind, author_id, content, mentions, status, responding_to, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), comment.ID, comment.TicketID, comment.AuthorKind, comment.AuthorID, comment.Content,
		mentions, comment.Status, comment.RespondingTo, comment.CreatedAt, comment.UpdatedAt)
	if err != nil {
		return err
	}
	return tx.Commit()
}

const commentColumns = `id, ticket_id, author_kind, author_id, content, mentions, status, responding_to, created_at, updated_at`

// GetComment retrieves a comment by ID.
func (r *SQLRepository) GetComment(ctx context.Context, id string) (*models.Comment, error) {
	row := r.ro.QueryRowContext(ctx, r.ro.Rebind(
		`SELECT `+commentColumns+` FROM comments WHERE id = ?`), id)
	comment, err := scanComment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NotFound("comment", id)
	}
	return comment, err
}

// ListComments returns the ticket's comments ordered by created_at.
func (r *SQLRepository) ListComments(ctx context.Context, ticketID string) ([]*models.Comment, error) {
	rows, err := r.ro.QueryContext(ctx, r.ro.Rebind(
		`SELECT `+commentColumns+` FROM comments WHERE ticket_id = ? ORDER BY created_at ASC`), ticketID)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()

	var comments []*models.Comment
	for rows.Next() {
		comment, err := scanComment(rows)
		if err != nil {
			return nil, err
		}
		comments = append(comments, comment)
	}
	return comments, rows.Err()
}

// UpdateComment rewrites a comment's content and status.
func (r *SQLRepository) UpdateComment(ctx context.Context, comment *models.Comment) error {
	comment.UpdatedAt = time.Now().UTC()
	result, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE comments SET content = ?, status = ?, updated_at = ? WHERE id = ?
	`), comment.Content, comment.Status, comment.UpdatedAt, comment.ID)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return apperrors.NotFound("comment", comment.ID)
	}
	return nil
}

// AppendCommentContent appends a streaming delta in place.
func (r *SQLRepository) AppendCommentContent(ctx context.Context, id, delta string) error {
	result, err := r.db.ExecContext(ctx, r.db.Rebind(`
		UPDATE comments SET content = content || ?, updated_at = ? WHERE id = ?
	`), delta, time.Now().UTC(), id)
	if err != nil {
		return err
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return apperrors.NotFound("comment", id)
	}
	return nil
}

// SweepGenerating fails generating comments that have not been touched for
// the given number of minutes and returns them.
func (r *SQLRepository) SweepGenerating(ctx context.Context, olderThanMinutes int) ([]*models.Comment, error) {
	cutoff := time.Now().UTC().Add(-time.Duration(olderThanMinutes) * time.Minute)

	rows, err := r.db.QueryContext(ctx, r.db.Rebind(`
		SELECT `+commentColumns+` FROM comments
		WHERE status = ? AND updated_at < ?
	`), models.CommentGenerating, cutoff)
	if err != nil {
		return nil, err
	}
	var stale []*models.Comment
	for rows.Next() {
		comment, err := scanComment(rows)
		if err != nil {
			_ = rows.Close()
			return nil, err
		}
		stale = append(stale, comment)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	now := time.Now().UTC()
	for _, comment := range stale {
		if _, err := r.db.ExecContext(ctx, r.db.Rebind(`
			UPDATE comments SET status = ?, updated_at = ? WHERE id = ? AND status = ?
		`), models.CommentFailed, now, comment.ID, models.CommentGenerating); err != nil {
			return nil, err
		}
		comment.Status = models.CommentFailed
		comment.UpdatedAt = now
	}
	return stale, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanComment(row rowScanner) (*models.Comment, error) {
	comment := &models.Comment{}
	var mentions *string
	if err := row.Scan(&comment.ID, &comment.TicketID, &comment.AuthorKind, &comment.AuthorID,
		&comment.Content, &mentions, &comment.Status, &comment.RespondingTo,
		&comment.CreatedAt, &comment.UpdatedAt); err != nil {
		return nil, err
	}
	if mentions != nil {
		_ = json.Unmarshal([]byte(*mentions), &comment.Mentions)
	}
	return comment, nil
}
