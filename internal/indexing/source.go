package indexing

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	apperrors "github.com/agentdesk/agentdesk/internal/common/errors"
	"github.com/agentdesk/agentdesk/internal/ticket/models"
)

// ContentSource resolves a job's target reference to its current content.
// A NotFound return fails the job; the target disappeared between enqueue
// and drain.
type ContentSource interface {
	ReadTicket(ctx context.Context, ticketID string) (*models.Ticket, error)
	ReadDoc(ctx context.Context, docID string) (string, error)
	ReadFile(ctx context.Context, repositoryID, filePath string) ([]byte, error)
}

// TicketReader is the slice of the ticket repository the source needs.
type TicketReader interface {
	GetTicket(ctx context.Context, id string) (*models.Ticket, error)
}

// StoreSource reads tickets from the relational store and files from the
// local working trees: one directory per repository under reposRoot, docs as
// markdown files under docsRoot keyed by relative path.
type StoreSource struct {
	tickets   TicketReader
	reposRoot string
	docsRoot  string
}

var _ ContentSource = (*StoreSource)(nil)

// NewStoreSource creates the default content source.
func NewStoreSource(tickets TicketReader, reposRoot, docsRoot string) *StoreSource {
	return &StoreSource{tickets: tickets, reposRoot: reposRoot, docsRoot: docsRoot}
}

// ReadTicket loads the ticket row.
func (s *StoreSource) ReadTicket(ctx context.Context, ticketID string) (*models.Ticket, error) {
	return s.tickets.GetTicket(ctx, ticketID)
}

// ReadDoc loads a markdown document by its relative path under docsRoot.
func (s *StoreSource) ReadDoc(_ context.Context, docID string) (string, error) {
	path, err := safeJoin(s.docsRoot, docID)
	if err != nil {
		return "", err
	}
	content, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", apperrors.NotFound("document", docID)
	}
	if err != nil {
		return "", err
	}
	return string(content), nil
}

// ReadFile loads a tracked file from the repository's working tree.
func (s *StoreSource) ReadFile(_ context.Context, repositoryID, filePath string) ([]byte, error) {
	path, err := safeJoin(filepath.Join(s.reposRoot, repositoryID), filePath)
	if err != nil {
		return nil, err
	}
	content, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, apperrors.NotFound("file", repositoryID+":"+filePath)
	}
	return content, err
}

// safeJoin joins a relative path under root and rejects traversal outside
// it.
func safeJoin(root, rel string) (string, error) {
	cleaned := filepath.Clean("/" + strings.TrimPrefix(rel, "/"))
	if cleaned == "/" {
		return "", apperrors.ValidationMsg("empty path")
	}
	return filepath.Join(root, cleaned), nil
}
