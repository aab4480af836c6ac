package indexing

import (
	"context"

	"go.uber.org/zap"

	apperrors "github.com/agentdesk/agentdesk/internal/common/errors"
	"github.com/agentdesk/agentdesk/internal/common/logger"
	v1 "github.com/agentdesk/agentdesk/pkg/api/v1"
)

const defaultSearchLimit = 10

// SearchService answers semantic queries against the vector corpus. It is
// read-only; the worker is the only writer.
type SearchService struct {
	vectors VectorStore
	logger  *logger.Logger
}

// NewSearchService creates the search service.
func NewSearchService(vectors VectorStore, log *logger.Logger) *SearchService {
	return &SearchService{
		vectors: vectors,
		logger:  log.WithFields(zap.String("component", "search-service")),
	}
}

// Search runs one query and returns scored hits, best first.
func (s *SearchService) Search(ctx context.Context, req *v1.SearchRequest) ([]v1.SearchResult, error) {
	if req.Query == "" {
		return nil, apperrors.Validation("query", "query is required")
	}
	limit := req.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	filter := map[string]string{}
	switch req.ContentKind {
	case "":
	case JobTypeCode, JobTypeDoc, JobTypeTicket:
		filter["content_kind"] = req.ContentKind
	default:
		return nil, apperrors.Validation("content_kind", "must be code, doc, or ticket")
	}
	if req.RepositoryID != "" {
		filter["repository_id"] = req.RepositoryID
	}
	if len(filter) == 0 {
		filter = nil
	}

	hits, err := s.vectors.Query(ctx, req.Query, limit, filter)
	if err != nil {
		return nil, err
	}

	results := make([]v1.SearchResult, 0, len(hits))
	for _, hit := range hits {
		results = append(results, v1.SearchResult{
			ContentKind: hit.ContentKind,
			ContentID:   hit.ContentID,
			ChunkIndex:  hit.ChunkIndex,
			Score:       hit.Score,
			Text:        hit.Text,
			Metadata:    hit.Metadata,
		})
	}
	return results, nil
}
