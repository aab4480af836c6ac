package indexing

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/philippgille/chromem-go"
)

// Record is one vector row: a chunk plus its precomputed embedding.
type Record struct {
	ContentKind string
	ContentID   string
	ChunkIndex  int
	Text        string
	Vector      []float32
	Metadata    map[string]string
}

// Hit is one scored query result.
type Hit struct {
	ContentKind string
	ContentID   string
	ChunkIndex  int
	Score       float32
	Text        string
	Metadata    map[string]string
}

// VectorStore holds the semantic corpus. Replace is the only write path the
// worker uses: prior vectors for a target always go away before new ones
// land.
type VectorStore interface {
	Replace(ctx context.Context, kind, contentID string, records []Record) error
	Delete(ctx context.Context, kind, contentID string) error
	Query(ctx context.Context, text string, limit int, filter map[string]string) ([]Hit, error)
	Count() int
}

// ChromemStore implements VectorStore on an embedded chromem-go collection
// persisted as a gob file under the configured directory.
type ChromemStore struct {
	collection *chromem.Collection
}

var _ VectorStore = (*ChromemStore)(nil)

// NewChromemStore opens (or creates) the persistent corpus. The embedder is
// only consulted for query text; document vectors are always precomputed.
func NewChromemStore(dir string, embedder Embedder) (*ChromemStore, error) {
	db, err := chromem.NewPersistentDB(filepath.Join(dir, "corpus.gob"), false)
	if err != nil {
		return nil, fmt.Errorf("failed to open vector store: %w", err)
	}

	embedFunc := func(ctx context.Context, text string) ([]float32, error) {
		return embedder.Embed(ctx, text)
	}
	collection, err := db.GetOrCreateCollection("corpus", nil, embedFunc)
	if err != nil {
		return nil, fmt.Errorf("failed to open corpus collection: %w", err)
	}
	return &ChromemStore{collection: collection}, nil
}

// Replace deletes the prior vectors for the target and inserts the new ones.
func (s *ChromemStore) Replace(ctx context.Context, kind, contentID string, records []Record) error {
	if err := s.Delete(ctx, kind, contentID); err != nil {
		return err
	}
	for _, record := range records {
		metadata := map[string]string{
			"content_kind": kind,
			"content_id":   contentID,
			"chunk_index":  strconv.Itoa(record.ChunkIndex),
		}
		for k, v := range record.Metadata {
			metadata[k] = v
		}
		doc := chromem.Document{
			ID:        fmt.Sprintf("%s:%s:%d", kind, contentID, record.ChunkIndex),
			Content:   record.Text,
			Embedding: record.Vector,
			Metadata:  metadata,
		}
		if err := s.collection.AddDocument(ctx, doc); err != nil {
			return fmt.Errorf("failed to add vector for %s %s: %w", kind, contentID, err)
		}
	}
	return nil
}

// Delete removes all vectors for a target.
func (s *ChromemStore) Delete(ctx context.Context, kind, contentID string) error {
	where := map[string]string{
		"content_kind": kind,
		"content_id":   contentID,
	}
	return s.collection.Delete(ctx, where, nil)
}

// Query embeds the text via the collection's embedding func and returns the
// top hits, optionally filtered by exact metadata matches.
func (s *ChromemStore) Query(ctx context.Context, text string, limit int, filter map[string]string) ([]Hit, error) {
	count := s.collection.Count()
	if count == 0 {
		return nil, nil
	}
	if limit > count {
		limit = count
	}
	results, err := s.collection.Query(ctx, text, limit, filter, nil)
	if err != nil {
		return nil, err
	}

	hits := make([]Hit, 0, len(results))
	for _, result := range results {
		chunkIndex, _ := strconv.Atoi(result.Metadata["chunk_index"])
		metadata := make(map[string]string, len(result.Metadata))
		for k, v := range result.Metadata {
			if k == "content_kind" || k == "content_id" || k == "chunk_index" {
				continue
			}
			metadata[k] = v
		}
		hits = append(hits, Hit{
			ContentKind: result.Metadata["content_kind"],
			ContentID:   result.Metadata["content_id"],
			ChunkIndex:  chunkIndex,
			Score:       result.Similarity,
			Text:        result.Content,
			Metadata:    metadata,
		})
	}
	return hits, nil
}

// Count returns the number of stored vectors.
func (s *ChromemStore) Count() int {
	return s.collection.Count()
}
