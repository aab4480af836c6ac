package v1

// SearchRequest queries the semantic-search corpus
type SearchRequest struct {
	Query        string `json:"query" binding:"required"`
	ContentKind  string `json:"content_kind,omitempty"` // code, doc, ticket; empty for all
	RepositoryID string `json:"repository_id,omitempty"`
	Limit        int    `json:"limit,omitempty"` // Defaults to 10
}

// SearchResult is one scored hit from the vector store
type SearchResult struct {
	ContentKind string            `json:"content_kind"`
	ContentID   string            `json:"content_id"`
	ChunkIndex  int               `json:"chunk_index"`
	Score       float32           `json:"score"`
	Text        string            `json:"text"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}
