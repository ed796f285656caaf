package domain

import (
	"context"
	"time"
)

// DocumentSearcher is the hybrid-search surface of the document vector store.
// Implementations combine vector similarity with keyword relevance, weighted
// by alpha (1.0 = pure vector, 0.0 = pure keyword).
type DocumentSearcher interface {
	// Search returns up to topK chunks ordered by combined score descending.
	Search(ctx context.Context, query string, topK int, alpha float64) ([]Chunk, error)

	// Delete removes chunks matching the source-name filter.
	Delete(ctx context.Context, sourceName string) error
}

// StoredChunk is one pre-embedded row to load into the document index.
// Ingestion itself (parsing, chunking, embedding source files) happens in an
// external ingester; this service only accepts the finished rows.
type StoredChunk struct {
	ID         string
	SourceName string
	PageNumber *int
	Content    string
	Embedding  []float32
	CreatedAt  time.Time
}

// DocumentIndexer is the write surface of the document vector store.
type DocumentIndexer interface {
	UpsertChunks(ctx context.Context, chunks []StoredChunk) error
}

// WebResult is a single hit from the web-search provider.
type WebResult struct {
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
	URL     string `json:"url"`
}

// WebSearcher defines the interface for open-web search.
type WebSearcher interface {
	Search(ctx context.Context, query string, maxResults int) ([]WebResult, error)
}
