package vectorstore

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"sourcemind/internal/domain"
)

// PgvectorStore implements hybrid document search over a pgvector-backed
// chunk table. The combined score blends vector similarity with full-text
// keyword relevance, weighted by alpha.
type PgvectorStore struct {
	pool    *pgxpool.Pool
	encoder domain.VectorEncoder
}

// NewPgvectorStore creates a hybrid searcher backed by the given pool.
func NewPgvectorStore(pool *pgxpool.Pool, encoder domain.VectorEncoder) *PgvectorStore {
	return &PgvectorStore{pool: pool, encoder: encoder}
}

// Search embeds the query and runs one hybrid query: vector score from cosine
// distance, keyword score from ts_rank, combined per-row as
// alpha*vector + (1-alpha)*keyword.
func (s *PgvectorStore) Search(ctx context.Context, query string, topK int, alpha float64) ([]domain.Chunk, error) {
	if topK < 1 {
		topK = 1
	}
	if alpha < 0 {
		alpha = 0
	}
	if alpha > 1 {
		alpha = 1
	}

	embeddings, err := s.encoder.Encode(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("failed to encode query: %w", err)
	}
	if len(embeddings) != 1 {
		return nil, fmt.Errorf("expected 1 query embedding, got %d", len(embeddings))
	}

	sql := `
		SELECT
			id,
			source_name,
			page_number,
			content,
			1 - (embedding <=> $1) AS vector_score,
			ts_rank(tsv, plainto_tsquery('english', $2)) AS keyword_score
		FROM doc_chunks
		ORDER BY $3::float8 * (1 - (embedding <=> $1))
			+ (1 - $3::float8) * ts_rank(tsv, plainto_tsquery('english', $2)) DESC
		LIMIT $4
	`
	rows, err := s.pool.Query(ctx, sql, pgvector.NewVector(embeddings[0]), query, alpha, topK)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	defer rows.Close()

	var chunks []domain.Chunk
	for rows.Next() {
		var c domain.Chunk
		var vectorScore, keywordScore float64
		if err := rows.Scan(&c.ID, &c.SourceName, &c.PageNumber, &c.Text, &vectorScore, &keywordScore); err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		c.SourceType = domain.SourceTypeDocument
		c.VectorScore = vectorScore
		c.KeywordScore = keywordScore
		c.CombinedScore = alpha*vectorScore + (1-alpha)*keywordScore
		chunks = append(chunks, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return chunks, nil
}

// Delete removes every chunk belonging to the named source.
func (s *PgvectorStore) Delete(ctx context.Context, sourceName string) error {
	if sourceName == "" {
		return fmt.Errorf("source name filter is required")
	}
	_, err := s.pool.Exec(ctx, `DELETE FROM doc_chunks WHERE source_name = $1`, sourceName)
	if err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}
	return nil
}

// UpsertChunks bulk-loads pre-embedded chunks via COPY.
func (s *PgvectorStore) UpsertChunks(ctx context.Context, chunks []domain.StoredChunk) error {
	if len(chunks) == 0 {
		return nil
	}

	rows := make([][]interface{}, len(chunks))
	for i, chunk := range chunks {
		createdAt := chunk.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now()
		}
		rows[i] = []interface{}{
			chunk.ID,
			chunk.SourceName,
			chunk.PageNumber,
			chunk.Content,
			pgvector.NewVector(chunk.Embedding),
			createdAt,
		}
	}

	_, err := s.pool.CopyFrom(
		ctx,
		pgx.Identifier{"doc_chunks"},
		[]string{"id", "source_name", "page_number", "content", "embedding", "created_at"},
		pgx.CopyFromRows(rows),
	)
	if err != nil {
		return fmt.Errorf("failed to bulk insert chunks: %w", err)
	}
	return nil
}

var _ domain.DocumentSearcher = (*PgvectorStore)(nil)
var _ domain.DocumentIndexer = (*PgvectorStore)(nil)
