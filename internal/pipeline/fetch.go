package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"sourcemind/internal/domain"
)

const (
	// minDocumentChunks is the backstop threshold: fewer document hits than
	// this triggers a web search regardless of the declared strategy, so that
	// thin document evidence never silently starves the answer of context.
	minDocumentChunks = 3
	webMaxResults     = 5
	// webDefaultScore stands in for a learned relevance score on web hits.
	webDefaultScore = 0.5
)

// fetch fans out to the document store and the web-search provider according
// to the strategy, then merges results deterministically: documents first, web
// appended. Each source is isolated; a failing source contributes zero results
// and never aborts the other source or the pipeline.
func (p *Pipeline) fetch(ctx context.Context, st *State) {
	st.AppendTrace(StageRetrieval)

	query := st.effectiveQuery()
	wantDocs := st.Strategy == StrategyDocuments || st.Strategy == StrategyHybrid
	wantWeb := st.Strategy == StrategyWeb || st.Strategy == StrategyHybrid

	var docChunks, webChunks []domain.Chunk

	g, gctx := errgroup.WithContext(ctx)
	if wantDocs {
		g.Go(func() error {
			docChunks = p.fetchDocuments(gctx, st, query)
			return nil
		})
	}
	if wantWeb {
		g.Go(func() error {
			webChunks = p.fetchWeb(gctx, st, query)
			return nil
		})
	}
	_ = g.Wait() // source errors are absorbed inside each fetch

	// Backstop: insufficient document evidence pulls in web results even when
	// the strategy did not ask for them.
	if !wantWeb && len(docChunks) < minDocumentChunks {
		webChunks = p.fetchWeb(ctx, st, query)
	}

	merged := make([]domain.Chunk, 0, len(docChunks)+len(webChunks))
	merged = append(merged, docChunks...)
	merged = append(merged, webChunks...)
	st.RetrievedChunks = merged

	p.logger.InfoContext(ctx, "retrieval completed",
		slog.String("conversation_id", st.ConversationID),
		slog.String("strategy", st.Strategy),
		slog.Int("document_chunks", len(docChunks)),
		slog.Int("web_chunks", len(webChunks)),
		slog.Bool("used_web_search", st.UsedWebSearch))
}

// fetchDocuments queries the vector store with twice the requested top_k so the
// reranking stage has headroom to deduplicate. Failures degrade to no results.
func (p *Pipeline) fetchDocuments(ctx context.Context, st *State, query string) []domain.Chunk {
	if p.docSearch == nil {
		return nil
	}

	searchCtx, cancel := context.WithTimeout(ctx, p.cfg.SearchTimeout)
	defer cancel()

	chunks, err := p.docSearch.Search(searchCtx, query, st.SearchParams.TopK*2, st.SearchParams.Alpha)
	if err != nil {
		p.logger.ErrorContext(ctx, "document search failed",
			slog.String("conversation_id", st.ConversationID),
			slog.String("error", err.Error()))
		return nil
	}

	for i := range chunks {
		chunks[i].SourceType = domain.SourceTypeDocument
	}
	return chunks
}

// fetchWeb queries the web-search provider and normalizes hits into chunks
// with a fixed default score. Failures degrade to no results.
func (p *Pipeline) fetchWeb(ctx context.Context, st *State, query string) []domain.Chunk {
	if p.webSearch == nil {
		return nil
	}

	st.UsedWebSearch = true

	searchCtx, cancel := context.WithTimeout(ctx, p.cfg.SearchTimeout)
	defer cancel()

	results, err := p.webSearch.Search(searchCtx, query, webMaxResults)
	if err != nil {
		p.logger.ErrorContext(ctx, "web search failed",
			slog.String("conversation_id", st.ConversationID),
			slog.String("error", err.Error()))
		return nil
	}

	chunks := make([]domain.Chunk, 0, len(results))
	for i, res := range results {
		chunks = append(chunks, domain.Chunk{
			ID:            fmt.Sprintf("web_%d", i),
			Text:          res.Snippet,
			SourceName:    res.Title,
			SourceType:    domain.SourceTypeWeb,
			URL:           res.URL,
			CombinedScore: webDefaultScore,
		})
	}
	return chunks
}
