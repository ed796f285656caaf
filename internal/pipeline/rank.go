package pipeline

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"strings"

	"sourcemind/internal/domain"
)

const (
	// candidateWindow bounds how many scored chunks enter diversity filtering.
	// True duplicates cluster near the top, so this caps embedding cost
	// without materially affecting quality.
	candidateWindow = 20
	// embedTextChars limits how much of each chunk is embedded.
	embedTextChars = 1000
	// similarityThreshold is the cosine cutoff above which a candidate is
	// considered a near-duplicate of an already-selected chunk.
	similarityThreshold = 0.85
)

// rank scores, sorts and deduplicates the retrieved chunks into a bounded,
// diverse top-K. Scoring errors for a single chunk fall back to its combined
// score; an embedding failure degrades to no diversity filtering.
func (p *Pipeline) rank(ctx context.Context, st *State) {
	st.AppendTrace(StageReranking)

	if len(st.RetrievedChunks) == 0 {
		p.logger.WarnContext(ctx, "no chunks to rerank",
			slog.String("conversation_id", st.ConversationID))
		st.RerankedChunks = []domain.Chunk{}
		return
	}

	query := st.effectiveQuery()

	scored := make([]domain.Chunk, len(st.RetrievedChunks))
	copy(scored, st.RetrievedChunks)
	for i := range scored {
		score := rerankScore(query, scored[i])
		scored[i].RerankScore = &score
	}

	// Stable sort keeps fetch order among equal scores, which makes the whole
	// stage deterministic for identical inputs.
	sort.SliceStable(scored, func(i, j int) bool {
		return *scored[i].RerankScore > *scored[j].RerankScore
	})

	candidates := scored
	if len(candidates) > candidateWindow {
		candidates = candidates[:candidateWindow]
	}

	embeddings := p.embedCandidates(ctx, st, candidates)

	topK := st.SearchParams.TopK
	if topK < 1 {
		topK = DefaultSearchParams().TopK
	}

	selected := make([]domain.Chunk, 0, topK)
	selectedEmbeddings := make([][]float32, 0, topK)
	for i, chunk := range candidates {
		if len(selected) >= topK {
			break
		}
		if embeddings != nil && isNearDuplicate(embeddings[i], selectedEmbeddings) {
			continue
		}
		selected = append(selected, chunk)
		if embeddings != nil {
			selectedEmbeddings = append(selectedEmbeddings, embeddings[i])
		}
	}

	st.RerankedChunks = selected

	p.logger.InfoContext(ctx, "reranking completed",
		slog.String("conversation_id", st.ConversationID),
		slog.Int("retrieved", len(st.RetrievedChunks)),
		slog.Int("selected", len(selected)))
}

// rerankScore applies the weighted relevance heuristic. Document chunks blend
// the store's combined score with keyword overlap and an exact-phrase boost;
// web chunks take a flat trust discount.
func rerankScore(query string, chunk domain.Chunk) float64 {
	if chunk.SourceType != domain.SourceTypeDocument {
		return chunk.CombinedScore * 0.9
	}

	queryLower := strings.ToLower(query)
	textLower := strings.ToLower(chunk.Text)

	queryWords := fieldsSet(queryLower)
	chunkWords := fieldsSet(textLower)

	overlap := 0
	for w := range queryWords {
		if _, ok := chunkWords[w]; ok {
			overlap++
		}
	}
	denom := len(queryWords)
	if denom < 1 {
		denom = 1
	}
	keywordOverlap := float64(overlap) / float64(denom)

	phraseBoost := 0.0
	if queryLower != "" && strings.Contains(textLower, queryLower) {
		phraseBoost = 0.2
	}

	return 0.5*chunk.CombinedScore + 0.3*keywordOverlap + 0.2*phraseBoost
}

func fieldsSet(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, w := range strings.Fields(s) {
		set[w] = struct{}{}
	}
	return set
}

// embedCandidates batches one embedding call over the candidates. A count
// mismatch or call failure returns nil, which disables diversity filtering for
// this run rather than risking misaligned pairing.
func (p *Pipeline) embedCandidates(ctx context.Context, st *State, candidates []domain.Chunk) [][]float32 {
	if p.encoder == nil || len(candidates) == 0 {
		return nil
	}

	texts := make([]string, len(candidates))
	for i, c := range candidates {
		text := c.Text
		if len(text) > embedTextChars {
			text = text[:embedTextChars]
		}
		texts[i] = text
	}

	embedCtx, cancel := context.WithTimeout(ctx, p.cfg.EmbedTimeout)
	defer cancel()

	embeddings, err := p.encoder.Encode(embedCtx, texts)
	if err != nil {
		p.logger.ErrorContext(ctx, "candidate embedding failed, skipping diversity filtering",
			slog.String("conversation_id", st.ConversationID),
			slog.String("error", err.Error()))
		return nil
	}
	if len(embeddings) != len(candidates) {
		p.logger.ErrorContext(ctx, "embedding count mismatch, skipping diversity filtering",
			slog.String("conversation_id", st.ConversationID),
			slog.Int("expected", len(candidates)),
			slog.Int("got", len(embeddings)))
		return nil
	}
	return embeddings
}

// isNearDuplicate reports whether the candidate embedding exceeds the
// similarity threshold against any already-selected embedding.
func isNearDuplicate(candidate []float32, selected [][]float32) bool {
	for _, emb := range selected {
		if cosineSimilarity(candidate, emb) > similarityThreshold {
			return true
		}
	}
	return false
}

// cosineSimilarity computes the cosine of the angle between two vectors.
// Zero-norm or mismatched vectors yield 0.
func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
