package pipeline

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
)

const (
	historyTurnLimit    = 50
	historyContentChars = 500
	classifyMaxTokens   = 300
)

// classifyFormat constrains the analysis call to a fixed-shape JSON object.
var classifyFormat = map[string]interface{}{
	"type": "object",
	"properties": map[string]interface{}{
		"query_type": map[string]interface{}{
			"type": "string",
			"enum": []string{QueryTypeFactual, QueryTypeAnalytical, QueryTypeComparative},
		},
		"search_strategy": map[string]interface{}{
			"type": "string",
			"enum": []string{StrategyDocuments, StrategyWeb, StrategyHybrid},
		},
		"optimized_query": map[string]interface{}{"type": "string"},
		"search_params": map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"top_k": map[string]interface{}{"type": "integer"},
				"alpha": map[string]interface{}{"type": "number"},
			},
			"required": []string{"top_k", "alpha"},
		},
	},
	"required": []string{"query_type", "search_strategy", "optimized_query", "search_params"},
}

type classifyResult struct {
	QueryType      string        `json:"query_type"`
	SearchStrategy string        `json:"search_strategy"`
	OptimizedQuery string        `json:"optimized_query"`
	SearchParams   *SearchParams `json:"search_params"`
}

// classify determines the query category, retrieval strategy, optimized query
// and search parameters via one structured LLM call. Any failure falls back to
// safe defaults; the error never reaches the pipeline caller.
func (p *Pipeline) classify(ctx context.Context, st *State) {
	st.AppendTrace(StageQueryAnalysis)

	applyDefaults := func() {
		st.QueryType = QueryTypeFactual
		st.Strategy = StrategyDocuments
		st.OptimizedQuery = st.Query
		st.SearchParams = DefaultSearchParams()
	}

	prompt := buildAnalysisPrompt(st.Query, st.ChatHistory)

	callCtx, cancel := context.WithTimeout(ctx, p.cfg.GenerateTimeout)
	defer cancel()

	resp, err := p.llm.GenerateStructured(callCtx, prompt, classifyFormat, classifyMaxTokens)
	if err != nil {
		p.logger.WarnContext(ctx, "query analysis failed, using defaults",
			slog.String("conversation_id", st.ConversationID),
			slog.String("error", err.Error()))
		applyDefaults()
		return
	}

	var parsed classifyResult
	if err := json.Unmarshal([]byte(strings.TrimSpace(resp.Text)), &parsed); err != nil {
		p.logger.WarnContext(ctx, "query analysis returned unparseable payload, using defaults",
			slog.String("conversation_id", st.ConversationID),
			slog.String("error", err.Error()))
		applyDefaults()
		return
	}

	st.QueryType = normalizeQueryType(parsed.QueryType)
	st.Strategy = normalizeStrategy(parsed.SearchStrategy)
	st.OptimizedQuery = strings.TrimSpace(parsed.OptimizedQuery)
	if st.OptimizedQuery == "" {
		st.OptimizedQuery = st.Query
	}
	st.SearchParams = clampSearchParams(parsed.SearchParams)

	p.logger.InfoContext(ctx, "query analysis completed",
		slog.String("conversation_id", st.ConversationID),
		slog.String("query_type", st.QueryType),
		slog.String("strategy", st.Strategy),
		slog.String("optimized_query", st.OptimizedQuery),
		slog.Int("top_k", st.SearchParams.TopK),
		slog.Float64("alpha", st.SearchParams.Alpha))
}

func normalizeQueryType(v string) string {
	switch v {
	case QueryTypeFactual, QueryTypeAnalytical, QueryTypeComparative:
		return v
	}
	return QueryTypeFactual
}

func normalizeStrategy(v string) string {
	switch v {
	case StrategyDocuments, StrategyWeb, StrategyHybrid:
		return v
	}
	return StrategyDocuments
}

// clampSearchParams forces parameters into their valid ranges, substituting
// defaults for anything missing or out of bounds.
func clampSearchParams(params *SearchParams) SearchParams {
	out := DefaultSearchParams()
	if params == nil {
		return out
	}
	if params.TopK >= 1 {
		out.TopK = params.TopK
	}
	if params.Alpha >= 0 && params.Alpha <= 1 {
		out.Alpha = params.Alpha
	}
	return out
}
