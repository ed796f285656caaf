package pipeline

import (
	"sync"

	"sourcemind/internal/domain"
)

// Query categories produced by the analysis stage.
const (
	QueryTypeFactual     = "factual"
	QueryTypeAnalytical  = "analytical"
	QueryTypeComparative = "comparative"
)

// Retrieval strategies. StrategyWeb doubles as the "skip document retrieval"
// signal for purely conversational queries.
const (
	StrategyDocuments = "documents"
	StrategyWeb       = "web"
	StrategyHybrid    = "hybrid"
)

// Stage names recorded in the execution trace, in pipeline order.
const (
	StageOrchestrator  = "orchestrator"
	StageQueryAnalysis = "query_analysis"
	StageRetrieval     = "retrieval"
	StageReranking     = "reranking"
	StageGeneration    = "generation"
	StageCitation      = "citation"
)

// SearchParams tunes document retrieval for one query.
type SearchParams struct {
	TopK  int     `json:"top_k"`
	Alpha float64 `json:"alpha"`
}

// DefaultSearchParams are used when analysis fails or returns out-of-range values.
func DefaultSearchParams() SearchParams {
	return SearchParams{TopK: 5, Alpha: 0.7}
}

// State is the mutable request context threaded through all pipeline stages.
// Each run owns exactly one State; stages read fields written by their
// predecessors and write their own. The trace is append-only and guarded so
// that re-entrant sub-invocations never clobber earlier entries.
type State struct {
	Query          string
	ConversationID string

	QueryType      string
	Strategy       string
	OptimizedQuery string
	SearchParams   SearchParams

	RetrievedChunks []domain.Chunk
	RerankedChunks  []domain.Chunk

	Answer    string
	Reasoning string
	Citations []domain.Citation

	UsedWebSearch bool

	// ChatHistory is read-only input sourced from the conversation store.
	ChatHistory []domain.Message

	traceMu sync.Mutex
	trace   []string
}

// NewState creates a fully-defaulted state for one query run.
func NewState(query, conversationID string) *State {
	return &State{
		Query:           query,
		ConversationID:  conversationID,
		RetrievedChunks: []domain.Chunk{},
		RerankedChunks:  []domain.Chunk{},
		Citations:       []domain.Citation{},
	}
}

// AppendTrace records a stage execution. List-concatenation semantics: entries
// are only ever added, never replaced.
func (s *State) AppendTrace(stage string) {
	s.traceMu.Lock()
	defer s.traceMu.Unlock()
	s.trace = append(s.trace, stage)
}

// Trace returns a copy of the execution trace in append order.
func (s *State) Trace() []string {
	s.traceMu.Lock()
	defer s.traceMu.Unlock()
	out := make([]string, len(s.trace))
	copy(out, s.trace)
	return out
}

// effectiveQuery is the query used for retrieval and scoring: the optimized
// rewrite when analysis produced one, the raw query otherwise.
func (s *State) effectiveQuery() string {
	if s.OptimizedQuery != "" {
		return s.OptimizedQuery
	}
	return s.Query
}
