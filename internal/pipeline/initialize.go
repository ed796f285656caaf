package pipeline

import (
	"context"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"sourcemind/internal/domain"
)

// initialize validates the input and guarantees defaults for every context
// field. Returns false when the query is empty, in which case the answer
// carries the terminal error message and no later stage runs.
func (p *Pipeline) initialize(ctx context.Context, st *State) bool {
	p.logger.InfoContext(ctx, "starting pipeline run",
		slog.String("conversation_id", st.ConversationID),
		slog.String("query", truncate(st.Query, 50)))

	if st.ConversationID == "" {
		st.ConversationID = uuid.NewString()
		p.logger.InfoContext(ctx, "created conversation id",
			slog.String("conversation_id", st.ConversationID))
	}

	st.AppendTrace(StageOrchestrator)

	// Re-guarantee collection defaults for states not built via NewState.
	if st.RetrievedChunks == nil {
		st.RetrievedChunks = []domain.Chunk{}
	}
	if st.RerankedChunks == nil {
		st.RerankedChunks = []domain.Chunk{}
	}
	if st.Citations == nil {
		st.Citations = []domain.Citation{}
	}

	if strings.TrimSpace(st.Query) == "" {
		p.logger.ErrorContext(ctx, "empty query received",
			slog.String("conversation_id", st.ConversationID))
		st.Answer = "Error: Empty query provided"
		return false
	}

	return true
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
