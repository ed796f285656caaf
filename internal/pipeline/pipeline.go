package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"sourcemind/internal/domain"
)

// Config bounds the remote calls issued by the pipeline.
type Config struct {
	SearchTimeout   time.Duration
	EmbedTimeout    time.Duration
	GenerateTimeout time.Duration
}

// DefaultConfig returns the timeouts used when none are configured.
func DefaultConfig() Config {
	return Config{
		SearchTimeout:   30 * time.Second,
		EmbedTimeout:    30 * time.Second,
		GenerateTimeout: 120 * time.Second,
	}
}

// Pipeline resolves natural-language queries against the document store and
// the open web, producing a grounded, cited answer. One Resolve or Stream call
// runs the full stage chain over a fresh State.
type Pipeline struct {
	docSearch     domain.DocumentSearcher
	webSearch     domain.WebSearcher
	encoder       domain.VectorEncoder
	llm           domain.LLMClient
	conversations domain.ConversationRepository
	txManager     domain.TransactionManager
	cfg           Config
	logger        *slog.Logger
}

// New wires together the collaborators needed to resolve queries.
func New(
	docSearch domain.DocumentSearcher,
	webSearch domain.WebSearcher,
	encoder domain.VectorEncoder,
	llm domain.LLMClient,
	conversations domain.ConversationRepository,
	txManager domain.TransactionManager,
	cfg Config,
	logger *slog.Logger,
) *Pipeline {
	if cfg.SearchTimeout <= 0 {
		cfg.SearchTimeout = DefaultConfig().SearchTimeout
	}
	if cfg.EmbedTimeout <= 0 {
		cfg.EmbedTimeout = DefaultConfig().EmbedTimeout
	}
	if cfg.GenerateTimeout <= 0 {
		cfg.GenerateTimeout = DefaultConfig().GenerateTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		docSearch:     docSearch,
		webSearch:     webSearch,
		encoder:       encoder,
		llm:           llm,
		conversations: conversations,
		txManager:     txManager,
		cfg:           cfg,
		logger:        logger,
	}
}

// Result is the normalized pipeline output returned to API clients.
type Result struct {
	Answer         string
	Citations      []domain.Citation
	ConversationID string
	UsedWebSearch  bool
	QueryType      string
	Trace          []string
}

// Resolve runs the full stage chain for one query and persists the resulting
// turn. Collaborator failures degrade per stage; only an empty query halts the
// pipeline.
func (p *Pipeline) Resolve(ctx context.Context, query, conversationID string) (*Result, error) {
	st := p.newRun(ctx, query, conversationID)

	if ok := p.initialize(ctx, st); !ok {
		return p.result(st), nil
	}

	p.classify(ctx, st)
	p.fetch(ctx, st)
	p.rank(ctx, st)
	p.generate(ctx, st)
	p.cite(ctx, st)

	p.persistTurn(ctx, st, conversationID == "")

	return p.result(st), nil
}

// newRun creates the state for one query, minting a conversation id when the
// caller did not supply one and loading prior turns when it did.
func (p *Pipeline) newRun(ctx context.Context, query, conversationID string) *State {
	threadID := conversationID
	if threadID == "" {
		threadID = uuid.NewString()
	}
	st := NewState(query, threadID)

	if conversationID != "" && p.conversations != nil {
		history, err := p.conversations.GetMessages(ctx, conversationID)
		if err != nil {
			p.logger.Warn("failed to load conversation history",
				slog.String("conversation_id", conversationID),
				slog.String("error", err.Error()))
		} else {
			st.ChatHistory = history
		}
	}
	return st
}

func (p *Pipeline) result(st *State) *Result {
	return &Result{
		Answer:         st.Answer,
		Citations:      st.Citations,
		ConversationID: st.ConversationID,
		UsedWebSearch:  st.UsedWebSearch,
		QueryType:      st.QueryType,
		Trace:          st.Trace(),
	}
}

// persistTurn records the user query and assistant answer as one atomic unit.
// Persistence failures never affect the returned answer.
func (p *Pipeline) persistTurn(ctx context.Context, st *State, newConversation bool) {
	if p.conversations == nil {
		return
	}

	save := func(ctx context.Context) error {
		if err := p.conversations.AppendMessage(ctx, st.ConversationID, "user", st.Query, nil); err != nil {
			return fmt.Errorf("failed to save user message: %w", err)
		}
		if err := p.conversations.AppendMessage(ctx, st.ConversationID, "assistant", st.Answer, st.Citations); err != nil {
			return fmt.Errorf("failed to save assistant message: %w", err)
		}
		return nil
	}

	var err error
	if p.txManager != nil {
		err = p.txManager.RunInTx(ctx, save)
	} else {
		err = save(ctx)
	}
	if err != nil {
		p.logger.Error("failed to persist conversation turn",
			slog.String("conversation_id", st.ConversationID),
			slog.String("error", err.Error()))
		return
	}

	if newConversation {
		if err := p.conversations.SetTitle(ctx, st.ConversationID, placeholderTitle(st.Query), false); err != nil {
			p.logger.Warn("failed to save conversation title",
				slog.String("conversation_id", st.ConversationID),
				slog.String("error", err.Error()))
		}
	}
}

// placeholderTitle derives a provisional title from the query. A background
// worker later replaces it with a model-generated one.
func placeholderTitle(query string) string {
	title := strings.TrimSpace(query)
	if len(title) > 30 {
		title = title[:30] + "..."
	}
	return title
}
