package domain

import (
	"context"
	"time"
)

// Message is a single turn in a conversation thread.
type Message struct {
	Role      string     `json:"role"` // "user" or "assistant"
	Content   string     `json:"content"`
	Citations []Citation `json:"citations,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// Conversation carries thread-level metadata.
type Conversation struct {
	ID             string
	Title          string
	TitleGenerated bool
	CreatedAt      time.Time
}

// ConversationRepository persists the append-only conversation log, keyed by
// conversation id. Concurrent appends against the same conversation id are not
// serialized here; callers that need strict turn ordering must serialize
// themselves.
type ConversationRepository interface {
	// AppendMessage records one turn. The conversation row is created on first
	// append.
	AppendMessage(ctx context.Context, conversationID, role, content string, citations []Citation) error

	// GetMessages returns all turns in insertion order.
	GetMessages(ctx context.Context, conversationID string) ([]Message, error)

	// SetTitle updates the conversation title. generated marks whether the
	// title came from the model rather than a truncated query.
	SetTitle(ctx context.Context, conversationID, title string, generated bool) error

	// ListUntitled returns conversations still carrying a placeholder title.
	ListUntitled(ctx context.Context, limit int) ([]Conversation, error)
}

// TransactionManager defines the interface for handling database transactions.
type TransactionManager interface {
	// RunInTx executes the given function within a transaction.
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}
