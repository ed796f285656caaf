package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"sourcemind/internal/domain"
)

// querier is the subset of pgx shared by pools and transactions.
type querier interface {
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

type ConversationRepository struct {
	db *pgxpool.Pool
}

func NewConversationRepository(db *pgxpool.Pool) domain.ConversationRepository {
	return &ConversationRepository{db: db}
}

// q returns the transaction from the context when one was injected,
// falling back to the pool.
func (r *ConversationRepository) q(ctx context.Context) querier {
	if tx := ExtractTx(ctx); tx != nil {
		return tx
	}
	return r.db
}

func (r *ConversationRepository) AppendMessage(ctx context.Context, conversationID, role, content string, citations []domain.Citation) error {
	convID, err := uuid.Parse(conversationID)
	if err != nil {
		return fmt.Errorf("invalid conversation id: %w", err)
	}

	now := time.Now()

	ensureQuery := `
		INSERT INTO conversations (id, title, title_generated, created_at)
		VALUES ($1, '', FALSE, $2)
		ON CONFLICT (id) DO NOTHING
	`
	if _, err := r.q(ctx).Exec(ctx, ensureQuery, convID, now); err != nil {
		return fmt.Errorf("failed to ensure conversation: %w", err)
	}

	citationsBytes, err := json.Marshal(citations)
	if err != nil {
		return fmt.Errorf("failed to marshal citations: %w", err)
	}

	insertQuery := `
		INSERT INTO conversation_messages (id, conversation_id, seq, role, content, citations, created_at)
		VALUES ($1, $2, (
			SELECT COALESCE(MAX(seq), 0) + 1 FROM conversation_messages WHERE conversation_id = $2
		), $3, $4, $5, $6)
	`
	_, err = r.q(ctx).Exec(ctx, insertQuery,
		uuid.New(),
		convID,
		role,
		content,
		citationsBytes,
		now,
	)
	if err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}
	return nil
}

func (r *ConversationRepository) GetMessages(ctx context.Context, conversationID string) ([]domain.Message, error) {
	convID, err := uuid.Parse(conversationID)
	if err != nil {
		return nil, fmt.Errorf("invalid conversation id: %w", err)
	}

	query := `
		SELECT role, content, citations, created_at
		FROM conversation_messages
		WHERE conversation_id = $1
		ORDER BY seq ASC
	`
	rows, err := r.q(ctx).Query(ctx, query, convID)
	if err != nil {
		return nil, fmt.Errorf("failed to query messages: %w", err)
	}
	defer rows.Close()

	var messages []domain.Message
	for rows.Next() {
		var msg domain.Message
		var citationsBytes []byte
		if err := rows.Scan(&msg.Role, &msg.Content, &citationsBytes, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		if len(citationsBytes) > 0 {
			if err := json.Unmarshal(citationsBytes, &msg.Citations); err != nil {
				return nil, fmt.Errorf("failed to unmarshal citations: %w", err)
			}
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return messages, nil
}

func (r *ConversationRepository) SetTitle(ctx context.Context, conversationID string, title string, generated bool) error {
	convID, err := uuid.Parse(conversationID)
	if err != nil {
		return fmt.Errorf("invalid conversation id: %w", err)
	}

	query := `
		UPDATE conversations
		SET title = $1, title_generated = $2
		WHERE id = $3
	`
	_, err = r.q(ctx).Exec(ctx, query, title, generated, convID)
	if err != nil {
		return fmt.Errorf("failed to set title: %w", err)
	}
	return nil
}

func (r *ConversationRepository) ListUntitled(ctx context.Context, limit int) ([]domain.Conversation, error) {
	query := `
		SELECT id, title, title_generated, created_at
		FROM conversations
		WHERE title_generated = FALSE
		ORDER BY created_at ASC
		LIMIT $1
	`
	rows, err := r.q(ctx).Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query untitled conversations: %w", err)
	}
	defer rows.Close()

	var conversations []domain.Conversation
	for rows.Next() {
		var conv domain.Conversation
		var id uuid.UUID
		if err := rows.Scan(&id, &conv.Title, &conv.TitleGenerated, &conv.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan conversation: %w", err)
		}
		conv.ID = id.String()
		conversations = append(conversations, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return conversations, nil
}
