package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/chatsync/internal/logger"
	"github.com/chatsync/internal/model"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

type TypingRepository struct {
	pool *pgxpool.Pool
}

func NewTypingRepository(pool *pgxpool.Pool) *TypingRepository {
	return &TypingRepository{pool: pool}
}

// Set upserts the typing flag for (conversation, user). Last write wins:
// updated_at always overwrites, so an out-of-order stale "false" arriving
// after a newer "true" simply loses on the next write.
func (r *TypingRepository) Set(ctx context.Context, conversationID, userID string, isTyping bool, t time.Time) error {
	defer logger.DeferLogDuration("typing.Set", time.Now())()
	_, err := r.pool.Exec(ctx,
		`INSERT INTO typing (id, conversation_id, user_id, is_typing, updated_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (conversation_id, user_id)
		 DO UPDATE SET is_typing = EXCLUDED.is_typing, updated_at = EXCLUDED.updated_at`,
		uuid.New().String(), conversationID, userID, isTyping, t,
	)
	if err != nil {
		return fmt.Errorf("typingRepo.Set: %w", err)
	}
	return nil
}

// GetByConversation returns all typing rows of a conversation, stale ones
// included; staleness is the reader's concern.
func (r *TypingRepository) GetByConversation(ctx context.Context, conversationID string) ([]model.TypingState, error) {
	defer logger.DeferLogDuration("typing.GetByConversation", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT id, conversation_id, user_id, is_typing, updated_at
		 FROM typing WHERE conversation_id = $1`, conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("typingRepo.GetByConversation query: %w", err)
	}
	defer rows.Close()

	states := make([]model.TypingState, 0, 4)
	for rows.Next() {
		var t model.TypingState
		if err := rows.Scan(&t.ID, &t.ConversationID, &t.UserID, &t.IsTyping, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("typingRepo.GetByConversation scan: %w", err)
		}
		states = append(states, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("typingRepo.GetByConversation rows: %w", err)
	}
	return states, nil
}

// GetAll returns every typing row. Used by the global active-typers view.
func (r *TypingRepository) GetAll(ctx context.Context) ([]model.TypingState, error) {
	defer logger.DeferLogDuration("typing.GetAll", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT id, conversation_id, user_id, is_typing, updated_at FROM typing`,
	)
	if err != nil {
		return nil, fmt.Errorf("typingRepo.GetAll query: %w", err)
	}
	defer rows.Close()

	states := make([]model.TypingState, 0, 16)
	for rows.Next() {
		var t model.TypingState
		if err := rows.Scan(&t.ID, &t.ConversationID, &t.UserID, &t.IsTyping, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("typingRepo.GetAll scan: %w", err)
		}
		states = append(states, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("typingRepo.GetAll rows: %w", err)
	}
	return states, nil
}
