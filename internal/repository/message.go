package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chatsync/internal/logger"
	"github.com/chatsync/internal/model"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type MessageRepository struct {
	pool *pgxpool.Pool
}

func NewMessageRepository(pool *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{pool: pool}
}

// Send appends the message, moves the conversation's last-message marker
// and clears the sender's typing flag, all in one transaction.
func (r *MessageRepository) Send(ctx context.Context, m *model.Message) error {
	defer logger.DeferLogDuration("msg.Send", time.Now())()
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("msgRepo.Send begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx,
		`INSERT INTO messages (id, conversation_id, sender_id, body, deleted, created_at)
		 VALUES ($1, $2, $3, $4, false, $5)`,
		m.ID, m.ConversationID, m.SenderID, m.Body, m.CreatedAt,
	); err != nil {
		return fmt.Errorf("msgRepo.Send insert: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE conversations SET last_message_id = $1, last_message_time = $2 WHERE id = $3`,
		m.ID, m.CreatedAt, m.ConversationID,
	); err != nil {
		return fmt.Errorf("msgRepo.Send last message: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE typing SET is_typing = false, updated_at = $1
		 WHERE conversation_id = $2 AND user_id = $3`,
		m.CreatedAt, m.ConversationID, m.SenderID,
	); err != nil {
		return fmt.Errorf("msgRepo.Send clear typing: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("msgRepo.Send commit: %w", err)
	}
	return nil
}

func (r *MessageRepository) GetByID(ctx context.Context, id string) (*model.Message, error) {
	defer logger.DeferLogDuration("msg.GetByID", time.Now())()
	m := &model.Message{}
	sender := &model.UserPublic{}
	err := r.pool.QueryRow(ctx,
		`SELECT m.id, m.conversation_id, m.sender_id, m.body, m.deleted, m.created_at,
		        u.id, u.name, u.email, u.avatar_url
		 FROM messages m
		 JOIN users u ON u.id = m.sender_id
		 WHERE m.id = $1`, id,
	).Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Body, &m.Deleted, &m.CreatedAt,
		&sender.ID, &sender.Name, &sender.Email, &sender.AvatarURL)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("msgRepo.GetByID: %w", err)
	}
	m.Sender = sender
	return m, nil
}

// ListByConversation returns all messages of a conversation in creation
// order with senders resolved. Deleted messages are included with an empty
// body so the client can render a tombstone.
func (r *MessageRepository) ListByConversation(ctx context.Context, conversationID string) ([]model.Message, error) {
	defer logger.DeferLogDuration("msg.ListByConversation", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT m.id, m.conversation_id, m.sender_id, m.body, m.deleted, m.created_at,
		        u.id, u.name, u.email, u.avatar_url
		 FROM messages m
		 JOIN users u ON u.id = m.sender_id
		 WHERE m.conversation_id = $1
		 ORDER BY m.created_at`, conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("msgRepo.ListByConversation query: %w", err)
	}
	defer rows.Close()

	messages := make([]model.Message, 0, 64)
	for rows.Next() {
		var m model.Message
		sender := &model.UserPublic{}
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.SenderID, &m.Body, &m.Deleted, &m.CreatedAt,
			&sender.ID, &sender.Name, &sender.Email, &sender.AvatarURL); err != nil {
			return nil, fmt.Errorf("msgRepo.ListByConversation scan: %w", err)
		}
		m.Sender = sender
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("msgRepo.ListByConversation rows: %w", err)
	}
	return messages, nil
}

// SoftDelete marks a message as deleted and clears its body. The
// conversation's last-message marker is intentionally left pointing at it.
func (r *MessageRepository) SoftDelete(ctx context.Context, id string) error {
	defer logger.DeferLogDuration("msg.SoftDelete", time.Now())()
	_, err := r.pool.Exec(ctx,
		`UPDATE messages SET deleted = true, body = '' WHERE id = $1`, id,
	)
	if err != nil {
		return fmt.Errorf("msgRepo.SoftDelete: %w", err)
	}
	return nil
}
