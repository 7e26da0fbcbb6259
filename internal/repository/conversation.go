package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/chatsync/internal/logger"
	"github.com/chatsync/internal/model"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const conversationCols = `id, is_group, COALESCE(group_name,''), group_image_url, last_message_id, last_message_time, created_at`

// DirectKey builds the canonical unordered pair key for a direct
// conversation. Both orders of the same two users map to the same key, so
// the UNIQUE constraint on conversations.direct_key guarantees at most one
// direct conversation per pair even under concurrent creation.
func DirectKey(userA, userB string) string {
	if userB < userA {
		userA, userB = userB, userA
	}
	return userA + ":" + userB
}

type ConversationRepository struct {
	pool *pgxpool.Pool
}

func NewConversationRepository(pool *pgxpool.Pool) *ConversationRepository {
	return &ConversationRepository{pool: pool}
}

func scanConversation(s interface{ Scan(dest ...any) error }, c *model.Conversation) error {
	return s.Scan(&c.ID, &c.IsGroup, &c.GroupName, &c.GroupImageURL, &c.LastMessageID, &c.LastMessageTime, &c.CreatedAt)
}

// GetOrCreateDirect returns the direct conversation between the two users,
// creating it together with both memberships in one transaction if it does
// not exist yet. The second return value reports whether it was created.
func (r *ConversationRepository) GetOrCreateDirect(ctx context.Context, userA, userB string) (*model.Conversation, bool, error) {
	defer logger.DeferLogDuration("conv.GetOrCreateDirect", time.Now())()
	key := DirectKey(userA, userB)

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("convRepo.GetOrCreateDirect begin: %w", err)
	}
	defer tx.Rollback(ctx)

	c := &model.Conversation{ID: uuid.New().String(), CreatedAt: time.Now().UTC()}
	err = tx.QueryRow(ctx,
		`INSERT INTO conversations (id, is_group, direct_key, created_at)
		 VALUES ($1, false, $2, $3)
		 ON CONFLICT (direct_key) DO NOTHING
		 RETURNING id`,
		c.ID, key, c.CreatedAt,
	).Scan(&c.ID)
	if errors.Is(err, pgx.ErrNoRows) {
		// Lost the race or the conversation already existed; the committed
		// row is visible now.
		existing := &model.Conversation{}
		row := tx.QueryRow(ctx, `SELECT `+conversationCols+` FROM conversations WHERE direct_key = $1`, key)
		if err := scanConversation(row, existing); err != nil {
			return nil, false, fmt.Errorf("convRepo.GetOrCreateDirect reselect: %w", err)
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, false, fmt.Errorf("convRepo.GetOrCreateDirect commit: %w", err)
		}
		return existing, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("convRepo.GetOrCreateDirect insert: %w", err)
	}

	for _, uid := range []string{userA, userB} {
		if _, err := tx.Exec(ctx,
			`INSERT INTO memberships (id, conversation_id, user_id) VALUES ($1, $2, $3)
			 ON CONFLICT DO NOTHING`,
			uuid.New().String(), c.ID, uid,
		); err != nil {
			return nil, false, fmt.Errorf("convRepo.GetOrCreateDirect member: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, false, fmt.Errorf("convRepo.GetOrCreateDirect commit: %w", err)
	}
	return c, true, nil
}

// CreateGroup creates a group conversation with one membership per distinct
// member, all in one transaction. memberIDs must already include the creator.
func (r *ConversationRepository) CreateGroup(ctx context.Context, name, imageURL string, memberIDs []string) (*model.Conversation, error) {
	defer logger.DeferLogDuration("conv.CreateGroup", time.Now())()
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("convRepo.CreateGroup begin: %w", err)
	}
	defer tx.Rollback(ctx)

	c := &model.Conversation{
		ID:            uuid.New().String(),
		IsGroup:       true,
		GroupName:     name,
		GroupImageURL: imageURL,
		CreatedAt:     time.Now().UTC(),
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO conversations (id, is_group, group_name, group_image_url, created_at)
		 VALUES ($1, true, $2, $3, $4)`,
		c.ID, c.GroupName, c.GroupImageURL, c.CreatedAt,
	); err != nil {
		return nil, fmt.Errorf("convRepo.CreateGroup insert: %w", err)
	}

	seen := make(map[string]struct{}, len(memberIDs))
	for _, uid := range memberIDs {
		if _, ok := seen[uid]; ok {
			continue
		}
		seen[uid] = struct{}{}
		if _, err := tx.Exec(ctx,
			`INSERT INTO memberships (id, conversation_id, user_id) VALUES ($1, $2, $3)`,
			uuid.New().String(), c.ID, uid,
		); err != nil {
			return nil, fmt.Errorf("convRepo.CreateGroup member: %w", err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("convRepo.CreateGroup commit: %w", err)
	}
	return c, nil
}

func (r *ConversationRepository) GetByID(ctx context.Context, id string) (*model.Conversation, error) {
	defer logger.DeferLogDuration("conv.GetByID", time.Now())()
	c := &model.Conversation{}
	row := r.pool.QueryRow(ctx, `SELECT `+conversationCols+` FROM conversations WHERE id = $1`, id)
	if err := scanConversation(row, c); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("convRepo.GetByID: %w", err)
	}
	return c, nil
}

// ListForUser returns the caller's conversations ordered by latest activity:
// last message time, falling back to the conversation's creation time.
func (r *ConversationRepository) ListForUser(ctx context.Context, userID string) ([]model.Conversation, error) {
	defer logger.DeferLogDuration("conv.ListForUser", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT `+conversationCols+`
		 FROM conversations c
		 JOIN memberships m ON m.conversation_id = c.id
		 WHERE m.user_id = $1
		 ORDER BY COALESCE(c.last_message_time, c.created_at) DESC`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("convRepo.ListForUser query: %w", err)
	}
	defer rows.Close()

	convs := make([]model.Conversation, 0, 16)
	for rows.Next() {
		var c model.Conversation
		if err := scanConversation(rows, &c); err != nil {
			return nil, fmt.Errorf("convRepo.ListForUser scan: %w", err)
		}
		convs = append(convs, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("convRepo.ListForUser rows: %w", err)
	}
	return convs, nil
}

// GetMemberships returns all membership rows of a conversation. A missing
// last_read_time scans as the zero time (never marked read).
func (r *ConversationRepository) GetMemberships(ctx context.Context, conversationID string) ([]model.Membership, error) {
	defer logger.DeferLogDuration("conv.GetMemberships", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT id, conversation_id, user_id, last_read_time
		 FROM memberships WHERE conversation_id = $1`, conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("convRepo.GetMemberships query: %w", err)
	}
	defer rows.Close()

	members := make([]model.Membership, 0, 8)
	for rows.Next() {
		var m model.Membership
		var lastRead *time.Time
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.UserID, &lastRead); err != nil {
			return nil, fmt.Errorf("convRepo.GetMemberships scan: %w", err)
		}
		if lastRead != nil {
			m.LastReadTime = *lastRead
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("convRepo.GetMemberships rows: %w", err)
	}
	return members, nil
}

func (r *ConversationRepository) GetMembership(ctx context.Context, conversationID, userID string) (*model.Membership, error) {
	defer logger.DeferLogDuration("conv.GetMembership", time.Now())()
	m := &model.Membership{}
	var lastRead *time.Time
	err := r.pool.QueryRow(ctx,
		`SELECT id, conversation_id, user_id, last_read_time
		 FROM memberships WHERE conversation_id = $1 AND user_id = $2`,
		conversationID, userID,
	).Scan(&m.ID, &m.ConversationID, &m.UserID, &lastRead)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("convRepo.GetMembership: %w", err)
	}
	if lastRead != nil {
		m.LastReadTime = *lastRead
	}
	return m, nil
}

func (r *ConversationRepository) IsMember(ctx context.Context, conversationID, userID string) (bool, error) {
	defer logger.DeferLogDuration("conv.IsMember", time.Now())()
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM memberships WHERE conversation_id = $1 AND user_id = $2)`,
		conversationID, userID,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("convRepo.IsMember: %w", err)
	}
	return exists, nil
}

// GetMemberIDs returns the user IDs of all members of a conversation.
func (r *ConversationRepository) GetMemberIDs(ctx context.Context, conversationID string) ([]string, error) {
	defer logger.DeferLogDuration("conv.GetMemberIDs", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT user_id FROM memberships WHERE conversation_id = $1`, conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("convRepo.GetMemberIDs query: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0, 8)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("convRepo.GetMemberIDs scan: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("convRepo.GetMemberIDs rows: %w", err)
	}
	return ids, nil
}

// CoMemberIDs returns the distinct users sharing at least one conversation
// with the given user. Used to scope presence change notifications.
func (r *ConversationRepository) CoMemberIDs(ctx context.Context, userID string) ([]string, error) {
	defer logger.DeferLogDuration("conv.CoMemberIDs", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT DISTINCT other.user_id
		 FROM memberships mine
		 JOIN memberships other ON other.conversation_id = mine.conversation_id
		 WHERE mine.user_id = $1 AND other.user_id != $1`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("convRepo.CoMemberIDs query: %w", err)
	}
	defer rows.Close()

	ids := make([]string, 0, 16)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("convRepo.CoMemberIDs scan: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("convRepo.CoMemberIDs rows: %w", err)
	}
	return ids, nil
}

// MarkRead advances the caller's read cursor to t. GREATEST keeps the
// cursor monotonically non-decreasing; a missing membership is a no-op.
func (r *ConversationRepository) MarkRead(ctx context.Context, conversationID, userID string, t time.Time) error {
	defer logger.DeferLogDuration("conv.MarkRead", time.Now())()
	_, err := r.pool.Exec(ctx,
		`UPDATE memberships
		 SET last_read_time = GREATEST(COALESCE(last_read_time, 'epoch'::timestamptz), $1)
		 WHERE conversation_id = $2 AND user_id = $3`,
		t, conversationID, userID,
	)
	if err != nil {
		return fmt.Errorf("convRepo.MarkRead: %w", err)
	}
	return nil
}

// UnreadCount counts messages from other senders created after the caller's
// read cursor (zero when the caller never marked the conversation read).
func (r *ConversationRepository) UnreadCount(ctx context.Context, conversationID, userID string) (int, error) {
	defer logger.DeferLogDuration("conv.UnreadCount", time.Now())()
	var count int
	err := r.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM messages msg
		 JOIN memberships m ON m.conversation_id = msg.conversation_id AND m.user_id = $2
		 WHERE msg.conversation_id = $1 AND msg.sender_id != $2
		   AND msg.created_at > COALESCE(m.last_read_time, 'epoch'::timestamptz)`,
		conversationID, userID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("convRepo.UnreadCount: %w", err)
	}
	return count, nil
}
