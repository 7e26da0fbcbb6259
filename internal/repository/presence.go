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

type PresenceRepository struct {
	pool *pgxpool.Pool
}

func NewPresenceRepository(pool *pgxpool.Pool) *PresenceRepository {
	return &PresenceRepository{pool: pool}
}

// Heartbeat upserts the caller's presence row as online at t. It returns
// the previously stored online flag (false when there was no row) so the
// caller can detect an offline-to-online transition.
func (r *PresenceRepository) Heartbeat(ctx context.Context, userID string, t time.Time) (bool, error) {
	defer logger.DeferLogDuration("presence.Heartbeat", time.Now())()
	var wasOnline *bool
	err := r.pool.QueryRow(ctx,
		`INSERT INTO presence (id, user_id, online, last_seen)
		 VALUES ($1, $2, true, $3)
		 ON CONFLICT (user_id) DO UPDATE SET online = true, last_seen = EXCLUDED.last_seen
		 RETURNING (SELECT p.online FROM presence p WHERE p.user_id = $2)`,
		uuid.New().String(), userID, t,
	).Scan(&wasOnline)
	if err != nil {
		return false, fmt.Errorf("presenceRepo.Heartbeat: %w", err)
	}
	return wasOnline != nil && *wasOnline, nil
}

// SetOffline flips the caller's presence to offline. A caller without a
// presence row never registered a heartbeat; that is a silent no-op.
func (r *PresenceRepository) SetOffline(ctx context.Context, userID string, t time.Time) error {
	defer logger.DeferLogDuration("presence.SetOffline", time.Now())()
	_, err := r.pool.Exec(ctx,
		`UPDATE presence SET online = false, last_seen = $1 WHERE user_id = $2`,
		t, userID,
	)
	if err != nil {
		return fmt.Errorf("presenceRepo.SetOffline: %w", err)
	}
	return nil
}

func (r *PresenceRepository) GetByUserID(ctx context.Context, userID string) (*model.Presence, error) {
	defer logger.DeferLogDuration("presence.GetByUserID", time.Now())()
	p := &model.Presence{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, user_id, online, last_seen FROM presence WHERE user_id = $1`, userID,
	).Scan(&p.ID, &p.UserID, &p.Online, &p.LastSeen)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("presenceRepo.GetByUserID: %w", err)
	}
	return p, nil
}

// GetByUserIDs returns presence rows for the given users, keyed by user ID.
// Users without a row are absent from the map.
func (r *PresenceRepository) GetByUserIDs(ctx context.Context, userIDs []string) (map[string]*model.Presence, error) {
	defer logger.DeferLogDuration("presence.GetByUserIDs", time.Now())()
	if len(userIDs) == 0 {
		return map[string]*model.Presence{}, nil
	}
	rows, err := r.pool.Query(ctx,
		`SELECT id, user_id, online, last_seen FROM presence WHERE user_id = ANY($1)`, userIDs,
	)
	if err != nil {
		return nil, fmt.Errorf("presenceRepo.GetByUserIDs query: %w", err)
	}
	defer rows.Close()

	result := make(map[string]*model.Presence, len(userIDs))
	for rows.Next() {
		p := &model.Presence{}
		if err := rows.Scan(&p.ID, &p.UserID, &p.Online, &p.LastSeen); err != nil {
			return nil, fmt.Errorf("presenceRepo.GetByUserIDs scan: %w", err)
		}
		result[p.UserID] = p
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("presenceRepo.GetByUserIDs rows: %w", err)
	}
	return result, nil
}

func (r *PresenceRepository) GetAll(ctx context.Context) ([]model.Presence, error) {
	defer logger.DeferLogDuration("presence.GetAll", time.Now())()
	rows, err := r.pool.Query(ctx, `SELECT id, user_id, online, last_seen FROM presence`)
	if err != nil {
		return nil, fmt.Errorf("presenceRepo.GetAll query: %w", err)
	}
	defer rows.Close()

	all := make([]model.Presence, 0, 32)
	for rows.Next() {
		var p model.Presence
		if err := rows.Scan(&p.ID, &p.UserID, &p.Online, &p.LastSeen); err != nil {
			return nil, fmt.Errorf("presenceRepo.GetAll scan: %w", err)
		}
		all = append(all, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("presenceRepo.GetAll rows: %w", err)
	}
	return all, nil
}
