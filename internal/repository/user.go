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

const userCols = `id, external_auth_id, name, email, avatar_url, created_at`

type UserRepository struct {
	pool *pgxpool.Pool
}

func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

// scanUser scans a row into model.User (column order matches userCols).
func scanUser(s interface{ Scan(dest ...any) error }, u *model.User) error {
	return s.Scan(&u.ID, &u.ExternalAuthID, &u.Name, &u.Email, &u.AvatarURL, &u.CreatedAt)
}

// Sync creates the user on first contact or refreshes profile fields that
// drifted from the identity provider. Returns the stable user ID.
func (r *UserRepository) Sync(ctx context.Context, externalAuthID, name, email, avatarURL string) (string, error) {
	defer logger.DeferLogDuration("user.Sync", time.Now())()
	var id string
	err := r.pool.QueryRow(ctx,
		`INSERT INTO users (id, external_auth_id, name, email, avatar_url, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (external_auth_id) DO UPDATE
		 SET name = EXCLUDED.name, email = EXCLUDED.email, avatar_url = EXCLUDED.avatar_url
		 RETURNING id`,
		uuid.New().String(), externalAuthID, name, email, avatarURL, time.Now().UTC(),
	).Scan(&id)
	if err != nil {
		return "", fmt.Errorf("userRepo.Sync: %w", err)
	}
	return id, nil
}

func (r *UserRepository) GetByExternalID(ctx context.Context, externalAuthID string) (*model.User, error) {
	defer logger.DeferLogDuration("user.GetByExternalID", time.Now())()
	u := &model.User{}
	row := r.pool.QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE external_auth_id = $1`, externalAuthID)
	if err := scanUser(row, u); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("userRepo.GetByExternalID: %w", err)
	}
	return u, nil
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*model.User, error) {
	defer logger.DeferLogDuration("user.GetByID", time.Now())()
	u := &model.User{}
	row := r.pool.QueryRow(ctx, `SELECT `+userCols+` FROM users WHERE id = $1`, id)
	if err := scanUser(row, u); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("userRepo.GetByID: %w", err)
	}
	return u, nil
}

// GetByIDs returns the users for the given IDs, keyed by ID. Missing IDs
// are simply absent from the result.
func (r *UserRepository) GetByIDs(ctx context.Context, ids []string) (map[string]model.User, error) {
	defer logger.DeferLogDuration("user.GetByIDs", time.Now())()
	if len(ids) == 0 {
		return map[string]model.User{}, nil
	}
	rows, err := r.pool.Query(ctx, `SELECT `+userCols+` FROM users WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("userRepo.GetByIDs query: %w", err)
	}
	defer rows.Close()

	users := make(map[string]model.User, len(ids))
	for rows.Next() {
		var u model.User
		if err := scanUser(rows, &u); err != nil {
			return nil, fmt.Errorf("userRepo.GetByIDs scan: %w", err)
		}
		users[u.ID] = u
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("userRepo.GetByIDs rows: %w", err)
	}
	return users, nil
}

// ListAllExcept returns every user except the given one, ordered by name.
func (r *UserRepository) ListAllExcept(ctx context.Context, userID string) ([]model.User, error) {
	defer logger.DeferLogDuration("user.ListAllExcept", time.Now())()
	rows, err := r.pool.Query(ctx,
		`SELECT `+userCols+` FROM users WHERE id != $1 ORDER BY name`, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("userRepo.ListAllExcept query: %w", err)
	}
	defer rows.Close()

	users := make([]model.User, 0, 16)
	for rows.Next() {
		var u model.User
		if err := scanUser(rows, &u); err != nil {
			return nil, fmt.Errorf("userRepo.ListAllExcept scan: %w", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("userRepo.ListAllExcept rows: %w", err)
	}
	return users, nil
}
