package auth

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/brainquiz/backend/internal/models"
)

// Repository reads registered accounts.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates an auth repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetByUsername returns a user by name, or nil when none exists.
func (r *Repository) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	const q = `SELECT id, username, created_at FROM users WHERE lower(username) = lower($1)`
	var u models.User
	err := r.pool.QueryRow(ctx, q, username).Scan(&u.ID, &u.Username, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &u, nil
}

// UsernameExists reports whether a registered account uses username.
func (r *Repository) UsernameExists(ctx context.Context, username string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM users WHERE lower(username) = lower($1))`, username).Scan(&exists)
	return exists, err
}
