package multiplayer

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/brainquiz/backend/internal/models"
)

// Repository handles multi_sessions persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a lobby repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// CreateMulti inserts a lobby record.
func (r *Repository) CreateMulti(ctx context.Context, m *models.MultiSession) error {
	const q = `INSERT INTO multi_sessions (code, token, owner_id, created_at) VALUES ($1, $2, $3, $4)`
	_, err := r.pool.Exec(ctx, q, m.Code, m.Token, m.OwnerID, m.CreatedAt)
	return err
}

// GetMulti returns a lobby record, or nil.
func (r *Repository) GetMulti(ctx context.Context, code string) (*models.MultiSession, error) {
	var m models.MultiSession
	err := r.pool.QueryRow(ctx, `SELECT code, token, owner_id, created_at FROM multi_sessions WHERE code = $1`, code).
		Scan(&m.Code, &m.Token, &m.OwnerID, &m.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &m, nil
}

// MultiExists reports whether code has a record.
func (r *Repository) MultiExists(ctx context.Context, code string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM multi_sessions WHERE code = $1)`, code).Scan(&exists)
	return exists, err
}

// DeleteMulti removes a lobby record.
func (r *Repository) DeleteMulti(ctx context.Context, code string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM multi_sessions WHERE code = $1`, code)
	return err
}

// ListMultiBefore returns codes of records created before cutoff.
func (r *Repository) ListMultiBefore(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT code FROM multi_sessions WHERE created_at < $1 ORDER BY code`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var codes []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, err
		}
		codes = append(codes, code)
	}
	return codes, rows.Err()
}
