package singleplayer

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/brainquiz/backend/internal/models"
)

// Repository handles sessions and session_progress persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a single-player session repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// CreateSession inserts a session row.
func (r *Repository) CreateSession(ctx context.Context, s *models.Session) error {
	const q = `INSERT INTO sessions (id, user_id, token, mode, atlas, score)
		VALUES ($1, $2, $3, $4, $5, 0)
		RETURNING created_at`
	return r.pool.QueryRow(ctx, q, s.ID, s.UserID, s.Token, string(s.Mode), s.Atlas).Scan(&s.CreatedAt)
}

// GetSession returns a session by ID, or nil when it does not exist.
func (r *Repository) GetSession(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	const q = `SELECT id, user_id, token, mode, atlas, score, created_at FROM sessions WHERE id = $1`
	var s models.Session
	var mode string
	err := r.pool.QueryRow(ctx, q, id).Scan(&s.ID, &s.UserID, &s.Token, &mode, &s.Atlas, &s.Score, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	s.Mode = models.Mode(mode)
	return &s, nil
}

// AddScore adds delta to the session score and returns the new total.
func (r *Repository) AddScore(ctx context.Context, id uuid.UUID, delta int) (int, error) {
	var score int
	err := r.pool.QueryRow(ctx, `UPDATE sessions SET score = score + $1 WHERE id = $2 RETURNING score`, delta, id).Scan(&score)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	return score, err
}

// DeleteSession removes a session; progress rows cascade.
func (r *Repository) DeleteSession(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, id)
	return err
}

const progressColumns = `id, session_id, region_id, time_taken, is_active, is_correct, score_increment, attempts, created_at`

func scanProgress(row pgx.Row) (*models.Progress, error) {
	var p models.Progress
	err := row.Scan(&p.ID, &p.SessionID, &p.RegionID, &p.TimeTaken, &p.IsActive, &p.IsCorrect, &p.ScoreIncrement, &p.Attempts, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// GetActiveProgress returns the active progress row of a session, or nil.
func (r *Repository) GetActiveProgress(ctx context.Context, sessionID uuid.UUID) (*models.Progress, error) {
	p, err := scanProgress(r.pool.QueryRow(ctx,
		`SELECT `+progressColumns+` FROM session_progress WHERE session_id = $1 AND is_active LIMIT 1`, sessionID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return p, err
}

// DeactivateProgress marks every progress row of a session inactive.
func (r *Repository) DeactivateProgress(ctx context.Context, sessionID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `UPDATE session_progress SET is_active = FALSE WHERE session_id = $1 AND is_active`, sessionID)
	return err
}

// InsertProgress inserts a progress row. The partial unique index rejects a second active row.
func (r *Repository) InsertProgress(ctx context.Context, p *models.Progress) error {
	const q = `INSERT INTO session_progress (session_id, region_id, time_taken, is_active, is_correct, score_increment, attempts, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`
	return r.pool.QueryRow(ctx, q, p.SessionID, p.RegionID, p.TimeTaken, p.IsActive, p.IsCorrect, p.ScoreIncrement, p.Attempts, p.CreatedAt).Scan(&p.ID)
}

// UpdateProgress writes the mutable fields of a progress row.
func (r *Repository) UpdateProgress(ctx context.Context, p *models.Progress) error {
	const q = `UPDATE session_progress SET time_taken = $1, is_active = $2, is_correct = $3, score_increment = $4, attempts = $5
		WHERE id = $6`
	_, err := r.pool.Exec(ctx, q, p.TimeTaken, p.IsActive, p.IsCorrect, p.ScoreIncrement, p.Attempts, p.ID)
	return err
}

// ListProgress returns every progress row of a session in insertion order.
func (r *Repository) ListProgress(ctx context.Context, sessionID uuid.UUID) ([]models.Progress, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+progressColumns+` FROM session_progress WHERE session_id = $1 ORDER BY id`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.Progress
	for rows.Next() {
		p, err := scanProgress(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *p)
	}
	return list, rows.Err()
}

// CorrectRegions returns the regions answered correctly in a session.
func (r *Repository) CorrectRegions(ctx context.Context, sessionID uuid.UUID) ([]int, error) {
	rows, err := r.pool.Query(ctx, `SELECT region_id FROM session_progress WHERE session_id = $1 AND is_correct`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// DeleteProgress removes every progress row of a session.
func (r *Repository) DeleteProgress(ctx context.Context, sessionID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM session_progress WHERE session_id = $1`, sessionID)
	return err
}
