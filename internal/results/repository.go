// Package results persists the write-once summaries of finished game sessions.
package results

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/brainquiz/backend/internal/models"
)

// Repository handles finished_sessions persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a results repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// CreateFinished inserts a summary row. A second row for the same (session_ref, user_id) is ignored,
// so finalizing a session twice leaves exactly one row.
func (r *Repository) CreateFinished(ctx context.Context, f *models.FinishedSession) error {
	const q = `INSERT INTO finished_sessions (session_ref, user_id, mode, atlas, score, attempts, correct, incorrect,
		min_time, max_time, avg_time, min_time_correct, max_time_correct, avg_time_correct,
		quit_reason, duration_seconds, multiplayer_games_won)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		ON CONFLICT (session_ref, user_id) DO NOTHING
		RETURNING id, created_at`
	err := r.pool.QueryRow(ctx, q, f.SessionRef, f.UserID, string(f.Mode), f.Atlas, f.Score, f.Attempts, f.Correct, f.Incorrect,
		f.MinTime, f.MaxTime, f.AvgTime, f.MinTimeCorrect, f.MaxTimeCorrect, f.AvgTimeCorrect,
		f.QuitReason, f.DurationSeconds, f.MultiplayerGamesWon).Scan(&f.ID, &f.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil
	}
	return err
}
