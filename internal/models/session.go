package models

import (
	"time"

	"github.com/google/uuid"
)

// Mode is a single-player game mode.
type Mode string

const (
	ModeNavigation  Mode = "navigation"
	ModePractice    Mode = "practice"
	ModeStreak      Mode = "streak"
	ModeTimeAttack  Mode = "time-attack"
	ModeMultiplayer Mode = "multiplayer"
)

// Valid reports whether m is a mode a single-player session can be started in.
func (m Mode) Valid() bool {
	switch m {
	case ModeNavigation, ModePractice, ModeStreak, ModeTimeAttack:
		return true
	}
	return false
}

// Session is the authoritative single-player session row.
type Session struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"user_id"`
	Token     string    `json:"-"`
	Mode      Mode      `json:"mode"`
	Atlas     string    `json:"atlas"`
	Score     int       `json:"score"`
	CreatedAt time.Time `json:"created_at"`
}

// Progress is one target region handed out in a session. At most one row per session is active.
type Progress struct {
	ID             int64     `json:"id"`
	SessionID      uuid.UUID `json:"session_id"`
	RegionID       int       `json:"region_id"`
	TimeTaken      float64   `json:"time_taken"`
	IsActive       bool      `json:"is_active"`
	IsCorrect      bool      `json:"is_correct"`
	ScoreIncrement int       `json:"score_increment"`
	Attempts       int       `json:"attempts"`
	CreatedAt      time.Time `json:"created_at"`
}
