package models

import (
	"time"

	"github.com/google/uuid"
)

// Quit reasons recorded on a finished session.
const (
	QuitTimeout     = "timeout"
	QuitManual      = "manual"
	QuitStreakEnded = "streak-ended"
	QuitCompleted   = "completed"
	QuitInactivity  = "inactivity"
	QuitShutdown    = "shutdown"
)

// FinishedSession is the write-once summary of a terminated session.
// Timing fields are nil when no qualifying guess was made.
type FinishedSession struct {
	ID                  uuid.UUID `json:"id"`
	SessionRef          string    `json:"session_ref"`
	UserID              uuid.UUID `json:"user_id"`
	Mode                Mode      `json:"mode"`
	Atlas               string    `json:"atlas"`
	Score               int       `json:"score"`
	Attempts            int       `json:"attempts"`
	Correct             int       `json:"correct"`
	Incorrect           int       `json:"incorrect"`
	MinTime             *float64  `json:"min_time,omitempty"`
	MaxTime             *float64  `json:"max_time,omitempty"`
	AvgTime             *float64  `json:"avg_time,omitempty"`
	MinTimeCorrect      *float64  `json:"min_time_correct,omitempty"`
	MaxTimeCorrect      *float64  `json:"max_time_correct,omitempty"`
	AvgTimeCorrect      *float64  `json:"avg_time_correct,omitempty"`
	QuitReason          string    `json:"quit_reason"`
	DurationSeconds     float64   `json:"duration_seconds"`
	MultiplayerGamesWon int       `json:"multiplayer_games_won"`
	CreatedAt           time.Time `json:"created_at"`
}

// TimingStats are min/max/avg over a set of durations in seconds.
type TimingStats struct {
	Min *float64
	Max *float64
	Avg *float64
}

// ComputeTiming returns min/max/avg of durations; all nil for an empty slice.
func ComputeTiming(durations []float64) TimingStats {
	if len(durations) == 0 {
		return TimingStats{}
	}
	lo, hi, sum := durations[0], durations[0], 0.0
	for _, d := range durations {
		if d < lo {
			lo = d
		}
		if d > hi {
			hi = d
		}
		sum += d
	}
	avg := sum / float64(len(durations))
	return TimingStats{Min: &lo, Max: &hi, Avg: &avg}
}

// ApplyTiming fills the overall and correct-only timing fields.
func (f *FinishedSession) ApplyTiming(all, correct []float64) {
	a := ComputeTiming(all)
	f.MinTime, f.MaxTime, f.AvgTime = a.Min, a.Max, a.Avg
	c := ComputeTiming(correct)
	f.MinTimeCorrect, f.MaxTimeCorrect, f.AvgTimeCorrect = c.Min, c.Max, c.Avg
}
