package multiplayer

import (
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/brainquiz/backend/internal/atlas"
	"github.com/brainquiz/backend/internal/models"
)

// Step kinds.
const (
	StepLoadAtlas = "load-atlas"
	StepGuess     = "guess"
)

// Step is one scripted command of a match. Duration is in seconds.
type Step struct {
	Kind     string
	Duration int
	Atlas    string
	RegionID int
	ColorLUT map[int][3]uint8
}

// player is the per-user state of a match. Authenticated players keep their stats after
// disconnecting so their result can still be saved.
type player struct {
	name       string
	anonymous  bool
	userID     uuid.UUID
	secretHash []byte
	connected  bool

	score            int
	attempts         int
	successes        int
	durations        []float64
	correctDurations []float64
	answered         map[int]bool
	eliminated       bool
}

// Match is the in-memory state of one multiplayer lobby and game. All fields are guarded by mu.
type Match struct {
	Code string
	ID   uuid.UUID

	mu           sync.Mutex
	params       models.MatchParameters
	started      bool
	ended        bool
	steps        []Step
	index        int
	atlas        *atlas.Atlas
	startedAt    time.Time
	stepStarted  time.Time
	players      map[string]*player // keyed by nameKey
	lastActivity time.Time
	timer        Timer
	timerSeq     int
}

// nameKey folds a display name to its key in Match.players, so names differing only in case collide.
func nameKey(name string) string {
	return strings.ToLower(name)
}

func newMatch(code string, params models.MatchParameters, now time.Time) *Match {
	return &Match{
		Code:         code,
		ID:           uuid.New(),
		params:       params,
		players:      make(map[string]*player),
		lastActivity: now,
	}
}

func (m *Match) touch(now time.Time) {
	m.lastActivity = now
}

// rosterLocked returns connected player names, sorted.
func (m *Match) rosterLocked() []string {
	out := make([]string, 0, len(m.players))
	for _, p := range m.players {
		if p.connected {
			out = append(out, p.name)
		}
	}
	sort.Strings(out)
	return out
}

func (m *Match) scoresLocked() []models.ScoreEntry {
	out := make([]models.ScoreEntry, 0, len(m.players))
	for _, p := range m.players {
		out = append(out, models.ScoreEntry{UserName: p.name, Score: p.score, Eliminated: p.eliminated})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].UserName < out[j].UserName
	})
	return out
}

func (m *Match) maxScoreLocked() int {
	best := 0
	for _, p := range m.players {
		if p.score > best {
			best = p.score
		}
	}
	return best
}

// resultsLocked builds one finished-session row per authenticated player.
func (m *Match) resultsLocked(reason string, now time.Time) []*models.FinishedSession {
	if !m.started {
		return nil
	}
	best := m.maxScoreLocked()
	var out []*models.FinishedSession
	for _, p := range m.players {
		if p.anonymous || p.userID == uuid.Nil {
			continue
		}
		f := &models.FinishedSession{
			SessionRef:      m.ID.String(),
			UserID:          p.userID,
			Mode:            models.ModeMultiplayer,
			Atlas:           m.params.Atlas,
			Score:           p.score,
			Attempts:        p.attempts,
			Correct:         p.successes,
			Incorrect:       p.attempts - p.successes,
			QuitReason:      reason,
			DurationSeconds: now.Sub(m.startedAt).Seconds(),
		}
		if best > 0 && p.score == best {
			f.MultiplayerGamesWon = 1
		}
		f.ApplyTiming(p.durations, p.correctDurations)
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID.String() < out[j].UserID.String() })
	return out
}

// buildSteps scripts a match: one load-atlas step with a fresh color table, then regionsNumber
// guess steps drawn without replacement from the atlas regions, refilling the pool when empty.
func buildSteps(a *atlas.Atlas, params models.MatchParameters, loadSeconds int, rnd *rand.Rand) []Step {
	steps := make([]Step, 0, params.RegionsNumber+1)
	steps = append(steps, Step{
		Kind:     StepLoadAtlas,
		Duration: loadSeconds,
		Atlas:    a.ID,
		ColorLUT: colorTable(a.Regions, rnd),
	})
	var pool []int
	for i := 0; i < params.RegionsNumber; i++ {
		if len(pool) == 0 {
			pool = append(pool, a.Regions...)
			rnd.Shuffle(len(pool), func(i, j int) { pool[i], pool[j] = pool[j], pool[i] })
		}
		region := pool[len(pool)-1]
		pool = pool[:len(pool)-1]
		steps = append(steps, Step{
			Kind:     StepGuess,
			Duration: params.DurationPerRegion,
			Atlas:    a.ID,
			RegionID: region,
		})
	}
	return steps
}

func colorTable(regions []int, rnd *rand.Rand) map[int][3]uint8 {
	lut := make(map[int][3]uint8, len(regions))
	for _, r := range regions {
		lut[r] = [3]uint8{uint8(rnd.Intn(256)), uint8(rnd.Intn(256)), uint8(rnd.Intn(256))}
	}
	return lut
}
