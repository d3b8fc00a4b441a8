// Package singleplayer runs the single-player game state machine. All session state lives in the
// store; the service only holds per-session locks while a request is in flight.
package singleplayer

import (
	"context"
	"crypto/subtle"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/brainquiz/backend/internal/atlas"
	"github.com/brainquiz/backend/internal/auth"
	"github.com/brainquiz/backend/internal/models"
	"github.com/brainquiz/backend/internal/scoring"
	"github.com/brainquiz/backend/pkg/apperror"
)

var (
	ErrInvalidSession = apperror.Forbidden("invalid session or token")
	ErrNoActiveRegion = apperror.Conflict("no active region")
)

// Store persists sessions and their progress rows.
type Store interface {
	CreateSession(ctx context.Context, s *models.Session) error
	GetSession(ctx context.Context, id uuid.UUID) (*models.Session, error)
	AddScore(ctx context.Context, id uuid.UUID, delta int) (int, error)
	DeleteSession(ctx context.Context, id uuid.UUID) error
	GetActiveProgress(ctx context.Context, sessionID uuid.UUID) (*models.Progress, error)
	DeactivateProgress(ctx context.Context, sessionID uuid.UUID) error
	InsertProgress(ctx context.Context, p *models.Progress) error
	UpdateProgress(ctx context.Context, p *models.Progress) error
	ListProgress(ctx context.Context, sessionID uuid.UUID) ([]models.Progress, error)
	CorrectRegions(ctx context.Context, sessionID uuid.UUID) ([]int, error)
	DeleteProgress(ctx context.Context, sessionID uuid.UUID) error
}

// ResultWriter stores finished session summaries.
type ResultWriter interface {
	CreateFinished(ctx context.Context, f *models.FinishedSession) error
}

// Coordinates is a clicked point: millimeter position and voxel index.
type Coordinates struct {
	MM    []float64 `json:"mm"`
	Voxel []int     `json:"voxel"`
}

// StartResult is returned by StartSession.
type StartResult struct {
	SessionID    uuid.UUID `json:"sessionId"`
	SessionToken string    `json:"sessionToken"`
}

// EndResult is the end-of-game payload.
type EndResult struct {
	Endgame    bool    `json:"endgame"`
	FinalScore int     `json:"finalScore"`
	QuitReason string  `json:"quitReason"`
	Attempts   int     `json:"attempts"`
	Correct    int     `json:"correct"`
	Incorrect  int     `json:"incorrect"`
	Duration   float64 `json:"durationSeconds"`
}

// NextRegionResult carries either the current target or, once the game is over, the end payload.
type NextRegionResult struct {
	RegionID  int        `json:"regionId,omitempty"`
	NewRegion bool       `json:"newRegion"`
	Endgame   bool       `json:"endgame"`
	End       *EndResult `json:"end,omitempty"`
}

// GuessResult is returned by ValidateGuess.
type GuessResult struct {
	IsCorrect        bool       `json:"isCorrect"`
	RegionID         int        `json:"regionId"`
	VoxelValue       int        `json:"voxelValue"`
	ScoreIncrement   int        `json:"scoreIncrement"`
	FinalScore       int        `json:"finalScore"`
	Endgame          bool       `json:"endgame"`
	PerformHighlight bool       `json:"performHighlight"`
	End              *EndResult `json:"end,omitempty"`
}

// Service is the single-player game controller.
type Service struct {
	store     Store
	results   ResultWriter
	catalog   *atlas.Catalog
	tokens    *auth.JWTService
	timeLimit time.Duration
	locks     *sessionLocks
	logger    *zap.Logger

	now  func() time.Time
	intn func(n int) int
}

// NewService creates a single-player controller. timeLimit is the time-attack duration.
func NewService(store Store, results ResultWriter, catalog *atlas.Catalog, tokens *auth.JWTService, timeLimit time.Duration, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:     store,
		results:   results,
		catalog:   catalog,
		tokens:    tokens,
		timeLimit: timeLimit,
		locks:     newSessionLocks(),
		logger:    logger,
		now:       time.Now,
		intn:      rand.Intn,
	}
}

// StartSession creates a session for userID and returns its ID and signed token.
func (s *Service) StartSession(ctx context.Context, userID uuid.UUID, mode models.Mode, atlasID string) (*StartResult, error) {
	if mode == "" || atlasID == "" {
		return nil, apperror.InvalidInput("mode and atlas are required")
	}
	if !mode.Valid() {
		return nil, apperror.InvalidInput("unknown mode %q", mode)
	}
	if _, ok := s.catalog.Get(atlasID); !ok {
		return nil, apperror.InvalidInput("unknown atlas %q", atlasID)
	}

	id := uuid.New()
	token, err := s.tokens.SignSession(id, userID, string(mode), atlasID)
	if err != nil {
		return nil, apperror.Internal("failed to sign session token", err)
	}
	sess := &models.Session{
		ID:        id,
		UserID:    userID,
		Token:     token,
		Mode:      mode,
		Atlas:     atlasID,
		CreatedAt: s.now(),
	}
	if err := s.store.CreateSession(ctx, sess); err != nil {
		return nil, apperror.Internal("failed to create session", err)
	}
	s.logger.Info("session started", zap.String("session_id", id.String()), zap.String("mode", string(mode)), zap.String("atlas", atlasID))
	return &StartResult{SessionID: id, SessionToken: token}, nil
}

// authorize loads the session and checks the presented token against the stored one and its claims.
func (s *Service) authorize(ctx context.Context, id uuid.UUID, token string) (*models.Session, error) {
	sess, err := s.store.GetSession(ctx, id)
	if err != nil {
		return nil, apperror.Internal("failed to load session", err)
	}
	if sess == nil || token == "" {
		return nil, ErrInvalidSession
	}
	if subtle.ConstantTimeCompare([]byte(sess.Token), []byte(token)) != 1 {
		return nil, ErrInvalidSession
	}
	claims, err := s.tokens.ValidateSession(token)
	if err != nil || claims.SessionID != sess.ID || claims.UserID != sess.UserID ||
		claims.Mode != string(sess.Mode) || claims.Atlas != sess.Atlas {
		return nil, ErrInvalidSession
	}
	return sess, nil
}

func (s *Service) expired(sess *models.Session, now time.Time) bool {
	return sess.Mode == models.ModeTimeAttack && now.Sub(sess.CreatedAt) >= s.timeLimit
}

// GetNextRegion returns the current target region, choosing a new one when none is active.
// An expired time-attack session is finalized instead.
func (s *Service) GetNextRegion(ctx context.Context, id uuid.UUID, token string) (*NextRegionResult, error) {
	unlock := s.locks.lock(id)
	defer unlock()

	sess, err := s.authorize(ctx, id, token)
	if err != nil {
		return nil, err
	}
	if s.expired(sess, s.now()) {
		end, err := s.finalize(ctx, id, models.QuitTimeout)
		if err != nil {
			return nil, err
		}
		return &NextRegionResult{Endgame: true, End: end}, nil
	}

	active, err := s.store.GetActiveProgress(ctx, id)
	if err != nil {
		return nil, apperror.Internal("failed to load progress", err)
	}
	if active != nil {
		return &NextRegionResult{RegionID: active.RegionID}, nil
	}

	a, ok := s.catalog.Get(sess.Atlas)
	if !ok {
		return nil, apperror.InvalidInput("unknown atlas %q", sess.Atlas)
	}
	pool := a.Regions
	if sess.Mode == models.ModeTimeAttack {
		pool, err = s.unansweredRegions(ctx, id, a.Regions)
		if err != nil {
			return nil, err
		}
	}
	region := pool[s.intn(len(pool))]

	if err := s.store.DeactivateProgress(ctx, id); err != nil {
		return nil, apperror.Internal("failed to deactivate progress", err)
	}
	p := &models.Progress{SessionID: id, RegionID: region, IsActive: true, CreatedAt: s.now()}
	if err := s.store.InsertProgress(ctx, p); err != nil {
		return nil, apperror.Internal("failed to insert progress", err)
	}
	return &NextRegionResult{RegionID: region, NewRegion: true}, nil
}

// unansweredRegions drops regions already answered correctly, or returns all when none remain.
func (s *Service) unansweredRegions(ctx context.Context, id uuid.UUID, all []int) ([]int, error) {
	correct, err := s.store.CorrectRegions(ctx, id)
	if err != nil {
		return nil, apperror.Internal("failed to load answered regions", err)
	}
	if len(correct) == 0 {
		return all, nil
	}
	done := make(map[int]struct{}, len(correct))
	for _, r := range correct {
		done[r] = struct{}{}
	}
	pool := make([]int, 0, len(all))
	for _, r := range all {
		if _, ok := done[r]; !ok {
			pool = append(pool, r)
		}
	}
	if len(pool) == 0 {
		return all, nil
	}
	return pool, nil
}

// ValidateGuess scores a click against the active region and ends the game when the mode says so.
func (s *Service) ValidateGuess(ctx context.Context, id uuid.UUID, token string, coords Coordinates) (*GuessResult, error) {
	unlock := s.locks.lock(id)
	defer unlock()

	sess, err := s.authorize(ctx, id, token)
	if err != nil {
		return nil, err
	}
	active, err := s.store.GetActiveProgress(ctx, id)
	if err != nil {
		return nil, apperror.Internal("failed to load progress", err)
	}
	if active == nil {
		return nil, ErrNoActiveRegion
	}
	if len(coords.MM) != 3 || len(coords.Voxel) != 3 {
		return nil, apperror.InvalidCoordinates("coordinates need 3 mm and 3 voxel components")
	}
	a, ok := s.catalog.Get(sess.Atlas)
	if !ok {
		return nil, apperror.InvalidInput("unknown atlas %q", sess.Atlas)
	}
	voxel, ok := a.Volume.At(coords.Voxel[0], coords.Voxel[1], coords.Voxel[2])
	if !ok {
		return nil, apperror.InvalidCoordinates("voxel %v outside volume %v", coords.Voxel, a.Volume.Dims)
	}

	now := s.now()
	elapsed := now.Sub(sess.CreatedAt)
	correct := voxel == active.RegionID

	inc := 0
	switch sess.Mode {
	case models.ModeStreak:
		if correct {
			inc = 1
		}
	case models.ModeTimeAttack:
		if elapsed < s.timeLimit {
			if correct {
				inc = scoring.MaxPointsPerRegion
			} else {
				mm := atlas.Point{coords.MM[0], coords.MM[1], coords.MM[2]}
				inc = scoring.PartialCredit(mm, a.Centers[active.RegionID])
			}
		}
	}

	active.Attempts++
	active.TimeTaken = now.Sub(active.CreatedAt).Seconds()
	active.IsCorrect = correct
	active.ScoreIncrement += inc
	highlight := false
	switch sess.Mode {
	case models.ModePractice, models.ModeNavigation:
		active.IsActive = !correct
		highlight = !correct && active.Attempts >= scoring.MaxAttemptsBeforeHighlight
	default:
		active.IsActive = false
	}
	if err := s.store.UpdateProgress(ctx, active); err != nil {
		return nil, apperror.Internal("failed to update progress", err)
	}
	score, err := s.store.AddScore(ctx, id, inc)
	if err != nil {
		return nil, apperror.Internal("failed to update score", err)
	}

	res := &GuessResult{
		IsCorrect:        correct,
		RegionID:         active.RegionID,
		VoxelValue:       voxel,
		ScoreIncrement:   inc,
		FinalScore:       score,
		PerformHighlight: highlight,
	}

	reason, err := s.endReason(ctx, sess, correct, elapsed)
	if err != nil {
		return nil, err
	}
	if reason == "" {
		return res, nil
	}
	if reason == models.QuitCompleted {
		if bonus := scoring.TimeAttackBonus(s.timeLimit - elapsed); bonus > 0 {
			if res.FinalScore, err = s.store.AddScore(ctx, id, bonus); err != nil {
				return nil, apperror.Internal("failed to add time bonus", err)
			}
		}
	}
	end, err := s.finalize(ctx, id, reason)
	if err != nil {
		return nil, err
	}
	res.Endgame = true
	res.End = end
	return res, nil
}

// endReason returns the quit reason if this guess ends the game, or "".
func (s *Service) endReason(ctx context.Context, sess *models.Session, correct bool, elapsed time.Duration) (string, error) {
	switch sess.Mode {
	case models.ModeStreak:
		if !correct {
			return models.QuitStreakEnded, nil
		}
	case models.ModeTimeAttack:
		if elapsed >= s.timeLimit {
			return models.QuitTimeout, nil
		}
		rows, err := s.store.ListProgress(ctx, sess.ID)
		if err != nil {
			return "", apperror.Internal("failed to list progress", err)
		}
		attempted := 0
		for _, p := range rows {
			if p.Attempts > 0 {
				attempted++
			}
		}
		if attempted >= scoring.TotalRegionsTimeAttack {
			return models.QuitCompleted, nil
		}
	}
	return "", nil
}

// ManualClose ends the session at the player's request.
func (s *Service) ManualClose(ctx context.Context, id uuid.UUID, token string) (*EndResult, error) {
	unlock := s.locks.lock(id)
	defer unlock()

	if _, err := s.authorize(ctx, id, token); err != nil {
		return nil, err
	}
	return s.finalize(ctx, id, models.QuitManual)
}

// Finalize writes the summary of a session and deletes it. Finalizing a missing session is a no-op.
func (s *Service) Finalize(ctx context.Context, id uuid.UUID, reason string) (*EndResult, error) {
	unlock := s.locks.lock(id)
	defer unlock()
	return s.finalize(ctx, id, reason)
}

func (s *Service) finalize(ctx context.Context, id uuid.UUID, reason string) (*EndResult, error) {
	sess, err := s.store.GetSession(ctx, id)
	if err != nil {
		return nil, apperror.Internal("failed to load session", err)
	}
	if sess == nil {
		return nil, nil
	}
	rows, err := s.store.ListProgress(ctx, id)
	if err != nil {
		return nil, apperror.Internal("failed to list progress", err)
	}

	f := &models.FinishedSession{
		SessionRef:      sess.ID.String(),
		UserID:          sess.UserID,
		Mode:            sess.Mode,
		Atlas:           sess.Atlas,
		Score:           sess.Score,
		QuitReason:      reason,
		DurationSeconds: s.now().Sub(sess.CreatedAt).Seconds(),
	}
	var all, correct []float64
	for _, p := range rows {
		f.Attempts += p.Attempts
		if p.Attempts > 0 {
			all = append(all, p.TimeTaken)
		}
		if p.IsCorrect {
			f.Correct++
			correct = append(correct, p.TimeTaken)
		}
	}
	f.Incorrect = f.Attempts - f.Correct
	f.ApplyTiming(all, correct)

	if err := s.results.CreateFinished(ctx, f); err != nil {
		return nil, apperror.Internal("failed to save finished session", err)
	}
	if err := s.store.DeleteProgress(ctx, id); err != nil {
		return nil, apperror.Internal("failed to delete progress", err)
	}
	if err := s.store.DeleteSession(ctx, id); err != nil {
		return nil, apperror.Internal("failed to delete session", err)
	}
	s.logger.Info("session finalized",
		zap.String("session_id", id.String()),
		zap.String("reason", reason),
		zap.Int("score", f.Score),
		zap.Int("attempts", f.Attempts),
	)
	return &EndResult{
		Endgame:    true,
		FinalScore: f.Score,
		QuitReason: reason,
		Attempts:   f.Attempts,
		Correct:    f.Correct,
		Incorrect:  f.Incorrect,
		Duration:   f.DurationSeconds,
	}, nil
}
