// Package multiplayer runs multiplayer lobbies and matches: session codes, joins, the scripted
// command loop, guess scoring, teardown and inactivity reaping. Match state lives in memory only;
// finished results are written to the store when a match ends.
package multiplayer

import (
	"context"
	"crypto/subtle"
	"math/rand"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/brainquiz/backend/internal/atlas"
	"github.com/brainquiz/backend/internal/auth"
	"github.com/brainquiz/backend/internal/models"
	"github.com/brainquiz/backend/internal/realtime"
	"github.com/brainquiz/backend/internal/scoring"
	"github.com/brainquiz/backend/pkg/apperror"
	"github.com/brainquiz/backend/pkg/utils"
)

const (
	codeLength      = 8
	codeAttempts    = 20
	secretBytes     = 32
	maxNameLength   = 32
	maxRegions      = 100
	maxStepDuration = 600
)

var (
	ErrLobbyNotFound    = apperror.NotFound("lobby not found")
	ErrNameTaken        = apperror.Conflict("user name already in lobby")
	ErrRegisteredName   = apperror.Conflict("user name belongs to a registered account")
	ErrAlreadyStarted   = apperror.Conflict("match already started")
	ErrNotEnoughPlayers = apperror.Conflict("at least 2 participants are required")
	ErrNotGuessStep     = apperror.Conflict("current step does not accept guesses")
	ErrAlreadyAnswered  = apperror.Conflict("step already answered")
	ErrEliminated       = apperror.Conflict("participant eliminated")
	ErrBadCredential    = apperror.Forbidden("invalid credential")
	ErrBadOwnerToken    = apperror.Forbidden("invalid owner token")
	ErrAnonymousOff     = apperror.Forbidden("anonymous play is disabled")
)

// Broadcaster delivers events to participants.
type Broadcaster interface {
	Send(code, name string, e realtime.Event)
	Broadcast(code string, e realtime.Event)
	CloseSession(code string)
}

// Store persists lobby ownership records.
type Store interface {
	CreateMulti(ctx context.Context, m *models.MultiSession) error
	GetMulti(ctx context.Context, code string) (*models.MultiSession, error)
	MultiExists(ctx context.Context, code string) (bool, error)
	DeleteMulti(ctx context.Context, code string) error
	ListMultiBefore(ctx context.Context, cutoff time.Time) ([]string, error)
}

// ResultWriter stores finished session summaries.
type ResultWriter interface {
	CreateFinished(ctx context.Context, f *models.FinishedSession) error
}

// UserDirectory answers whether an account name is registered.
type UserDirectory interface {
	UsernameExists(ctx context.Context, username string) (bool, error)
}

// ResultRetrier queues a result whose write failed.
type ResultRetrier interface {
	EnqueueResult(ctx context.Context, f *models.FinishedSession) error
}

// Timer is a pending step deadline.
type Timer interface {
	Stop() bool
}

// Settings are the match defaults. Durations are in seconds.
type Settings struct {
	DefaultAtlas         string
	DefaultRegionsNumber int
	DefaultRegionSeconds int
	LoadAtlasSeconds     int
	AllowAnonymous       bool
}

// JoinRequest identifies a joining client: an identity token, or a display name for anonymous play.
type JoinRequest struct {
	Token string
	Name  string
}

// Participant is the result of a successful join.
type Participant struct {
	Code      string
	Name      string
	Anonymous bool
	UserID    uuid.UUID
	Secret    string
}

// ParametersPatch holds the parameters to change; nil fields are left as they are.
type ParametersPatch struct {
	Atlas             *string `json:"atlas"`
	RegionsNumber     *int    `json:"regionsNumber"`
	DurationPerRegion *int    `json:"durationPerRegion"`
	GameoverOnError   *bool   `json:"gameoverOnError"`
}

// GuessRequest is a multiplayer guess. Token authenticates registered players, Secret anonymous ones.
type GuessRequest struct {
	UserName string
	Token    string
	Secret   string
	Voxel    []int
	MM       []float64
}

// GuessResult is returned to the guessing player.
type GuessResult struct {
	IsCorrect      bool `json:"isCorrect"`
	ScoreIncrement int  `json:"scoreIncrement"`
	TotalScore     int  `json:"totalScore"`
}

// CreateResult is returned by CreateMatch.
type CreateResult struct {
	SessionCode string `json:"sessionCode"`
	OwnerToken  string `json:"ownerToken"`
}

// Controller owns every match of the process.
type Controller struct {
	registry *Registry
	store    Store
	results  ResultWriter
	users    UserDirectory
	retry    ResultRetrier
	catalog  *atlas.Catalog
	tokens   *auth.JWTService
	out      Broadcaster
	settings Settings
	logger   *zap.Logger

	now       func() time.Time
	afterFunc func(d time.Duration, f func()) Timer
	rndMu     sync.Mutex
	rnd       *rand.Rand
}

// NewController creates a match controller.
func NewController(registry *Registry, store Store, results ResultWriter, users UserDirectory, catalog *atlas.Catalog, tokens *auth.JWTService, out Broadcaster, settings Settings, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	if settings.DefaultAtlas == "" {
		if list := catalog.List(); len(list) > 0 {
			settings.DefaultAtlas = list[0].ID
		}
	}
	return &Controller{
		registry: registry,
		store:    store,
		results:  results,
		users:    users,
		catalog:  catalog,
		tokens:   tokens,
		out:      out,
		settings: settings,
		logger:   logger,
		now:      time.Now,
		afterFunc: func(d time.Duration, f func()) Timer {
			return time.AfterFunc(d, f)
		},
		rnd: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// SetRetrier routes failed result writes to a retry queue.
func (c *Controller) SetRetrier(r ResultRetrier) {
	c.retry = r
}

func (c *Controller) defaults() models.MatchParameters {
	return models.MatchParameters{
		Atlas:             c.settings.DefaultAtlas,
		RegionsNumber:     c.settings.DefaultRegionsNumber,
		DurationPerRegion: c.settings.DefaultRegionSeconds,
	}
}

// CreateMatch mints a session code and owner token and persists the ownership record.
// The in-memory match is created on first join.
func (c *Controller) CreateMatch(ctx context.Context, ownerID uuid.UUID) (*CreateResult, error) {
	for i := 0; i < codeAttempts; i++ {
		code, err := utils.RandomDigits(codeLength)
		if err != nil {
			return nil, apperror.Internal("failed to generate session code", err)
		}
		if c.registry.Has(code) {
			continue
		}
		exists, err := c.store.MultiExists(ctx, code)
		if err != nil {
			return nil, apperror.Internal("failed to check session code", err)
		}
		if exists {
			continue
		}
		token, err := c.tokens.SignOwner(code, ownerID)
		if err != nil {
			return nil, apperror.Internal("failed to sign owner token", err)
		}
		if err := c.store.CreateMulti(ctx, &models.MultiSession{Code: code, Token: token, OwnerID: ownerID, CreatedAt: c.now()}); err != nil {
			return nil, apperror.Internal("failed to create lobby", err)
		}
		c.logger.Info("lobby created", zap.String("code", code), zap.String("owner_id", ownerID.String()))
		return &CreateResult{SessionCode: code, OwnerToken: token}, nil
	}
	return nil, apperror.Internal("failed to allocate a free session code", nil)
}

// lookup returns the live match for code, creating it when a persisted lobby record exists.
// The record is read under the registry lock so the reaper cannot purge it in between.
func (c *Controller) lookup(ctx context.Context, code string) (*Match, error) {
	if m := c.registry.Get(code); m != nil {
		return m, nil
	}
	var loadErr error
	m := c.registry.Claim(code, func() bool {
		rec, err := c.store.GetMulti(ctx, code)
		if err != nil {
			loadErr = err
			return false
		}
		return rec != nil
	}, func() *Match {
		return newMatch(code, c.defaults(), c.now())
	})
	if loadErr != nil {
		return nil, apperror.Internal("failed to load lobby", loadErr)
	}
	if m == nil {
		return nil, ErrLobbyNotFound
	}
	return m, nil
}

func (c *Controller) identify(ctx context.Context, req JoinRequest) (*Participant, error) {
	if req.Token != "" {
		claims, err := c.tokens.Validate(req.Token)
		if err != nil {
			return nil, ErrBadCredential
		}
		return &Participant{Name: claims.Username, UserID: claims.UserID}, nil
	}
	if !c.settings.AllowAnonymous {
		return nil, ErrAnonymousOff
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, apperror.InvalidInput("token or name is required")
	}
	if utf8.RuneCountInString(name) > maxNameLength {
		return nil, apperror.InvalidInput("name must be at most %d characters", maxNameLength)
	}
	taken, err := c.users.UsernameExists(ctx, name)
	if err != nil {
		return nil, apperror.Internal("failed to check user name", err)
	}
	if taken {
		return nil, ErrRegisteredName
	}
	return &Participant{Name: name, Anonymous: true}, nil
}

// Join adds a participant to the lobby of code. connect opens the participant's push channel and
// fails if one is already open. The new participant gets a welcome and the lobby state; the others
// get player-joined.
func (c *Controller) Join(ctx context.Context, code string, req JoinRequest, connect func(name string) error) (*Participant, error) {
	who, err := c.identify(ctx, req)
	if err != nil {
		return nil, err
	}
	who.Code = code
	m, err := c.lookup(ctx, code)
	if err != nil {
		return nil, err
	}

	var hash []byte
	if who.Anonymous {
		if who.Secret, err = utils.RandomSecret(secretBytes); err != nil {
			return nil, apperror.Internal("failed to mint secret", err)
		}
		if hash, err = utils.HashSecret(who.Secret); err != nil {
			return nil, apperror.Internal("failed to hash secret", err)
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ended {
		return nil, ErrLobbyNotFound
	}
	key := nameKey(who.Name)
	p := m.players[key]
	created := false
	switch {
	case p == nil && m.started:
		return nil, ErrAlreadyStarted
	case p == nil:
		p = &player{name: who.Name, anonymous: who.Anonymous, userID: who.UserID, secretHash: hash, answered: make(map[int]bool)}
		m.players[key] = p
		created = true
	case p.connected, p.anonymous, who.Anonymous, p.userID != who.UserID:
		return nil, ErrNameTaken
	}
	if err := connect(who.Name); err != nil {
		if created {
			delete(m.players, key)
		}
		return nil, ErrNameTaken
	}
	p.connected = true
	m.touch(c.now())

	c.out.Send(code, who.Name, realtime.Welcome{Code: code, UserName: who.Name, Anonymous: who.Anonymous, Secret: who.Secret})
	c.out.Send(code, who.Name, realtime.LobbyState{Code: code, Players: m.rosterLocked(), Parameters: m.params, Started: m.started})
	for _, name := range m.rosterLocked() {
		if name != who.Name {
			c.out.Send(code, name, realtime.PlayerJoined{UserName: who.Name})
		}
	}
	c.logger.Info("participant joined", zap.String("code", code), zap.String("user", who.Name), zap.Bool("anonymous", who.Anonymous))
	return who, nil
}

// Leave handles a closed push channel. Before launch and for anonymous participants the player is
// forgotten and the name freed; registered players of a running match keep their stats for the
// final result.
func (c *Controller) Leave(code, name string) {
	m := c.registry.Get(code)
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := nameKey(name)
	p := m.players[key]
	if m.ended || p == nil || !p.connected {
		return
	}
	if p.anonymous || !m.started {
		delete(m.players, key)
	} else {
		p.connected = false
	}
	c.out.Broadcast(code, realtime.PlayerLeft{UserName: name})
	c.logger.Info("participant left", zap.String("code", code), zap.String("user", name))
}

func (c *Controller) verifyOwner(ctx context.Context, code, token string) error {
	rec, err := c.store.GetMulti(ctx, code)
	if err != nil {
		return apperror.Internal("failed to load lobby", err)
	}
	if rec == nil {
		return ErrLobbyNotFound
	}
	if token == "" || subtle.ConstantTimeCompare([]byte(rec.Token), []byte(token)) != 1 {
		return ErrBadOwnerToken
	}
	claims, err := c.tokens.ValidateOwner(token)
	if err != nil || claims.Code != code || claims.OwnerID != rec.OwnerID {
		return ErrBadOwnerToken
	}
	return nil
}

// UpdateParameters merges patch into the lobby parameters. Changes after launch are rejected.
func (c *Controller) UpdateParameters(ctx context.Context, code, ownerToken string, patch ParametersPatch) (*models.MatchParameters, error) {
	if err := c.verifyOwner(ctx, code, ownerToken); err != nil {
		return nil, err
	}
	if patch.Atlas != nil {
		if _, ok := c.catalog.Get(*patch.Atlas); !ok {
			return nil, apperror.InvalidInput("unknown atlas %q", *patch.Atlas)
		}
	}
	if patch.RegionsNumber != nil && (*patch.RegionsNumber < 1 || *patch.RegionsNumber > maxRegions) {
		return nil, apperror.InvalidInput("regionsNumber must be between 1 and %d", maxRegions)
	}
	if patch.DurationPerRegion != nil && (*patch.DurationPerRegion < 1 || *patch.DurationPerRegion > maxStepDuration) {
		return nil, apperror.InvalidInput("durationPerRegion must be between 1 and %d", maxStepDuration)
	}
	m, err := c.lookup(ctx, code)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ended {
		return nil, ErrLobbyNotFound
	}
	if m.started {
		return nil, ErrAlreadyStarted
	}
	if patch.Atlas != nil {
		m.params.Atlas = *patch.Atlas
	}
	if patch.RegionsNumber != nil {
		m.params.RegionsNumber = *patch.RegionsNumber
	}
	if patch.DurationPerRegion != nil {
		m.params.DurationPerRegion = *patch.DurationPerRegion
	}
	if patch.GameoverOnError != nil {
		m.params.GameoverOnError = *patch.GameoverOnError
	}
	m.touch(c.now())
	params := m.params
	c.out.Broadcast(code, realtime.ParametersUpdated{Parameters: params})
	return &params, nil
}

// Launch scripts the match and starts the command loop. It needs at least two connected participants.
func (c *Controller) Launch(ctx context.Context, code, ownerToken string) error {
	if err := c.verifyOwner(ctx, code, ownerToken); err != nil {
		return err
	}
	m := c.registry.Get(code)
	if m == nil {
		return ErrNotEnoughPlayers
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ended {
		return ErrLobbyNotFound
	}
	if m.started {
		return ErrAlreadyStarted
	}
	roster := m.rosterLocked()
	if len(roster) < 2 {
		return ErrNotEnoughPlayers
	}
	a, ok := c.catalog.Get(m.params.Atlas)
	if !ok {
		return apperror.InvalidInput("unknown atlas %q", m.params.Atlas)
	}
	if m.params.RegionsNumber < 1 || m.params.DurationPerRegion < 1 {
		return apperror.InvalidInput("regionsNumber and durationPerRegion must be positive")
	}

	c.rndMu.Lock()
	m.steps = buildSteps(a, m.params, c.settings.LoadAtlasSeconds, c.rnd)
	c.rndMu.Unlock()
	now := c.now()
	m.atlas = a
	m.started = true
	m.startedAt = now
	m.index = 0
	m.touch(now)

	c.out.Broadcast(code, realtime.GameStart{StartedAt: now, Steps: len(m.steps), Players: roster})
	c.logger.Info("match launched", zap.String("code", code), zap.Int("players", len(roster)), zap.Int("steps", len(m.steps)))
	c.dispatchLocked(m)
	return nil
}

// dispatchLocked broadcasts the current step and score table and arms the step deadline.
// Past the last step it sends game-end to every participant and reports true.
func (c *Controller) dispatchLocked(m *Match) bool {
	if m.index >= len(m.steps) {
		best := m.maxScoreLocked()
		scores := m.scoresLocked()
		for _, p := range m.players {
			if !p.connected {
				continue
			}
			c.out.Send(m.Code, p.name, realtime.GameEnd{
				Score:    p.score,
				MaxScore: best,
				YouWon:   best > 0 && p.score == best,
				Scores:   scores,
			})
		}
		return true
	}

	step := m.steps[m.index]
	m.stepStarted = c.now()
	cmd := realtime.Command{Index: m.index, Kind: step.Kind, Duration: step.Duration, Atlas: step.Atlas}
	switch step.Kind {
	case StepLoadAtlas:
		cmd.ColorLUT = step.ColorLUT
		cmd.Regions = make(map[int]string, len(m.atlas.Regions))
		for _, r := range m.atlas.Regions {
			cmd.Regions[r] = m.atlas.Names[r]
		}
	case StepGuess:
		cmd.RegionID = step.RegionID
		cmd.RegionName = m.atlas.Names[step.RegionID]
	}
	c.out.Broadcast(m.Code, cmd)
	c.out.Broadcast(m.Code, realtime.ScoreTable{Scores: m.scoresLocked()})

	m.timerSeq++
	seq := m.timerSeq
	m.timer = c.afterFunc(time.Duration(step.Duration)*time.Second, func() { c.advance(m, seq) })
	return false
}

// advance runs when a step deadline fires. A stale timer (match ended or re-armed) does nothing.
func (c *Controller) advance(m *Match, seq int) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("command dispatch panicked", zap.String("code", m.Code), zap.Any("panic", r))
		}
	}()
	done := func() bool {
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.ended || seq != m.timerSeq {
			return false
		}
		m.index++
		return c.dispatchLocked(m)
	}()
	if done {
		c.teardown(context.Background(), m, models.QuitCompleted)
	}
}

// ValidateGuess scores a guess for the current step. Each participant may answer a step once.
func (c *Controller) ValidateGuess(ctx context.Context, code string, req GuessRequest) (*GuessResult, error) {
	m := c.registry.Get(code)
	if m == nil {
		return nil, ErrLobbyNotFound
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ended {
		return nil, ErrLobbyNotFound
	}
	p := m.players[nameKey(req.UserName)]
	if p == nil || !c.credentialOK(p, req) {
		return nil, ErrBadCredential
	}
	if !m.started || m.index >= len(m.steps) || m.steps[m.index].Kind != StepGuess {
		return nil, ErrNotGuessStep
	}
	if p.eliminated {
		return nil, ErrEliminated
	}
	if p.answered[m.index] {
		return nil, ErrAlreadyAnswered
	}
	if len(req.Voxel) != 3 || len(req.MM) != 3 {
		return nil, apperror.InvalidCoordinates("coordinates need 3 mm and 3 voxel components")
	}
	value, ok := m.atlas.Volume.At(req.Voxel[0], req.Voxel[1], req.Voxel[2])
	if !ok {
		return nil, apperror.InvalidCoordinates("voxel %v outside volume %v", req.Voxel, m.atlas.Volume.Dims)
	}

	step := m.steps[m.index]
	now := c.now()
	elapsed := now.Sub(m.stepStarted)
	correct := value == step.RegionID
	inc := 0
	if correct {
		inc = scoring.MaxPointsPerRegion + scoring.TimeBonus(time.Duration(step.Duration)*time.Second, elapsed)
	} else {
		mm := atlas.Point{req.MM[0], req.MM[1], req.MM[2]}
		inc = scoring.PartialCredit(mm, m.atlas.Centers[step.RegionID])
	}

	p.answered[m.index] = true
	p.attempts++
	p.score += inc
	p.durations = append(p.durations, elapsed.Seconds())
	if correct {
		p.successes++
		p.correctDurations = append(p.correctDurations, elapsed.Seconds())
	} else if m.params.GameoverOnError {
		p.eliminated = true
	}
	m.touch(now)

	c.out.Broadcast(code, realtime.ScoreUpdate{
		UserName:       p.name,
		IsCorrect:      correct,
		ScoreIncrement: inc,
		TotalScore:     p.score,
		Eliminated:     p.eliminated,
	})
	return &GuessResult{IsCorrect: correct, ScoreIncrement: inc, TotalScore: p.score}, nil
}

func (c *Controller) credentialOK(p *player, req GuessRequest) bool {
	if p.anonymous {
		return utils.CheckSecret(p.secretHash, req.Secret)
	}
	claims, err := c.tokens.Validate(req.Token)
	return err == nil && claims.UserID == p.userID && claims.Username == p.name
}

// Teardown ends the match for code. It is safe to call more than once and concurrently.
func (c *Controller) Teardown(ctx context.Context, code, reason string) {
	if m := c.registry.Get(code); m != nil {
		c.teardown(ctx, m, reason)
	}
}

// teardown saves results for registered players, deletes the lobby record, closes every channel and
// forgets the match. Result write failures are logged per player and do not stop the others.
func (c *Controller) teardown(ctx context.Context, m *Match, reason string) {
	m.mu.Lock()
	if m.ended {
		m.mu.Unlock()
		return
	}
	if reason != models.QuitCompleted {
		c.out.Broadcast(m.Code, realtime.GameAborted{Reason: reason})
	}
	m.ended = true
	m.timerSeq++
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	results := m.resultsLocked(reason, c.now())
	m.mu.Unlock()

	for _, f := range results {
		if err := c.results.CreateFinished(ctx, f); err != nil {
			c.logger.Error("save multiplayer result failed",
				zap.String("code", m.Code), zap.String("user_id", f.UserID.String()), zap.Error(err))
			if c.retry != nil {
				if err := c.retry.EnqueueResult(ctx, f); err != nil {
					c.logger.Error("enqueue result retry failed", zap.String("code", m.Code), zap.Error(err))
				}
			}
		}
	}
	if err := c.store.DeleteMulti(ctx, m.Code); err != nil {
		c.logger.Error("delete lobby record failed", zap.String("code", m.Code), zap.Error(err))
	}
	c.out.CloseSession(m.Code)
	c.registry.Remove(m.Code, m)
	c.logger.Info("match closed", zap.String("code", m.Code), zap.String("reason", reason), zap.Int("results", len(results)))
}

// Shutdown ends every match of the process, saving results for started ones.
func (c *Controller) Shutdown(ctx context.Context) {
	for _, m := range c.registry.Snapshot() {
		c.teardown(ctx, m, models.QuitShutdown)
	}
}

// Matches returns the number of live matches.
func (c *Controller) Matches() int {
	return c.registry.Len()
}

// State returns the lobby snapshot of code.
func (c *Controller) State(ctx context.Context, code string) (*realtime.LobbyState, error) {
	m, err := c.lookup(ctx, code)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ended {
		return nil, ErrLobbyNotFound
	}
	return &realtime.LobbyState{Code: code, Players: m.rosterLocked(), Parameters: m.params, Started: m.started}, nil
}
