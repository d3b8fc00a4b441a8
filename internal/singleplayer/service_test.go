package singleplayer

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brainquiz/backend/internal/atlas"
	"github.com/brainquiz/backend/internal/auth"
	"github.com/brainquiz/backend/internal/models"
	"github.com/brainquiz/backend/internal/storage/memstore"
	"github.com/brainquiz/backend/pkg/apperror"
)

const testRegions = 20

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// testAtlas is a 20x1x1 volume where voxel (r-1, 0, 0) holds region r, centered at (10r, 0, 0) mm.
func testAtlas(t *testing.T) *atlas.Catalog {
	t.Helper()
	data := make([]int32, testRegions)
	labels := make(map[string]string, testRegions)
	centers := make(map[int][]atlas.Point, testRegions)
	for i := 0; i < testRegions; i++ {
		r := i + 1
		data[i] = int32(r)
		labels[strconv.Itoa(r)] = "region-" + strconv.Itoa(r)
		centers[r] = []atlas.Point{{float64(10 * r), 0, 0}}
	}
	vol, err := atlas.NewVolume([3]int{testRegions, 1, 1}, data)
	require.NoError(t, err)
	a, err := atlas.Build("test", labels, centers, vol)
	require.NoError(t, err)
	cat := atlas.NewCatalog(nil, nil)
	cat.Add(a)
	return cat
}

func hit(region int) Coordinates {
	return Coordinates{MM: []float64{float64(10 * region), 0, 0}, Voxel: []int{region - 1, 0, 0}}
}

// miss clicks the voxel of another region, offset mm millimeters from the target's center.
func miss(region int, offset float64) Coordinates {
	other := region%testRegions + 1
	return Coordinates{MM: []float64{float64(10*region) + offset, 0, 0}, Voxel: []int{other - 1, 0, 0}}
}

type fixture struct {
	svc   *Service
	store *memstore.Store
	clock *fakeClock
	user  uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := memstore.New()
	clock := &fakeClock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	svc := NewService(store, store, testAtlas(t), auth.NewJWTService("test-secret", 1, time.Hour), 100*time.Second, nil)
	svc.now = clock.Now
	return &fixture{svc: svc, store: store, clock: clock, user: uuid.New()}
}

func (f *fixture) start(t *testing.T, mode models.Mode) *StartResult {
	t.Helper()
	res, err := f.svc.StartSession(context.Background(), f.user, mode, "test")
	require.NoError(t, err)
	return res
}

func (f *fixture) next(t *testing.T, s *StartResult) *NextRegionResult {
	t.Helper()
	res, err := f.svc.GetNextRegion(context.Background(), s.SessionID, s.SessionToken)
	require.NoError(t, err)
	return res
}

func TestStartSession_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := []struct {
		name  string
		mode  models.Mode
		atlas string
	}{
		{"missing mode", "", "test"},
		{"missing atlas", models.ModeStreak, ""},
		{"unknown mode", "marathon", "test"},
		{"multiplayer mode", models.ModeMultiplayer, "test"},
		{"unknown atlas", models.ModeStreak, "nope"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.StartSession(ctx, f.user, tc.mode, tc.atlas)
			assert.Equal(t, apperror.KindInvalidInput, apperror.KindOf(err))
		})
	}

	res := f.start(t, models.ModePractice)
	sess, err := f.store.GetSession(ctx, res.SessionID)
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.Equal(t, res.SessionToken, sess.Token)
	assert.Equal(t, 0, sess.Score)
}

func TestAuthorize_Forbidden(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.start(t, models.ModePractice)
	other := f.start(t, models.ModePractice)

	_, err := f.svc.GetNextRegion(ctx, s.SessionID, "garbage")
	assert.ErrorIs(t, err, ErrInvalidSession)
	_, err = f.svc.GetNextRegion(ctx, s.SessionID, other.SessionToken)
	assert.ErrorIs(t, err, ErrInvalidSession)
	_, err = f.svc.GetNextRegion(ctx, uuid.New(), s.SessionToken)
	assert.Equal(t, apperror.KindForbidden, apperror.KindOf(err))
	_, err = f.svc.ManualClose(ctx, s.SessionID, "")
	assert.Equal(t, apperror.KindForbidden, apperror.KindOf(err))
}

func TestStreak_WrongFirstGuessEndsGame(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.start(t, models.ModeStreak)
	n := f.next(t, s)
	require.True(t, n.NewRegion)

	res, err := f.svc.ValidateGuess(ctx, s.SessionID, s.SessionToken, miss(n.RegionID, 0))
	require.NoError(t, err)
	assert.False(t, res.IsCorrect)
	assert.True(t, res.Endgame)
	assert.Equal(t, 0, res.FinalScore)
	assert.Equal(t, 0, res.ScoreIncrement)
	require.NotNil(t, res.End)
	assert.Equal(t, models.QuitStreakEnded, res.End.QuitReason)

	sess, err := f.store.GetSession(ctx, s.SessionID)
	require.NoError(t, err)
	assert.Nil(t, sess)
	rows, err := f.store.ListProgress(ctx, s.SessionID)
	require.NoError(t, err)
	assert.Empty(t, rows)

	finished := f.store.Finished()
	require.Len(t, finished, 1)
	assert.Equal(t, s.SessionID.String(), finished[0].SessionRef)
	assert.Equal(t, 1, finished[0].Attempts)
	assert.Equal(t, 0, finished[0].Correct)
	assert.Equal(t, 1, finished[0].Incorrect)
	assert.Nil(t, finished[0].MinTimeCorrect)
}

func TestStreak_CorrectGuessesCount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.start(t, models.ModeStreak)

	for i := 1; i <= 3; i++ {
		n := f.next(t, s)
		res, err := f.svc.ValidateGuess(ctx, s.SessionID, s.SessionToken, hit(n.RegionID))
		require.NoError(t, err)
		assert.True(t, res.IsCorrect)
		assert.Equal(t, 1, res.ScoreIncrement)
		assert.Equal(t, i, res.FinalScore)
		assert.False(t, res.Endgame)
	}
}

func TestGetNextRegion_IdempotentWhileActive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.start(t, models.ModePractice)

	first := f.next(t, s)
	second := f.next(t, s)
	assert.True(t, first.NewRegion)
	assert.False(t, second.NewRegion)
	assert.Equal(t, first.RegionID, second.RegionID)

	rows, err := f.store.ListProgress(ctx, s.SessionID)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestGetNextRegion_ConcurrentCallsKeepOneActive(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.start(t, models.ModePractice)

	var wg sync.WaitGroup
	regions := make([]int, 16)
	for i := range regions {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := f.svc.GetNextRegion(ctx, s.SessionID, s.SessionToken)
			if err == nil {
				regions[i] = res.RegionID
			}
		}(i)
	}
	wg.Wait()

	rows, err := f.store.ListProgress(ctx, s.SessionID)
	require.NoError(t, err)
	active := 0
	for _, p := range rows {
		if p.IsActive {
			active++
		}
	}
	assert.Equal(t, 1, active)
	assert.Len(t, rows, 1)
	for _, r := range regions {
		assert.Equal(t, rows[0].RegionID, r)
	}
	assert.Equal(t, 0, f.svc.locks.size())
}

func TestTimeAttack_Scoring(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.start(t, models.ModeTimeAttack)

	n := f.next(t, s)
	res, err := f.svc.ValidateGuess(ctx, s.SessionID, s.SessionToken, hit(n.RegionID))
	require.NoError(t, err)
	assert.True(t, res.IsCorrect)
	assert.Equal(t, 50, res.ScoreIncrement)

	n = f.next(t, s)
	require.True(t, n.NewRegion)
	res, err = f.svc.ValidateGuess(ctx, s.SessionID, s.SessionToken, miss(n.RegionID, 20))
	require.NoError(t, err)
	assert.False(t, res.IsCorrect)
	assert.Equal(t, 24, res.ScoreIncrement)
	assert.Equal(t, 74, res.FinalScore)

	n = f.next(t, s)
	require.True(t, n.NewRegion, "a miss consumes the region in time-attack")
	res, err = f.svc.ValidateGuess(ctx, s.SessionID, s.SessionToken, miss(n.RegionID, 150))
	require.NoError(t, err)
	assert.Equal(t, 0, res.ScoreIncrement)
}

func TestTimeAttack_NextRegionAfterLimitEndsGame(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.start(t, models.ModeTimeAttack)
	f.next(t, s)

	f.clock.Advance(100 * time.Second)
	res := f.next(t, s)
	assert.True(t, res.Endgame)
	assert.Zero(t, res.RegionID)
	require.NotNil(t, res.End)
	assert.Equal(t, models.QuitTimeout, res.End.QuitReason)

	sess, err := f.store.GetSession(ctx, s.SessionID)
	require.NoError(t, err)
	assert.Nil(t, sess)
	require.Len(t, f.store.Finished(), 1)
}

func TestTimeAttack_GuessAfterLimitScoresNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.start(t, models.ModeTimeAttack)
	n := f.next(t, s)

	f.clock.Advance(101 * time.Second)
	res, err := f.svc.ValidateGuess(ctx, s.SessionID, s.SessionToken, hit(n.RegionID))
	require.NoError(t, err)
	assert.True(t, res.IsCorrect)
	assert.Equal(t, 0, res.ScoreIncrement)
	assert.True(t, res.Endgame)
	assert.Equal(t, models.QuitTimeout, res.End.QuitReason)
}

func TestTimeAttack_AllRegionsWithTimeLeft(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.start(t, models.ModeTimeAttack)

	seen := make(map[int]bool)
	var last *GuessResult
	for i := 0; i < 18; i++ {
		n := f.next(t, s)
		require.True(t, n.NewRegion)
		assert.False(t, seen[n.RegionID], "correctly answered regions are not handed out again")
		seen[n.RegionID] = true

		f.clock.Advance(5 * time.Second)
		if i == 17 {
			rows, err := f.store.ListProgress(ctx, s.SessionID)
			require.NoError(t, err)
			assert.Len(t, rows, 18)
		}
		res, err := f.svc.ValidateGuess(ctx, s.SessionID, s.SessionToken, hit(n.RegionID))
		require.NoError(t, err)
		require.True(t, res.IsCorrect)
		if i < 17 {
			require.False(t, res.Endgame)
		}
		last = res
	}

	require.True(t, last.Endgame)
	assert.Equal(t, 18*50+10, last.FinalScore)
	assert.Equal(t, models.QuitCompleted, last.End.QuitReason)

	finished := f.store.Finished()
	require.Len(t, finished, 1)
	fs := finished[0]
	assert.Equal(t, 910, fs.Score)
	assert.Equal(t, 18, fs.Attempts)
	assert.Equal(t, 18, fs.Correct)
	assert.Equal(t, 0, fs.Incorrect)
	require.NotNil(t, fs.AvgTimeCorrect)
	assert.InDelta(t, 5.0, *fs.AvgTimeCorrect, 1e-9)
	assert.InDelta(t, 90.0, fs.DurationSeconds, 1e-9)
}

func TestPractice_HighlightAfterThreeMisses(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.start(t, models.ModePractice)
	n := f.next(t, s)

	for i := 1; i <= 3; i++ {
		res, err := f.svc.ValidateGuess(ctx, s.SessionID, s.SessionToken, miss(n.RegionID, 0))
		require.NoError(t, err)
		assert.False(t, res.IsCorrect)
		assert.Equal(t, i >= 3, res.PerformHighlight, "attempt %d", i)
		assert.Equal(t, 0, res.ScoreIncrement)
		assert.False(t, res.Endgame)
	}

	again := f.next(t, s)
	assert.False(t, again.NewRegion, "region stays active until found")
	assert.Equal(t, n.RegionID, again.RegionID)

	res, err := f.svc.ValidateGuess(ctx, s.SessionID, s.SessionToken, hit(n.RegionID))
	require.NoError(t, err)
	assert.True(t, res.IsCorrect)
	assert.False(t, res.PerformHighlight)

	fresh := f.next(t, s)
	assert.True(t, fresh.NewRegion)

	end, err := f.svc.ManualClose(ctx, s.SessionID, s.SessionToken)
	require.NoError(t, err)
	assert.Equal(t, models.QuitManual, end.QuitReason)
	assert.Equal(t, 4, end.Attempts)
	assert.Equal(t, 1, end.Correct)
	assert.Equal(t, 3, end.Incorrect)
}

func TestValidateGuess_Rejections(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.start(t, models.ModePractice)

	_, err := f.svc.ValidateGuess(ctx, s.SessionID, s.SessionToken, hit(1))
	assert.ErrorIs(t, err, ErrNoActiveRegion)

	f.next(t, s)
	cases := []struct {
		name   string
		coords Coordinates
	}{
		{"short mm", Coordinates{MM: []float64{1, 2}, Voxel: []int{0, 0, 0}}},
		{"long voxel", Coordinates{MM: []float64{1, 2, 3}, Voxel: []int{0, 0, 0, 0}}},
		{"out of bounds", Coordinates{MM: []float64{1, 2, 3}, Voxel: []int{testRegions, 0, 0}}},
		{"negative", Coordinates{MM: []float64{1, 2, 3}, Voxel: []int{0, -1, 0}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.ValidateGuess(ctx, s.SessionID, s.SessionToken, tc.coords)
			assert.Equal(t, apperror.KindInvalidCoordinates, apperror.KindOf(err))
		})
	}

	rows, err := f.store.ListProgress(ctx, s.SessionID)
	require.NoError(t, err)
	assert.Equal(t, 0, rows[0].Attempts, "rejected guesses do not count")
}

func TestFinalize_Idempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.start(t, models.ModeStreak)
	f.next(t, s)

	end, err := f.svc.ManualClose(ctx, s.SessionID, s.SessionToken)
	require.NoError(t, err)
	require.NotNil(t, end)

	again, err := f.svc.Finalize(ctx, s.SessionID, models.QuitManual)
	require.NoError(t, err)
	assert.Nil(t, again)
	assert.Len(t, f.store.Finished(), 1)

	_, err = f.svc.ManualClose(ctx, s.SessionID, s.SessionToken)
	assert.Equal(t, apperror.KindForbidden, apperror.KindOf(err))
}

// brokenResults fails every result write.
type brokenResults struct {
	*memstore.Store
	err error
}

func (b *brokenResults) CreateFinished(context.Context, *models.FinishedSession) error {
	return b.err
}

func TestFinalize_ResultWriteFailureKeepsSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	s := f.start(t, models.ModePractice)
	f.svc.results = &brokenResults{Store: f.store, err: errors.New("disk full")}

	_, err := f.svc.ManualClose(ctx, s.SessionID, s.SessionToken)
	assert.Equal(t, apperror.KindInternal, apperror.KindOf(err))

	sess, err := f.store.GetSession(ctx, s.SessionID)
	require.NoError(t, err)
	assert.NotNil(t, sess)
	assert.Empty(t, f.store.Finished())

	f.svc.results = f.store
	_, err = f.svc.ManualClose(ctx, s.SessionID, s.SessionToken)
	require.NoError(t, err)
	assert.Len(t, f.store.Finished(), 1)
}
