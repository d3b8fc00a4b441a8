package multiplayer

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brainquiz/backend/internal/middleware"
	"github.com/brainquiz/backend/internal/realtime"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   string          `json:"error"`
}

type testServer struct {
	*fixture
	srv *httptest.Server
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	f := newFixture(t)
	r := gin.New()
	NewHandler(f.ctrl, f.hub, realtime.NewUpgrader(nil), nil).
		RegisterRoutes(r, middleware.JWT(f.tokens), middleware.RateLimit(nil))
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return &testServer{fixture: f, srv: srv}
}

func (s *testServer) do(t *testing.T, method, path, bearer string, body interface{}) (int, envelope) {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, s.srv.URL+path, rd)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var env envelope
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&env))
	return resp.StatusCode, env
}

func (s *testServer) dial(t *testing.T, code string, query url.Values) *websocket.Conn {
	t.Helper()
	u := "ws" + strings.TrimPrefix(s.srv.URL, "http") + "/multiplayer/" + code + "/ws?" + query.Encode()
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// next reads frames until one named event arrives.
func next(t *testing.T, conn *websocket.Conn, event string) realtime.Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		var msg realtime.Message
		require.NoError(t, conn.ReadJSON(&msg))
		if msg.Event != event {
			continue
		}
		ev, err := realtime.Decode(msg)
		require.NoError(t, err)
		return ev
	}
}

func TestHandler_MatchOverHTTPAndWebSocket(t *testing.T) {
	s := newTestServer(t)

	ownerTok, err := s.tokens.Generate(s.owner, "olga")
	require.NoError(t, err)

	status, _ := s.do(t, http.MethodPost, "/multiplayer/create", "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, env := s.do(t, http.MethodPost, "/multiplayer/create", ownerTok, nil)
	require.Equal(t, http.StatusCreated, status)
	var created CreateResult
	require.NoError(t, json.Unmarshal(env.Data, &created))
	code := created.SessionCode

	_, aliceTok := s.identity(t, "alice")
	alice := s.dial(t, code, url.Values{"token": {aliceTok}})
	welcome := next(t, alice, realtime.EventWelcome).(*realtime.Welcome)
	assert.Equal(t, "alice", welcome.UserName)
	assert.False(t, welcome.Anonymous)

	bob := s.dial(t, code, url.Values{"name": {"bob"}})
	bobWelcome := next(t, bob, realtime.EventWelcome).(*realtime.Welcome)
	require.NotEmpty(t, bobWelcome.Secret)
	assert.Equal(t, "bob", next(t, alice, realtime.EventPlayerJoined).(*realtime.PlayerJoined).UserName)

	status, env = s.do(t, http.MethodGet, "/multiplayer/"+code, "", nil)
	require.Equal(t, http.StatusOK, status)
	var state realtime.LobbyState
	require.NoError(t, json.Unmarshal(env.Data, &state))
	assert.Equal(t, []string{"alice", "bob"}, state.Players)

	status, _ = s.do(t, http.MethodPost, "/multiplayer/"+code+"/parameters", "", gin.H{"ownerToken": "nope", "regionsNumber": 2})
	assert.Equal(t, http.StatusForbidden, status)

	status, _ = s.do(t, http.MethodPost, "/multiplayer/"+code+"/parameters", "", gin.H{"ownerToken": created.OwnerToken, "regionsNumber": 2})
	require.Equal(t, http.StatusOK, status)
	updated := next(t, bob, realtime.EventParametersUpdated).(*realtime.ParametersUpdated)
	assert.Equal(t, 2, updated.Parameters.RegionsNumber)

	status, _ = s.do(t, http.MethodPost, "/multiplayer/"+code+"/launch", "", gin.H{"ownerToken": created.OwnerToken})
	require.Equal(t, http.StatusOK, status)
	start := next(t, alice, realtime.EventGameStart).(*realtime.GameStart)
	assert.Equal(t, 3, start.Steps)
	load := next(t, bob, realtime.EventCommand).(*realtime.Command)
	assert.Equal(t, StepLoadAtlas, load.Kind)

	s.timers.fire(t)
	cmd := next(t, bob, realtime.EventCommand).(*realtime.Command)
	require.Equal(t, StepGuess, cmd.Kind)
	voxel, mm := hitVoxel(cmd.RegionID)

	status, _ = s.do(t, http.MethodPost, "/multiplayer/"+code+"/guess", "", gin.H{"userName": "bob", "secret": "wrong", "voxel": voxel, "mm": mm})
	assert.Equal(t, http.StatusForbidden, status)

	status, env = s.do(t, http.MethodPost, "/multiplayer/"+code+"/guess", "", gin.H{"userName": "bob", "secret": bobWelcome.Secret, "voxel": voxel, "mm": mm})
	require.Equal(t, http.StatusOK, status)
	var res GuessResult
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.True(t, res.IsCorrect)
	assert.Positive(t, res.ScoreIncrement)

	update := next(t, alice, realtime.EventScoreUpdate).(*realtime.ScoreUpdate)
	assert.Equal(t, "bob", update.UserName)
	assert.Equal(t, res.TotalScore, update.TotalScore)

	status, _ = s.do(t, http.MethodPost, "/multiplayer/"+code+"/guess", "", gin.H{"userName": "bob", "secret": bobWelcome.Secret, "voxel": voxel, "mm": mm})
	assert.Equal(t, http.StatusConflict, status)

	late := s.dial(t, code, url.Values{"name": {"zed"}})
	require.NoError(t, late.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg realtime.Message
	require.NoError(t, late.ReadJSON(&msg))
	assert.Equal(t, "error", msg.Event)
	assert.Contains(t, string(msg.Data), "already started")
}

func TestHandler_JoinRejections(t *testing.T) {
	s := newTestServer(t)

	status, env := s.do(t, http.MethodGet, "/multiplayer/12345678/ws", "", nil)
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "token or name required", env.Error)

	conn := s.dial(t, "12345678", url.Values{"name": {"bob"}})
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg realtime.Message
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "error", msg.Event)
	assert.Contains(t, string(msg.Data), "lobby not found")

	status, _ = s.do(t, http.MethodGet, "/multiplayer/12345678", "", nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestHandler_DisconnectFreesAnonymousName(t *testing.T) {
	s := newTestServer(t)
	code := s.create(t).SessionCode

	first := s.dial(t, code, url.Values{"name": {"bob"}})
	next(t, first, realtime.EventWelcome)
	require.NoError(t, first.Close())

	require.Eventually(t, func() bool {
		m := s.ctrl.registry.Get(code)
		m.mu.Lock()
		defer m.mu.Unlock()
		return m.players["bob"] == nil
	}, 2*time.Second, 10*time.Millisecond)

	second := s.dial(t, code, url.Values{"name": {"bob"}})
	assert.True(t, next(t, second, realtime.EventWelcome).(*realtime.Welcome).Anonymous)
}
