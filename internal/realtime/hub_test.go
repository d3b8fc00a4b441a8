package realtime

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingMirror struct {
	mu   sync.Mutex
	msgs []Message
}

func (r *recordingMirror) PublishMatchEvent(_ string, msg Message) {
	r.mu.Lock()
	r.msgs = append(r.msgs, msg)
	r.mu.Unlock()
}

func drain(c *Client) []Message {
	var out []Message
	for {
		select {
		case m, ok := <-c.Messages():
			if !ok {
				return out
			}
			out = append(out, m)
		default:
			return out
		}
	}
}

func TestHub_RegisterRejectsDuplicateName(t *testing.T) {
	h := NewHub(nil, nil)
	a := NewClient(h, nil, "12345678", "alice", nil)
	require.NoError(t, h.Register(a))
	assert.ErrorIs(t, h.Register(NewClient(h, nil, "12345678", "alice", nil)), ErrAlreadyConnected)
	require.NoError(t, h.Register(NewClient(h, nil, "87654321", "alice", nil)))
	assert.True(t, h.Connected("12345678", "alice"))

	require.True(t, h.Unregister(a))
	assert.False(t, h.Connected("12345678", "alice"))
	require.NoError(t, h.Register(NewClient(h, nil, "12345678", "alice", nil)), "name is free again")
}

func TestHub_BroadcastAndSend(t *testing.T) {
	mirror := &recordingMirror{}
	h := NewHub(nil, mirror)
	a := NewClient(h, nil, "1", "alice", nil)
	b := NewClient(h, nil, "1", "bob", nil)
	other := NewClient(h, nil, "2", "carol", nil)
	for _, c := range []*Client{a, b, other} {
		require.NoError(t, h.Register(c))
	}
	assert.Equal(t, []string{"alice", "bob"}, h.Participants("1"))

	h.Broadcast("1", PlayerJoined{UserName: "bob"})
	h.Broadcast("1", ScoreUpdate{UserName: "alice", IsCorrect: true, ScoreIncrement: 55, TotalScore: 55})
	h.Send("1", "alice", Welcome{Code: "1", UserName: "alice"})

	am := drain(a)
	require.Len(t, am, 3)
	assert.Equal(t, []string{EventPlayerJoined, EventScoreUpdate, EventWelcome}, []string{am[0].Event, am[1].Event, am[2].Event})
	bm := drain(b)
	require.Len(t, bm, 2)
	ev, err := Decode(bm[1])
	require.NoError(t, err)
	upd, ok := ev.(*ScoreUpdate)
	require.True(t, ok)
	assert.Equal(t, 55, upd.TotalScore)
	assert.Empty(t, drain(other))

	assert.Len(t, mirror.msgs, 2, "only broadcasts are mirrored")
}

func TestHub_CloseSession(t *testing.T) {
	h := NewHub(nil, nil)
	a := NewClient(h, nil, "1", "alice", nil)
	require.NoError(t, h.Register(a))
	h.CloseSession("1")

	_, ok := <-a.Messages()
	assert.False(t, ok, "channel closed")
	assert.False(t, h.Unregister(a))
	h.Broadcast("1", GameAborted{Reason: "inactivity"})
	h.CloseSession("1")
}

func TestDecode_UnknownEvent(t *testing.T) {
	_, err := Decode(Message{Event: "chat", Data: []byte(`{}`)})
	assert.Error(t, err)
}

func TestClient_RunOverWebSocket(t *testing.T) {
	h := NewHub(nil, nil)
	upgrader := NewUpgrader(nil)
	received := make(chan Message, 1)
	disconnected := make(chan struct{})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		c := NewClient(h, conn, "1", "alice", nil)
		if err := h.Register(c); err != nil {
			SendError(conn, err.Error())
			return
		}
		c.Run(func(m Message) { received <- m }, func() { close(disconnected) })
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return h.Connected("1", "alice") }, time.Second, 10*time.Millisecond)
	h.Broadcast("1", PlayerJoined{UserName: "bob"})

	var msg Message
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, EventPlayerJoined, msg.Event)

	require.NoError(t, conn.WriteJSON(Message{Event: "guess", Data: []byte(`{"voxel":[1,2,3]}`)}))
	select {
	case m := <-received:
		assert.Equal(t, "guess", m.Event)
	case <-time.After(2 * time.Second):
		t.Fatal("inbound message not delivered")
	}

	dup, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	require.NoError(t, dup.SetReadDeadline(time.Now().Add(2*time.Second)))
	require.NoError(t, dup.ReadJSON(&msg))
	assert.Equal(t, "error", msg.Event)
	_ = dup.Close()

	_ = conn.Close()
	select {
	case <-disconnected:
	case <-time.After(2 * time.Second):
		t.Fatal("disconnect handler not called")
	}
	assert.False(t, h.Connected("1", "alice"))
}
