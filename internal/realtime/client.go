package realtime

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// NewUpgrader returns a WebSocket upgrader that accepts the given origins ("*" or empty allows all).
func NewUpgrader(allowed map[string]bool) *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return len(allowed) == 0 || allowed["*"] || origin == "" || allowed[origin]
		},
	}
}

// Client is one participant channel in a match.
type Client struct {
	Code string
	Name string

	hub       *Hub
	conn      *websocket.Conn
	send      chan Message
	closeOnce sync.Once
	logger    *zap.Logger
}

// NewClient creates a channel for (code, name). conn may be nil for channels that are only read in-process.
func NewClient(hub *Hub, conn *websocket.Conn, code, name string, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		Code:   code,
		Name:   name,
		hub:    hub,
		conn:   conn,
		send:   make(chan Message, sendBuffer),
		logger: logger,
	}
}

// Messages exposes the outbound queue.
func (c *Client) Messages() <-chan Message {
	return c.send
}

// deliver enqueues msg without blocking. Callers hold the hub lock, so the channel is open.
func (c *Client) deliver(msg Message) {
	select {
	case c.send <- msg:
	default:
		c.logger.Warn("send buffer full, dropping event", zap.String("code", c.Code), zap.String("user", c.Name), zap.String("event", msg.Event))
	}
}

func (c *Client) close() {
	c.closeOnce.Do(func() { close(c.send) })
}

// Run starts the write pump and blocks reading until the connection drops. Inbound messages go
// to onMessage. When reading stops the client is unregistered and onDisconnect runs if it was
// still registered.
func (c *Client) Run(onMessage func(Message), onDisconnect func()) {
	go c.writePump()
	c.readPump(onMessage)
	if c.hub.Unregister(c) && onDisconnect != nil {
		onDisconnect()
	}
}

func (c *Client) readPump(onMessage func(Message)) {
	defer func() { _ = c.conn.Close() }()

	c.conn.SetReadLimit(65536)
	_ = c.conn.SetReadDeadline(time.Now().Add(PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(PongWait))
	})

	for {
		var msg Message
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Debug("websocket read", zap.String("code", c.Code), zap.String("user", c.Name), zap.Error(err))
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait))
		if onMessage != nil {
			onMessage(msg)
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// SendError writes a one-off error frame before the client is registered.
func SendError(conn *websocket.Conn, reason string) {
	data, _ := json.Marshal(map[string]string{"error": reason})
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	_ = conn.WriteJSON(Message{Event: "error", Data: data})
	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason))
	_ = conn.Close()
}
