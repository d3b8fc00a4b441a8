package realtime

import (
	"errors"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	// PingInterval and PongWait are used for heartbeat.
	PingInterval = 30 * time.Second
	PongWait     = 60 * time.Second
	writeWait    = 10 * time.Second
	sendBuffer   = 256
)

// ErrAlreadyConnected is returned when a participant already has an open channel in the match.
var ErrAlreadyConnected = errors.New("participant already connected")

// Publisher mirrors broadcast events outside the process.
type Publisher interface {
	PublishMatchEvent(code string, msg Message)
}

// Hub maintains session code -> participant name -> connection and delivers events.
// Delivery is best-effort: a full or closed channel drops the event.
type Hub struct {
	matches map[string]map[string]*Client
	mu      sync.RWMutex
	logger  *zap.Logger
	mirror  Publisher
}

// NewHub creates a new WebSocket hub. mirror may be nil.
func NewHub(logger *zap.Logger, mirror Publisher) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		matches: make(map[string]map[string]*Client),
		logger:  logger,
		mirror:  mirror,
	}
}

// Register adds a participant channel. A second channel for the same (code, name) is rejected.
func (h *Hub) Register(c *Client) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	m := h.matches[c.Code]
	if m == nil {
		m = make(map[string]*Client)
		h.matches[c.Code] = m
	}
	if _, ok := m[c.Name]; ok {
		return ErrAlreadyConnected
	}
	m[c.Name] = c
	h.logger.Debug("participant connected", zap.String("code", c.Code), zap.String("user", c.Name))
	return nil
}

// Unregister removes c and closes its channel. It reports false if c was not registered,
// e.g. because the match was already closed.
func (h *Hub) Unregister(c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	m := h.matches[c.Code]
	if cur, ok := m[c.Name]; !ok || cur != c {
		return false
	}
	delete(m, c.Name)
	if len(m) == 0 {
		delete(h.matches, c.Code)
	}
	c.close()
	h.logger.Debug("participant disconnected", zap.String("code", c.Code), zap.String("user", c.Name))
	return true
}

// Connected reports whether (code, name) has an open channel.
func (h *Hub) Connected(code, name string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.matches[code][name]
	return ok
}

// Participants returns the connected names of a match, sorted.
func (h *Hub) Participants(code string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.matches[code]))
	for name := range h.matches[code] {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (h *Hub) encode(e Event) (Message, bool) {
	msg, err := Encode(e)
	if err != nil {
		h.logger.Error("encode event", zap.Error(err))
		return Message{}, false
	}
	return msg, true
}

// Send delivers an event to one participant.
func (h *Hub) Send(code, name string, e Event) {
	msg, ok := h.encode(e)
	if !ok {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	if c, ok := h.matches[code][name]; ok {
		c.deliver(msg)
	}
}

// Broadcast delivers an event to every participant of a match and mirrors it.
func (h *Hub) Broadcast(code string, e Event) {
	msg, ok := h.encode(e)
	if !ok {
		return
	}
	h.mu.RLock()
	for _, c := range h.matches[code] {
		c.deliver(msg)
	}
	h.mu.RUnlock()
	if h.mirror != nil {
		h.mirror.PublishMatchEvent(code, msg)
	}
}

// CloseSession closes every channel of a match.
func (h *Hub) CloseSession(code string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, c := range h.matches[code] {
		c.close()
	}
	delete(h.matches, code)
}
