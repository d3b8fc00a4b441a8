package realtime

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/brainquiz/backend/internal/models"
)

// Event names sent to multiplayer clients.
const (
	EventWelcome           = "welcome"
	EventLobbyState        = "lobby-state"
	EventPlayerJoined      = "player-joined"
	EventPlayerLeft        = "player-left"
	EventParametersUpdated = "parameters-updated"
	EventGameStart         = "game-start"
	EventCommand           = "command"
	EventScoreTable        = "score-table"
	EventScoreUpdate       = "score-update"
	EventGameEnd           = "game-end"
	EventGameAborted       = "game-aborted"
)

// Event is one of the payload types below. The set is closed: only this package can add variants.
type Event interface {
	EventName() string
	sealed()
}

// Welcome is sent once to a participant after joining. Secret is set for anonymous players only.
type Welcome struct {
	Code      string `json:"code"`
	UserName  string `json:"userName"`
	Anonymous bool   `json:"anonymous"`
	Secret    string `json:"secret,omitempty"`
}

// LobbyState is the roster and parameters sent to a joining participant.
type LobbyState struct {
	Code       string                 `json:"code"`
	Players    []string               `json:"players"`
	Parameters models.MatchParameters `json:"parameters"`
	Started    bool                   `json:"started"`
}

// PlayerJoined announces a new participant.
type PlayerJoined struct {
	UserName string `json:"userName"`
}

// PlayerLeft announces a participant whose last channel closed.
type PlayerLeft struct {
	UserName string `json:"userName"`
}

// ParametersUpdated carries the merged match parameters.
type ParametersUpdated struct {
	Parameters models.MatchParameters `json:"parameters"`
}

// GameStart announces launch.
type GameStart struct {
	StartedAt time.Time `json:"startedAt"`
	Steps     int       `json:"steps"`
	Players   []string  `json:"players"`
}

// Command is the current scripted step. Load-atlas steps carry the color table and region names,
// guess steps the target region.
type Command struct {
	Index      int              `json:"index"`
	Kind       string           `json:"kind"`
	Duration   int              `json:"duration"`
	Atlas      string           `json:"atlas"`
	RegionID   int              `json:"regionId,omitempty"`
	RegionName string           `json:"regionName,omitempty"`
	ColorLUT   map[int][3]uint8 `json:"colorLut,omitempty"`
	Regions    map[int]string   `json:"regions,omitempty"`
}

// ScoreTable is the score snapshot sent with every command.
type ScoreTable struct {
	Scores []models.ScoreEntry `json:"scores"`
}

// ScoreUpdate reports one participant's guess result.
type ScoreUpdate struct {
	UserName       string `json:"userName"`
	IsCorrect      bool   `json:"isCorrect"`
	ScoreIncrement int    `json:"scoreIncrement"`
	TotalScore     int    `json:"totalScore"`
	Eliminated     bool   `json:"eliminated,omitempty"`
}

// GameEnd is sent to each participant when the last step expires.
type GameEnd struct {
	Score    int                 `json:"score"`
	MaxScore int                 `json:"maxScore"`
	YouWon   bool                `json:"youWon"`
	Scores   []models.ScoreEntry `json:"scores"`
}

// GameAborted is broadcast when a match is torn down before its last step.
type GameAborted struct {
	Reason string `json:"reason"`
}

func (Welcome) EventName() string           { return EventWelcome }
func (LobbyState) EventName() string        { return EventLobbyState }
func (PlayerJoined) EventName() string      { return EventPlayerJoined }
func (PlayerLeft) EventName() string        { return EventPlayerLeft }
func (ParametersUpdated) EventName() string { return EventParametersUpdated }
func (GameStart) EventName() string         { return EventGameStart }
func (Command) EventName() string           { return EventCommand }
func (ScoreTable) EventName() string        { return EventScoreTable }
func (ScoreUpdate) EventName() string       { return EventScoreUpdate }
func (GameEnd) EventName() string           { return EventGameEnd }
func (GameAborted) EventName() string       { return EventGameAborted }

func (Welcome) sealed()           {}
func (LobbyState) sealed()        {}
func (PlayerJoined) sealed()      {}
func (PlayerLeft) sealed()        {}
func (ParametersUpdated) sealed() {}
func (GameStart) sealed()         {}
func (Command) sealed()           {}
func (ScoreTable) sealed()        {}
func (ScoreUpdate) sealed()       {}
func (GameEnd) sealed()           {}
func (GameAborted) sealed()       {}

// Message is the WebSocket message envelope.
type Message struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Encode wraps an event in its envelope.
func Encode(e Event) (Message, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return Message{}, fmt.Errorf("encode %s: %w", e.EventName(), err)
	}
	return Message{Event: e.EventName(), Data: data}, nil
}

// Decode parses an envelope back into its event variant.
func Decode(m Message) (Event, error) {
	var e Event
	switch m.Event {
	case EventWelcome:
		e = &Welcome{}
	case EventLobbyState:
		e = &LobbyState{}
	case EventPlayerJoined:
		e = &PlayerJoined{}
	case EventPlayerLeft:
		e = &PlayerLeft{}
	case EventParametersUpdated:
		e = &ParametersUpdated{}
	case EventGameStart:
		e = &GameStart{}
	case EventCommand:
		e = &Command{}
	case EventScoreTable:
		e = &ScoreTable{}
	case EventScoreUpdate:
		e = &ScoreUpdate{}
	case EventGameEnd:
		e = &GameEnd{}
	case EventGameAborted:
		e = &GameAborted{}
	default:
		return nil, fmt.Errorf("unknown event %q", m.Event)
	}
	if err := json.Unmarshal(m.Data, e); err != nil {
		return nil, fmt.Errorf("decode %s: %w", m.Event, err)
	}
	return e, nil
}
