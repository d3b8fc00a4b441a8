package models

import (
	"time"

	"github.com/google/uuid"
)

// MultiSession is the persisted ownership record of a multiplayer lobby.
type MultiSession struct {
	Code      string    `json:"code"`
	Token     string    `json:"-"`
	OwnerID   uuid.UUID `json:"owner_id"`
	CreatedAt time.Time `json:"created_at"`
}
