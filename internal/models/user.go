package models

import (
	"time"

	"github.com/google/uuid"
)

// User is a registered account. Only the fields the game engine reads are mapped.
type User struct {
	ID        uuid.UUID `json:"id"`
	Username  string    `json:"username"`
	CreatedAt time.Time `json:"created_at"`
}
