package models

import (
	"strings"

	"github.com/google/uuid"
)

// Player is a peer attached to a room.
type Player struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	IsHost bool   `json:"is_host"`
}

// Identity is the local peer's session-scoped identity. It is created once
// when a session starts and handed to every component that needs it.
type Identity struct {
	PlayerID string `json:"player_id"`
	Name     string `json:"name"`
}

// NewIdentity creates an identity with a fresh player ID. IDs are UUIDv7:
// a millisecond timestamp followed by random bits, so they are unique in
// practice but not guaranteed to be.
func NewIdentity(name string) Identity {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return Identity{
		PlayerID: id.String(),
		Name:     strings.TrimSpace(name),
	}
}

// Player returns the identity as a roster entry.
func (i Identity) Player(isHost bool) Player {
	return Player{ID: i.PlayerID, Name: i.Name, IsHost: isHost}
}
