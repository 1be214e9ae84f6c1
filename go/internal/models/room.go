package models

import "time"

// PublicRoomSummary is what a host advertises in the public room directory.
type PublicRoomSummary struct {
	Code       string    `json:"code"`
	Name       string    `json:"name"`
	Players    int       `json:"players"`
	MaxPlayers int       `json:"max_players"`
	InMatch    bool      `json:"in_match"`
	HostName   string    `json:"host_name"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Joinable reports whether an unaffiliated client should be offered the room.
func (s PublicRoomSummary) Joinable() bool {
	return !s.InMatch && s.Players > 0 && s.Players < s.MaxPlayers
}

// SameListing reports whether two summaries differ only in their refresh time.
func (s PublicRoomSummary) SameListing(o PublicRoomSummary) bool {
	return s.Code == o.Code && s.Name == o.Name && s.Players == o.Players &&
		s.MaxPlayers == o.MaxPlayers && s.InMatch == o.InMatch && s.HostName == o.HostName
}
