package models

import "time"

// Phase is the broadcast phase of a room. The results overlay shown at the
// start of voting is a local display flag, not a phase.
type Phase string

const (
	PhaseLobby   Phase = "lobby"
	PhasePlaying Phase = "playing"
	PhaseVoting  Phase = "voting"
	PhaseFinal   Phase = "final"
)

// Valid reports whether p is one of the four broadcast phases.
func (p Phase) Valid() bool {
	switch p {
	case PhaseLobby, PhasePlaying, PhaseVoting, PhaseFinal:
		return true
	}
	return false
}

// Timed reports whether the phase runs a countdown.
func (p Phase) Timed() bool {
	return p == PhasePlaying || p == PhaseVoting
}

func (p Phase) String() string {
	return string(p)
}

const (
	// RoundTime is the answering countdown.
	RoundTime = 90 * time.Second
	// VoteTime is the voting countdown.
	VoteTime = 30 * time.Second
	// DefaultTotalRounds is used when the host does not choose a match length.
	DefaultTotalRounds = 3
	// CategoriesPerRound is the size of a category list.
	CategoriesPerRound = 12
	// Letters is the pool round letters are drawn from.
	Letters = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
)

// RoundState is the replicated state of the current round. The host owns it;
// every other peer holds a read-only copy overwritten by game_state messages.
// MatchID is drawn by the host when a match starts; the lobby keeps the id of
// the match it closed.
type RoundState struct {
	MatchID     string   `json:"match_id,omitempty"`
	Round       int      `json:"round"`
	TotalRounds int      `json:"total_rounds"`
	Letter      string   `json:"letter"`
	Categories  []string `json:"categories"`
	Phase       Phase    `json:"phase"`
	TimeLeft    int      `json:"time_left"`
}

// Clone returns a deep copy.
func (r RoundState) Clone() RoundState {
	out := r
	if r.Categories != nil {
		out.Categories = append([]string(nil), r.Categories...)
	}
	return out
}

// Equal compares two round states field by field.
func (r RoundState) Equal(o RoundState) bool {
	if r.MatchID != o.MatchID || r.Round != o.Round || r.TotalRounds != o.TotalRounds || r.Letter != o.Letter ||
		r.Phase != o.Phase || r.TimeLeft != o.TimeLeft || len(r.Categories) != len(o.Categories) {
		return false
	}
	for i := range r.Categories {
		if r.Categories[i] != o.Categories[i] {
			return false
		}
	}
	return true
}

// IsLastRound reports whether the current round closes the match.
func (r RoundState) IsLastRound() bool {
	return r.Round >= r.TotalRounds
}

// LobbyState is the state every peer starts in.
func LobbyState() RoundState {
	return RoundState{Phase: PhaseLobby}
}
