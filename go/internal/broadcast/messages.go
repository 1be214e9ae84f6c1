package broadcast

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/mcdev12/wordparty/go/internal/models"
)

// Kind tags a broadcast message.
type Kind string

const (
	KindGameState     Kind = "game_state"
	KindPlayerAnswers Kind = "player_answers"
	KindVote          Kind = "vote"
	KindFinalScores   Kind = "final_scores"
	KindChat          Kind = "chat"
)

// MaxChatLength bounds a chat message in characters.
const MaxChatLength = 500

var (
	ErrInvalidMessage = errors.New("invalid message")
	ErrUnknownKind    = errors.New("unknown message kind")
)

// Message is one of the broadcast variants. Every variant is a complete
// replacement of the piece of state it addresses.
type Message interface {
	Kind() Kind
	Validate() error
}

// GameState replaces the round state. Only the host originates it.
type GameState struct {
	State models.RoundState `json:"state"`
}

// PlayerAnswers carries one player's answers for one round.
type PlayerAnswers struct {
	PlayerID string              `json:"player_id"`
	Round    int                 `json:"round"`
	Result   models.PlayerResult `json:"result"`
}

// Vote replaces the full voter list for one answer in one round.
type Vote struct {
	Round  int      `json:"round"`
	Key    string   `json:"key"`
	Voters []string `json:"voters"`
}

// FinalScores carries the host's score table at the end of a match.
type FinalScores struct {
	Scores models.RoundScoreTable `json:"scores"`
}

// Chat is a free-text room message.
type Chat struct {
	ID       string    `json:"id"`
	PlayerID string    `json:"player_id"`
	Name     string    `json:"name"`
	Text     string    `json:"text"`
	TS       time.Time `json:"ts"`
}

func (GameState) Kind() Kind     { return KindGameState }
func (PlayerAnswers) Kind() Kind { return KindPlayerAnswers }
func (Vote) Kind() Kind          { return KindVote }
func (FinalScores) Kind() Kind   { return KindFinalScores }
func (Chat) Kind() Kind          { return KindChat }

func invalid(kind Kind, format string, args ...any) error {
	return fmt.Errorf("%w: %s: %s", ErrInvalidMessage, kind, fmt.Sprintf(format, args...))
}

func (m GameState) Validate() error {
	s := m.State
	if !s.Phase.Valid() {
		return invalid(KindGameState, "unknown phase %q", s.Phase)
	}
	if s.TimeLeft < 0 {
		return invalid(KindGameState, "negative time left %d", s.TimeLeft)
	}
	if s.Phase == models.PhaseLobby {
		return nil
	}
	if s.MatchID == "" {
		return invalid(KindGameState, "missing match id")
	}
	if s.Round < 1 {
		return invalid(KindGameState, "round %d < 1", s.Round)
	}
	if s.TotalRounds < s.Round {
		return invalid(KindGameState, "round %d exceeds total %d", s.Round, s.TotalRounds)
	}
	if s.Phase.Timed() {
		if len(s.Letter) != 1 || !strings.Contains(models.Letters, s.Letter) {
			return invalid(KindGameState, "letter %q", s.Letter)
		}
		if len(s.Categories) == 0 {
			return invalid(KindGameState, "no categories")
		}
	}
	return nil
}

func (m PlayerAnswers) Validate() error {
	if m.PlayerID == "" {
		return invalid(KindPlayerAnswers, "missing player id")
	}
	if m.Result.PlayerID != "" && m.Result.PlayerID != m.PlayerID {
		return invalid(KindPlayerAnswers, "result belongs to %q", m.Result.PlayerID)
	}
	if m.Round < 1 {
		return invalid(KindPlayerAnswers, "round %d < 1", m.Round)
	}
	for i := range m.Result.Answers {
		if i < 0 {
			return invalid(KindPlayerAnswers, "negative category index %d", i)
		}
	}
	return nil
}

func (m Vote) Validate() error {
	if m.Round < 1 {
		return invalid(KindVote, "round %d < 1", m.Round)
	}
	if _, _, err := models.ParseVoteKey(m.Key); err != nil {
		return invalid(KindVote, "%v", err)
	}
	for _, v := range m.Voters {
		if v == "" {
			return invalid(KindVote, "empty voter id")
		}
	}
	return nil
}

func (m FinalScores) Validate() error {
	for id := range m.Scores {
		if id == "" {
			return invalid(KindFinalScores, "empty player id")
		}
	}
	return nil
}

func (m Chat) Validate() error {
	if m.ID == "" {
		return invalid(KindChat, "missing id")
	}
	text := strings.TrimSpace(m.Text)
	if text == "" {
		return invalid(KindChat, "empty text")
	}
	if utf8.RuneCountInString(text) > MaxChatLength {
		return invalid(KindChat, "text longer than %d characters", MaxChatLength)
	}
	return nil
}
