package broadcast

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/wordparty/go/internal/models"
)

var sentAt = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

func playing() models.RoundState {
	return models.RoundState{
		MatchID:     "m1",
		Round:       1,
		TotalRounds: 3,
		Letter:      "C",
		Categories:  []string{"Fruits", "Cities"},
		Phase:       models.PhasePlaying,
		TimeLeft:    90,
	}
}

func TestEncodeDecodeVariants(t *testing.T) {
	msgs := []Message{
		GameState{State: playing()},
		PlayerAnswers{PlayerID: "p1", Round: 1, Result: models.PlayerResult{PlayerID: "p1", Name: "Ada", Letter: "C", Answers: map[int]string{0: "Cherry", 1: "Cairo"}}},
		Vote{Round: 1, Key: models.VoteKey("p2", 1), Voters: []string{"p1", "p3"}},
		FinalScores{Scores: models.RoundScoreTable{"p1": {2, 3}}},
		Chat{ID: "c1", PlayerID: "p1", Name: "Ada", Text: "hello", TS: sentAt},
	}
	for _, msg := range msgs {
		t.Run(string(msg.Kind()), func(t *testing.T) {
			data, err := Encode("p1", sentAt, msg)
			require.NoError(t, err)

			env, got, err := Decode(data)
			require.NoError(t, err)
			assert.Equal(t, msg.Kind(), env.Type)
			assert.Equal(t, "p1", env.Sender)
			assert.True(t, sentAt.Equal(env.SentAt))
			assert.Equal(t, msg, got)
		})
	}
}

func TestDecodeRejectsUnknownKind(t *testing.T) {
	data := []byte(`{"type":"teleport","sender":"p1","payload":{}}`)
	_, _, err := Decode(data)
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestDecodeRejectsMalformed(t *testing.T) {
	cases := map[string]string{
		"not json":         `{{`,
		"no sender":        `{"type":"chat","payload":{"id":"1","text":"hi"}}`,
		"empty payload":    `{"type":"vote","sender":"p1"}`,
		"bad payload type": `{"type":"vote","sender":"p1","payload":{"key":7}}`,
		"bad phase":        `{"type":"game_state","sender":"p1","payload":{"state":{"phase":"halftime"}}}`,
		"zero round":       `{"type":"game_state","sender":"p1","payload":{"state":{"phase":"playing","round":0,"total_rounds":3,"letter":"A","categories":["x"]}}}`,
		"round past total": `{"type":"game_state","sender":"p1","payload":{"state":{"phase":"voting","round":4,"total_rounds":3,"letter":"A","categories":["x"]}}}`,
		"lowercase letter": `{"type":"game_state","sender":"p1","payload":{"state":{"phase":"playing","round":1,"total_rounds":3,"letter":"a","categories":["x"]}}}`,
		"negative time":    `{"type":"game_state","sender":"p1","payload":{"state":{"phase":"lobby","time_left":-1}}}`,
		"bad vote key":     `{"type":"vote","sender":"p1","payload":{"key":"p2","voters":["p1"]}}`,
		"empty voter":      `{"type":"vote","sender":"p1","payload":{"key":"p2:0","voters":[""]}}`,
		"blank chat":       `{"type":"chat","sender":"p1","payload":{"id":"1","text":"   "}}`,
		"answers no round": `{"type":"player_answers","sender":"p1","payload":{"player_id":"p1","result":{}}}`,
		"spoofed answers":  `{"type":"player_answers","sender":"p9","payload":{"player_id":"p1","round":1,"result":{}}}`,
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, msg, err := Decode([]byte(raw))
			assert.ErrorIs(t, err, ErrInvalidMessage)
			assert.Nil(t, msg)
		})
	}
}

func TestChatLengthLimit(t *testing.T) {
	ok := Chat{ID: "1", Text: strings.Repeat("a", MaxChatLength)}
	assert.NoError(t, ok.Validate())

	long := Chat{ID: "1", Text: strings.Repeat("a", MaxChatLength+1)}
	assert.ErrorIs(t, long.Validate(), ErrInvalidMessage)
}

func TestLobbyStateNeedsNoLetter(t *testing.T) {
	assert.NoError(t, GameState{State: models.LobbyState()}.Validate())
	final := models.RoundState{MatchID: "m1", Phase: models.PhaseFinal, Round: 3, TotalRounds: 3}
	assert.NoError(t, GameState{State: final}.Validate())
}

func TestMatchStateNeedsMatchID(t *testing.T) {
	s := playing()
	s.MatchID = ""
	assert.ErrorIs(t, GameState{State: s}.Validate(), ErrInvalidMessage)
}

func TestVoteNeedsRound(t *testing.T) {
	assert.ErrorIs(t, Vote{Key: "p1:0"}.Validate(), ErrInvalidMessage)
	assert.NoError(t, Vote{Round: 2, Key: "p1:0"}.Validate())
}

func TestPlayerAnswersResultIDDefaultsToPlayer(t *testing.T) {
	raw, err := json.Marshal(Envelope{
		Type:    KindPlayerAnswers,
		Sender:  "p1",
		Payload: json.RawMessage(`{"player_id":"p1","round":2,"result":{"answers":{"0":"Cat"}}}`),
	})
	require.NoError(t, err)

	_, msg, err := Decode(raw)
	require.NoError(t, err)
	pa := msg.(PlayerAnswers)
	assert.Equal(t, "p1", pa.Result.PlayerID)
	assert.Equal(t, "Cat", pa.Result.Answers[0])
}

func TestEncodeRejectsInvalid(t *testing.T) {
	_, err := Encode("p1", sentAt, Vote{Key: "nope"})
	assert.ErrorIs(t, err, ErrInvalidMessage)
}
