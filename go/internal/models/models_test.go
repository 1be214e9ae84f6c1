package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSummarize(t *testing.T) {
	tests := []struct {
		name        string
		table       RoundScoreTable
		wantTotals  map[string]int
		wantWinners []string
	}{
		{
			name:        "tie shares the win",
			table:       RoundScoreTable{"P2": {4, 1}, "P1": {2, 3}},
			wantTotals:  map[string]int{"P1": 5, "P2": 5},
			wantWinners: []string{"P1", "P2"},
		},
		{
			name:        "single winner",
			table:       RoundScoreTable{"P1": {2, 3}, "P2": {1, 0}},
			wantTotals:  map[string]int{"P1": 5, "P2": 1},
			wantWinners: []string{"P1"},
		},
		{
			name:        "negative totals",
			table:       RoundScoreTable{"P1": {-1, -1}, "P2": {-1, 0}},
			wantTotals:  map[string]int{"P1": -2, "P2": -1},
			wantWinners: []string{"P2"},
		},
		{
			name:       "empty table",
			table:      RoundScoreTable{},
			wantTotals: map[string]int{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Summarize(tt.table, []Player{{ID: "P1", Name: "Ann"}})
			assert.Equal(t, tt.wantTotals, s.Totals)
			assert.Equal(t, tt.wantWinners, s.Winners)
			assert.Len(t, s.Players, 1)
		})
	}
}

func TestRoundScoreTable(t *testing.T) {
	table := RoundScoreTable{}
	table.Append("p1", 2)
	table.Append("p1", -1)
	table.Append("p2", 0)

	assert.Equal(t, 1, table.Total("p1"))
	assert.Equal(t, 0, table.Total("missing"))
	assert.Equal(t, 2, table.Rounds())

	clone := table.Clone()
	clone.Append("p2", 5)
	assert.Equal(t, []int{0}, table["p2"])
}

func TestVoteKeyRoundTrip(t *testing.T) {
	key := VoteKey("0190f0a2-7c1e-7b3a-9d2e-1f2a3b4c5d6e", 11)
	id, idx, err := ParseVoteKey(key)
	require.NoError(t, err)
	assert.Equal(t, "0190f0a2-7c1e-7b3a-9d2e-1f2a3b4c5d6e", id)
	assert.Equal(t, 11, idx)

	for _, bad := range []string{"", "p1", ":3", "p1:", "p1:x", "p1:-1"} {
		_, _, err := ParseVoteKey(bad)
		assert.Error(t, err, bad)
	}
}

func TestVoteSet(t *testing.T) {
	votes := VoteSet{}
	key := VoteKey("p2", 0)

	on := votes.Toggled(key, "p3")
	assert.Equal(t, []string{"p3"}, on)
	assert.Empty(t, votes, "Toggled must not modify the set")

	votes.Set(key, []string{"p3", "p1"})
	assert.Equal(t, 2, votes.Count(key))
	assert.True(t, votes.Has(key, "p1"))
	assert.Equal(t, []string{"p1"}, votes.Toggled(key, "p3"))
	assert.Equal(t, []string{"p1", "p3", "p4"}, votes.Toggled(key, "p4"))

	votes.Set(key, []string{"p1", "p1"})
	assert.Equal(t, 1, votes.Count(key), "duplicate voters count once")

	votes.Set(key, nil)
	_, ok := votes[key]
	assert.False(t, ok)
}

func TestRoundState(t *testing.T) {
	s := RoundState{Round: 2, TotalRounds: 2, Letter: "B", Categories: []string{"Fruit"}, Phase: PhasePlaying, TimeLeft: 10}
	c := s.Clone()
	assert.True(t, s.Equal(c))
	c.Categories[0] = "Animal"
	assert.False(t, s.Equal(c))
	assert.True(t, s.IsLastRound())

	assert.True(t, PhaseVoting.Timed())
	assert.False(t, PhaseFinal.Timed())
	assert.False(t, Phase("paused").Valid())
	assert.Equal(t, PhaseLobby, LobbyState().Phase)
}

func TestJoinable(t *testing.T) {
	tests := []struct {
		name    string
		summary PublicRoomSummary
		want    bool
	}{
		{"open", PublicRoomSummary{Players: 3, MaxPlayers: 8}, true},
		{"full", PublicRoomSummary{Players: 8, MaxPlayers: 8}, false},
		{"in match", PublicRoomSummary{Players: 3, MaxPlayers: 8, InMatch: true}, false},
		{"empty", PublicRoomSummary{Players: 0, MaxPlayers: 8}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.summary.Joinable())
		})
	}
}

func TestNewIdentity(t *testing.T) {
	a := NewIdentity("  Ann ")
	b := NewIdentity("Ann")
	assert.Equal(t, "Ann", a.Name)
	assert.NotEqual(t, a.PlayerID, b.PlayerID)

	p := a.Player(true)
	assert.Equal(t, Player{ID: a.PlayerID, Name: "Ann", IsHost: true}, p)
}
