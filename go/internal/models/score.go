package models

import "sort"

// RoundScoreTable holds each player's per-round scores in round order.
type RoundScoreTable map[string][]int

// Append records a round score for a player.
func (t RoundScoreTable) Append(playerID string, score int) {
	t[playerID] = append(t[playerID], score)
}

// Total sums a player's round scores.
func (t RoundScoreTable) Total(playerID string) int {
	total := 0
	for _, s := range t[playerID] {
		total += s
	}
	return total
}

// Rounds returns the longest score sequence length in the table.
func (t RoundScoreTable) Rounds() int {
	n := 0
	for _, scores := range t {
		if len(scores) > n {
			n = len(scores)
		}
	}
	return n
}

// Clone returns a deep copy.
func (t RoundScoreTable) Clone() RoundScoreTable {
	out := make(RoundScoreTable, len(t))
	for k, scores := range t {
		out[k] = append([]int(nil), scores...)
	}
	return out
}

// FinalSummary is derived from a score table when a match ends.
type FinalSummary struct {
	Totals  map[string]int `json:"totals"`
	Winners []string       `json:"winners"`
	Players []Player       `json:"players"`
}

// Summarize totals the table and picks every player tied for the top score.
// Winners are sorted by player ID so that every peer derives the same slice.
func Summarize(table RoundScoreTable, players []Player) FinalSummary {
	summary := FinalSummary{
		Totals:  make(map[string]int, len(table)),
		Players: append([]Player(nil), players...),
	}
	if len(table) == 0 {
		return summary
	}

	best := 0
	first := true
	for id := range table {
		total := table.Total(id)
		summary.Totals[id] = total
		if first || total > best {
			best = total
			first = false
		}
	}
	for id, total := range summary.Totals {
		if total == best {
			summary.Winners = append(summary.Winners, id)
		}
	}
	sort.Strings(summary.Winners)
	return summary
}
