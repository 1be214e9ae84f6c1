// Package scoring turns a round's submitted answers and vote tallies into
// per-player, per-category points. Every function here is pure: peers run it
// independently over the same replicated data and must agree on the result.
package scoring

import (
	"sort"
	"strings"
	"unicode"

	"github.com/mcdev12/wordparty/go/internal/models"
)

// Points awarded per outcome.
const (
	PointsValid        = 1
	PointsAlliteration = 1
	PointsDisqualified = -1
)

// Outcome explains how a single answer was scored.
type Outcome string

const (
	OutcomeEmpty        Outcome = "empty"
	OutcomeWrongLetter  Outcome = "wrong_letter"
	OutcomeDisqualified Outcome = "disqualified"
	OutcomeDuplicate    Outcome = "duplicate"
	OutcomeValid        Outcome = "valid"
	OutcomeAlliteration Outcome = "alliteration"
)

// Input is everything needed to score one round.
type Input struct {
	Letter string
	// Categories is the number of categories in the round. Answers at indices
	// outside [0, Categories) are ignored.
	Categories int
	Results    []models.PlayerResult
	Votes      models.VoteSet
	// PresentPlayers is the size of the presence roster at scoring time, not
	// the number of players who submitted.
	PresentPlayers int
}

// CategoryScore is the scored outcome of one answer.
type CategoryScore struct {
	Category int     `json:"category"`
	Answer   string  `json:"answer"`
	Outcome  Outcome `json:"outcome"`
	Points   int     `json:"points"`
	Votes    int     `json:"votes"`
}

// PlayerScore is one player's scored round.
type PlayerScore struct {
	PlayerID   string          `json:"player_id"`
	Name       string          `json:"name"`
	Categories []CategoryScore `json:"categories"`
	Total      int             `json:"total"`
}

// RoundResult is the scored round, ordered by player ID.
type RoundResult struct {
	Letter    string        `json:"letter"`
	Threshold int           `json:"threshold"`
	Players   []PlayerScore `json:"players"`
}

// Totals returns each player's round total keyed by player ID.
func (r RoundResult) Totals() map[string]int {
	out := make(map[string]int, len(r.Players))
	for _, p := range r.Players {
		out[p.PlayerID] = p.Total
	}
	return out
}

// Player returns the scored round for one player.
func (r RoundResult) Player(playerID string) (PlayerScore, bool) {
	for _, p := range r.Players {
		if p.PlayerID == playerID {
			return p, true
		}
	}
	return PlayerScore{}, false
}

// MajorityThreshold is the number of distinct voters that disqualifies an
// answer: a strict majority of present players.
func MajorityThreshold(presentPlayers int) int {
	if presentPlayers < 0 {
		presentPlayers = 0
	}
	return presentPlayers/2 + 1
}

// Normalize reduces an answer to the form used for duplicate comparison:
// lower case, only [a-z0-9 ], single spaces, trimmed. It is never shown.
func Normalize(val string) string {
	var b strings.Builder
	b.Grow(len(val))
	for _, r := range strings.ToLower(val) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteByte(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// StartsWith reports whether val, ignoring leading whitespace, begins with
// letter. Comparison is case-insensitive; an empty value never matches.
func StartsWith(val, letter string) bool {
	val = strings.TrimLeftFunc(val, unicode.IsSpace)
	if val == "" || letter == "" {
		return false
	}
	first := []rune(val)[0]
	want := []rune(letter)[0]
	return unicode.ToUpper(first) == unicode.ToUpper(want)
}

// HasAlliteration reports whether at least two space-separated words of val
// start with letter.
func HasAlliteration(val, letter string) bool {
	matches := 0
	for _, word := range strings.Fields(val) {
		if StartsWith(word, letter) {
			matches++
			if matches >= 2 {
				return true
			}
		}
	}
	return false
}

// ScoreRound scores every result in the input.
func ScoreRound(in Input) RoundResult {
	threshold := MajorityThreshold(in.PresentPlayers)
	categories := in.Categories
	if categories <= 0 {
		categories = maxCategory(in.Results) + 1
	}

	// Normalized answers that pass the starts-with check, counted per category.
	seen := make([]map[string]int, categories)
	for i := range seen {
		seen[i] = make(map[string]int)
	}
	for _, r := range in.Results {
		for i := 0; i < categories; i++ {
			val := r.Answer(i)
			if !StartsWith(val, in.Letter) {
				continue
			}
			seen[i][Normalize(val)]++
		}
	}

	results := make([]models.PlayerResult, len(in.Results))
	copy(results, in.Results)
	sort.SliceStable(results, func(a, b int) bool {
		return results[a].PlayerID < results[b].PlayerID
	})

	out := RoundResult{
		Letter:    in.Letter,
		Threshold: threshold,
		Players:   make([]PlayerScore, 0, len(results)),
	}
	for _, r := range results {
		ps := PlayerScore{
			PlayerID:   r.PlayerID,
			Name:       r.Name,
			Categories: make([]CategoryScore, 0, categories),
		}
		for i := 0; i < categories; i++ {
			cs := scoreAnswer(in, r.PlayerID, i, r.Answer(i), seen[i], threshold)
			ps.Total += cs.Points
			ps.Categories = append(ps.Categories, cs)
		}
		out.Players = append(out.Players, ps)
	}
	return out
}

func scoreAnswer(in Input, playerID string, category int, val string, seen map[string]int, threshold int) CategoryScore {
	cs := CategoryScore{Category: category, Answer: val}
	if strings.TrimSpace(val) == "" {
		cs.Outcome = OutcomeEmpty
		return cs
	}
	if !StartsWith(val, in.Letter) {
		cs.Outcome = OutcomeWrongLetter
		return cs
	}

	cs.Votes = in.Votes.Count(models.VoteKey(playerID, category))
	if cs.Votes >= threshold {
		cs.Outcome = OutcomeDisqualified
		cs.Points = PointsDisqualified
		return cs
	}

	if seen[Normalize(val)] > 1 {
		cs.Outcome = OutcomeDuplicate
		return cs
	}

	cs.Outcome = OutcomeValid
	cs.Points = PointsValid
	if HasAlliteration(val, in.Letter) {
		cs.Outcome = OutcomeAlliteration
		cs.Points += PointsAlliteration
	}
	return cs
}

func maxCategory(results []models.PlayerResult) int {
	n := -1
	for _, r := range results {
		for i := range r.Answers {
			if i > n {
				n = i
			}
		}
	}
	return n
}
