package models

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// PlayerResult is one player's submitted answers for one round, keyed by
// category index.
type PlayerResult struct {
	PlayerID string         `json:"player_id"`
	Name     string         `json:"name"`
	Letter   string         `json:"letter"`
	Answers  map[int]string `json:"answers"`
}

// Answer returns the submitted text for a category, or "" if there is none.
func (r PlayerResult) Answer(category int) string {
	if r.Answers == nil {
		return ""
	}
	return r.Answers[category]
}

// Clone returns a deep copy.
func (r PlayerResult) Clone() PlayerResult {
	out := r
	out.Answers = make(map[int]string, len(r.Answers))
	for k, v := range r.Answers {
		out.Answers[k] = v
	}
	return out
}

// VoteKey addresses one answer: "<playerID>:<categoryIndex>".
func VoteKey(playerID string, category int) string {
	return playerID + ":" + strconv.Itoa(category)
}

// ParseVoteKey splits a vote key. Player IDs may not contain ':' after the
// last separator, so the index is read from the final segment.
func ParseVoteKey(key string) (string, int, error) {
	i := strings.LastIndex(key, ":")
	if i <= 0 || i == len(key)-1 {
		return "", 0, fmt.Errorf("malformed vote key %q", key)
	}
	idx, err := strconv.Atoi(key[i+1:])
	if err != nil || idx < 0 {
		return "", 0, fmt.Errorf("malformed vote key %q", key)
	}
	return key[:i], idx, nil
}

// VoteSet maps a vote key to the IDs of players who flagged that answer as
// invalid. Each entry is replaced wholesale by the latest vote message.
type VoteSet map[string][]string

// Count returns the number of distinct voters for a key.
func (v VoteSet) Count(key string) int {
	voters := v[key]
	if len(voters) < 2 {
		return len(voters)
	}
	seen := make(map[string]struct{}, len(voters))
	for _, id := range voters {
		seen[id] = struct{}{}
	}
	return len(seen)
}

// Has reports whether voter has flagged key.
func (v VoteSet) Has(key, voter string) bool {
	return slices.Contains(v[key], voter)
}

// Toggled returns the voter list for key after voter flips their vote. The
// set itself is not modified.
func (v VoteSet) Toggled(key, voter string) []string {
	current := v[key]
	out := make([]string, 0, len(current)+1)
	removed := false
	for _, id := range current {
		if id == voter {
			removed = true
			continue
		}
		out = append(out, id)
	}
	if !removed {
		out = append(out, voter)
	}
	slices.Sort(out)
	return out
}

// Set replaces the voter list for key. An empty list removes the key.
func (v VoteSet) Set(key string, voters []string) {
	if len(voters) == 0 {
		delete(v, key)
		return
	}
	v[key] = append([]string(nil), voters...)
}

// Clone returns a deep copy.
func (v VoteSet) Clone() VoteSet {
	out := make(VoteSet, len(v))
	for k, voters := range v {
		out[k] = append([]string(nil), voters...)
	}
	return out
}
