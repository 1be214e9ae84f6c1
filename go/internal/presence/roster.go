package presence

import (
	"sort"
	"time"

	"github.com/mcdev12/wordparty/go/internal/models"
)

// BeaconKind tags a presence beacon.
type BeaconKind string

const (
	BeaconJoin      BeaconKind = "join"
	BeaconHeartbeat BeaconKind = "heartbeat"
	BeaconLeave     BeaconKind = "leave"
)

// Beacon is what a peer publishes on the room's presence subject.
type Beacon struct {
	Kind     BeaconKind `json:"kind"`
	PlayerID string     `json:"player_id"`
	Name     string     `json:"name"`
	IsHost   bool       `json:"is_host"`
	SentAt   time.Time  `json:"sent_at"`
}

type entry struct {
	player   models.Player
	lastSeen time.Time
}

// Roster is the set of live peers as seen by one peer. It is not safe for
// concurrent use; the tracker loop owns it.
type Roster struct {
	entries map[string]*entry
}

// NewRoster creates an empty roster.
func NewRoster() *Roster {
	return &Roster{entries: make(map[string]*entry)}
}

// Observe records a beacon. It reports whether the peer is new and whether
// anything visible (name or host claim) changed.
func (r *Roster) Observe(b Beacon, now time.Time) (joined, changed bool) {
	if b.PlayerID == "" {
		return false, false
	}
	if b.Kind == BeaconLeave {
		return false, r.Remove(b.PlayerID)
	}

	e, ok := r.entries[b.PlayerID]
	if !ok {
		r.entries[b.PlayerID] = &entry{
			player:   models.Player{ID: b.PlayerID, Name: b.Name, IsHost: b.IsHost},
			lastSeen: now,
		}
		return true, true
	}

	changed = e.player.Name != b.Name || e.player.IsHost != b.IsHost
	e.player.Name = b.Name
	e.player.IsHost = b.IsHost
	e.lastSeen = now
	return false, changed
}

// Remove drops a peer.
func (r *Roster) Remove(playerID string) bool {
	if _, ok := r.entries[playerID]; !ok {
		return false
	}
	delete(r.entries, playerID)
	return true
}

// Expire removes peers not heard from within timeout, except keep.
func (r *Roster) Expire(now time.Time, timeout time.Duration, keep string) []models.Player {
	var gone []models.Player
	for id, e := range r.entries {
		if id == keep {
			continue
		}
		if now.Sub(e.lastSeen) > timeout {
			gone = append(gone, e.player)
			delete(r.entries, id)
		}
	}
	sortPlayers(gone)
	return gone
}

// Len returns the number of present peers.
func (r *Roster) Len() int {
	return len(r.entries)
}

// Claims returns the peers as they describe themselves, sorted by ID. More
// than one peer may claim host here; see ResolveHost.
func (r *Roster) Claims() []models.Player {
	out := make([]models.Player, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.player)
	}
	sortPlayers(out)
	return out
}

// Players returns the roster sorted by ID with IsHost set only on the
// resolved host.
func (r *Roster) Players() []models.Player {
	claims := r.Claims()
	host := ResolveHost(claims)
	for i := range claims {
		claims[i].IsHost = claims[i].ID == host
	}
	return claims
}

// ResolveHost returns the claimant with the lowest player ID, or "" if no
// present peer claims host. Every peer evaluates this over the same beacons,
// so concurrent claims settle on one host.
func ResolveHost(players []models.Player) string {
	host := ""
	for _, p := range players {
		if p.IsHost && (host == "" || p.ID < host) {
			host = p.ID
		}
	}
	return host
}

// ShouldClaim reports whether self should take the host lease: nobody else
// holds it and self has the lowest ID among present peers.
func ShouldClaim(players []models.Player, self string) bool {
	for _, p := range players {
		if p.ID != self && p.IsHost {
			return false
		}
	}
	lowest := ""
	for _, p := range players {
		if lowest == "" || p.ID < lowest {
			lowest = p.ID
		}
	}
	return lowest == self
}

// ShouldYield reports whether self holds a claim that loses to a lower ID.
func ShouldYield(players []models.Player, self string) bool {
	host := ResolveHost(players)
	return host != "" && host != self
}

func sortPlayers(players []models.Player) {
	sort.Slice(players, func(i, j int) bool { return players[i].ID < players[j].ID })
}
