// Package presence tracks which peers are attached to a room and which of
// them holds the host lease.
package presence

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/wordparty/go/internal/models"
	"github.com/mcdev12/wordparty/go/internal/room"
	"github.com/mcdev12/wordparty/go/internal/transport"
)

const (
	eventBufferSize  = 64
	beaconBufferSize = 128
)

// Config holds presence timing.
type Config struct {
	HeartbeatInterval time.Duration
	// Timeout is how long a peer stays present without a beacon.
	Timeout time.Duration
	// JoinGrace is how long a newcomer listens before it may claim host.
	JoinGrace time.Duration
}

// DefaultConfig returns default presence timing.
func DefaultConfig() Config {
	return Config{
		HeartbeatInterval: 2 * time.Second,
		Timeout:           6 * time.Second,
		JoinGrace:         2 * time.Second,
	}
}

// EventKind describes a roster change.
type EventKind string

const (
	EventJoin  EventKind = "join"
	EventLeave EventKind = "leave"
	EventSync  EventKind = "sync"
)

// Event is a roster change. Every event carries the full roster so a
// consumer that misses one still converges on the next.
type Event struct {
	Kind    EventKind       `json:"kind"`
	Player  models.Player   `json:"player"`
	Players []models.Player `json:"players"`
	Host    string          `json:"host"`
}

// Tracker publishes the local peer's beacons and maintains the roster from
// everyone else's.
type Tracker struct {
	bus   transport.Bus
	code  string
	self  models.Identity
	cfg   Config
	clock clockwork.Clock

	roster    *Roster
	claiming  bool
	startedAt time.Time
	beacons   chan Beacon
	events    chan Event

	mu       sync.RWMutex
	snapshot []models.Player
	host     string
}

// NewTracker creates a tracker for a room. Call Run to start it.
func NewTracker(bus transport.Bus, code string, self models.Identity, cfg Config, clock clockwork.Clock) *Tracker {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg = DefaultConfig()
	}
	return &Tracker{
		bus:     bus,
		code:    code,
		self:    self,
		cfg:     cfg,
		clock:   clock,
		roster:  NewRoster(),
		beacons: make(chan Beacon, beaconBufferSize),
		events:  make(chan Event, eventBufferSize),
	}
}

// Events delivers roster changes. If the consumer falls behind, the oldest
// undelivered event is dropped.
func (t *Tracker) Events() <-chan Event {
	return t.events
}

// Players returns the latest roster snapshot.
func (t *Tracker) Players() []models.Player {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return append([]models.Player(nil), t.snapshot...)
}

// Host returns the current host's player ID, or "" while nobody holds it.
func (t *Tracker) Host() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.host
}

// IsHost reports whether the local peer holds the host lease.
func (t *Tracker) IsHost() bool {
	return t.Host() == t.self.PlayerID
}

// Run joins the room and tracks presence until ctx is cancelled, then
// publishes a leave beacon.
func (t *Tracker) Run(ctx context.Context) error {
	subject := room.PresenceSubject(t.code)
	sub, err := t.bus.Subscribe(subject, t.receive)
	if err != nil {
		return fmt.Errorf("subscribe presence: %w", err)
	}
	defer func() {
		if err := sub.Unsubscribe(); err != nil {
			log.Warn().Err(err).Str("room", t.code).Msg("failed to unsubscribe presence")
		}
	}()

	t.startedAt = t.clock.Now()
	t.roster.Observe(t.selfBeacon(BeaconJoin), t.startedAt)
	t.publishState(EventSync, t.self.Player(false))
	t.send(ctx, BeaconJoin)

	ticker := t.clock.NewTicker(t.cfg.HeartbeatInterval)
	defer ticker.Stop()

	log.Info().
		Str("room", t.code).
		Str("player_id", t.self.PlayerID).
		Msg("presence tracker started")

	for {
		select {
		case <-ctx.Done():
			leaveCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			t.send(leaveCtx, BeaconLeave)
			cancel()
			log.Info().Str("room", t.code).Str("player_id", t.self.PlayerID).Msg("presence tracker stopped")
			return nil

		case b := <-t.beacons:
			t.handleBeacon(ctx, b)

		case <-ticker.Chan():
			t.heartbeat(ctx)
		}
	}
}

func (t *Tracker) receive(data []byte) {
	var b Beacon
	if err := json.Unmarshal(data, &b); err != nil {
		log.Warn().Err(err).Str("room", t.code).Msg("dropping malformed presence beacon")
		return
	}
	if b.PlayerID == "" || b.PlayerID == t.self.PlayerID {
		return
	}
	select {
	case t.beacons <- b:
	default:
		log.Warn().Str("room", t.code).Msg("presence inbox full, dropping beacon")
	}
}

func (t *Tracker) handleBeacon(ctx context.Context, b Beacon) {
	now := t.clock.Now()
	joined, changed := t.roster.Observe(b, now)

	player := models.Player{ID: b.PlayerID, Name: b.Name, IsHost: b.IsHost}
	switch {
	case b.Kind == BeaconLeave:
		if changed {
			log.Info().Str("room", t.code).Str("player_id", b.PlayerID).Msg("peer left")
			t.settleLease(ctx)
			t.publishState(EventLeave, player)
		}
		return
	case b.Kind == BeaconJoin:
		// Answer newcomers right away so they learn the roster and the host
		// before their join grace runs out.
		t.send(ctx, BeaconHeartbeat)
	}

	if joined {
		log.Info().Str("room", t.code).Str("player_id", b.PlayerID).Str("name", b.Name).Msg("peer joined")
		t.settleLease(ctx)
		t.publishState(EventJoin, player)
		return
	}
	if changed {
		t.settleLease(ctx)
		t.publishState(EventSync, player)
	}
}

func (t *Tracker) heartbeat(ctx context.Context) {
	now := t.clock.Now()
	t.roster.Observe(t.selfBeacon(BeaconHeartbeat), now)

	gone := t.roster.Expire(now, t.cfg.Timeout, t.self.PlayerID)
	for _, p := range gone {
		log.Info().Str("room", t.code).Str("player_id", p.ID).Msg("peer timed out")
	}
	leased := t.settleLease(ctx)
	for _, p := range gone {
		t.publishState(EventLeave, p)
	}
	if !leased {
		t.send(ctx, BeaconHeartbeat)
	}
}

// settleLease claims or yields the host lease. It reports whether it sent a
// beacon.
func (t *Tracker) settleLease(ctx context.Context) bool {
	claims := t.roster.Claims()
	before := t.claiming

	switch {
	case t.claiming && ShouldYield(claims, t.self.PlayerID):
		t.claiming = false
		log.Warn().Str("room", t.code).Str("player_id", t.self.PlayerID).Msg("yielding host lease to lower peer id")
	case !t.claiming && t.clock.Since(t.startedAt) >= t.cfg.JoinGrace && ShouldClaim(claims, t.self.PlayerID):
		t.claiming = true
		log.Info().Str("room", t.code).Str("player_id", t.self.PlayerID).Msg("claiming host lease")
	}

	if before == t.claiming {
		return false
	}
	t.roster.Observe(t.selfBeacon(BeaconHeartbeat), t.clock.Now())
	t.send(ctx, BeaconHeartbeat)
	t.publishState(EventSync, t.self.Player(t.claiming))
	return true
}

func (t *Tracker) selfBeacon(kind BeaconKind) Beacon {
	return Beacon{
		Kind:     kind,
		PlayerID: t.self.PlayerID,
		Name:     t.self.Name,
		IsHost:   t.claiming,
		SentAt:   t.clock.Now(),
	}
}

func (t *Tracker) send(ctx context.Context, kind BeaconKind) {
	data, err := json.Marshal(t.selfBeacon(kind))
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal presence beacon")
		return
	}
	if err := t.bus.Publish(ctx, room.PresenceSubject(t.code), data); err != nil {
		log.Warn().Err(err).Str("room", t.code).Str("kind", string(kind)).Msg("failed to publish presence beacon")
	}
}

func (t *Tracker) publishState(kind EventKind, player models.Player) {
	players := t.roster.Players()
	host := ResolveHost(players)

	t.mu.Lock()
	t.snapshot = players
	t.host = host
	t.mu.Unlock()

	ev := Event{Kind: kind, Player: player, Players: append([]models.Player(nil), players...), Host: host}
	select {
	case t.events <- ev:
		return
	default:
	}
	select {
	case <-t.events:
	default:
	}
	select {
	case t.events <- ev:
	default:
		log.Warn().Str("room", t.code).Msg("presence event dropped")
	}
}
