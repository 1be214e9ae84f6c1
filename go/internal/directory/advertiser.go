package directory

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/wordparty/go/internal/models"
)

// Listing is the part of a room summary that comes from the running
// session.
type Listing struct {
	Players  int
	InMatch  bool
	HostName string
	IsHost   bool
}

// Advertiser keeps this room's public listing current while the local peer
// is host, and withdraws it when the peer stops hosting.
type Advertiser struct {
	store    Store
	clock    clockwork.Clock
	interval time.Duration

	mu        sync.Mutex
	summary   models.PublicRoomSummary
	isHost    bool
	published *models.PublicRoomSummary

	changed chan struct{}
}

// NewAdvertiser creates an advertiser for one room.
func NewAdvertiser(store Store, code, name string, maxPlayers int, interval time.Duration, clock clockwork.Clock) *Advertiser {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Advertiser{
		store:    store,
		clock:    clock,
		interval: interval,
		summary: models.PublicRoomSummary{
			Code:       code,
			Name:       name,
			MaxPlayers: maxPlayers,
			CreatedAt:  clock.Now().UTC(),
		},
		changed: make(chan struct{}, 1),
	}
}

// Update records the session's latest state. It never blocks.
func (a *Advertiser) Update(l Listing) {
	a.mu.Lock()
	a.summary.Players = l.Players
	a.summary.InMatch = l.InMatch
	a.summary.HostName = l.HostName
	a.isHost = l.IsHost
	a.mu.Unlock()

	select {
	case a.changed <- struct{}{}:
	default:
	}
}

// Run publishes on every change and refreshes the listing each interval
// until ctx is cancelled.
func (a *Advertiser) Run(ctx context.Context) error {
	ticker := a.clock.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			a.withdraw(stopCtx)
			cancel()
			return nil
		case <-a.changed:
			a.sync(ctx, false)
		case <-ticker.Chan():
			a.sync(ctx, true)
		}
	}
}

func (a *Advertiser) sync(ctx context.Context, refresh bool) {
	a.mu.Lock()
	isHost := a.isHost
	summary := a.summary
	published := a.published
	a.mu.Unlock()

	if !isHost {
		if published != nil {
			a.withdraw(ctx)
		}
		return
	}
	if !refresh && published != nil && published.SameListing(summary) {
		return
	}

	summary.UpdatedAt = a.clock.Now().UTC()
	if err := a.store.Put(ctx, summary); err != nil {
		log.Warn().Err(err).Str("code", summary.Code).Msg("failed to advertise room")
		return
	}
	a.mu.Lock()
	a.published = &summary
	a.mu.Unlock()
	if !refresh {
		log.Info().
			Str("code", summary.Code).
			Int("players", summary.Players).
			Bool("in_match", summary.InMatch).
			Msg("room advertised")
	}
}

func (a *Advertiser) withdraw(ctx context.Context) {
	a.mu.Lock()
	published := a.published
	a.published = nil
	a.mu.Unlock()
	if published == nil {
		return
	}
	if err := a.store.Withdraw(ctx, published.Code); err != nil {
		log.Warn().Err(err).Str("code", published.Code).Msg("failed to withdraw room")
		return
	}
	log.Info().Str("code", published.Code).Msg("room withdrawn")
}
