package directory

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

type entry struct {
	summary models.PublicRoomSummary
	seen    time.Time
}

// Browser listens on the directory subject and keeps the rooms whose
// listing was refreshed within the TTL.
type Browser struct {
	bus   transport.Bus
	ttl   time.Duration
	clock clockwork.Clock

	mu    sync.RWMutex
	rooms map[string]entry
	sub   transport.Subscription
}

// NewBrowser creates a browser. Call Start before listing.
func NewBrowser(bus transport.Bus, ttl time.Duration, clock clockwork.Clock) *Browser {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Browser{
		bus:   bus,
		ttl:   ttl,
		clock: clock,
		rooms: make(map[string]entry),
	}
}

// Start subscribes to the directory subject.
func (b *Browser) Start() error {
	sub, err := b.bus.Subscribe(room.DirectorySubject, b.receive)
	if err != nil {
		return fmt.Errorf("subscribe directory: %w", err)
	}
	b.mu.Lock()
	b.sub = sub
	b.mu.Unlock()
	return nil
}

// Stop unsubscribes.
func (b *Browser) Stop() error {
	b.mu.Lock()
	sub := b.sub
	b.sub = nil
	b.mu.Unlock()
	if sub == nil {
		return nil
	}
	return sub.Unsubscribe()
}

func (b *Browser) receive(data []byte) {
	var summary models.PublicRoomSummary
	if err := json.Unmarshal(data, &summary); err != nil {
		log.Warn().Err(err).Msg("dropping malformed room listing")
		return
	}
	code, err := room.NormalizeCode(summary.Code)
	if err != nil {
		log.Warn().Err(err).Str("code", summary.Code).Msg("dropping room listing with bad code")
		return
	}
	summary.Code = code

	b.mu.Lock()
	defer b.mu.Unlock()
	if summary.Players <= 0 {
		delete(b.rooms, code)
		log.Debug().Str("code", code).Msg("room withdrawn")
		return
	}
	b.rooms[code] = entry{summary: summary, seen: b.clock.Now()}
}

// List returns the fresh listings, newest first. Stale ones are forgotten.
func (b *Browser) List(_ context.Context) ([]models.PublicRoomSummary, error) {
	now := b.clock.Now()

	b.mu.Lock()
	defer b.mu.Unlock()
	rooms := make([]models.PublicRoomSummary, 0, len(b.rooms))
	for code, e := range b.rooms {
		if now.Sub(e.seen) > b.ttl {
			delete(b.rooms, code)
			continue
		}
		rooms = append(rooms, e.summary)
	}
	sortNewestFirst(rooms)
	return rooms, nil
}
