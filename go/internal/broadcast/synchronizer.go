// Package broadcast is the typed message bus over a room's events subject.
package broadcast

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/wordparty/go/internal/models"
	"github.com/mcdev12/wordparty/go/internal/room"
	"github.com/mcdev12/wordparty/go/internal/transport"
)

// Inbound is a validated message from another peer.
type Inbound struct {
	Sender  string
	SentAt  time.Time
	Message Message
}

// Synchronizer publishes and receives messages for one room on behalf of the
// local peer.
type Synchronizer struct {
	bus     transport.Bus
	code    string
	self    models.Identity
	clock   clockwork.Clock
	subject string
}

// NewSynchronizer binds a synchronizer to a room.
func NewSynchronizer(bus transport.Bus, code string, self models.Identity, clock clockwork.Clock) *Synchronizer {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Synchronizer{
		bus:     bus,
		code:    code,
		self:    self,
		clock:   clock,
		subject: room.EventsSubject(code),
	}
}

// Publish sends a message to every peer in the room. There is no ack.
func (s *Synchronizer) Publish(ctx context.Context, msg Message) error {
	data, err := Encode(s.self.PlayerID, s.clock.Now(), msg)
	if err != nil {
		return fmt.Errorf("encode %s: %w", msg.Kind(), err)
	}
	if err := s.bus.Publish(ctx, s.subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", msg.Kind(), err)
	}
	log.Debug().
		Str("room", s.code).
		Str("type", string(msg.Kind())).
		Int("size", len(data)).
		Msg("message published")
	return nil
}

// Subscribe delivers validated messages from other peers. Malformed or
// invalid messages and the local peer's own echoes are dropped.
func (s *Synchronizer) Subscribe(handler func(Inbound)) (transport.Subscription, error) {
	sub, err := s.bus.Subscribe(s.subject, func(data []byte) {
		env, msg, err := Decode(data)
		if err != nil {
			ev := log.Warn().Err(err).Str("room", s.code).Str("sender", env.Sender)
			if errors.Is(err, ErrUnknownKind) {
				ev = ev.Str("type", string(env.Type))
			}
			ev.Msg("dropping invalid message")
			return
		}
		if env.Sender == s.self.PlayerID {
			return
		}
		handler(Inbound{Sender: env.Sender, SentAt: env.SentAt, Message: msg})
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe room events: %w", err)
	}
	return sub, nil
}
