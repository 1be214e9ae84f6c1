package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/wordparty/go/internal/broadcast"
	"github.com/mcdev12/wordparty/go/internal/models"
	"github.com/mcdev12/wordparty/go/internal/presence"
	"github.com/mcdev12/wordparty/go/internal/transport"
)

const inboundBufferSize = 256

var ErrStopped = errors.New("session stopped")

// Publisher sends messages to the rest of the room.
type Publisher interface {
	Publish(ctx context.Context, msg broadcast.Message) error
}

// Subscriber delivers messages from the rest of the room.
type Subscriber interface {
	Subscribe(handler func(broadcast.Inbound)) (transport.Subscription, error)
}

type command struct {
	run   func(*Machine) ([]broadcast.Message, error)
	reply chan error
}

// Session owns a Machine and runs every event that touches it on a single
// goroutine: inbound messages, roster changes, local commands and the
// one-second countdown.
type Session struct {
	machine *Machine
	pub     Publisher
	sub     Subscriber
	roster  <-chan presence.Event
	clock   clockwork.Clock

	inbound  chan broadcast.Inbound
	commands chan command
	updates  chan Snapshot
	done     chan struct{}

	ticker    clockwork.Ticker
	tickPhase models.Phase
	tickRound int
}

// New creates a session. roster is the room's presence feed, usually
// presence.Tracker.Events.
func New(machine *Machine, pub Publisher, sub Subscriber, roster <-chan presence.Event, clock clockwork.Clock) *Session {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Session{
		machine:  machine,
		pub:      pub,
		sub:      sub,
		roster:   roster,
		clock:    clock,
		inbound:  make(chan broadcast.Inbound, inboundBufferSize),
		commands: make(chan command),
		updates:  make(chan Snapshot, 1),
		done:     make(chan struct{}),
	}
}

// Updates delivers the latest snapshot after every change. Only the newest
// undelivered snapshot is kept.
func (s *Session) Updates() <-chan Snapshot {
	return s.updates
}

// Run processes events until ctx is cancelled.
func (s *Session) Run(ctx context.Context) error {
	defer close(s.done)

	sub, err := s.sub.Subscribe(func(in broadcast.Inbound) {
		select {
		case s.inbound <- in:
		default:
			log.Warn().Str("sender", in.Sender).Str("type", string(in.Message.Kind())).Msg("session inbox full, dropping message")
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe room: %w", err)
	}
	defer func() {
		if err := sub.Unsubscribe(); err != nil {
			log.Warn().Err(err).Msg("failed to unsubscribe room")
		}
	}()
	defer s.stopTicker()

	s.emit()
	for {
		select {
		case <-ctx.Done():
			return nil

		case in := <-s.inbound:
			s.dispatch(ctx, s.machine.Apply(in))

		case ev, ok := <-s.roster:
			if !ok {
				s.roster = nil
				continue
			}
			s.dispatch(ctx, s.machine.SetRoster(ev.Players, ev.Host))

		case cmd := <-s.commands:
			out, err := cmd.run(s.machine)
			if err == nil {
				s.dispatch(ctx, out)
			}
			cmd.reply <- err

		case <-s.tickerChan():
			s.dispatch(ctx, s.machine.Tick())
		}
	}
}

// dispatch publishes outgoing messages, fits the ticker to the new phase and
// notifies watchers.
func (s *Session) dispatch(ctx context.Context, out []broadcast.Message) {
	for _, msg := range out {
		if err := s.pub.Publish(ctx, msg); err != nil {
			log.Warn().Err(err).Str("type", string(msg.Kind())).Msg("failed to broadcast")
		}
	}
	s.syncTicker()
	s.emit()
}

func (s *Session) tickerChan() <-chan time.Time {
	if s.ticker == nil {
		return nil
	}
	return s.ticker.Chan()
}

// syncTicker keeps exactly one ticker alive for the current timed phase. A
// ticker never outlives the phase and round it was started for.
func (s *Session) syncTicker() {
	state := s.machine.state
	if s.ticker != nil && (state.Phase != s.tickPhase || state.Round != s.tickRound) {
		s.stopTicker()
	}
	if s.ticker == nil && state.Phase.Timed() {
		s.ticker = s.clock.NewTicker(time.Second)
		s.tickPhase = state.Phase
		s.tickRound = state.Round
		log.Debug().Str("phase", state.Phase.String()).Int("round", state.Round).Msg("countdown started")
	}
}

func (s *Session) stopTicker() {
	if s.ticker == nil {
		return
	}
	s.ticker.Stop()
	select {
	case <-s.ticker.Chan():
	default:
	}
	s.ticker = nil
	s.tickPhase = ""
	s.tickRound = 0
}

func (s *Session) emit() {
	snap := s.machine.Snapshot()
	select {
	case s.updates <- snap:
		return
	default:
	}
	select {
	case <-s.updates:
	default:
	}
	select {
	case s.updates <- snap:
	default:
	}
}

func (s *Session) do(ctx context.Context, run func(*Machine) ([]broadcast.Message, error)) error {
	cmd := command{run: run, reply: make(chan error, 1)}
	select {
	case s.commands <- cmd:
	case <-s.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-cmd.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// StartGame starts a match. Host only.
func (s *Session) StartGame(ctx context.Context, totalRounds int) error {
	return s.do(ctx, func(m *Machine) ([]broadcast.Message, error) {
		return m.StartGame(totalRounds)
	})
}

// PlayAgain returns the room to the lobby after a match. Host only.
func (s *Session) PlayAgain(ctx context.Context) error {
	return s.do(ctx, func(m *Machine) ([]broadcast.Message, error) {
		return m.PlayAgain()
	})
}

// SetAnswer records a local answer.
func (s *Session) SetAnswer(ctx context.Context, category int, text string) error {
	return s.do(ctx, func(m *Machine) ([]broadcast.Message, error) {
		return nil, m.SetAnswer(category, text)
	})
}

// ToggleVote flips the local vote on an answer.
func (s *Session) ToggleVote(ctx context.Context, key string) error {
	return s.do(ctx, func(m *Machine) ([]broadcast.Message, error) {
		return m.ToggleVote(key)
	})
}

// SendChat posts a chat message.
func (s *Session) SendChat(ctx context.Context, text string) error {
	return s.do(ctx, func(m *Machine) ([]broadcast.Message, error) {
		return m.SendChat(text, s.clock.Now())
	})
}

// Snapshot returns the current state as seen by the event loop.
func (s *Session) Snapshot(ctx context.Context) (Snapshot, error) {
	var snap Snapshot
	err := s.do(ctx, func(m *Machine) ([]broadcast.Message, error) {
		snap = m.Snapshot()
		return nil, nil
	})
	return snap, err
}
