package broadcast

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/wordparty/go/internal/models"
	"github.com/mcdev12/wordparty/go/internal/room"
	"github.com/mcdev12/wordparty/go/internal/transport"
)

type inbox struct {
	mu   sync.Mutex
	msgs []Inbound
}

func (i *inbox) add(in Inbound) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.msgs = append(i.msgs, in)
}

func (i *inbox) all() []Inbound {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]Inbound(nil), i.msgs...)
}

func TestSynchronizerDeliversToOtherPeersOnly(t *testing.T) {
	bus := transport.NewMemoryBus()
	t.Cleanup(func() { _ = bus.Close() })
	clock := clockwork.NewFakeClockAt(sentAt)

	ada := NewSynchronizer(bus, "ABCD", models.Identity{PlayerID: "p1", Name: "Ada"}, clock)
	ben := NewSynchronizer(bus, "ABCD", models.Identity{PlayerID: "p2", Name: "Ben"}, clock)

	var adaInbox, benInbox inbox
	_, err := ada.Subscribe(adaInbox.add)
	require.NoError(t, err)
	_, err = ben.Subscribe(benInbox.add)
	require.NoError(t, err)

	chat := Chat{ID: "c1", PlayerID: "p1", Name: "Ada", Text: "hi", TS: sentAt}
	require.NoError(t, ada.Publish(context.Background(), chat))

	require.Eventually(t, func() bool { return len(benInbox.all()) == 1 }, time.Second, 5*time.Millisecond)
	got := benInbox.all()[0]
	assert.Equal(t, "p1", got.Sender)
	assert.Equal(t, chat, got.Message)

	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, adaInbox.all(), "own echo must be ignored")
}

func TestSynchronizerDropsInvalidFrames(t *testing.T) {
	bus := transport.NewMemoryBus()
	t.Cleanup(func() { _ = bus.Close() })

	ben := NewSynchronizer(bus, "ABCD", models.Identity{PlayerID: "p2"}, nil)
	var got inbox
	_, err := ben.Subscribe(got.add)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, bus.Publish(ctx, room.EventsSubject("ABCD"), []byte(`garbage`)))
	require.NoError(t, bus.Publish(ctx, room.EventsSubject("ABCD"), []byte(`{"type":"vote","sender":"p1","payload":{"key":"bad"}}`)))

	valid, err := Encode("p1", sentAt, Vote{Round: 1, Key: "p3:0", Voters: []string{"p1"}})
	require.NoError(t, err)
	require.NoError(t, bus.Publish(ctx, room.EventsSubject("ABCD"), valid))

	require.Eventually(t, func() bool { return len(got.all()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, KindVote, got.all()[0].Message.Kind())
}

func TestSynchronizerPublishRejectsInvalid(t *testing.T) {
	bus := transport.NewMemoryBus()
	t.Cleanup(func() { _ = bus.Close() })

	s := NewSynchronizer(bus, "ABCD", models.Identity{PlayerID: "p1"}, nil)
	err := s.Publish(context.Background(), Chat{ID: "1", Text: ""})
	assert.ErrorIs(t, err, ErrInvalidMessage)
}
