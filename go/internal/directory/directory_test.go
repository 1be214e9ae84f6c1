package directory

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcdev12/wordparty/go/internal/models"
	"github.com/mcdev12/wordparty/go/internal/room"
	"github.com/mcdev12/wordparty/go/internal/transport"
)

func listing(code string, players int, created time.Time) models.PublicRoomSummary {
	return models.PublicRoomSummary{
		Code:       code,
		Name:       "room " + code,
		Players:    players,
		MaxPlayers: 4,
		HostName:   "Ada",
		CreatedAt:  created,
	}
}

func publish(t *testing.T, bus transport.Bus, s models.PublicRoomSummary) {
	t.Helper()
	data, err := json.Marshal(s)
	require.NoError(t, err)
	require.NoError(t, bus.Publish(context.Background(), room.DirectorySubject, data))
}

func waitRooms(t *testing.T, b *Browser, n int) []models.PublicRoomSummary {
	t.Helper()
	var rooms []models.PublicRoomSummary
	require.Eventually(t, func() bool {
		rooms, _ = b.List(context.Background())
		return len(rooms) == n
	}, time.Second, 5*time.Millisecond)
	return rooms
}

func TestBrowserListsNewestFirstAndExpires(t *testing.T) {
	bus := transport.NewMemoryBus()
	t.Cleanup(func() { _ = bus.Close() })
	clock := clockwork.NewFakeClock()
	b := NewBrowser(bus, 10*time.Second, clock)
	require.NoError(t, b.Start())
	t.Cleanup(func() { _ = b.Stop() })

	base := clock.Now()
	publish(t, bus, listing("ABCD", 2, base))
	publish(t, bus, listing("WXYZ", 1, base.Add(time.Minute)))
	rooms := waitRooms(t, b, 2)
	assert.Equal(t, "WXYZ", rooms[0].Code)
	assert.Equal(t, "ABCD", rooms[1].Code)

	clock.Advance(6 * time.Second)
	publish(t, bus, listing("WXYZ", 3, base.Add(time.Minute)))
	require.Eventually(t, func() bool {
		rooms, _ := b.List(context.Background())
		return len(rooms) == 2 && rooms[0].Players == 3
	}, time.Second, 5*time.Millisecond)

	clock.Advance(6 * time.Second)
	rooms = waitRooms(t, b, 1)
	assert.Equal(t, "WXYZ", rooms[0].Code)
}

func TestBrowserDropsTombstonesAndBadCodes(t *testing.T) {
	bus := transport.NewMemoryBus()
	t.Cleanup(func() { _ = bus.Close() })
	b := NewBrowser(bus, time.Minute, clockwork.NewFakeClock())
	require.NoError(t, b.Start())
	t.Cleanup(func() { _ = b.Stop() })

	publish(t, bus, listing("abcd", 2, time.Now()))
	rooms := waitRooms(t, b, 1)
	assert.Equal(t, "ABCD", rooms[0].Code)

	publish(t, bus, listing("IIII", 2, time.Now()))
	require.NoError(t, bus.Publish(context.Background(), room.DirectorySubject, []byte("{")))
	require.NoError(t, NewBusStore(bus).Withdraw(context.Background(), "ABCD"))
	waitRooms(t, b, 0)
}

func TestJoinableFilter(t *testing.T) {
	now := time.Now()
	full := listing("AAAA", 4, now)
	playing := listing("BBBB", 2, now)
	playing.InMatch = true
	open := listing("CCCC", 2, now)

	got := Joinable([]models.PublicRoomSummary{full, playing, open})
	require.Len(t, got, 1)
	assert.Equal(t, "CCCC", got[0].Code)
}

func TestAdvertiserPublishesOnlyWhileHost(t *testing.T) {
	bus := transport.NewMemoryBus()
	t.Cleanup(func() { _ = bus.Close() })
	clock := clockwork.NewFakeClock()

	b := NewBrowser(bus, 30*time.Second, clock)
	require.NoError(t, b.Start())
	t.Cleanup(func() { _ = b.Stop() })

	adv := NewAdvertiser(NewBusStore(bus), "ABCD", "Friday", 8, 5*time.Second, clock)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = adv.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	adv.Update(Listing{Players: 1, HostName: "Ada", IsHost: false})
	time.Sleep(20 * time.Millisecond)
	rooms, err := b.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, rooms)

	adv.Update(Listing{Players: 2, HostName: "Ada", IsHost: true})
	rooms = waitRooms(t, b, 1)
	assert.Equal(t, "Friday", rooms[0].Name)
	assert.Equal(t, 2, rooms[0].Players)
	assert.Equal(t, 8, rooms[0].MaxPlayers)

	adv.Update(Listing{Players: 2, InMatch: true, HostName: "Ada", IsHost: true})
	require.Eventually(t, func() bool {
		rooms, _ := b.List(context.Background())
		return len(rooms) == 1 && rooms[0].InMatch
	}, time.Second, 5*time.Millisecond)

	adv.Update(Listing{Players: 2, InMatch: true, HostName: "Ben", IsHost: false})
	waitRooms(t, b, 0)
}

func TestAdvertiserWithdrawsOnStop(t *testing.T) {
	bus := transport.NewMemoryBus()
	t.Cleanup(func() { _ = bus.Close() })
	clock := clockwork.NewFakeClock()

	b := NewBrowser(bus, 30*time.Second, clock)
	require.NoError(t, b.Start())
	t.Cleanup(func() { _ = b.Stop() })

	adv := NewAdvertiser(NewBusStore(bus), "ABCD", "Friday", 8, 5*time.Second, clock)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = adv.Run(ctx)
	}()

	adv.Update(Listing{Players: 1, HostName: "Ada", IsHost: true})
	waitRooms(t, b, 1)

	cancel()
	<-done
	waitRooms(t, b, 0)
}

type recordingStore struct {
	mu   sync.Mutex
	puts []models.PublicRoomSummary
}

func (r *recordingStore) Put(_ context.Context, s models.PublicRoomSummary) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.puts = append(r.puts, s)
	return nil
}

func (r *recordingStore) Withdraw(context.Context, string) error { return nil }

func (r *recordingStore) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.puts)
}

func TestAdvertiserRefreshesOnInterval(t *testing.T) {
	clock := clockwork.NewFakeClock()
	store := &recordingStore{}
	adv := NewAdvertiser(store, "ABCD", "Friday", 8, 5*time.Second, clock)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = adv.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	adv.Update(Listing{Players: 1, IsHost: true})
	require.Eventually(t, func() bool { return store.count() == 1 }, time.Second, 5*time.Millisecond)

	adv.Update(Listing{Players: 1, IsHost: true})
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, store.count(), "unchanged listing is not republished")

	require.NoError(t, clock.BlockUntilContext(context.Background(), 1))
	clock.Advance(5 * time.Second)
	require.Eventually(t, func() bool { return store.count() == 2 }, time.Second, 5*time.Millisecond)
}

// fakeBucket implements the parts of jetstream.KeyValue the store uses.
type fakeBucket struct {
	jetstream.KeyValue

	mu   sync.Mutex
	data map[string][]byte
}

type fakeEntry struct {
	jetstream.KeyValueEntry
	value []byte
}

func (e fakeEntry) Value() []byte { return e.value }

type fakeLister struct {
	jetstream.KeyLister
	keys chan string
}

func (l fakeLister) Keys() <-chan string { return l.keys }
func (l fakeLister) Stop() error         { return nil }

func (f *fakeBucket) Put(_ context.Context, key string, value []byte) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = value
	return uint64(len(f.data)), nil
}

func (f *fakeBucket) Get(_ context.Context, key string) (jetstream.KeyValueEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.data[key]
	if !ok {
		return nil, jetstream.ErrKeyNotFound
	}
	return fakeEntry{value: v}, nil
}

func (f *fakeBucket) Delete(_ context.Context, key string, _ ...jetstream.KVDeleteOpt) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.data[key]; !ok {
		return jetstream.ErrKeyNotFound
	}
	delete(f.data, key)
	return nil
}

func (f *fakeBucket) ListKeys(_ context.Context, _ ...jetstream.WatchOpt) (jetstream.KeyLister, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	keys := make(chan string, len(f.data)+1)
	for k := range f.data {
		keys <- k
	}
	keys <- "GONE"
	close(keys)
	return fakeLister{keys: keys}, nil
}

func TestKVStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewKVStore(&fakeBucket{data: map[string][]byte{}})
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, store.Put(ctx, listing("ABCD", 2, base)))
	require.NoError(t, store.Put(ctx, listing("WXYZ", 1, base.Add(time.Hour))))

	rooms, err := store.List(ctx)
	require.NoError(t, err)
	require.Len(t, rooms, 2)
	assert.Equal(t, "WXYZ", rooms[0].Code)

	require.NoError(t, store.Withdraw(ctx, "WXYZ"))
	require.NoError(t, store.Withdraw(ctx, "WXYZ"), "withdrawing twice is fine")
	rooms, err = store.List(ctx)
	require.NoError(t, err)
	require.Len(t, rooms, 1)
	assert.Equal(t, "ABCD", rooms[0].Code)
}
