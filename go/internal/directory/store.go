// Package directory publishes and lists public rooms so a client can find
// one before it knows the code.
package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"

	"github.com/mcdev12/wordparty/go/internal/models"
	"github.com/mcdev12/wordparty/go/internal/room"
	"github.com/mcdev12/wordparty/go/internal/transport"
)

// BucketName is the JetStream key-value bucket holding room listings.
const BucketName = "WORDPARTY_ROOMS"

// Store is where an advertiser puts its room listing.
type Store interface {
	Put(ctx context.Context, summary models.PublicRoomSummary) error
	Withdraw(ctx context.Context, code string) error
}

// Lister returns the currently advertised rooms, newest first.
type Lister interface {
	List(ctx context.Context) ([]models.PublicRoomSummary, error)
}

// Joinable filters a listing down to rooms a newcomer can enter.
func Joinable(rooms []models.PublicRoomSummary) []models.PublicRoomSummary {
	out := make([]models.PublicRoomSummary, 0, len(rooms))
	for _, r := range rooms {
		if r.Joinable() {
			out = append(out, r)
		}
	}
	return out
}

func sortNewestFirst(rooms []models.PublicRoomSummary) {
	sort.SliceStable(rooms, func(i, j int) bool {
		if !rooms[i].CreatedAt.Equal(rooms[j].CreatedAt) {
			return rooms[i].CreatedAt.After(rooms[j].CreatedAt)
		}
		return rooms[i].Code < rooms[j].Code
	})
}

// BusStore publishes listings on the global directory subject. Listeners
// build the directory themselves; see Browser.
type BusStore struct {
	bus   transport.Bus
	clock func() time.Time
}

// NewBusStore creates a bus-backed store.
func NewBusStore(bus transport.Bus) *BusStore {
	return &BusStore{bus: bus, clock: time.Now}
}

func (s *BusStore) Put(ctx context.Context, summary models.PublicRoomSummary) error {
	data, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("marshal room summary: %w", err)
	}
	if err := s.bus.Publish(ctx, room.DirectorySubject, data); err != nil {
		return fmt.Errorf("publish room summary: %w", err)
	}
	return nil
}

// Withdraw publishes a tombstone: a listing with no players.
func (s *BusStore) Withdraw(ctx context.Context, code string) error {
	return s.Put(ctx, models.PublicRoomSummary{Code: code, UpdatedAt: s.clock().UTC()})
}

// KVStore keeps listings in a JetStream key-value bucket. The bucket's TTL
// expires listings whose host stopped refreshing them.
type KVStore struct {
	kv jetstream.KeyValue
}

// OpenKVStore creates or updates the rooms bucket with the given TTL.
func OpenKVStore(ctx context.Context, js jetstream.JetStream, ttl time.Duration) (*KVStore, error) {
	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      BucketName,
		Description: "public wordparty rooms",
		History:     1,
		TTL:         ttl,
	})
	if err != nil {
		return nil, fmt.Errorf("open key-value bucket %s: %w", BucketName, err)
	}
	log.Info().Str("bucket", BucketName).Dur("ttl", ttl).Msg("room directory bucket ready")
	return NewKVStore(kv), nil
}

// NewKVStore wraps an existing bucket.
func NewKVStore(kv jetstream.KeyValue) *KVStore {
	return &KVStore{kv: kv}
}

func (s *KVStore) Put(ctx context.Context, summary models.PublicRoomSummary) error {
	data, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("marshal room summary: %w", err)
	}
	if _, err := s.kv.Put(ctx, summary.Code, data); err != nil {
		return fmt.Errorf("put room %s: %w", summary.Code, err)
	}
	return nil
}

func (s *KVStore) Withdraw(ctx context.Context, code string) error {
	if err := s.kv.Delete(ctx, code); err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return fmt.Errorf("delete room %s: %w", code, err)
	}
	return nil
}

// List reads every listing in the bucket.
func (s *KVStore) List(ctx context.Context) ([]models.PublicRoomSummary, error) {
	lister, err := s.kv.ListKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("list room keys: %w", err)
	}
	defer func() {
		if err := lister.Stop(); err != nil {
			log.Debug().Err(err).Msg("failed to stop key lister")
		}
	}()

	var rooms []models.PublicRoomSummary
	for key := range lister.Keys() {
		entry, err := s.kv.Get(ctx, key)
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("get room %s: %w", key, err)
		}
		var summary models.PublicRoomSummary
		if err := json.Unmarshal(entry.Value(), &summary); err != nil {
			log.Warn().Err(err).Str("code", key).Msg("skipping malformed room listing")
			continue
		}
		rooms = append(rooms, summary)
	}
	sortNewestFirst(rooms)
	return rooms, nil
}
