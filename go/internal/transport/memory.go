package transport

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"
)

const memorySubscriberBuffer = 256

// MemoryBus is an in-process Bus. Each subscriber has its own buffered queue
// and goroutine; a full queue drops the message rather than blocking the
// publisher.
type MemoryBus struct {
	mu     sync.RWMutex
	subs   map[string]map[*memorySubscription]struct{}
	closed bool
}

// NewMemoryBus creates an empty bus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{
		subs: make(map[string]map[*memorySubscription]struct{}),
	}
}

type memorySubscription struct {
	bus     *MemoryBus
	subject string
	ch      chan []byte
	done    chan struct{}
	once    sync.Once
}

func (b *MemoryBus) Publish(ctx context.Context, subject string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}

	for sub := range b.subs[subject] {
		msg := append([]byte(nil), data...)
		select {
		case sub.ch <- msg:
		default:
			log.Warn().Str("subject", subject).Msg("subscriber queue full, dropping message")
		}
	}
	return nil
}

func (b *MemoryBus) Subscribe(subject string, handler Handler) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}

	sub := &memorySubscription{
		bus:     b,
		subject: subject,
		ch:      make(chan []byte, memorySubscriberBuffer),
		done:    make(chan struct{}),
	}
	if b.subs[subject] == nil {
		b.subs[subject] = make(map[*memorySubscription]struct{})
	}
	b.subs[subject][sub] = struct{}{}

	go sub.run(handler)
	return sub, nil
}

// Subscribers returns how many subscriptions a subject has.
func (b *MemoryBus) Subscribers(subject string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[subject])
}

func (b *MemoryBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	var all []*memorySubscription
	for _, subs := range b.subs {
		for sub := range subs {
			all = append(all, sub)
		}
	}
	b.subs = make(map[string]map[*memorySubscription]struct{})
	b.mu.Unlock()

	for _, sub := range all {
		sub.stop()
	}
	return nil
}

func (s *memorySubscription) run(handler Handler) {
	for {
		select {
		case <-s.done:
			return
		case msg := <-s.ch:
			handler(msg)
		}
	}
}

func (s *memorySubscription) Unsubscribe() error {
	s.bus.mu.Lock()
	if subs, ok := s.bus.subs[s.subject]; ok {
		delete(subs, s)
		if len(subs) == 0 {
			delete(s.bus.subs, s.subject)
		}
	}
	s.bus.mu.Unlock()
	s.stop()
	return nil
}

func (s *memorySubscription) stop() {
	s.once.Do(func() { close(s.done) })
}
