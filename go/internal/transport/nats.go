package transport

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"
)

const (
	natsMaxReconnects = -1 // Infinite
	natsReconnectWait = 2 * time.Second
)

// NATSBus is a Bus over core NATS subjects. Delivery is at most once.
type NATSBus struct {
	nc *nats.Conn
}

// Connect dials NATS with reconnect and error logging handlers.
func Connect(url, name string) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name(name),
		nats.MaxReconnects(natsMaxReconnects),
		nats.ReconnectWait(natsReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			subject := ""
			if sub != nil {
				subject = sub.Subject
			}
			log.Error().Err(err).Str("subject", subject).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return nc, nil
}

// NewNATSBus wraps an existing connection.
func NewNATSBus(nc *nats.Conn) *NATSBus {
	return &NATSBus{nc: nc}
}

// DialNATS connects and wraps the connection in a bus.
func DialNATS(url, name string) (*NATSBus, error) {
	nc, err := Connect(url, name)
	if err != nil {
		return nil, err
	}
	return NewNATSBus(nc), nil
}

// Conn exposes the underlying connection.
func (b *NATSBus) Conn() *nats.Conn {
	return b.nc
}

// JetStream returns a JetStream context on the same connection.
func (b *NATSBus) JetStream() (jetstream.JetStream, error) {
	js, err := jetstream.New(b.nc)
	if err != nil {
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}
	return js, nil
}

func (b *NATSBus) Publish(ctx context.Context, subject string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if b.nc.IsClosed() {
		return ErrClosed
	}
	if err := b.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

func (b *NATSBus) Subscribe(subject string, handler Handler) (Subscription, error) {
	sub, err := b.nc.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", subject, err)
	}
	return sub, nil
}

// Close drains subscriptions and closes the connection.
func (b *NATSBus) Close() error {
	if b.nc == nil || b.nc.IsClosed() {
		return nil
	}
	if err := b.nc.Drain(); err != nil {
		b.nc.Close()
		return fmt.Errorf("drain NATS connection: %w", err)
	}
	return nil
}
