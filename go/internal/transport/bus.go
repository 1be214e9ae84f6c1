// Package transport is the publish/subscribe layer rooms run on. Delivery is
// at-most-once and best effort: there are no acknowledgements or retries.
package transport

import (
	"context"
	"errors"
)

var ErrClosed = errors.New("transport closed")

// Handler receives the raw payload of one message. Handlers for a single
// subscription are called sequentially.
type Handler func(data []byte)

// Subscription is an active subject subscription.
type Subscription interface {
	Unsubscribe() error
}

// Bus publishes and subscribes to subjects.
type Bus interface {
	Publish(ctx context.Context, subject string, data []byte) error
	Subscribe(subject string, handler Handler) (Subscription, error)
	Close() error
}
