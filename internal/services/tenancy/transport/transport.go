// Package transport delivers stored change events to subscribers. Delivery
// is at-least-once with no ordering guarantee across aggregates.
package transport

import (
	"context"
	"slices"

	"github.com/louisbranch/tenantledger/internal/services/tenancy/domain/event"
)

// Handler processes one delivered event.
type Handler func(ctx context.Context, evt event.Event) error

// Publisher sends events to every interested subscriber.
type Publisher interface {
	Publish(ctx context.Context, evt event.Event) error
}

// Subscriber registers handlers. A subscription lasts until ctx is done or
// the bus closes. No kinds means every kind.
type Subscriber interface {
	Subscribe(ctx context.Context, handler Handler, kinds ...event.Kind) error
}

// Bus is both ends of a transport.
type Bus interface {
	Publisher
	Subscriber
	Close() error
}

type filter []event.Kind

func (f filter) accepts(kind event.Kind) bool {
	return len(f) == 0 || slices.Contains(f, kind)
}
