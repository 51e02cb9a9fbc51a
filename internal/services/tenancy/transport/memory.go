package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/louisbranch/tenantledger/internal/platform/logging"
	"github.com/louisbranch/tenantledger/internal/services/tenancy/domain/event"
)

// ErrClosed is returned when publishing or subscribing on a closed bus.
var ErrClosed = errors.New("transport: bus closed")

// MemoryConfig configures a MemoryBus.
type MemoryConfig struct {
	// Workers is the size of the delivery pool. Zero delivers synchronously
	// inside Publish and returns handler errors to the publisher.
	Workers int
	// QueueSize bounds pending deliveries; Publish blocks when full.
	QueueSize int
	Retry     RetryConfig
	Logger    *logging.Logger
}

type subscription struct {
	id      uint64
	handler Handler
	kinds   filter
}

type delivery struct {
	sub subscription
	evt event.Event
}

// MemoryBus is an in-process bus.
type MemoryBus struct {
	log     *logging.Logger
	workers int
	retry   RetryConfig

	mu     sync.RWMutex
	subs   map[uint64]subscription
	nextID uint64
	closed bool

	queue  chan delivery
	group  *errgroup.Group
	cancel context.CancelFunc
}

// NewMemoryBus builds a bus and starts its worker pool.
func NewMemoryBus(cfg MemoryConfig) *MemoryBus {
	b := &MemoryBus{
		log:     logging.OrNop(cfg.Logger).With("component", "memory_bus"),
		workers: cfg.Workers,
		retry:   cfg.Retry,
		subs:    make(map[uint64]subscription),
	}
	if b.workers <= 0 {
		return b
	}
	size := cfg.QueueSize
	if size <= 0 {
		size = 256
	}
	b.queue = make(chan delivery, size)
	ctx, cancel := context.WithCancel(context.Background())
	b.cancel = cancel
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < b.workers; i++ {
		g.Go(func() error {
			for d := range b.queue {
				b.deliver(gctx, d)
			}
			return nil
		})
	}
	b.group = g
	return b
}

func (b *MemoryBus) deliver(ctx context.Context, d delivery) {
	if err := b.retry.handle(ctx, d.sub.handler, d.evt); err != nil {
		b.log.Warn("event handler failed",
			"event_id", d.evt.ID, "kind", d.evt.Kind.String(), "stream_id", d.evt.StreamID(), "error", err)
	}
}

// Subscribe implements Subscriber.
func (b *MemoryBus) Subscribe(ctx context.Context, handler Handler, kinds ...event.Kind) error {
	if handler == nil {
		return fmt.Errorf("transport: handler is required")
	}
	for _, kind := range kinds {
		if !kind.Valid() {
			return fmt.Errorf("transport: invalid kind %s", kind)
		}
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	b.nextID++
	id := b.nextID
	b.subs[id] = subscription{id: id, handler: handler, kinds: filter(kinds)}
	if ctx != nil {
		context.AfterFunc(ctx, func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
		})
	}
	return nil
}

func (b *MemoryBus) matching(kind event.Kind) []subscription {
	var out []subscription
	for _, sub := range b.subs {
		if sub.kinds.accepts(kind) {
			out = append(out, sub)
		}
	}
	return out
}

// Publish implements Publisher.
func (b *MemoryBus) Publish(ctx context.Context, evt event.Event) error {
	if ctx == nil {
		ctx = context.Background()
	}
	b.mu.RLock()
	if b.closed {
		b.mu.RUnlock()
		return ErrClosed
	}
	subs := b.matching(evt.Kind)

	if b.workers <= 0 {
		b.mu.RUnlock()
		var errs []error
		for _, sub := range subs {
			if err := b.retry.handle(ctx, sub.handler, evt.Clone()); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}

	defer b.mu.RUnlock()
	for _, sub := range subs {
		select {
		case b.queue <- delivery{sub: sub, evt: evt.Clone()}:
		case <-ctx.Done():
			return fmt.Errorf("transport: publish %s: %w", evt.ID, ctx.Err())
		}
	}
	return nil
}

// Close stops accepting events, drains queued deliveries, and waits for the
// workers to finish.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	if b.queue != nil {
		close(b.queue)
	}
	b.mu.Unlock()

	if b.group == nil {
		return nil
	}
	err := b.group.Wait()
	b.cancel()
	return err
}
