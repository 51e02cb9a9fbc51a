package transport

import (
	"context"
	"fmt"
	"strings"
	"sync"

	goredis "github.com/redis/go-redis/v9"

	"github.com/louisbranch/tenantledger/internal/platform/logging"
	"github.com/louisbranch/tenantledger/internal/platform/timeouts"
	"github.com/louisbranch/tenantledger/internal/services/tenancy/domain/event"
)

// RedisConfig configures a RedisBus.
type RedisConfig struct {
	Addr    string
	Channel string
	Retry   RetryConfig
	Logger  *logging.Logger
}

// RedisBus publishes events as JSON on one Redis pub/sub channel.
type RedisBus struct {
	log     *logging.Logger
	rdb     *goredis.Client
	channel string
	retry   RetryConfig

	mu   sync.Mutex
	subs []*goredis.PubSub
	wg   sync.WaitGroup
}

// NewRedisBus connects and pings the server.
func NewRedisBus(ctx context.Context, cfg RedisConfig) (*RedisBus, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		return nil, fmt.Errorf("transport: redis addr is required")
	}
	channel := strings.TrimSpace(cfg.Channel)
	if channel == "" {
		channel = "tenancy.events"
	}
	if ctx == nil {
		ctx = context.Background()
	}

	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: timeouts.RedisDial,
	})
	pingCtx, cancel := context.WithTimeout(ctx, timeouts.RedisDial)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisBus{
		log:     logging.OrNop(cfg.Logger).With("component", "redis_bus"),
		rdb:     rdb,
		channel: channel,
		retry:   cfg.Retry,
	}, nil
}

// Publish implements Publisher.
func (b *RedisBus) Publish(ctx context.Context, evt event.Event) error {
	if b == nil || b.rdb == nil {
		return fmt.Errorf("transport: redis bus not initialized")
	}
	raw, err := event.Marshal(evt)
	if err != nil {
		return err
	}
	return b.rdb.Publish(ctx, b.channel, raw).Err()
}

// Subscribe implements Subscriber. Messages are handled one at a time on a
// forwarder goroutine until ctx is done or the bus closes.
func (b *RedisBus) Subscribe(ctx context.Context, handler Handler, kinds ...event.Kind) error {
	if b == nil || b.rdb == nil {
		return fmt.Errorf("transport: redis bus not initialized")
	}
	if handler == nil {
		return fmt.Errorf("transport: handler is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	sub := b.rdb.Subscribe(ctx, b.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return fmt.Errorf("redis subscribe: %w", err)
	}
	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()

	accept := filter(kinds)
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		defer sub.Close()
		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok || m == nil {
					return
				}
				b.dispatch(ctx, handler, accept, m.Payload)
			}
		}
	}()
	return nil
}

func (b *RedisBus) dispatch(ctx context.Context, handler Handler, accept filter, payload string) {
	evt, err := event.Unmarshal([]byte(payload))
	if err != nil {
		b.log.Warn("bad redis event payload", "error", err)
		return
	}
	if !accept.accepts(evt.Kind) {
		return
	}
	if err := b.retry.handle(ctx, handler, evt); err != nil {
		b.log.Warn("event handler failed",
			"event_id", evt.ID, "kind", evt.Kind.String(), "stream_id", evt.StreamID(), "error", err)
	}
}

// Close ends every subscription and closes the client.
func (b *RedisBus) Close() error {
	if b == nil || b.rdb == nil {
		return nil
	}
	b.mu.Lock()
	for _, sub := range b.subs {
		_ = sub.Close()
	}
	b.subs = nil
	b.mu.Unlock()
	b.wg.Wait()
	return b.rdb.Close()
}
