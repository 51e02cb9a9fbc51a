package transport

import (
	"context"
	"testing"

	"github.com/louisbranch/tenantledger/internal/platform/logging"
	"github.com/louisbranch/tenantledger/internal/services/tenancy/domain/event"
)

func TestRedisDispatchFiltersAndDecodes(t *testing.T) {
	bus := &RedisBus{log: logging.Nop()}
	var got []string
	handler := func(_ context.Context, evt event.Event) error {
		got = append(got, evt.ID)
		return nil
	}

	for _, evt := range []event.Event{testEvent("e-1", event.KindCreated), testEvent("e-2", event.KindChanged)} {
		raw, err := event.Marshal(evt)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		bus.dispatch(context.Background(), handler, filter{event.KindChanged}, string(raw))
	}
	bus.dispatch(context.Background(), handler, nil, "not json")

	if len(got) != 1 || got[0] != "e-2" {
		t.Fatalf("delivered = %v, want [e-2]", got)
	}
}

func TestNewRedisBusRequiresAddr(t *testing.T) {
	if _, err := NewRedisBus(context.Background(), RedisConfig{}); err == nil {
		t.Fatal("expected error for missing addr")
	}
}

func TestNilRedisBus(t *testing.T) {
	var bus *RedisBus
	if err := bus.Publish(context.Background(), testEvent("e-1", event.KindCreated)); err == nil {
		t.Fatal("expected error for nil bus")
	}
	if err := bus.Close(); err != nil {
		t.Fatalf("close nil bus: %v", err)
	}
}
