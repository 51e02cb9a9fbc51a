package eventstore

import (
	"context"
	"errors"
	"maps"
	"sync"
	"testing"
	"time"

	apperrors "github.com/louisbranch/tenantledger/internal/platform/errors"
	"github.com/louisbranch/tenantledger/internal/services/tenancy/domain/aggregate"
	"github.com/louisbranch/tenantledger/internal/services/tenancy/domain/event"
	"github.com/louisbranch/tenantledger/internal/services/tenancy/domain/identity"
	"github.com/louisbranch/tenantledger/internal/services/tenancy/domain/tenant"
	"github.com/louisbranch/tenantledger/internal/services/tenancy/storage"
	"github.com/louisbranch/tenantledger/internal/services/tenancy/storage/memory"
)

func testClock() func() time.Time {
	var mu sync.Mutex
	now := time.Date(2026, 2, 3, 12, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Second)
		return now
	}
}

func testOrg(t *testing.T) identity.Entity {
	t.Helper()
	base, err := identity.NewBase(
		identity.MustIdentifierSet(identity.Identifier{Name: "org_id", Value: "o-1"}),
		time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	)
	if err != nil {
		t.Fatalf("new base: %v", err)
	}
	return base
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []event.Event
	err    error
}

func (p *recordingPublisher) Publish(_ context.Context, evt event.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
	return p.err
}

type fixture struct {
	store     *Store
	streams   *memory.Streams
	snapshots *memory.Snapshots
	published *recordingPublisher
	schema    aggregate.Schema
}

func newFixture(t *testing.T, withSnapshots bool) fixture {
	t.Helper()
	f := fixture{
		streams:   memory.NewStreams(nil),
		published: &recordingPublisher{},
		schema:    tenant.Schema(testClock()),
	}
	cfg := Config{Streams: f.streams, Publisher: f.published, Schema: f.schema}
	if withSnapshots {
		f.snapshots = memory.NewSnapshots()
		cfg.Snapshots = f.snapshots
	}
	store, err := New(cfg)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	f.store = store
	return f
}

func (f fixture) newTenant(t *testing.T, label string) *tenant.Tenant {
	t.Helper()
	tn, err := tenant.New(f.schema, testOrg(t), label, identity.Identifier{Name: "tenant_ref", Value: label})
	if err != nil {
		t.Fatalf("new tenant: %v", err)
	}
	return tn
}

func TestNewRequiresStreamsAndSchema(t *testing.T) {
	if _, err := New(Config{Schema: tenant.Schema(nil)}); err == nil {
		t.Fatal("expected error without stream store")
	}
	if _, err := New(Config{Streams: memory.NewStreams(nil)}); err == nil {
		t.Fatal("expected error without schema")
	}
}

func TestAppendAndFindRoundTrip(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	tn := f.newTenant(t, "Acme")
	if err := f.store.Append(ctx, tn.Root); err != nil {
		t.Fatalf("append: %v", err)
	}
	if tn.HasPendingChanges() {
		t.Fatal("expected pending changes cleared after append")
	}
	if tn.Version() != 3 {
		t.Fatalf("version = %d, want 3", tn.Version())
	}

	loaded, err := f.store.FindByIdentity(ctx, tn.OriginID())
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if loaded == nil {
		t.Fatal("expected aggregate")
	}
	if !maps.Equal(loaded.Attributes(), tn.Attributes()) || loaded.Version() != tn.Version() {
		t.Fatalf("loaded = %v@%d, want %v@%d", loaded.Attributes(), loaded.Version(), tn.Attributes(), tn.Version())
	}
}

func TestAppendWithoutPendingIsNoop(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	tn := f.newTenant(t, "Acme")
	if err := f.store.Append(ctx, tn.Root); err != nil {
		t.Fatalf("append: %v", err)
	}
	before := len(f.published.events)
	if err := f.store.Append(ctx, tn.Root); err != nil {
		t.Fatalf("second append: %v", err)
	}
	if len(f.published.events) != before {
		t.Fatal("expected no publish for empty append")
	}
}

func TestAppendRejectsNilRoot(t *testing.T) {
	f := newFixture(t, false)
	if err := f.store.Append(context.Background(), nil); !errors.Is(err, ErrAppend) {
		t.Fatalf("err = %v, want append error", err)
	}
}

func TestFindMissingReturnsNil(t *testing.T) {
	f := newFixture(t, true)
	root, err := f.store.FindByIdentity(context.Background(), identity.Identifier{Name: tenant.IdentifierName, Value: "nope"})
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if root != nil {
		t.Fatal("expected nil aggregate for missing stream")
	}
}

func TestConcurrentWriterConflicts(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	tn := f.newTenant(t, "Acme")
	if err := f.store.Append(ctx, tn.Root); err != nil {
		t.Fatalf("append: %v", err)
	}

	first, err := f.store.FindByIdentity(ctx, tn.OriginID())
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	second, err := f.store.FindByIdentity(ctx, tn.OriginID())
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	a, _ := tenant.From(first)
	b, _ := tenant.From(second)
	if err := a.Activate(); err != nil {
		t.Fatalf("activate: %v", err)
	}
	if err := b.Rename("Acme Corp"); err != nil {
		t.Fatalf("rename: %v", err)
	}
	if err := f.store.Append(ctx, a.Root); err != nil {
		t.Fatalf("append first writer: %v", err)
	}
	err = f.store.Append(ctx, b.Root)
	if !errors.Is(err, storage.ErrVersionConflict) || !apperrors.IsRetryable(err) {
		t.Fatalf("err = %v, want retryable version conflict", err)
	}
	if !b.HasPendingChanges() {
		t.Fatal("expected losing writer to keep its pending changes")
	}
	events, _ := f.streams.LoadStream(ctx, tn.ID())
	if len(events) != 4 {
		t.Fatalf("stream has %d events, want 4", len(events))
	}
}

func TestAppendPublishesInOrder(t *testing.T) {
	f := newFixture(t, false)
	tn := f.newTenant(t, "Acme")
	if err := f.store.Append(context.Background(), tn.Root); err != nil {
		t.Fatalf("append: %v", err)
	}
	if len(f.published.events) != 3 {
		t.Fatalf("published %d events, want 3", len(f.published.events))
	}
	for i, evt := range f.published.events {
		if evt.Seq != uint64(i+1) {
			t.Fatalf("published event %d has seq %d", i, evt.Seq)
		}
	}
}

func TestPublishFailureDoesNotFailAppend(t *testing.T) {
	f := newFixture(t, false)
	f.published.err = errors.New("bus down")
	tn := f.newTenant(t, "Acme")
	if err := f.store.Append(context.Background(), tn.Root); err != nil {
		t.Fatalf("append: %v", err)
	}
	if tn.HasPendingChanges() {
		t.Fatal("expected durable append to commit despite publish failure")
	}
}

func TestSnapshotTransparency(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)
	tn := f.newTenant(t, "Acme")
	if err := tn.Rename("Beta"); err != nil {
		t.Fatalf("rename: %v", err)
	}
	if err := f.store.Append(ctx, tn.Root); err != nil {
		t.Fatalf("append: %v", err)
	}
	f.store.Wait()

	record, err := f.snapshots.GetLatestSnapshot(ctx, tn.ID(), DefaultSchemaVersion)
	if err != nil {
		t.Fatalf("expected snapshot after 4-event append: %v", err)
	}
	if record.Version != 4 {
		t.Fatalf("snapshot version = %d, want 4", record.Version)
	}

	if err := tn.Activate(); err != nil {
		t.Fatalf("activate: %v", err)
	}
	if err := f.store.Append(ctx, tn.Root); err != nil {
		t.Fatalf("append: %v", err)
	}
	f.store.Wait()
	record, _ = f.snapshots.GetLatestSnapshot(ctx, tn.ID(), DefaultSchemaVersion)
	if record.Version != 4 {
		t.Fatalf("single-event append should not snapshot, got version %d", record.Version)
	}

	withSnapshot, err := f.store.FindByIdentity(ctx, tn.OriginID())
	if err != nil {
		t.Fatalf("find with snapshot: %v", err)
	}
	plain, err := New(Config{Streams: f.streams, Schema: f.schema})
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	withoutSnapshot, err := plain.FindByIdentity(ctx, tn.OriginID())
	if err != nil {
		t.Fatalf("find without snapshot: %v", err)
	}
	if !maps.Equal(withSnapshot.Attributes(), withoutSnapshot.Attributes()) || withSnapshot.Version() != withoutSnapshot.Version() {
		t.Fatalf("snapshot load %v@%d differs from replay %v@%d",
			withSnapshot.Attributes(), withSnapshot.Version(), withoutSnapshot.Attributes(), withoutSnapshot.Version())
	}
	if withSnapshot.Attribute(tenant.AttributeActive) != "true" {
		t.Fatalf("active = %q, want true after tail replay", withSnapshot.Attribute(tenant.AttributeActive))
	}
	for _, attribute := range []string{tenant.AttributeLabel, tenant.AttributeActive} {
		assertSameProperty(t, attribute, withSnapshot, withoutSnapshot)
		assertSameProperty(t, attribute, tn.Root, withoutSnapshot)
	}
}

func assertSameProperty(t *testing.T, attribute string, got, want *aggregate.Root) {
	t.Helper()
	g, ok := got.Property(attribute)
	if !ok {
		t.Fatalf("%s: property missing", attribute)
	}
	w, _ := want.Property(attribute)
	if !g.Current().Equal(w.Current()) {
		t.Fatalf("%s: current %+v, want %+v", attribute, g.Current(), w.Current())
	}
	gh, wh := g.History(), w.History()
	if len(gh) != len(wh) {
		t.Fatalf("%s: history has %d versions, want %d", attribute, len(gh), len(wh))
	}
	for i := range gh {
		if !gh[i].Equal(wh[i]) {
			t.Fatalf("%s: history[%d] status %s, want %s", attribute, i, gh[i].Status(), wh[i].Status())
		}
	}
}

func TestCorruptSnapshotFallsBackToReplay(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)
	tn := f.newTenant(t, "Acme")
	if err := f.store.Append(ctx, tn.Root); err != nil {
		t.Fatalf("append: %v", err)
	}
	f.store.Wait()
	if err := f.snapshots.SaveSnapshot(ctx, storage.SnapshotRecord{
		StreamID:      tn.ID(),
		SchemaVersion: DefaultSchemaVersion,
		Version:       99,
		State:         []byte("{not json"),
	}); err != nil {
		t.Fatalf("save corrupt snapshot: %v", err)
	}

	loaded, err := f.store.FindByIdentity(ctx, tn.OriginID())
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if loaded.Version() != 3 || loaded.Attribute(tenant.AttributeLabel) != "Acme" {
		t.Fatalf("loaded = %v@%d", loaded.Attributes(), loaded.Version())
	}
}

func TestSnapshotsKeyedBySchemaVersion(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, true)
	tn := f.newTenant(t, "Acme")
	if err := f.store.Append(ctx, tn.Root); err != nil {
		t.Fatalf("append: %v", err)
	}
	f.store.Wait()
	if _, err := f.snapshots.GetLatestSnapshot(ctx, tn.ID(), "2"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("err = %v, want no snapshot under another schema version", err)
	}
}

type unavailableStreams struct {
	storage.StreamStore
}

func (unavailableStreams) AppendToStream(context.Context, string, uint64, []event.Event) ([]event.Event, error) {
	return nil, storage.Unavailable("append stream", errors.New("database is locked"))
}

type blockingStreams struct {
	storage.StreamStore
}

func (blockingStreams) AppendToStream(ctx context.Context, _ string, _ uint64, _ []event.Event) ([]event.Event, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestAppendUnavailableIsRetryableAndKeepsPending(t *testing.T) {
	tests := map[string]storage.StreamStore{
		"busy":    unavailableStreams{memory.NewStreams(nil)},
		"timeout": blockingStreams{memory.NewStreams(nil)},
	}
	for name, streams := range tests {
		t.Run(name, func(t *testing.T) {
			schema := tenant.Schema(testClock())
			store, err := New(Config{Streams: streams, Schema: schema, Timeout: 10 * time.Millisecond})
			if err != nil {
				t.Fatalf("new store: %v", err)
			}
			tn, err := tenant.New(schema, testOrg(t), "Acme")
			if err != nil {
				t.Fatalf("new tenant: %v", err)
			}
			err = store.Append(context.Background(), tn.Root)
			if !errors.Is(err, storage.ErrStoreUnavailable) || !apperrors.IsRetryable(err) {
				t.Fatalf("err = %v, want retryable store unavailable", err)
			}
			if len(tn.PendingChanges()) != 3 {
				t.Fatal("expected pending changes kept after failed append")
			}
		})
	}
}

func TestStreamIDs(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	for _, label := range []string{"Acme", "Globex"} {
		if err := f.store.Append(ctx, f.newTenant(t, label).Root); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	ids, err := f.store.StreamIDs(ctx)
	if err != nil {
		t.Fatalf("stream ids: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("ids = %v, want 2", ids)
	}
}

func TestThresholdPolicy(t *testing.T) {
	p := ThresholdPolicy{Threshold: DefaultSnapshotThreshold}
	if p.ShouldSnapshot(1) {
		t.Fatal("expected no snapshot for a single event")
	}
	if !p.ShouldSnapshot(2) {
		t.Fatal("expected snapshot for two events")
	}
	if !(ThresholdPolicy{Threshold: 0}).ShouldSnapshot(1) {
		t.Fatal("zero threshold should snapshot every append")
	}
	if (Never{}).ShouldSnapshot(100) {
		t.Fatal("Never should never snapshot")
	}
}
