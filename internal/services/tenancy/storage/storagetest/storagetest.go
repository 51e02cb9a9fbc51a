// Package storagetest provides conformance suites that every tenancy storage
// backend runs from its own tests. Each suite takes a factory returning a
// fresh, empty store.
package storagetest

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/louisbranch/tenantledger/internal/services/tenancy/domain/event"
	"github.com/louisbranch/tenantledger/internal/services/tenancy/domain/identity"
	"github.com/louisbranch/tenantledger/internal/services/tenancy/query"
	"github.com/louisbranch/tenantledger/internal/services/tenancy/storage"
)

var base = time.Date(2026, 2, 3, 12, 0, 0, 0, time.UTC)

// Events builds a valid tenant stream of n events (one CREATED followed by
// label changes) for streamID.
func Events(streamID string, n int) []event.Event {
	origin := identity.Identifier{Name: "tenant_id", Value: streamID}
	out := make([]event.Event, 0, n)
	for i := 0; i < n; i++ {
		evt := event.Event{
			ID:            fmt.Sprintf("%s-e%d", streamID, i+1),
			Kind:          event.KindChanged,
			AggregateType: "tenant",
			OriginID:      origin,
			OccurredAt:    base.Add(time.Duration(i) * time.Second),
			Changes:       []event.Change{{Attribute: "label", After: fmt.Sprintf("label-%d", i)}},
		}
		if i == 0 {
			evt.Kind = event.KindCreated
			evt.Changes = nil
			evt.PredecessorID = identity.MustIdentifierSet(identity.Identifier{Name: "org_id", Value: "o-1"})
		}
		out = append(out, evt)
	}
	return out
}

// RunStreamStore runs the stream store suite.
func RunStreamStore(t *testing.T, newStore func(t *testing.T) storage.StreamStore) {
	t.Helper()
	ctx := context.Background()

	t.Run("append assigns sequence and chain", func(t *testing.T) {
		store := newStore(t)
		stored, err := store.AppendToStream(ctx, "t-1", storage.NoStream, Events("t-1", 2))
		if err != nil {
			t.Fatalf("append: %v", err)
		}
		if len(stored) != 2 {
			t.Fatalf("stored = %d events, want 2", len(stored))
		}
		for i, evt := range stored {
			if evt.Seq != uint64(i+1) {
				t.Fatalf("event %d seq = %d, want %d", i, evt.Seq, i+1)
			}
			if evt.Hash == "" || evt.ChainHash == "" {
				t.Fatalf("event %d missing hashes", i)
			}
		}
		if stored[1].PrevHash != stored[0].ChainHash {
			t.Fatal("second event does not link to the first")
		}
	})

	t.Run("load round trips", func(t *testing.T) {
		store := newStore(t)
		stored, err := store.AppendToStream(ctx, "t-1", storage.NoStream, Events("t-1", 3))
		if err != nil {
			t.Fatalf("append: %v", err)
		}
		loaded, err := store.LoadStream(ctx, "t-1")
		if err != nil {
			t.Fatalf("load: %v", err)
		}
		if len(loaded) != len(stored) {
			t.Fatalf("loaded = %d events, want %d", len(loaded), len(stored))
		}
		for i := range loaded {
			if loaded[i].ID != stored[i].ID || loaded[i].ChainHash != stored[i].ChainHash {
				t.Fatalf("event %d differs after load", i)
			}
			if !loaded[i].OccurredAt.Equal(stored[i].OccurredAt) {
				t.Fatalf("event %d occurred_at = %v, want %v", i, loaded[i].OccurredAt, stored[i].OccurredAt)
			}
		}
		if got := loaded[0].PredecessorID.Key(); got != stored[0].PredecessorID.Key() {
			t.Fatalf("predecessor = %q, want %q", got, stored[0].PredecessorID.Key())
		}
		if got := loaded[1].ChangeFor("label"); got == nil || got.After != "label-1" {
			t.Fatalf("label change = %+v", got)
		}
	})

	t.Run("load after version", func(t *testing.T) {
		store := newStore(t)
		if _, err := store.AppendToStream(ctx, "t-1", storage.NoStream, Events("t-1", 4)); err != nil {
			t.Fatalf("append: %v", err)
		}
		tail, err := store.LoadStreamAfterVersion(ctx, "t-1", 2)
		if err != nil {
			t.Fatalf("load after: %v", err)
		}
		if len(tail) != 2 || tail[0].Seq != 3 || tail[1].Seq != 4 {
			t.Fatalf("tail = %+v", tail)
		}
		empty, err := store.LoadStreamAfterVersion(ctx, "t-1", 4)
		if err != nil {
			t.Fatalf("load after head: %v", err)
		}
		if len(empty) != 0 {
			t.Fatalf("expected no events after head, got %d", len(empty))
		}
	})

	t.Run("missing stream is empty", func(t *testing.T) {
		store := newStore(t)
		loaded, err := store.LoadStream(ctx, "nope")
		if err != nil {
			t.Fatalf("load: %v", err)
		}
		if len(loaded) != 0 {
			t.Fatalf("loaded = %d events, want 0", len(loaded))
		}
	})

	t.Run("expected version conflict", func(t *testing.T) {
		store := newStore(t)
		events := Events("t-1", 3)
		if _, err := store.AppendToStream(ctx, "t-1", storage.NoStream, events[:1]); err != nil {
			t.Fatalf("append: %v", err)
		}
		_, err := store.AppendToStream(ctx, "t-1", storage.NoStream, events[1:2])
		if !errors.Is(err, storage.ErrVersionConflict) {
			t.Fatalf("err = %v, want version conflict", err)
		}
		if _, err := store.AppendToStream(ctx, "t-1", 1, events[1:]); err != nil {
			t.Fatalf("append at version 1: %v", err)
		}
		loaded, err := store.LoadStream(ctx, "t-1")
		if err != nil {
			t.Fatalf("load: %v", err)
		}
		if len(loaded) != 3 {
			t.Fatalf("loaded = %d events, want 3", len(loaded))
		}
	})

	t.Run("append continues chain", func(t *testing.T) {
		store := newStore(t)
		events := Events("t-1", 2)
		first, err := store.AppendToStream(ctx, "t-1", storage.NoStream, events[:1])
		if err != nil {
			t.Fatalf("append: %v", err)
		}
		second, err := store.AppendToStream(ctx, "t-1", 1, events[1:])
		if err != nil {
			t.Fatalf("append: %v", err)
		}
		if second[0].Seq != 2 || second[0].PrevHash != first[0].ChainHash {
			t.Fatalf("second append = seq %d prev %q", second[0].Seq, second[0].PrevHash)
		}
	})

	t.Run("rejects foreign events", func(t *testing.T) {
		store := newStore(t)
		if _, err := store.AppendToStream(ctx, "t-2", storage.NoStream, Events("t-1", 1)); err == nil {
			t.Fatal("expected error for events of another stream")
		}
		if _, err := store.AppendToStream(ctx, "t-1", storage.NoStream, nil); err == nil {
			t.Fatal("expected error for empty append")
		}
	})

	t.Run("lists stream ids in creation order", func(t *testing.T) {
		store := newStore(t)
		for _, id := range []string{"t-b", "t-a", "t-c"} {
			if _, err := store.AppendToStream(ctx, id, storage.NoStream, Events(id, 1)); err != nil {
				t.Fatalf("append %s: %v", id, err)
			}
		}
		if _, err := store.AppendToStream(ctx, "t-b", 1, Events("t-b", 2)[1:]); err != nil {
			t.Fatalf("append t-b: %v", err)
		}
		ids, err := store.ListStreamIDs(ctx)
		if err != nil {
			t.Fatalf("list: %v", err)
		}
		want := []string{"t-b", "t-a", "t-c"}
		if len(ids) != len(want) {
			t.Fatalf("ids = %v, want %v", ids, want)
		}
		for i := range want {
			if ids[i] != want[i] {
				t.Fatalf("ids = %v, want %v", ids, want)
			}
		}
	})

	t.Run("canceled context", func(t *testing.T) {
		store := newStore(t)
		canceled, cancel := context.WithCancel(ctx)
		cancel()
		_, err := store.AppendToStream(canceled, "t-1", storage.NoStream, Events("t-1", 1))
		if !errors.Is(err, storage.ErrStoreUnavailable) {
			t.Fatalf("err = %v, want store unavailable", err)
		}
	})
}

// RunSnapshotStore runs the snapshot store suite.
func RunSnapshotStore(t *testing.T, newStore func(t *testing.T) storage.SnapshotStore) {
	t.Helper()
	ctx := context.Background()

	record := func(version uint64, state string) storage.SnapshotRecord {
		return storage.SnapshotRecord{
			StreamID:      "t-1",
			SchemaVersion: "1",
			Version:       version,
			State:         []byte(state),
			CreatedAt:     base,
		}
	}

	t.Run("missing snapshot", func(t *testing.T) {
		store := newStore(t)
		_, err := store.GetLatestSnapshot(ctx, "t-1", "1")
		if !errors.Is(err, storage.ErrNotFound) {
			t.Fatalf("err = %v, want not found", err)
		}
	})

	t.Run("keeps newest version", func(t *testing.T) {
		store := newStore(t)
		for _, rec := range []storage.SnapshotRecord{record(3, `{"v":3}`), record(5, `{"v":5}`), record(4, `{"v":4}`)} {
			if err := store.SaveSnapshot(ctx, rec); err != nil {
				t.Fatalf("save %d: %v", rec.Version, err)
			}
		}
		got, err := store.GetLatestSnapshot(ctx, "t-1", "1")
		if err != nil {
			t.Fatalf("get: %v", err)
		}
		if got.Version != 5 || string(got.State) != `{"v":5}` {
			t.Fatalf("snapshot = version %d state %s, want version 5", got.Version, got.State)
		}
	})

	t.Run("schema versions are separate", func(t *testing.T) {
		store := newStore(t)
		if err := store.SaveSnapshot(ctx, record(2, `{}`)); err != nil {
			t.Fatalf("save: %v", err)
		}
		if _, err := store.GetLatestSnapshot(ctx, "t-1", "2"); !errors.Is(err, storage.ErrNotFound) {
			t.Fatalf("err = %v, want not found for other schema version", err)
		}
	})

	t.Run("rejects invalid record", func(t *testing.T) {
		store := newStore(t)
		if err := store.SaveSnapshot(ctx, storage.SnapshotRecord{StreamID: "t-1", SchemaVersion: "1"}); err == nil {
			t.Fatal("expected error for zero version")
		}
	})
}

// View builds a tenant data view.
func View(origin, label string, active bool, updated time.Time, version uint64) query.DataView {
	return query.DataView{
		NodeType:      "Tenant",
		OriginID:      origin,
		Label:         label,
		Active:        active,
		CreatedAt:     base,
		UpdatedAt:     updated,
		CommitVersion: version,
	}
}

// RunDataViewStore runs the data view store suite.
func RunDataViewStore(t *testing.T, newStore func(t *testing.T) storage.DataViewStore) {
	t.Helper()
	ctx := context.Background()

	begin := func(t *testing.T, store storage.DataViewStore) storage.DataViewTx {
		t.Helper()
		tx, err := store.Begin(ctx)
		if err != nil {
			t.Fatalf("begin: %v", err)
		}
		return tx
	}

	t.Run("insert and find", func(t *testing.T) {
		store := newStore(t)
		tx := begin(t, store)
		view := View("t-1", "Acme", false, base.Add(time.Second), 3)
		if err := tx.Insert(ctx, view); err != nil {
			t.Fatalf("insert: %v", err)
		}
		if err := tx.Commit(); err != nil {
			t.Fatalf("commit: %v", err)
		}

		tx = begin(t, store)
		defer tx.Rollback()
		got, err := tx.FindByOriginID(ctx, "Tenant", "t-1")
		if err != nil {
			t.Fatalf("find: %v", err)
		}
		if !got.Equal(view) {
			t.Fatalf("view = %+v, want %+v", got, view)
		}
		byLabel, err := tx.FindByLabel(ctx, "Tenant", "Acme")
		if err != nil {
			t.Fatalf("find by label: %v", err)
		}
		if byLabel.OriginID != "t-1" {
			t.Fatalf("origin = %s, want t-1", byLabel.OriginID)
		}
	})

	t.Run("duplicate insert", func(t *testing.T) {
		store := newStore(t)
		tx := begin(t, store)
		defer tx.Rollback()
		view := View("t-1", "Acme", false, base, 1)
		if err := tx.Insert(ctx, view); err != nil {
			t.Fatalf("insert: %v", err)
		}
		if err := tx.Insert(ctx, view); !errors.Is(err, storage.ErrAlreadyExists) {
			t.Fatalf("err = %v, want already exists", err)
		}
	})

	t.Run("merge update", func(t *testing.T) {
		store := newStore(t)
		tx := begin(t, store)
		if err := tx.Insert(ctx, View("t-1", "Acme", false, base, 3)); err != nil {
			t.Fatalf("insert: %v", err)
		}
		if err := tx.Commit(); err != nil {
			t.Fatalf("commit: %v", err)
		}

		label := "Acme Corp"
		updated := base.Add(time.Minute)
		version := uint64(4)
		tx = begin(t, store)
		if err := tx.MergeUpdate(ctx, query.Selector{NodeType: "Tenant", OriginID: "t-1"}, query.Patch{Label: &label, UpdatedAt: &updated, CommitVersion: &version}); err != nil {
			t.Fatalf("merge: %v", err)
		}
		if err := tx.Commit(); err != nil {
			t.Fatalf("commit: %v", err)
		}

		tx = begin(t, store)
		defer tx.Rollback()
		got, err := tx.FindByOriginID(ctx, "Tenant", "t-1")
		if err != nil {
			t.Fatalf("find: %v", err)
		}
		if got.Label != label || got.CommitVersion != 4 || !got.UpdatedAt.Equal(updated) || got.Active {
			t.Fatalf("view = %+v", got)
		}
	})

	t.Run("merge update missing", func(t *testing.T) {
		store := newStore(t)
		tx := begin(t, store)
		defer tx.Rollback()
		label := "x"
		err := tx.MergeUpdate(ctx, query.Selector{NodeType: "Tenant", OriginID: "nope"}, query.Patch{Label: &label})
		if !errors.Is(err, storage.ErrNotFound) {
			t.Fatalf("err = %v, want not found", err)
		}
	})

	t.Run("rollback discards", func(t *testing.T) {
		store := newStore(t)
		tx := begin(t, store)
		if err := tx.Insert(ctx, View("t-1", "Acme", false, base, 1)); err != nil {
			t.Fatalf("insert: %v", err)
		}
		if err := tx.Rollback(); err != nil {
			t.Fatalf("rollback: %v", err)
		}
		tx = begin(t, store)
		defer tx.Rollback()
		if _, err := tx.FindByOriginID(ctx, "Tenant", "t-1"); !errors.Is(err, storage.ErrNotFound) {
			t.Fatalf("err = %v, want not found after rollback", err)
		}
	})

	t.Run("rollback after commit is a no-op", func(t *testing.T) {
		store := newStore(t)
		tx := begin(t, store)
		if err := tx.Insert(ctx, View("t-1", "Acme", false, base, 1)); err != nil {
			t.Fatalf("insert: %v", err)
		}
		if err := tx.Commit(); err != nil {
			t.Fatalf("commit: %v", err)
		}
		if err := tx.Rollback(); err != nil {
			t.Fatalf("rollback after commit: %v", err)
		}
	})

	t.Run("find by label prefers most recent", func(t *testing.T) {
		store := newStore(t)
		tx := begin(t, store)
		if err := tx.Insert(ctx, View("t-1", "Acme", false, base, 1)); err != nil {
			t.Fatalf("insert: %v", err)
		}
		if err := tx.Insert(ctx, View("t-2", "Acme", true, base.Add(time.Hour), 1)); err != nil {
			t.Fatalf("insert: %v", err)
		}
		if err := tx.Commit(); err != nil {
			t.Fatalf("commit: %v", err)
		}
		tx = begin(t, store)
		defer tx.Rollback()
		got, err := tx.FindByLabel(ctx, "Tenant", "Acme")
		if err != nil {
			t.Fatalf("find by label: %v", err)
		}
		if got.OriginID != "t-2" {
			t.Fatalf("origin = %s, want t-2", got.OriginID)
		}
		if _, err := tx.FindByLabel(ctx, "Tenant", "Nobody"); !errors.Is(err, storage.ErrNotFound) {
			t.Fatalf("err = %v, want not found", err)
		}
	})

	t.Run("history records committed versions", func(t *testing.T) {
		store := newStore(t)
		reader, ok := store.(storage.HistoryReader)
		if !ok {
			t.Skip("store does not record history")
		}
		tx := begin(t, store)
		if err := tx.Insert(ctx, View("t-1", "Acme", false, base, 3)); err != nil {
			t.Fatalf("insert: %v", err)
		}
		if err := tx.Commit(); err != nil {
			t.Fatalf("commit: %v", err)
		}
		active := true
		updated := base.Add(time.Minute)
		version := uint64(4)
		tx = begin(t, store)
		if err := tx.MergeUpdate(ctx, query.Selector{NodeType: "Tenant", OriginID: "t-1"}, query.Patch{Active: &active, UpdatedAt: &updated, CommitVersion: &version}); err != nil {
			t.Fatalf("merge: %v", err)
		}
		if err := tx.Commit(); err != nil {
			t.Fatalf("commit: %v", err)
		}
		history, err := reader.LoadHistory(ctx, "Tenant", "t-1")
		if err != nil {
			t.Fatalf("history: %v", err)
		}
		if len(history) != 2 || history[0].CommitVersion != 3 || history[1].CommitVersion != 4 || !history[1].Active {
			t.Fatalf("history = %+v", history)
		}
	})
}
