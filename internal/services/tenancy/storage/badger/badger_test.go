package badger

import (
	"context"
	"testing"
	"time"

	"github.com/louisbranch/tenantledger/internal/services/tenancy/storage"
	"github.com/louisbranch/tenantledger/internal/services/tenancy/storage/storagetest"
)

func openInMemory(t *testing.T) *Snapshots {
	t.Helper()
	store, err := Open(InMemoryConfig())
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestSnapshotsConformance(t *testing.T) {
	storagetest.RunSnapshotStore(t, func(t *testing.T) storage.SnapshotStore { return openInMemory(t) })
}

func TestOpenRequiresPath(t *testing.T) {
	if _, err := Open(Config{}); err == nil {
		t.Fatal("expected error for missing path")
	}
}

func TestPersistentReopen(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultConfig(t.TempDir())
	cfg.GCInterval = time.Hour

	store, err := Open(cfg)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	record := storage.SnapshotRecord{
		StreamID:      "t-1",
		SchemaVersion: "1",
		Version:       3,
		State:         []byte(`{"version":3}`),
		CreatedAt:     time.Date(2026, 2, 3, 12, 0, 0, 0, time.UTC),
	}
	if err := store.SaveSnapshot(ctx, record); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}

	reopened, err := Open(cfg)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	got, err := reopened.GetLatestSnapshot(ctx, "t-1", "1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Version != 3 || !got.CreatedAt.Equal(record.CreatedAt) || string(got.State) != string(record.State) {
		t.Fatalf("snapshot = %+v", got)
	}
}

func TestSlashInSchemaVersionKeepsKeysApart(t *testing.T) {
	ctx := context.Background()
	store := openInMemory(t)
	at := time.Date(2026, 2, 3, 12, 0, 0, 0, time.UTC)
	records := []storage.SnapshotRecord{
		{StreamID: "b/c", SchemaVersion: "a", Version: 2, State: []byte(`{"owner":"first"}`), CreatedAt: at},
		{StreamID: "c", SchemaVersion: "a/b", Version: 1, State: []byte(`{"owner":"second"}`), CreatedAt: at},
	}
	for _, record := range records {
		if err := store.SaveSnapshot(ctx, record); err != nil {
			t.Fatalf("save %s/%s: %v", record.SchemaVersion, record.StreamID, err)
		}
	}
	for _, want := range records {
		got, err := store.GetLatestSnapshot(ctx, want.StreamID, want.SchemaVersion)
		if err != nil {
			t.Fatalf("get %s/%s: %v", want.SchemaVersion, want.StreamID, err)
		}
		if got.Version != want.Version || string(got.State) != string(want.State) {
			t.Fatalf("get %s/%s = version %d state %s", want.SchemaVersion, want.StreamID, got.Version, got.State)
		}
	}
}
