package memory

import (
	"bytes"
	"context"
	"errors"
	"sync"

	"github.com/louisbranch/tenantledger/internal/services/tenancy/storage"
)

type snapshotKey struct {
	streamID      string
	schemaVersion string
}

// Snapshots stores the newest snapshot per stream and schema version.
type Snapshots struct {
	mu      sync.Mutex
	records map[snapshotKey]storage.SnapshotRecord
}

// NewSnapshots creates an empty snapshot store.
func NewSnapshots() *Snapshots {
	return &Snapshots{records: make(map[snapshotKey]storage.SnapshotRecord)}
}

// GetLatestSnapshot implements storage.SnapshotStore.
func (s *Snapshots) GetLatestSnapshot(ctx context.Context, streamID, schemaVersion string) (storage.SnapshotRecord, error) {
	if s == nil {
		return storage.SnapshotRecord{}, errors.New("snapshot store is required")
	}
	if err := checkContext(ctx, "get snapshot"); err != nil {
		return storage.SnapshotRecord{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.records[snapshotKey{streamID, schemaVersion}]
	if !ok {
		return storage.SnapshotRecord{}, storage.ErrNotFound
	}
	record.State = bytes.Clone(record.State)
	return record, nil
}

// SaveSnapshot implements storage.SnapshotStore.
func (s *Snapshots) SaveSnapshot(ctx context.Context, record storage.SnapshotRecord) error {
	if s == nil {
		return errors.New("snapshot store is required")
	}
	if err := record.Validate(); err != nil {
		return err
	}
	if err := checkContext(ctx, "save snapshot"); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := snapshotKey{record.StreamID, record.SchemaVersion}
	if existing, ok := s.records[key]; ok && existing.Version >= record.Version {
		return nil
	}
	record.State = bytes.Clone(record.State)
	s.records[key] = record
	return nil
}
