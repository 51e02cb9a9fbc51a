package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/louisbranch/tenantledger/internal/services/tenancy/storage"
)

// GetLatestSnapshot implements storage.SnapshotStore.
func (s *Store) GetLatestSnapshot(ctx context.Context, streamID, schemaVersion string) (storage.SnapshotRecord, error) {
	if err := s.ready(ctx, "get snapshot"); err != nil {
		return storage.SnapshotRecord{}, err
	}
	record := storage.SnapshotRecord{
		StreamID:      strings.TrimSpace(streamID),
		SchemaVersion: strings.TrimSpace(schemaVersion),
	}
	var createdAt int64
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT version, state, created_at FROM snapshots WHERE stream_id = ? AND schema_version = ?`,
		record.StreamID, record.SchemaVersion,
	).Scan(&record.Version, &record.State, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return storage.SnapshotRecord{}, storage.ErrNotFound
		}
		return storage.SnapshotRecord{}, classify("get snapshot", err)
	}
	record.CreatedAt = fromMillis(createdAt)
	return record, nil
}

// SaveSnapshot implements storage.SnapshotStore. An older version never
// replaces a newer one.
func (s *Store) SaveSnapshot(ctx context.Context, record storage.SnapshotRecord) error {
	if err := record.Validate(); err != nil {
		return err
	}
	if err := s.ready(ctx, "save snapshot"); err != nil {
		return err
	}
	_, err := s.sqlDB.ExecContext(ctx, `
INSERT INTO snapshots (stream_id, schema_version, version, state, created_at)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT (stream_id, schema_version) DO UPDATE SET
    version = excluded.version,
    state = excluded.state,
    created_at = excluded.created_at
WHERE excluded.version > snapshots.version`,
		record.StreamID, record.SchemaVersion, record.Version, record.State, toMillis(record.CreatedAt))
	return classify("save snapshot", err)
}
