package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	apperrors "github.com/louisbranch/tenantledger/internal/platform/errors"
	"github.com/louisbranch/tenantledger/internal/services/tenancy/domain/event"
	"github.com/louisbranch/tenantledger/internal/services/tenancy/query"
)

// ErrNotFound indicates a requested persistence record is missing.
var ErrNotFound = apperrors.New(apperrors.CodeNotFound, "record not found")

// ErrAlreadyExists indicates an insert collided with an existing key.
var ErrAlreadyExists = apperrors.New(apperrors.CodeAlreadyExists, "record already exists")

// ErrVersionConflict indicates another writer appended to the stream after
// the caller loaded it. Callers reload and retry.
var ErrVersionConflict = apperrors.New(apperrors.CodeVersionConflict, "stream version conflict")

// ErrStoreUnavailable indicates a transient backend failure. No state was
// written; callers may retry.
var ErrStoreUnavailable = apperrors.New(apperrors.CodeStoreUnavailable, "store unavailable")

// NoStream is the expected version of a stream that does not exist yet.
const NoStream uint64 = 0

// StreamStore persists ordered event streams, one per aggregate identity.
type StreamStore interface {
	// AppendToStream appends events atomically when the stream is at
	// expectedVersion and returns them with storage fields assigned. On any
	// error none of the events are stored.
	AppendToStream(ctx context.Context, streamID string, expectedVersion uint64, events []event.Event) ([]event.Event, error)
	// LoadStream returns the full stream in order, empty when it does not exist.
	LoadStream(ctx context.Context, streamID string) ([]event.Event, error)
	// LoadStreamAfterVersion returns events with Seq strictly greater than version.
	LoadStreamAfterVersion(ctx context.Context, streamID string, version uint64) ([]event.Event, error)
	// ListStreamIDs returns every known stream id in creation order.
	ListStreamIDs(ctx context.Context) ([]string, error)
}

// SnapshotRecord is a materialized aggregate state at a stream version.
type SnapshotRecord struct {
	StreamID      string
	SchemaVersion string
	Version       uint64
	State         []byte
	CreatedAt     time.Time
}

// Validate checks the snapshot key fields.
func (r SnapshotRecord) Validate() error {
	if strings.TrimSpace(r.StreamID) == "" {
		return fmt.Errorf("snapshot stream id is required")
	}
	if strings.TrimSpace(r.SchemaVersion) == "" {
		return fmt.Errorf("snapshot schema version is required")
	}
	if r.Version == 0 {
		return fmt.Errorf("snapshot version is required")
	}
	return nil
}

// SnapshotStore keeps the newest snapshot per (stream id, schema version).
type SnapshotStore interface {
	// GetLatestSnapshot returns ErrNotFound when no snapshot exists for the
	// stream under schemaVersion.
	GetLatestSnapshot(ctx context.Context, streamID, schemaVersion string) (SnapshotRecord, error)
	// SaveSnapshot stores record unless a newer version is already stored.
	SaveSnapshot(ctx context.Context, record SnapshotRecord) error
}

// DataViewStore opens transactions over the denormalized views.
type DataViewStore interface {
	Begin(ctx context.Context) (DataViewTx, error)
}

// DataViewTx is one local transaction over the data views. Exactly one of
// Commit or Rollback must be called; Rollback after Commit is a no-op.
type DataViewTx interface {
	// FindByOriginID returns ErrNotFound when no view exists.
	FindByOriginID(ctx context.Context, nodeType, originID string) (query.DataView, error)
	// FindByLabel returns the most recently updated view with label, or
	// ErrNotFound.
	FindByLabel(ctx context.Context, nodeType, label string) (query.DataView, error)
	// Insert returns ErrAlreadyExists when the origin id is taken.
	Insert(ctx context.Context, view query.DataView) error
	// MergeUpdate sets the patch fields on the selected view, or returns
	// ErrNotFound.
	MergeUpdate(ctx context.Context, selector query.Selector, patch query.Patch) error
	Commit() error
	Rollback() error
}

// HistoryReader exposes every version a view store has recorded for one
// origin id, oldest first.
type HistoryReader interface {
	LoadHistory(ctx context.Context, nodeType, originID string) ([]query.DataView, error)
}

// CheckAppend validates an append request before any backend work.
func CheckAppend(streamID string, events []event.Event) error {
	if strings.TrimSpace(streamID) == "" {
		return fmt.Errorf("stream id is required")
	}
	if len(events) == 0 {
		return fmt.Errorf("at least one event is required")
	}
	for i, evt := range events {
		if err := evt.Validate(); err != nil {
			return fmt.Errorf("event %d: %w", i, err)
		}
		if evt.StreamID() != streamID {
			return fmt.Errorf("event %d belongs to stream %s, not %s", i, evt.StreamID(), streamID)
		}
	}
	return nil
}

// VersionConflict builds a coded conflict error with stream metadata.
func VersionConflict(streamID string, expected, actual uint64) error {
	return apperrors.WithMetadata(apperrors.CodeVersionConflict, "stream version conflict", map[string]string{
		"stream_id": streamID,
		"expected":  fmt.Sprint(expected),
		"actual":    fmt.Sprint(actual),
	})
}

// Unavailable wraps cause as a retryable store failure.
func Unavailable(operation string, cause error) error {
	return apperrors.Wrap(apperrors.CodeStoreUnavailable, operation, cause)
}
