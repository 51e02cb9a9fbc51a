package eventstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	apperrors "github.com/louisbranch/tenantledger/internal/platform/errors"
	"github.com/louisbranch/tenantledger/internal/platform/logging"
	"github.com/louisbranch/tenantledger/internal/platform/otel"
	"github.com/louisbranch/tenantledger/internal/platform/timeouts"
	"github.com/louisbranch/tenantledger/internal/services/tenancy/domain/aggregate"
	"github.com/louisbranch/tenantledger/internal/services/tenancy/domain/identity"
	"github.com/louisbranch/tenantledger/internal/services/tenancy/storage"
	"github.com/louisbranch/tenantledger/internal/services/tenancy/transport"
)

// ErrAppend reports an aggregate that cannot be appended, such as one whose
// identity cannot be resolved.
var ErrAppend = apperrors.New(apperrors.CodeAppendFailed, "append failed")

// DefaultSchemaVersion keys snapshots when no version is configured.
const DefaultSchemaVersion = "1"

var tracer = otel.Tracer("tenancy/eventstore")

// Config holds the collaborators of a Store. Streams and Schema are
// required; Snapshots and Publisher are optional.
type Config struct {
	Streams       storage.StreamStore
	Snapshots     storage.SnapshotStore
	Publisher     transport.Publisher
	Schema        aggregate.Schema
	Policy        SnapshotPolicy
	SchemaVersion string
	Timeout       time.Duration
	Logger        *logging.Logger
}

// Store is the aggregate repository for one schema.
type Store struct {
	streams       storage.StreamStore
	snapshots     storage.SnapshotStore
	publisher     transport.Publisher
	schema        aggregate.Schema
	policy        SnapshotPolicy
	schemaVersion string
	timeout       time.Duration
	log           *logging.Logger

	background sync.WaitGroup
}

// New validates cfg and builds a Store.
func New(cfg Config) (*Store, error) {
	if cfg.Streams == nil {
		return nil, fmt.Errorf("eventstore: stream store is required")
	}
	if err := cfg.Schema.Validate(); err != nil {
		return nil, fmt.Errorf("eventstore: %w", err)
	}
	s := &Store{
		streams:       cfg.Streams,
		snapshots:     cfg.Snapshots,
		publisher:     cfg.Publisher,
		schema:        cfg.Schema,
		policy:        cfg.Policy,
		schemaVersion: strings.TrimSpace(cfg.SchemaVersion),
		timeout:       cfg.Timeout,
		log:           logging.OrNop(cfg.Logger).With("component", "eventstore", "aggregate_type", cfg.Schema.Type),
	}
	if s.policy == nil {
		s.policy = ThresholdPolicy{Threshold: DefaultSnapshotThreshold}
	}
	if s.schemaVersion == "" {
		s.schemaVersion = DefaultSchemaVersion
	}
	if s.timeout <= 0 {
		s.timeout = timeouts.StoreOperation
	}
	return s, nil
}

// Schema returns the schema the store loads aggregates with.
func (s *Store) Schema() aggregate.Schema { return s.schema }

// Append stores the pending changes of root at its current version, clears
// them, snapshots per policy in the background, and publishes the stored
// events in order. Nothing is stored when Append returns an error.
func (s *Store) Append(ctx context.Context, root *aggregate.Root) error {
	if root == nil {
		return apperrors.WithMetadata(apperrors.CodeAppendFailed, "aggregate is required", nil)
	}
	if !root.HasPendingChanges() {
		return nil
	}
	streamID := strings.TrimSpace(root.ID())
	if streamID == "" {
		return apperrors.WithMetadata(apperrors.CodeAppendFailed, "aggregate identity cannot be resolved", map[string]string{"aggregate_type": root.Type()})
	}
	if root.Type() != s.schema.Type {
		return apperrors.WithMetadata(apperrors.CodeAppendFailed, "aggregate type does not match store schema", map[string]string{"aggregate_type": root.Type(), "stream_id": streamID})
	}

	pending := root.PendingChanges()
	ctx, span := tracer.Start(ctx, "eventstore.Append")
	defer span.End()
	span.SetAttributes(
		attribute.String("stream_id", streamID),
		attribute.Int("pending", len(pending)),
		attribute.Int64("expected_version", int64(root.Version())),
	)

	opCtx, cancel := context.WithTimeout(ctx, s.timeout)
	stored, err := s.streams.AppendToStream(opCtx, streamID, root.Version(), pending)
	deadline := opCtx.Err()
	cancel()
	if err != nil {
		if deadline != nil && !errors.Is(err, storage.ErrStoreUnavailable) {
			err = storage.Unavailable("append stream "+streamID, err)
		}
		appendsTotal.WithLabelValues(resultLabel(err)).Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "append failed")
		return err
	}
	if err := root.MarkCommitted(stored); err != nil {
		appendsTotal.WithLabelValues("error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "mark committed failed")
		return apperrors.Wrap(apperrors.CodeAppendFailed, "stored events do not match pending changes", err)
	}
	appendsTotal.WithLabelValues("ok").Inc()

	if s.snapshots != nil && s.policy.ShouldSnapshot(len(stored)) {
		detached := root.Snapshot()
		s.background.Add(1)
		go func() {
			defer s.background.Done()
			s.saveSnapshot(context.WithoutCancel(ctx), detached)
		}()
	}

	if s.publisher != nil {
		for _, evt := range stored {
			if err := s.publisher.Publish(ctx, evt); err != nil {
				publishFailuresTotal.Inc()
				s.log.Warn("publish stored event failed",
					"stream_id", streamID, "event_id", evt.ID, "seq", evt.Seq, "error", err)
			}
		}
	}
	span.SetStatus(codes.Ok, "")
	return nil
}

func (s *Store) saveSnapshot(ctx context.Context, root *aggregate.Root) {
	memento, err := root.Memento()
	if err == nil {
		var state []byte
		state, err = aggregate.EncodeMemento(memento)
		if err == nil {
			opCtx, cancel := context.WithTimeout(ctx, s.timeout)
			err = s.snapshots.SaveSnapshot(opCtx, storage.SnapshotRecord{
				StreamID:      root.ID(),
				SchemaVersion: s.schemaVersion,
				Version:       root.Version(),
				State:         state,
				CreatedAt:     time.Now().UTC(),
			})
			cancel()
		}
	}
	if err != nil {
		snapshotsTotal.WithLabelValues("save_failed").Inc()
		s.log.Warn("save snapshot failed", "stream_id", root.ID(), "version", root.Version(), "error", err)
		return
	}
	snapshotsTotal.WithLabelValues("saved").Inc()
}

// Wait blocks until background snapshot writes finish.
func (s *Store) Wait() {
	s.background.Wait()
}

// FindByIdentity loads the aggregate identified by id, or returns nil when
// no stream exists. A usable snapshot shortens the replay; an unusable one
// is logged and ignored.
func (s *Store) FindByIdentity(ctx context.Context, id identity.Identifier) (*aggregate.Root, error) {
	if id.IsZero() || strings.TrimSpace(id.Value) == "" {
		return nil, apperrors.WithMetadata(apperrors.CodeInvalidIdentity, "identity is required", nil)
	}
	ctx, span := tracer.Start(ctx, "eventstore.FindByIdentity")
	defer span.End()
	span.SetAttributes(attribute.String("stream_id", id.Value))

	opCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	root, err := s.fromSnapshot(opCtx, id)
	if err == nil && root != nil {
		span.SetAttributes(attribute.Bool("snapshot", true))
		return root, nil
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "load failed")
		return nil, s.deadline(opCtx, "load stream "+id.Value, err)
	}

	events, err := s.streams.LoadStream(opCtx, id.Value)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "load failed")
		return nil, s.deadline(opCtx, "load stream "+id.Value, err)
	}
	if len(events) == 0 {
		return nil, nil
	}
	root, err = aggregate.Rehydrate(s.schema, id, events)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "rehydrate failed")
		return nil, err
	}
	return root, nil
}

// fromSnapshot returns (nil, nil) when the caller should fall back to a full
// replay. Errors come only from replaying the stream tail.
func (s *Store) fromSnapshot(ctx context.Context, id identity.Identifier) (*aggregate.Root, error) {
	if s.snapshots == nil {
		return nil, nil
	}
	record, err := s.snapshots.GetLatestSnapshot(ctx, id.Value, s.schemaVersion)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			snapshotsTotal.WithLabelValues("load_failed").Inc()
			s.log.Warn("load snapshot failed", "stream_id", id.Value, "error", err)
		}
		return nil, nil
	}
	memento, err := aggregate.DecodeMemento(record.State)
	if err == nil && memento.OriginID != id {
		err = fmt.Errorf("snapshot origin %s does not match %s", memento.OriginID, id)
	}
	var root *aggregate.Root
	if err == nil {
		root, err = aggregate.Restore(s.schema, memento)
	}
	if err != nil {
		snapshotsTotal.WithLabelValues("decode_failed").Inc()
		s.log.Warn("snapshot unusable, replaying full stream", "stream_id", id.Value, "version", record.Version, "error", err)
		return nil, nil
	}

	tail, err := s.streams.LoadStreamAfterVersion(ctx, id.Value, record.Version)
	if err != nil {
		return nil, err
	}
	if err := root.Replay(tail); err != nil {
		return nil, err
	}
	snapshotsTotal.WithLabelValues("restored").Inc()
	return root, nil
}

func (s *Store) deadline(ctx context.Context, operation string, err error) error {
	if ctx.Err() != nil && !errors.Is(err, storage.ErrStoreUnavailable) {
		return storage.Unavailable(operation, err)
	}
	return err
}

// StreamIDs lists every known stream.
func (s *Store) StreamIDs(ctx context.Context) ([]string, error) {
	opCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	ids, err := s.streams.ListStreamIDs(opCtx)
	if err != nil {
		return nil, s.deadline(opCtx, "list streams", err)
	}
	return ids, nil
}
