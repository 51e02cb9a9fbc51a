package projection

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	apperrors "github.com/louisbranch/tenantledger/internal/platform/errors"
	"github.com/louisbranch/tenantledger/internal/platform/logging"
	"github.com/louisbranch/tenantledger/internal/platform/otel"
	"github.com/louisbranch/tenantledger/internal/platform/timeouts"
	"github.com/louisbranch/tenantledger/internal/services/tenancy/domain/aggregate"
	"github.com/louisbranch/tenantledger/internal/services/tenancy/domain/event"
	"github.com/louisbranch/tenantledger/internal/services/tenancy/domain/identity"
	"github.com/louisbranch/tenantledger/internal/services/tenancy/query"
	"github.com/louisbranch/tenantledger/internal/services/tenancy/storage"
)

// ErrDeleteUnsupported is returned for DELETED events. Deletion semantics
// for data views (hard delete or archive) are undecided, so the event is
// refused instead of dropped.
var ErrDeleteUnsupported = apperrors.New(apperrors.CodeUnsupportedOperation, "deleted events are not projected")

var tracer = otel.Tracer("tenancy/projection")

// Loader loads the current state of an aggregate, nil when it has no stream.
type Loader interface {
	FindByIdentity(ctx context.Context, id identity.Identifier) (*aggregate.Root, error)
}

// Mapper turns an aggregate into its data view.
type Mapper func(root *aggregate.Root) (query.DataView, error)

// Config holds the collaborators of a Synchronizer. Loader, Views, Map, and
// Schema are required.
type Config struct {
	Loader   Loader
	Views    storage.DataViewStore
	Map      Mapper
	Schema   aggregate.Schema
	Notifier Notifier
	Timeout  time.Duration
	Logger   *logging.Logger
}

type handlerFunc func(ctx context.Context, tx storage.DataViewTx, view query.DataView) (Outcome, *Notification, error)

// Synchronizer applies change events of one aggregate type to the views.
// It keeps no per-event state, so one instance serves many workers.
type Synchronizer struct {
	loader   Loader
	views    storage.DataViewStore
	mapView  Mapper
	schema   aggregate.Schema
	notifier Notifier
	timeout  time.Duration
	log      *logging.Logger
	handlers map[event.Kind]handlerFunc
}

// NewSynchronizer validates cfg and builds the handler table.
func NewSynchronizer(cfg Config) (*Synchronizer, error) {
	if cfg.Loader == nil {
		return nil, fmt.Errorf("projection: loader is required")
	}
	if cfg.Views == nil {
		return nil, fmt.Errorf("projection: view store is required")
	}
	if cfg.Map == nil {
		return nil, fmt.Errorf("projection: mapper is required")
	}
	if err := cfg.Schema.Validate(); err != nil {
		return nil, fmt.Errorf("projection: %w", err)
	}
	s := &Synchronizer{
		loader:   cfg.Loader,
		views:    cfg.Views,
		mapView:  cfg.Map,
		schema:   cfg.Schema,
		notifier: cfg.Notifier,
		timeout:  cfg.Timeout,
		log:      logging.OrNop(cfg.Logger).With("component", "projection", "aggregate_type", cfg.Schema.Type),
	}
	if s.notifier == nil {
		s.notifier = nopNotifier{}
	}
	if s.timeout <= 0 {
		s.timeout = timeouts.ProjectionEvent
	}
	s.handlers = map[event.Kind]handlerFunc{
		event.KindCreated: s.created,
		event.KindChanged: s.changed,
		event.KindDeleted: s.deleted,
	}
	if err := checkCoverage(s.handlers); err != nil {
		return nil, err
	}
	return s, nil
}

func checkCoverage(handlers map[event.Kind]handlerFunc) error {
	for _, kind := range event.Kinds() {
		if handlers[kind] == nil {
			return fmt.Errorf("projection: no handler for %s events", kind)
		}
	}
	return nil
}

// Kinds lists the event kinds the synchronizer subscribes to.
func (s *Synchronizer) Kinds() []event.Kind {
	kinds := make([]event.Kind, 0, len(s.handlers))
	for kind := range s.handlers {
		kinds = append(kinds, kind)
	}
	slices.Sort(kinds)
	return kinds
}

// Handle adapts Apply to a transport handler. Policy rejections are not
// errors.
func (s *Synchronizer) Handle(ctx context.Context, evt event.Event) error {
	_, err := s.Apply(ctx, evt)
	return err
}

// Apply projects one event. The view is built from the aggregate loaded from
// the store, never from the event's own changes, which may be partial.
func (s *Synchronizer) Apply(ctx context.Context, evt event.Event) (Outcome, error) {
	ctx, span := tracer.Start(ctx, "projection.Apply")
	defer span.End()
	span.SetAttributes(
		attribute.String("event_id", evt.ID),
		attribute.String("kind", evt.Kind.String()),
		attribute.String("stream_id", evt.StreamID()),
	)

	outcome, err := s.apply(ctx, evt)
	label := outcome.String()
	if err != nil {
		label = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, "projection failed")
	} else {
		span.SetAttributes(attribute.String("outcome", label))
	}
	eventsTotal.WithLabelValues(evt.Kind.String(), label).Inc()
	return outcome, err
}

func (s *Synchronizer) apply(ctx context.Context, evt event.Event) (Outcome, error) {
	if evt.AggregateType != s.schema.Type {
		return 0, fmt.Errorf("projection: %s event %s routed to %s synchronizer", evt.AggregateType, evt.ID, s.schema.Type)
	}
	handler, ok := s.handlers[evt.Kind]
	if !ok {
		return 0, fmt.Errorf("projection: event %s has invalid kind %s", evt.ID, evt.Kind)
	}
	if evt.Kind == event.KindDeleted {
		_, _, err := handler(ctx, nil, query.DataView{})
		return 0, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	root, err := s.loader.FindByIdentity(ctx, evt.OriginID)
	if err != nil {
		return 0, fmt.Errorf("projection: load %s: %w", evt.OriginID, err)
	}
	if root == nil {
		s.log.Info("event ignored: aggregate has no stream", "event_id", evt.ID, "stream_id", evt.StreamID())
		return OutcomeIgnoredMissing, nil
	}
	view, err := s.mapView(root)
	if err != nil {
		return 0, fmt.Errorf("projection: map %s: %w", evt.OriginID, err)
	}
	return s.project(ctx, evt.ID, handler, view)
}

// project runs handler inside one data view transaction and notifies after
// a successful commit.
func (s *Synchronizer) project(ctx context.Context, eventID string, handler handlerFunc, view query.DataView) (Outcome, error) {
	tx, err := s.views.Begin(ctx)
	if err != nil {
		return 0, err
	}
	outcome, note, err := handler(ctx, tx, view)
	if err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.log.Warn("rollback data view transaction failed", "event_id", eventID, "error", rbErr)
		}
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			s.log.Warn("rollback data view transaction failed", "event_id", eventID, "error", rbErr)
		}
		return 0, err
	}

	if outcome.Ignored() {
		s.log.Info("event ignored by policy",
			"event_id", eventID, "origin_id", view.OriginID, "label", view.Label, "outcome", outcome.String())
	}
	if note != nil {
		note.EventID = eventID
		s.notifier.Notify(ctx, *note)
	}
	return outcome, nil
}

// created inserts a view unless one already exists for the origin id or the
// label, in which case the event is handled as a change.
func (s *Synchronizer) created(ctx context.Context, tx storage.DataViewTx, view query.DataView) (Outcome, *Notification, error) {
	_, err := tx.FindByOriginID(ctx, view.NodeType, view.OriginID)
	if err == nil {
		return s.changed(ctx, tx, view)
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return 0, nil, err
	}
	if view.Label != "" {
		owner, err := tx.FindByLabel(ctx, view.NodeType, view.Label)
		switch {
		case err == nil && owner.OriginID != view.OriginID:
			return OutcomeIgnoredConflict, nil, nil
		case err != nil && !errors.Is(err, storage.ErrNotFound):
			return 0, nil, err
		}
	}
	if err := tx.Insert(ctx, view); err != nil {
		if errors.Is(err, storage.ErrAlreadyExists) {
			return s.changed(ctx, tx, view)
		}
		return 0, nil, err
	}
	return OutcomeInserted, &Notification{Kind: DataViewAdded, View: view}, nil
}

// changed merges view into the stored one, refusing label conflicts and
// stale updates. It never creates a view.
func (s *Synchronizer) changed(ctx context.Context, tx storage.DataViewTx, view query.DataView) (Outcome, *Notification, error) {
	current, err := tx.FindByOriginID(ctx, view.NodeType, view.OriginID)
	if errors.Is(err, storage.ErrNotFound) {
		return OutcomeIgnoredMissing, nil, nil
	}
	if err != nil {
		return 0, nil, err
	}

	if view.Label != "" && view.Label != current.Label {
		owner, err := tx.FindByLabel(ctx, view.NodeType, view.Label)
		switch {
		case err == nil && owner.OriginID != view.OriginID:
			return OutcomeIgnoredConflict, nil, nil
		case err != nil && !errors.Is(err, storage.ErrNotFound):
			return 0, nil, err
		}
	}

	if current.UpdatedAt.After(view.UpdatedAt) {
		return OutcomeIgnoredStale, nil, nil
	}

	patch := query.Diff(current, view)
	if patch.IsEmpty() {
		return OutcomeUnchanged, nil, nil
	}
	if err := tx.MergeUpdate(ctx, view.Selector(), patch); err != nil {
		return 0, nil, err
	}
	return OutcomeUpdated, &Notification{Kind: DataViewChanged, View: patch.Apply(current), Fields: patch.Fields()}, nil
}

func (s *Synchronizer) deleted(context.Context, storage.DataViewTx, query.DataView) (Outcome, *Notification, error) {
	return 0, nil, ErrDeleteUnsupported
}
