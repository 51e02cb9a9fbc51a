package aggregate

import (
	"errors"
	"fmt"
	"strings"
	"time"

	apperrors "github.com/louisbranch/tenantledger/internal/platform/errors"
	"github.com/louisbranch/tenantledger/internal/platform/id"
	"github.com/louisbranch/tenantledger/internal/services/tenancy/domain/event"
	"github.com/louisbranch/tenantledger/internal/services/tenancy/domain/identity"
)

// Root is an event-sourced aggregate. A Root is not safe for concurrent use;
// callers own one instance per command.
type Root struct {
	identity.Base

	schema      Schema
	originID    identity.Identifier
	predecessor identity.Reference
	sourceIDs   []identity.Identifier
	state       State
	pending     []event.Event
	committed   uint64
}

// RecordOption adjusts an event before it is recorded.
type RecordOption func(*event.Event)

// CausedBy links the recorded event to the event that caused it.
func CausedBy(eventID string) RecordOption {
	return func(evt *event.Event) {
		evt.CausationID = strings.TrimSpace(eventID)
	}
}

// Create builds a new aggregate under predecessor and records its CREATED
// event. When no original identifier is supplied a random `<type>_ref` is
// generated.
func Create(schema Schema, predecessor identity.Entity, originals ...identity.Identifier) (*Root, error) {
	if err := schema.Validate(); err != nil {
		return nil, err
	}
	predecessorRef, err := identity.ReferenceTo(predecessor)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeMissingPredecessor, "create "+schema.Type, err)
	}
	if err := schema.validateOriginals(originals); err != nil {
		return nil, err
	}
	if len(originals) == 0 {
		ref, err := id.NewID()
		if err != nil {
			return nil, fmt.Errorf("create %s: %w", schema.Type, err)
		}
		originals = []identity.Identifier{{Name: schema.DefaultOriginalName(), Value: ref}}
	}
	derived, set, err := schema.derive(predecessorRef.Identity(), originals)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", schema.Type, err)
	}

	now := event.Timestamp(schema.now())
	base, err := identity.NewBase(set, now)
	if err != nil {
		return nil, err
	}
	root := &Root{
		Base:        base,
		schema:      schema,
		originID:    derived,
		predecessor: predecessorRef,
		sourceIDs:   sortedOriginals(set, derived),
	}
	created := event.Event{
		ID:            event.NewID(),
		Kind:          event.KindCreated,
		AggregateType: schema.Type,
		OriginID:      derived,
		PredecessorID: predecessorRef.Identity(),
		SourceIDs:     root.SourceIDs(),
		OccurredAt:    now,
	}
	if err := root.record(created); err != nil {
		return nil, err
	}
	return root, nil
}

// sortedOriginals returns the members of set other than derived, by name.
func sortedOriginals(set identity.IdentifierSet, derived identity.Identifier) []identity.Identifier {
	out := make([]identity.Identifier, 0, set.Len()-1)
	for _, member := range set.Identifiers() {
		if member != derived {
			out = append(out, member)
		}
	}
	return out
}

// ID returns the stream id of the aggregate.
func (r *Root) ID() string { return r.originID.Value }

// OriginID returns the derived identifier.
func (r *Root) OriginID() identity.Identifier { return r.originID }

// Type returns the aggregate type.
func (r *Root) Type() string { return r.schema.Type }

// Schema returns the schema the aggregate was built with.
func (r *Root) Schema() Schema { return r.schema }

// Predecessor returns the detached predecessor reference.
func (r *Root) Predecessor() identity.Reference { return r.predecessor }

// SourceIDs returns a copy of the original identifiers.
func (r *Root) SourceIDs() []identity.Identifier {
	return append([]identity.Identifier(nil), r.sourceIDs...)
}

// Attribute returns the current value of key.
func (r *Root) Attribute(key string) string { return r.state.Value(key) }

// Property returns the versioned property for key.
func (r *Root) Property(key string) (identity.Property, bool) {
	prop, ok := r.state.Properties[key]
	return prop, ok
}

// State returns a copy of the folded state.
func (r *Root) State() State { return r.state.clone() }

// UpdatedAt returns the occurrence time of the last folded event.
func (r *Root) UpdatedAt() time.Time { return r.state.UpdatedAt }

// Version returns the sequence of the last durably stored event, 0 for a
// stream that does not exist yet.
func (r *Root) Version() uint64 { return r.committed }

// Deleted reports whether a DELETED event has been folded.
func (r *Root) Deleted() bool { return r.state.Deleted }

// SetAttribute records a CHANGED event for key. Empty and unchanged values
// are no-ops.
func (r *Root) SetAttribute(key, value string, opts ...RecordOption) error {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	if !r.schema.Knows(key) {
		return apperrors.WithMetadata(apperrors.CodeUnknownAttribute, "unknown attribute", map[string]string{"attribute": key, "type": r.schema.Type})
	}
	before := r.state.Value(key)
	if before == value {
		return nil
	}
	changed := event.Event{
		ID:            event.NewID(),
		Kind:          event.KindChanged,
		AggregateType: r.schema.Type,
		OriginID:      r.originID,
		Changes:       []event.Change{{Attribute: key, Before: before, After: value}},
		OccurredAt:    r.nextTimestamp(),
	}
	for _, opt := range opts {
		opt(&changed)
	}
	return r.record(changed)
}

// nextTimestamp keeps occurrence times strictly ordered within the stream.
func (r *Root) nextTimestamp() time.Time {
	now := event.Timestamp(r.schema.now())
	if !now.After(r.state.UpdatedAt) {
		now = r.state.UpdatedAt.Add(time.Millisecond)
	}
	return now
}

func (r *Root) record(evt event.Event) error {
	if err := evt.Validate(); err != nil {
		return fmt.Errorf("record %s: %w", evt.Kind, err)
	}
	next, err := r.schema.MutateWhen(r.Identity(), r.state, evt)
	if err != nil {
		return err
	}
	r.state = next
	r.pending = append(r.pending, evt)
	return nil
}

// PendingChanges returns a copy of the events not yet stored.
func (r *Root) PendingChanges() []event.Event {
	return event.CloneAll(r.pending)
}

// HasPendingChanges reports whether any events await storage.
func (r *Root) HasPendingChanges() bool { return len(r.pending) > 0 }

// MarkCommitted clears the pending list once stored holds the same events,
// in order, with their storage-assigned sequence numbers.
func (r *Root) MarkCommitted(stored []event.Event) error {
	if len(stored) != len(r.pending) {
		return fmt.Errorf("mark committed: got %d stored events for %d pending", len(stored), len(r.pending))
	}
	for i, evt := range stored {
		if evt.ID != r.pending[i].ID {
			return fmt.Errorf("mark committed: stored event %d is %s, pending is %s", i, evt.ID, r.pending[i].ID)
		}
		if evt.Seq <= r.committed {
			return fmt.Errorf("mark committed: stored event %s has seq %d at version %d", evt.ID, evt.Seq, r.committed)
		}
		r.committed = evt.Seq
	}
	props := make(map[string]identity.Property, len(r.state.Properties))
	for key, prop := range r.state.Properties {
		props[key] = prop.Commit()
	}
	r.state.Properties = props
	r.state.Version = r.committed
	r.pending = nil
	return nil
}

// Snapshot returns a detached copy that shares no mutable state with r.
func (r *Root) Snapshot() *Root {
	out := *r
	out.sourceIDs = r.SourceIDs()
	out.state = r.state.clone()
	out.pending = event.CloneAll(r.pending)
	return &out
}

// Replay folds stored events newer than the current version, as after a
// snapshot restore. Events must continue the sequence without gaps.
func (r *Root) Replay(events []event.Event) error {
	if r.HasPendingChanges() {
		return errors.New("replay: aggregate has pending changes")
	}
	for _, evt := range events {
		if evt.Seq <= r.committed {
			continue
		}
		if err := r.replayOne(evt); err != nil {
			return err
		}
	}
	return nil
}

func (r *Root) replayOne(evt event.Event) error {
	meta := map[string]string{"event_id": evt.ID, "stream_id": r.ID()}
	if evt.Kind == event.KindCreated {
		return historyError("created event after stream start", meta)
	}
	if evt.OriginID != r.originID {
		return apperrors.WithMetadata(apperrors.CodeIdentityMismatch, "event belongs to another stream", meta)
	}
	if evt.AggregateType != r.schema.Type {
		return historyError("event aggregate type does not match schema", meta)
	}
	if evt.Seq != 0 && evt.Seq != r.committed+1 {
		return historyError(fmt.Sprintf("sequence gap: expected %d, got %d", r.committed+1, evt.Seq), meta)
	}
	if !evt.Kind.Valid() {
		return historyError("invalid event kind", meta)
	}
	next, err := r.schema.MutateWhen(r.Identity(), r.state, evt)
	if err != nil {
		return err
	}
	r.state = next
	if evt.Seq != 0 {
		r.committed = evt.Seq
	}
	return nil
}

// Rehydrate rebuilds the aggregate identified by id from its full ordered
// history. Replay records no pending events.
func Rehydrate(schema Schema, id identity.Identifier, history []event.Event) (*Root, error) {
	if err := schema.Validate(); err != nil {
		return nil, err
	}
	if len(history) == 0 {
		return nil, historyError("history is empty", map[string]string{"stream_id": id.Value})
	}
	first := history[0]
	meta := map[string]string{"stream_id": id.Value, "event_id": first.ID}
	if first.Kind != event.KindCreated {
		return nil, historyError("first event must be CREATED", meta)
	}
	if first.PredecessorID.IsEmpty() || first.OriginID.Value == "" || first.OccurredAt.IsZero() {
		return nil, historyError("created event lacks identity fields", meta)
	}
	if first.AggregateType != schema.Type {
		return nil, historyError("created event aggregate type does not match schema", meta)
	}
	if first.Seq > 1 {
		return nil, historyError("history does not start at the beginning of the stream", meta)
	}

	root, err := rebuild(schema, id, first.PredecessorID, first.SourceIDs, first.OriginID, first.OccurredAt)
	if err != nil {
		return nil, err
	}
	root.state, err = schema.MutateWhen(root.Identity(), root.state, first)
	if err != nil {
		return nil, err
	}
	root.committed = first.Seq
	for _, evt := range history[1:] {
		if err := root.replayOne(evt); err != nil {
			return nil, err
		}
	}
	return root, nil
}

// rebuild reconstructs identity from recorded inputs and checks it against
// the requested id and the recorded origin.
func rebuild(schema Schema, id identity.Identifier, predecessor identity.IdentifierSet, sourceIDs []identity.Identifier, recorded identity.Identifier, createdAt time.Time) (*Root, error) {
	if err := schema.validateOriginals(sourceIDs); err != nil {
		return nil, err
	}
	predecessorRef, err := identity.NewReference(predecessor, time.Time{})
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeMissingPredecessor, "rehydrate "+schema.Type, err)
	}
	derived, set, err := schema.derive(predecessor, sourceIDs)
	if err != nil {
		return nil, fmt.Errorf("rehydrate %s: %w", schema.Type, err)
	}
	if derived != id || derived != recorded {
		return nil, apperrors.WithMetadata(apperrors.CodeIdentityMismatch, "re-derived identity does not match",
			map[string]string{"requested": id.String(), "recorded": recorded.String(), "derived": derived.String()})
	}
	base, err := identity.NewBase(set, createdAt)
	if err != nil {
		return nil, err
	}
	return &Root{
		Base:        base,
		schema:      schema,
		originID:    derived,
		predecessor: predecessorRef,
		sourceIDs:   sortedOriginals(set, derived),
		state:       State{Properties: map[string]identity.Property{}},
	}, nil
}

// Attributes returns the current attribute values keyed by name.
func (r *Root) Attributes() map[string]string {
	out := make(map[string]string, len(r.state.Properties))
	for key := range r.state.Properties {
		out[key] = r.state.Value(key)
	}
	return out
}
