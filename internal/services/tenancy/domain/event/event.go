package event

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/louisbranch/tenantledger/internal/services/tenancy/domain/identity"
)

// Change describes one attribute delta.
type Change struct {
	Attribute string `json:"attribute"`
	Before    string `json:"before,omitempty"`
	After     string `json:"after"`
}

// Event is an immutable change event in an aggregate stream.
type Event struct {
	// ID uniquely identifies the event (UUID). Assigned when recorded.
	ID string `json:"id"`
	// Kind identifies what the event records.
	Kind Kind `json:"kind"`
	// AggregateType names the aggregate schema, e.g. "tenant".
	AggregateType string `json:"aggregate_type"`
	// OriginID is the derived identifier of the aggregate the event belongs
	// to. Its value is the stream id.
	OriginID identity.Identifier `json:"origin_id"`
	// PredecessorID is the identity of the entity the aggregate descends from.
	// Set on CREATED events only.
	PredecessorID identity.IdentifierSet `json:"predecessor_id"`
	// SourceIDs are the original identifiers the identity was derived from.
	// Set on CREATED events only.
	SourceIDs []identity.Identifier `json:"source_ids,omitempty"`
	// Changes lists the attribute deltas (CHANGED events).
	Changes []Change `json:"changes,omitempty"`
	// CausationID references the event that caused this one (optional).
	CausationID string `json:"causation_id,omitempty"`
	// OccurredAt is when the change happened, in UTC with millisecond precision.
	OccurredAt time.Time `json:"occurred_at"`

	// Seq is the position of the event in its stream (starts at 1).
	// Assigned by storage on append.
	Seq uint64 `json:"seq,omitempty"`
	// Hash is the content hash of the canonical envelope.
	// Assigned by storage on append.
	Hash string `json:"hash,omitempty"`
	// PrevHash is the previous event's chain hash (empty for the first event).
	// Assigned by storage on append.
	PrevHash string `json:"prev_hash,omitempty"`
	// ChainHash links this event to the previous event hash.
	// Assigned by storage on append.
	ChainHash string `json:"chain_hash,omitempty"`
	// SignatureKeyID identifies the HMAC key used to sign the chain hash.
	// Assigned by storage on append.
	SignatureKeyID string `json:"signature_key_id,omitempty"`
	// Signature is the HMAC signature of the chain hash.
	// Assigned by storage on append.
	Signature string `json:"signature,omitempty"`
}

// NewID returns a fresh event identifier.
func NewID() string {
	return uuid.NewString()
}

// Timestamp normalizes t to the precision events are stored with.
func Timestamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}

// StreamID returns the id of the stream the event belongs to.
func (e Event) StreamID() string {
	return e.OriginID.Value
}

// ChangeFor returns the delta recorded for attribute.
func (e Event) ChangeFor(attribute string) (Change, bool) {
	for _, c := range e.Changes {
		if c.Attribute == attribute {
			return c, true
		}
	}
	return Change{}, false
}

// Validate checks the fields every event must carry before it is stored.
func (e Event) Validate() error {
	if strings.TrimSpace(e.ID) == "" {
		return fmt.Errorf("event id is required")
	}
	if !e.Kind.Valid() {
		return fmt.Errorf("event kind %s is invalid", e.Kind)
	}
	if strings.TrimSpace(e.AggregateType) == "" {
		return fmt.Errorf("aggregate type is required")
	}
	if e.OriginID.Name == "" || e.OriginID.Value == "" {
		return fmt.Errorf("origin id is required")
	}
	if e.OccurredAt.IsZero() {
		return fmt.Errorf("occurred at is required")
	}
	switch e.Kind {
	case KindCreated:
		if e.PredecessorID.IsEmpty() {
			return fmt.Errorf("created event requires predecessor id")
		}
	case KindChanged:
		if len(e.Changes) == 0 {
			return fmt.Errorf("changed event requires at least one change")
		}
	case KindDeleted:
	}
	return nil
}

// Clone returns a deep copy of e.
func (e Event) Clone() Event {
	out := e
	if e.SourceIDs != nil {
		out.SourceIDs = append([]identity.Identifier(nil), e.SourceIDs...)
	}
	if e.Changes != nil {
		out.Changes = append([]Change(nil), e.Changes...)
	}
	return out
}

// CloneAll deep-copies a slice of events.
func CloneAll(events []Event) []Event {
	if events == nil {
		return nil
	}
	out := make([]Event, len(events))
	for i, evt := range events {
		out[i] = evt.Clone()
	}
	return out
}
