package event

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/louisbranch/tenantledger/internal/services/tenancy/domain/identity"
)

// envelope is the hashed view of an event: domain fields plus stream
// position, without integrity fields. Field order is fixed by the struct.
type envelope struct {
	ID            string                 `json:"id"`
	StreamID      string                 `json:"stream_id"`
	Seq           uint64                 `json:"seq"`
	Kind          string                 `json:"kind"`
	AggregateType string                 `json:"aggregate_type"`
	OriginID      identity.Identifier    `json:"origin_id"`
	PredecessorID identity.IdentifierSet `json:"predecessor_id"`
	SourceIDs     []identity.Identifier  `json:"source_ids"`
	Changes       []Change               `json:"changes"`
	CausationID   string                 `json:"causation_id"`
	OccurredAt    string                 `json:"occurred_at"`
}

// CanonicalJSON returns the deterministic hashed form of evt.
func CanonicalJSON(evt Event) ([]byte, error) {
	env := envelope{
		ID:            evt.ID,
		StreamID:      evt.StreamID(),
		Seq:           evt.Seq,
		Kind:          evt.Kind.String(),
		AggregateType: evt.AggregateType,
		OriginID:      evt.OriginID,
		PredecessorID: evt.PredecessorID,
		SourceIDs:     evt.SourceIDs,
		Changes:       evt.Changes,
		CausationID:   evt.CausationID,
		OccurredAt:    evt.OccurredAt.UTC().Format(time.RFC3339Nano),
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(env); err != nil {
		return nil, fmt.Errorf("encode canonical event: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// EventHash computes the SHA-256 content hash of evt, truncated to 128 bits.
func EventHash(evt Event) (string, error) {
	data, err := CanonicalJSON(evt)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:16]), nil
}

// ChainHash links evt to the previous chain hash. evt.Hash must be set.
func ChainHash(evt Event, prevHash string) (string, error) {
	if evt.Hash == "" {
		return "", fmt.Errorf("event hash is required")
	}
	if evt.Seq == 0 {
		return "", fmt.Errorf("event seq is required")
	}
	h := sha256.New()
	fmt.Fprintf(h, "%s\n%d\n%s\n%s", evt.StreamID(), evt.Seq, prevHash, evt.Hash)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Marshal encodes evt for transport, including storage-assigned fields.
func Marshal(evt Event) ([]byte, error) {
	data, err := json.Marshal(evt)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}
	return data, nil
}

// Unmarshal decodes an event produced by Marshal and validates it.
func Unmarshal(data []byte) (Event, error) {
	var evt Event
	if err := json.Unmarshal(data, &evt); err != nil {
		return Event{}, fmt.Errorf("unmarshal event: %w", err)
	}
	if err := evt.Validate(); err != nil {
		return Event{}, fmt.Errorf("decoded event: %w", err)
	}
	return evt, nil
}
