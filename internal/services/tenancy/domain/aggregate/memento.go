package aggregate

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/louisbranch/tenantledger/internal/services/tenancy/domain/identity"
)

// Memento is the serializable full state of a committed Root, used for
// snapshots. Property histories are kept so a restored root is
// indistinguishable from a replayed one.
type Memento struct {
	Type        string                 `json:"type"`
	OriginID    identity.Identifier    `json:"origin_id"`
	Predecessor identity.IdentifierSet `json:"predecessor"`
	SourceIDs   []identity.Identifier  `json:"source_ids"`
	CreatedAt   time.Time              `json:"created_at"`
	Properties  []identity.Property    `json:"properties"`
	UpdatedAt   time.Time              `json:"updated_at"`
	Version     uint64                 `json:"version"`
	Deleted     bool                   `json:"deleted,omitempty"`
}

// Memento captures r. Roots with pending changes cannot be captured because
// their state is ahead of their stored version.
func (r *Root) Memento() (Memento, error) {
	if r.HasPendingChanges() {
		return Memento{}, errors.New("memento: aggregate has pending changes")
	}
	props := make([]identity.Property, 0, len(r.state.Properties))
	for _, prop := range r.state.Properties {
		props = append(props, prop)
	}
	sort.Slice(props, func(i, j int) bool { return props[i].Name() < props[j].Name() })
	return Memento{
		Type:        r.schema.Type,
		OriginID:    r.originID,
		Predecessor: r.predecessor.Identity(),
		SourceIDs:   r.SourceIDs(),
		CreatedAt:   r.CreatedAt(),
		Properties:  props,
		UpdatedAt:   r.state.UpdatedAt,
		Version:     r.committed,
		Deleted:     r.state.Deleted,
	}, nil
}

// Restore rebuilds a Root from m, re-deriving and checking its identity.
func Restore(schema Schema, m Memento) (*Root, error) {
	if err := schema.Validate(); err != nil {
		return nil, err
	}
	if m.Type != schema.Type {
		return nil, fmt.Errorf("restore: memento type %q does not match schema %q", m.Type, schema.Type)
	}
	if m.Version == 0 {
		return nil, errors.New("restore: memento has no stored version")
	}
	root, err := rebuild(schema, m.OriginID, m.Predecessor, m.SourceIDs, m.OriginID, m.CreatedAt)
	if err != nil {
		return nil, err
	}
	for _, prop := range m.Properties {
		if !prop.Current().Owner().Equal(root.Identity()) {
			return nil, fmt.Errorf("restore: property %s has a foreign owner", prop.Name())
		}
		root.state.Properties[prop.Name()] = prop
	}
	root.state.UpdatedAt = m.UpdatedAt
	root.state.Version = m.Version
	root.state.Deleted = m.Deleted
	root.committed = m.Version
	return root, nil
}

// EncodeMemento serializes m.
func EncodeMemento(m Memento) ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode memento: %w", err)
	}
	return data, nil
}

// DecodeMemento parses data produced by EncodeMemento.
func DecodeMemento(data []byte) (Memento, error) {
	var m Memento
	if err := json.Unmarshal(data, &m); err != nil {
		return Memento{}, fmt.Errorf("decode memento: %w", err)
	}
	return m, nil
}
