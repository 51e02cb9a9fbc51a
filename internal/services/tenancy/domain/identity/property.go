package identity

import (
	"encoding/json"
	"fmt"
	"maps"
	"strings"
	"time"

	apperrors "github.com/louisbranch/tenantledger/internal/platform/errors"
)

// Status marks whether a version has been durably recorded.
type Status uint8

const (
	StatusPending Status = iota + 1
	StatusCommitted
)

// String returns the stored status name.
func (s Status) String() string {
	switch s {
	case StatusPending:
		return "PENDING"
	case StatusCommitted:
		return "COMMITTED"
	default:
		return fmt.Sprintf("Status(%d)", uint8(s))
	}
}

// ParseStatus maps a stored status name back to a Status.
func ParseStatus(value string) (Status, error) {
	switch strings.ToUpper(strings.TrimSpace(value)) {
	case "PENDING":
		return StatusPending, nil
	case "COMMITTED":
		return StatusCommitted, nil
	default:
		return 0, fmt.Errorf("unknown version status %q", value)
	}
}

// Version is one immutable value of a property.
type Version struct {
	owner     IdentifierSet
	values    map[string]string
	status    Status
	timestamp time.Time
}

// NewVersion builds a version owned by owner. The value map is copied.
func NewVersion(owner IdentifierSet, values map[string]string, status Status, at time.Time) (Version, error) {
	if owner.IsEmpty() {
		return Version{}, apperrors.New(apperrors.CodeInvalidIdentity, "version owner is required")
	}
	if status != StatusPending && status != StatusCommitted {
		return Version{}, fmt.Errorf("invalid version status %d", status)
	}
	return Version{
		owner:     owner,
		values:    maps.Clone(values),
		status:    status,
		timestamp: at.UTC(),
	}, nil
}

// Owner returns the owning entity identity.
func (v Version) Owner() IdentifierSet { return v.owner }

// Values returns a copy of the value map.
func (v Version) Values() map[string]string { return maps.Clone(v.values) }

// Value returns one sub-value.
func (v Version) Value(key string) string { return v.values[key] }

// Status returns the version status.
func (v Version) Status() Status { return v.status }

// Timestamp returns when the version was produced.
func (v Version) Timestamp() time.Time { return v.timestamp }

// IsZero reports whether v was never constructed.
func (v Version) IsZero() bool { return v.owner.IsEmpty() }

// Committed returns a copy of v marked committed.
func (v Version) Committed() Version {
	out := v
	out.values = maps.Clone(v.values)
	out.status = StatusCommitted
	return out
}

// Equal compares owner, values, status, and timestamps truncated to the second.
func (v Version) Equal(other Version) bool {
	return v.owner.Equal(other.owner) &&
		maps.Equal(v.values, other.values) &&
		v.status == other.status &&
		v.timestamp.Truncate(time.Second).Equal(other.timestamp.Truncate(time.Second))
}

// Property is a named value whose earlier versions are kept in order.
type Property struct {
	name    string
	current Version
	history []Version
}

// NewProperty starts a property at its initial version.
func NewProperty(name string, initial Version) (Property, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Property{}, fmt.Errorf("property name is required")
	}
	if initial.IsZero() {
		return Property{}, apperrors.New(apperrors.CodeInvalidIdentity, "property version owner is required")
	}
	return Property{name: name, current: initial}, nil
}

// Name returns the property name.
func (p Property) Name() string { return p.name }

// Current returns the newest version.
func (p Property) Current() Version { return p.current }

// History returns the prior versions, oldest first.
func (p Property) History() []Version {
	out := make([]Version, len(p.history))
	copy(out, p.history)
	return out
}

// Set returns a property whose current version is next and whose history
// gains the previous current version. The receiver is left untouched.
func (p Property) Set(next Version) (Property, error) {
	if next.IsZero() {
		return Property{}, apperrors.New(apperrors.CodeInvalidIdentity, "property version owner is required")
	}
	if !p.current.IsZero() && !next.owner.Equal(p.current.owner) {
		return Property{}, apperrors.WithMetadata(apperrors.CodeInvalidIdentity, "property owner changed", map[string]string{"property": p.name})
	}
	history := make([]Version, 0, len(p.history)+1)
	history = append(history, p.history...)
	history = append(history, p.current)
	return Property{name: p.name, current: next, history: history}, nil
}

// Commit returns a property whose current and prior versions are all
// marked committed, as they are once their events are stored.
func (p Property) Commit() Property {
	out := p
	out.current = p.current.Committed()
	out.history = make([]Version, len(p.history))
	for i, v := range p.history {
		out.history[i] = v.Committed()
	}
	return out
}

type versionJSON struct {
	Owner     IdentifierSet     `json:"owner"`
	Values    map[string]string `json:"values"`
	Status    string            `json:"status"`
	Timestamp time.Time         `json:"timestamp"`
}

// MarshalJSON implements json.Marshaler.
func (v Version) MarshalJSON() ([]byte, error) {
	return json.Marshal(versionJSON{
		Owner:     v.owner,
		Values:    v.values,
		Status:    v.status.String(),
		Timestamp: v.timestamp,
	})
}

// UnmarshalJSON implements json.Unmarshaler.
func (v *Version) UnmarshalJSON(data []byte) error {
	var raw versionJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	status, err := ParseStatus(raw.Status)
	if err != nil {
		return err
	}
	decoded, err := NewVersion(raw.Owner, raw.Values, status, raw.Timestamp)
	if err != nil {
		return err
	}
	*v = decoded
	return nil
}

type propertyJSON struct {
	Name    string    `json:"name"`
	Current Version   `json:"current"`
	History []Version `json:"history,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (p Property) MarshalJSON() ([]byte, error) {
	return json.Marshal(propertyJSON{Name: p.name, Current: p.current, History: p.history})
}

// UnmarshalJSON implements json.Unmarshaler.
func (p *Property) UnmarshalJSON(data []byte) error {
	var raw propertyJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	decoded, err := NewProperty(raw.Name, raw.Current)
	if err != nil {
		return err
	}
	decoded.history = raw.History
	*p = decoded
	return nil
}
