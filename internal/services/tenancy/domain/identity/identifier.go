package identity

import (
	"encoding/json"
	"net/url"
	"sort"
	"strings"

	apperrors "github.com/louisbranch/tenantledger/internal/platform/errors"
)

// ErrInvalidIdentity reports a missing owner, an empty identifier set, or a
// set with duplicate identifier names.
var ErrInvalidIdentity = apperrors.New(apperrors.CodeInvalidIdentity, "invalid identity")

// Identifier is one named component of an entity identity.
type Identifier struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// NewIdentifier trims and validates a name/value pair.
func NewIdentifier(name, value string) (Identifier, error) {
	id := Identifier{Name: strings.TrimSpace(name), Value: strings.TrimSpace(value)}
	if err := id.validate(); err != nil {
		return Identifier{}, err
	}
	return id, nil
}

// IsZero reports whether the identifier is unset.
func (i Identifier) IsZero() bool {
	return i.Name == "" && i.Value == ""
}

// String renders the identifier as name=value.
func (i Identifier) String() string {
	return i.Name + "=" + i.Value
}

func (i Identifier) validate() error {
	if i.Name == "" {
		return apperrors.New(apperrors.CodeInvalidIdentity, "identifier name is required")
	}
	if i.Value == "" {
		return apperrors.WithMetadata(apperrors.CodeInvalidIdentity, "identifier value is required", map[string]string{"name": i.Name})
	}
	return nil
}

// key escapes both parts so distinct identifiers never collide.
func (i Identifier) key() string {
	return url.QueryEscape(i.Name) + "=" + url.QueryEscape(i.Value)
}

// IdentifierSet is an immutable, order-irrelevant set of identifiers with
// unique names. The zero value is the empty set and carries no identity.
type IdentifierSet struct {
	ids []Identifier
}

// NewIdentifierSet validates ids and returns them as a set.
func NewIdentifierSet(ids ...Identifier) (IdentifierSet, error) {
	if len(ids) == 0 {
		return IdentifierSet{}, apperrors.New(apperrors.CodeInvalidIdentity, "identifier set must not be empty")
	}
	sorted := make([]Identifier, len(ids))
	copy(sorted, ids)
	sort.Slice(sorted, func(a, b int) bool { return sorted[a].Name < sorted[b].Name })
	for idx, id := range sorted {
		if err := id.validate(); err != nil {
			return IdentifierSet{}, err
		}
		if idx > 0 && sorted[idx-1].Name == id.Name {
			return IdentifierSet{}, apperrors.WithMetadata(apperrors.CodeInvalidIdentity, "duplicate identifier name", map[string]string{"name": id.Name})
		}
	}
	return IdentifierSet{ids: sorted}, nil
}

// MustIdentifierSet is NewIdentifierSet for package-level literals and tests.
func MustIdentifierSet(ids ...Identifier) IdentifierSet {
	set, err := NewIdentifierSet(ids...)
	if err != nil {
		panic(err)
	}
	return set
}

// IsEmpty reports whether the set carries no identifiers.
func (s IdentifierSet) IsEmpty() bool { return len(s.ids) == 0 }

// Len returns the number of identifiers.
func (s IdentifierSet) Len() int { return len(s.ids) }

// Identifiers returns a copy of the identifiers sorted by name.
func (s IdentifierSet) Identifiers() []Identifier {
	out := make([]Identifier, len(s.ids))
	copy(out, s.ids)
	return out
}

// Get returns the identifier with the given name.
func (s IdentifierSet) Get(name string) (Identifier, bool) {
	idx := sort.Search(len(s.ids), func(i int) bool { return s.ids[i].Name >= name })
	if idx < len(s.ids) && s.ids[idx].Name == name {
		return s.ids[idx], true
	}
	return Identifier{}, false
}

// Contains reports whether id is a member of the set.
func (s IdentifierSet) Contains(id Identifier) bool {
	found, ok := s.Get(id.Name)
	return ok && found == id
}

// Equal reports whether both sets hold exactly the same identifiers.
func (s IdentifierSet) Equal(other IdentifierSet) bool {
	if len(s.ids) != len(other.ids) {
		return false
	}
	for i := range s.ids {
		if s.ids[i] != other.ids[i] {
			return false
		}
	}
	return true
}

// With returns a new set containing s plus ids.
func (s IdentifierSet) With(ids ...Identifier) (IdentifierSet, error) {
	merged := make([]Identifier, 0, len(s.ids)+len(ids))
	merged = append(merged, s.ids...)
	merged = append(merged, ids...)
	return NewIdentifierSet(merged...)
}

// Key returns a canonical string form, equal for equal sets.
func (s IdentifierSet) Key() string {
	parts := make([]string, len(s.ids))
	for i, id := range s.ids {
		parts[i] = id.key()
	}
	return strings.Join(parts, "&")
}

// String renders the set for logs.
func (s IdentifierSet) String() string {
	parts := make([]string, len(s.ids))
	for i, id := range s.ids {
		parts[i] = id.String()
	}
	return "{" + strings.Join(parts, ",") + "}"
}

// MarshalJSON encodes the set as an array sorted by name.
func (s IdentifierSet) MarshalJSON() ([]byte, error) {
	if s.ids == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(s.ids)
}

// UnmarshalJSON decodes an array of identifiers. An empty array decodes to
// the empty set; anything else is validated like NewIdentifierSet.
func (s *IdentifierSet) UnmarshalJSON(data []byte) error {
	var ids []Identifier
	if err := json.Unmarshal(data, &ids); err != nil {
		return err
	}
	if len(ids) == 0 {
		*s = IdentifierSet{}
		return nil
	}
	set, err := NewIdentifierSet(ids...)
	if err != nil {
		return err
	}
	*s = set
	return nil
}
