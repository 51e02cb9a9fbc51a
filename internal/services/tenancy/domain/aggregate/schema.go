package aggregate

import (
	"fmt"
	"slices"
	"strings"
	"time"

	apperrors "github.com/louisbranch/tenantledger/internal/platform/errors"
	"github.com/louisbranch/tenantledger/internal/services/tenancy/domain/identity"
)

// Schema describes one aggregate kind.
type Schema struct {
	// Type names the aggregate kind and prefixes its original identifier
	// names, e.g. "tenant" accepts "tenant_ref".
	Type string
	// IdentifierName names the derived identifier, e.g. "tenant_id".
	IdentifierName string
	// Generator derives the identifier from predecessor and originals.
	Generator identity.Generator
	// Attributes lists the settable attribute keys.
	Attributes []string
	// Now overrides the clock. Defaults to time.Now.
	Now func() time.Time
}

// Validate reports configuration mistakes.
func (s Schema) Validate() error {
	if strings.TrimSpace(s.Type) == "" {
		return fmt.Errorf("schema type is required")
	}
	if strings.TrimSpace(s.IdentifierName) == "" {
		return fmt.Errorf("schema %s: identifier name is required", s.Type)
	}
	if s.Generator == nil {
		return fmt.Errorf("schema %s: identity generator is required", s.Type)
	}
	if len(s.Attributes) == 0 {
		return fmt.Errorf("schema %s: at least one attribute is required", s.Type)
	}
	return nil
}

// Knows reports whether attribute is declared.
func (s Schema) Knows(attribute string) bool {
	return slices.Contains(s.Attributes, attribute)
}

// DefaultOriginalName is the identifier name used when none is supplied.
func (s Schema) DefaultOriginalName() string {
	return s.Type + "_ref"
}

func (s Schema) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// validateOriginals enforces the `<type>_<suffix>` naming convention.
func (s Schema) validateOriginals(originals []identity.Identifier) error {
	prefix := s.Type + "_"
	for _, id := range originals {
		if id.Name == s.IdentifierName ||
			!strings.HasPrefix(id.Name, prefix) ||
			len(id.Name) == len(prefix) {
			return apperrors.WithMetadata(apperrors.CodeInvalidIdentifierName,
				"identifier name must be "+prefix+"<suffix>",
				map[string]string{"name": id.Name, "type": s.Type})
		}
	}
	return nil
}

func (s Schema) derive(predecessor identity.IdentifierSet, originals []identity.Identifier) (identity.Identifier, identity.IdentifierSet, error) {
	derived, err := identity.DeriveChildIdentity(s.Generator, predecessor, originals...)
	if err != nil {
		return identity.Identifier{}, identity.IdentifierSet{}, err
	}
	ids := make([]identity.Identifier, 0, len(originals)+1)
	ids = append(ids, derived)
	ids = append(ids, originals...)
	set, err := identity.NewIdentifierSet(ids...)
	if err != nil {
		return identity.Identifier{}, identity.IdentifierSet{}, err
	}
	return derived, set, nil
}
