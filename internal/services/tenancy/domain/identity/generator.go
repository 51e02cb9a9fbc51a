package identity

import (
	"sort"
	"strings"

	"github.com/google/uuid"

	apperrors "github.com/louisbranch/tenantledger/internal/platform/errors"
)

// Generator derives a child identifier from a predecessor identity and the
// child's original identifiers. Implementations must be pure.
type Generator interface {
	Generate(predecessor IdentifierSet, originals []Identifier) (Identifier, error)
}

// NameBased derives a UUIDv5 under Namespace and names the result Name.
type NameBased struct {
	Namespace uuid.UUID
	Name      string
}

// Generate implements Generator. The input is order-insensitive for
// originals, so any permutation of the same identifiers yields one value.
func (g NameBased) Generate(predecessor IdentifierSet, originals []Identifier) (Identifier, error) {
	if strings.TrimSpace(g.Name) == "" {
		return Identifier{}, apperrors.New(apperrors.CodeInvalidIdentity, "generated identifier name is required")
	}
	if predecessor.IsEmpty() {
		return Identifier{}, apperrors.New(apperrors.CodeInvalidIdentity, "predecessor identity is required")
	}
	keys := make([]string, 0, len(originals))
	for _, id := range originals {
		if err := id.validate(); err != nil {
			return Identifier{}, err
		}
		keys = append(keys, id.key())
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(predecessor.Key())
	b.WriteString("|")
	b.WriteString(strings.Join(keys, "&"))
	value := uuid.NewSHA1(g.Namespace, []byte(b.String()))
	return Identifier{Name: g.Name, Value: value.String()}, nil
}

// DeriveChildIdentity runs gen over predecessor and originals.
func DeriveChildIdentity(gen Generator, predecessor IdentifierSet, originals ...Identifier) (Identifier, error) {
	if gen == nil {
		return Identifier{}, apperrors.New(apperrors.CodeInvalidIdentity, "identity generator is required")
	}
	return gen.Generate(predecessor, originals)
}
