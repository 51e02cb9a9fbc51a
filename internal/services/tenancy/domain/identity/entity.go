package identity

import (
	"time"

	apperrors "github.com/louisbranch/tenantledger/internal/platform/errors"
)

// Entity is an identifiable fact with an immutable identity and creation time.
type Entity interface {
	Identity() IdentifierSet
	CreatedAt() time.Time
}

// Base carries the identity fields every entity embeds.
type Base struct {
	identity  IdentifierSet
	createdAt time.Time
}

// NewBase validates identity and fixes the creation time in UTC.
func NewBase(identity IdentifierSet, createdAt time.Time) (Base, error) {
	if identity.IsEmpty() {
		return Base{}, apperrors.New(apperrors.CodeInvalidIdentity, "entity identity is required")
	}
	return Base{identity: identity, createdAt: createdAt.UTC()}, nil
}

// Identity returns the entity identity.
func (b Base) Identity() IdentifierSet { return b.identity }

// CreatedAt returns the entity creation time.
func (b Base) CreatedAt() time.Time { return b.createdAt }

// IdentityOf returns the identity of e, failing for nil or anonymous entities.
func IdentityOf(e Entity) (IdentifierSet, error) {
	if e == nil {
		return IdentifierSet{}, apperrors.New(apperrors.CodeInvalidIdentity, "entity is required")
	}
	set := e.Identity()
	if set.IsEmpty() {
		return IdentifierSet{}, apperrors.New(apperrors.CodeInvalidIdentity, "entity has no identity")
	}
	return set, nil
}

// Reference is a detached entity handle: an identity and creation time with
// no live back-pointer to the entity it names.
type Reference struct {
	Base
}

// NewReference builds a reference to an entity known only by identity.
func NewReference(identity IdentifierSet, createdAt time.Time) (Reference, error) {
	base, err := NewBase(identity, createdAt)
	if err != nil {
		return Reference{}, err
	}
	return Reference{Base: base}, nil
}

// ReferenceTo captures the identity of e as a detached Reference.
func ReferenceTo(e Entity) (Reference, error) {
	set, err := IdentityOf(e)
	if err != nil {
		return Reference{}, err
	}
	return NewReference(set, e.CreatedAt())
}
