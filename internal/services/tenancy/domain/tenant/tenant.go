// Package tenant defines the Tenant aggregate and its data view mapping.
package tenant

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/louisbranch/tenantledger/internal/services/tenancy/domain/aggregate"
	"github.com/louisbranch/tenantledger/internal/services/tenancy/domain/identity"
	"github.com/louisbranch/tenantledger/internal/services/tenancy/query"
)

const (
	// Type is the aggregate type of tenants.
	Type = "tenant"
	// IdentifierName names the derived tenant identifier.
	IdentifierName = "tenant_id"
	// NodeType labels tenant data views.
	NodeType = "Tenant"

	AttributeLabel  = "label"
	AttributeActive = "active"
)

// Namespace scopes tenant identifiers derived with UUIDv5.
var Namespace = uuid.MustParse("5c0cf4a4-6a0e-4f0f-9f8b-7d3b7f2b1c61")

// Schema returns the tenant aggregate schema. now may be nil.
func Schema(now func() time.Time) aggregate.Schema {
	return aggregate.Schema{
		Type:           Type,
		IdentifierName: IdentifierName,
		Generator:      identity.NameBased{Namespace: Namespace, Name: IdentifierName},
		Attributes:     []string{AttributeLabel, AttributeActive},
		Now:            now,
	}
}

// Tenant wraps an aggregate root with tenant operations.
type Tenant struct {
	*aggregate.Root
}

// New creates an inactive tenant under predecessor and records its label.
func New(schema aggregate.Schema, predecessor identity.Entity, label string, originals ...identity.Identifier) (*Tenant, error) {
	label = strings.TrimSpace(label)
	if label == "" {
		return nil, fmt.Errorf("tenant label is required")
	}
	root, err := aggregate.Create(schema, predecessor, originals...)
	if err != nil {
		return nil, err
	}
	t := &Tenant{Root: root}
	if err := t.SetAttribute(AttributeLabel, label); err != nil {
		return nil, err
	}
	if err := t.SetAttribute(AttributeActive, strconv.FormatBool(false)); err != nil {
		return nil, err
	}
	return t, nil
}

// From wraps an existing root, checking its type.
func From(root *aggregate.Root) (*Tenant, error) {
	if root == nil {
		return nil, fmt.Errorf("tenant root is required")
	}
	if root.Type() != Type {
		return nil, fmt.Errorf("aggregate type %q is not a tenant", root.Type())
	}
	return &Tenant{Root: root}, nil
}

// Rename sets the tenant label.
func (t *Tenant) Rename(label string) error {
	return t.SetAttribute(AttributeLabel, strings.TrimSpace(label))
}

// Activate marks the tenant active.
func (t *Tenant) Activate() error {
	return t.SetAttribute(AttributeActive, strconv.FormatBool(true))
}

// Deactivate marks the tenant inactive.
func (t *Tenant) Deactivate() error {
	return t.SetAttribute(AttributeActive, strconv.FormatBool(false))
}

// Label returns the current label.
func (t *Tenant) Label() string { return t.Attribute(AttributeLabel) }

// Active reports whether the tenant is active. Unset means inactive.
func (t *Tenant) Active() bool {
	active, _ := strconv.ParseBool(t.Attribute(AttributeActive))
	return active
}

// DataView maps a tenant root to its denormalized view.
func DataView(root *aggregate.Root) (query.DataView, error) {
	t, err := From(root)
	if err != nil {
		return query.DataView{}, err
	}
	return query.DataView{
		NodeType:      NodeType,
		OriginID:      t.ID(),
		Label:         t.Label(),
		Active:        t.Active(),
		CreatedAt:     t.CreatedAt(),
		UpdatedAt:     t.UpdatedAt(),
		CommitVersion: t.Version(),
	}, nil
}
