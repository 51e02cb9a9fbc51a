// Package query defines the denormalized data views maintained by the
// projection synchronizer and the history collections built over them.
package query

import (
	"fmt"
	"strings"
	"time"
)

// DataView is a flattened projection of one aggregate version.
type DataView struct {
	NodeType      string    `json:"node_type"`
	OriginID      string    `json:"origin_id"`
	Label         string    `json:"label"`
	Active        bool      `json:"active"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
	CommitVersion uint64    `json:"commit_version"`
}

// Validate checks the fields a stored view must carry.
func (v DataView) Validate() error {
	if strings.TrimSpace(v.NodeType) == "" {
		return fmt.Errorf("data view node type is required")
	}
	if strings.TrimSpace(v.OriginID) == "" {
		return fmt.Errorf("data view origin id is required")
	}
	return nil
}

// Selector returns the key that addresses v in a store.
func (v DataView) Selector() Selector {
	return Selector{NodeType: v.NodeType, OriginID: v.OriginID}
}

// Equal compares every field, timestamps by instant.
func (v DataView) Equal(other DataView) bool {
	return v.NodeType == other.NodeType &&
		v.OriginID == other.OriginID &&
		v.Label == other.Label &&
		v.Active == other.Active &&
		v.CreatedAt.Equal(other.CreatedAt) &&
		v.UpdatedAt.Equal(other.UpdatedAt) &&
		v.CommitVersion == other.CommitVersion
}

// Selector addresses one current view.
type Selector struct {
	NodeType string
	OriginID string
}

// Patch lists the fields a merge-update sets. Nil fields are left alone.
type Patch struct {
	Label         *string
	Active        *bool
	UpdatedAt     *time.Time
	CommitVersion *uint64
}

// Diff returns the patch that turns current into next on the mutable fields.
func Diff(current, next DataView) Patch {
	var p Patch
	if current.Label != next.Label {
		label := next.Label
		p.Label = &label
	}
	if current.Active != next.Active {
		active := next.Active
		p.Active = &active
	}
	if !current.UpdatedAt.Equal(next.UpdatedAt) {
		updated := next.UpdatedAt
		p.UpdatedAt = &updated
	}
	if current.CommitVersion != next.CommitVersion {
		version := next.CommitVersion
		p.CommitVersion = &version
	}
	return p
}

// IsEmpty reports whether the patch sets nothing.
func (p Patch) IsEmpty() bool {
	return p.Label == nil && p.Active == nil && p.UpdatedAt == nil && p.CommitVersion == nil
}

// Apply returns v with the patch fields set.
func (p Patch) Apply(v DataView) DataView {
	if p.Label != nil {
		v.Label = *p.Label
	}
	if p.Active != nil {
		v.Active = *p.Active
	}
	if p.UpdatedAt != nil {
		v.UpdatedAt = *p.UpdatedAt
	}
	if p.CommitVersion != nil {
		v.CommitVersion = *p.CommitVersion
	}
	return v
}

// Fields lists the names of the fields the patch sets, for logs.
func (p Patch) Fields() []string {
	var fields []string
	if p.Label != nil {
		fields = append(fields, "label")
	}
	if p.Active != nil {
		fields = append(fields, "active")
	}
	if p.UpdatedAt != nil {
		fields = append(fields, "updated_at")
	}
	if p.CommitVersion != nil {
		fields = append(fields, "commit_version")
	}
	return fields
}
