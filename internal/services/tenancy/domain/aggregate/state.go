package aggregate

import (
	"fmt"
	"maps"
	"time"

	"github.com/louisbranch/tenantledger/internal/services/tenancy/domain/event"
	"github.com/louisbranch/tenantledger/internal/services/tenancy/domain/identity"
)

// State is the attribute state folded from events.
type State struct {
	Properties map[string]identity.Property
	// UpdatedAt is the occurrence time of the last folded event.
	UpdatedAt time.Time
	// Version is the stream sequence of the last folded stored event.
	Version uint64
	// Deleted is set once a DELETED event has been folded.
	Deleted bool
}

// Value returns the current value of attribute, or "".
func (s State) Value(attribute string) string {
	prop, ok := s.Properties[attribute]
	if !ok {
		return ""
	}
	return prop.Current().Value(attribute)
}

func (s State) clone() State {
	out := s
	out.Properties = maps.Clone(s.Properties)
	return out
}

// MutateWhen folds evt into state and returns the new state. It never
// modifies state. CREATED and DELETED are structural markers; CHANGED sets
// the attributes the schema declares and ignores the rest.
func (s Schema) MutateWhen(owner identity.IdentifierSet, state State, evt event.Event) (State, error) {
	next := state.clone()
	if next.Properties == nil {
		next.Properties = make(map[string]identity.Property)
	}
	switch evt.Kind {
	case event.KindCreated:
	case event.KindDeleted:
		next.Deleted = true
	case event.KindChanged:
		status := identity.StatusPending
		if evt.Seq > 0 {
			status = identity.StatusCommitted
		}
		for _, change := range evt.Changes {
			if !s.Knows(change.Attribute) {
				continue
			}
			version, err := identity.NewVersion(owner, map[string]string{change.Attribute: change.After}, status, evt.OccurredAt)
			if err != nil {
				return State{}, err
			}
			prop, ok := next.Properties[change.Attribute]
			if !ok {
				prop, err = identity.NewProperty(change.Attribute, version)
			} else {
				prop, err = prop.Set(version)
			}
			if err != nil {
				return State{}, err
			}
			next.Properties[change.Attribute] = prop
		}
	default:
		return State{}, fmt.Errorf("fold %s: unsupported event kind", evt.Kind)
	}
	if evt.OccurredAt.After(next.UpdatedAt) {
		next.UpdatedAt = evt.OccurredAt
	}
	if evt.Seq > next.Version {
		next.Version = evt.Seq
	}
	return next, nil
}
