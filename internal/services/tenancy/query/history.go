package query

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Match selects versions by label, activity, or update date. Nil fields
// match anything. Dates compare at one-second granularity.
type Match struct {
	Label     *string
	Active    *bool
	UpdatedAt *time.Time
}

func (m Match) matches(v DataView) bool {
	if m.Label != nil && v.Label != *m.Label {
		return false
	}
	if m.Active != nil && v.Active != *m.Active {
		return false
	}
	if m.UpdatedAt != nil && !v.UpdatedAt.Truncate(time.Second).Equal(m.UpdatedAt.Truncate(time.Second)) {
		return false
	}
	return true
}

// History is the ordered list of view versions for one origin id. It is safe
// for concurrent use.
type History struct {
	mu       sync.RWMutex
	originID string
	versions []DataView
}

// NewHistory returns an empty history for originID.
func NewHistory(originID string) *History {
	return &History{originID: originID}
}

// OriginID returns the origin id the history tracks.
func (h *History) OriginID() string { return h.originID }

// Add inserts view keeping versions ordered by UpdatedAt then CommitVersion.
// Exact duplicates are ignored.
func (h *History) Add(view DataView) error {
	if view.OriginID != h.originID {
		return fmt.Errorf("history %s: cannot add view for %s", h.originID, view.OriginID)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, existing := range h.versions {
		if existing.Equal(view) {
			return nil
		}
	}
	idx := sort.Search(len(h.versions), func(i int) bool {
		return versionAfter(h.versions[i], view)
	})
	h.versions = append(h.versions, DataView{})
	copy(h.versions[idx+1:], h.versions[idx:])
	h.versions[idx] = view
	return nil
}

// versionAfter reports whether a sorts strictly after b.
func versionAfter(a, b DataView) bool {
	if !a.UpdatedAt.Equal(b.UpdatedAt) {
		return a.UpdatedAt.After(b.UpdatedAt)
	}
	return a.CommitVersion > b.CommitVersion
}

// Versions returns a copy of the versions, oldest first.
func (h *History) Versions() []DataView {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]DataView, len(h.versions))
	copy(out, h.versions)
	return out
}

// Latest returns the newest version.
func (h *History) Latest() (DataView, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.versions) == 0 {
		return DataView{}, false
	}
	return h.versions[len(h.versions)-1], true
}

// Find returns the versions matching m, oldest first.
func (h *History) Find(m Match) []DataView {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var out []DataView
	for _, v := range h.versions {
		if m.matches(v) {
			out = append(out, v)
		}
	}
	return out
}

// Collection groups histories by origin id. It is safe for concurrent use.
type Collection struct {
	mu        sync.RWMutex
	histories map[string]*History
}

// NewCollection returns an empty collection.
func NewCollection() *Collection {
	return &Collection{histories: make(map[string]*History)}
}

// Add appends view to the history of its origin id.
func (c *Collection) Add(view DataView) error {
	if err := view.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	h, ok := c.histories[view.OriginID]
	if !ok {
		h = NewHistory(view.OriginID)
		c.histories[view.OriginID] = h
	}
	c.mu.Unlock()
	return h.Add(view)
}

// History returns the history for originID.
func (c *Collection) History(originID string) (*History, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	h, ok := c.histories[originID]
	return h, ok
}

// Versions returns every version across every history, oldest first.
func (c *Collection) Versions() []DataView {
	c.mu.RLock()
	histories := make([]*History, 0, len(c.histories))
	for _, h := range c.histories {
		histories = append(histories, h)
	}
	c.mu.RUnlock()

	var out []DataView
	for _, h := range histories {
		out = append(out, h.Versions()...)
	}
	sort.SliceStable(out, func(i, j int) bool { return versionAfter(out[j], out[i]) })
	return out
}

// FindMostRecentOwner returns the newest version, across all histories, that
// carried label and, when active is set, the given activity flag. It answers
// who holds a name when names can be released and reused.
func (c *Collection) FindMostRecentOwner(label string, active *bool) (DataView, bool) {
	candidates := c.Versions()
	for i := len(candidates) - 1; i >= 0; i-- {
		v := candidates[i]
		if v.Label != label {
			continue
		}
		if active != nil && v.Active != *active {
			continue
		}
		return v, true
	}
	return DataView{}, false
}
