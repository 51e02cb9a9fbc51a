package projection

// Outcome reports what handling one event did to the data views.
type Outcome uint8

const (
	OutcomeInserted Outcome = iota + 1
	OutcomeUpdated
	OutcomeUnchanged
	// OutcomeIgnoredMissing: no view exists for the origin id, and changes
	// never create one.
	OutcomeIgnoredMissing
	// OutcomeIgnoredConflict: another origin id owns the label.
	OutcomeIgnoredConflict
	// OutcomeIgnoredStale: the stored view is strictly newer.
	OutcomeIgnoredStale
)

var outcomeNames = map[Outcome]string{
	OutcomeInserted:        "inserted",
	OutcomeUpdated:         "updated",
	OutcomeUnchanged:       "unchanged",
	OutcomeIgnoredMissing:  "ignored_missing",
	OutcomeIgnoredConflict: "ignored_conflict",
	OutcomeIgnoredStale:    "ignored_stale",
}

func (o Outcome) String() string {
	if name, ok := outcomeNames[o]; ok {
		return name
	}
	return "unknown"
}

// Ignored reports whether the event was dropped by policy.
func (o Outcome) Ignored() bool {
	return o == OutcomeIgnoredMissing || o == OutcomeIgnoredConflict || o == OutcomeIgnoredStale
}
