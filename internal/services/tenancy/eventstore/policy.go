package eventstore

// DefaultSnapshotThreshold snapshots after any append of more than one event.
const DefaultSnapshotThreshold = 1

// SnapshotPolicy decides whether an append should produce a snapshot.
type SnapshotPolicy interface {
	ShouldSnapshot(appended int) bool
}

// ThresholdPolicy snapshots when more than Threshold events were appended.
type ThresholdPolicy struct {
	Threshold int
}

// ShouldSnapshot implements SnapshotPolicy.
func (p ThresholdPolicy) ShouldSnapshot(appended int) bool {
	return appended > p.Threshold
}

// Never disables snapshots.
type Never struct{}

// ShouldSnapshot implements SnapshotPolicy.
func (Never) ShouldSnapshot(int) bool { return false }
