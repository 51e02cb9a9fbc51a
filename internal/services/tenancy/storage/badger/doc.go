// Package badger stores aggregate snapshots in an embedded BadgerDB.
// Keys are snapshot/<escaped schema version>/<stream id> and hold only the newest
// snapshot for that pair.
package badger
