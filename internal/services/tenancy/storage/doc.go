// Package storage defines persistence interfaces for the tenancy service.
//
// It covers aggregate event streams, aggregate snapshots, and the denormalized
// data views kept by the projection synchronizer. Implementations live in
// subpackages (memory, sqlite, badger, neo4j).
//
// Common error types:
//   - ErrNotFound: requested record is missing
//   - ErrVersionConflict: a stream moved past the expected version (retryable)
//   - ErrStoreUnavailable: the backend timed out or is busy (retryable)
//   - ErrAlreadyExists: a data view with the same key is already stored
package storage
