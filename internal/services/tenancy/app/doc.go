// Package app wires the tenancy runtime: event streams, snapshots, data
// views, the event bus, the event store, and the projection synchronizer.
//
// Open builds every collaborator from a RuntimeConfig and returns a Runtime
// that owns them. Start subscribes the synchronizer to the bus; Close
// releases resources in reverse construction order.
package app
