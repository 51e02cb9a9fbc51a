// Package eventstore appends aggregate changes to durable streams, loads
// aggregates back through snapshots and incremental replay, and publishes
// stored events to the transport.
package eventstore
