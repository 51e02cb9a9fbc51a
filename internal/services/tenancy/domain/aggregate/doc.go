// Package aggregate implements the event-sourced aggregate lifecycle.
//
// A Root is created from a predecessor identity, records change events as its
// attributes are set, and is rebuilt from its ordered history by Rehydrate.
// Every state transition goes through MutateWhen, which is pure, so live
// mutation and replay cannot drift apart. Pending events belong to one Root;
// only the event store clears them via MarkCommitted after a durable append.
package aggregate
