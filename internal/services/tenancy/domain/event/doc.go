// Package event defines the change-event envelope recorded by aggregates and
// appended to durable streams.
//
// Events are immutable facts. Aggregates fill in the domain fields when a
// change is recorded; storage assigns the stream sequence and integrity
// fields on append. The Kind enum is closed: every consumer switches over
// Kinds() and a new kind is a compile-visible change.
package event
