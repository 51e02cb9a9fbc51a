// Package projection keeps the denormalized data views in step with the
// event streams. Each event is handled on its own against the freshly
// loaded aggregate state, inside one data view transaction.
package projection
