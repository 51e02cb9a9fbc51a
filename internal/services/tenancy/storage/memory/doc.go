// Package memory provides in-memory implementations of the tenancy storage
// interfaces for tests and single-process runs.
package memory
