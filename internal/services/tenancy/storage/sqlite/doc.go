// Package sqlite implements the tenancy stream, snapshot, and data view
// stores on SQLite. Streams and views live in separate databases, each with
// its own embedded migrations.
package sqlite
