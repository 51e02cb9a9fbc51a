// Package migrations contains embedded SQL migrations for the tenancy SQLite
// stores.
package migrations
