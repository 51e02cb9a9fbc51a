// Package sqlitemigrate applies embedded SQL migration files to a SQLite
// database, recording each applied file so reopening a store is idempotent.
package sqlitemigrate

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"path"
	"slices"
	"strings"
	"time"
)

const (
	ledgerTable = "schema_migrations"
	upMarker    = "-- +migrate Up"
	downMarker  = "-- +migrate Down"
)

// Migration is one forward migration file.
type Migration struct {
	// Name is the file path relative to the migration fs, used as the
	// ledger key.
	Name string
	Up   string
}

// Load reads the .sql files directly under root, sorted by name. Files
// whose Up section is blank are skipped.
func Load(migrationFS fs.FS, root string) ([]Migration, error) {
	if migrationFS == nil {
		return nil, fmt.Errorf("migration fs is required")
	}
	root = strings.TrimSpace(root)
	if root == "" {
		root = "."
	}
	entries, err := fs.ReadDir(migrationFS, root)
	if err != nil {
		return nil, fmt.Errorf("read migrations dir: %w", err)
	}
	var out []Migration
	for _, entry := range entries {
		if entry.IsDir() || path.Ext(entry.Name()) != ".sql" {
			continue
		}
		name := path.Join(root, entry.Name())
		content, err := fs.ReadFile(migrationFS, name)
		if err != nil {
			return nil, fmt.Errorf("read migration %s: %w", name, err)
		}
		up := ExtractUpMigration(string(content))
		if strings.TrimSpace(up) == "" {
			continue
		}
		out = append(out, Migration{Name: name, Up: up})
	}
	slices.SortFunc(out, func(a, b Migration) int { return strings.Compare(a.Name, b.Name) })
	return out, nil
}

// ApplyMigrations runs every pending migration under root in order, each in
// its own transaction, and returns how many were applied. A failed file is
// not recorded and stops the run.
func ApplyMigrations(ctx context.Context, sqlDB *sql.DB, migrationFS fs.FS, root string) (int, error) {
	if sqlDB == nil {
		return 0, fmt.Errorf("sql db is required")
	}
	migrations, err := Load(migrationFS, root)
	if err != nil {
		return 0, err
	}
	if _, err := sqlDB.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS `+ledgerTable+` (
    name TEXT PRIMARY KEY,
    applied_at INTEGER NOT NULL
)`); err != nil {
		return 0, fmt.Errorf("ensure migration table: %w", err)
	}
	done, err := Applied(ctx, sqlDB)
	if err != nil {
		return 0, err
	}
	applied := 0
	for _, m := range migrations {
		if slices.Contains(done, m.Name) {
			continue
		}
		if err := apply(ctx, sqlDB, m); err != nil {
			return applied, err
		}
		applied++
	}
	return applied, nil
}

// Applied lists recorded migration names in application order.
func Applied(ctx context.Context, sqlDB *sql.DB) ([]string, error) {
	rows, err := sqlDB.QueryContext(ctx, "SELECT name FROM "+ledgerTable+" ORDER BY applied_at, name")
	if err != nil {
		return nil, fmt.Errorf("list applied migrations: %w", err)
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan applied migration: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func apply(ctx context.Context, sqlDB *sql.DB, m Migration) error {
	tx, err := sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration %s: %w", m.Name, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, m.Up); err != nil && !IsAlreadyExistsError(err) {
		return fmt.Errorf("exec migration %s: %w", m.Name, err)
	}
	if _, err := tx.ExecContext(ctx,
		"INSERT OR IGNORE INTO "+ledgerTable+" (name, applied_at) VALUES (?, ?)",
		m.Name, time.Now().UTC().UnixMilli(),
	); err != nil {
		return fmt.Errorf("record migration %s: %w", m.Name, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %s: %w", m.Name, err)
	}
	return nil
}

// ExtractUpMigration returns the SQL between the Up marker and the optional
// Down marker. Files without markers are returned whole.
func ExtractUpMigration(content string) string {
	_, body, found := strings.Cut(content, upMarker)
	if !found {
		return content
	}
	up, _, _ := strings.Cut(body, downMarker)
	return up
}

// IsAlreadyExistsError reports whether err is DDL that already took effect,
// such as a table or column created by a previous partial run.
func IsAlreadyExistsError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "already exists") || strings.Contains(msg, "duplicate column name")
}
