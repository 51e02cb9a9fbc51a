package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"time"

	"github.com/louisbranch/tenantledger/internal/platform/storage/sqlitemigrate"
	"github.com/louisbranch/tenantledger/internal/services/tenancy/storage"
	"github.com/louisbranch/tenantledger/internal/services/tenancy/storage/integrity"
	"github.com/louisbranch/tenantledger/internal/services/tenancy/storage/sqlite/migrations"
	sqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

// fromMillis reverses toMillis for persisted millisecond timestamps.
func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// Store is a SQLite database opened for one purpose: event streams with
// their snapshots, or data views.
type Store struct {
	sqlDB   *sql.DB
	keyring *integrity.Keyring
}

// OpenStreams opens the event stream and snapshot database at path. A nil
// keyring stores hash-chained but unsigned events.
func OpenStreams(ctx context.Context, path string, keyring *integrity.Keyring) (*Store, error) {
	return openStore(ctx, path, migrations.StreamsFS, "streams", keyring)
}

// OpenViews opens the data view database at path.
func OpenViews(ctx context.Context, path string) (*Store, error) {
	return openStore(ctx, path, migrations.ViewsFS, "views", nil)
}

// Close closes the underlying SQLite database. It is nil-safe.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

func openStore(ctx context.Context, path string, migrationFS fs.FS, migrationRoot string, keyring *integrity.Keyring) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	cleanPath := filepath.Clean(path)
	// Write transactions take the lock at BEGIN and wait up to the busy
	// timeout for it.
	dsn := cleanPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)&_txlock=immediate"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	if err := sqlDB.PingContext(ctx); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	if _, err := sqlitemigrate.ApplyMigrations(ctx, sqlDB, migrationFS, migrationRoot); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Store{sqlDB: sqlDB, keyring: keyring}, nil
}

func (s *Store) ready(ctx context.Context, operation string) error {
	if s == nil || s.sqlDB == nil {
		return fmt.Errorf("storage is not configured")
	}
	if err := ctx.Err(); err != nil {
		return storage.Unavailable(operation, err)
	}
	return nil
}

// classify maps driver failures onto storage errors. Busy databases and
// expired contexts are retryable.
func classify(operation string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) || isSQLiteBusyError(err) {
		return storage.Unavailable(operation, err)
	}
	return fmt.Errorf("%s: %w", operation, err)
}

// resultCode returns the primary SQLite result code of a driver error.
// Extended codes such as SQLITE_CONSTRAINT_UNIQUE fold into their primary.
func resultCode(err error) (int, bool) {
	var driverErr *sqlite.Error
	if !errors.As(err, &driverErr) {
		return 0, false
	}
	return driverErr.Code() & 0xff, true
}

func isConstraintError(err error) bool {
	code, ok := resultCode(err)
	return ok && code == sqlite3.SQLITE_CONSTRAINT
}

func isSQLiteBusyError(err error) bool {
	code, ok := resultCode(err)
	return ok && (code == sqlite3.SQLITE_BUSY || code == sqlite3.SQLITE_LOCKED)
}
