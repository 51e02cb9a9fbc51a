package badger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/louisbranch/tenantledger/internal/platform/logging"
	"github.com/louisbranch/tenantledger/internal/services/tenancy/storage"
)

// Config configures the snapshot database.
type Config struct {
	// Path is the database directory. Ignored when InMemory is set.
	Path string
	// InMemory keeps everything in memory, for tests.
	InMemory bool
	// SyncWrites fsyncs every write.
	SyncWrites bool
	// GCInterval runs value log GC periodically; zero disables it.
	GCInterval time.Duration
	// GCDiscardRatio is passed to RunValueLogGC.
	GCDiscardRatio float64
	// Logger receives badger's internal logs; nil silences them.
	Logger *logging.Logger
}

// DefaultConfig returns a persistent configuration for path.
func DefaultConfig(path string) Config {
	return Config{
		Path:           path,
		SyncWrites:     true,
		GCInterval:     5 * time.Minute,
		GCDiscardRatio: 0.5,
	}
}

// InMemoryConfig returns a configuration that never touches disk.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

type badgerLogger struct {
	logger *logging.Logger
}

func (l badgerLogger) Errorf(format string, args ...any) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l badgerLogger) Warningf(format string, args ...any) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l badgerLogger) Infof(format string, args ...any) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l badgerLogger) Debugf(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Snapshots implements storage.SnapshotStore on BadgerDB.
type Snapshots struct {
	db     *badger.DB
	logger *logging.Logger
	stop   chan struct{}
	wg     sync.WaitGroup
	once   sync.Once
}

// Open opens the snapshot database described by cfg.
func Open(cfg Config) (*Snapshots, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, storage.Unavailable("open badger database", err)
	}

	s := &Snapshots{db: db, logger: logging.OrNop(cfg.Logger), stop: make(chan struct{})}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		s.wg.Add(1)
		go s.runGC(cfg.GCInterval, cfg.GCDiscardRatio)
	}
	return s, nil
}

func (s *Snapshots) runGC(interval time.Duration, ratio float64) {
	defer s.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			if err := s.db.RunValueLogGC(ratio); err != nil && !errors.Is(err, badger.ErrNoRewrite) {
				s.logger.Warn("badger value log gc failed", "error", err)
			}
		}
	}
}

// Close stops GC and closes the database. It is nil-safe.
func (s *Snapshots) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	var err error
	s.once.Do(func() {
		close(s.stop)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

// snapshotKey escapes the schema version so a "/" inside it cannot
// shift the stream id boundary.
func snapshotKey(streamID, schemaVersion string) []byte {
	return []byte("snapshot/" + url.PathEscape(schemaVersion) + "/" + streamID)
}

type snapshotValue struct {
	Version   uint64 `json:"version"`
	State     []byte `json:"state"`
	CreatedAt int64  `json:"created_at"`
}

func decodeValue(item *badger.Item) (snapshotValue, error) {
	var value snapshotValue
	err := item.Value(func(raw []byte) error {
		return json.Unmarshal(raw, &value)
	})
	if err != nil {
		return snapshotValue{}, fmt.Errorf("decode snapshot %s: %w", item.Key(), err)
	}
	return value, nil
}

func check(ctx context.Context, s *Snapshots, operation string) error {
	if s == nil || s.db == nil {
		return errors.New("snapshot store is not configured")
	}
	if err := ctx.Err(); err != nil {
		return storage.Unavailable(operation, err)
	}
	return nil
}

// GetLatestSnapshot implements storage.SnapshotStore.
func (s *Snapshots) GetLatestSnapshot(ctx context.Context, streamID, schemaVersion string) (storage.SnapshotRecord, error) {
	if err := check(ctx, s, "get snapshot"); err != nil {
		return storage.SnapshotRecord{}, err
	}
	var value snapshotValue
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(snapshotKey(streamID, schemaVersion))
		if err != nil {
			return err
		}
		value, err = decodeValue(item)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return storage.SnapshotRecord{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.SnapshotRecord{}, mapError("get snapshot", err)
	}
	return storage.SnapshotRecord{
		StreamID:      streamID,
		SchemaVersion: schemaVersion,
		Version:       value.Version,
		State:         value.State,
		CreatedAt:     time.UnixMilli(value.CreatedAt).UTC(),
	}, nil
}

// SaveSnapshot implements storage.SnapshotStore.
func (s *Snapshots) SaveSnapshot(ctx context.Context, record storage.SnapshotRecord) error {
	if err := record.Validate(); err != nil {
		return err
	}
	if err := check(ctx, s, "save snapshot"); err != nil {
		return err
	}
	key := snapshotKey(record.StreamID, record.SchemaVersion)
	payload, err := json.Marshal(snapshotValue{
		Version:   record.Version,
		State:     record.State,
		CreatedAt: record.CreatedAt.UTC().UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		switch {
		case err == nil:
			existing, err := decodeValue(item)
			if err != nil {
				return err
			}
			if existing.Version >= record.Version {
				return nil
			}
		case !errors.Is(err, badger.ErrKeyNotFound):
			return err
		}
		return txn.Set(key, payload)
	})
	return mapError("save snapshot", err)
}

func mapError(operation string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, badger.ErrConflict) || errors.Is(err, badger.ErrDBClosed) {
		return storage.Unavailable(operation, err)
	}
	return fmt.Errorf("%s: %w", operation, err)
}
