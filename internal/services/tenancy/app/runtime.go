package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/louisbranch/tenantledger/internal/platform/logging"
	"github.com/louisbranch/tenantledger/internal/platform/timeouts"
	"github.com/louisbranch/tenantledger/internal/services/tenancy/domain/tenant"
	"github.com/louisbranch/tenantledger/internal/services/tenancy/eventstore"
	"github.com/louisbranch/tenantledger/internal/services/tenancy/projection"
	"github.com/louisbranch/tenantledger/internal/services/tenancy/storage"
	badgerstore "github.com/louisbranch/tenantledger/internal/services/tenancy/storage/badger"
	"github.com/louisbranch/tenantledger/internal/services/tenancy/storage/integrity"
	"github.com/louisbranch/tenantledger/internal/services/tenancy/storage/memory"
	neo4jstore "github.com/louisbranch/tenantledger/internal/services/tenancy/storage/neo4j"
	sqlitestore "github.com/louisbranch/tenantledger/internal/services/tenancy/storage/sqlite"
	"github.com/louisbranch/tenantledger/internal/services/tenancy/transport"
)

// Backend names accepted by RuntimeConfig.
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendBadger = "badger"
	BackendNeo4j  = "neo4j"
	BackendRedis  = "redis"
	BackendNone   = "none"
)

// RuntimeConfig selects and configures the runtime backends. Zero values
// pick in-memory stores and a synchronous in-memory bus.
type RuntimeConfig struct {
	// EventsDBPath selects SQLite event streams; empty keeps them in memory.
	EventsDBPath string

	ViewsBackend string
	ViewsDBPath  string
	Neo4j        neo4jstore.Config

	// SnapshotBackend is none, memory, sqlite (the events database), or badger.
	SnapshotBackend   string
	BadgerPath        string
	// SnapshotThreshold snapshots appends of more than this many events;
	// zero snapshots every append and a negative value takes the default.
	SnapshotThreshold int
	SchemaVersion     string

	Bus          string
	Redis        transport.RedisConfig
	Workers      int
	QueueSize    int
	StoreTimeout time.Duration
	EventTimeout time.Duration

	// Keyring signs event chain hashes; nil stores unsigned chains.
	Keyring *integrity.Keyring
	Logger  *logging.Logger
}

func (c RuntimeConfig) normalized() RuntimeConfig {
	c.ViewsBackend = normalizeBackend(c.ViewsBackend, BackendMemory)
	c.SnapshotBackend = normalizeBackend(c.SnapshotBackend, BackendNone)
	c.Bus = normalizeBackend(c.Bus, BackendMemory)
	if c.StoreTimeout <= 0 {
		c.StoreTimeout = timeouts.StoreOperation
	}
	if c.EventTimeout <= 0 {
		c.EventTimeout = timeouts.ProjectionEvent
	}
	if c.SnapshotThreshold < 0 {
		c.SnapshotThreshold = eventstore.DefaultSnapshotThreshold
	}
	return c
}

func normalizeBackend(value, fallback string) string {
	value = strings.ToLower(strings.TrimSpace(value))
	if value == "" {
		return fallback
	}
	return value
}

// Runtime owns the wired tenancy components.
type Runtime struct {
	Events     *eventstore.Store
	Projection *projection.Synchronizer
	Bus        transport.Bus
	Views      storage.DataViewStore

	log     *logging.Logger
	closers []closer
}

type closer struct {
	name  string
	close func(context.Context) error
}

func (r *Runtime) onClose(name string, fn func(context.Context) error) {
	r.closers = append(r.closers, closer{name: name, close: fn})
}

// Open builds a Runtime. On error everything opened so far is closed.
func Open(ctx context.Context, cfg RuntimeConfig) (*Runtime, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg = cfg.normalized()
	rt := &Runtime{log: logging.OrNop(cfg.Logger).With("component", "tenancy_runtime")}
	opened := false
	defer func() {
		if !opened {
			_ = rt.Close(context.WithoutCancel(ctx))
		}
	}()

	streams, snapshots, err := rt.openStreams(ctx, cfg)
	if err != nil {
		return nil, err
	}
	views, err := rt.openViews(ctx, cfg)
	if err != nil {
		return nil, err
	}
	bus, err := rt.openBus(ctx, cfg)
	if err != nil {
		return nil, err
	}

	schema := tenant.Schema(nil)
	events, err := eventstore.New(eventstore.Config{
		Streams:       streams,
		Snapshots:     snapshots,
		Publisher:     bus,
		Schema:        schema,
		Policy:        eventstore.ThresholdPolicy{Threshold: cfg.SnapshotThreshold},
		SchemaVersion: cfg.SchemaVersion,
		Timeout:       cfg.StoreTimeout,
		Logger:        cfg.Logger,
	})
	if err != nil {
		return nil, err
	}
	rt.onClose("snapshot writers", func(context.Context) error {
		events.Wait()
		return nil
	})

	synchronizer, err := projection.NewSynchronizer(projection.Config{
		Loader:   events,
		Views:    views,
		Map:      tenant.DataView,
		Schema:   schema,
		Notifier: projection.LogNotifier{Logger: cfg.Logger},
		Timeout:  cfg.EventTimeout,
		Logger:   cfg.Logger,
	})
	if err != nil {
		return nil, err
	}

	rt.Events = events
	rt.Projection = synchronizer
	rt.Views = views
	rt.log.Info("tenancy runtime ready",
		"streams", backendName(cfg.EventsDBPath),
		"views", cfg.ViewsBackend,
		"snapshots", cfg.SnapshotBackend,
		"bus", cfg.Bus,
		"signed", cfg.Keyring != nil,
	)
	opened = true
	return rt, nil
}

func backendName(path string) string {
	if strings.TrimSpace(path) == "" {
		return BackendMemory
	}
	return BackendSQLite
}

func (r *Runtime) openStreams(ctx context.Context, cfg RuntimeConfig) (storage.StreamStore, storage.SnapshotStore, error) {
	var (
		streams  storage.StreamStore
		sqliteDB *sqlitestore.Store
	)
	if path := strings.TrimSpace(cfg.EventsDBPath); path != "" {
		if err := ensureDir(path); err != nil {
			return nil, nil, err
		}
		store, err := sqlitestore.OpenStreams(ctx, path, cfg.Keyring)
		if err != nil {
			return nil, nil, fmt.Errorf("open events database: %w", err)
		}
		r.onClose("events database", func(context.Context) error { return store.Close() })
		streams, sqliteDB = store, store
	} else {
		streams = memory.NewStreams(cfg.Keyring)
	}

	switch cfg.SnapshotBackend {
	case BackendNone:
		return streams, nil, nil
	case BackendMemory:
		return streams, memory.NewSnapshots(), nil
	case BackendSQLite:
		if sqliteDB == nil {
			return nil, nil, fmt.Errorf("sqlite snapshots require an events database path")
		}
		return streams, sqliteDB, nil
	case BackendBadger:
		badgerCfg := badgerstore.InMemoryConfig()
		if path := strings.TrimSpace(cfg.BadgerPath); path != "" {
			badgerCfg = badgerstore.DefaultConfig(path)
		}
		badgerCfg.Logger = cfg.Logger
		snapshots, err := badgerstore.Open(badgerCfg)
		if err != nil {
			return nil, nil, fmt.Errorf("open badger snapshots: %w", err)
		}
		r.onClose("badger snapshots", func(context.Context) error { return snapshots.Close() })
		return streams, snapshots, nil
	default:
		return nil, nil, fmt.Errorf("unknown snapshot backend %q", cfg.SnapshotBackend)
	}
}

func (r *Runtime) openViews(ctx context.Context, cfg RuntimeConfig) (storage.DataViewStore, error) {
	switch cfg.ViewsBackend {
	case BackendMemory:
		return memory.NewViews(), nil
	case BackendSQLite:
		path := strings.TrimSpace(cfg.ViewsDBPath)
		if path == "" {
			return nil, fmt.Errorf("sqlite views require a database path")
		}
		if err := ensureDir(path); err != nil {
			return nil, err
		}
		store, err := sqlitestore.OpenViews(ctx, path)
		if err != nil {
			return nil, fmt.Errorf("open views database: %w", err)
		}
		r.onClose("views database", func(context.Context) error { return store.Close() })
		return store, nil
	case BackendNeo4j:
		views, err := neo4jstore.Open(ctx, cfg.Neo4j, cfg.Logger)
		if err != nil {
			return nil, fmt.Errorf("open neo4j views: %w", err)
		}
		r.onClose("neo4j views", views.Close)
		return views, nil
	default:
		return nil, fmt.Errorf("unknown views backend %q", cfg.ViewsBackend)
	}
}

func (r *Runtime) openBus(ctx context.Context, cfg RuntimeConfig) (transport.Bus, error) {
	var bus transport.Bus
	switch cfg.Bus {
	case BackendMemory:
		bus = transport.NewMemoryBus(transport.MemoryConfig{
			Workers:   cfg.Workers,
			QueueSize: cfg.QueueSize,
			Retry:     transport.DefaultRetry,
			Logger:    cfg.Logger,
		})
	case BackendRedis:
		redisCfg := cfg.Redis
		redisCfg.Logger = cfg.Logger
		if redisCfg.Retry.MaxAttempts == 0 {
			redisCfg.Retry = transport.DefaultRetry
		}
		redisBus, err := transport.NewRedisBus(ctx, redisCfg)
		if err != nil {
			return nil, fmt.Errorf("open redis bus: %w", err)
		}
		bus = redisBus
	default:
		return nil, fmt.Errorf("unknown bus %q", cfg.Bus)
	}
	r.Bus = bus
	r.onClose("event bus", func(context.Context) error { return bus.Close() })
	return bus, nil
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create storage dir %s: %w", dir, err)
	}
	return nil
}

// Start subscribes the synchronizer to the bus until ctx is done.
func (r *Runtime) Start(ctx context.Context) error {
	if r == nil || r.Bus == nil || r.Projection == nil {
		return fmt.Errorf("runtime is not open")
	}
	return r.Bus.Subscribe(ctx, r.Projection.Handle, r.Projection.Kinds()...)
}

// Catchup rebuilds the data views from every stored stream.
func (r *Runtime) Catchup(ctx context.Context) (projection.CatchupReport, error) {
	if r == nil || r.Projection == nil {
		return projection.CatchupReport{}, fmt.Errorf("runtime is not open")
	}
	return r.Projection.Catchup(ctx, r.Events)
}

// Close releases resources in reverse order. It is nil-safe and idempotent.
func (r *Runtime) Close(ctx context.Context) error {
	if r == nil {
		return nil
	}
	var errs []error
	for i := len(r.closers) - 1; i >= 0; i-- {
		c := r.closers[i]
		if err := c.close(ctx); err != nil {
			r.log.Warn("close failed", "resource", c.name, "error", err)
			errs = append(errs, fmt.Errorf("close %s: %w", c.name, err))
		}
	}
	r.closers = nil
	return errors.Join(errs...)
}
