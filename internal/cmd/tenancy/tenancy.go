// Package tenancy parses tenancy command flags and launches the projection
// runtime.
package tenancy

import (
	"context"
	"flag"
	"fmt"
	"time"

	entrypoint "github.com/louisbranch/tenantledger/internal/platform/cmd"
	"github.com/louisbranch/tenantledger/internal/platform/logging"
	"github.com/louisbranch/tenantledger/internal/platform/timeouts"
	"github.com/louisbranch/tenantledger/internal/services/tenancy/app"
	"github.com/louisbranch/tenantledger/internal/services/tenancy/storage/integrity"
	neo4jstore "github.com/louisbranch/tenantledger/internal/services/tenancy/storage/neo4j"
	"github.com/louisbranch/tenantledger/internal/services/tenancy/transport"
)

// Config holds tenancy command configuration.
type Config struct {
	EventsDBPath string `env:"TENANCY_EVENTS_DB_PATH" envDefault:"data/tenancy-events.db"`
	SignEvents   bool   `env:"TENANCY_SIGN_EVENTS"`

	ViewsBackend string `env:"TENANCY_VIEWS_BACKEND" envDefault:"sqlite" validate:"oneof=memory sqlite neo4j"`
	ViewsDBPath  string `env:"TENANCY_VIEWS_DB_PATH" envDefault:"data/tenancy-views.db" validate:"required_if=ViewsBackend sqlite"`

	Neo4jURI      string `env:"TENANCY_NEO4J_URI" validate:"required_if=ViewsBackend neo4j"`
	Neo4jUser     string `env:"TENANCY_NEO4J_USER" envDefault:"neo4j"`
	Neo4jPassword string `env:"TENANCY_NEO4J_PASSWORD"`
	Neo4jDatabase string `env:"TENANCY_NEO4J_DATABASE"`

	SnapshotBackend   string `env:"TENANCY_SNAPSHOT_BACKEND" envDefault:"sqlite" validate:"oneof=none memory sqlite badger"`
	BadgerPath        string `env:"TENANCY_BADGER_PATH" envDefault:"data/tenancy-snapshots"`
	SnapshotThreshold int    `env:"TENANCY_SNAPSHOT_THRESHOLD" envDefault:"1" validate:"gte=0"`
	SchemaVersion     string `env:"TENANCY_SCHEMA_VERSION" envDefault:"1" validate:"required"`

	Bus          string `env:"TENANCY_BUS" envDefault:"memory" validate:"oneof=memory redis"`
	RedisAddr    string `env:"TENANCY_REDIS_ADDR" envDefault:"localhost:6379" validate:"required_if=Bus redis"`
	RedisChannel string `env:"TENANCY_REDIS_CHANNEL" envDefault:"tenancy.events"`

	Workers      int           `env:"TENANCY_PROJECTION_WORKERS" envDefault:"4" validate:"gte=0"`
	StoreTimeout time.Duration `env:"TENANCY_STORE_TIMEOUT" envDefault:"5s"`
	LogMode      string        `env:"TENANCY_LOG_MODE" envDefault:"development" validate:"oneof=development dev production prod"`
	MetricsAddr  string        `env:"TENANCY_METRICS_ADDR"`

	// Catchup rebuilds the data views from the stored streams before
	// subscribing.
	Catchup bool
}

// ParseConfig parses environment and flags into a Config.
func ParseConfig(fs *flag.FlagSet, args []string) (Config, error) {
	var cfg Config
	if err := entrypoint.Load(&cfg, fs, args, bindFlags); err != nil {
		return Config{}, err
	}
	if cfg.SnapshotBackend == app.BackendSQLite && cfg.EventsDBPath == "" {
		return Config{}, fmt.Errorf("sqlite snapshots require -events-db")
	}
	return cfg, nil
}

func bindFlags(fs *flag.FlagSet, cfg *Config) {
	fs.StringVar(&cfg.EventsDBPath, "events-db", cfg.EventsDBPath, "SQLite event stream database path (empty keeps streams in memory)")
	fs.StringVar(&cfg.ViewsBackend, "views", cfg.ViewsBackend, "Data view backend: memory, sqlite, or neo4j")
	fs.StringVar(&cfg.ViewsDBPath, "views-db", cfg.ViewsDBPath, "SQLite data view database path")
	fs.StringVar(&cfg.SnapshotBackend, "snapshots", cfg.SnapshotBackend, "Snapshot backend: none, memory, sqlite, or badger")
	fs.StringVar(&cfg.Bus, "bus", cfg.Bus, "Event bus: memory or redis")
	fs.IntVar(&cfg.Workers, "workers", cfg.Workers, "Projection worker pool size (0 is synchronous)")
	fs.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "Prometheus listen address (empty disables)")
	fs.BoolVar(&cfg.Catchup, "catchup", false, "Rebuild data views from stored streams before subscribing")
}

// RuntimeConfig maps cfg onto the runtime wiring.
func (cfg Config) RuntimeConfig(logger *logging.Logger) (app.RuntimeConfig, error) {
	var keyring *integrity.Keyring
	if cfg.SignEvents {
		ring, err := integrity.KeyringFromEnv()
		if err != nil {
			return app.RuntimeConfig{}, fmt.Errorf("load event keyring: %w", err)
		}
		keyring = ring
	}
	return app.RuntimeConfig{
		EventsDBPath: cfg.EventsDBPath,
		ViewsBackend: cfg.ViewsBackend,
		ViewsDBPath:  cfg.ViewsDBPath,
		Neo4j: neo4jstore.Config{
			URI:      cfg.Neo4jURI,
			User:     cfg.Neo4jUser,
			Password: cfg.Neo4jPassword,
			Database: cfg.Neo4jDatabase,
		},
		SnapshotBackend:   cfg.SnapshotBackend,
		BadgerPath:        cfg.BadgerPath,
		SnapshotThreshold: cfg.SnapshotThreshold,
		SchemaVersion:     cfg.SchemaVersion,
		Bus:               cfg.Bus,
		Redis:             transport.RedisConfig{Addr: cfg.RedisAddr, Channel: cfg.RedisChannel},
		Workers:           cfg.Workers,
		StoreTimeout:      cfg.StoreTimeout,
		Keyring:           keyring,
		Logger:            logger,
	}, nil
}

// Run starts the tenancy projection runtime and blocks until ctx is done.
func Run(ctx context.Context, cfg Config) error {
	return entrypoint.RunWithTelemetry(ctx, entrypoint.ServiceTenancy, func(ctx context.Context) error {
		logger, err := logging.New(cfg.LogMode)
		if err != nil {
			return err
		}
		defer logger.Sync()

		runtimeCfg, err := cfg.RuntimeConfig(logger)
		if err != nil {
			return err
		}
		rt, err := app.Open(ctx, runtimeCfg)
		if err != nil {
			return err
		}
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), timeouts.Shutdown)
			defer cancel()
			if err := rt.Close(closeCtx); err != nil {
				logger.Warn("close tenancy runtime", "error", err)
			}
		}()

		metrics, err := app.ServeMetrics(cfg.MetricsAddr, logger)
		if err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), timeouts.Shutdown)
			defer cancel()
			if err := metrics.Shutdown(shutdownCtx); err != nil {
				logger.Warn("shutdown metrics", "error", err)
			}
		}()

		if cfg.Catchup {
			report, err := rt.Catchup(ctx)
			if err != nil {
				logger.Warn("catch-up finished with errors", "error", err)
			}
			logger.Info("catch-up report", "streams", report.Streams, "deleted", report.Deleted)
		}
		if err := rt.Start(ctx); err != nil {
			return err
		}
		logger.Info("tenancy projection running", "views", cfg.ViewsBackend, "bus", cfg.Bus)
		<-ctx.Done()
		return nil
	})
}
