package neo4j

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/louisbranch/tenantledger/internal/platform/logging"
	"github.com/louisbranch/tenantledger/internal/platform/timeouts"
	"github.com/louisbranch/tenantledger/internal/services/tenancy/storage"
)

// Config holds the driver settings.
type Config struct {
	URI            string
	User           string
	Password       string
	Database       string
	MaxPoolSize    int
	ConnectTimeout time.Duration
}

// Views implements storage.DataViewStore and storage.HistoryReader on Neo4j.
type Views struct {
	driver   neo4j.DriverWithContext
	database string
	log      *logging.Logger
}

// Open connects to Neo4j, verifies connectivity, and creates the view
// constraints when they are missing.
func Open(ctx context.Context, cfg Config, log *logging.Logger) (*Views, error) {
	if strings.TrimSpace(cfg.URI) == "" {
		return nil, fmt.Errorf("neo4j uri is required")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	user := strings.TrimSpace(cfg.User)
	if user == "" {
		user = "neo4j"
	}
	timeout := cfg.ConnectTimeout
	if timeout <= 0 {
		timeout = timeouts.Neo4jConnect
	}
	maxPool := cfg.MaxPoolSize
	if maxPool <= 0 {
		maxPool = 50
	}

	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(user, cfg.Password, ""), func(c *neo4j.Config) {
		c.MaxConnectionPoolSize = maxPool
		c.SocketConnectTimeout = timeout
	})
	if err != nil {
		return nil, fmt.Errorf("init neo4j driver: %w", err)
	}

	verifyCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := driver.VerifyConnectivity(verifyCtx); err != nil {
		_ = driver.Close(ctx)
		return nil, storage.Unavailable("verify neo4j connectivity", err)
	}

	v := &Views{driver: driver, database: cfg.Database, log: logging.OrNop(log).With("store", "neo4j")}
	v.ensureSchema(ctx)
	return v, nil
}

var schemaStatements = []string{
	`CREATE CONSTRAINT data_view_key IF NOT EXISTS FOR (n:DataView) REQUIRE (n.node_type, n.origin_id) IS UNIQUE`,
	`CREATE CONSTRAINT data_view_version_key IF NOT EXISTS FOR (v:DataViewVersion) REQUIRE (v.node_type, v.origin_id, v.commit_version) IS UNIQUE`,
	`CREATE CONSTRAINT data_view_label_lock IF NOT EXISTS FOR (l:DataViewLabel) REQUIRE (l.node_type, l.label) IS UNIQUE`,
	`CREATE INDEX data_view_label IF NOT EXISTS FOR (n:DataView) ON (n.node_type, n.label)`,
}

// ensureSchema is best effort; a failure only loses the uniqueness backstop.
func (v *Views) ensureSchema(ctx context.Context) {
	session := v.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)
	for _, stmt := range schemaStatements {
		res, err := session.Run(ctx, stmt, nil)
		if err == nil {
			_, err = res.Consume(ctx)
		}
		if err != nil {
			v.log.Warn("neo4j schema init failed (continuing)", "error", err)
		}
	}
}

func (v *Views) session(ctx context.Context, mode neo4j.AccessMode) neo4j.SessionWithContext {
	return v.driver.NewSession(ctx, neo4j.SessionConfig{AccessMode: mode, DatabaseName: v.database})
}

// Close closes the driver. It is nil-safe.
func (v *Views) Close(ctx context.Context) error {
	if v == nil || v.driver == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	err := v.driver.Close(ctx)
	v.driver = nil
	return err
}

const constraintViolation = "Neo.ClientError.Schema.ConstraintValidationFailed"

func isConstraintError(err error) bool {
	var neoErr *neo4j.Neo4jError
	return errors.As(err, &neoErr) && neoErr.Code == constraintViolation
}

// classify maps driver failures onto storage errors.
func classify(operation string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) || neo4j.IsRetryable(err) {
		return storage.Unavailable(operation, err)
	}
	return fmt.Errorf("%s: %w", operation, err)
}
