// Package timeouts defines shared timeout constants used across services.
package timeouts

import "time"

// StoreOperation caps a single append or load against the event store when
// no explicit timeout is configured.
const StoreOperation = 5 * time.Second

// ProjectionEvent caps the handling of one event by the projection
// synchronizer, including its data view transaction.
const ProjectionEvent = 10 * time.Second

// ReadHeader limits how long the metrics HTTP server waits for request headers.
const ReadHeader = 5 * time.Second

// Shutdown limits how long the process waits for in-flight work during
// graceful shutdown.
const Shutdown = 5 * time.Second

// Neo4jConnect caps connectivity verification against the graph database.
const Neo4jConnect = 10 * time.Second

// RedisDial caps the initial dial to the Redis pub/sub server.
const RedisDial = 2 * time.Second
