package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/louisbranch/tenantledger/internal/platform/logging"
	"github.com/louisbranch/tenantledger/internal/platform/timeouts"
)

// MetricsServer exposes the default Prometheus registry on /metrics.
type MetricsServer struct {
	server   *http.Server
	listener net.Listener
	done     chan error
	log      *logging.Logger
}

// ServeMetrics listens on addr and serves in the background. An empty addr
// returns a nil server, which is safe to Shutdown.
func ServeMetrics(addr string, log *logging.Logger) (*MetricsServer, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, nil
	}
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen metrics on %s: %w", addr, err)
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	m := &MetricsServer{
		server:   &http.Server{Handler: mux, ReadHeaderTimeout: timeouts.ReadHeader},
		listener: listener,
		done:     make(chan error, 1),
		log:      logging.OrNop(log).With("component", "metrics"),
	}
	go func() {
		err := m.server.Serve(listener)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		m.done <- err
	}()
	m.log.Info("metrics listening", "addr", listener.Addr().String())
	return m, nil
}

// Addr returns the bound address.
func (m *MetricsServer) Addr() string {
	if m == nil {
		return ""
	}
	return m.listener.Addr().String()
}

// Shutdown stops the server and waits for Serve to return.
func (m *MetricsServer) Shutdown(ctx context.Context) error {
	if m == nil {
		return nil
	}
	if err := m.server.Shutdown(ctx); err != nil {
		return err
	}
	return <-m.done
}
