package eventstore

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/louisbranch/tenantledger/internal/services/tenancy/storage"
)

var (
	appendsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tenancy_eventstore_appends_total",
		Help: "Stream appends by result",
	}, []string{"result"})

	snapshotsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "tenancy_eventstore_snapshots_total",
		Help: "Snapshot writes and reads by result",
	}, []string{"result"})

	publishFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tenancy_eventstore_publish_failures_total",
		Help: "Stored events that could not be published",
	})
)

func resultLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, storage.ErrVersionConflict):
		return "conflict"
	case errors.Is(err, storage.ErrStoreUnavailable):
		return "unavailable"
	default:
		return "error"
	}
}
