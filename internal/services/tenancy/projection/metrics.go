package projection

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var eventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "tenancy_projection_events_total",
	Help: "Events handled by the projection synchronizer by kind and outcome",
}, []string{"kind", "outcome"})
