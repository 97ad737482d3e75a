package application

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	readingsAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fieldbus_readings_accepted_total",
		Help: "Readings and status entries that made it into a telemetry batch.",
	})

	readingsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fieldbus_readings_dropped_total",
		Help: "Readings and status entries dropped, by reason.",
	}, []string{"reason"})
)
