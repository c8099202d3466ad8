package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Ingest and output metrics, exposed by the web server at /metrics.
var (
	framesIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "positioning",
		Name:      "frames_ingested_total",
		Help:      "Sensor frames ingested, by transport and frame type.",
	}, []string{"transport", "type"})

	framesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "positioning",
		Name:      "frames_dropped_total",
		Help:      "Frames discarded before reaching the pipeline.",
	}, []string{"transport", "reason"})

	fixesProduced = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "positioning",
		Name:      "fixes_produced_total",
		Help:      "Valid fused position estimates produced.",
	})

	currentAccuracy = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "positioning",
		Name:      "current_accuracy_meters",
		Help:      "Accuracy radius of the latest valid fused estimate.",
	})
)
