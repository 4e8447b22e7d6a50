package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	framesIngested = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "protoscope",
			Subsystem: "analyzer",
			Name:      "frames_total",
			Help:      "Frames ingested, by direction.",
		},
		[]string{"direction"},
	)
	framesUndecodable = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "protoscope",
			Subsystem: "analyzer",
			Name:      "frames_undecodable_total",
			Help:      "Frames that failed to decode.",
		},
	)
	observations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "protoscope",
			Subsystem: "catalog",
			Name:      "observations_total",
			Help:      "Catalog observations, by resulting delta.",
		},
		[]string{"delta"},
	)
	probesSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "protoscope",
			Subsystem: "fuzzer",
			Name:      "probes_total",
			Help:      "Fuzz probes dispatched, by mode and outcome.",
		},
		[]string{"mode", "outcome"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(framesIngested, framesUndecodable, observations, probesSent)
	})
}

func RecordFrame(direction string) {
	RegisterMetrics()
	framesIngested.WithLabelValues(direction).Inc()
}

func RecordUndecodable() {
	RegisterMetrics()
	framesUndecodable.Inc()
}

func RecordObservation(delta string) {
	RegisterMetrics()
	observations.WithLabelValues(delta).Inc()
}

func RecordProbe(mode, outcome string) {
	RegisterMetrics()
	probesSent.WithLabelValues(mode, outcome).Inc()
}
